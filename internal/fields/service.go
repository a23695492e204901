package fields

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/patrickmn/go-cache"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

const indexCacheKey = "lot-index"

// Service builds field indexes from the fields collection and caches the
// latest snapshot.
type Service struct {
	col    store.DocumentStore
	cache  *cache.Cache
	logger *slog.Logger

	// mu orders cache stores against Invalidate. generation counts
	// invalidations so a build that started before one is never cached.
	mu         sync.Mutex
	generation uint64
}

// NewService creates a Service over col. Cached snapshots expire after ttl;
// a non-positive ttl keeps them until Invalidate.
func NewService(col store.DocumentStore, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	return &Service{
		col:    col,
		cache:  cache.New(ttl, 0),
		logger: logger,
	}
}

// BuildIndex reads every field document and returns a fresh index. The
// index becomes the cached snapshot unless Invalidate ran while it was
// being built.
func (s *Service) BuildIndex(ctx context.Context) (*Index, error) {
	s.mu.Lock()
	start := s.generation
	s.mu.Unlock()

	docs, err := s.col.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("building field index: %w", err)
	}
	idx := Build(docs, s.logger)

	s.mu.Lock()
	stale := s.generation != start
	if !stale {
		s.cache.SetDefault(indexCacheKey, idx)
	}
	s.mu.Unlock()

	s.logger.Debug("field index built", "documents", len(docs), "entries", idx.Len(), "cached", !stale)
	return idx, nil
}

// Current returns the cached index, building it when missing or expired.
func (s *Service) Current(ctx context.Context) (*Index, error) {
	if v, ok := s.cache.Get(indexCacheKey); ok {
		return v.(*Index), nil
	}
	return s.BuildIndex(ctx)
}

// Invalidate drops the cached snapshot. Readers holding the previous index
// keep using it; the next Current call rebuilds.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.cache.Delete(indexCacheKey)
}

// ListFields parses every field document into model.Field values.
// Containers yield themselves (when identified) followed by their lots,
// each lot carrying the container name as ParentFieldName.
func (s *Service) ListFields(ctx context.Context) ([]model.Field, error) {
	docs, err := s.col.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("listing fields: %w", err)
	}

	var out []model.Field
	for _, doc := range docs {
		out = append(out, parseFields(doc, s.logger)...)
	}
	return out, nil
}

func parseFields(doc store.Document, logger *slog.Logger) []model.Field {
	body := []byte(doc.Body)
	name := firstString(body, namePaths)
	owner := firstString(body, ownerPaths)

	lotes, dataType, _, err := jsonparser.Get(body, "lotes")
	if err != nil || dataType != jsonparser.Array {
		uuid := firstString(body, idPaths)
		if uuid == "" || name == "" {
			return nil
		}
		return []model.Field{{
			ID:              doc.ID,
			UUID:            uuid,
			Name:            name,
			ParentFieldName: firstString(body, parentPaths),
			OwnerAccountID:  owner,
			SurfaceArea:     firstFloat(body, surfacePaths),
		}}
	}

	var out []model.Field
	if uuid := firstString(body, idPaths); uuid != "" {
		out = append(out, model.Field{
			ID:             doc.ID,
			UUID:           uuid,
			Name:           name,
			OwnerAccountID: owner,
			SurfaceArea:    firstFloat(body, surfacePaths),
		})
	}

	_, err = jsonparser.ArrayEach(lotes, func(lot []byte, dt jsonparser.ValueType, _ int, _ error) {
		if dt != jsonparser.Object {
			return
		}
		uuid := firstString(lot, lotIDPaths)
		if uuid == "" {
			return
		}
		lotName := firstString(lot, lotNamePaths)
		if lotName == "" {
			lotName = name
		}
		lotOwner := firstString(lot, lotOwnerPaths)
		if lotOwner == "" {
			lotOwner = owner
		}
		out = append(out, model.Field{
			ID:              doc.ID + "#" + uuid,
			UUID:            uuid,
			Name:            lotName,
			ParentFieldName: name,
			OwnerAccountID:  lotOwner,
			SurfaceArea:     firstFloat(lot, lotSurfacePath),
		})
	})
	if err != nil {
		logger.Warn("reading lotes array", "doc", doc.ID, "error", err)
	}
	return out
}
