package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// CacheKeyPrefix prefixes the per-day cache documents of license backups.
const CacheKeyPrefix = "backup:licenses:"

// Snapshot is the serialized form of a license backup.
type Snapshot struct {
	CreatedAt time.Time                `json:"createdAt"`
	Count     int                      `json:"count"`
	Records   []model.CanonicalLicense `json:"records"`
}

// Artifact locates a written backup.
type Artifact struct {
	Path     string
	CacheKey string
	Count    int
}

// Archive writes license backups as downloadable files and keeps the
// latest backup of each day in a local collection.
type Archive struct {
	dir    string
	cache  store.DocumentStore
	logger *slog.Logger
}

// NewArchive creates an Archive writing files under dir and cache entries
// into cache. A nil cache disables cache entries.
func NewArchive(dir string, cache store.DocumentStore, logger *slog.Logger) *Archive {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archive{dir: dir, cache: cache, logger: logger}
}

// FileName returns the backup file name for a given time.
func FileName(at time.Time) string {
	return "licenses-backup-" + at.UTC().Format("2006-01-02T15-04-05.000Z") + ".json"
}

// Save serializes records and writes both the file and the cache entry.
// The file is written first; a cache failure is returned after it.
func (a *Archive) Save(ctx context.Context, records []model.CanonicalLicense, at time.Time) (Artifact, error) {
	snapshot := Snapshot{
		CreatedAt: at.UTC(),
		Count:     len(records),
		Records:   records,
	}
	if snapshot.Records == nil {
		snapshot.Records = []model.CanonicalLicense{}
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encoding license backup: %w", err)
	}

	artifact := Artifact{
		Path:     filepath.Join(a.dir, FileName(at)),
		CacheKey: CacheKeyPrefix + at.UTC().Format("2006-01-02"),
		Count:    len(records),
	}
	if err := WriteFile(artifact.Path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("writing license backup: %w", err)
	}
	a.logger.Info("license backup written", "path", artifact.Path, "records", len(records))

	if a.cache == nil {
		artifact.CacheKey = ""
		return artifact, nil
	}
	if err := a.putCache(ctx, artifact.CacheKey, snapshot); err != nil {
		return artifact, fmt.Errorf("caching license backup: %w", err)
	}
	return artifact, nil
}

// Load reads the cached backup for the given day.
func (a *Archive) Load(ctx context.Context, day time.Time) (*Snapshot, error) {
	if a.cache == nil {
		return nil, fmt.Errorf("loading license backup: %w", store.ErrNotFound)
	}
	doc, err := a.cache.Get(ctx, CacheKeyPrefix+day.UTC().Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("loading license backup: %w", err)
	}
	var snapshot Snapshot
	if err := doc.Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// putCache replaces the day's cache entry.
func (a *Archive) putCache(ctx context.Context, key string, snapshot Snapshot) error {
	doc, err := store.NewDocument(key, snapshot)
	if err != nil {
		return err
	}

	current, err := a.cache.Get(ctx, key)
	switch {
	case err == nil:
		doc.Rev = current.Rev
	case !errors.Is(err, store.ErrNotFound):
		return err
	}

	_, err = a.cache.Put(ctx, doc)
	return err
}
