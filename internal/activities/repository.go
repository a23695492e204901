package activities

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/fields"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// maxWriteAttempts bounds read-modify-write retries on revision conflicts.
const maxWriteAttempts = 3

// lotIndexField is the body field ListByLot queries.
const lotIndexField = "lotId"

// FieldIndex supplies the current lot index used for enrichment.
type FieldIndex interface {
	Current(ctx context.Context) (*fields.Index, error)
}

// Repository gives typed access to activity documents.
type Repository struct {
	col    store.DocumentStore
	fields FieldIndex
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock replaces time.Now for timestamps and generated identifiers.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository creates a Repository over col and makes sure the lotId
// index exists.
func NewRepository(ctx context.Context, col store.DocumentStore, idx FieldIndex, logger *slog.Logger, opts ...Option) (*Repository, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Repository{
		col:    col,
		fields: idx,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	if err := col.EnsureIndex(ctx, lotIndexField); err != nil {
		return nil, fmt.Errorf("preparing activity repository: %w", err)
	}
	return r, nil
}

// ListAll returns every valid activity, enriched, in store order.
// Documents without a valid type are skipped.
func (r *Repository) ListAll(ctx context.Context) ([]model.Activity, error) {
	docs, err := r.col.List(ctx, model.ActivityIDPrefix)
	if err != nil {
		return nil, fmt.Errorf("listing activities: %w", err)
	}
	return r.enrich(ctx, r.parseAll(docs)), nil
}

// ListByLot returns the activities recorded against lotID.
func (r *Repository) ListByLot(ctx context.Context, lotID string) ([]model.Activity, error) {
	docs, err := r.col.Find(ctx, store.Selector{
		Prefix: model.ActivityIDPrefix,
		Field:  lotIndexField,
		Value:  lotID,
	})
	if err != nil {
		return nil, fmt.Errorf("listing activities of lot %s: %w", lotID, err)
	}
	return r.enrich(ctx, r.parseAll(docs)), nil
}

// GetByID returns the activity stored under id, or nil when it does not
// exist or cannot be read as an activity.
func (r *Repository) GetByID(ctx context.Context, id string) (*model.Activity, error) {
	doc, err := r.col.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting activity %s: %w", id, err)
	}

	a, err := model.ParseActivity(doc.ID, doc.Rev, doc.Body)
	if err != nil {
		r.logger.Warn("skipping invalid activity", "id", id, "error", err)
		return nil, nil
	}
	enriched := r.enrich(ctx, []model.Activity{a})
	return &enriched[0], nil
}

// Update overlays the non-zero fields of a onto the stored activity,
// stamps updatedAt and writes it back. Keys the model does not know are
// preserved. It retries on revision conflicts and reports false on any
// failure.
func (r *Repository) Update(ctx context.Context, a model.Activity) bool {
	err := r.modify(ctx, a.ID, func(raw map[string]any, _ model.Activity) (bool, error) {
		overlay(raw, a)
		return true, nil
	})
	if err != nil {
		r.logger.Error("updating activity", "id", a.ID, "error", err)
		return false
	}
	return true
}

// Reset moves a completed activity back to pending, clears every
// execution-only detail and removes the derived execution record.
// A pending activity is left untouched. An in-progress activity cannot
// be reset.
func (r *Repository) Reset(ctx context.Context, id string) bool {
	err := r.modify(ctx, id, func(raw map[string]any, current model.Activity) (bool, error) {
		if current.State == model.StatePending {
			return false, nil
		}
		if !model.CanTransition(current.State, model.StatePending) {
			return false, fmt.Errorf("cannot reset activity %s: current state is %s", id, current.State)
		}

		if key := current.ExecutionRecordKey(); key != "" {
			if err := r.removeIfExists(ctx, key); err != nil {
				return false, fmt.Errorf("removing execution record %s: %w", key, err)
			}
		}

		raw["state"] = string(model.StatePending)
		if details, ok := raw["details"].(map[string]any); ok {
			for _, k := range model.ExecutionDetailKeys {
				delete(details, k)
			}
		}
		return true, nil
	})
	if err != nil {
		r.logger.Error("resetting activity", "id", id, "error", err)
		return false
	}
	return true
}

// Delete removes the activity stored under id.
func (r *Repository) Delete(ctx context.Context, id string) bool {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		doc, err := r.col.Get(ctx, id)
		if err != nil {
			r.logger.Error("deleting activity", "id", id, "error", err)
			return false
		}

		err = r.col.Remove(ctx, id, doc.Rev)
		if err == nil {
			return true
		}
		if !store.IsConflict(err) {
			r.logger.Error("deleting activity", "id", id, "error", err)
			return false
		}
		r.logger.Debug("retrying activity delete after conflict", "id", id, "attempt", attempt)
	}

	r.logger.Error("deleting activity", "id", id, "error", "too many conflicts")
	return false
}

// Create stores a new activity. The identifier is derived from the
// creation time and the domain uuid, which is generated when blank.
// It returns the stored form, or nil on failure.
func (r *Repository) Create(ctx context.Context, a model.Activity) *model.Activity {
	typ, ok := model.ParseActivityType(string(a.Type))
	if !ok {
		r.logger.Error("creating activity", "error", fmt.Sprintf("unknown activity type %q", a.Type))
		return nil
	}
	a.Type = typ

	now := r.now().UTC()
	if a.UUID == "" {
		a.UUID = uuid.NewString()
	}
	a.State = model.ParseActivityState(string(a.State))
	a.ID = fmt.Sprintf("%s%d:%s", model.ActivityIDPrefix, now.UnixMilli(), a.UUID)
	a.CreatedAt = now
	a.UpdatedAt = now

	doc, err := store.NewDocument(a.ID, a)
	if err != nil {
		r.logger.Error("creating activity", "error", err)
		return nil
	}
	stored, err := r.col.Put(ctx, doc)
	if err != nil {
		r.logger.Error("creating activity", "id", a.ID, "error", err)
		return nil
	}

	a.Rev = stored.Rev
	enriched := r.enrich(ctx, []model.Activity{a})
	return &enriched[0]
}

// modify runs a read-modify-write cycle against the raw document. change
// returns false to skip the write. Conflicts re-read and retry.
func (r *Repository) modify(ctx context.Context, id string, change func(raw map[string]any, current model.Activity) (bool, error)) error {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		doc, err := r.col.Get(ctx, id)
		if err != nil {
			return err
		}

		current, err := model.ParseActivity(doc.ID, doc.Rev, doc.Body)
		if err != nil {
			return err
		}
		var raw map[string]any
		if err := json.Unmarshal(doc.Body, &raw); err != nil {
			return fmt.Errorf("decoding activity %s: %w", id, err)
		}

		write, err := change(raw, current)
		if err != nil || !write {
			return err
		}
		raw["updatedAt"] = r.now().UTC().Format(time.RFC3339Nano)

		body, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("encoding activity %s: %w", id, err)
		}

		_, err = r.col.Put(ctx, store.Document{ID: id, Rev: doc.Rev, Body: body})
		if err == nil {
			return nil
		}
		if !store.IsConflict(err) {
			return err
		}
		r.logger.Debug("retrying activity write after conflict", "id", id, "attempt", attempt)
	}
	return fmt.Errorf("writing activity %s: %w after %d attempts", id, store.ErrConflict, maxWriteAttempts)
}

// removeIfExists deletes a document, treating absence as success.
func (r *Repository) removeIfExists(ctx context.Context, id string) error {
	doc, err := r.col.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = r.col.Remove(ctx, id, doc.Rev)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	return err
}

func (r *Repository) parseAll(docs []store.Document) []model.Activity {
	out := make([]model.Activity, 0, len(docs))
	for _, doc := range docs {
		a, err := model.ParseActivity(doc.ID, doc.Rev, doc.Body)
		if err != nil {
			r.logger.Warn("skipping invalid activity", "id", doc.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

// enrich recomputes the display caches from the lot index. Stored cache
// values are never trusted. Without an index, unknown lots get placeholders.
func (r *Repository) enrich(ctx context.Context, list []model.Activity) []model.Activity {
	idx := fields.Build(nil, r.logger)
	if r.fields != nil {
		current, err := r.fields.Current(ctx)
		if err != nil {
			r.logger.Warn("field index unavailable, using placeholders", "error", err)
		} else {
			idx = current
		}
	}

	for i := range list {
		ref := idx.Resolve(list[i].LotID)
		list[i].LotName = ref.LotName
		list[i].FieldName = ref.FieldName
	}
	return list
}

// overlay copies the caller-provided (non-zero) fields of a onto raw.
func overlay(raw map[string]any, a model.Activity) {
	setString(raw, "uuid", a.UUID)
	setString(raw, "type", string(a.Type))
	setString(raw, "state", string(a.State))
	setString(raw, "lotId", a.LotID)
	setString(raw, "fieldName", a.FieldName)
	setString(raw, "lotName", a.LotName)
	setString(raw, "comment", a.Comment)

	details, ok := raw["details"].(map[string]any)
	if !ok {
		details = map[string]any{}
	}
	d := a.Details
	setString(details, "cropId", d.CropID)
	setString(details, "tentativeDate", d.TentativeDate)
	setString(details, "executionDate", d.ExecutionDate)
	setString(details, "startTime", d.StartTime)
	setString(details, "endTime", d.EndTime)
	setFloat(details, "yieldObtained", d.YieldObtained)
	setString(details, "deposit", d.Deposit)
	setFloat(details, "surfaceArea", d.SurfaceArea)
	setFloat(details, "dose", d.Dose)
	setString(details, "inputId", d.InputID)
	setString(details, "executionRecordId", d.ExecutionRecordID)
	raw["details"] = details
}

func setString(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func setFloat(m map[string]any, key string, value *float64) {
	if value != nil {
		m[key] = *value
	}
}
