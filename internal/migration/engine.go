package migration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/backup"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// State is the lifecycle state of an Engine.
type State string

const (
	StateIdle                 State = "idle"
	StateAnalyzing            State = "analyzing"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateMigrating            State = "migrating"
	StateCompleted            State = "completed"
	StateCompletedWithErrors  State = "completed_with_errors"
	StateAborted              State = "aborted"
)

// Destination is the canonical license system.
type Destination interface {
	List(ctx context.Context) ([]model.CanonicalLicense, error)
	Create(ctx context.Context, draft model.LicenseDraft) (*model.CanonicalLicense, error)
	Update(ctx context.Context, id string, draft model.LicenseDraft) (*model.CanonicalLicense, error)
}

// Backup stores a snapshot of destination records.
type Backup interface {
	Save(ctx context.Context, records []model.CanonicalLicense, at time.Time) (backup.Artifact, error)
}

// Conflict is a source code that already exists in the destination.
type Conflict struct {
	Code          string
	SourceDocID   string
	DestinationID string
}

func (c Conflict) String() string {
	return "duplicate code: " + c.Code
}

// Analysis compares the legacy collection with the destination.
type Analysis struct {
	SourceCount        int
	SourceRecords      []model.LegacyLicense
	DestinationCount   int
	DestinationRecords []model.CanonicalLicense
	Conflicts          []Conflict
}

// ConflictCodes returns the conflicting codes in source order.
func (a *Analysis) ConflictCodes() []string {
	codes := make([]string, 0, len(a.Conflicts))
	for _, c := range a.Conflicts {
		codes = append(codes, c.Code)
	}
	return codes
}

// Options control a migration run.
type Options struct {
	// Overwrite updates destination records whose code already exists
	// instead of aborting.
	Overwrite bool

	// CreateBackup snapshots the destination before the first write.
	CreateBackup bool

	// Validate skips (and reports) records with a missing code or
	// description or a non-positive unit count.
	Validate bool
}

// Result is the audit record of a migration run. Errors and Log follow
// source order.
type Result struct {
	Success       bool
	State         State
	MigratedCount int
	Errors        []string
	Log           []string
	Backup        *backup.Artifact
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r *Result) logf(format string, args ...any) {
	r.Log = append(r.Log, fmt.Sprintf(format, args...))
}

func (r *Result) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Config configures an Engine.
type Config struct {
	// SourcePrefix restricts the legacy collection to keys with this prefix.
	SourcePrefix string

	// Clock replaces time.Now.
	Clock func() time.Time

	Logger *slog.Logger
}

// Engine migrates legacy license records from a local collection into the
// canonical destination. One engine runs one operation at a time.
type Engine struct {
	source store.DocumentStore
	dest   Destination
	backup Backup
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	state    State
	busy     bool
	last     *Result
	lastTick time.Time
}

// NewEngine creates an Engine. backup may be nil when backups are never
// requested.
func NewEngine(source store.DocumentStore, dest Destination, bk Backup, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Engine{
		source: source,
		dest:   dest,
		backup: bk,
		cfg:    cfg,
		logger: cfg.Logger,
		state:  StateIdle,
	}
}

// State returns the current engine state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastResult returns the result of the latest Migrate call, or nil.
func (e *Engine) LastResult() *Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// begin marks the engine busy and moves it to next.
func (e *Engine) begin(op string, next State) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.busy {
		return fmt.Errorf("cannot %s: current state is %s: %w", op, e.state, ErrBusy)
	}
	e.busy = true
	if next != "" {
		e.state = next
	}
	return nil
}

// finish releases the engine in the given state.
func (e *Engine) finish(state State) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.busy = false
	if state != "" {
		e.state = state
	}
}

// tick returns a strictly increasing clock reading at millisecond
// resolution, so synthesized codes never repeat within a process.
func (e *Engine) tick() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.cfg.Clock().Truncate(time.Millisecond)
	if !now.After(e.lastTick) {
		now = e.lastTick.Add(time.Millisecond)
	}
	e.lastTick = now
	return now
}

// Analyze reads both sides and reports conflicting codes. It writes nothing.
func (e *Engine) Analyze(ctx context.Context) (*Analysis, error) {
	if err := e.begin("analyze", StateAnalyzing); err != nil {
		return nil, err
	}

	analysis, err := e.analyze(ctx)
	if err != nil {
		e.finish(StateIdle)
		return nil, err
	}

	e.finish(StateAwaitingConfirmation)
	return analysis, nil
}

func (e *Engine) analyze(ctx context.Context) (*Analysis, error) {
	docs, err := e.source.List(ctx, e.cfg.SourcePrefix)
	if err != nil {
		return nil, &AnalysisError{Stage: "source", Err: err}
	}
	records := make([]model.LegacyLicense, 0, len(docs))
	for _, doc := range docs {
		records = append(records, model.ParseLegacyLicense(doc.ID, doc.Body))
	}

	existing, err := e.dest.List(ctx)
	if err != nil {
		return nil, &AnalysisError{Stage: "destination", Err: err}
	}

	byCode := make(map[string]string, len(existing))
	for _, lic := range existing {
		byCode[lic.Code] = lic.ID
	}

	var conflicts []Conflict
	seen := make(map[string]bool)
	for _, rec := range records {
		if rec.Code == "" || seen[rec.Code] {
			continue
		}
		if id, ok := byCode[rec.Code]; ok {
			seen[rec.Code] = true
			conflicts = append(conflicts, Conflict{
				Code:          rec.Code,
				SourceDocID:   rec.DocID,
				DestinationID: id,
			})
		}
	}

	e.logger.Info("license migration analyzed",
		"source", len(records), "destination", len(existing), "conflicts", len(conflicts))

	return &Analysis{
		SourceCount:        len(records),
		SourceRecords:      records,
		DestinationCount:   len(existing),
		DestinationRecords: existing,
		Conflicts:          conflicts,
	}, nil
}

// Migrate re-analyzes, optionally backs up the destination, and then
// writes every source record in order. Per-record failures are collected
// in the result; only analysis, backup and conflict failures stop the run
// before any write and are returned as errors.
func (e *Engine) Migrate(ctx context.Context, opts Options) (*Result, error) {
	if err := e.begin("migrate", StateMigrating); err != nil {
		return nil, err
	}

	result := &Result{StartedAt: e.cfg.Clock()}
	state, err := e.migrate(ctx, opts, result)
	result.State = state
	result.FinishedAt = e.cfg.Clock()
	result.Success = err == nil && len(result.Errors) == 0

	e.mu.Lock()
	e.last = result
	e.mu.Unlock()
	e.finish(state)

	e.logger.Info("license migration finished",
		"state", state, "migrated", result.MigratedCount, "errors", len(result.Errors))
	return result, err
}

func (e *Engine) migrate(ctx context.Context, opts Options, result *Result) (State, error) {
	analysis, err := e.analyze(ctx)
	if err != nil {
		result.errorf("%v", err)
		return StateAborted, err
	}
	result.logf("analysis: %d source records, %d destination records, %d conflicts",
		analysis.SourceCount, analysis.DestinationCount, len(analysis.Conflicts))

	if analysis.SourceCount == 0 {
		result.logf("no legacy records to migrate")
		return StateCompleted, nil
	}

	if opts.CreateBackup {
		if e.backup == nil {
			err := errors.New("backup requested but no backup archive is configured")
			result.errorf("%v", err)
			return StateAborted, err
		}
		artifact, err := e.backup.Save(ctx, analysis.DestinationRecords, e.cfg.Clock())
		if err != nil {
			err = fmt.Errorf("backing up destination: %w", err)
			result.errorf("%v", err)
			return StateAborted, err
		}
		result.Backup = &artifact
		result.logf("backup of %d destination records written to %s", artifact.Count, artifact.Path)
	}

	if len(analysis.Conflicts) > 0 && !opts.Overwrite {
		err := &ConflictsError{Codes: analysis.ConflictCodes()}
		result.errorf("%v", err)
		return StateAborted, err
	}

	destByCode := make(map[string]string, len(analysis.DestinationRecords))
	for _, lic := range analysis.DestinationRecords {
		destByCode[lic.Code] = lic.ID
	}

	for i, rec := range analysis.SourceRecords {
		if err := ctx.Err(); err != nil {
			result.errorf("migration interrupted before record %d of %d: %v", i+1, analysis.SourceCount, err)
			break
		}
		label := recordLabel(rec)

		if opts.Validate {
			if problems := Validate(rec); len(problems) > 0 {
				result.errorf("%s: invalid record: %s", label, strings.Join(problems, ", "))
				continue
			}
		}

		draft := Convert(rec, e.tick())

		var written *model.CanonicalLicense
		id, exists := destByCode[draft.Code]
		if exists && opts.Overwrite {
			written, err = e.dest.Update(ctx, id, draft)
		} else {
			written, err = e.dest.Create(ctx, draft)
		}
		if err != nil {
			result.errorf("%s: %v", label, err)
			e.logger.Warn("license migration write failed", "doc", rec.DocID, "code", draft.Code, "error", err)
			continue
		}

		result.MigratedCount++
		if exists && opts.Overwrite {
			result.logf("%s: updated existing license %s", label, draft.Code)
		} else {
			result.logf("%s: created license %s", label, draft.Code)
		}
		if written != nil && written.ID != "" {
			destByCode[draft.Code] = written.ID
		}
	}

	if len(result.Errors) > 0 {
		return StateCompletedWithErrors, nil
	}
	return StateCompleted, nil
}

// CleanupSource soft-deletes every legacy record and returns how many
// were removed. Running it after a failed migration is the caller's
// decision; the engine only warns.
func (e *Engine) CleanupSource(ctx context.Context) (int, error) {
	if err := e.begin("clean up source", ""); err != nil {
		return 0, err
	}
	defer e.finish("")

	if last := e.LastResult(); last != nil && !last.Success {
		e.logger.Warn("cleaning up legacy licenses after a migration with errors",
			"errors", len(last.Errors))
	}

	docs, err := e.source.List(ctx, e.cfg.SourcePrefix)
	if err != nil {
		return 0, fmt.Errorf("listing legacy licenses: %w", err)
	}
	if len(docs) == 0 {
		return 0, nil
	}

	tombstones := make([]store.Document, 0, len(docs))
	for _, doc := range docs {
		tombstones = append(tombstones, store.Document{ID: doc.ID, Rev: doc.Rev, Deleted: true})
	}

	results, err := e.source.BulkWrite(ctx, tombstones)
	if err != nil {
		return 0, fmt.Errorf("deleting legacy licenses: %w", err)
	}

	removed := 0
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = append(errs, fmt.Errorf("deleting %s: %w", r.ID, r.Err))
			continue
		}
		removed++
	}

	e.logger.Info("legacy licenses cleaned up", "removed", removed, "failed", len(errs))
	return removed, errors.Join(errs...)
}

func recordLabel(rec model.LegacyLicense) string {
	if rec.Code != "" {
		return fmt.Sprintf("record %s (%s)", rec.DocID, rec.Code)
	}
	return "record " + rec.DocID
}
