package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	gosync "sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/remote"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// SyncState represents the current state of a collection's replication.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncRunning
	SyncError
)

func (s SyncState) String() string {
	switch s {
	case SyncRunning:
		return "running"
	case SyncError:
		return "error"
	default:
		return "idle"
	}
}

// SyncStatus holds the replication state for a single collection.
type SyncStatus struct {
	Collection string
	Database   string
	State      SyncState
	LastSync   time.Time
	Pushed     int
	Pulled     int
	Error      error
}

// Replica is the remote side of replication.
type Replica interface {
	EnsureDatabase(ctx context.Context, db string) error
	PushDocs(ctx context.Context, db string, docs []store.Document) error
	Changes(ctx context.Context, db, since string, limit int) (remote.ChangesPage, error)
}

// Checkpoints persists replication progress.
type Checkpoints interface {
	Checkpoint(ctx context.Context, collection, target string, dir store.Direction) (string, error)
	SetCheckpoint(ctx context.Context, collection, target string, dir store.Direction, value string) error
}

// Collection is a local collection that can take replicated writes.
type Collection interface {
	store.DocumentStore
	Lookup(ctx context.Context, id string) (*store.Document, error)
	PutReplicated(ctx context.Context, doc store.Document) (bool, error)
}

// Config tunes a Replicator.
type Config struct {
	// Target names the remote in checkpoints, usually its URL.
	Target string

	Interval   time.Duration
	MinBackoff time.Duration
	MaxBackoff time.Duration
	BatchSize  int

	// OnCycle, if set, receives the status after every cycle.
	OnCycle func(SyncStatus)

	Logger *slog.Logger
}

// cycleTimeout is the maximum time allowed for a single replication cycle.
const cycleTimeout = 2 * time.Minute

// entry holds a registered collection and its remote database.
type entry struct {
	col     Collection
	db      string
	trigger chan struct{}

	// cycleMu serialises the background loop and SyncNow.
	cycleMu gosync.Mutex
	ensured bool
}

// Replicator mirrors local collections to a remote replica in both
// directions. Constructing it performs no network activity; replication
// runs between Start and Stop.
type Replicator struct {
	replica     Replica
	checkpoints Checkpoints
	cfg         Config
	logger      *slog.Logger

	mu       gosync.Mutex
	entries  []*entry
	statuses map[string]*SyncStatus
	running  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	unsubs   []func()
}

// New creates a Replicator. Zero config values fall back to defaults.
func New(replica Replica, checkpoints Checkpoints, cfg Config) *Replicator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = 5 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Replicator{
		replica:     replica,
		checkpoints: checkpoints,
		cfg:         cfg,
		logger:      cfg.Logger,
		statuses:    make(map[string]*SyncStatus),
	}
}

// Register adds a collection mirrored to the remote database db.
// Collections must be registered before Start.
func (r *Replicator) Register(col Collection, db string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("registering %s: replicator already running", col.Name())
	}
	if _, ok := r.statuses[col.Name()]; ok {
		return fmt.Errorf("registering %s: already registered", col.Name())
	}

	r.entries = append(r.entries, &entry{
		col:     col,
		db:      db,
		trigger: make(chan struct{}, 1),
	})
	r.statuses[col.Name()] = &SyncStatus{
		Collection: col.Name(),
		Database:   db,
		State:      SyncIdle,
	}
	return nil
}

// Start launches one replication goroutine per registered collection.
// Calling Start on a running replicator is a no-op.
func (r *Replicator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	r.cancel = cancel
	r.group = g

	for _, e := range r.entries {
		// Local writes wake the loop; replicated writes must not echo back.
		r.unsubs = append(r.unsubs, e.col.Subscribe(-1, func(c store.Change) {
			if c.Origin != store.OriginLocal {
				return
			}
			select {
			case e.trigger <- struct{}{}:
			default:
			}
		}))

		g.Go(func() error {
			r.run(gctx, e)
			return nil
		})
	}

	r.logger.Info("replication started", "collections", len(r.entries), "target", r.cfg.Target)
}

// Stop halts all replication goroutines and waits for them to exit.
func (r *Replicator) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	unsubs := r.unsubs
	r.unsubs = nil
	cancel, group := r.cancel, r.group
	r.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	cancel()
	_ = group.Wait()

	r.logger.Info("replication stopped")
}

// SyncNow runs one replication cycle for the named collection and returns
// its error. It works whether or not the replicator is running.
func (r *Replicator) SyncNow(ctx context.Context, collection string) error {
	r.mu.Lock()
	var target *entry
	for _, e := range r.entries {
		if e.col.Name() == collection {
			target = e
			break
		}
	}
	r.mu.Unlock()

	if target == nil {
		return fmt.Errorf("collection %q is not registered for replication", collection)
	}
	return r.cycle(ctx, target)
}

// Statuses returns the current status of all registered collections,
// ordered by collection name.
func (r *Replicator) Statuses() []SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	statuses := make([]SyncStatus, 0, len(r.statuses))
	for _, s := range r.statuses {
		statuses = append(statuses, *s)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Collection < statuses[j].Collection
	})
	return statuses
}

// run is the replication loop for one collection: an immediate cycle, then
// a cycle per interval or local write. Failed cycles back off
// exponentially and ignore write triggers until the retry is due.
func (r *Replicator) run(ctx context.Context, e *entry) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.cfg.MinBackoff
	bo.MaxInterval = r.cfg.MaxBackoff
	bo.MaxElapsedTime = 0
	bo.Reset()

	timer := time.NewTimer(0)
	defer timer.Stop()
	failing := false

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		case <-e.trigger:
			if failing {
				continue
			}
		}

		err := r.cycle(ctx, e)
		if ctx.Err() != nil {
			return
		}

		wait := r.cfg.Interval
		if err != nil {
			failing = true
			wait = bo.NextBackOff()
			r.logger.Warn("replication cycle failed",
				"collection", e.col.Name(), "retry_in", wait, "error", err)
		} else {
			failing = false
			bo.Reset()
		}
		timer.Reset(wait)
	}
}

// cycle pushes pending local changes then pulls remote changes.
func (r *Replicator) cycle(ctx context.Context, e *entry) error {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, cycleTimeout)
	defer cancel()

	name := e.col.Name()
	r.setStatus(name, SyncRunning, 0, 0, nil)

	pushed, pulled, err := r.replicate(ctx, e)
	if err != nil {
		r.setStatus(name, SyncError, pushed, pulled, err)
	} else {
		r.setStatus(name, SyncIdle, pushed, pulled, nil)
		if pushed+pulled > 0 {
			r.logger.Debug("replication cycle", "collection", name, "pushed", pushed, "pulled", pulled)
		}
	}

	if r.cfg.OnCycle != nil {
		r.mu.Lock()
		status := *r.statuses[name]
		r.mu.Unlock()
		r.cfg.OnCycle(status)
	}
	return err
}

func (r *Replicator) replicate(ctx context.Context, e *entry) (pushed, pulled int, err error) {
	if !e.ensured {
		if err := r.replica.EnsureDatabase(ctx, e.db); err != nil {
			return 0, 0, err
		}
		e.ensured = true
	}

	pushed, err = r.push(ctx, e)
	if err != nil {
		return pushed, 0, fmt.Errorf("pushing %s: %w", e.col.Name(), err)
	}
	pulled, err = r.pull(ctx, e)
	if err != nil {
		return pushed, pulled, fmt.Errorf("pulling %s: %w", e.col.Name(), err)
	}
	return pushed, pulled, nil
}

// push sends the current revision of every locally changed document since
// the push checkpoint. Documents rewritten since are sent once, at their
// latest revision.
func (r *Replicator) push(ctx context.Context, e *entry) (int, error) {
	name := e.col.Name()

	raw, err := r.checkpoints.Checkpoint(ctx, name, r.cfg.Target, store.DirectionPush)
	if err != nil {
		return 0, err
	}
	since, _ := strconv.ParseInt(raw, 10, 64)

	pushed := 0
	for {
		changes, err := e.col.Changes(ctx, since, r.cfg.BatchSize)
		if err != nil {
			return pushed, err
		}
		if len(changes) == 0 {
			return pushed, nil
		}

		seen := make(map[string]bool, len(changes))
		docs := make([]store.Document, 0, len(changes))
		for _, c := range changes {
			if c.Origin != store.OriginLocal || seen[c.ID] {
				continue
			}
			seen[c.ID] = true

			doc, err := e.col.Lookup(ctx, c.ID)
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			if err != nil {
				return pushed, err
			}
			docs = append(docs, *doc)
		}

		if len(docs) > 0 {
			if err := r.replica.PushDocs(ctx, e.db, docs); err != nil {
				return pushed, err
			}
			pushed += len(docs)
		}

		since = changes[len(changes)-1].Seq
		if err := r.checkpoints.SetCheckpoint(ctx, name, r.cfg.Target, store.DirectionPush, strconv.FormatInt(since, 10)); err != nil {
			return pushed, err
		}
		if len(changes) < r.cfg.BatchSize {
			return pushed, nil
		}
	}
}

// pull applies remote changes since the pull checkpoint. Losing revisions
// are dropped by the store's winner rule.
func (r *Replicator) pull(ctx context.Context, e *entry) (int, error) {
	name := e.col.Name()

	since, err := r.checkpoints.Checkpoint(ctx, name, r.cfg.Target, store.DirectionPull)
	if err != nil {
		return 0, err
	}

	pulled := 0
	for {
		page, err := r.replica.Changes(ctx, e.db, since, r.cfg.BatchSize)
		if err != nil {
			return pulled, err
		}

		for _, doc := range page.Docs {
			applied, err := e.col.PutReplicated(ctx, doc)
			if err != nil {
				return pulled, err
			}
			if applied {
				pulled++
			}
		}

		if page.LastSeq == "" || page.LastSeq == since {
			return pulled, nil
		}
		since = page.LastSeq
		if err := r.checkpoints.SetCheckpoint(ctx, name, r.cfg.Target, store.DirectionPull, since); err != nil {
			return pulled, err
		}
		if len(page.Docs) < r.cfg.BatchSize {
			return pulled, nil
		}
	}
}

// setStatus updates the sync status for a collection.
func (r *Replicator) setStatus(name string, state SyncState, pushed, pulled int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status, ok := r.statuses[name]
	if !ok {
		return
	}

	status.State = state
	status.Error = err
	status.Pushed = pushed
	status.Pulled = pulled
	if state == SyncIdle && err == nil {
		status.LastSync = time.Now()
	}
}
