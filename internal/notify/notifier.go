package notify

import (
	"log/slog"
	"sync"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// Kind classifies a change event.
type Kind string

const (
	KindAdded   Kind = "added"
	KindUpdated Kind = "updated"
	KindRemoved Kind = "removed"
)

// Event describes one document change.
type Event struct {
	Collection string
	ID         string
	Rev        string
	Seq        int64
	Kind       Kind
	Origin     store.Origin
}

// Handler receives events. Handlers may run concurrently with foreground
// calls and with each other across collections.
type Handler func(Event)

// Source is a collection with a change feed.
type Source interface {
	Name() string
	Subscribe(since int64, onChange func(store.Change)) (cancel func())
}

type subscriber struct {
	collections map[string]bool
	handle      Handler
}

func (s subscriber) wants(collection string) bool {
	return len(s.collections) == 0 || s.collections[collection]
}

// Notifier fans store changes out to subscribed handlers.
type Notifier struct {
	sources []Source
	logger  *slog.Logger

	mu      sync.RWMutex
	nextID  uint64
	subs    map[uint64]subscriber
	cancels []func()
}

// New creates a Notifier over sources. It does not watch anything until Start.
func New(logger *slog.Logger, sources ...Source) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		sources: sources,
		logger:  logger,
		subs:    make(map[uint64]subscriber),
	}
}

// Subscribe registers h for changes in the given collections, or in every
// collection when none are named. The returned function unsubscribes and
// does not wait for a delivery already running h; that call completes, but no
// later delivery starts. It is safe to call from inside h.
func (n *Notifier) Subscribe(h Handler, collections ...string) (unsubscribe func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++

	filter := make(map[string]bool, len(collections))
	for _, c := range collections {
		filter[c] = true
	}
	n.subs[id] = subscriber{collections: filter, handle: h}

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Start begins watching every source for changes committed from now on.
// Calling Start twice is a no-op.
func (n *Notifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.cancels != nil {
		return
	}
	n.cancels = make([]func(), 0, len(n.sources))
	for _, src := range n.sources {
		n.cancels = append(n.cancels, src.Subscribe(-1, n.dispatch))
	}
	n.logger.Debug("change notifier started", "sources", len(n.sources))
}

// Stop releases every feed watch. It must not be called from a handler.
func (n *Notifier) Stop() {
	n.mu.Lock()
	cancels := n.cancels
	n.cancels = nil
	n.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// dispatch delivers one change to a snapshot of the subscribers. The lock
// is never held while a handler runs.
func (n *Notifier) dispatch(c store.Change) {
	ev := Event{
		Collection: c.Collection,
		ID:         c.ID,
		Rev:        c.Rev,
		Seq:        c.Seq,
		Kind:       kindOf(c),
		Origin:     c.Origin,
	}

	n.mu.RLock()
	ids := make([]uint64, 0, len(n.subs))
	for id, s := range n.subs {
		if s.wants(ev.Collection) {
			ids = append(ids, id)
		}
	}
	n.mu.RUnlock()

	for _, id := range ids {
		n.mu.RLock()
		s, ok := n.subs[id]
		n.mu.RUnlock()
		if !ok {
			continue
		}
		n.call(s.handle, ev)
	}
}

func (n *Notifier) call(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("change handler panicked", "collection", ev.Collection, "id", ev.ID, "panic", r)
		}
	}()
	h(ev)
}

func kindOf(c store.Change) Kind {
	switch {
	case c.Deleted:
		return KindRemoved
	case c.Added():
		return KindAdded
	default:
		return KindUpdated
	}
}
