package store

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// feedBatch bounds how many changes a subscription reads per query.
const feedBatch = 100

// startAttempts bounds the retries spent resolving the current last
// sequence for a subscription that starts from now.
const startAttempts = 3

// hub wakes change-feed subscribers after a committed write.
type hub struct {
	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[string]map[chan struct{}]struct{})}
}

func (h *hub) add(collection string) chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan struct{}, 1)
	if h.subs[collection] == nil {
		h.subs[collection] = make(map[chan struct{}]struct{})
	}
	h.subs[collection][ch] = struct{}{}
	return ch
}

func (h *hub) remove(collection string, ch chan struct{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs[collection], ch)
	if len(h.subs[collection]) == 0 {
		delete(h.subs, collection)
	}
}

// notify performs a non-blocking send to every subscriber of collection.
// A pending wake-up already covers the new change.
func (h *hub) notify(collection string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs[collection] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Subscribe delivers every change after since, in sequence order, on a
// dedicated goroutine. A negative since starts after the current last
// sequence, so only changes committed after Subscribe returns are seen.
//
// If the last sequence cannot be read for a negative since, the failure is
// logged and nothing is delivered: the subscription never falls back to
// replaying history.
//
// The returned cancel is idempotent. Once it returns, onChange is never
// called again. It must not be called from inside onChange.
func (c *Collection) Subscribe(since int64, onChange func(Change)) (cancel func()) {
	ctx, stop := context.WithCancel(context.Background())
	wake := c.store.feed.add(c.name)
	done := make(chan struct{})

	cursor := since
	if cursor < 0 {
		seq, err := c.startSeq(ctx)
		if err != nil {
			c.store.logger.Error("change feed start", "collection", c.name, "error", err)
			c.store.feed.remove(c.name, wake)
			stop()
			return func() {}
		}
		cursor = seq
	}

	go func() {
		defer close(done)
		for {
			changes, err := c.Changes(ctx, cursor, feedBatch)
			if err != nil && ctx.Err() == nil {
				c.store.logger.Warn("reading change feed", "collection", c.name, "since", cursor, "error", err)
			}
			for _, ch := range changes {
				if ctx.Err() != nil {
					return
				}
				onChange(ch)
				cursor = ch.Seq
			}
			if err == nil && len(changes) == feedBatch {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-wake:
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.store.feed.remove(c.name, wake)
			stop()
			<-done
		})
	}
}

// startSeq reads the last sequence, retrying briefly on failure.
func (c *Collection) startSeq(ctx context.Context) (int64, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 100 * time.Millisecond

	var seq int64
	err := backoff.Retry(func() error {
		var err error
		seq, err = c.LastSeq(ctx)
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, startAttempts), ctx))
	return seq, err
}
