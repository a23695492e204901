package testutil

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/remote"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
)

// ErrReplicaDown is returned by FakeReplica while failures are injected.
var ErrReplicaDown = errors.New("replica unreachable")

// FakeReplica is an in-memory CouchDB-like replica. Each database keeps
// the latest revision per document and a sequence-ordered change log.
type FakeReplica struct {
	mu       sync.Mutex
	dbs      map[string]*fakeDB
	failures int
	pushes   int
}

type fakeDB struct {
	seq  int
	docs map[string]fakeEntry
}

type fakeEntry struct {
	doc store.Document
	seq int
}

// NewFakeReplica returns an empty replica.
func NewFakeReplica() *FakeReplica {
	return &FakeReplica{dbs: make(map[string]*fakeDB)}
}

// FailNext makes the next n calls fail with ErrReplicaDown.
func (f *FakeReplica) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = n
}

// Pushes returns how many PushDocs calls carried at least one document.
func (f *FakeReplica) Pushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pushes
}

// Seed writes doc into db as if another client had replicated it.
func (f *FakeReplica) Seed(db string, doc store.Document) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.db(db).put(doc)
}

// Doc returns the stored revision of id in db.
func (f *FakeReplica) Doc(db, id string) (store.Document, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.db(db).docs[id]
	return e.doc, ok
}

func (f *FakeReplica) EnsureDatabase(_ context.Context, db string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	f.db(db)
	return nil
}

func (f *FakeReplica) PushDocs(_ context.Context, db string, docs []store.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	if len(docs) > 0 {
		f.pushes++
	}
	d := f.db(db)
	for _, doc := range docs {
		current, ok := d.docs[doc.ID]
		if ok && current.doc.Rev == doc.Rev {
			continue
		}
		d.put(doc)
	}
	return nil
}

func (f *FakeReplica) Changes(_ context.Context, db, since string, limit int) (remote.ChangesPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return remote.ChangesPage{}, err
	}

	from, _ := strconv.Atoi(since)
	d := f.db(db)

	entries := make([]fakeEntry, 0, len(d.docs))
	for _, e := range d.docs {
		if e.seq > from {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}

	page := remote.ChangesPage{LastSeq: strconv.Itoa(from)}
	for _, e := range entries {
		page.Docs = append(page.Docs, e.doc)
		page.LastSeq = strconv.Itoa(e.seq)
	}
	return page, nil
}

func (f *FakeReplica) fail() error {
	if f.failures > 0 {
		f.failures--
		return ErrReplicaDown
	}
	return nil
}

func (f *FakeReplica) db(name string) *fakeDB {
	d, ok := f.dbs[name]
	if !ok {
		d = &fakeDB{docs: make(map[string]fakeEntry)}
		f.dbs[name] = d
	}
	return d
}

func (d *fakeDB) put(doc store.Document) {
	d.seq++
	d.docs[doc.ID] = fakeEntry{doc: doc, seq: d.seq}
}
