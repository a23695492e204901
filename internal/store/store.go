package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotFound indicates the document does not exist or is deleted.
	ErrNotFound = errors.New("document not found")

	// ErrConflict indicates the writer did not hold the latest revision.
	ErrConflict = errors.New("document update conflict")

	// ErrInvalidField indicates a selector or index names an unusable field.
	ErrInvalidField = errors.New("invalid selector field")
)

// ConflictError carries the revisions involved in a rejected write.
type ConflictError struct {
	Collection       string
	ID               string
	ExpectedRevision string
	CurrentRevision  string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf(
		"conflict writing %s/%s: have revision %q, current is %q",
		e.Collection, e.ID, e.ExpectedRevision, e.CurrentRevision,
	)
}

// Is lets errors.Is(err, ErrConflict) match a *ConflictError.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// IsConflict reports whether err (or any error in its chain) is a conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound reports whether err (or any error in its chain) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Origin records where a change came from.
type Origin string

const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Document is a JSON document stored under a string key.
type Document struct {
	ID        string          `json:"_id"`
	Rev       string          `json:"_rev,omitempty"`
	Deleted   bool            `json:"_deleted,omitempty"`
	Body      json.RawMessage `json:"-"`
	Seq       int64           `json:"-"`
	UpdatedAt time.Time       `json:"-"`
}

// NewDocument marshals v as the body of a new document with the given key.
func NewDocument(id string, v any) (Document, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Document{}, fmt.Errorf("marshaling document %s: %w", id, err)
	}
	return Document{ID: id, Body: body}, nil
}

// Decode unmarshals the document body into v.
func (d Document) Decode(v any) error {
	if len(d.Body) == 0 {
		return fmt.Errorf("document %s has no body", d.ID)
	}
	if err := json.Unmarshal(d.Body, v); err != nil {
		return fmt.Errorf("decoding document %s: %w", d.ID, err)
	}
	return nil
}

// Change is one entry of a collection's change feed.
type Change struct {
	Seq        int64
	Collection string
	ID         string
	Rev        string
	Deleted    bool
	Origin     Origin
}

// Added reports whether the change created the document.
func (c Change) Added() bool {
	return !c.Deleted && RevGeneration(c.Rev) == 1
}

// BulkResult is the outcome of one document in a BulkWrite.
type BulkResult struct {
	ID  string
	Rev string
	Err error
}

// Selector restricts a Find to documents whose Field equals Value.
// Prefix further limits the key range; empty matches every key.
type Selector struct {
	Prefix string
	Field  string
	Value  string
}

// DocumentStore is the contract of a single key-prefixed collection.
type DocumentStore interface {
	Name() string

	List(ctx context.Context, prefix string) ([]Document, error)
	Find(ctx context.Context, sel Selector) ([]Document, error)
	EnsureIndex(ctx context.Context, field string) error
	Get(ctx context.Context, id string) (*Document, error)

	Put(ctx context.Context, doc Document) (Document, error)
	Remove(ctx context.Context, id, rev string) error
	BulkWrite(ctx context.Context, docs []Document) ([]BulkResult, error)

	Changes(ctx context.Context, since int64, limit int) ([]Change, error)
	LastSeq(ctx context.Context) (int64, error)

	// Subscribe delivers every change after since (or after the current
	// sequence when since < 0) until the returned cancel is called.
	Subscribe(since int64, onChange func(Change)) (cancel func())
}

// RevGeneration returns the numeric generation of a revision string
// ("3-abc" -> 3). Malformed revisions have generation 0.
func RevGeneration(rev string) int {
	head, _, ok := strings.Cut(rev, "-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(head)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// revWins reports whether candidate beats current under the replication
// winner rule: higher generation first, then the greater revision string.
func revWins(candidate, current string) bool {
	cg, rg := RevGeneration(candidate), RevGeneration(current)
	if cg != rg {
		return cg > rg
	}
	return candidate > current
}
