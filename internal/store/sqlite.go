package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// fieldPattern limits selector fields to dotted JSON object paths.
var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// prefixEnd is appended to a key prefix to form the exclusive upper bound
// of a key range scan.
const prefixEnd = "\U0010FFFF"

// SQLiteStore holds every local collection in a single SQLite database.
type SQLiteStore struct {
	db     *sqlx.DB
	feed   *hub
	logger *slog.Logger

	mu          sync.Mutex
	collections map[string]*Collection
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath,
// enables WAL mode, and runs any pending schema migrations.
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// A single connection serialises writers and keeps ":memory:"
	// databases alive for the life of the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:          db,
		feed:        newHub(),
		logger:      logger,
		collections: make(map[string]*Collection),
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Collection returns the handle for the named collection.
func (s *SQLiteStore) Collection(name string) *Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &Collection{name: name, store: s}
		s.collections[name] = c
	}
	return c
}

// runMigrations checks the current schema version and applies any
// outstanding migrations in order.
func (s *SQLiteStore) runMigrations() error {
	currentVersion := 0

	// Check if schema_version table exists.
	var tableCount int
	err := s.db.Get(
		&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	)
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}

	if tableCount > 0 {
		err = s.db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version")
		if err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
		s.logger.Debug("applied store migration", "version", m.version)
	}

	return nil
}

// Collection is one key-prefixed document collection inside a SQLiteStore.
// It implements DocumentStore.
type Collection struct {
	name  string
	store *SQLiteStore
}

var _ DocumentStore = (*Collection)(nil)

// docRow mirrors a row of the documents table.
type docRow struct {
	ID        string    `db:"id"`
	Rev       string    `db:"rev"`
	Deleted   bool      `db:"deleted"`
	Body      string    `db:"body"`
	Seq       int64     `db:"seq"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r docRow) document() Document {
	return Document{
		ID:        r.ID,
		Rev:       r.Rev,
		Deleted:   r.Deleted,
		Body:      json.RawMessage(r.Body),
		Seq:       r.Seq,
		UpdatedAt: r.UpdatedAt,
	}
}

const docColumns = "id, rev, deleted, body, seq, updated_at"

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// List returns every live document whose key starts with prefix, in key order.
func (c *Collection) List(ctx context.Context, prefix string) ([]Document, error) {
	query := "SELECT " + docColumns + " FROM documents WHERE collection = ? AND deleted = 0"
	args := []interface{}{c.name}
	if prefix != "" {
		query += " AND id >= ? AND id < ?"
		args = append(args, prefix, prefix+prefixEnd)
	}
	query += " ORDER BY id"

	var rows []docRow
	if err := c.store.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing %s documents: %w", c.name, err)
	}
	return toDocuments(rows), nil
}

// EnsureIndex creates an expression index on a JSON body field so that
// Find on that field does not scan the collection.
func (c *Collection) EnsureIndex(ctx context.Context, field string) error {
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("%w: %q", ErrInvalidField, field)
	}

	name := "idx_doc_" + strings.ReplaceAll(field, ".", "_")
	stmt := fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON documents(collection, json_extract(body, '$.%s'))",
		name, field,
	)
	if _, err := c.store.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("creating index on %s: %w", field, err)
	}
	return nil
}

// Find returns live documents whose body field equals the selector value.
// The path is inlined so SQLite can match it against an EnsureIndex index.
func (c *Collection) Find(ctx context.Context, sel Selector) ([]Document, error) {
	if !fieldPattern.MatchString(sel.Field) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidField, sel.Field)
	}

	query := fmt.Sprintf(
		"SELECT %s FROM documents WHERE collection = ? AND json_extract(body, '$.%s') = ? AND deleted = 0",
		docColumns, sel.Field,
	)
	args := []interface{}{c.name, sel.Value}
	if sel.Prefix != "" {
		query += " AND id >= ? AND id < ?"
		args = append(args, sel.Prefix, sel.Prefix+prefixEnd)
	}
	query += " ORDER BY id"

	var rows []docRow
	if err := c.store.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("finding %s documents by %s: %w", c.name, sel.Field, err)
	}
	return toDocuments(rows), nil
}

// Get returns the live document stored under id, or ErrNotFound.
func (c *Collection) Get(ctx context.Context, id string) (*Document, error) {
	doc, err := c.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Deleted {
		return nil, fmt.Errorf("getting %s/%s: %w", c.name, id, ErrNotFound)
	}
	return doc, nil
}

// Lookup returns the document stored under id, including tombstones.
func (c *Collection) Lookup(ctx context.Context, id string) (*Document, error) {
	return c.lookup(ctx, c.store.db, id)
}

func (c *Collection) lookup(ctx context.Context, q sqlx.QueryerContext, id string) (*Document, error) {
	var row docRow
	err := sqlx.GetContext(ctx, q, &row,
		"SELECT "+docColumns+" FROM documents WHERE collection = ? AND id = ?",
		c.name, id,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("getting %s/%s: %w", c.name, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s/%s: %w", c.name, id, err)
	}
	doc := row.document()
	return &doc, nil
}

// Put writes doc if doc.Rev matches the stored revision (empty for a new or
// deleted document) and returns it with its new revision. A stale revision
// yields a *ConflictError.
func (c *Collection) Put(ctx context.Context, doc Document) (Document, error) {
	stored, err := c.put(ctx, doc)
	if err != nil {
		return Document{}, err
	}
	c.store.feed.notify(c.name)
	return stored, nil
}

func (c *Collection) put(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		return Document{}, fmt.Errorf("putting %s document: empty id", c.name)
	}

	body, err := normalizeBody(doc)
	if err != nil {
		return Document{}, err
	}

	tx, err := c.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return Document{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := c.lookup(ctx, tx, doc.ID)
	if err != nil && !IsNotFound(err) {
		return Document{}, err
	}

	generation := 1
	if current != nil {
		if doc.Rev != current.Rev && !(current.Deleted && doc.Rev == "") {
			return Document{}, &ConflictError{
				Collection:       c.name,
				ID:               doc.ID,
				ExpectedRevision: doc.Rev,
				CurrentRevision:  current.Rev,
			}
		}
		generation = RevGeneration(current.Rev) + 1
	} else if doc.Rev != "" {
		return Document{}, &ConflictError{
			Collection:       c.name,
			ID:               doc.ID,
			ExpectedRevision: doc.Rev,
		}
	}

	stored := Document{
		ID:      doc.ID,
		Rev:     newRevision(generation),
		Deleted: doc.Deleted,
		Body:    body,
	}
	stored.Seq, stored.UpdatedAt, err = c.write(ctx, tx, stored, OriginLocal)
	if err != nil {
		return Document{}, err
	}

	if err := tx.Commit(); err != nil {
		return Document{}, fmt.Errorf("committing %s/%s: %w", c.name, doc.ID, err)
	}
	return stored, nil
}

// Remove marks the document deleted. The revision must be current.
func (c *Collection) Remove(ctx context.Context, id, rev string) error {
	current, err := c.Get(ctx, id)
	if err != nil {
		return err
	}
	if rev != current.Rev {
		return &ConflictError{
			Collection:       c.name,
			ID:               id,
			ExpectedRevision: rev,
			CurrentRevision:  current.Rev,
		}
	}

	_, err = c.Put(ctx, Document{ID: id, Rev: rev, Deleted: true})
	return err
}

// BulkWrite applies each document independently and reports a result per
// document, in input order. Documents flagged Deleted are removals.
func (c *Collection) BulkWrite(ctx context.Context, docs []Document) ([]BulkResult, error) {
	results := make([]BulkResult, 0, len(docs))
	written := 0

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		stored, err := c.put(ctx, doc)
		if err != nil {
			results = append(results, BulkResult{ID: doc.ID, Err: err})
			continue
		}
		written++
		results = append(results, BulkResult{ID: stored.ID, Rev: stored.Rev})
	}

	if written > 0 {
		c.store.feed.notify(c.name)
	}
	return results, nil
}

// PutReplicated applies a document received from a replica, keeping its
// revision. It reports false when the local revision already wins.
func (c *Collection) PutReplicated(ctx context.Context, doc Document) (bool, error) {
	if doc.ID == "" || RevGeneration(doc.Rev) == 0 {
		return false, fmt.Errorf("replicated %s document %q has invalid revision %q", c.name, doc.ID, doc.Rev)
	}

	body, err := normalizeBody(doc)
	if err != nil {
		return false, err
	}

	tx, err := c.store.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := c.lookup(ctx, tx, doc.ID)
	if err != nil && !IsNotFound(err) {
		return false, err
	}
	if current != nil && !revWins(doc.Rev, current.Rev) {
		return false, nil
	}

	replica := Document{ID: doc.ID, Rev: doc.Rev, Deleted: doc.Deleted, Body: body}
	if _, _, err := c.write(ctx, tx, replica, OriginRemote); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("committing replicated %s/%s: %w", c.name, doc.ID, err)
	}

	c.store.feed.notify(c.name)
	return true, nil
}

// write appends the change log entry and upserts the document row.
func (c *Collection) write(ctx context.Context, tx *sqlx.Tx, doc Document, origin Origin) (int64, time.Time, error) {
	now := time.Now().UTC()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO changes (collection, id, rev, deleted, origin, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		c.name, doc.ID, doc.Rev, boolToInt(doc.Deleted), string(origin), now,
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("recording change for %s/%s: %w", c.name, doc.ID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("reading change sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (collection, id, rev, deleted, body, seq, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection, id) DO UPDATE SET
			rev = excluded.rev,
			deleted = excluded.deleted,
			body = excluded.body,
			seq = excluded.seq,
			updated_at = excluded.updated_at`,
		c.name, doc.ID, doc.Rev, boolToInt(doc.Deleted), string(doc.Body), seq, now,
	)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("writing %s/%s: %w", c.name, doc.ID, err)
	}

	return seq, now, nil
}

// Changes returns up to limit changes after since. A non-positive limit
// returns every pending change.
func (c *Collection) Changes(ctx context.Context, since int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = -1
	}

	var rows []struct {
		Seq        int64  `db:"seq"`
		Collection string `db:"collection"`
		ID         string `db:"id"`
		Rev        string `db:"rev"`
		Deleted    bool   `db:"deleted"`
		Origin     string `db:"origin"`
	}
	err := c.store.db.SelectContext(ctx, &rows, `
		SELECT seq, collection, id, rev, deleted, origin
		FROM changes
		WHERE collection = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`,
		c.name, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("reading %s changes since %d: %w", c.name, since, err)
	}

	changes := make([]Change, 0, len(rows))
	for _, r := range rows {
		changes = append(changes, Change{
			Seq:        r.Seq,
			Collection: r.Collection,
			ID:         r.ID,
			Rev:        r.Rev,
			Deleted:    r.Deleted,
			Origin:     Origin(r.Origin),
		})
	}
	return changes, nil
}

// LastSeq returns the sequence of the newest change in the collection.
func (c *Collection) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := c.store.db.GetContext(ctx, &seq,
		"SELECT COALESCE(MAX(seq), 0) FROM changes WHERE collection = ?", c.name)
	if err != nil {
		return 0, fmt.Errorf("reading %s last sequence: %w", c.name, err)
	}
	return seq, nil
}

// normalizeBody validates the body of doc and defaults it to an empty
// object. Tombstones always store an empty object.
func normalizeBody(doc Document) (json.RawMessage, error) {
	if doc.Deleted || len(doc.Body) == 0 {
		return json.RawMessage("{}"), nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc.Body, &fields); err != nil {
		return nil, fmt.Errorf("document %s body is not a JSON object: %w", doc.ID, err)
	}
	return doc.Body, nil
}

// newRevision builds a revision string for the given generation.
func newRevision(generation int) string {
	return fmt.Sprintf("%d-%s", generation, strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func toDocuments(rows []docRow) []Document {
	docs := make([]Document, 0, len(rows))
	for _, r := range rows {
		docs = append(docs, r.document())
	}
	return docs
}

// boolToInt converts a boolean to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
