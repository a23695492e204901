package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations.
// Each migration's version must be sequential starting from 1.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	rev        TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1)),
	body       TEXT NOT NULL DEFAULT '{}',
	seq        INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, id)
);

CREATE TABLE IF NOT EXISTS changes (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	rev        TEXT NOT NULL,
	deleted    INTEGER NOT NULL DEFAULT 0 CHECK(deleted IN (0, 1)),
	origin     TEXT NOT NULL DEFAULT 'local' CHECK(origin IN ('local', 'remote')),
	changed_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_documents_seq ON documents(collection, seq);
CREATE INDEX IF NOT EXISTS idx_changes_collection_seq ON changes(collection, seq);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS checkpoints (
	collection TEXT NOT NULL,
	target     TEXT NOT NULL,
	direction  TEXT NOT NULL CHECK(direction IN ('push', 'pull')),
	value      TEXT NOT NULL DEFAULT '',
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (collection, target, direction)
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
}
