package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Direction is the side of a replication a checkpoint belongs to.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
)

// Checkpoint returns the last recorded replication position for a
// collection/target pair, or "" when replication never ran.
func (s *SQLiteStore) Checkpoint(ctx context.Context, collection, target string, dir Direction) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value,
		"SELECT value FROM checkpoints WHERE collection = ? AND target = ? AND direction = ?",
		collection, target, string(dir),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s checkpoint for %s -> %s: %w", dir, collection, target, err)
	}
	return value, nil
}

// SetCheckpoint records a replication position.
func (s *SQLiteStore) SetCheckpoint(ctx context.Context, collection, target string, dir Direction, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (collection, target, direction, value, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(collection, target, direction) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		collection, target, string(dir), value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("writing %s checkpoint for %s -> %s: %w", dir, collection, target, err)
	}
	return nil
}
