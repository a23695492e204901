// Package app wires the local store, replication, enrichment and migration
// components from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/activities"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/backup"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/fields"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/logging"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/migration"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/notify"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
	appsync "github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/sync"
)

// App holds the wired components of one process.
type App struct {
	Config *model.AppConfig
	Logger *slog.Logger

	Store      *store.SQLiteStore
	Fields     *fields.Service
	Activities *activities.Repository
	Notifier   *notify.Notifier

	// Replicator is nil when replication is disabled or not configured.
	Replicator *appsync.Replicator

	// Migration is nil when no canonical license API is configured.
	Migration *migration.Engine

	unsubscribe func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	replica  appsync.Replica
	licenses migration.Destination
}

// WithReplica replaces the HTTP replica client.
func WithReplica(r appsync.Replica) Option {
	return func(o *options) { o.replica = r }
}

// WithLicenses replaces the canonical license API client.
func WithLicenses(d migration.Destination) Option {
	return func(o *options) { o.licenses = d }
}

// New opens the store and builds every component. Nothing runs in the
// background until Start.
func New(ctx context.Context, cfg *model.AppConfig, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Store.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}
	s, err := store.NewSQLiteStore(cfg.Store.Path, logging.ForComponent(logger, "store"))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger, Store: s}

	a.Fields = fields.NewService(
		s.Collection(model.CollectionFields),
		time.Duration(cfg.Fields.IndexTTLSec)*time.Second,
		logging.ForComponent(logger, "fields"),
	)

	a.Activities, err = activities.NewRepository(ctx,
		s.Collection(model.CollectionActivities),
		a.Fields,
		logging.ForComponent(logger, "activities"),
	)
	if err != nil {
		_ = s.Close()
		return nil, err
	}

	a.Notifier = notify.New(logging.ForComponent(logger, "notify"),
		s.Collection(model.CollectionActivities),
		s.Collection(model.CollectionFields),
		s.Collection(model.CollectionLicences),
	)
	// Any field change makes the cached lot index stale.
	a.unsubscribe = a.Notifier.Subscribe(func(notify.Event) {
		a.Fields.Invalidate()
	}, model.CollectionFields)

	if err := a.setupReplication(o.replica); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := a.setupMigration(o.licenses); err != nil {
		_ = s.Close()
		return nil, err
	}

	return a, nil
}

// setupMigration builds the migration engine over the legacy collection.
func (a *App) setupMigration(dest migration.Destination) error {
	if dest == nil {
		client, err := a.licenseClient()
		if err != nil {
			return err
		}
		if client == nil {
			a.Logger.Debug("license migration disabled: no remote.base_url configured")
			return nil
		}
		dest = client
	}

	archive := backup.NewArchive(
		a.Config.Migration.BackupDir,
		a.Store.Collection(model.CollectionBackups),
		logging.ForComponent(a.Logger, "backup"),
	)
	a.Migration = migration.NewEngine(
		a.Store.Collection(model.CollectionLicences),
		dest,
		archive,
		migration.Config{
			SourcePrefix: a.Config.Migration.SourcePrefix,
			Logger:       logging.ForComponent(a.Logger, "migration"),
		},
	)
	return nil
}

// Start begins change notification and, when configured, replication.
func (a *App) Start(ctx context.Context) {
	a.Notifier.Start()
	if a.Replicator != nil {
		a.Replicator.Start(ctx)
	}
}

// Stop halts background work. It is safe to call without Start.
func (a *App) Stop() {
	if a.Replicator != nil {
		a.Replicator.Stop()
	}
	a.Notifier.Stop()
}

// Close stops background work and closes the store.
func (a *App) Close() error {
	a.Stop()
	if a.unsubscribe != nil {
		a.unsubscribe()
	}
	return a.Store.Close()
}
