package app

import (
	"time"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/credential"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/logging"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/remote"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/store"
	appsync "github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/sync"
)

// setupReplication registers every configured collection with a
// replicator. A missing remote URL or disabled sync leaves Replicator nil.
func (a *App) setupReplication(replica appsync.Replica) error {
	cfg := a.Config.Sync
	if !cfg.Enabled && replica == nil {
		return nil
	}

	if replica == nil {
		if cfg.RemoteURL == "" {
			a.Logger.Warn("replication enabled but sync.remote_url is empty; running local only")
			return nil
		}
		client, err := a.replicaClient()
		if err != nil {
			return err
		}
		replica = client
	}

	a.Replicator = appsync.New(replica, a.Store, appsync.Config{
		Target:     cfg.RemoteURL,
		Interval:   time.Duration(cfg.IntervalSec) * time.Second,
		MaxBackoff: time.Duration(cfg.MaxBackoffSec) * time.Second,
		OnCycle:    a.logCycle,
		Logger:     logging.ForComponent(a.Logger, "sync"),
	})

	for collection, db := range cfg.Databases {
		if err := a.Replicator.Register(a.Store.Collection(collection), db); err != nil {
			return err
		}
	}
	return nil
}

// replicaClient builds the CouchDB client with the password from the
// keyring. A missing password means anonymous access.
func (a *App) replicaClient() (*remote.ReplicaClient, error) {
	cfg := a.Config.Sync
	opts := []remote.Option{
		remote.WithTimeout(time.Duration(a.Config.Remote.TimeoutSec) * time.Second),
		remote.WithLogger(logging.ForComponent(a.Logger, "replica")),
	}
	if cfg.Username != "" {
		password, err := credential.Optional(credential.KeySyncPassword)
		if err != nil {
			return nil, err
		}
		opts = append(opts, remote.WithBasicAuth(cfg.Username, password))
	}
	return remote.NewReplicaClient(remote.NewClient(cfg.RemoteURL, opts...)), nil
}

// licenseClient builds the canonical license API client, or nil when no
// base URL is configured.
func (a *App) licenseClient() (*remote.LicenseClient, error) {
	cfg := a.Config.Remote
	if cfg.BaseURL == "" {
		return nil, nil
	}

	opts := []remote.Option{
		remote.WithTimeout(time.Duration(cfg.TimeoutSec) * time.Second),
		remote.WithRateLimit(cfg.RequestsPerSecond),
		remote.WithLogger(logging.ForComponent(a.Logger, "licenses")),
	}
	token, err := credential.Optional(credential.KeyRemoteToken)
	if err != nil {
		return nil, err
	}
	if token != "" {
		opts = append(opts, remote.WithBearerToken(token))
	}
	return remote.NewLicenseClient(remote.NewClient(cfg.BaseURL, opts...)), nil
}

func (a *App) logCycle(s appsync.SyncStatus) {
	if s.Error != nil {
		a.Logger.Warn("replication cycle failed",
			"collection", s.Collection, "database", s.Database, "error", s.Error)
		return
	}
	if s.Pushed > 0 || s.Pulled > 0 {
		a.Logger.Info("replication cycle",
			"collection", s.Collection, "pushed", s.Pushed, "pulled", s.Pulled)
	}
}

var _ appsync.Checkpoints = (*store.SQLiteStore)(nil)
