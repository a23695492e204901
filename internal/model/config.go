package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Collection names used in the local document store.
const (
	CollectionActivities = "activities"
	CollectionFields     = "fields"
	CollectionLicences   = "licences"
	CollectionBackups    = "backups"
)

// StoreConfig locates the local document store.
type StoreConfig struct {
	// Path is the SQLite file holding every local collection.
	Path string `mapstructure:"path" yaml:"path"`
}

// SyncConfig controls continuous replication to the remote replica.
type SyncConfig struct {
	// Enabled turns replication on. Local reads and writes work either way.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// RemoteURL is the root of the CouchDB-compatible replica endpoint.
	RemoteURL string `mapstructure:"remote_url" yaml:"remote_url"`

	// Username for basic auth. The password lives in the keyring.
	Username string `mapstructure:"username" yaml:"username"`

	// IntervalSec is the pause between replication cycles.
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`

	// MaxBackoffSec caps the retry delay after a failed cycle.
	MaxBackoffSec int `mapstructure:"max_backoff_sec" yaml:"max_backoff_sec"`

	// Databases maps local collection names to remote database names.
	Databases map[string]string `mapstructure:"databases" yaml:"databases"`
}

// RemoteConfig points at the canonical license API.
type RemoteConfig struct {
	BaseURL           string  `mapstructure:"base_url" yaml:"base_url"`
	TimeoutSec        int     `mapstructure:"timeout_sec" yaml:"timeout_sec"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// FieldsConfig tunes the field/lot index cache.
type FieldsConfig struct {
	IndexTTLSec int `mapstructure:"index_ttl_sec" yaml:"index_ttl_sec"`
}

// MigrationConfig holds settings for the legacy license migration.
type MigrationConfig struct {
	BackupDir    string `mapstructure:"backup_dir" yaml:"backup_dir"`
	SourcePrefix string `mapstructure:"source_prefix" yaml:"source_prefix"`
}

// LoggingConfig selects the log level and output format ("text" or "json").
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Sync      SyncConfig      `mapstructure:"sync" yaml:"sync"`
	Remote    RemoteConfig    `mapstructure:"remote" yaml:"remote"`
	Fields    FieldsConfig    `mapstructure:"fields" yaml:"fields"`
	Migration MigrationConfig `mapstructure:"migration" yaml:"migration"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// DefaultConfigDir returns ~/.config/fieldpartner, or "." when the home
// directory cannot be determined.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "fieldpartner")
}

// DefaultConfigPath returns the default path for the configuration file.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	dir := DefaultConfigDir()
	return &AppConfig{
		Store: StoreConfig{
			Path: filepath.Join(dir, "replica.db"),
		},
		Sync: SyncConfig{
			IntervalSec:   30,
			MaxBackoffSec: 300,
			Databases: map[string]string{
				CollectionActivities: "activities",
				CollectionFields:     "fields",
				CollectionLicences:   "licences",
			},
		},
		Remote: RemoteConfig{
			TimeoutSec:        30,
			RequestsPerSecond: 5,
		},
		Fields: FieldsConfig{
			IndexTTLSec: 300,
		},
		Migration: MigrationConfig{
			BackupDir: filepath.Join(dir, "backups"),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
// FIELDPARTNER_* environment variables override file values.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("fieldpartner")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultAppConfig()
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("sync.enabled", false)
	v.SetDefault("sync.remote_url", "")
	v.SetDefault("sync.username", "")
	v.SetDefault("sync.interval_sec", def.Sync.IntervalSec)
	v.SetDefault("sync.max_backoff_sec", def.Sync.MaxBackoffSec)
	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.timeout_sec", def.Remote.TimeoutSec)
	v.SetDefault("remote.requests_per_second", def.Remote.RequestsPerSecond)
	v.SetDefault("fields.index_ttl_sec", def.Fields.IndexTTLSec)
	v.SetDefault("migration.backup_dir", def.Migration.BackupDir)
	v.SetDefault("migration.source_prefix", "")
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, os.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := def
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Sync.IntervalSec <= 0 {
		cfg.Sync.IntervalSec = def.Sync.IntervalSec
	}
	if cfg.Sync.MaxBackoffSec <= 0 {
		cfg.Sync.MaxBackoffSec = def.Sync.MaxBackoffSec
	}
	if len(cfg.Sync.Databases) == 0 {
		cfg.Sync.Databases = def.Sync.Databases
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("store", cfg.Store)
	v.Set("sync", cfg.Sync)
	v.Set("remote", cfg.Remote)
	v.Set("fields", cfg.Fields)
	v.Set("migration", cfg.Migration)
	v.Set("logging", cfg.Logging)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
