// Package cli implements the fieldpartner command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/app"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/logging"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
)

// runtime carries global flags shared by every command.
type runtime struct {
	configPath string
	logLevel   string
	opts       []app.Option
}

// withApp loads configuration, wires the application, runs fn and closes
// the application again.
func (r *runtime) withApp(cmd *cobra.Command, fn func(a *app.App) error) error {
	a, err := r.open(cmd)
	if err != nil {
		return err
	}
	err = fn(a)
	if cerr := a.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("closing store: %w", cerr)
	}
	return err
}

func (r *runtime) open(cmd *cobra.Command) (*app.App, error) {
	path := r.configPath
	if path == "" {
		path = model.DefaultConfigPath()
	}
	cfg, err := model.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if r.logLevel != "" {
		cfg.Logging.Level = r.logLevel
	}

	logger := logging.New(cfg.Logging, cmd.ErrOrStderr())
	return app.New(cmd.Context(), cfg, logger, r.opts...)
}

// NewRootCommand builds the command tree. Options are passed to app.New.
func NewRootCommand(opts ...app.Option) *cobra.Command {
	rt := &runtime{opts: opts}

	root := &cobra.Command{
		Use:   "fieldpartner",
		Short: "Field Partner back-office engine",
		Long: `Field Partner keeps a local replica of field and activity records in sync
with the central replica, resolves lot and field names for activities, and
migrates legacy license records into the canonical license system.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", "", "Path to config file (default ~/.config/fieldpartner/config.yaml)")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Override logging.level (debug, info, warn, error)")

	root.AddCommand(
		newActivitiesCommand(rt),
		newFieldsCommand(rt),
		newSyncCommand(rt),
		newMigrateCommand(rt),
	)
	return root
}

// Execute runs the CLI with ctx as the command context.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
