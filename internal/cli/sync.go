package cli

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/app"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/notify"
	appsync "github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/sync"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/theme"
)

var errSyncDisabled = errors.New("replication is not configured: set sync.enabled and sync.remote_url")

func newSyncCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replicate local collections with the remote replica",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Replicate continuously and print change events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				if a.Replicator == nil {
					return errSyncDisabled
				}

				ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
				defer stop()

				w := cmd.OutOrStdout()
				unsubscribe := a.Notifier.Subscribe(func(ev notify.Event) {
					fmt.Fprintf(w, "%s %s %s %s (%s)\n",
						theme.MutedStyle.Render(fmt.Sprint(ev.Seq)), ev.Collection, ev.Kind, ev.ID, ev.Origin)
				})
				defer unsubscribe()

				a.Start(ctx)
				fmt.Fprintln(w, theme.HeaderStyle.Render("replicating"), theme.MutedStyle.Render("(ctrl-c to stop)"))
				<-ctx.Done()
				a.Stop()

				printStatuses(w, a.Replicator.Statuses())
				return nil
			})
		},
	}

	var once bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Run one replication cycle per collection and show the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				if a.Replicator == nil {
					return errSyncDisabled
				}
				var errs []error
				if once {
					for _, s := range a.Replicator.Statuses() {
						if err := a.Replicator.SyncNow(cmd.Context(), s.Collection); err != nil {
							errs = append(errs, fmt.Errorf("%s: %w", s.Collection, err))
						}
					}
				}
				printStatuses(cmd.OutOrStdout(), a.Replicator.Statuses())
				return errors.Join(errs...)
			})
		},
	}
	statusCmd.Flags().BoolVar(&once, "sync", true, "Run one cycle per collection before reporting")

	cmd.AddCommand(runCmd, statusCmd)
	return cmd
}

func printStatuses(w io.Writer, statuses []appsync.SyncStatus) {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		last := "never"
		if !s.LastSync.IsZero() {
			last = s.LastSync.Format("2006-01-02 15:04:05")
		}
		errText := ""
		if s.Error != nil {
			errText = s.Error.Error()
		}
		rows = append(rows, []string{
			s.Collection,
			s.Database,
			theme.StateStyle(s.State.String()).Render(s.State.String()),
			last,
			fmt.Sprint(s.Pushed),
			fmt.Sprint(s.Pulled),
			errText,
		})
	}
	fmt.Fprintln(w, theme.Table([]string{"COLLECTION", "DATABASE", "STATE", "LAST SYNC", "PUSHED", "PULLED", "ERROR"}, rows))
}
