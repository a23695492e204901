package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/app"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/backup"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/migration"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/theme"
)

var errMigrationDisabled = errors.New("license migration is not configured: set remote.base_url")

func newMigrateCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Migrate legacy license records into the canonical license system",
		Long: `Migrate copies the legacy license records of the local "licences" collection
into the canonical license API.

Run 'migrate analyze' first to see conflicting codes. 'migrate run' aborts on
conflicts unless --overwrite is given, in which case existing licenses with the
same code are updated.`,
	}

	engine := func(a *app.App) (*migration.Engine, error) {
		if a.Migration == nil {
			return nil, errMigrationDisabled
		}
		return a.Migration, nil
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze",
		Short: "Compare legacy and canonical licenses without writing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				e, err := engine(a)
				if err != nil {
					return err
				}
				analysis, err := e.Analyze(cmd.Context())
				if err != nil {
					return err
				}
				printAnalysis(cmd.OutOrStdout(), analysis)
				return nil
			})
		},
	}

	var (
		opts       migration.Options
		reportPath string
	)
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Migrate every legacy license",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				e, err := engine(a)
				if err != nil {
					return err
				}

				result, runErr := e.Migrate(cmd.Context(), opts)
				report := migration.Report(result)
				fmt.Fprint(cmd.OutOrStdout(), report)

				if reportPath != "" && result != nil {
					if err := backup.WriteFile(reportPath, []byte(report), 0o644); err != nil {
						return fmt.Errorf("writing report: %w", err)
					}
					fmt.Fprintln(cmd.OutOrStdout(), theme.MutedStyle.Render("report written to "+reportPath))
				}
				if runErr != nil {
					return runErr
				}
				if !result.Success {
					return fmt.Errorf("migration finished with %d errors", len(result.Errors))
				}
				return nil
			})
		},
	}
	runCmd.Flags().BoolVar(&opts.Overwrite, "overwrite", false, "Update canonical licenses whose code already exists")
	runCmd.Flags().BoolVar(&opts.CreateBackup, "backup", true, "Back up canonical licenses before writing")
	runCmd.Flags().BoolVar(&opts.Validate, "validate", false, "Skip records with a missing code or description or non-positive units")
	runCmd.Flags().StringVar(&reportPath, "report", "", "Also write the report to this file")

	var confirmed bool
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete every legacy license record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return errors.New("cleanup deletes every legacy license; pass --yes to confirm")
			}
			return rt.withApp(cmd, func(a *app.App) error {
				e, err := engine(a)
				if err != nil {
					return err
				}
				removed, err := e.CleanupSource(cmd.Context())
				fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("✓"),
					fmt.Sprintf("removed %d legacy licenses", removed))
				return err
			})
		},
	}
	cleanupCmd.Flags().BoolVar(&confirmed, "yes", false, "Confirm deletion")

	cmd.AddCommand(analyzeCmd, runCmd, cleanupCmd)
	return cmd
}

func printAnalysis(w io.Writer, a *migration.Analysis) {
	fmt.Fprintln(w, theme.HeaderStyle.Render("License migration analysis"))
	fmt.Fprintf(w, "  legacy records:    %d\n", a.SourceCount)
	fmt.Fprintf(w, "  canonical records: %d\n", a.DestinationCount)

	if len(a.Conflicts) == 0 {
		fmt.Fprintln(w, "  conflicts:         "+theme.SuccessStyle.Render("none"))
		return
	}
	fmt.Fprintln(w, "  conflicts:         "+theme.ErrorStyle.Render(fmt.Sprint(len(a.Conflicts))))
	for _, c := range a.Conflicts {
		fmt.Fprintf(w, "    %s (legacy %s, canonical %s)\n", c, c.SourceDocID, c.DestinationID)
	}
}
