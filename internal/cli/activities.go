package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/app"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/model"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/theme"
)

var errOperationRefused = errors.New("operation refused")

func newActivitiesCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "activities",
		Aliases: []string{"activity"},
		Short:   "Inspect and maintain activity records",
	}

	var lot string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List activities with their resolved lot and field",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				var (
					list []model.Activity
					err  error
				)
				if lot != "" {
					list, err = a.Activities.ListByLot(cmd.Context(), lot)
				} else {
					list, err = a.Activities.ListAll(cmd.Context())
				}
				if err != nil {
					return err
				}
				printActivities(cmd.OutOrStdout(), list)
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&lot, "lot", "", "Only list activities of this lot")

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				act, err := a.Activities.GetByID(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if act == nil {
					return fmt.Errorf("activity %s not found", args[0])
				}
				printActivity(cmd.OutOrStdout(), *act)
				return nil
			})
		},
	}

	resetCmd := &cobra.Command{
		Use:   "reset <id>",
		Short: "Move a completed activity back to pending and drop its execution data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				if !a.Activities.Reset(cmd.Context(), args[0]) {
					return fmt.Errorf("resetting activity %s: %w", args[0], errOperationRefused)
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("✓"), "reset", args[0])
				return nil
			})
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an activity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				if !a.Activities.Delete(cmd.Context(), args[0]) {
					return fmt.Errorf("deleting activity %s: %w", args[0], errOperationRefused)
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme.SuccessStyle.Render("✓"), "deleted", args[0])
				return nil
			})
		},
	}

	cmd.AddCommand(listCmd, getCmd, resetCmd, deleteCmd)
	return cmd
}

func printActivities(w io.Writer, list []model.Activity) {
	if len(list) == 0 {
		fmt.Fprintln(w, theme.MutedStyle.Render("no activities"))
		return
	}
	rows := make([][]string, 0, len(list))
	for _, act := range list {
		rows = append(rows, []string{
			act.ID,
			string(act.Type),
			theme.StateStyle(string(act.State)).Render(string(act.State)),
			act.LotName,
			act.FieldName,
		})
	}
	fmt.Fprintln(w, theme.Table([]string{"ID", "TYPE", "STATE", "LOT", "FIELD"}, rows))
	fmt.Fprintln(w, theme.MutedStyle.Render(fmt.Sprintf("%d activities", len(list))))
}

func printActivity(w io.Writer, act model.Activity) {
	fmt.Fprintln(w, theme.HeaderStyle.Render(act.ID))
	line := func(label, value string) {
		if value != "" {
			fmt.Fprintf(w, "  %-16s %s\n", label, value)
		}
	}
	line("uuid", act.UUID)
	line("rev", act.Rev)
	line("type", string(act.Type))
	line("state", theme.StateStyle(string(act.State)).Render(string(act.State)))
	line("lot", act.LotID)
	line("lot name", act.LotName)
	line("field name", act.FieldName)
	line("comment", act.Comment)
	line("tentative date", act.Details.TentativeDate)
	line("execution date", act.Details.ExecutionDate)
	line("crop", act.Details.CropID)
	line("input", act.Details.InputID)
	if !act.UpdatedAt.IsZero() {
		line("updated", act.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
}
