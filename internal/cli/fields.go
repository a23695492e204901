package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/app"
	"github.com/gmontielDeltree/fieldpartner-backoffice-sub001/internal/theme"
)

func newFieldsCommand(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "fields",
		Aliases: []string{"field"},
		Short:   "Inspect fields and the lot index",
	}

	indexCmd := &cobra.Command{
		Use:   "index",
		Short: "Build and print the lot index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				idx, err := a.Fields.BuildIndex(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if idx.Len() == 0 {
					fmt.Fprintln(w, theme.MutedStyle.Render("no lots indexed"))
					return nil
				}
				rows := make([][]string, 0, idx.Len())
				for _, e := range idx.Entries() {
					rows = append(rows, []string{e.ID, e.LotName, e.FieldName, e.OwnerAccountID})
				}
				fmt.Fprintln(w, theme.Table([]string{"ID", "LOT", "FIELD", "OWNER"}, rows))
				fmt.Fprintln(w, theme.MutedStyle.Render(fmt.Sprintf("%d entries", idx.Len())))
				return nil
			})
		},
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List fields and lots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.withApp(cmd, func(a *app.App) error {
				list, err := a.Fields.ListFields(cmd.Context())
				if err != nil {
					return err
				}
				w := cmd.OutOrStdout()
				if len(list) == 0 {
					fmt.Fprintln(w, theme.MutedStyle.Render("no fields"))
					return nil
				}
				rows := make([][]string, 0, len(list))
				for _, f := range list {
					surface := ""
					if f.SurfaceArea != nil {
						surface = fmt.Sprintf("%.2f", *f.SurfaceArea)
					}
					rows = append(rows, []string{f.ID, f.Name, f.ParentFieldName, f.OwnerAccountID, surface})
				}
				fmt.Fprintln(w, theme.Table([]string{"ID", "NAME", "PARENT", "OWNER", "SURFACE"}, rows))
				return nil
			})
		},
	}

	cmd.AddCommand(indexCmd, listCmd)
	return cmd
}
