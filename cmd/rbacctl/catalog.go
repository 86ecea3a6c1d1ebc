package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/promoterhub/promoterhub/internal/rbac"
)

func newCatalogCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the role and permission catalog",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")

	cmd.AddCommand(&cobra.Command{
		Use:   "roles",
		Short: "List roles in ascending rank with their default permissions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			views := rbac.RoleViews()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), views)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RANK\tROLE\tDEFAULTS")
			for _, v := range views {
				fmt.Fprintf(tw, "%d\t%s\t%d\n", v.Rank, v.Name, len(v.Permissions))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "permissions",
		Short: "List permissions grouped by category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			byCategory := rbac.PermissionsByCategory()
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), byCategory)
			}
			categories := make([]string, 0, len(byCategory))
			for c := range byCategory {
				categories = append(categories, c)
			}
			sort.Strings(categories)

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CATEGORY\tPERMISSION\tMINIMUM ROLE")
			for _, c := range categories {
				for _, p := range byCategory[c] {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", c, p.ID, minimumRole(p.ID))
				}
			}
			return tw.Flush()
		},
	})

	return cmd
}

// minimumRole is the lowest ranked role holding id by default.
func minimumRole(id string) string {
	for _, r := range rbac.Roles() {
		if rbac.HoldsByDefault(r, id) {
			return r.String()
		}
	}
	return "-"
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitScoped(raw string) (permission, scope string) {
	permission, scope, _ = strings.Cut(raw, "@")
	return permission, scope
}
