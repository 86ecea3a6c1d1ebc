package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rbacctl",
		Short: "Operator tooling for the promoterhub permission engine",
		Long: `rbacctl inspects the role and permission catalog, evaluates single
decisions against an in-memory grant store for policy debugging, and applies
database migrations.`,
		SilenceUsage: true,
	}
	root.AddCommand(newCatalogCmd())
	root.AddCommand(newCheckCmd())
	root.AddCommand(newMigrateCmd())
	return root
}
