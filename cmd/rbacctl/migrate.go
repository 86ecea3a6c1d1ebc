package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/promoterhub/promoterhub/internal/platform/config"
	"github.com/promoterhub/promoterhub/internal/platform/database"
	"github.com/promoterhub/promoterhub/migrations"
)

func newMigrateCmd() *cobra.Command {
	var (
		databaseURL string
		configPath  string
	)

	open := func() (*database.Migrator, error) {
		url := databaseURL
		if url == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, fmt.Errorf("loading config: %w", err)
			}
			url = cfg.Database.URL
		}
		if url == "" {
			return nil, errors.New("no database url: pass --database-url or set PROMOTERHUB_DATABASE_URL")
		}
		return database.NewMigrator(url, migrations.FS)
	}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back the embedded schema migrations",
	}
	cmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "PostgreSQL URL (defaults to database.url from config)")
	cmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = mg.Close() }()

			applied, err := mg.Up()
			if err != nil {
				return err
			}
			if !applied {
				fmt.Fprintln(cmd.OutOrStdout(), "no change")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = mg.Close() }()

			if err := mg.Down(steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mg, err := open()
			if err != nil {
				return err
			}
			defer func() { _ = mg.Close() }()

			version, dirty, ok, err := mg.Version()
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
			return nil
		},
	})

	return cmd
}
