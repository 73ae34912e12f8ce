package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lyzr/refinery/cmd/refiner/repository"
	"github.com/lyzr/refinery/common/config"
	"github.com/lyzr/refinery/common/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or roll back database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return err
		}
		switch cfg.Database.Driver {
		case "sqlite":
			// opening the store migrates it
			store, err := repository.OpenSQLite(cmd.Context(), cfg.Database.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
		default:
			if err := migrate.Up(cmd.Context(), cfg.DatabaseURL()); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrations applied (%s)\n", cfg.Database.Driver)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(serviceName)
		if err != nil {
			return err
		}
		switch cfg.Database.Driver {
		case "sqlite":
			store, err := repository.OpenSQLite(cmd.Context(), cfg.Database.SQLitePath)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Rollback(cmd.Context()); err != nil {
				return err
			}
		default:
			if err := migrate.Down(cmd.Context(), cfg.DatabaseURL()); err != nil {
				return err
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "migrations rolled back (%s)\n", cfg.Database.Driver)
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}
