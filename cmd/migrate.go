package cmd

import (
	"fmt"
	"strconv"

	"github.com/DolevBitran/dynamic-products-scraper/pkg/database"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.RunMigrations()
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations, one step by default",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		db, err := openDatabase(cmd)
		if err != nil {
			return err
		}
		defer db.Close()
		return db.RollbackMigrations(steps)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	RootCmd.AddCommand(migrateCmd)
}

func openDatabase(cmd *cobra.Command) (*database.DB, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return database.Open(cmd.Context(), cfg.Database, logger)
}
