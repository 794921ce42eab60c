package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	Long: `Applies all pending schema migrations and prints the migration
history. The serve command migrates automatically; this exists for
deployments that migrate as a separate step.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	pool, _, err := connectPool()
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx := context.Background()
	if err := migratePool(ctx, pool); err != nil {
		return err
	}

	applied, err := pool.MigrationsApplied(ctx)
	if err != nil {
		return fmt.Errorf("failed to list applied migrations: %w", err)
	}

	fmt.Printf("Schema is up to date (%d migrations applied)\n", len(applied))
	for _, version := range applied {
		fmt.Printf("  %s\n", version)
	}
	return nil
}
