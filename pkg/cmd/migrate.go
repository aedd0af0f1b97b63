package cmd

import (
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"

	"github.com/authzed/hashgraph/internal/datastore/postgres"
	cmddatastore "github.com/authzed/hashgraph/pkg/cmd/datastore"
)

// newMigrateCommand applies the postgres schema, refusing to run against
// anything but the postgres engine — the memory engine has no schema to
// migrate.
func newMigrateCommand(config *cmddatastore.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the postgres schema to the configured database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if config.Engine != cmddatastore.PostgresEngine {
				return fmt.Errorf("migrate: datastore-engine must be %q, got %q", cmddatastore.PostgresEngine, config.Engine)
			}
			if config.PostgresURI == "" {
				return fmt.Errorf("migrate: datastore-postgres-uri is required")
			}

			ctx := cmd.Context()
			pool, err := pgxpool.Connect(ctx, config.PostgresURI)
			if err != nil {
				return fmt.Errorf("migrate: connect: %w", err)
			}
			defer pool.Close()

			if err := postgres.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			cmd.Println("migration applied")
			return nil
		},
	}
}
