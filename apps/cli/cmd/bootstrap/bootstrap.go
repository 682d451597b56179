package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	sqlassets "github.com/arcims/arcims-platform/database"
	"github.com/arcims/arcims-platform/platform/go/persistence"
)

// Command groups bootstrap helpers.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Bootstrap platform resources (tenant registry schema)",
	}

	cmd.AddCommand(databaseCommand())
	return cmd
}

func databaseCommand() *cobra.Command {
	var databaseURL string

	c := &cobra.Command{
		Use:   "database",
		Short: "Apply the tenant registry DDL (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
			if err != nil {
				return fmt.Errorf("init pool: %w", err)
			}
			defer persistence.ClosePool(pool)

			for _, raw := range strings.Split(sqlassets.TenantsSQL, ";") {
				stmt := strings.TrimSpace(raw)
				if stmt == "" {
					continue
				}
				if _, err := pool.Exec(ctx, stmt); err != nil {
					return fmt.Errorf("apply tenants ddl: %w", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), "tenant registry schema applied")
			return nil
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	_ = c.MarkFlagRequired("database-url")
	return c
}
