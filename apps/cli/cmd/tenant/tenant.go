package tenantcmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/arcims/arcims-platform/domains/tenants/be/repo"
	"github.com/arcims/arcims-platform/domains/tenants/be/service"
	"github.com/arcims/arcims-platform/platform/go/persistence"
)

// Command groups tenant-related helpers. These talk to the registry database
// directly and bypass the API, so they are for operators only.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Tenant utilities (create/inspect/set-state)",
	}

	cmd.AddCommand(createCommand())
	cmd.AddCommand(getCommand())
	cmd.AddCommand(setStateCommand())
	return cmd
}

func createCommand() *cobra.Command {
	var (
		databaseURL string
		externalID  string
		email       string
		companyName string
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Register a tenant in the pending state",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			svc, closeFn, err := buildService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			input := service.CreateInput{
				ExternalIdentityID: externalID,
				Email:              email,
			}
			if companyName != "" {
				input.CompanyName = &companyName
			}

			t, err := svc.Create(ctx, input)
			if err != nil {
				return fmt.Errorf("create tenant: %w", err)
			}
			return printTenant(cmd, t)
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&externalID, "external-id", "", "Identity-provider user id")
	c.Flags().StringVar(&email, "email", "", "Contact email")
	c.Flags().StringVar(&companyName, "company", "", "Company name (optional)")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("external-id")
	_ = c.MarkFlagRequired("email")
	return c
}

func getCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
	)

	c := &cobra.Command{
		Use:   "get",
		Short: "Print one tenant record",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			svc, closeFn, err := buildService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			t, err := svc.GetByID(ctx, id)
			if err != nil {
				return fmt.Errorf("get tenant: %w", err)
			}
			return printTenant(cmd, t)
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&tenantID, "id", "", "Tenant id")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("id")
	return c
}

func setStateCommand() *cobra.Command {
	var (
		databaseURL string
		tenantID    string
		state       string
	)

	c := &cobra.Command{
		Use:   "set-state",
		Short: "Manually edit a tenant's onboarding state (ready is reserved)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()

			id, err := uuid.Parse(tenantID)
			if err != nil {
				return fmt.Errorf("parse tenant id: %w", err)
			}

			svc, closeFn, err := buildService(ctx, databaseURL)
			if err != nil {
				return err
			}
			defer closeFn()

			t, err := svc.UpdateState(ctx, id, state)
			if err != nil {
				return fmt.Errorf("update state: %w", err)
			}
			return printTenant(cmd, t)
		},
	}

	c.Flags().StringVar(&databaseURL, "database-url", "", "Postgres connection string")
	c.Flags().StringVar(&tenantID, "id", "", "Tenant id")
	c.Flags().StringVar(&state, "state", "", "Target state (pending|connecting|syncing)")
	_ = c.MarkFlagRequired("database-url")
	_ = c.MarkFlagRequired("id")
	_ = c.MarkFlagRequired("state")
	return c
}

func buildService(ctx context.Context, databaseURL string) (*service.Service, func(), error) {
	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: databaseURL})
	if err != nil {
		return nil, nil, fmt.Errorf("init pool: %w", err)
	}

	store, err := persistence.NewTenantStore(ctx, pool)
	if err != nil {
		persistence.ClosePool(pool)
		return nil, nil, fmt.Errorf("init tenant store: %w", err)
	}

	svc := service.New(repo.NewPostgresRepository(store))
	return svc, func() { persistence.ClosePool(pool) }, nil
}

func printTenant(cmd *cobra.Command, t service.Tenant) error {
	out, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
