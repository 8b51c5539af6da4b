package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/config"
	"github.com/example/approvals/internal/db"
	"github.com/example/approvals/internal/ports/primary"
	"github.com/example/approvals/internal/wire"
)

// DevCmd returns the dev command group for development utilities.
func DevCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dev",
		Short: "Development utilities",
		Long: `Development utilities for working with a local approvals store.

These commands write fixture data. Point them at a scratch store, e.g.
APPROVALS_SQLITE_PATH=/tmp/approvals-dev.db approvals dev reset`,
	}

	cmd.AddCommand(devResetCmd())
	cmd.AddCommand(devSeedCmd())
	return cmd
}

func devResetCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Recreate the SQLite database with fixtures",
		Long: `Delete the SQLite database and recreate it with one fixture per state.

Safety: requires APPROVALS_SQLITE_PATH to be set so the default database
in ~/.approvals is never reset by accident.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath := os.Getenv("APPROVALS_SQLITE_PATH")
			if dbPath == "" {
				return fmt.Errorf("APPROVALS_SQLITE_PATH not set\n\nThis safety check prevents accidental reset of your default database")
			}

			if !force {
				fmt.Printf("This will delete and recreate: %s\n", dbPath)
				fmt.Print("Continue? [y/N] ")
				var response string
				fmt.Scanln(&response)
				if response != "y" && response != "Y" {
					fmt.Println("Aborted.")
					return nil
				}
			}

			if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete database: %w", err)
			}
			fmt.Printf("✓ Deleted %s\n", dbPath)

			database, err := db.Open(dbPath)
			if err != nil {
				return fmt.Errorf("failed to create database: %w", err)
			}
			defer database.Close()
			fmt.Println("✓ Created fresh database with schema")

			if err := db.SeedFixtures(database); err != nil {
				return fmt.Errorf("failed to seed fixtures: %w", err)
			}
			fmt.Println("✓ Seeded 5 requests, one per state")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Skip confirmation prompt")
	return cmd
}

func devSeedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Create sample requests through the service on any backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			if wire.Config().Backend == config.BackendSQLite && os.Getenv("APPROVALS_SQLITE_PATH") == "" {
				return fmt.Errorf("APPROVALS_SQLITE_PATH not set; refusing to seed the default database")
			}

			n, err := SeedSamples(NewContext(), wire.RequestService())
			if err != nil {
				return err
			}
			fmt.Printf("✓ Seeded %d requests\n", n)
			return nil
		},
	}
}

// sample is a request to create plus the transitions to replay on it.
type sample struct {
	create primary.CreateRequestRequest
	steps  []primary.TransitionRequestRequest
}

var samples = []sample{
	{
		create: primary.CreateRequestRequest{Title: "Deploy billing v2", Description: "Roll out billing service v2 to production", Requester: "jdoe", Approver: "asmith", Type: "despliegue"},
	},
	{
		create: primary.CreateRequestRequest{Title: "VPN access for on-call", Description: "Grant VPN access for the on-call rotation", Requester: "mlopez", Approver: "asmith", Type: "acceso"},
		steps:  []primary.TransitionRequestRequest{{NewState: "in_review", Actor: "asmith"}},
	},
	{
		create: primary.CreateRequestRequest{Title: "Rotate database credentials", Description: "Rotate the primary database credentials", Requester: "jdoe", Approver: "rgarcia", Type: "cambio_tecnico"},
		steps: []primary.TransitionRequestRequest{
			{NewState: "in_review", Actor: "rgarcia"},
			{NewState: "approved", Actor: "rgarcia", Comment: "Approved for the maintenance window"},
		},
	},
	{
		create: primary.CreateRequestRequest{Title: "Add lint stage to pipeline", Description: "Add a lint stage before the test stage", Requester: "kwong", Approver: "rgarcia", Type: "pipeline"},
		steps:  []primary.TransitionRequestRequest{{NewState: "rejected", Actor: "rgarcia", Comment: "Lint already runs in pre-commit"}},
	},
	{
		create: primary.CreateRequestRequest{Title: "Onboard new SRE", Description: "Create accounts and access for the new SRE", Requester: "asmith", Approver: "jdoe", Type: "incorporacion"},
		steps:  []primary.TransitionRequestRequest{{NewState: "cancelled", Actor: "asmith"}},
	},
}

// SeedSamples files one request per state through service and returns how many were created.
func SeedSamples(ctx context.Context, service primary.RequestService) (int, error) {
	for i, s := range samples {
		created, err := service.CreateRequest(ctx, s.create)
		if err != nil {
			return i, fmt.Errorf("failed to seed %q: %w", s.create.Title, err)
		}
		for _, step := range s.steps {
			step.ID = created.ID
			if _, err := service.TransitionRequest(ctx, step); err != nil {
				return i, fmt.Errorf("failed to seed %q: %w", s.create.Title, err)
			}
		}
	}
	return len(samples), nil
}
