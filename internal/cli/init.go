package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/config"
	"github.com/example/approvals/internal/wire"
)

// InitCmd returns the init command
func InitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write .approvals/config.yaml and prepare the storage backend",
		Long: `Write a config file in the current directory and initialize storage.

Flags override the defaults; anything left unset can still be changed later
in .approvals/config.yaml or through APPROVALS_* environment variables.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}

			path := config.Path(wd)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			cfg := config.Default()
			flags := cmd.Flags()
			if flags.Changed("backend") {
				cfg.Backend, _ = flags.GetString("backend")
			}
			if flags.Changed("sqlite-path") {
				cfg.SQLite.Path, _ = flags.GetString("sqlite-path")
			}
			if flags.Changed("postgres-url") {
				cfg.Postgres.URL, _ = flags.GetString("postgres-url")
			}
			if flags.Changed("jsonfile-path") {
				cfg.JSONFile.Path, _ = flags.GetString("jsonfile-path")
			}
			if flags.Changed("redis-addr") {
				cfg.Redis.Addr, _ = flags.GetString("redis-addr")
			}
			if flags.Changed("notifier") {
				cfg.Notifier.Kind, _ = flags.GetString("notifier")
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			_, closer, err := wire.NewRepository(ctx, cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize %s storage: %w", cfg.Backend, err)
			}
			if closer != nil {
				closer.Close()
			}
			fmt.Printf("✓ Storage ready (%s)\n", cfg.Backend)

			if err := config.Save(wd, cfg); err != nil {
				return err
			}
			fmt.Printf("✓ Config written to %s\n", path)
			fmt.Println()
			fmt.Println("Next steps:")
			fmt.Println("  approvals request create \"Deploy billing v2\" -d \"Roll out billing v2\" -a asmith -t despliegue")
			fmt.Println("  approvals dashboard")
			return nil
		},
	}

	cmd.Flags().String("backend", config.BackendSQLite, "Storage backend: sqlite, postgres, jsonfile or redis")
	cmd.Flags().String("sqlite-path", "", "SQLite database path (default ~/.approvals/approvals.db)")
	cmd.Flags().String("postgres-url", "", "PostgreSQL connection URL")
	cmd.Flags().String("jsonfile-path", "", "JSON document path")
	cmd.Flags().String("redis-addr", "", "Redis address")
	cmd.Flags().String("notifier", config.NotifierLog, "Notifier: log, smtp or none")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")
	return cmd
}
