package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/cli"
	"github.com/example/approvals/internal/config"
	"github.com/example/approvals/internal/version"
	"github.com/example/approvals/internal/wire"
)

func main() {
	var (
		actor     string
		asJSON    bool
		configDir string
	)

	rootCmd := &cobra.Command{
		Use:     "approvals",
		Short:   "Approvals - lifecycle tracking for approval requests",
		Version: version.String(),
		Long: `Approvals files requests (deployments, access, technical changes, ...)
and tracks them through review to approval, rejection or cancellation,
keeping a full audit history and notifying the people involved.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cli.SetActor(actor)
			cli.SetJSON(asJSON)

			// init writes the config; everything else reads it
			if cmd.Name() == "init" || cmd.Name() == "version" {
				return nil
			}
			cfg, err := config.Load(configDir)
			if err != nil {
				return err
			}
			wire.SetConfig(cfg)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&actor, "as", "", "Acting user (defaults to $APPROVALS_USER or $USER)")
	rootCmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print the JSON request view")
	rootCmd.PersistentFlags().StringVar(&configDir, "dir", ".", "Project directory containing .approvals/config.yaml")

	rootCmd.AddCommand(cli.InitCmd())
	rootCmd.AddCommand(cli.RequestCmd())
	rootCmd.AddCommand(cli.StatsCmd())
	rootCmd.AddCommand(cli.DashboardCmd())
	rootCmd.AddCommand(cli.ServeCmd())

	// Developer tools
	rootCmd.AddCommand(cli.DevCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.String())
		},
	})

	err := rootCmd.Execute()
	if cerr := wire.Close(); cerr != nil {
		fmt.Fprintln(os.Stderr, cerr)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
