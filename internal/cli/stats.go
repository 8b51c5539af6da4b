package cli

import (
	"github.com/spf13/cobra"

	"github.com/example/approvals/internal/app"
	"github.com/example/approvals/internal/wire"
)

// StatsCmd returns the stats command.
func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show request counts by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.RequestAdapter().JSON(globalJSON).Stats(NewContext())
		},
	}
}

// DashboardCmd returns the dashboard command.
func DashboardCmd() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show stats and the most recent requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.RequestAdapter().JSON(globalJSON).Dashboard(NewContext(), recent)
		},
	}

	cmd.Flags().IntVarP(&recent, "recent", "n", app.DefaultDashboardSize, "Number of recent requests to show")
	return cmd
}
