package commands

import (
	"fmt"
	"path/filepath"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/usage"
	"github.com/spf13/cobra"
)

// newUsageCmd creates the `rumpbot usage` command that prints cost rollups.
func newUsageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show invocation cost and token totals",
		RunE:  runUsage,
	}
	cmd.Flags().Int("days", 14, "how many days of daily rollups to show")
	return cmd
}

func runUsage(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := buildLogger(cmd, cfg)

	log, err := usage.Open(filepath.Join(cfg.DataDir, "rumpbot.db"), logger)
	if err != nil {
		return err
	}
	defer log.Close()

	totals, err := log.AllTime()
	if err != nil {
		return err
	}
	fmt.Printf("All time: %d calls, $%.4f, %d turns, %d errors\n",
		totals.Calls, totals.CostUSD, totals.Turns, totals.Errors)
	fmt.Printf("Wall time: %s, API time: %s\n",
		msToDuration(totals.WallMS), msToDuration(totals.APIMS))

	days, _ := cmd.Flags().GetInt("days")
	daily, err := log.Daily(days)
	if err != nil {
		return err
	}
	if len(daily) > 0 {
		fmt.Println("\nDaily:")
		for _, d := range daily {
			fmt.Printf("  %s  %4d calls  $%.4f\n", d.Day, d.Calls, d.CostUSD)
		}
	}
	return nil
}

func msToDuration(ms int64) string {
	return fmt.Sprintf("%.1fm", float64(ms)/60000)
}
