package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	stats, err := a.svc.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	if stats.DBPath != "" {
		if info, err := os.Stat(stats.DBPath); err == nil {
			stats.DBSizeBytes = info.Size()
		}
	}

	printJSON(stats)
}
