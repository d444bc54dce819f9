package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "related <id>",
		Short: "Find fragments with a similar embedding",
		Args:  cobra.ExactArgs(1),
		Run:   runRelated,
	}

	cmd.Flags().Float64("threshold", 0.5, "Minimum cosine similarity")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	RootCmd.AddCommand(cmd)
}

func runRelated(cmd *cobra.Command, args []string) {
	threshold, _ := cmd.Flags().GetFloat64("threshold")
	limit, _ := cmd.Flags().GetInt("limit")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	related, err := a.svc.Related(cmd.Context(), args[0], threshold, limit)
	if err != nil {
		exitErr("related", err)
	}

	if related == nil {
		related = []store.ScoredFragment{}
	}
	for i := range related {
		related[i].Fragment.Embedding = nil
	}
	printJSON(related)
}
