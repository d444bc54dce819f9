package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context <id>",
		Short: "Reconstruct the conversation around a fragment",
		Long:  "Return every fragment of the same persona within --window of the given fragment, oldest first.",
		Args:  cobra.ExactArgs(1),
		Run:   runContext,
	}

	cmd.Flags().DurationP("window", "w", 0, "Half-width of the time window (default: memory.context_reconstruction_window_minutes)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	window, _ := cmd.Flags().GetDuration("window")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	frags, err := a.svc.Reconstruct(cmd.Context(), args[0], window)
	if err != nil {
		exitErr("context", err)
	}

	if frags == nil {
		frags = []model.Fragment{}
	}
	for i := range frags {
		frags[i].Embedding = nil
	}
	printJSON(frags)
}
