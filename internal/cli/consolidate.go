package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "consolidate",
		Short: "Run one consolidation pass now",
		Long:  "Rescore importance, promote fragments up the tiers and evict long-term fragments over quota.",
		Run:   runConsolidate,
	}

	cmd.Flags().StringP("persona", "p", "", "Only this persona (default: all)")

	RootCmd.AddCommand(cmd)
}

type runOutput struct {
	memory.RunReport
	Errors []string `json:"errors,omitempty"`
}

func runConsolidate(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	var reports []memory.RunReport
	if persona != "" {
		report, err := a.svc.Consolidate(cmd.Context(), persona)
		if err != nil {
			exitErr("consolidate", err)
		}
		reports = append(reports, *report)
	} else {
		reports, err = a.svc.ConsolidateAll(cmd.Context())
		if err != nil {
			exitErr("consolidate", err)
		}
	}

	out := make([]runOutput, 0, len(reports))
	for _, r := range reports {
		o := runOutput{RunReport: r}
		for _, e := range r.Errors {
			o.Errors = append(o.Errors, e.Error())
		}
		out = append(out, o)
	}
	printJSON(out)
}
