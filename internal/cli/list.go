package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a persona's fragments",
		Run:   runList,
	}

	cmd.Flags().StringP("persona", "p", "", "Persona ID (required)")
	cmd.Flags().String("tier", "", "Comma-separated tiers: working, short_term, long_term")
	cmd.Flags().Int("top", 0, "Only the N most important fragments")
	cmd.Flags().Bool("ids-only", false, "Only output tier and id")

	cmd.MarkFlagRequired("persona")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")
	tierStr, _ := cmd.Flags().GetString("tier")
	top, _ := cmd.Flags().GetInt("top")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	tiers, err := parseTiers(splitList(tierStr))
	if err != nil {
		exitErr("list", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	var frags []model.Fragment
	if top > 0 {
		frags, err = a.svc.Top(cmd.Context(), persona, top)
	} else {
		frags, err = a.svc.List(cmd.Context(), persona, tiers...)
	}
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, f := range frags {
			fmt.Printf("%s\t%s\n", f.Tier, f.ID)
		}
		return
	}

	if frags == nil {
		frags = []model.Fragment{}
	}
	for i := range frags {
		frags[i].Embedding = nil
	}
	printJSON(frags)
}
