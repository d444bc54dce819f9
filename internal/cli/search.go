package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/memory"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Recall memories by meaning and keywords",
		Long:  "Hybrid search: dense similarity and keyword overlap, weighted by recency, importance and emotion.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}

	cmd.Flags().StringP("persona", "p", "", "Persona ID (required)")
	cmd.Flags().String("tier", "", "Comma-separated tiers: working, short_term, long_term")
	cmd.Flags().String("category", "", "Comma-separated categories")
	cmd.Flags().String("since", "", "Only events at or after this RFC3339 time")
	cmd.Flags().String("until", "", "Only events at or before this RFC3339 time")
	cmd.Flags().StringP("user", "u", "", "Favour events involving this user")
	cmd.Flags().String("related", "", "Favour fragments linked to these comma-separated IDs")
	cmd.Flags().IntP("limit", "l", 10, "Max results")

	cmd.MarkFlagRequired("persona")

	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")
	tierStr, _ := cmd.Flags().GetString("tier")
	categoryStr, _ := cmd.Flags().GetString("category")
	since, _ := cmd.Flags().GetString("since")
	until, _ := cmd.Flags().GetString("until")
	user, _ := cmd.Flags().GetString("user")
	related, _ := cmd.Flags().GetString("related")
	limit, _ := cmd.Flags().GetInt("limit")

	tiers, err := parseTiers(splitList(tierStr))
	if err != nil {
		exitErr("search", err)
	}
	categories, err := parseCategories(splitList(categoryStr))
	if err != nil {
		exitErr("search", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	results, err := a.svc.Search(cmd.Context(), memory.Query{
		PersonaID:  persona,
		Text:       strings.Join(args, " "),
		Tiers:      tiers,
		Categories: categories,
		Since:      parseTime("since", since),
		Until:      parseTime("until", until),
		UserID:     user,
		RelatedTo:  splitList(related),
		Limit:      limit,
	})
	if err != nil {
		exitErr("search", err)
	}

	for i := range results {
		results[i].Fragment.Embedding = nil
	}
	printJSON(results)
}
