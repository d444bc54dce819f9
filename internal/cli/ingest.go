package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/memory"
	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "ingest [content]",
		Short: "Remember a conversational event",
		Long:  "Store an event as a working-memory fragment. Content can be a positional arg or piped via stdin.",
		Run:   runIngest,
	}

	cmd.Flags().StringP("persona", "p", "", "Persona ID (required)")
	cmd.Flags().String("category", "CHAT", "Category: CHAT, ACTION, EVENT, RELATIONSHIP, CONTEXT")
	cmd.Flags().StringP("source", "s", "", "Where the event came from")
	cmd.Flags().StringP("user", "u", "", "User the event involves")
	cmd.Flags().Float64P("importance", "i", 0, "Importance 1-10 (default 5)")
	cmd.Flags().Float64P("emotion", "e", 0, "Emotional impact -10..10")
	cmd.Flags().String("at", "", "Event time, RFC3339 (default now)")

	cmd.MarkFlagRequired("persona")

	RootCmd.AddCommand(cmd)
}

func runIngest(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")
	category, _ := cmd.Flags().GetString("category")
	source, _ := cmd.Flags().GetString("source")
	user, _ := cmd.Flags().GetString("user")
	importance, _ := cmd.Flags().GetFloat64("importance")
	emotion, _ := cmd.Flags().GetFloat64("emotion")
	at, _ := cmd.Flags().GetString("at")

	// Get content: positional arg first, then check stdin
	var content string
	if len(args) > 0 {
		content = strings.Join(args, " ")
	} else {
		stat, _ := os.Stdin.Stat()
		if (stat.Mode() & os.ModeCharDevice) == 0 {
			b, err := io.ReadAll(os.Stdin)
			if err != nil {
				exitErr("read stdin", err)
			}
			content = string(b)
		}
	}

	if strings.TrimSpace(content) == "" {
		exitErr("ingest", fmt.Errorf("content is required (positional arg or stdin)"))
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	id, err := a.svc.Ingest(cmd.Context(), memory.IngestRequest{
		PersonaID:       persona,
		Content:         strings.TrimSpace(content),
		Timestamp:       parseTime("at", at),
		Source:          source,
		Category:        model.Category(strings.ToUpper(category)),
		UserID:          user,
		Importance:      importance,
		EmotionalImpact: emotion,
	})
	if err != nil {
		exitErr("ingest", err)
	}

	// wait for the embedding so the printed fragment is final
	a.drain()

	f, err := a.svc.Get(cmd.Context(), id)
	if err != nil {
		exitErr("get", err)
	}
	f.Embedding = nil
	printJSON(f)
}
