package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Retrieve a fragment",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("links", false, "Include the fragment's relations")
	cmd.Flags().Bool("embedding", false, "Include the dense vector")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	withLinks, _ := cmd.Flags().GetBool("links")
	withEmbedding, _ := cmd.Flags().GetBool("embedding")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	f, err := a.svc.Get(cmd.Context(), args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !withEmbedding {
		f.Embedding = nil
	}

	if !withLinks {
		printJSON(f)
		return
	}

	links, err := a.svc.Links(cmd.Context(), f.ID)
	if err != nil {
		exitErr("links", err)
	}
	if links == nil {
		links = []model.Link{}
	}
	printJSON(struct {
		*model.Fragment
		Links []model.Link `json:"links"`
	}{f, links})
}
