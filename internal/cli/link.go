package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link",
		Short: "Create or remove relations between fragments",
		Run:   runLink,
	}

	cmd.Flags().String("from", "", "Source fragment ID")
	cmd.Flags().String("to", "", "Target fragment ID")
	cmd.Flags().StringP("rel", "r", "", "Relation: relates_to, contradicts, depends_on, refines")
	cmd.Flags().Bool("rm", false, "Remove the link")

	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("rel")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	from, _ := cmd.Flags().GetString("from")
	to, _ := cmd.Flags().GetString("to")
	rel, _ := cmd.Flags().GetString("rel")
	rm, _ := cmd.Flags().GetBool("rm")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	link := model.Link{FromID: from, ToID: to, Rel: rel}
	if rm {
		err = a.svc.Unlink(cmd.Context(), link)
	} else {
		err = a.svc.Link(cmd.Context(), link)
	}
	if err != nil {
		exitErr("link", err)
	}

	printJSON(struct {
		model.Link
		Removed bool `json:"removed,omitempty"`
	}{link, rm})
}
