package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/model"
)

func init() {
	personasCmd := &cobra.Command{
		Use:   "personas",
		Short: "Persona management",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all personas",
		Run:   runPersonasList,
	}

	personasCmd.AddCommand(listCmd)
	RootCmd.AddCommand(personasCmd)
}

func runPersonasList(cmd *cobra.Command, args []string) {
	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	personas, err := a.svc.Personas(cmd.Context())
	if err != nil {
		exitErr("list personas", err)
	}
	if personas == nil {
		personas = []model.Persona{}
	}

	printJSON(personas)
}
