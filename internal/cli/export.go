package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export personas, fragments and links as JSON",
		Long:  "Export everything as a single JSON document. Filter by persona with -p.",
		Run:   runExport,
	}

	cmd.Flags().StringP("persona", "p", "", "Filter by persona")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	persona, _ := cmd.Flags().GetString("persona")

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	dump, err := a.svc.Export(cmd.Context(), persona)
	if err != nil {
		exitErr("export", err)
	}

	printJSON(dump)
}
