package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/persona-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import an export document",
		Long:  "Import personas, fragments and links from a file or stdin. Expects the format produced by export. Existing fragment IDs are skipped.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var r io.Reader = os.Stdin
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			exitErr("open file", err)
		}
		defer f.Close()
		r = f
	}

	var dump store.Export
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		exitErr("parse json", err)
	}

	a, err := openApp()
	if err != nil {
		exitErr("open", err)
	}
	defer a.close()

	imported, err := a.svc.Import(cmd.Context(), &dump)
	if err != nil {
		exitErr("import", err)
	}

	fmt.Printf(`{"ok":true,"imported":%d,"total":%d}`+"\n", imported, len(dump.Fragments))
}
