package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List registered sources",
	Args:  cobra.NoArgs,
	RunE:  runSources,
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func runSources(cmd *cobra.Command, args []string) error {
	sys, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	sources, err := sys.Sources(cmd.Context())
	if err != nil {
		return err
	}
	if len(sources) == 0 {
		fmt.Println("No sources registered. Add one with 'quarry add'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKIND\tNAME\tSTATUS\tDOCS\tMONITOR\tLAST ERROR")
	for _, src := range sources {
		monitor := "-"
		if src.Monitoring {
			monitor = "on"
		}
		lastErr := src.LastError
		if len(lastErr) > 60 {
			lastErr = lastErr[:57] + "..."
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			src.ID, src.Kind, src.Name, src.Status, src.DocumentCount, monitor, lastErr)
	}
	return w.Flush()
}
