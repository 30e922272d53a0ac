package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/ingest"
)

var syncCmd = &cobra.Command{
	Use:   "sync [source-id...]",
	Short: "Scan sources and re-index what changed",
	Long: `Scan the given sources (all registered sources when none are given)
and bring the index in line with their current content. Unchanged
documents are skipped; only added, changed, and removed documents touch
the index.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	sys, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx := cmd.Context()
	if len(args) == 0 {
		reports, err := sys.ProcessAll(ctx)
		for _, r := range reports {
			printReport(r)
		}
		return err
	}

	for _, id := range args {
		report, err := sys.Process(ctx, id)
		if err != nil {
			return err
		}
		printReport(report)
	}
	return nil
}

func printReport(r *ingest.Report) {
	if r.Skipped {
		fmt.Printf("%s: unchanged (%d documents)\n", r.SourceID, r.Unchanged)
		return
	}
	fmt.Printf("%s: +%d added, ~%d updated, -%d removed, %d unchanged, %d failed (%s)\n",
		r.SourceID, r.Added, r.Updated, r.Removed, r.Unchanged, r.Failed, r.Duration.Round(time.Millisecond))
	for _, f := range r.Failures {
		fmt.Printf("  failed %s: %s\n", f.Path, f.Err)
	}
}
