package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Monitor sources and re-index on change",
	Long: `Watch all sources with monitoring enabled. Local files and folders are
observed through file-system events; repositories, drive folders, and
web pages are re-scanned on the configured poll interval. Runs until
interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	sys, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for ev := range sys.Events() {
			if ev.Err != "" {
				fmt.Printf("%s  %s: %s\n", ev.SourceID, ev.Status, ev.Err)
				continue
			}
			fmt.Printf("%s  %s: %d documents, %d chunks\n",
				ev.SourceID, ev.Status, ev.Documents, ev.Chunks)
		}
	}()

	fmt.Println("Watching for changes. Press Ctrl+C to stop.")
	return sys.Watch(ctx)
}
