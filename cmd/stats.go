package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats [source-id]",
	Short: "Show indexed document and chunk counts",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sys, err := openSystem(cmd)
		if err != nil {
			return err
		}
		defer sys.Close()

		var sourceID string
		if len(args) == 1 {
			sourceID = args[0]
		}
		stats, err := sys.Stats(cmd.Context(), sourceID)
		if err != nil {
			return err
		}
		fmt.Printf("Documents: %d\nChunks:    %d\n", stats.Documents, stats.Chunks)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}
