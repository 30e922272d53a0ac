package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/retrieve"
)

var (
	queryTopK   int
	querySource string
)

var queryCmd = &cobra.Command{
	Use:   "query [text...]",
	Short: "Search the indexed corpus",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runQuery,
}

func init() {
	queryCmd.Flags().IntVarP(&queryTopK, "top-k", "k", 0, "number of results (default from config)")
	queryCmd.Flags().StringVar(&querySource, "source", "", "restrict results to one source ID")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	sys, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	results, err := sys.Retrieve(cmd.Context(), retrieve.Request{
		Text:     strings.Join(args, " "),
		TopK:     queryTopK,
		SourceID: querySource,
	})
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}

	for i, r := range results {
		fmt.Printf("%d. %s (chunk %d, score %.3f)\n", i+1, r.DocumentPath, r.ChunkIndex, r.Similarity)
		fmt.Println(indent(r.Content, "   "))
		fmt.Println()
	}
	return nil
}

func indent(text, prefix string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = prefix + l
	}
	return strings.Join(lines, "\n")
}
