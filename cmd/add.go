package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/registry"
	"github.com/quarry-ai/quarry/internal/source"
)

var (
	addName    string
	addInclude []string
	addExclude []string
	addMonitor bool
	addNoSync  bool
)

var addCmd = &cobra.Command{
	Use:   "add [kind] [locator]",
	Short: "Register a knowledge source and index it",
	Long: `Register a knowledge source. Kind is one of: local-file, local-folder,
repository, drive-folder, web-page. The locator is a path, clone URL,
folder ID, or page URL depending on the kind.

The source is indexed immediately unless --no-sync is given.`,
	Args: cobra.ExactArgs(2),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().StringVar(&addName, "name", "", "display name (defaults to the locator)")
	addCmd.Flags().StringSliceVar(&addInclude, "include", nil, "include glob patterns (e.g. 'docs/**/*.md')")
	addCmd.Flags().StringSliceVar(&addExclude, "exclude", nil, "exclude glob patterns (e.g. 'vendor/**')")
	addCmd.Flags().BoolVar(&addMonitor, "monitor", false, "re-index automatically while 'quarry watch' runs")
	addCmd.Flags().BoolVar(&addNoSync, "no-sync", false, "register only, index later with 'quarry sync'")
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	kind, err := source.ParseKind(args[0])
	if err != nil {
		return fmt.Errorf("%w (valid kinds: %s)", err, kindList())
	}

	sys, err := openSystem(cmd)
	if err != nil {
		return err
	}
	defer sys.Close()

	ctx := cmd.Context()
	src, err := sys.AddSource(ctx, registry.RegisterRequest{
		Kind:       kind,
		Name:       addName,
		Locator:    args[1],
		Include:    addInclude,
		Exclude:    addExclude,
		Monitoring: addMonitor,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Registered %s (%s)\n", src.ID, src.Name)

	if addNoSync {
		fmt.Println("Run 'quarry sync' to index it.")
		return nil
	}

	report, err := sys.Process(ctx, src.ID)
	if err != nil {
		return err
	}
	printReport(report)
	return nil
}

func kindList() string {
	kinds := source.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = strings.ReplaceAll(string(k), "_", "-")
	}
	return strings.Join(names, ", ")
}
