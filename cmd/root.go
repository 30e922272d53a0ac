// Package cmd provides the quarry CLI commands.
//
// Commands:
//   - add: register a knowledge source
//   - remove: unregister a source and purge its index
//   - sources: list registered sources
//   - sync: scan and re-index sources
//   - query: semantic search over the indexed corpus
//   - watch: monitor sources and re-index on change
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/quarry-ai/quarry/internal/config"
	"github.com/quarry-ai/quarry/internal/log"
	"github.com/quarry-ai/quarry/internal/system"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "quarry",
	Short: "Quarry - index your documents, repositories, and pages for semantic search",
	Long: `Quarry ingests local files and folders, git repositories, Google Drive
folders, and web pages into a searchable vector index. Sources are
re-indexed incrementally: only documents whose content changed are
re-embedded.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default ~/.quarry/config.yaml)")
}

// loadConfig reads configuration and builds the logger all commands
// share.
func loadConfig() (*config.Config, log.Logger, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := log.New(log.Config{Level: level})
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// openSystem assembles the pipeline for one command invocation.
func openSystem(cmd *cobra.Command) (*system.System, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	sys, err := system.Open(cmd.Context(), cfg, logger,
		system.WithRepoToken(os.Getenv("QUARRY_REPO_TOKEN")))
	if err != nil {
		return nil, fmt.Errorf("opening quarry: %w", err)
	}
	return sys, nil
}
