// Package commands implements the rumpbot CLI using cobra.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/jholhewres/rumpbot/pkg/rumpbot/agent"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "rumpbot",
		Short: "rumpbot - chat-driven work orchestrator",
		Long: `rumpbot bridges a chat channel to an external coding assistant.
It classifies messages, plans real work into supervised worker tasks,
and reports progress and results back to the chat.

Examples:
  rumpbot chat "fix the failing build"
  rumpbot serve --config ./config.yaml
  rumpbot usage --days 30`,
		Version: version,
	}

	rootCmd.AddCommand(
		newChatCmd(),
		newServeCmd(),
		newUsageCmd(),
	)

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}

// loadConfig resolves the config from --config or falls back to defaults
// overlaid with ./config.yaml when present.
func loadConfig(cmd *cobra.Command) (*agent.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	if path != "" {
		return agent.LoadConfigFromFile(path)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return agent.LoadConfigFromFile("config.yaml")
	}
	return agent.DefaultConfig(), nil
}

// buildLogger constructs the slog logger from config and the --verbose flag.
func buildLogger(cmd *cobra.Command, cfg *agent.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	switch {
	case verbose, cfg.Logging.Level == "debug":
		level = slog.LevelDebug
	case cfg.Logging.Level == "warn":
		level = slog.LevelWarn
	case cfg.Logging.Level == "error":
		level = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// setup loads config and builds the wired assistant for a command run.
func setup(cmd *cobra.Command) (*agent.Assistant, *agent.Config, *slog.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger := buildLogger(cmd, cfg)
	assistant, err := agent.New(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return assistant, cfg, logger, nil
}
