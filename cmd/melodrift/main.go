/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/friendsincode/melodrift/internal/config"
	"github.com/friendsincode/melodrift/internal/logging"
	"github.com/friendsincode/melodrift/internal/version"
)

var (
	logger zerolog.Logger
	cfg    *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "melodrift",
	Short:   "Melodrift - listen together",
	Long:    "Melodrift is a music player that keeps a room of listeners in sync with its host.",
	Version: version.Version,
}

var hostCmd = &cobra.Command{
	Use:   "host",
	Short: "Create a room and host it",
	Long:  "Create a room in the registry, play music from the console and broadcast it to listeners",
	Args:  cobra.NoArgs,
	RunE:  runHost,
}

var joinCmd = &cobra.Command{
	Use:   "join <room-id>",
	Short: "Join a room as a listener",
	Long:  "Join an existing room and follow its host's playback",
	Args:  cobra.ExactArgs(1),
	RunE:  runJoin,
}

var soloCmd = &cobra.Command{
	Use:   "solo",
	Short: "Play music without a room",
	Args:  cobra.NoArgs,
	RunE:  runSolo,
}

func init() {
	rootCmd.AddCommand(hostCmd, joinCmd, soloCmd, resolveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration (called by commands that need it)
func loadConfig() error {
	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger = logging.Setup(cfg.Environment, cfg.LogLevel)
	if cfg.File != "" {
		logger.Debug().Str("file", cfg.File).Msg("configuration file loaded")
	}
	return nil
}
