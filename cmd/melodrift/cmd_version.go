/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/friendsincode/melodrift/internal/logging"
	"github.com/friendsincode/melodrift/internal/version"
)

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version, optionally checking for a newer release",
	Args:  cobra.NoArgs,
	RunE:  runVersion,
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "check GitHub for a newer release")
}

func runVersion(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "melodrift %s\n", version.Version)
	if !versionCheck {
		return nil
	}

	info, err := version.NewChecker("", logging.Setup("production", "warn")).Check(cmd.Context())
	if err != nil {
		return fmt.Errorf("check for updates: %w", err)
	}
	if info.UpdateAvailable {
		fmt.Fprintf(out, "update available: %s (%s)\n", info.LatestVersion, info.ReleaseURL)
	} else {
		fmt.Fprintln(out, "up to date")
	}
	return nil
}
