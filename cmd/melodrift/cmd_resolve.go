/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/melodrift/internal/resolver"
)

var resolveFresh bool

var resolveCmd = &cobra.Command{
	Use:   "resolve <id>",
	Short: "Resolve a remote catalog id to a stream URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().BoolVar(&resolveFresh, "fresh", false, "bypass the resolver cache")
}

func runResolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	r := resolver.New(cfg.ResolverURL, cfg.ResolverTTL, logger)
	resolve := r.Resolve
	if resolveFresh {
		resolve = r.Refresh
	}
	res, err := resolve(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("resolve %s: %w", args[0], err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
