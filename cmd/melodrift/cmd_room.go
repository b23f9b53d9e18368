/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func runHost(cmd *cobra.Command, args []string) error {
	return runPlayer(cmd.Context(), func(ctx context.Context, a *app) error {
		room, err := a.session.CreateRoom(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "hosting room %s, share this id with listeners\n", room.ID)
		return nil
	})
}

func runJoin(cmd *cobra.Command, args []string) error {
	return runPlayer(cmd.Context(), func(ctx context.Context, a *app) error {
		room, err := a.session.JoinRoom(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "listening in room %s as %s\n", room.ID, room.UserID)
		return nil
	})
}

func runSolo(cmd *cobra.Command, args []string) error {
	return runPlayer(cmd.Context(), nil)
}

// runPlayer wires the process, runs enter (if any) and hands over to the console.
func runPlayer(ctx context.Context, enter func(context.Context, *app) error) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	logger.Info().Str("relay", string(cfg.RelayKind)).Str("store", string(cfg.StoreBackend)).Msg("Melodrift starting")

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if enter != nil {
		if err := enter(ctx, a); err != nil {
			return err
		}
	}
	if err := a.interact(ctx); err != nil {
		return err
	}

	logger.Info().Msg("Melodrift stopped")
	return nil
}
