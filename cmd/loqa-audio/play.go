/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"
)

func newPlayCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "play FILE",
		Short: "Play a WAV file through the playback device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.play(cmd.Context(), args[0])
		},
	}
}

func (a *app) play(ctx context.Context, path string) error {
	h, cleanup, err := a.openHandle()
	if err != nil {
		return err
	}
	defer cleanup()

	done := make(chan struct{})
	if err := h.PlayWAV(path, func() { close(done) }); err != nil {
		return err
	}
	slog.Info("playing", "file", path, "device", h.DeviceName())

	select {
	case <-done:
	case <-ctx.Done():
		if err := h.StopPlayback(); err != nil {
			return err
		}
		<-done
	}
	return nil
}
