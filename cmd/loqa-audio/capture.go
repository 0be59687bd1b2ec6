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
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

func newCaptureCmd(a *app) *cobra.Command {
	var (
		out      string
		duration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Record from the capture device into a WAV file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			return a.capture(cmd.Context(), out, duration)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "WAV file to write")
	cmd.Flags().DurationVarP(&duration, "duration", "d", 0, "Stop after this long (0 records until interrupted)")
	return cmd
}

func (a *app) capture(ctx context.Context, path string, duration time.Duration) (err error) {
	h, cleanup, err := a.openHandle()
	if err != nil {
		return err
	}
	defer cleanup()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	rec, err := audio.NewWAVRecorder(f, h.Format())
	if err != nil {
		return err
	}

	// the dispatcher is the only writer, and it has exited once StopCapture returns
	var writeErr error
	frames := 0
	stopped := make(chan struct{})
	var once sync.Once
	err = h.SetCallbacks(audio.Callbacks{
		FrameWrite: func(frame []byte) bool {
			if writeErr = rec.Write(frame); writeErr != nil {
				return false
			}
			frames++
			return true
		},
		InputState: func(s audio.State) {
			slog.Debug("capture state", "state", s.String())
			if s == audio.StateStopped {
				once.Do(func() { close(stopped) })
			}
		},
		Error: func(kind audio.ErrorKind) {
			slog.Warn("capture fault", "kind", kind.String())
		},
	})
	if err != nil {
		return err
	}

	if duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, duration)
		defer cancel()
	}

	if err := h.StartCapture(); err != nil {
		return err
	}
	slog.Info("recording", "file", path, "format", h.Format().String(), "device", h.DeviceName())

	select {
	case <-ctx.Done():
	case <-stopped:
	}
	if err := h.StopCapture(); err != nil {
		return err
	}
	if writeErr != nil {
		return fmt.Errorf("write %s: %w", path, writeErr)
	}

	slog.Info("recording finished", "file", path, "frames", frames)
	return rec.Close()
}
