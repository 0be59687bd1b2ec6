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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func TestRootCmd(t *testing.T) {
	t.Run("help_lists_commands", func(t *testing.T) {
		out, err := execute(t, "--log-level", "none")
		require.NoError(t, err)
		for _, name := range []string{"capture", "play", "serve", "backends"} {
			assert.Contains(t, out, name)
		}
	})

	t.Run("backends", func(t *testing.T) {
		out, err := execute(t, "backends", "--log-level", "none")
		require.NoError(t, err)
		assert.Contains(t, out, "mock\n")
		assert.Contains(t, out, "portaudio\n")
	})

	t.Run("invalid_log_level", func(t *testing.T) {
		_, err := execute(t, "backends", "--log-level", "loud")
		assert.ErrorContains(t, err, "unexpected log level")
	})

	t.Run("missing_config_file", func(t *testing.T) {
		_, err := execute(t, "backends", "--config", filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown_backend", func(t *testing.T) {
		_, err := execute(t, "play", "clip.wav", "--backend", "nope", "--log-level", "none")
		assert.ErrorIs(t, err, audio.ErrBackendUnavailable)
	})
}

func TestCaptureCmd(t *testing.T) {
	t.Run("records_wav", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "capture.wav")
		_, err := execute(t, "capture", "--backend", "mock", "--log-level", "none",
			"--duration", "150ms", "--out", path)
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()

		src, err := audio.NewWAVSource(f)
		require.NoError(t, err)
		assert.Equal(t, audio.DefaultFormat(), src.Format())
		assert.Positive(t, src.Read(make([]byte, 3200)))
	})

	t.Run("requires_out", func(t *testing.T) {
		_, err := execute(t, "capture", "--backend", "mock", "--log-level", "none")
		assert.ErrorContains(t, err, "--out")
	})
}

func TestPlayCmd(t *testing.T) {
	t.Run("plays_wav", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.wav")
		f, err := os.Create(path)
		require.NoError(t, err)
		rec, err := audio.NewWAVRecorder(f, audio.DefaultFormat())
		require.NoError(t, err)
		require.NoError(t, rec.Write(make([]byte, 3200)))
		require.NoError(t, rec.Close())
		require.NoError(t, f.Close())

		_, err = execute(t, "play", path, "--backend", "mock", "--log-level", "none")
		assert.NoError(t, err)
	})

	t.Run("missing_file", func(t *testing.T) {
		_, err := execute(t, "play", filepath.Join(t.TempDir(), "absent.wav"),
			"--backend", "mock", "--log-level", "none")
		assert.Error(t, err)
	})

	t.Run("requires_file", func(t *testing.T) {
		_, err := execute(t, "play", "--backend", "mock", "--log-level", "none")
		assert.Error(t, err)
	})
}
