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

package observe

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigureLogger(t *testing.T) {
	orig := slog.Default()
	t.Cleanup(func() { slog.SetDefault(orig) })

	t.Run("invalid_level", func(t *testing.T) {
		_, err := ConfigureLogger("loud", "")
		assert.Error(t, err)
	})

	t.Run("stdout_levels", func(t *testing.T) {
		for _, level := range []string{"none", "error", "warn", "info", "debug", ""} {
			f, err := ConfigureLogger(level, "")
			require.NoError(t, err, level)
			assert.Nil(t, f)
		}
	})

	t.Run("json_file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audio.log")
		f, err := ConfigureLogger("debug", path)
		require.NoError(t, err)
		require.NotNil(t, f)

		slog.Debug("capture started", "device", "hw:0,0")
		require.NoError(t, f.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		line := strings.TrimSpace(string(data))
		assert.True(t, strings.HasPrefix(line, "{"), "expected JSON output, got %q", line)
		assert.Contains(t, line, `"device":"hw:0,0"`)
	})

	t.Run("level_filters", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "audio.log")
		f, err := ConfigureLogger("warn", path)
		require.NoError(t, err)

		slog.Info("not written")
		slog.Warn("written")
		require.NoError(t, f.Close())

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.NotContains(t, string(data), "not written")
		assert.Contains(t, string(data), "written")
	})
}
