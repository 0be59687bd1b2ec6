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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "metric %s is not an int64 sum", m.Name)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestNewMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)

	ctx := context.Background()
	m.CapturedFrames.Add(ctx, 3)
	m.DeliveredFrames.Add(ctx, 2)
	m.DroppedFrames.Add(ctx, 1)
	m.PlaybackBytes.Add(ctx, 640)
	m.ActiveStreams.Add(ctx, 1)
	m.RecordFault(ctx, "overrun", "capture")
	m.RecordFault(ctx, "underrun", "playback")
	m.RecordSession(ctx, "exhausted")

	got := collect(t, reader)

	t.Run("counters", func(t *testing.T) {
		assert.Equal(t, int64(3), sumOf(t, got["loqa.audio.capture.frames"]))
		assert.Equal(t, int64(2), sumOf(t, got["loqa.audio.capture.delivered"]))
		assert.Equal(t, int64(1), sumOf(t, got["loqa.audio.capture.dropped"]))
		assert.Equal(t, int64(640), sumOf(t, got["loqa.audio.playback.bytes"]))
		assert.Equal(t, int64(1), sumOf(t, got["loqa.audio.streams.active"]))
		assert.Equal(t, int64(1), sumOf(t, got["loqa.audio.playback.sessions"]))
	})

	t.Run("fault_attributes", func(t *testing.T) {
		faults := got["loqa.audio.device.faults"]
		sum, ok := faults.Data.(metricdata.Sum[int64])
		require.True(t, ok)
		assert.Len(t, sum.DataPoints, 2)
		assert.Equal(t, int64(2), sumOf(t, faults))
	})

	t.Run("unit", func(t *testing.T) {
		assert.Equal(t, "By", got["loqa.audio.playback.bytes"].Unit)
	})
}

func TestDiscard(t *testing.T) {
	m := Discard()
	require.NotNil(t, m)
	assert.NotPanics(t, func() {
		m.RecordFault(context.Background(), "busy_loop", "capture")
		m.RecordSession(context.Background(), "canceled")
	})
}
