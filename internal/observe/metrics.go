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

// Package observe holds the ambient observability setup for the audio engine:
// slog logger configuration and OpenTelemetry metric instruments, exported to
// Prometheus by InitProvider.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all engine metrics.
const meterName = "github.com/loqalabs/loqa-audio-go"

// Metrics holds the metric instruments recorded by the capture and playback
// pipelines. All instruments are safe for concurrent use.
type Metrics struct {
	// CapturedFrames counts frames read from capture devices.
	CapturedFrames metric.Int64Counter

	// DeliveredFrames counts frames handed to the frame-write callback.
	DeliveredFrames metric.Int64Counter

	// DroppedFrames counts frames discarded because the capture ring was full.
	DroppedFrames metric.Int64Counter

	// DeviceFaults counts transient device faults. Use with attribute:
	//   attribute.String("kind", "overrun"|"underrun"|"busy_loop"|"prepare_failed")
	DeviceFaults metric.Int64Counter

	// DriftEvents counts mismatches between the frame counter and ring occupancy.
	DriftEvents metric.Int64Counter

	// PlaybackBytes counts bytes written to playback devices.
	PlaybackBytes metric.Int64Counter

	// PlaybackSessions counts completed playback sessions. Use with attribute:
	//   attribute.String("outcome", "exhausted"|"canceled"|"error")
	PlaybackSessions metric.Int64Counter

	// ActiveStreams tracks the number of running directions.
	ActiveStreams metric.Int64UpDownCounter
}

// NewMetrics creates the instruments on the given provider.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CapturedFrames, err = m.Int64Counter("loqa.audio.capture.frames",
		metric.WithDescription("Frames read from the capture device."),
	); err != nil {
		return nil, err
	}
	if met.DeliveredFrames, err = m.Int64Counter("loqa.audio.capture.delivered",
		metric.WithDescription("Frames delivered to the application."),
	); err != nil {
		return nil, err
	}
	if met.DroppedFrames, err = m.Int64Counter("loqa.audio.capture.dropped",
		metric.WithDescription("Oldest frames dropped because the capture ring was full."),
	); err != nil {
		return nil, err
	}
	if met.DeviceFaults, err = m.Int64Counter("loqa.audio.device.faults",
		metric.WithDescription("Transient device faults recovered by the engine."),
	); err != nil {
		return nil, err
	}
	if met.DriftEvents, err = m.Int64Counter("loqa.audio.capture.drift",
		metric.WithDescription("Frame counter and ring occupancy disagreements."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("loqa.audio.playback.bytes",
		metric.WithDescription("Bytes written to the playback device."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PlaybackSessions, err = m.Int64Counter("loqa.audio.playback.sessions",
		metric.WithDescription("Completed playback sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveStreams, err = m.Int64UpDownCounter("loqa.audio.streams.active",
		metric.WithDescription("Directions currently running."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Discard returns instruments backed by a no-op provider.
func Discard() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		// the no-op provider never fails
		panic(err)
	}
	return m
}

// RecordFault increments DeviceFaults for the given kind.
func (m *Metrics) RecordFault(ctx context.Context, kind, direction string) {
	m.DeviceFaults.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("direction", direction),
	))
}

// RecordSession increments PlaybackSessions for the given outcome.
func (m *Metrics) RecordSession(ctx context.Context, outcome string) {
	m.PlaybackSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
