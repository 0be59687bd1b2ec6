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

package nats

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-audio-go/internal/audio"
	"github.com/loqalabs/loqa-audio-go/internal/transport"
)

// CapturePublisher publishes captured frames on audio.<id>.capture and
// state changes and faults on audio.<id>.events
type CapturePublisher struct {
	conn         Connection
	audioSubject string
	eventSubject string
	framer       *transport.Framer
	format       audio.Format
	logger       *slog.Logger

	closed   atomic.Bool
	failures atomic.Int64
}

// NewCapturePublisher creates a publisher for one capture session
func NewCapturePublisher(conn Connection, id string, format audio.Format, logger *slog.Logger) *CapturePublisher {
	if logger == nil {
		logger = slog.Default()
	}
	session := uuid.New()
	return &CapturePublisher{
		conn:         conn,
		audioSubject: fmt.Sprintf("audio.%s.capture", id),
		eventSubject: fmt.Sprintf("audio.%s.events", id),
		framer:       transport.NewFramer(session.ID()),
		format:       format,
		logger:       logger.With("component", "nats_publisher", "relay_id", id, "session", session.String()),
	}
}

// Begin announces the capture format
func (p *CapturePublisher) Begin() error {
	return p.publish(p.audioSubject, p.framer.Format(p.format))
}

// FrameWrite publishes one captured frame. It returns false once the
// publisher is closed so the capture dispatcher stops delivering.
func (p *CapturePublisher) FrameWrite(frame []byte) bool {
	if p.closed.Load() {
		return false
	}
	for _, f := range p.framer.Audio(frame, p.format.BlockAlign()) {
		if err := p.publish(p.audioSubject, f); err != nil {
			// nats.go buffers while reconnecting; keep capturing
			if n := p.failures.Add(1); n == 1 || n%100 == 0 {
				p.logger.Warn("failed to publish audio frame", "failures", n, "error", err)
			}
			return true
		}
	}
	return true
}

// State publishes a direction state change
func (p *CapturePublisher) State(dir audio.Direction, state audio.State) {
	if err := p.publish(p.eventSubject, p.framer.State(dir, state)); err != nil {
		p.logger.Warn("failed to publish state", "direction", dir.String(), "state", state.String(), "error", err)
	}
}

// Fault publishes a transient device fault
func (p *CapturePublisher) Fault(kind audio.ErrorKind) {
	if err := p.publish(p.eventSubject, p.framer.Error(kind)); err != nil {
		p.logger.Warn("failed to publish fault", "kind", kind.String(), "error", err)
	}
}

// Callbacks wires the publisher into a handle
func (p *CapturePublisher) Callbacks() audio.Callbacks {
	return audio.Callbacks{
		InputState:  func(s audio.State) { p.State(audio.DirectionCapture, s) },
		OutputState: func(s audio.State) { p.State(audio.DirectionPlayback, s) },
		FrameWrite:  p.FrameWrite,
		Error:       p.Fault,
	}
}

// Failures returns how many audio frames could not be published
func (p *CapturePublisher) Failures() int64 {
	return p.failures.Load()
}

// End publishes the end-of-stream marker. Later frames are refused.
func (p *CapturePublisher) End() error {
	if p.closed.Swap(true) {
		return nil
	}
	return p.publish(p.audioSubject, p.framer.End())
}

func (p *CapturePublisher) publish(subject string, f *transport.Frame) error {
	data, err := f.Serialize()
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}
