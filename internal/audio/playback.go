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

package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// prefillBytes is the size of the buffer handed to the playback pull callback
const prefillBytes = 3200

// PlaybackRequest supplies audio to the playback engine
type PlaybackRequest struct {
	// Read fills buf with audio and returns the number of bytes written.
	// Zero or a negative value means no more data.
	Read func(buf []byte) int

	// Complete is called exactly once when the session ends for any reason
	Complete func()

	// Underrun is called when the device starved; optional
	Underrun func()
}

type playbackJob struct {
	id      string
	format  Format
	request PlaybackRequest
	logger  *slog.Logger
}

// StartPlayback starts an asynchronous playback session in the given format.
// It returns ErrInvalidState unless the playback direction is stopped.
func (h *Handle) StartPlayback(format Format, req PlaybackRequest) error {
	if req.Read == nil || req.Complete == nil {
		return invalidArgument("playback requires read and complete callbacks")
	}
	if err := format.Validate(); err != nil {
		return err
	}

	h.playback.op.Lock()
	defer h.playback.op.Unlock()

	if h.isClosed() {
		return fmt.Errorf("%w: handle is closed", ErrInvalidState)
	}
	if s := h.playback.state.get(); s != StateStopped {
		return fmt.Errorf("%w: playback is %s", ErrInvalidState, s)
	}
	if _, err := h.playback.state.beginStart(); err != nil {
		return err
	}

	job := &playbackJob{
		id:      uuid.NewString(),
		format:  format,
		request: req,
	}
	job.logger = h.logger.With("direction", DirectionPlayback.String(), "session", job.id)

	// the previous worker may still be firing its final callbacks
	prev := h.playback.done
	done := make(chan struct{})
	h.playback.done = done

	go h.runPlayback(job, prev, done)
	return nil
}

// PausePlayback suspends a running session between chunks
func (h *Handle) PausePlayback() error {
	if err := h.playback.state.pause(); err != nil {
		return err
	}
	h.notifyOutput(StatePaused)
	return nil
}

// ResumePlayback continues a paused session
func (h *Handle) ResumePlayback() error {
	if err := h.playback.state.resume(); err != nil {
		return err
	}
	h.notifyOutput(StateRunning)
	return nil
}

// StopPlayback cancels the current session and waits for its completion
// callback. Stopping a stopped direction returns nil.
func (h *Handle) StopPlayback() error {
	h.playback.op.Lock()
	done := h.playback.done
	stopping := h.playback.state.beginStop()
	h.playback.op.Unlock()

	if stopping && done != nil {
		<-done
	}
	return nil
}

// playbackStream returns a prepared stream, reopening it only when the format
// or the handle options changed since the last session.
func (h *Handle) playbackStream(format Format) (Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ps := &h.playback
	if ps.stream != nil && !ps.dirty && ps.format == format {
		return ps.stream, nil
	}
	if ps.stream != nil {
		_ = ps.stream.Close()
		ps.stream = nil
	}

	stream, err := h.backend.OpenStream(DirectionPlayback, StreamParams{
		Format:       format,
		DeviceName:   h.deviceName,
		PeriodFrames: DefaultPlaybackFrames,
	})
	if err != nil {
		return nil, fmt.Errorf("open playback stream: %w", err)
	}
	ps.stream = stream
	ps.format = format
	ps.dirty = false
	return stream, nil
}

func (h *Handle) runPlayback(job *playbackJob, prev <-chan struct{}, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	ctx := context.Background()
	state := h.playback.state
	outcome := "exhausted"

	h.notifyOutput(StateStarting)

	stream, err := h.playbackStream(job.format)
	if err == nil {
		err = stream.Prepare()
	}
	if err != nil {
		job.logger.Error("playback setup failed", "error", err)
		outcome = "error"
	} else {
		job.logger = job.logger.With("device", stream.Name())
		outcome = h.playbackLoop(ctx, job, stream)
		if err := stream.Drain(); err != nil {
			job.logger.Warn("drain playback stream", "error", err)
		}
	}

	state.finish()
	h.metrics.RecordSession(ctx, outcome)
	job.logger.Info("playback finished", "outcome", outcome)

	// the direction is already Stopped here, so Complete may start the next
	// session; the Stopped notification follows it
	job.request.Complete()
	h.notifyOutput(StateStopped)
}

// playbackLoop pulls audio from the request and writes it in bounded chunks.
// It checks for cancellation and pause once per chunk.
func (h *Handle) playbackLoop(ctx context.Context, job *playbackJob, stream Stream) string {
	state := h.playback.state
	align := job.format.BlockAlign()
	buf := make([]byte, prefillBytes-prefillBytes%align)
	chunkMax := 2 * DefaultPlaybackFrames * align

	n := job.request.Read(buf)

	if !state.transition(StateStarting, StateRunning) {
		return "canceled"
	}
	h.metrics.ActiveStreams.Add(ctx, 1)
	defer h.metrics.ActiveStreams.Add(ctx, -1)
	h.notifyOutput(StateRunning)
	job.logger.Info("playback started", "format", job.format.String())

	for n > 0 {
		data := buf[:min(n, len(buf))]
		for len(data) > 0 {
			if state.awaitRunnable() {
				return "canceled"
			}

			size := min(len(data), chunkMax)
			written, err := stream.Write(data[:size])
			if errors.Is(err, ErrUnderrun) {
				job.logger.Warn("playback underrun")
				h.metrics.RecordFault(ctx, "underrun", DirectionPlayback.String())
				if job.request.Underrun != nil {
					job.request.Underrun()
				}
				if err := stream.Prepare(); err != nil {
					job.logger.Error("prepare after underrun failed", "error", err)
					h.metrics.RecordFault(ctx, ErrorPrepareFailed.String(), DirectionPlayback.String())
					return "error"
				}
				continue
			}
			if err != nil {
				job.logger.Error("playback write failed", "error", err)
				return "error"
			}
			// a zero-length write leaves the chunk pending for the next pass
			if written <= 0 {
				continue
			}
			if written > size {
				written = size
			}
			h.metrics.PlaybackBytes.Add(ctx, int64(written))
			data = data[written:]
		}
		n = job.request.Read(buf)
	}
	return "exhausted"
}
