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
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-audio-go/internal/observe"
)

// captureSession is one run of the capture pipeline: a reader goroutine pushing
// device periods into the ring and a dispatcher goroutine delivering them.
type captureSession struct {
	h          *Handle
	stream     Stream
	state      *stateMachine
	ring       *FrameRing
	counter    *frameCounter
	frameBytes int
	frameWrite func([]byte) bool
	watchdog   *readWatchdog
	logger     *slog.Logger
	metrics    *observe.Metrics
	group      errgroup.Group
}

// StartCapture opens the capture device if needed and starts delivering frames
// to the FrameWrite callback. Starting a running direction is a no-op.
func (h *Handle) StartCapture() error {
	h.capture.op.Lock()
	defer h.capture.op.Unlock()

	if h.isClosed() {
		return fmt.Errorf("%w: handle is closed", ErrInvalidState)
	}
	cb := h.hooks()
	if cb.FrameWrite == nil {
		return invalidArgument("frame write callback is not set")
	}

	// a session that ended on its own still has goroutines to join
	if h.capture.session != nil && h.capture.state.get() == StateStopped {
		_ = h.capture.session.wait()
		h.capture.session = nil
	}

	started, err := h.capture.state.beginStart()
	if err != nil || !started {
		return err
	}
	h.notifyInput(StateStarting)

	session, err := h.newCaptureSession(cb.FrameWrite)
	if err != nil {
		h.capture.state.finish()
		h.notifyInput(StateStopped)
		return err
	}

	h.capture.state.set(StateRunning)
	h.notifyInput(StateRunning)

	h.capture.session = session
	session.run()
	return nil
}

func (h *Handle) newCaptureSession(frameWrite func([]byte) bool) (*captureSession, error) {
	h.mu.Lock()
	format := h.format
	frameCount := h.frameCount
	seconds := h.bufferSeconds
	watchdog := h.watchdog
	device := h.deviceName

	if h.capture.stream == nil || h.capture.dirty {
		if h.capture.stream != nil {
			_ = h.capture.stream.Close()
			h.capture.stream = nil
		}
		stream, err := h.backend.OpenStream(DirectionCapture, StreamParams{
			Format:       format,
			DeviceName:   device,
			PeriodFrames: frameCount,
		})
		if err != nil {
			h.mu.Unlock()
			return nil, fmt.Errorf("open capture stream: %w", err)
		}
		h.capture.stream = stream
		h.capture.dirty = false
	}
	stream := h.capture.stream
	h.mu.Unlock()

	if err := stream.Prepare(); err != nil {
		return nil, fmt.Errorf("prepare capture stream: %w", err)
	}

	frameBytes := format.FrameBytes(frameCount)
	ring, err := NewFrameRing(frameBytes, RingCapacity(format, frameCount, seconds))
	if err != nil {
		return nil, err
	}

	logger := h.logger.With(
		"direction", DirectionCapture.String(),
		"device", stream.Name(),
		"session", uuid.NewString(),
	)
	logger.Info("capture started",
		"format", format.String(),
		"frame_bytes", frameBytes,
		"ring_frames", ring.CapacityFrames(),
	)

	return &captureSession{
		h:          h,
		stream:     stream,
		state:      h.capture.state,
		ring:       ring,
		counter:    newFrameCounter(ring.CapacityFrames()),
		frameBytes: frameBytes,
		frameWrite: frameWrite,
		watchdog:   newReadWatchdog(watchdog),
		logger:     logger,
		metrics:    h.metrics,
	}, nil
}

// StopCapture stops the capture direction and waits for its goroutines to exit.
// Stopping a stopped direction returns nil without side effects.
func (h *Handle) StopCapture() error {
	h.capture.op.Lock()
	defer h.capture.op.Unlock()

	session := h.capture.session
	if !h.capture.state.beginStop() && session == nil {
		return nil
	}
	if session != nil {
		_ = session.wait()
		h.capture.session = nil
	}
	return nil
}

func (s *captureSession) run() {
	s.metrics.ActiveStreams.Add(context.Background(), 1)
	s.group.Go(s.readLoop)
	s.group.Go(s.dispatchLoop)
}

func (s *captureSession) wait() error {
	return s.group.Wait()
}

// readLoop moves one device period per iteration into the ring. It never
// blocks on the ring, only on the device.
func (s *captureSession) readLoop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	ctx := context.Background()
	frame := make([]byte, s.frameBytes)
	var fatal error

	for s.state.running() {
		if s.watchdog.observe(time.Now()) {
			s.logger.Warn("capture loop is not blocking on the device",
				"threshold", s.watchdog.cfg.FastLoopThreshold,
				"iterations", s.watchdog.cfg.FastLoopMaxCount,
			)
			s.metrics.RecordFault(ctx, ErrorBusyLoop.String(), DirectionCapture.String())
			s.h.notifyError(ErrorBusyLoop)
		}

		if _, err := s.stream.Read(frame); err != nil {
			if errors.Is(err, ErrOverrun) {
				s.recoverOverrun(ctx)
				continue
			}
			fatal = fmt.Errorf("capture read: %w", err)
			s.logger.Error("capture device failed", "error", err)
			break
		}
		s.metrics.CapturedFrames.Add(ctx, 1)

		if s.ring.Push(frame) {
			s.metrics.DroppedFrames.Add(ctx, 1)
			s.h.notifyError(ErrorBufferFull)
			continue
		}
		s.counter.post()
	}

	if err := s.stream.Drop(); err != nil {
		s.logger.Debug("drop capture stream", "error", err)
	}
	if fatal != nil {
		s.h.mu.Lock()
		s.h.capture.dirty = true
		s.h.mu.Unlock()
	}

	s.state.finish()
	s.metrics.ActiveStreams.Add(ctx, -1)
	s.logger.Info("capture stopped")
	s.h.notifyInput(StateStopped)

	// wake the dispatcher so it observes the stop
	s.counter.post()
	return fatal
}

func (s *captureSession) recoverOverrun(ctx context.Context) {
	s.logger.Warn("capture overrun")
	if s.logger.Enabled(ctx, slog.LevelDebug) {
		s.logger.Debug("capture read history", "intervals", s.watchdog.intervals())
	}
	s.metrics.RecordFault(ctx, ErrorOverrun.String(), DirectionCapture.String())
	s.h.notifyError(ErrorOverrun)

	if err := s.stream.Prepare(); err != nil {
		s.logger.Error("prepare after overrun failed", "error", err)
		s.metrics.RecordFault(ctx, ErrorPrepareFailed.String(), DirectionCapture.String())
		s.h.notifyError(ErrorPrepareFailed)
	}
}

// dispatchLoop delivers buffered frames to the application, one per counter
// token, until the reader has stopped and the ring is drained.
func (s *captureSession) dispatchLoop() error {
	ctx := context.Background()
	frame := make([]byte, s.frameBytes)

	for {
		s.counter.wait()

		expected := s.counter.value() + 1
		ok, before := s.ring.Pop(frame)
		if !ok {
			if !s.state.running() {
				return nil
			}
			continue
		}
		if before != expected && s.state.running() {
			s.logger.Debug("frame counter drift", "counter", expected, "ring", before)
			s.metrics.DriftEvents.Add(ctx, 1)
		}

		more := s.frameWrite(frame)
		s.metrics.DeliveredFrames.Add(ctx, 1)
		if !more {
			s.logger.Info("frame consumer finished, stopping capture")
			s.state.beginStop()
			return nil
		}
		if !s.state.running() && s.ring.Frames() == 0 {
			return nil
		}
	}
}
