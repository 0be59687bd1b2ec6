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
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/loqalabs/loqa-audio-go/internal/observe"
)

// Callbacks are the application hooks of a Handle. They are invoked from engine
// goroutines, never while an engine lock is held. A callback must not stop the
// direction that invoked it; FrameWrite returns false to end capture instead.
type Callbacks struct {
	// OutputState reports playback state changes
	OutputState func(State)

	// InputState reports capture state changes
	InputState func(State)

	// FrameWrite receives each captured frame in order. The slice is only valid
	// for the duration of the call. Returning false ends frame delivery.
	FrameWrite func(frame []byte) bool

	// Error reports transient device faults
	Error func(ErrorKind)
}

// HandleOption configures a Handle at construction
type HandleOption func(*Handle)

// WithFormat sets the capture format
func WithFormat(f Format) HandleOption {
	return func(h *Handle) { h.format = f }
}

// WithDeviceName selects a device by backend name
func WithDeviceName(name string) HandleOption {
	return func(h *Handle) { h.deviceName = name }
}

// WithFrameCount sets the capture period in sample frames
func WithFrameCount(n int) HandleOption {
	return func(h *Handle) { h.frameCount = n }
}

// WithBufferSeconds sets how many seconds of audio the capture ring holds
func WithBufferSeconds(n int) HandleOption {
	return func(h *Handle) { h.bufferSeconds = n }
}

// WithWatchdog tunes the capture busy-loop watchdog
func WithWatchdog(cfg WatchdogConfig) HandleOption {
	return func(h *Handle) { h.watchdog = cfg.withDefaults() }
}

// WithMetrics records engine events on the given instruments
func WithMetrics(m *observe.Metrics) HandleOption {
	return func(h *Handle) { h.metrics = m }
}

// WithLogger replaces the default logger
func WithLogger(l *slog.Logger) HandleOption {
	return func(h *Handle) { h.logger = l }
}

// Handle is one audio endpoint with independent capture and playback directions
type Handle struct {
	backend AudioBackend
	logger  *slog.Logger
	metrics *observe.Metrics

	// mu guards the configuration, the callbacks and the stream pointers below
	mu            sync.Mutex
	format        Format
	deviceName    string
	frameCount    int
	bufferSeconds int
	watchdog      WatchdogConfig
	callbacks     Callbacks
	closed        bool

	capture  captureSide
	playback playbackSide
}

type captureSide struct {
	op      sync.Mutex // serializes StartCapture / StopCapture
	state   *stateMachine
	stream  Stream
	dirty   bool
	session *captureSession
}

type playbackSide struct {
	op     sync.Mutex // serializes StartPlayback / StopPlayback
	state  *stateMachine
	stream Stream
	format Format
	dirty  bool
	done   chan struct{}
}

// NewHandle creates an endpoint on an initialized backend
func NewHandle(backend AudioBackend, opts ...HandleOption) (*Handle, error) {
	if backend == nil {
		return nil, invalidArgument("backend is nil")
	}

	h := &Handle{
		backend:       backend,
		format:        DefaultFormat(),
		frameCount:    DefaultCaptureFrames,
		bufferSeconds: DefaultBufferSeconds,
		watchdog:      DefaultWatchdogConfig(),
	}
	for _, opt := range opts {
		opt(h)
	}

	if err := h.format.Validate(); err != nil {
		return nil, err
	}
	if h.frameCount <= 0 {
		return nil, invalidArgument("frame count must be positive, got %d", h.frameCount)
	}
	if h.bufferSeconds <= 0 {
		return nil, invalidArgument("buffer seconds must be positive, got %d", h.bufferSeconds)
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	h.logger = h.logger.With("component", "audio", "backend", backend.Name())
	if h.metrics == nil {
		h.metrics = observe.Discard()
	}

	h.capture.state = newStateMachine()
	h.capture.dirty = true
	h.playback.state = newStateMachine()
	h.playback.dirty = true
	return h, nil
}

// SetOption changes one endpoint option. Changes take effect on the next start
// of each direction.
//
// Valid names are "channels", "bits_per_sample", "sample_rate", "frame_count"
// and "device_name". "buff_frame_cnt" is accepted as another name for "frame_count".
func (h *Handle) SetOption(name string, value any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if name == "device_name" {
		s, ok := value.(string)
		if !ok {
			return invalidArgument("option %s wants a string, got %T", name, value)
		}
		h.deviceName = s
		h.markDirty()
		return nil
	}

	n, err := toInt(value)
	if err != nil {
		return invalidArgument("option %s: %v", name, err)
	}

	switch name {
	case "channels":
		if !slices.Contains(SupportedChannels, n) {
			return invalidArgument("unsupported channel count %d", n)
		}
		h.format.Channels = n
	case "bits_per_sample":
		if !slices.Contains(SupportedBitsPerSample, n) {
			return invalidArgument("unsupported bits per sample %d", n)
		}
		h.format.BitsPerSample = n
	case "sample_rate":
		if !slices.Contains(SupportedSampleRates, n) {
			return invalidArgument("unsupported sample rate %d", n)
		}
		h.format.SampleRate = n
	case "frame_count", "buff_frame_cnt":
		if n <= 0 {
			return invalidArgument("frame count must be positive, got %d", n)
		}
		h.frameCount = n
	default:
		return invalidArgument("unknown option %q", name)
	}
	h.markDirty()
	return nil
}

// markDirty requires both streams to be reopened; callers hold h.mu
func (h *Handle) markDirty() {
	h.capture.dirty = true
	h.playback.dirty = true
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int32:
		return int(v), nil
	case int64:
		return int(v), nil
	case uint32:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("%v is not a whole number", v)
		}
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("unsupported value type %T", value)
	}
}

// SetCallbacks installs the application hooks. FrameWrite is required.
func (h *Handle) SetCallbacks(cb Callbacks) error {
	if cb.FrameWrite == nil {
		return invalidArgument("frame write callback is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks = cb
	return nil
}

func (h *Handle) hooks() Callbacks {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.callbacks
}

// Format returns the configured capture format
func (h *Handle) Format() Format {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format
}

// FrameBytes returns the size of one captured frame
func (h *Handle) FrameBytes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.format.FrameBytes(h.frameCount)
}

// DeviceName returns the configured device name, falling back to the name the
// backend reported for an open stream.
func (h *Handle) DeviceName() string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.deviceName != "" {
		return h.deviceName
	}
	if h.capture.stream != nil {
		return h.capture.stream.Name()
	}
	if h.playback.stream != nil {
		return h.playback.stream.Name()
	}
	return "default"
}

// CaptureState returns the state of the capture direction
func (h *Handle) CaptureState() State {
	return h.capture.state.get()
}

// PlaybackState returns the state of the playback direction
func (h *Handle) PlaybackState() State {
	return h.playback.state.get()
}

// Close stops both directions, waits for their goroutines and final callbacks,
// and closes the streams. The handle cannot be restarted. Close must not be
// called from a handle or playback callback.
func (h *Handle) Close() error {
	// refuse new sessions, including ones chained from a completion callback
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	stopErr := h.StopCapture()
	if err := h.StopPlayback(); err != nil && stopErr == nil {
		stopErr = err
	}

	// a session that ended on its own may still be running its final callbacks
	h.playback.op.Lock()
	done := h.playback.done
	h.playback.op.Unlock()
	if done != nil {
		<-done
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for _, s := range []Stream{h.capture.stream, h.playback.stream} {
		if s == nil {
			continue
		}
		if err := s.Close(); err != nil && stopErr == nil {
			stopErr = err
		}
	}
	h.capture.stream = nil
	h.playback.stream = nil
	return stopErr
}

func (h *Handle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *Handle) notifyInput(s State) {
	if cb := h.hooks().InputState; cb != nil {
		cb(s)
	}
}

func (h *Handle) notifyOutput(s State) {
	if cb := h.hooks().OutputState; cb != nil {
		cb(s)
	}
}

func (h *Handle) notifyError(kind ErrorKind) {
	if cb := h.hooks().Error; cb != nil {
		cb(kind)
	}
}
