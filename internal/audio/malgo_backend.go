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
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

func init() {
	registerBackend("malgo", func() AudioBackend { return NewMalgoBackend() })
}

// capturePeriods bounds how many captured periods wait for Read before the
// stream reports an overrun.
const capturePeriods = 8

// playbackPeriods bounds how much written audio is queued ahead of the device
const playbackPeriods = 4

// MalgoBackend implements AudioBackend on miniaudio. miniaudio drives devices
// through a data callback; MalgoStream adapts that to blocking Read and Write.
type MalgoBackend struct {
	mu  sync.Mutex
	ctx *malgo.AllocatedContext
}

// NewMalgoBackend creates a new miniaudio backend
func NewMalgoBackend() *MalgoBackend {
	return &MalgoBackend{}
}

// Name returns "malgo"
func (b *MalgoBackend) Name() string {
	return "malgo"
}

// Initialize creates the miniaudio context
func (b *MalgoBackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize miniaudio: %w", err)
	}
	b.ctx = ctx
	return nil
}

// Terminate releases the miniaudio context
func (b *MalgoBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}

	err := b.ctx.Uninit()
	b.ctx.Free()
	b.ctx = nil
	return err
}

// OpenStream initializes a miniaudio device for one direction
func (b *MalgoBackend) OpenStream(dir Direction, params StreamParams) (Stream, error) {
	b.mu.Lock()
	ctx := b.ctx
	b.mu.Unlock()
	if ctx == nil {
		return nil, fmt.Errorf("%w: miniaudio not initialized", ErrBackendUnavailable)
	}
	if err := params.Format.Validate(); err != nil {
		return nil, err
	}

	typ := malgo.Capture
	if dir == DirectionPlayback {
		typ = malgo.Playback
	}

	format := malgo.FormatS16
	if params.Format.BitsPerSample == 8 {
		format = malgo.FormatU8
	}

	periodFrames := params.PeriodFrames
	if periodFrames <= 0 {
		periodFrames = DefaultCaptureFrames
	}

	config := malgo.DefaultDeviceConfig(typ)
	config.SampleRate = uint32(params.Format.SampleRate)
	config.PeriodSizeInFrames = uint32(periodFrames)
	config.Alsa.NoMMap = 1

	name := "default"
	if params.DeviceName != "" {
		info, err := findMalgoDevice(ctx, typ, params.DeviceName)
		if err != nil {
			return nil, err
		}
		name = info.Name()
		if dir == DirectionCapture {
			config.Capture.DeviceID = info.ID.Pointer()
		} else {
			config.Playback.DeviceID = info.ID.Pointer()
		}
	}
	if dir == DirectionCapture {
		config.Capture.Format = format
		config.Capture.Channels = uint32(params.Format.Channels)
	} else {
		config.Playback.Format = format
		config.Playback.Channels = uint32(params.Format.Channels)
	}

	periodBytes := params.Format.FrameBytes(periodFrames)
	s := &MalgoStream{
		name:        name,
		dir:         dir,
		periodBytes: periodBytes,
		periods:     make(chan []byte, capturePeriods),
		closed:      make(chan struct{}),
	}
	if params.Format.BitsPerSample == 8 {
		s.silence = 0x80
	}
	s.cond = sync.NewCond(&s.mu)

	device, err := malgo.InitDevice(ctx.Context, config, malgo.DeviceCallbacks{
		Data: s.onData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device %q: %w", dir, name, err)
	}
	s.device = device
	return s, nil
}

func findMalgoDevice(ctx *malgo.AllocatedContext, typ malgo.DeviceType, name string) (*malgo.DeviceInfo, error) {
	devices, err := ctx.Devices(typ)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for i := range devices {
		if devices[i].Name() == name {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// MalgoStream implements Stream on a callback-driven miniaudio device
type MalgoStream struct {
	device      *malgo.Device
	name        string
	dir         Direction
	periodBytes int
	silence     byte

	// capture side
	periods  chan []byte
	partial  []byte
	overflow atomic.Bool

	// playback side, guarded by mu
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []byte
	primed  bool
	started bool
	starved bool

	closeOnce sync.Once
	closed    chan struct{}
}

// onData runs on the miniaudio device thread
func (s *MalgoStream) onData(out, in []byte, _ uint32) {
	if s.dir == DirectionCapture {
		s.partial = append(s.partial, in...)
		for len(s.partial) >= s.periodBytes {
			period := make([]byte, s.periodBytes)
			copy(period, s.partial)
			s.partial = s.partial[s.periodBytes:]
			select {
			case s.periods <- period:
			default:
				s.overflow.Store(true)
			}
		}
		return
	}

	s.mu.Lock()
	n := copy(out, s.queue)
	s.queue = s.queue[n:]
	for i := n; i < len(out); i++ {
		out[i] = s.silence
	}
	if n < len(out) && s.primed {
		s.starved = true
	}
	s.mu.Unlock()
	s.cond.Broadcast()
}

// Name returns the miniaudio device name
func (s *MalgoStream) Name() string {
	return s.name
}

// Prepare starts the device if it is stopped
func (s *MalgoStream) Prepare() error {
	s.mu.Lock()
	device := s.device
	s.starved = false
	started := s.started
	s.mu.Unlock()

	if device == nil {
		return ErrStreamClosed
	}
	if started {
		return nil
	}
	// the data callback takes mu, so the device is started without holding it
	if err := device.Start(); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Read blocks until one period has been captured
func (s *MalgoStream) Read(buf []byte) (int, error) {
	if s.dir != DirectionCapture {
		return 0, fmt.Errorf("cannot read from playback stream")
	}
	if s.overflow.Swap(false) {
		return 0, ErrOverrun
	}
	select {
	case period := <-s.periods:
		return copy(buf, period), nil
	case <-s.closed:
		return 0, ErrStreamClosed
	}
}

// Write queues buf for the device, blocking while the queue is full
func (s *MalgoStream) Write(buf []byte) (int, error) {
	if s.dir != DirectionPlayback {
		return 0, fmt.Errorf("cannot write to capture stream")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device == nil {
		return 0, ErrStreamClosed
	}
	if s.starved {
		s.starved = false
		return 0, ErrUnderrun
	}
	for s.started && len(s.queue) >= playbackPeriods*s.periodBytes {
		s.cond.Wait()
	}
	s.queue = append(s.queue, buf...)
	s.primed = true
	return len(buf), nil
}

// Drain waits for the queue to play out and stops the device
func (s *MalgoStream) Drain() error {
	s.mu.Lock()
	for s.started && len(s.queue) > 0 {
		s.cond.Wait()
	}
	s.mu.Unlock()
	return s.stop()
}

// Drop discards queued audio and stops the device
func (s *MalgoStream) Drop() error {
	s.mu.Lock()
	s.queue = s.queue[:0]
	s.mu.Unlock()
	return s.stop()
}

func (s *MalgoStream) stop() error {
	s.mu.Lock()
	s.primed = false
	s.starved = false
	device := s.device
	started := s.started
	s.started = false
	s.mu.Unlock()
	s.cond.Broadcast()

	if device == nil || !started {
		return nil
	}
	return device.Stop()
}

// Close stops and releases the device
func (s *MalgoStream) Close() error {
	err := s.stop()
	s.closeOnce.Do(func() { close(s.closed) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.device != nil {
		s.device.Uninit()
		s.device = nil
	}
	return err
}
