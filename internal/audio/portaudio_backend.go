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
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

func init() {
	registerBackend("portaudio", func() AudioBackend { return NewPortAudioBackend() })
}

// PortAudioBackend implements AudioBackend using the real PortAudio library
type PortAudioBackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioBackend creates a new PortAudio backend
func NewPortAudioBackend() *PortAudioBackend {
	return &PortAudioBackend{}
}

// Name returns "portaudio"
func (p *PortAudioBackend) Name() string {
	return "portaudio"
}

// Initialize initializes the PortAudio subsystem
func (p *PortAudioBackend) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return nil
	}

	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	p.initialized = true
	return nil
}

// Terminate terminates the PortAudio subsystem
func (p *PortAudioBackend) Terminate() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return nil
	}

	err := portaudio.Terminate()
	p.initialized = false
	return err
}

// OpenStream opens a blocking PortAudio stream bound to a period-sized sample buffer
func (p *PortAudioBackend) OpenStream(dir Direction, params StreamParams) (Stream, error) {
	p.mu.Lock()
	initialized := p.initialized
	p.mu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("%w: PortAudio not initialized", ErrBackendUnavailable)
	}
	if err := params.Format.Validate(); err != nil {
		return nil, err
	}

	device, err := portAudioDevice(dir, params.DeviceName)
	if err != nil {
		return nil, err
	}

	periodFrames := params.PeriodFrames
	if periodFrames <= 0 {
		periodFrames = DefaultCaptureFrames
	}

	var sp portaudio.StreamParameters
	if dir == DirectionCapture {
		sp = portaudio.LowLatencyParameters(device, nil)
		sp.Input.Channels = params.Format.Channels
	} else {
		sp = portaudio.LowLatencyParameters(nil, device)
		sp.Output.Channels = params.Format.Channels
	}
	sp.SampleRate = float64(params.Format.SampleRate)
	sp.FramesPerBuffer = periodFrames

	s := &PortAudioStream{
		name:   device.Name,
		dir:    dir,
		format: params.Format,
	}
	samples := periodFrames * params.Format.Channels
	var buffer any
	if params.Format.BitsPerSample == 8 {
		s.buf8 = make([]uint8, samples)
		buffer = s.buf8
	} else {
		s.buf16 = make([]int16, samples)
		buffer = s.buf16
	}

	stream, err := portaudio.OpenStream(sp, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s stream on %q: %w", dir, device.Name, err)
	}
	s.stream = stream
	return s, nil
}

func portAudioDevice(dir Direction, name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		if dir == DirectionCapture {
			return portaudio.DefaultInputDevice()
		}
		return portaudio.DefaultOutputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, d := range devices {
		if d.Name != name {
			continue
		}
		if dir == DirectionCapture && d.MaxInputChannels > 0 {
			return d, nil
		}
		if dir == DirectionPlayback && d.MaxOutputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
}

// PortAudioStream implements Stream on a blocking PortAudio stream.
// PortAudio moves exactly one period per call, so short writes are padded with silence.
type PortAudioStream struct {
	mu      sync.Mutex
	stream  *portaudio.Stream
	name    string
	dir     Direction
	format  Format
	buf8    []uint8
	buf16   []int16
	started bool
}

// Name returns the PortAudio device name
func (p *PortAudioStream) Name() string {
	return p.name
}

func (p *PortAudioStream) periodBytes() int {
	if p.buf8 != nil {
		return len(p.buf8)
	}
	return len(p.buf16) * 2
}

// Prepare starts the stream if it is not already running
func (p *PortAudioStream) Prepare() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return ErrStreamClosed
	}
	if p.started {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	p.started = true
	return nil
}

// Read blocks for one period and copies it into buf as little-endian PCM
func (p *PortAudioStream) Read(buf []byte) (int, error) {
	if p.stream == nil {
		return 0, ErrStreamClosed
	}
	if p.dir != DirectionCapture {
		return 0, fmt.Errorf("cannot read from output stream")
	}

	if err := p.stream.Read(); err != nil {
		if errors.Is(err, portaudio.InputOverflowed) {
			return 0, ErrOverrun
		}
		return 0, err
	}

	if p.buf8 != nil {
		return copy(buf, p.buf8), nil
	}
	n := 0
	for _, s := range p.buf16 {
		if n+2 > len(buf) {
			break
		}
		binary.LittleEndian.PutUint16(buf[n:], uint16(s))
		n += 2
	}
	return n, nil
}

// Write plays buf one period at a time
func (p *PortAudioStream) Write(buf []byte) (int, error) {
	if p.stream == nil {
		return 0, ErrStreamClosed
	}
	if p.dir != DirectionPlayback {
		return 0, fmt.Errorf("cannot write to input stream")
	}

	written := 0
	for written < len(buf) {
		chunk := buf[written:min(len(buf), written+p.periodBytes())]
		p.fill(chunk)
		if err := p.stream.Write(); err != nil {
			if errors.Is(err, portaudio.OutputUnderflowed) {
				return written, ErrUnderrun
			}
			return written, err
		}
		written += len(chunk)
	}
	return written, nil
}

// fill copies one period into the bound buffer, padding the tail with silence
func (p *PortAudioStream) fill(chunk []byte) {
	if p.buf8 != nil {
		n := copy(p.buf8, chunk)
		for i := n; i < len(p.buf8); i++ {
			p.buf8[i] = 0x80
		}
		return
	}
	for i := range p.buf16 {
		if 2*i+1 < len(chunk) {
			p.buf16[i] = int16(binary.LittleEndian.Uint16(chunk[2*i:]))
		} else {
			p.buf16[i] = 0
		}
	}
}

// Drain stops the stream after queued buffers have played
func (p *PortAudioStream) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || !p.started {
		return nil
	}
	p.started = false
	return p.stream.Stop()
}

// Drop stops the stream immediately, discarding queued buffers
func (p *PortAudioStream) Drop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil || !p.started {
		return nil
	}
	p.started = false
	return p.stream.Abort()
}

// Close closes the audio stream
func (p *PortAudioStream) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stream == nil {
		return nil
	}
	if p.started {
		_ = p.stream.Abort()
		p.started = false
	}
	err := p.stream.Close()
	p.stream = nil
	return err
}
