//go:build linux

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
	"errors"
	"fmt"
	"sync"
	"syscall"

	"github.com/gen2brain/alsa"
)

func init() {
	registerBackend("alsa", func() AudioBackend { return NewALSABackend() })
}

// alsaPeriodCount is the number of periods in the kernel ring buffer
const alsaPeriodCount = 4

// ALSABackend implements AudioBackend directly on Linux ALSA hw devices.
// Device names take the form "hw:CARD,DEVICE".
type ALSABackend struct {
	mu          sync.Mutex
	initialized bool
}

// NewALSABackend creates a new ALSA backend
func NewALSABackend() *ALSABackend {
	return &ALSABackend{}
}

// Name returns "alsa"
func (b *ALSABackend) Name() string {
	return "alsa"
}

// Initialize marks the backend ready; ALSA needs no global setup
func (b *ALSABackend) Initialize() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = true
	return nil
}

// Terminate marks the backend unusable
func (b *ALSABackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.initialized = false
	return nil
}

// OpenStream opens a PCM device for one direction
func (b *ALSABackend) OpenStream(dir Direction, params StreamParams) (Stream, error) {
	b.mu.Lock()
	initialized := b.initialized
	b.mu.Unlock()
	if !initialized {
		return nil, fmt.Errorf("%w: alsa not initialized", ErrBackendUnavailable)
	}
	if err := params.Format.Validate(); err != nil {
		return nil, err
	}

	name := params.DeviceName
	if name == "" {
		name = "hw:0,0"
	}
	periodFrames := params.PeriodFrames
	if periodFrames <= 0 {
		periodFrames = DefaultCaptureFrames
	}

	format := alsa.SNDRV_PCM_FORMAT_S16_LE
	if params.Format.BitsPerSample == 8 {
		format = alsa.SNDRV_PCM_FORMAT_U8
	}
	flags := alsa.PCM_IN
	if dir == DirectionPlayback {
		flags = alsa.PCM_OUT
	}

	pcm, err := alsa.PcmOpenByName(name, flags, &alsa.Config{
		Channels:    uint32(params.Format.Channels),
		Rate:        uint32(params.Format.SampleRate),
		PeriodSize:  uint32(periodFrames),
		PeriodCount: alsaPeriodCount,
		Format:      format,
	})
	if err != nil {
		if errors.Is(err, syscall.ENOENT) {
			return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, name)
		}
		return nil, fmt.Errorf("failed to open %s pcm %q: %w", dir, name, err)
	}

	return &ALSAStream{
		pcm:        pcm,
		name:       name,
		dir:        dir,
		blockAlign: params.Format.BlockAlign(),
	}, nil
}

// ALSAStream implements Stream on an ALSA PCM handle
type ALSAStream struct {
	mu         sync.Mutex
	pcm        *alsa.PCM
	name       string
	dir        Direction
	blockAlign int
}

// Name returns the hw device name
func (s *ALSAStream) Name() string {
	return s.name
}

func (s *ALSAStream) handle() (*alsa.PCM, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pcm == nil {
		return nil, ErrStreamClosed
	}
	return s.pcm, nil
}

// Prepare readies the PCM, clearing an xrun
func (s *ALSAStream) Prepare() error {
	pcm, err := s.handle()
	if err != nil {
		return err
	}
	return pcm.Prepare()
}

// Read reads one period; EPIPE means the device overran
func (s *ALSAStream) Read(buf []byte) (int, error) {
	pcm, err := s.handle()
	if err != nil {
		return 0, err
	}
	frames, err := pcm.Read(buf)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return 0, ErrOverrun
		}
		return 0, err
	}
	return frames * s.blockAlign, nil
}

// Write writes buf; EPIPE means the device underran
func (s *ALSAStream) Write(buf []byte) (int, error) {
	pcm, err := s.handle()
	if err != nil {
		return 0, err
	}
	frames, err := pcm.Write(buf)
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			return 0, ErrUnderrun
		}
		return 0, err
	}
	return frames * s.blockAlign, nil
}

// Drain waits for queued playback to finish
func (s *ALSAStream) Drain() error {
	pcm, err := s.handle()
	if err != nil {
		return err
	}
	if err := pcm.Drain(); err != nil && !errors.Is(err, syscall.EPIPE) {
		return err
	}
	return nil
}

// Drop stops the PCM immediately
func (s *ALSAStream) Drop() error {
	pcm, err := s.handle()
	if err != nil {
		return err
	}
	return pcm.Stop()
}

// Close releases the PCM
func (s *ALSAStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pcm == nil {
		return nil
	}
	err := s.pcm.Close()
	s.pcm = nil
	return err
}
