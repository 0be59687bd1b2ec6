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
	"math"
	"slices"
	"sync"
	"time"
)

func init() {
	registerBackend("mock", func() AudioBackend { return NewMockAudioBackend() })
}

// MockAudioBackend implements AudioBackend for testing without hardware dependencies
type MockAudioBackend struct {
	mu                 sync.Mutex
	initialized        bool
	streams            []*MockStream
	streamCounter      int
	initError          error
	terminateError     error
	openStreamError    error
	devices            []string
	simulateRealTiming bool
	streamSetup        func(*MockStream)
}

// NewMockAudioBackend creates a new mock audio backend
func NewMockAudioBackend() *MockAudioBackend {
	return &MockAudioBackend{
		simulateRealTiming: true,
	}
}

// Name returns "mock"
func (m *MockAudioBackend) Name() string {
	return "mock"
}

// SetInitError configures the backend to return an error on Initialize()
func (m *MockAudioBackend) SetInitError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initError = err
}

// SetOpenStreamError configures the backend to return an error on stream creation
func (m *MockAudioBackend) SetOpenStreamError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openStreamError = err
}

// SetDevices restricts the device names OpenStream accepts
func (m *MockAudioBackend) SetDevices(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = names
}

// SetSimulateRealTiming controls whether reads and writes take one period of wall time
func (m *MockAudioBackend) SetSimulateRealTiming(simulate bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.simulateRealTiming = simulate
}

// SetStreamSetup registers a hook run on every stream as it is opened,
// so faults can be injected before the engine touches the stream.
func (m *MockAudioBackend) SetStreamSetup(setup func(*MockStream)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamSetup = setup
}

// Streams returns every stream opened so far, oldest first
func (m *MockAudioBackend) Streams() []*MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.streams)
}

// OpenCount returns how many streams were opened for a direction
func (m *MockAudioBackend) OpenCount(dir Direction) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, s := range m.streams {
		if s.dir == dir {
			count++
		}
	}
	return count
}

// LastStream returns the most recently opened stream for a direction, or nil
func (m *MockAudioBackend) LastStream(dir Direction) *MockStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.streams) - 1; i >= 0; i-- {
		if m.streams[i].dir == dir {
			return m.streams[i]
		}
	}
	return nil
}

// Initialize initializes the mock audio subsystem
func (m *MockAudioBackend) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.initError != nil {
		return m.initError
	}

	m.initialized = true
	return nil
}

// Terminate closes every open stream and terminates the mock audio subsystem
func (m *MockAudioBackend) Terminate() error {
	m.mu.Lock()
	if m.terminateError != nil {
		m.mu.Unlock()
		return m.terminateError
	}
	streams := slices.Clone(m.streams)
	m.initialized = false
	// Release the lock before closing streams to avoid deadlocks
	m.mu.Unlock()

	for _, stream := range streams {
		_ = stream.Close() // Ignore errors during cleanup
	}
	return nil
}

// OpenStream creates a mock stream
func (m *MockAudioBackend) OpenStream(dir Direction, params StreamParams) (Stream, error) {
	m.mu.Lock()

	if !m.initialized {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: mock audio backend not initialized", ErrBackendUnavailable)
	}
	if m.openStreamError != nil {
		err := m.openStreamError
		m.mu.Unlock()
		return nil, err
	}
	if err := params.Format.Validate(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if params.DeviceName != "" && len(m.devices) > 0 && !slices.Contains(m.devices, params.DeviceName) {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrDeviceNotFound, params.DeviceName)
	}

	name := params.DeviceName
	if name == "" {
		name = fmt.Sprintf("mock-%s-%d", dir, m.streamCounter)
	}
	m.streamCounter++

	periodFrames := params.PeriodFrames
	if periodFrames <= 0 {
		periodFrames = DefaultCaptureFrames
	}

	stream := &MockStream{
		name:               name,
		dir:                dir,
		params:             params,
		periodBytes:        params.Format.FrameBytes(periodFrames),
		simulateRealTiming: m.simulateRealTiming,
		overrunAt:          map[int]bool{},
		underrunAt:         map[int]bool{},
		stallAt:            map[int]bool{},
		readErrorAt:        map[int]error{},
		writeErrorAt:       map[int]error{},
	}
	m.streams = append(m.streams, stream)
	setup := m.streamSetup
	m.mu.Unlock()

	if setup != nil {
		setup(stream)
	}
	return stream, nil
}

// MockStream implements Stream for testing
type MockStream struct {
	mu                 sync.Mutex
	name               string
	dir                Direction
	params             StreamParams
	periodBytes        int
	simulateRealTiming bool
	closed             bool

	reads    int
	writes   int
	prepares int
	drains   int
	drops    int

	overrunAt    map[int]bool
	underrunAt   map[int]bool
	stallAt      map[int]bool
	readErrorAt  map[int]error
	writeErrorAt map[int]error
	writeError   error
	prepareError error
	drainError   error
	writeDelay   time.Duration

	audioDataGenerator func(read int, buf []byte) // For generating mock audio input
	written            []byte
}

// SetOverrunAt makes the given 1-based read numbers report ErrOverrun
func (m *MockStream) SetOverrunAt(reads ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range reads {
		m.overrunAt[n] = true
	}
}

// SetReadErrorAt makes read number n fail with err
func (m *MockStream) SetReadErrorAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErrorAt[n] = err
}

// SetUnderrunAt makes the given 1-based write numbers report ErrUnderrun
func (m *MockStream) SetUnderrunAt(writes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range writes {
		m.underrunAt[n] = true
	}
}

// SetStallAt makes the given 1-based write numbers accept nothing and return (0, nil)
func (m *MockStream) SetStallAt(writes ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, n := range writes {
		m.stallAt[n] = true
	}
}

// SetWriteErrorAt makes write number n fail with err
func (m *MockStream) SetWriteErrorAt(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErrorAt[n] = err
}

// SetWriteError configures the stream to return an error on every Write()
func (m *MockStream) SetWriteError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeError = err
}

// SetPrepareError configures the stream to return an error on Prepare()
func (m *MockStream) SetPrepareError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepareError = err
}

// SetWriteDelay adds a fixed delay to every Write()
func (m *MockStream) SetWriteDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeDelay = d
}

// SetAudioDataGenerator sets a function to generate mock audio input data
func (m *MockStream) SetAudioDataGenerator(generator func(read int, buf []byte)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioDataGenerator = generator
}

// Name returns the mock device name
func (m *MockStream) Name() string {
	return m.name
}

// Params returns the parameters the stream was opened with
func (m *MockStream) Params() StreamParams {
	return m.params
}

// Prepare readies the mock stream
func (m *MockStream) Prepare() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStreamClosed
	}
	m.prepares++
	return m.prepareError
}

// Read produces one period of mock audio
func (m *MockStream) Read(buf []byte) (int, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if m.dir != DirectionCapture {
		m.mu.Unlock()
		return 0, fmt.Errorf("cannot read from playback stream")
	}

	m.reads++
	read := m.reads
	simulate := m.simulateRealTiming
	m.mu.Unlock()

	// Simulate real timing outside the lock, like a blocking device read
	if simulate {
		time.Sleep(m.params.Format.Duration(len(buf)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err, ok := m.readErrorAt[read]; ok {
		return 0, err
	}
	if m.overrunAt[read] {
		return 0, ErrOverrun
	}

	if m.audioDataGenerator != nil {
		m.audioDataGenerator(read, buf)
	} else {
		// Default: 440 Hz sine wave
		m.generateSine(read, buf)
	}
	return len(buf), nil
}

func (m *MockStream) generateSine(read int, buf []byte) {
	format := m.params.Format
	align := format.BlockAlign()
	frames := len(buf) / align
	for i := 0; i < frames; i++ {
		t := float64((read-1)*frames+i) / float64(format.SampleRate)
		v := 0.1 * math.Sin(2*math.Pi*440*t)
		for ch := 0; ch < format.Channels; ch++ {
			off := i*align + ch*(format.BitsPerSample/8)
			if format.BitsPerSample == 8 {
				buf[off] = byte(int8(v * 127))
			} else {
				s := int16(v * 32767)
				buf[off] = byte(s)
				buf[off+1] = byte(s >> 8)
			}
		}
	}
}

// Write records the audio data written to the mock output stream
func (m *MockStream) Write(buf []byte) (int, error) {
	m.mu.Lock()

	if m.closed {
		m.mu.Unlock()
		return 0, ErrStreamClosed
	}
	if m.dir != DirectionPlayback {
		m.mu.Unlock()
		return 0, fmt.Errorf("cannot write to capture stream")
	}

	m.writes++
	write := m.writes

	if m.writeError != nil {
		m.mu.Unlock()
		return 0, m.writeError
	}
	if err, ok := m.writeErrorAt[write]; ok {
		m.mu.Unlock()
		return 0, err
	}
	if m.underrunAt[write] {
		m.mu.Unlock()
		return 0, ErrUnderrun
	}
	if m.stallAt[write] {
		m.mu.Unlock()
		return 0, nil
	}

	m.written = append(m.written, buf...)
	delay := m.writeDelay
	if m.simulateRealTiming {
		delay += m.params.Format.Duration(len(buf))
	}
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return len(buf), nil
}

// Drain records a drain request
func (m *MockStream) Drain() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	return m.drainError
}

// Drop records a drop request
func (m *MockStream) Drop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drops++
	return nil
}

// Close closes the mock stream
func (m *MockStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Written returns a copy of all audio written to a playback stream
func (m *MockStream) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.written)
}

// Reads returns the number of Read calls
func (m *MockStream) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Writes returns the number of Write calls, including failed ones
func (m *MockStream) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// Prepares returns the number of Prepare calls
func (m *MockStream) Prepares() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prepares
}

// Drains returns the number of Drain calls
func (m *MockStream) Drains() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drains
}

// Drops returns the number of Drop calls
func (m *MockStream) Drops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drops
}

// IsClosed reports whether Close was called
func (m *MockStream) IsClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
