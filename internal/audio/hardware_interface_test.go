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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *MockAudioBackend {
	t.Helper()
	backend := NewMockAudioBackend()
	backend.SetSimulateRealTiming(false)
	require.NoError(t, backend.Initialize())
	t.Cleanup(func() { _ = backend.Terminate() })
	return backend
}

func captureParams() StreamParams {
	return StreamParams{Format: DefaultFormat(), PeriodFrames: DefaultCaptureFrames}
}

// TestHardwareInterfaceBasics tests basic hardware interface operations
func TestHardwareInterfaceBasics(t *testing.T) {
	t.Run("backend_lifecycle", func(t *testing.T) {
		backend := NewMockAudioBackend()

		err := backend.Initialize()
		require.NoError(t, err, "should initialize successfully")

		err = backend.Terminate()
		require.NoError(t, err, "should terminate successfully")
	})

	t.Run("backend_initialization_error", func(t *testing.T) {
		backend := NewMockAudioBackend()
		backend.SetInitError(fmt.Errorf("hardware initialization failed"))

		err := backend.Initialize()
		require.Error(t, err, "should fail initialization")
		assert.Contains(t, err.Error(), "hardware initialization failed")
	})

	t.Run("open_before_initialize", func(t *testing.T) {
		backend := NewMockAudioBackend()

		_, err := backend.OpenStream(DirectionCapture, captureParams())
		assert.ErrorIs(t, err, ErrBackendUnavailable)
	})

	t.Run("terminate_closes_streams", func(t *testing.T) {
		backend := NewMockAudioBackend()
		require.NoError(t, backend.Initialize())

		stream, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)

		require.NoError(t, backend.Terminate())
		assert.True(t, stream.(*MockStream).IsClosed())
	})
}

// TestInputStreamOperations tests audio input stream operations
func TestInputStreamOperations(t *testing.T) {
	t.Run("read_one_period", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)
		require.NoError(t, stream.Prepare())

		buf := make([]byte, DefaultFormat().FrameBytes(DefaultCaptureFrames))
		n, err := stream.Read(buf)
		require.NoError(t, err)
		assert.Equal(t, 320, n)

		// mock generates a sine wave
		hasNonZero := false
		for _, b := range buf {
			if b != 0 {
				hasNonZero = true
				break
			}
		}
		assert.True(t, hasNonZero, "should receive non-zero audio data")
	})

	t.Run("custom_generator", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)

		ms := stream.(*MockStream)
		ms.SetAudioDataGenerator(func(read int, buf []byte) {
			for i := range buf {
				buf[i] = byte(read)
			}
		})

		buf := make([]byte, 320)
		for i := 1; i <= 3; i++ {
			_, err := stream.Read(buf)
			require.NoError(t, err)
			assert.Equal(t, byte(i), buf[0])
		}
		assert.Equal(t, 3, ms.Reads())
	})

	t.Run("injected_overrun", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)
		stream.(*MockStream).SetOverrunAt(2)

		buf := make([]byte, 320)
		_, err = stream.Read(buf)
		assert.NoError(t, err)
		_, err = stream.Read(buf)
		assert.ErrorIs(t, err, ErrOverrun)
		_, err = stream.Read(buf)
		assert.NoError(t, err)
	})

	t.Run("read_on_playback_stream", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)

		_, err = stream.Read(make([]byte, 320))
		assert.Error(t, err)
	})

	t.Run("real_timing", func(t *testing.T) {
		backend := NewMockAudioBackend()
		require.NoError(t, backend.Initialize())
		defer func() { _ = backend.Terminate() }()

		stream, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)

		start := time.Now()
		_, err = stream.Read(make([]byte, 320))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, time.Since(start), 9*time.Millisecond, "one period is 10ms")
	})
}

// TestOutputStreamOperations tests audio output stream operations
func TestOutputStreamOperations(t *testing.T) {
	t.Run("write_records_data", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)

		n, err := stream.Write([]byte{1, 2, 3, 4})
		require.NoError(t, err)
		assert.Equal(t, 4, n)
		assert.Equal(t, []byte{1, 2, 3, 4}, stream.(*MockStream).Written())
	})

	t.Run("injected_underrun", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)
		ms := stream.(*MockStream)
		ms.SetUnderrunAt(1)

		_, err = stream.Write([]byte{1, 2})
		assert.ErrorIs(t, err, ErrUnderrun)
		_, err = stream.Write([]byte{1, 2})
		assert.NoError(t, err)
		assert.Equal(t, 2, ms.Writes())
		assert.Len(t, ms.Written(), 2)
	})

	t.Run("write_error", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)
		stream.(*MockStream).SetWriteError(errors.New("device unplugged"))

		_, err = stream.Write([]byte{1, 2})
		assert.EqualError(t, err, "device unplugged")
	})

	t.Run("write_after_close", func(t *testing.T) {
		backend := newTestBackend(t)
		stream, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)
		require.NoError(t, stream.Close())

		_, err = stream.Write([]byte{1, 2})
		assert.ErrorIs(t, err, ErrStreamClosed)
	})
}

// TestDeviceSelection tests device name handling
func TestDeviceSelection(t *testing.T) {
	t.Run("default_names", func(t *testing.T) {
		backend := newTestBackend(t)
		in, err := backend.OpenStream(DirectionCapture, captureParams())
		require.NoError(t, err)
		out, err := backend.OpenStream(DirectionPlayback, captureParams())
		require.NoError(t, err)

		assert.Equal(t, "mock-capture-0", in.Name())
		assert.Equal(t, "mock-playback-1", out.Name())
		assert.Equal(t, 1, backend.OpenCount(DirectionCapture))
		assert.Same(t, out, Stream(backend.LastStream(DirectionPlayback)))
	})

	t.Run("unknown_device", func(t *testing.T) {
		backend := newTestBackend(t)
		backend.SetDevices("hw:0,0")

		params := captureParams()
		params.DeviceName = "hw:9,9"
		_, err := backend.OpenStream(DirectionCapture, params)
		assert.ErrorIs(t, err, ErrDeviceNotFound)

		params.DeviceName = "hw:0,0"
		stream, err := backend.OpenStream(DirectionCapture, params)
		require.NoError(t, err)
		assert.Equal(t, "hw:0,0", stream.Name())
	})

	t.Run("invalid_format", func(t *testing.T) {
		backend := newTestBackend(t)
		params := captureParams()
		params.Format.SampleRate = 12345

		_, err := backend.OpenStream(DirectionCapture, params)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})
}

func TestBackendRegistry(t *testing.T) {
	names := BackendNames()
	assert.Contains(t, names, "mock")
	assert.Contains(t, names, "portaudio")
	assert.Contains(t, names, "malgo")
	assert.True(t, HasBackend("mock"))

	backend, err := NewBackend("mock")
	require.NoError(t, err)
	assert.Equal(t, "mock", backend.Name())

	_, err = NewBackend("oss")
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}
