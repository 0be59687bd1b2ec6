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

// Direction selects the capture (microphone) or playback (speaker) side of a device
type Direction int

const (
	DirectionCapture Direction = iota
	DirectionPlayback
)

func (d Direction) String() string {
	if d == DirectionPlayback {
		return "playback"
	}
	return "capture"
}

// AudioBackend provides an abstraction layer over an OS audio subsystem
// This enables dependency injection and makes testing hardware-independent
type AudioBackend interface {
	// Name identifies the backend ("portaudio", "malgo", "alsa", "mock")
	Name() string

	// Initialize the audio subsystem
	Initialize() error

	// Terminate the audio subsystem
	Terminate() error

	// OpenStream opens a hardware endpoint configured for the requested format
	OpenStream(dir Direction, params StreamParams) (Stream, error)
}

// Stream is one opened hardware endpoint. Read and Write block for up to one
// device period; all other methods return promptly.
type Stream interface {
	// Name returns the device name reported by the backend
	Name() string

	// Prepare readies the device for I/O, recovering it after an overrun or underrun
	Prepare() error

	// Read fills buf with exactly one period of captured audio.
	// It returns ErrOverrun when the device overflowed since the last read.
	Read(buf []byte) (int, error)

	// Write plays buf, blocking while the device has no room.
	// It returns ErrUnderrun when the device starved before the write.
	Write(buf []byte) (int, error)

	// Drain blocks until queued playback data has been played
	Drain() error

	// Drop discards any queued data and stops the device
	Drop() error

	// Close the stream and release resources
	Close() error
}

// StreamParams holds parameters for stream creation
type StreamParams struct {
	Format       Format
	DeviceName   string
	PeriodFrames int
}
