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
)

var (
	// ErrInvalidArgument is returned for malformed configuration or missing callbacks
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidState is returned when an operation is not legal in the current device state
	ErrInvalidState = errors.New("invalid state")

	// ErrOverrun is reported by a capture stream when the device produced data faster than it was read
	ErrOverrun = errors.New("device overrun")

	// ErrUnderrun is reported by a playback stream when the device ran out of data
	ErrUnderrun = errors.New("device underrun")

	// ErrDeviceNotFound is returned when a named device does not exist on the backend
	ErrDeviceNotFound = errors.New("audio device not found")

	// ErrBackendUnavailable is returned for unknown or uninitialized backends
	ErrBackendUnavailable = errors.New("audio backend unavailable")

	// ErrStreamClosed is returned by stream operations after Close
	ErrStreamClosed = errors.New("stream closed")
)

// ErrorKind identifies an error delivered asynchronously through the error callback
type ErrorKind int

const (
	// ErrorOverrun means the capture device overran and was re-prepared
	ErrorOverrun ErrorKind = iota + 1

	// ErrorBufferFull means the capture ring was full and the oldest frame was dropped
	ErrorBufferFull

	// ErrorBusyLoop means the capture read loop spun faster than the device period
	ErrorBusyLoop

	// ErrorPrepareFailed means re-preparing the device after a fault failed
	ErrorPrepareFailed
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorOverrun:
		return "overrun"
	case ErrorBufferFull:
		return "buffer_full"
	case ErrorBusyLoop:
		return "busy_loop"
	case ErrorPrepareFailed:
		return "prepare_failed"
	default:
		return fmt.Sprintf("error_kind(%d)", int(k))
	}
}

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}
