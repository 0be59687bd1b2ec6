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

package transport

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

// Binary frame protocol for captured audio and endpoint events.
// Each NATS message carries exactly one frame.

// FrameType represents the type of frame being transmitted
type FrameType uint8

const (
	// Audio frame types
	FrameTypeAudioData   FrameType = 0x01
	FrameTypeAudioEnd    FrameType = 0x02
	FrameTypeAudioFormat FrameType = 0x03

	// Endpoint event frame types
	FrameTypeState FrameType = 0x10
	FrameTypeError FrameType = 0x11
)

func (t FrameType) String() string {
	switch t {
	case FrameTypeAudioData:
		return "audio_data"
	case FrameTypeAudioEnd:
		return "audio_end"
	case FrameTypeAudioFormat:
		return "audio_format"
	case FrameTypeState:
		return "state"
	case FrameTypeError:
		return "error"
	default:
		return fmt.Sprintf("frame_type(0x%02X)", uint8(t))
	}
}

// Frame represents a binary frame in the protocol
type Frame struct {
	Type      FrameType
	SessionID uint32
	Sequence  uint32
	Timestamp uint64
	Data      []byte
}

// FrameHeader represents the fixed-size frame header (24 bytes)
type FrameHeader struct {
	Magic     uint32    // 0x4C4F5141 ("LOQA")
	Type      FrameType // Frame type (1 byte)
	Reserved  uint8     // Reserved for future use (1 byte)
	Length    uint16    // Data payload length (2 bytes)
	SessionID uint32    // Capture session identifier (4 bytes)
	Sequence  uint32    // Sequence number (4 bytes)
	Timestamp uint64    // Unix timestamp microseconds (8 bytes)
}

const (
	// Magic number for frame validation
	FrameMagic = 0x4C4F5141 // "LOQA" in big-endian

	// MaxFrameSize keeps a frame inside one small network packet
	MaxFrameSize = 1536
	HeaderSize   = 24 // Fixed header size
	MaxDataSize  = MaxFrameSize - HeaderSize
)

// Serialize converts a frame to binary format
func (f *Frame) Serialize() ([]byte, error) {
	if len(f.Data) > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", len(f.Data), MaxDataSize)
	}

	header := FrameHeader{
		Magic:     FrameMagic,
		Type:      f.Type,
		Length:    uint16(len(f.Data)), //nolint:gosec // G115: bounded by MaxDataSize above
		SessionID: f.SessionID,
		Sequence:  f.Sequence,
		Timestamp: f.Timestamp,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(f.Data)))

	// Write header in big-endian format
	if err := binary.Write(buf, binary.BigEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write frame header: %w", err)
	}
	buf.Write(f.Data)

	return buf.Bytes(), nil
}

// DeserializeFrame converts binary data to a frame
func DeserializeFrame(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("frame too small: %d bytes (min %d)", len(data), HeaderSize)
	}

	buf := bytes.NewReader(data)
	var header FrameHeader

	if err := binary.Read(buf, binary.BigEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	// Validate magic number
	if header.Magic != FrameMagic {
		return nil, fmt.Errorf("invalid frame magic: 0x%08X (expected 0x%08X)", header.Magic, FrameMagic)
	}
	if header.Length > MaxDataSize {
		return nil, fmt.Errorf("frame data too large: %d bytes (max %d)", header.Length, MaxDataSize)
	}

	// Validate frame size
	expectedSize := HeaderSize + int(header.Length)
	if len(data) != expectedSize {
		return nil, fmt.Errorf("frame size mismatch: got %d bytes, expected %d", len(data), expectedSize)
	}

	frame := &Frame{
		Type:      header.Type,
		SessionID: header.SessionID,
		Sequence:  header.Sequence,
		Timestamp: header.Timestamp,
	}

	if header.Length > 0 {
		frame.Data = make([]byte, header.Length)
		if _, err := io.ReadFull(buf, frame.Data); err != nil {
			return nil, fmt.Errorf("failed to read frame data: %w", err)
		}
	}

	return frame, nil
}

// Size returns the total serialized size of the frame
func (f *Frame) Size() int {
	return HeaderSize + len(f.Data)
}

// Framer stamps outgoing frames for one capture session with increasing
// sequence numbers. It is safe for concurrent use.
type Framer struct {
	sessionID uint32
	sequence  atomic.Uint32
	now       func() time.Time
}

// NewFramer creates a framer for sessionID
func NewFramer(sessionID uint32) *Framer {
	return &Framer{sessionID: sessionID, now: time.Now}
}

func (f *Framer) next(t FrameType, data []byte) *Frame {
	return &Frame{
		Type:      t,
		SessionID: f.sessionID,
		Sequence:  f.sequence.Add(1),
		Timestamp: uint64(f.now().UnixMicro()), //nolint:gosec // G115: timestamps are after 1970
		Data:      data,
	}
}

// Audio splits pcm into as many data frames as needed. Splits fall on
// blockAlign boundaries so no sample straddles two frames.
func (f *Framer) Audio(pcm []byte, blockAlign int) []*Frame {
	limit := MaxDataSize
	if blockAlign > 0 {
		limit -= MaxDataSize % blockAlign
	}
	frames := make([]*Frame, 0, len(pcm)/limit+1)
	for len(pcm) > 0 {
		n := min(len(pcm), limit)
		frames = append(frames, f.next(FrameTypeAudioData, pcm[:n]))
		pcm = pcm[n:]
	}
	return frames
}

// End marks the end of the captured stream
func (f *Framer) End() *Frame {
	return f.next(FrameTypeAudioEnd, nil)
}

// Format announces the PCM layout of the following data frames
func (f *Framer) Format(format audio.Format) *Frame {
	data := make([]byte, 6)
	binary.BigEndian.PutUint32(data[0:], uint32(format.SampleRate)) //nolint:gosec // G115: validated rates
	data[4] = uint8(format.Channels)                                //nolint:gosec // G115: 1 or 2
	data[5] = uint8(format.BitsPerSample)                           //nolint:gosec // G115: 8 or 16
	return f.next(FrameTypeAudioFormat, data)
}

// State reports a direction state change
func (f *Framer) State(dir audio.Direction, state audio.State) *Frame {
	return f.next(FrameTypeState, []byte{uint8(dir), uint8(state)}) //nolint:gosec // G115: small enums
}

// Error reports a transient device fault
func (f *Framer) Error(kind audio.ErrorKind) *Frame {
	return f.next(FrameTypeError, []byte{uint8(kind)}) //nolint:gosec // G115: small enum
}

// ParseFormat decodes an audio format frame
func ParseFormat(f *Frame) (audio.Format, error) {
	if f.Type != FrameTypeAudioFormat || len(f.Data) != 6 {
		return audio.Format{}, fmt.Errorf("not an audio format frame: %s with %d bytes", f.Type, len(f.Data))
	}
	format := audio.Format{
		SampleRate:    int(binary.BigEndian.Uint32(f.Data[0:])),
		Channels:      int(f.Data[4]),
		BitsPerSample: int(f.Data[5]),
	}
	return format, format.Validate()
}

// ParseState decodes a state frame
func ParseState(f *Frame) (audio.Direction, audio.State, error) {
	if f.Type != FrameTypeState || len(f.Data) != 2 {
		return 0, 0, fmt.Errorf("not a state frame: %s with %d bytes", f.Type, len(f.Data))
	}
	return audio.Direction(f.Data[0]), audio.State(f.Data[1]), nil
}

// ParseError decodes an error frame
func ParseError(f *Frame) (audio.ErrorKind, error) {
	if f.Type != FrameTypeError || len(f.Data) != 1 {
		return 0, fmt.Errorf("not an error frame: %s with %d bytes", f.Type, len(f.Data))
	}
	return audio.ErrorKind(f.Data[0]), nil
}
