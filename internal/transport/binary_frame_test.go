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
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

func TestFrameSerialization(t *testing.T) {
	tests := []struct {
		name  string
		frame *Frame
	}{
		{
			name: "Empty frame",
			frame: &Frame{
				Type:      FrameTypeAudioEnd,
				SessionID: 12345,
				Sequence:  1,
				Timestamp: 1640995200000000, // 2022-01-01 00:00:00 UTC in microseconds
			},
		},
		{
			name: "One capture period",
			frame: &Frame{
				Type:      FrameTypeAudioData,
				SessionID: 67890,
				Sequence:  42,
				Timestamp: 1640995200123456,
				Data:      make([]byte, 320),
			},
		},
		{
			name: "Frame with maximum data size",
			frame: &Frame{
				Type:      FrameTypeAudioData,
				SessionID: 99999,
				Sequence:  999,
				Timestamp: 1640995299999999,
				Data:      bytes.Repeat([]byte{0xAB}, MaxDataSize),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			serialized, err := tt.frame.Serialize()
			if err != nil {
				t.Fatalf("Serialize() error = %v", err)
			}
			if len(serialized) != tt.frame.Size() {
				t.Errorf("Serialized frame size = %d, want %d", len(serialized), tt.frame.Size())
			}
			if magic := binary.BigEndian.Uint32(serialized); magic != FrameMagic {
				t.Errorf("magic = 0x%08X, want 0x%08X", magic, FrameMagic)
			}

			deserialized, err := DeserializeFrame(serialized)
			if err != nil {
				t.Fatalf("DeserializeFrame() error = %v", err)
			}
			if deserialized.Type != tt.frame.Type ||
				deserialized.SessionID != tt.frame.SessionID ||
				deserialized.Sequence != tt.frame.Sequence ||
				deserialized.Timestamp != tt.frame.Timestamp {
				t.Errorf("header mismatch: got %+v, want %+v", deserialized, tt.frame)
			}
			if !bytes.Equal(deserialized.Data, tt.frame.Data) {
				t.Errorf("Data mismatch")
			}
		})
	}
}

func TestSerializeTooLarge(t *testing.T) {
	frame := &Frame{Type: FrameTypeAudioData, Data: make([]byte, MaxDataSize+1)}
	if _, err := frame.Serialize(); err == nil {
		t.Fatal("expected error for oversized frame")
	}
}

func TestFrameDeserialization_ErrorCases(t *testing.T) {
	valid, err := (&Frame{Type: FrameTypeAudioData, Data: []byte{1, 2, 3, 4}}).Serialize()
	if err != nil {
		t.Fatal(err)
	}

	badMagic := bytes.Clone(valid)
	badMagic[0] = 0xFF

	oversized := bytes.Clone(valid[:HeaderSize])
	binary.BigEndian.PutUint16(oversized[6:], MaxDataSize+1)

	tests := []struct {
		name   string
		data   []byte
		errMsg string
	}{
		{"too_small", valid[:10], "frame too small"},
		{"bad_magic", badMagic, "invalid frame magic"},
		{"truncated_payload", valid[:len(valid)-1], "frame size mismatch"},
		{"trailing_bytes", append(bytes.Clone(valid), 0), "frame size mismatch"},
		{"declared_too_large", oversized, "frame data too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeserializeFrame(tt.data)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("error = %q, want it to contain %q", err, tt.errMsg)
			}
		})
	}
}

func TestFrameConstants(t *testing.T) {
	if FrameMagic != 0x4C4F5141 {
		t.Errorf("FrameMagic = 0x%08X, want 0x4C4F5141", FrameMagic)
	}
	if HeaderSize != binary.Size(FrameHeader{}) {
		t.Errorf("HeaderSize = %d, header struct encodes to %d", HeaderSize, binary.Size(FrameHeader{}))
	}
	if MaxDataSize != MaxFrameSize-HeaderSize {
		t.Errorf("MaxDataSize = %d, want %d", MaxDataSize, MaxFrameSize-HeaderSize)
	}
}

func TestFramerAudio(t *testing.T) {
	f := NewFramer(7)
	f.now = func() time.Time { return time.UnixMicro(1700000000000000) }

	t.Run("small_frame", func(t *testing.T) {
		frames := f.Audio(make([]byte, 320), 2)
		if len(frames) != 1 {
			t.Fatalf("got %d frames, want 1", len(frames))
		}
		if frames[0].SessionID != 7 || frames[0].Sequence != 1 || frames[0].Timestamp != 1700000000000000 {
			t.Errorf("unexpected header %+v", frames[0])
		}
	})

	t.Run("split_on_sample_boundary", func(t *testing.T) {
		// 441 stereo 16-bit sample frames do not fit one network frame
		pcm := make([]byte, 441*4)
		for i := range pcm {
			pcm[i] = byte(i)
		}
		frames := f.Audio(pcm, 4)
		if len(frames) != 2 {
			t.Fatalf("got %d frames, want 2", len(frames))
		}

		var joined []byte
		for i, fr := range frames {
			if len(fr.Data)%4 != 0 {
				t.Errorf("frame %d has %d bytes, not a whole number of samples", i, len(fr.Data))
			}
			if _, err := fr.Serialize(); err != nil {
				t.Errorf("frame %d: %v", i, err)
			}
			joined = append(joined, fr.Data...)
		}
		if !bytes.Equal(joined, pcm) {
			t.Error("split frames do not reassemble")
		}
		if frames[1].Sequence != frames[0].Sequence+1 {
			t.Errorf("sequence %d after %d", frames[1].Sequence, frames[0].Sequence)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if frames := f.Audio(nil, 2); len(frames) != 0 {
			t.Errorf("got %d frames for empty pcm", len(frames))
		}
	})
}

func TestFramerEvents(t *testing.T) {
	f := NewFramer(1)

	t.Run("format", func(t *testing.T) {
		want := audio.Format{Channels: 2, SampleRate: 44100, BitsPerSample: 16}
		got, err := ParseFormat(f.Format(want))
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("format = %v, want %v", got, want)
		}
	})

	t.Run("state", func(t *testing.T) {
		dir, state, err := ParseState(f.State(audio.DirectionPlayback, audio.StatePaused))
		if err != nil {
			t.Fatal(err)
		}
		if dir != audio.DirectionPlayback || state != audio.StatePaused {
			t.Errorf("got %s/%s", dir, state)
		}
	})

	t.Run("error", func(t *testing.T) {
		kind, err := ParseError(f.Error(audio.ErrorOverrun))
		if err != nil {
			t.Fatal(err)
		}
		if kind != audio.ErrorOverrun {
			t.Errorf("kind = %s", kind)
		}
	})

	t.Run("wrong_type", func(t *testing.T) {
		if _, err := ParseFormat(f.End()); err == nil {
			t.Error("end frame parsed as format")
		}
		if _, _, err := ParseState(f.Error(audio.ErrorBusyLoop)); err == nil {
			t.Error("error frame parsed as state")
		}
	})

	t.Run("names", func(t *testing.T) {
		if FrameTypeAudioData.String() != "audio_data" || FrameType(0x99).String() != "frame_type(0x99)" {
			t.Error("unexpected frame type names")
		}
	})
}
