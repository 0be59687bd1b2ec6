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
	"testing"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

func BenchmarkFrameSerialization(b *testing.B) {
	testCases := []struct {
		name     string
		dataSize int
	}{
		{"capture_frame_320_bytes", 320},
		{"medium_512_bytes", 512},
		{"max_data", MaxDataSize},
	}

	for _, tc := range testCases {
		b.Run(tc.name, func(b *testing.B) {
			frame := &Frame{Type: FrameTypeAudioData, SessionID: 12345, Sequence: 1, Data: make([]byte, tc.dataSize)}

			b.ReportAllocs()
			b.SetBytes(int64(tc.dataSize + HeaderSize))
			for b.Loop() {
				if _, err := frame.Serialize(); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkFrameDeserialization(b *testing.B) {
	frame := &Frame{Type: FrameTypeAudioData, SessionID: 12345, Sequence: 1, Data: make([]byte, 320)}
	serialized, err := frame.Serialize()
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.SetBytes(int64(len(serialized)))
	for b.Loop() {
		if _, err := DeserializeFrame(serialized); err != nil {
			b.Fatal(err)
		}
	}
}

// BenchmarkFramerAudio measures framing one second of 16 kHz mono capture
func BenchmarkFramerAudio(b *testing.B) {
	format := audio.DefaultFormat()
	pcm := make([]byte, format.SampleRate*format.BlockAlign())
	framer := NewFramer(1)

	b.ReportAllocs()
	b.SetBytes(int64(len(pcm)))
	for b.Loop() {
		for _, f := range framer.Audio(pcm, format.BlockAlign()) {
			if _, err := f.Serialize(); err != nil {
				b.Fatal(err)
			}
		}
	}
}
