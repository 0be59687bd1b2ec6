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

import "testing"

func BenchmarkFrameRing(b *testing.B) {
	format := DefaultFormat()
	frameBytes := format.FrameBytes(DefaultCaptureFrames)
	ring, err := NewFrameRing(frameBytes, RingCapacity(format, DefaultCaptureFrames, DefaultBufferSeconds))
	if err != nil {
		b.Fatal(err)
	}
	in := make([]byte, frameBytes)
	out := make([]byte, frameBytes)

	b.Run("push_pop", func(b *testing.B) {
		b.ReportAllocs()
		b.SetBytes(int64(frameBytes))
		for b.Loop() {
			ring.Push(in)
			ring.Pop(out)
		}
	})

	b.Run("push_saturated", func(b *testing.B) {
		for ring.Frames() < ring.CapacityFrames() {
			ring.Push(in)
		}
		b.ReportAllocs()
		b.SetBytes(int64(frameBytes))
		for b.Loop() {
			ring.Push(in)
		}
	})
}
