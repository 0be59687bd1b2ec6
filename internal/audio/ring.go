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
	"sync"
)

// FrameRing is a fixed-capacity circular buffer of whole audio frames.
// When full, a push overwrites the oldest frame instead of blocking the producer.
// All state is guarded by a single mutex and never touched outside its methods.
type FrameRing struct {
	mu         sync.Mutex
	storage    []byte
	frameBytes int
	front      int // oldest unread byte
	tail       int // next write position
	occupancy  int // buffered bytes, 0 <= occupancy <= len(storage)
}

// RingCapacity returns the ring size in bytes for the given amount of audio,
// rounded down to a whole number of frames and never less than one frame.
func RingCapacity(format Format, frameCount, seconds int) int {
	frameBytes := format.FrameBytes(frameCount)
	if frameBytes <= 0 {
		return 0
	}
	capacity := (format.SampleRate * seconds / frameBytes) * frameBytes
	if capacity < frameBytes {
		capacity = frameBytes
	}
	return capacity
}

// NewFrameRing creates a ring of capacity bytes holding frames of frameBytes each
func NewFrameRing(frameBytes, capacity int) (*FrameRing, error) {
	if frameBytes <= 0 {
		return nil, invalidArgument("frame size must be positive, got %d", frameBytes)
	}
	if capacity < frameBytes || capacity%frameBytes != 0 {
		return nil, invalidArgument("ring capacity %d is not a positive multiple of frame size %d", capacity, frameBytes)
	}
	return &FrameRing{
		storage:    make([]byte, capacity),
		frameBytes: frameBytes,
	}, nil
}

// Push copies one frame in at the tail. If the ring is full the oldest frame is
// discarded first and Push reports true.
func (r *FrameRing) Push(frame []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	dropped := false
	if r.occupancy == len(r.storage) {
		r.front = (r.front + r.frameBytes) % len(r.storage)
		r.occupancy -= r.frameBytes
		dropped = true
	}

	slot := r.storage[r.tail : r.tail+r.frameBytes]
	n := copy(slot, frame)
	clear(slot[n:])

	r.tail = (r.tail + r.frameBytes) % len(r.storage)
	r.occupancy += r.frameBytes
	return dropped
}

// Pop copies the oldest frame into out. It reports false when the ring is empty.
// framesBefore is the number of buffered frames observed before the pop.
func (r *FrameRing) Pop(out []byte) (ok bool, framesBefore int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	framesBefore = r.occupancy / r.frameBytes
	if r.occupancy == 0 {
		return false, 0
	}

	copy(out, r.storage[r.front:r.front+r.frameBytes])
	r.front = (r.front + r.frameBytes) % len(r.storage)
	r.occupancy -= r.frameBytes
	return true, framesBefore
}

// Reset discards every buffered frame
func (r *FrameRing) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.front, r.tail, r.occupancy = 0, 0, 0
}

// Occupancy returns the number of buffered bytes
func (r *FrameRing) Occupancy() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.occupancy
}

// Frames returns the number of buffered frames
func (r *FrameRing) Frames() int {
	return r.Occupancy() / r.frameBytes
}

// Capacity returns the ring size in bytes
func (r *FrameRing) Capacity() int {
	return len(r.storage)
}

// CapacityFrames returns the ring size in frames
func (r *FrameRing) CapacityFrames() int {
	return len(r.storage) / r.frameBytes
}

// FrameBytes returns the size of one frame
func (r *FrameRing) FrameBytes() int {
	return r.frameBytes
}

func (r *FrameRing) String() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fmt.Sprintf("ring(front=%d tail=%d occupancy=%d capacity=%d)", r.front, r.tail, r.occupancy, len(r.storage))
}

// frameCounter signals frame availability from the reader to the dispatcher.
// Its value mirrors the ring's frame count but the ring remains authoritative.
type frameCounter struct {
	tokens chan struct{}
}

func newFrameCounter(capacityFrames int) *frameCounter {
	// one extra slot for the reader's shutdown wake-up
	return &frameCounter{tokens: make(chan struct{}, capacityFrames+1)}
}

// post increments the counter without ever blocking the caller
func (c *frameCounter) post() bool {
	select {
	case c.tokens <- struct{}{}:
		return true
	default:
		return false
	}
}

func (c *frameCounter) wait() {
	<-c.tokens
}

func (c *frameCounter) value() int {
	return len(c.tokens)
}
