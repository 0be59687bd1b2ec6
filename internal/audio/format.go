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
	"slices"
	"time"
)

// Supported format values
var (
	SupportedSampleRates   = []int{11025, 16000, 22050, 44100, 96000}
	SupportedChannels      = []int{1, 2}
	SupportedBitsPerSample = []int{8, 16}
)

const (
	// DefaultCaptureFrames is the capture period in sample frames (10 ms at 16 kHz)
	DefaultCaptureFrames = 160

	// DefaultPlaybackFrames is the playback period in sample frames
	DefaultPlaybackFrames = 768

	// DefaultBufferSeconds is how much captured audio the ring holds before dropping
	DefaultBufferSeconds = 5
)

// Format describes interleaved PCM audio
type Format struct {
	Channels      int
	SampleRate    int
	BitsPerSample int
}

// DefaultFormat is 16 kHz mono 16-bit, the speech capture format
func DefaultFormat() Format {
	return Format{Channels: 1, SampleRate: 16000, BitsPerSample: 16}
}

// Validate checks every field against the supported sets
func (f Format) Validate() error {
	if !slices.Contains(SupportedChannels, f.Channels) {
		return invalidArgument("unsupported channel count %d", f.Channels)
	}
	if !slices.Contains(SupportedSampleRates, f.SampleRate) {
		return invalidArgument("unsupported sample rate %d", f.SampleRate)
	}
	if !slices.Contains(SupportedBitsPerSample, f.BitsPerSample) {
		return invalidArgument("unsupported bits per sample %d", f.BitsPerSample)
	}
	return nil
}

// BlockAlign returns the size in bytes of one sample frame (one sample per channel)
func (f Format) BlockAlign() int {
	return f.Channels * (f.BitsPerSample / 8)
}

// FrameBytes returns the size in bytes of frameCount sample frames
func (f Format) FrameBytes(frameCount int) int {
	return frameCount * f.BlockAlign()
}

// Duration returns the playing time of n bytes in this format
func (f Format) Duration(n int) time.Duration {
	align := f.BlockAlign()
	if align == 0 || f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n/align) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch/%dbit", f.SampleRate, f.Channels, f.BitsPerSample)
}
