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
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAVSource pulls PCM from a WAV container in the file's own format
type WAVSource struct {
	decoder *wav.Decoder
	format  Format
	samples *goaudio.IntBuffer
	err     error
}

// NewWAVSource parses the WAV header and positions the reader at the PCM data
func NewWAVSource(r io.ReadSeeker) (*WAVSource, error) {
	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		if err := decoder.Err(); err != nil {
			return nil, fmt.Errorf("%w: invalid wav data: %v", ErrInvalidArgument, err)
		}
		return nil, invalidArgument("invalid wav data")
	}

	format := Format{
		Channels:      int(decoder.NumChans),
		SampleRate:    int(decoder.SampleRate),
		BitsPerSample: int(decoder.BitDepth),
	}
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if err := decoder.FwdToPCM(); err != nil {
		return nil, fmt.Errorf("seek to pcm data: %w", err)
	}

	return &WAVSource{
		decoder: decoder,
		format:  format,
		samples: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitsPerSample,
		},
	}, nil
}

// Format returns the audio format declared by the file
func (s *WAVSource) Format() Format {
	return s.format
}

// Read fills buf with little-endian PCM and returns the number of bytes, or 0
// at the end of the data. It has the shape of PlaybackRequest.Read.
func (s *WAVSource) Read(buf []byte) int {
	if s.err != nil {
		return 0
	}

	width := s.format.BitsPerSample / 8
	want := len(buf) / s.format.BlockAlign() * s.format.Channels
	if cap(s.samples.Data) < want {
		s.samples.Data = make([]int, want)
	}
	s.samples.Data = s.samples.Data[:want]

	n, err := s.decoder.PCMBuffer(s.samples)
	if err != nil && !errors.Is(err, io.EOF) {
		s.err = err
	}
	if n == 0 {
		if s.err == nil {
			s.err = io.EOF
		}
		return 0
	}

	for i, v := range s.samples.Data[:n] {
		if width == 1 {
			buf[i] = byte(v)
		} else {
			binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v)))
		}
	}
	return n * width
}

// Err returns the first decoding error, or nil after a clean end of data
func (s *WAVSource) Err() error {
	if errors.Is(s.err, io.EOF) {
		return nil
	}
	return s.err
}

// PlayWAVReader plays a WAV stream through the playback direction. done is
// called exactly once when playback ends.
func (h *Handle) PlayWAVReader(r io.ReadSeeker, done func()) error {
	if done == nil {
		return invalidArgument("done callback is required")
	}
	src, err := NewWAVSource(r)
	if err != nil {
		return err
	}
	return h.StartPlayback(src.Format(), PlaybackRequest{
		Read:     src.Read,
		Complete: done,
	})
}

// PlayWAV plays a WAV file through the playback direction
func (h *Handle) PlayWAV(path string, done func()) error {
	if done == nil {
		return invalidArgument("done callback is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open wav: %w", err)
	}
	err = h.PlayWAVReader(f, func() {
		_ = f.Close()
		done()
	})
	if err != nil {
		_ = f.Close()
	}
	return err
}

// WAVRecorder writes captured frames into a WAV container
type WAVRecorder struct {
	encoder *wav.Encoder
	format  Format
	samples *goaudio.IntBuffer
}

// NewWAVRecorder starts a WAV container on w in the given format
func NewWAVRecorder(w io.WriteSeeker, format Format) (*WAVRecorder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &WAVRecorder{
		encoder: wav.NewEncoder(w, format.SampleRate, format.BitsPerSample, format.Channels, 1),
		format:  format,
		samples: &goaudio.IntBuffer{
			Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
			SourceBitDepth: format.BitsPerSample,
		},
	}, nil
}

// Write appends one frame of little-endian PCM
func (r *WAVRecorder) Write(frame []byte) error {
	width := r.format.BitsPerSample / 8
	n := len(frame) / width
	if cap(r.samples.Data) < n {
		r.samples.Data = make([]int, n)
	}
	r.samples.Data = r.samples.Data[:n]

	for i := range n {
		if width == 1 {
			r.samples.Data[i] = int(frame[i])
		} else {
			r.samples.Data[i] = int(int16(binary.LittleEndian.Uint16(frame[2*i:])))
		}
	}
	return r.encoder.Write(r.samples)
}

// Close finalizes the WAV header. It does not close the underlying writer.
func (r *WAVRecorder) Close() error {
	return r.encoder.Close()
}
