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

// Package nats relays audio between the engine and a NATS bus: synthesized
// clips arriving on audio.<id> are played through a Player, and captured
// frames are published as binary transport frames.
package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
	"github.com/nats-io/nats.go"
)

const (
	connectAttempts = 5
	connectBackoff  = 2 * time.Second

	// BroadcastSubject reaches every relay on the bus
	BroadcastSubject = "audio.broadcast"
)

// AudioStreamMessage carries a complete audio clip from the hub
type AudioStreamMessage struct {
	StreamID      string `json:"stream_id"`
	AudioData     []byte `json:"audio_data"`
	AudioFormat   string `json:"audio_format"` // "wav" or "pcm"
	SampleRate    int    `json:"sample_rate"`
	Channels      int    `json:"channels,omitempty"`        // pcm only
	BitsPerSample int    `json:"bits_per_sample,omitempty"` // pcm only
	MessageType   string `json:"message_type"`              // "response", "timer", "reminder", "system"
	Priority      int    `json:"priority"`                  // 1=highest, 5=lowest
}

// Connection is the subset of *nats.Conn used by the relay
type Connection interface {
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
	Publish(subject string, data []byte) error
	Close()
}

// ConnectionAdapter adapts *nats.Conn to Connection
type ConnectionAdapter struct {
	conn *nats.Conn
}

func NewConnectionAdapter(conn *nats.Conn) *ConnectionAdapter {
	return &ConnectionAdapter{conn: conn}
}

func (a *ConnectionAdapter) Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error) {
	return a.conn.Subscribe(subject, cb)
}

func (a *ConnectionAdapter) Publish(subject string, data []byte) error {
	return a.conn.Publish(subject, data)
}

func (a *ConnectionAdapter) Close() {
	a.conn.Close()
}

// Connect dials the NATS server, retrying a few times before giving up.
// The returned connection reconnects on its own after the first success.
func Connect(ctx context.Context, url, name string, logger *slog.Logger) (*nats.Conn, error) {
	var err error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		var nc *nats.Conn
		nc, err = nats.Connect(url,
			nats.Name(name),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(connectBackoff),
		)
		if err == nil {
			logger.Info("connected to NATS", "url", url)
			return nc, nil
		}
		logger.Warn("failed to connect to NATS", "attempt", attempt, "max_attempts", connectAttempts, "error", err)
		if attempt == connectAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(connectBackoff):
		}
	}
	return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
}

// Player is the playback side of an audio handle
type Player interface {
	StartPlayback(format audio.Format, req audio.PlaybackRequest) error
	StopPlayback() error
}

// Clip is a decoded clip waiting for playback
type Clip struct {
	StreamID    string
	MessageType string
	Priority    int
	Format      audio.Format
	read        func([]byte) int
}

// decodeClip turns a message into a pull source for the playback engine
func decodeClip(msg AudioStreamMessage) (*Clip, error) {
	clip := &Clip{
		StreamID:    msg.StreamID,
		MessageType: msg.MessageType,
		Priority:    msg.Priority,
	}

	switch msg.AudioFormat {
	case "wav", "":
		src, err := audio.NewWAVSource(bytes.NewReader(msg.AudioData))
		if err != nil {
			return nil, err
		}
		clip.Format = src.Format()
		clip.read = src.Read
	case "pcm":
		format := audio.DefaultFormat()
		if msg.SampleRate != 0 {
			format.SampleRate = msg.SampleRate
		}
		if msg.Channels != 0 {
			format.Channels = msg.Channels
		}
		if msg.BitsPerSample != 0 {
			format.BitsPerSample = msg.BitsPerSample
		}
		if err := format.Validate(); err != nil {
			return nil, err
		}
		data := msg.AudioData[:len(msg.AudioData)-len(msg.AudioData)%format.BlockAlign()]
		r := bytes.NewReader(data)
		clip.Format = format
		clip.read = func(buf []byte) int {
			n, _ := r.Read(buf)
			return n
		}
	default:
		return nil, fmt.Errorf("unsupported audio format %q", msg.AudioFormat)
	}
	return clip, nil
}

// AudioSubscriber queues clips received over NATS and plays them in order
type AudioSubscriber struct {
	conn   Connection
	id     string
	queue  chan *Clip
	logger *slog.Logger
}

// NewAudioSubscriber creates a subscriber for relay id holding up to capacity
// pending clips
func NewAudioSubscriber(conn Connection, id string, capacity int, logger *slog.Logger) *AudioSubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &AudioSubscriber{
		conn:   conn,
		id:     id,
		queue:  make(chan *Clip, capacity),
		logger: logger.With("component", "nats_subscriber", "relay_id", id),
	}
}

// Subject is the relay-specific subject clips arrive on
func (s *AudioSubscriber) Subject() string {
	return "audio." + s.id
}

// Start subscribes to the relay and broadcast subjects
func (s *AudioSubscriber) Start() error {
	for _, subject := range []string{s.Subject(), BroadcastSubject} {
		if _, err := s.conn.Subscribe(subject, s.handleAudioMessage); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
	}
	s.logger.Info("subscribed to audio subjects", "subjects", []string{s.Subject(), BroadcastSubject})
	return nil
}

// Pending returns the queued clips channel
func (s *AudioSubscriber) Pending() <-chan *Clip {
	return s.queue
}

func (s *AudioSubscriber) handleAudioMessage(msg *nats.Msg) {
	var streamMsg AudioStreamMessage
	if err := json.Unmarshal(msg.Data, &streamMsg); err != nil {
		s.logger.Error("failed to unmarshal audio stream message", "subject", msg.Subject, "error", err)
		return
	}

	logger := s.logger.With("stream_id", streamMsg.StreamID)
	clip, err := decodeClip(streamMsg)
	if err != nil {
		logger.Error("failed to decode audio clip", "format", streamMsg.AudioFormat, "error", err)
		return
	}
	logger.Debug("received audio clip",
		"bytes", len(streamMsg.AudioData),
		"type", streamMsg.MessageType,
		"format", clip.Format.String())

	select {
	case s.queue <- clip:
	default:
		logger.Warn("playback queue full, dropping audio clip")
	}
}

// Run plays queued clips one at a time until ctx is done. A clip that fails
// to start is logged and skipped.
func (s *AudioSubscriber) Run(ctx context.Context, player Player) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case clip := <-s.queue:
			if err := s.play(ctx, player, clip); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Warn("audio clip not played", "stream_id", clip.StreamID, "error", err)
			}
		}
	}
}

func (s *AudioSubscriber) play(ctx context.Context, player Player, clip *Clip) error {
	done := make(chan struct{})
	err := player.StartPlayback(clip.Format, audio.PlaybackRequest{
		Read:     clip.read,
		Complete: func() { close(done) },
		Underrun: func() {
			s.logger.Debug("playback underrun", "stream_id", clip.StreamID)
		},
	})
	if err != nil {
		return fmt.Errorf("start playback: %w", err)
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		if err := player.StopPlayback(); err != nil {
			s.logger.Warn("failed to stop playback", "error", err)
		}
		<-done
		return ctx.Err()
	}
}

// Close closes the NATS connection
func (s *AudioSubscriber) Close() {
	if s.conn != nil {
		s.conn.Close()
		s.logger.Info("NATS connection closed")
	}
}
