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

// Package config loads engine settings from defaults, an optional config file
// and LOQA_AUDIO_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loqalabs/loqa-audio-go/internal/audio"
)

// Config is the full engine configuration
type Config struct {
	Backend       string         `mapstructure:"backend"`
	Device        string         `mapstructure:"device"`
	Channels      int            `mapstructure:"channels"`
	SampleRate    int            `mapstructure:"sample_rate"`
	BitsPerSample int            `mapstructure:"bits_per_sample"`
	FrameCount    int            `mapstructure:"frame_count"`
	BufferSeconds int            `mapstructure:"buffer_seconds"`
	Watchdog      WatchdogConfig `mapstructure:"watchdog"`
	NATS          NATSConfig     `mapstructure:"nats"`
	Log           LogConfig      `mapstructure:"log"`
	Metrics       MetricsConfig  `mapstructure:"metrics"`
}

// WatchdogConfig mirrors audio.WatchdogConfig
type WatchdogConfig struct {
	FastLoopThreshold time.Duration `mapstructure:"fast_loop_threshold"`
	FastLoopMaxCount  int           `mapstructure:"fast_loop_max_count"`
	HistorySize       int           `mapstructure:"history_size"`
}

type NATSConfig struct {
	URL string `mapstructure:"url"`
	ID  string `mapstructure:"id"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

const envPrefix = "LOQA_AUDIO"

func setDefaults(v *viper.Viper) {
	def := audio.DefaultFormat()
	wd := audio.DefaultWatchdogConfig()

	v.SetDefault("backend", "portaudio")
	v.SetDefault("device", "")
	v.SetDefault("channels", def.Channels)
	v.SetDefault("sample_rate", def.SampleRate)
	v.SetDefault("bits_per_sample", def.BitsPerSample)
	v.SetDefault("frame_count", audio.DefaultCaptureFrames)
	v.SetDefault("buffer_seconds", audio.DefaultBufferSeconds)
	v.SetDefault("watchdog.fast_loop_threshold", wd.FastLoopThreshold)
	v.SetDefault("watchdog.fast_loop_max_count", wd.FastLoopMaxCount)
	v.SetDefault("watchdog.history_size", wd.HistorySize)
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.id", "loqa-audio")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("metrics.addr", "")
}

// Load reads the configuration. An empty path skips the config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// Format returns the configured audio format without validating it
func (c *Config) Format() audio.Format {
	return audio.Format{
		Channels:      c.Channels,
		SampleRate:    c.SampleRate,
		BitsPerSample: c.BitsPerSample,
	}
}

// HandleOptions returns the construction options that SetOption cannot change
func (c *Config) HandleOptions() []audio.HandleOption {
	return []audio.HandleOption{
		audio.WithBufferSeconds(c.BufferSeconds),
		audio.WithWatchdog(audio.WatchdogConfig{
			FastLoopThreshold: c.Watchdog.FastLoopThreshold,
			FastLoopMaxCount:  c.Watchdog.FastLoopMaxCount,
			HistorySize:       c.Watchdog.HistorySize,
		}),
	}
}

// Apply routes every format setting through Handle.SetOption
func (c *Config) Apply(h *audio.Handle) error {
	options := []struct {
		name  string
		value any
	}{
		{"channels", c.Channels},
		{"sample_rate", c.SampleRate},
		{"bits_per_sample", c.BitsPerSample},
		{"frame_count", c.FrameCount},
		{"device_name", c.Device},
	}
	for _, opt := range options {
		if err := h.SetOption(opt.name, opt.value); err != nil {
			return fmt.Errorf("config %s: %w", opt.name, err)
		}
	}
	return nil
}
