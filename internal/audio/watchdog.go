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

import "time"

// WatchdogConfig tunes the capture read-loop watchdog. Zero fields take the defaults.
type WatchdogConfig struct {
	// FastLoopThreshold is the minimum expected spacing between two device reads
	FastLoopThreshold time.Duration

	// FastLoopMaxCount is how many fast iterations in a row are tolerated
	FastLoopMaxCount int

	// HistorySize is the number of read timestamps kept for overrun diagnostics
	HistorySize int
}

// DefaultWatchdogConfig returns 10 ms / 10 iterations / 32 timestamps
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		FastLoopThreshold: 10 * time.Millisecond,
		FastLoopMaxCount:  10,
		HistorySize:       32,
	}
}

func (c WatchdogConfig) withDefaults() WatchdogConfig {
	def := DefaultWatchdogConfig()
	if c.FastLoopThreshold <= 0 {
		c.FastLoopThreshold = def.FastLoopThreshold
	}
	if c.FastLoopMaxCount <= 0 {
		c.FastLoopMaxCount = def.FastLoopMaxCount
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	return c
}

// readWatchdog detects a capture loop that spins without the device blocking.
// It is owned by the reader goroutine and needs no locking.
type readWatchdog struct {
	cfg       WatchdogConfig
	history   []time.Time
	next      int
	filled    bool
	last      time.Time
	fastCount int
}

func newReadWatchdog(cfg WatchdogConfig) *readWatchdog {
	cfg = cfg.withDefaults()
	return &readWatchdog{
		cfg:     cfg,
		history: make([]time.Time, cfg.HistorySize),
	}
}

// observe records one loop iteration and reports true when the loop has been
// running faster than the threshold for too many iterations in a row.
func (w *readWatchdog) observe(now time.Time) bool {
	w.history[w.next] = now
	w.next = (w.next + 1) % len(w.history)
	if w.next == 0 {
		w.filled = true
	}

	if !w.last.IsZero() && now.Sub(w.last) < w.cfg.FastLoopThreshold {
		w.fastCount++
	} else {
		w.fastCount = 0
	}
	w.last = now

	if w.fastCount > w.cfg.FastLoopMaxCount {
		w.fastCount = 0
		return true
	}
	return false
}

// timeline returns the recorded timestamps, oldest first
func (w *readWatchdog) timeline() []time.Time {
	if !w.filled {
		out := make([]time.Time, w.next)
		copy(out, w.history[:w.next])
		return out
	}
	out := make([]time.Time, 0, len(w.history))
	out = append(out, w.history[w.next:]...)
	return append(out, w.history[:w.next]...)
}

// intervals returns the spacing between consecutive recorded reads
func (w *readWatchdog) intervals() []time.Duration {
	times := w.timeline()
	if len(times) < 2 {
		return nil
	}
	out := make([]time.Duration, len(times)-1)
	for i := 1; i < len(times); i++ {
		out[i-1] = times[i].Sub(times[i-1])
	}
	return out
}
