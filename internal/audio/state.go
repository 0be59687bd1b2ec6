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

// State is the lifecycle state of one direction of a Handle
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StatePaused
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// stateMachine holds the state of one direction together with its cancel flag.
// Both are guarded by mu; cond is broadcast on every change.
type stateMachine struct {
	mu       sync.Mutex
	cond     *sync.Cond
	state    State
	canceled bool
}

func newStateMachine() *stateMachine {
	m := &stateMachine{state: StateStopped}
	m.cond = sync.NewCond(&m.mu)
	return m
}

func (m *stateMachine) get() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *stateMachine) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.cond.Broadcast()
}

// beginStart moves Stopped to Starting and clears the cancel flag.
// It reports false without error when the direction is already Starting or Running.
func (m *stateMachine) beginStart() (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case StateStopped:
		m.state = StateStarting
		m.canceled = false
		return true, nil
	case StateStarting, StateRunning:
		return false, nil
	default:
		return false, fmt.Errorf("%w: cannot start while %s", ErrInvalidState, m.state)
	}
}

// beginStop requests cancellation. It reports false when the direction is already Stopped.
func (m *stateMachine) beginStop() bool {
	m.mu.Lock()
	if m.state == StateStopped {
		m.mu.Unlock()
		return false
	}
	m.state = StateStopping
	m.canceled = true
	m.mu.Unlock()
	m.cond.Broadcast()
	return true
}

// transition moves from one state to another and reports whether the state matched
func (m *stateMachine) transition(from, to State) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()
	m.cond.Broadcast()
	return true
}

// finish moves the direction to Stopped unless it already is
func (m *stateMachine) finish() {
	m.set(StateStopped)
}

func (m *stateMachine) pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateRunning {
		return fmt.Errorf("%w: cannot pause while %s", ErrInvalidState, m.state)
	}
	m.state = StatePaused
	m.cond.Broadcast()
	return nil
}

func (m *stateMachine) resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePaused {
		return fmt.Errorf("%w: cannot resume while %s", ErrInvalidState, m.state)
	}
	m.state = StateRunning
	m.cond.Broadcast()
	return nil
}

// running reports whether the direction is still in Running (or Paused) state
func (m *stateMachine) running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateRunning || m.state == StatePaused
}

// awaitRunnable blocks while the direction is Paused and reports whether it was canceled
func (m *stateMachine) awaitRunnable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for m.state == StatePaused && !m.canceled {
		m.cond.Wait()
	}
	return m.canceled
}
