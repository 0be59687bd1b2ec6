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
	"sort"
	"sync"
)

var (
	backendsMu       sync.RWMutex
	backendFactories = map[string]func() AudioBackend{}
)

// registerBackend makes a backend constructor available to NewBackend
func registerBackend(name string, factory func() AudioBackend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backendFactories[name] = factory
}

// NewBackend creates the named backend. Available names depend on the build platform.
func NewBackend(name string) (AudioBackend, error) {
	backendsMu.RLock()
	factory, ok := backendFactories[name]
	backendsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrBackendUnavailable, name, BackendNames())
	}
	return factory(), nil
}

// BackendNames lists registered backends in sorted order
func BackendNames() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backendFactories))
	for name := range backendFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasBackend reports whether name is registered
func HasBackend(name string) bool {
	return slices.Contains(BackendNames(), name)
}
