// Vmdesk - A utility to manage QEMU and native-hypervisor virtual machine configurations.
// Copyright (c) 2023 The Vmdesk Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

package vm

import (
	"reflect"
	"sync"

	"github.com/vmdesk/vmdesk/config"
)

// Machine is a handle to a registered bundle. It carries the working
// configuration edited by a settings form and the snapshot that was last
// loaded from or written to disk.
type Machine struct {
	path string

	mu    sync.Mutex
	cfg   config.Configuration
	saved config.Configuration
}

func NewMachine(bundlePath string, saved config.Configuration) *Machine {
	return &Machine{
		path:  bundlePath,
		cfg:   saved.Clone(),
		saved: saved,
	}
}

func (m *Machine) Path() string {
	return m.path
}

// ID is the UUID of the saved configuration. It never changes for a bundle.
func (m *Machine) ID() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saved.Info().UUID
}

// Name returns the saved name; the working copy may hold an unsaved rename.
func (m *Machine) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saved.Info().Name
}

func (m *Machine) Backend() config.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saved.Backend()
}

// Config returns the working configuration. Callers mutate it in place.
func (m *Machine) Config() config.Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.cfg
}

// Saved returns a copy of the last saved configuration.
func (m *Machine) Saved() config.Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.saved.Clone()
}

func (m *Machine) IsModified() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return !reflect.DeepEqual(m.cfg, m.saved)
}

// MarkSaved records the working configuration as the saved one.
func (m *Machine) MarkSaved() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = m.cfg.Clone()
}

// Reset replaces both the saved snapshot and the working copy.
func (m *Machine) Reset(saved config.Configuration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.saved = saved
	m.cfg = saved.Clone()
}
