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

package data

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/busy"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/storage"
	"github.com/vmdesk/vmdesk/vm"
)

var (
	ErrNameExists      = errors.New("an existing virtual machine already exists with this name")
	ErrMachineNotFound = errors.New("virtual machine not found")
)

// Reporter receives every error produced by busy work.
type Reporter func(operation string, err error)

// Controller owns the machine library and the busy gate that serializes
// every mutating operation on it.
type Controller struct {
	logger *slog.Logger
	store  *storage.Storage
	gate   *busy.Gate

	ctxCancel context.CancelFunc

	mu       sync.Mutex
	machines []*vm.Machine
	reporter Reporter
	lastErr  error
}

func NewController(logger *slog.Logger, store *storage.Storage) (*Controller, error) {
	ctx, ctxCancel := context.WithCancel(context.Background())

	c := &Controller{
		logger: logger,
		store:  store,
		gate:   busy.NewGate(ctx, logger.With("subcaller", "busy")),

		ctxCancel: ctxCancel,
	}

	err := c.reload()
	if err != nil {
		ctxCancel()
		return nil, errors.Wrap(err, "load machines")
	}

	return c, nil
}

func (c *Controller) reload() error {
	bundles, err := c.store.ListBundles()
	if err != nil {
		return errors.Wrap(err, "list bundles")
	}

	machines := make([]*vm.Machine, 0, len(bundles))
	for _, b := range bundles {
		cfg, err := c.store.ReadConfig(b)
		if err != nil {
			c.logger.Warn("Skipping unreadable bundle", "path", b, "error", err.Error())
			continue
		}

		machines = append(machines, vm.NewMachine(b, cfg))
	}

	c.mu.Lock()
	c.machines = machines
	c.mu.Unlock()

	return nil
}

// Close waits for in-flight work to finish and stops accepting new work.
func (c *Controller) Close() {
	c.gate.Wait()
	c.ctxCancel()
}

func (c *Controller) SetReporter(r Reporter) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.reporter = r
}

func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lastErr
}

func (c *Controller) Busy() bool {
	return c.gate.Busy()
}

func (c *Controller) State() busy.Snapshot {
	return c.gate.Snapshot()
}

func (c *Controller) Subscribe() (<-chan busy.Snapshot, func()) {
	return c.gate.Subscribe()
}

// BusyWorkAsync runs fn under the busy gate. Errors returned by fn are
// reported through the controller's reporter and the returned task.
func (c *Controller) BusyWorkAsync(name string, fn func(ctx context.Context) error) (*busy.Task, error) {
	return c.gate.Go(name, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil {
			c.report(name, err)
		}

		return err
	})
}

func (c *Controller) report(operation string, err error) {
	c.logger.Error("Operation failed", "operation", operation, "error", err.Error())

	c.mu.Lock()
	c.lastErr = err
	r := c.reporter
	c.mu.Unlock()

	if r != nil {
		r(operation, err)
	}
}

func (c *Controller) Machines() []*vm.Machine {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]*vm.Machine(nil), c.machines...)
}

// Find looks a machine up by exact name or by UUID (or a unique UUID prefix).
func (c *Controller) Find(nameOrID string) (*vm.Machine, error) {
	var byPrefix []*vm.Machine

	for _, m := range c.Machines() {
		if m.Name() == nameOrID || strings.EqualFold(m.ID(), nameOrID) {
			return m, nil
		}

		if len(nameOrID) >= 4 && strings.HasPrefix(strings.ToLower(m.ID()), strings.ToLower(nameOrID)) {
			byPrefix = append(byPrefix, m)
		}
	}

	if len(byPrefix) == 1 {
		return byPrefix[0], nil
	}

	if len(byPrefix) > 1 {
		return nil, fmt.Errorf("ambiguous machine id prefix '%v'", nameOrID)
	}

	return nil, errors.Wrapf(ErrMachineNotFound, "'%v'", nameOrID)
}

func (c *Controller) checkNameAvailable(name string, self *vm.Machine) error {
	for _, m := range c.Machines() {
		if m != self && m.Name() == name {
			return errors.Wrapf(ErrNameExists, "name '%v'", name)
		}
	}

	return nil
}

func (c *Controller) prepare(cfg config.Configuration, self *vm.Machine) error {
	err := c.assignNetworkDefaults(cfg, self)
	if err != nil {
		return errors.Wrap(err, "assign network defaults")
	}

	err = cfg.Validate()
	if err != nil {
		return err
	}

	err = c.checkNameAvailable(cfg.Info().Name, self)
	if err != nil {
		return err
	}

	if q, ok := cfg.(*config.QEMU); ok {
		err = q.EnsureVNCPassword()
		if err != nil {
			return errors.Wrap(err, "ensure vnc password")
		}
	}

	warnHostCapacity(c.logger, cfg)

	return nil
}
