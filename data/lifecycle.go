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

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/vm"
	"go.uber.org/multierr"
)

// Create registers a new machine for cfg. cfg's staged drives are moved into
// the new bundle. The returned machine holds its own copy of cfg.
func (c *Controller) Create(ctx context.Context, cfg config.Configuration) (*vm.Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	err := c.prepare(cfg, nil)
	if err != nil {
		return nil, errors.Wrap(err, "prepare configuration")
	}

	bundlePath, err := c.store.CreateBundle(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create bundle")
	}

	m := vm.NewMachine(bundlePath, cfg.Clone())

	c.mu.Lock()
	c.machines = append(c.machines, m)
	c.mu.Unlock()

	c.logger.Info("Created virtual machine", "name", cfg.Info().Name, "id", m.ID(), "backend", cfg.Backend())

	return m, nil
}

// Save writes the working configuration of m to disk. On failure the
// working copy is stale, so it gets discarded before the error is returned.
func (c *Controller) Save(ctx context.Context, m *vm.Machine) error {
	err := c.save(ctx, m)
	if err != nil {
		discardErr := c.DiscardChanges(ctx, m)
		if discardErr != nil {
			c.logger.Warn("Failed to discard changes after a failed save", "name", m.Name(), "error", discardErr.Error())
		}

		return err
	}

	return nil
}

func (c *Controller) save(ctx context.Context, m *vm.Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cfg := m.Config()

	if want, have := m.ID(), cfg.Info().UUID; want != have {
		return fmt.Errorf("configuration uuid changed from '%v' to '%v'", want, have)
	}

	if want, have := m.Backend(), cfg.Backend(); want != have {
		return fmt.Errorf("configuration backend changed from '%v' to '%v'", want, have)
	}

	err := c.prepare(cfg, m)
	if err != nil {
		return errors.Wrap(err, "prepare configuration")
	}

	err = c.store.CommitBundle(m.Path(), cfg)
	if err != nil {
		return errors.Wrap(err, "commit bundle")
	}

	m.MarkSaved()

	c.logger.Info("Saved virtual machine", "name", m.Name(), "id", m.ID())

	return nil
}

// DiscardChanges reverts m to its saved configuration and deletes drive
// images staged during the edit. With a nil machine, it deletes staged images
// older than constants.StagedImageMaxAge that no registered machine's working
// configuration references. Younger images may belong to a draft that is
// still being edited, possibly in another process.
func (c *Controller) DiscardChanges(ctx context.Context, m *vm.Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if m == nil {
		return errors.Wrap(c.pruneStaged(), "prune staged images")
	}

	staged := stagedPaths(m.Config())

	var errs []error

	saved, err := c.store.ReadConfig(m.Path())
	if err != nil {
		errs = append(errs, errors.Wrap(err, "reload configuration"))
	} else {
		m.Reset(saved)
	}

	errs = append(errs, c.removeStaged(staged))

	return multierr.Combine(errs...)
}

// DiscardDraft deletes the drive images staged for cfg, a configuration that
// was never registered. Other staged images are left alone.
func (c *Controller) DiscardDraft(ctx context.Context, cfg config.Configuration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return c.removeStaged(stagedPaths(cfg))
}

func stagedPaths(cfg config.Configuration) []string {
	var ret []string
	for _, d := range cfg.DriveList() {
		if d.IsStaged() {
			ret = append(ret, d.StagedPath)
		}
	}

	return ret
}

func (c *Controller) removeStaged(paths []string) error {
	var errs []error
	for _, p := range paths {
		errs = append(errs, errors.Wrapf(c.store.RemoveStaged(p), "remove staged image '%v'", p))
	}

	return multierr.Combine(errs...)
}

func (c *Controller) pruneStaged() error {
	inUse := make(map[string]struct{})
	for _, m := range c.Machines() {
		for _, p := range stagedPaths(m.Config()) {
			inUse[p] = struct{}{}
		}
	}

	removed, err := c.store.PruneStaged(inUse, constants.StagedImageMaxAge)
	for _, p := range removed {
		c.logger.Info("Removed stale staged drive image", "path", p)
	}

	return err
}

// Delete removes m's bundle and unregisters it.
func (c *Controller) Delete(ctx context.Context, m *vm.Machine) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.store.DeleteBundle(m.Path())
	if err != nil {
		return errors.Wrap(err, "delete bundle")
	}

	c.mu.Lock()
	for i, other := range c.machines {
		if other == m {
			c.machines = append(c.machines[:i], c.machines[i+1:]...)
			break
		}
	}
	c.mu.Unlock()

	c.logger.Info("Deleted virtual machine", "name", m.Name(), "id", m.ID())

	return nil
}

// StageDrive creates a blank drive image of the given size for an
// in-progress edit. The drive is committed by Save or Create and removed
// by DiscardChanges or DiscardDraft.
func (c *Controller) StageDrive(iface config.DriveInterface, size uint64) (config.Drive, error) {
	p, err := c.store.StageDriveImage(size)
	if err != nil {
		return config.Drive{}, errors.Wrap(err, "stage drive image")
	}

	d := config.NewDrive(iface)
	d.SizeBytes = size
	d.StagedPath = p

	return d, nil
}

// UnstageDrive deletes the image of a staged drive dropped from an edit.
func (c *Controller) UnstageDrive(d config.Drive) error {
	if !d.IsStaged() {
		return nil
	}

	return errors.Wrap(c.store.RemoveStaged(d.StagedPath), "remove staged image")
}
