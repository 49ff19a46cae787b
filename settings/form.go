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

// Package settings implements the machine settings form: it renders an
// editor for a configuration and commits or discards the edits through a
// data controller while respecting its busy gate.
package settings

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/busy"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/vm"
	"golang.org/x/exp/slices"
)

var (
	ErrBusy                     = busy.ErrBusy
	ErrFormClosed               = errors.New("settings form is closed")
	ErrUnsupportedConfiguration = errors.New("unsupported configuration")
)

// Controller is the part of the data controller the form depends on.
type Controller interface {
	Save(ctx context.Context, m *vm.Machine) error
	Create(ctx context.Context, cfg config.Configuration) (*vm.Machine, error)
	DiscardChanges(ctx context.Context, m *vm.Machine) error
	DiscardDraft(ctx context.Context, cfg config.Configuration) error

	StageDrive(iface config.DriveInterface, size uint64) (config.Drive, error)
	UnstageDrive(d config.Drive) error

	Busy() bool
	BusyWorkAsync(name string, fn func(ctx context.Context) error) (*busy.Task, error)
}

// Form edits either an existing machine's working configuration or a draft
// for a machine that does not exist yet.
type Form struct {
	logger *slog.Logger
	ctrl   Controller

	vm    *vm.Machine
	draft config.Configuration

	mu        sync.Mutex
	closed    bool
	dismissed chan struct{}
	created   *vm.Machine
}

// NewForm opens a form. With a nil machine the form creates a new machine
// from cfg on save. With a machine, cfg must be nil or the machine's working
// configuration.
func NewForm(logger *slog.Logger, ctrl Controller, cfg config.Configuration, m *vm.Machine) (*Form, error) {
	if m != nil {
		if cfg == nil {
			cfg = m.Config()
		} else if cfg != m.Config() {
			return nil, errors.New("configuration does not belong to the machine")
		}
	}

	if cfg == nil {
		return nil, errors.New("no configuration to edit")
	}

	f := &Form{
		logger:    logger,
		ctrl:      ctrl,
		vm:        m,
		dismissed: make(chan struct{}),
	}

	if m == nil {
		f.draft = cfg
	}

	return f, nil
}

// Configuration returns the configuration being edited. For an existing
// machine this follows the machine, whose working copy is replaced when
// changes are discarded.
func (f *Form) Configuration() config.Configuration {
	if f.vm != nil {
		return f.vm.Config()
	}

	return f.draft
}

// Machine returns the edited machine, or the created one after a
// successful save of a draft.
func (f *Form) Machine() *vm.Machine {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.vm != nil {
		return f.vm
	}

	return f.created
}

func (f *Form) IsNew() bool {
	return f.vm == nil
}

// Editor renders the editor matching the configuration's backend.
func (f *Form) Editor() (*Editor, error) {
	return editorFor(f.Configuration())
}

func (f *Form) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

// Dismissed is closed when the form is dismissed.
func (f *Form) Dismissed() <-chan struct{} {
	return f.dismissed
}

// Interactive reports whether the form currently accepts actions.
func (f *Form) Interactive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return !f.closed && !f.ctrl.Busy()
}

func (f *Form) checkLocked() error {
	if f.closed {
		return ErrFormClosed
	}

	if f.ctrl.Busy() {
		return ErrBusy
	}

	return nil
}

func (f *Form) dismissLocked() {
	if f.closed {
		return
	}

	f.closed = true
	close(f.dismissed)
}

func (f *Form) mutate(fn func(cfg config.Configuration) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	err := f.checkLocked()
	if err != nil {
		return err
	}

	return fn(f.Configuration())
}

// Save submits the edits under the busy gate. The form is dismissed once
// the save or create succeeds; on failure it stays open and the controller
// reports the error.
func (f *Form) Save() (*busy.Task, error) {
	f.mu.Lock()
	err := f.checkLocked()
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	cfg := f.Configuration()
	m := f.vm

	task, err := f.ctrl.BusyWorkAsync("save", func(ctx context.Context) error {
		if m != nil {
			err := f.ctrl.Save(ctx, m)
			if err != nil {
				return errors.Wrapf(err, "save '%v'", cfg.Info().Name)
			}
		} else {
			created, err := f.ctrl.Create(ctx, cfg)
			if err != nil {
				return errors.Wrapf(err, "create '%v'", cfg.Info().Name)
			}

			f.mu.Lock()
			f.created = created
			f.mu.Unlock()
		}

		f.mu.Lock()
		f.dismissLocked()
		f.mu.Unlock()

		f.logger.Debug("Settings saved", "name", cfg.Info().Name)

		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "submit save")
	}

	return task, nil
}

// Cancel dismisses the form right away and discards the edits in the
// background. The returned task tracks the discard; it is nil if the
// discard could not be submitted.
func (f *Form) Cancel() (*busy.Task, error) {
	f.mu.Lock()
	err := f.checkLocked()
	if err == nil {
		f.dismissLocked()
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m, draft := f.vm, f.draft

	task, err := f.ctrl.BusyWorkAsync("discard changes", func(ctx context.Context) error {
		if m == nil {
			return f.ctrl.DiscardDraft(ctx, draft)
		}

		return f.ctrl.DiscardChanges(ctx, m)
	})
	if err != nil {
		f.logger.Warn("Failed to submit discard of changes", "error", err.Error())
		return nil, nil
	}

	return task, nil
}

// Set assigns a field of the editor by key.
func (f *Form) Set(key string, value string) error {
	return f.mutate(func(cfg config.Configuration) error {
		ed, err := editorFor(cfg)
		if err != nil {
			return err
		}

		field, ok := ed.Field(key)
		if !ok {
			return errors.Wrapf(ErrUnknownField, "'%v'", key)
		}

		if field.ReadOnly() {
			return errors.Wrapf(ErrReadOnlyField, "'%v'", key)
		}

		return errors.Wrapf(field.set(value), "set '%v'", key)
	})
}

// AddDrive stages a blank drive image and attaches it. Removable drives
// start empty and get no image.
func (f *Form) AddDrive(iface config.DriveInterface, size uint64, removable bool) (config.Drive, error) {
	var d config.Drive

	err := f.mutate(func(cfg config.Configuration) error {
		if !slices.Contains(config.DriveInterfacesFor(cfg.Backend()), iface) {
			return fmt.Errorf("drive interface '%v' is not available for %v machines", iface, cfg.Backend())
		}

		if removable {
			d = config.NewDrive(iface)
			d.Removable = true
		} else {
			var err error
			d, err = f.ctrl.StageDrive(iface, size)
			if err != nil {
				return errors.Wrap(err, "stage drive")
			}
		}

		cfg.SetDriveList(append(cfg.DriveList(), d))

		return nil
	})

	return d, err
}

// RemoveDrive detaches a drive. A drive staged by this edit has its image
// deleted immediately; committed images are pruned on save.
func (f *Form) RemoveDrive(id string) error {
	return f.mutate(func(cfg config.Configuration) error {
		drives := cfg.DriveList()

		i := slices.IndexFunc(drives, func(d config.Drive) bool { return d.ID == id })
		if i < 0 {
			return fmt.Errorf("no drive with id '%v'", id)
		}

		d := drives[i]
		cfg.SetDriveList(slices.Delete(slices.Clone(drives), i, i+1))

		if err := f.ctrl.UnstageDrive(d); err != nil {
			f.logger.Warn("Failed to remove staged drive image", "path", d.StagedPath, "error", err.Error())
		}

		return nil
	})
}

func (f *Form) AddNetwork() error {
	return f.mutate(func(cfg config.Configuration) error {
		switch cfg := cfg.(type) {
		case *config.QEMU:
			cfg.Networks = append(cfg.Networks, config.QEMUNetwork{
				Mode:     config.QEMUNetworkModeEmulated,
				Hardware: "virtio-net-pci",
			})
		case *config.Native:
			cfg.Networks = append(cfg.Networks, config.NativeNetwork{
				Mode: config.NativeNetworkModeNAT,
			})
		default:
			return ErrUnsupportedConfiguration
		}

		return nil
	})
}

func (f *Form) RemoveNetwork(index int) error {
	return f.mutate(func(cfg config.Configuration) error {
		switch cfg := cfg.(type) {
		case *config.QEMU:
			if index < 0 || index >= len(cfg.Networks) {
				return fmt.Errorf("no network #%v", index)
			}
			cfg.Networks = slices.Delete(slices.Clone(cfg.Networks), index, index+1)
		case *config.Native:
			if index < 0 || index >= len(cfg.Networks) {
				return fmt.Errorf("no network #%v", index)
			}
			cfg.Networks = slices.Delete(slices.Clone(cfg.Networks), index, index+1)
		default:
			return ErrUnsupportedConfiguration
		}

		return nil
	})
}

// AddSharedDirectory adds a directory share. QEMU machines have a single
// share, which this replaces.
func (f *Form) AddSharedDirectory(path string, tag string, readOnly bool) error {
	return f.mutate(func(cfg config.Configuration) error {
		switch cfg := cfg.(type) {
		case *config.QEMU:
			cfg.Sharing = config.QEMUSharing{DirectoryShare: path, ReadOnly: readOnly}
		case *config.Native:
			cfg.SharedDirectories = append(cfg.SharedDirectories, config.SharedDirectory{
				Path:     path,
				Tag:      tag,
				ReadOnly: readOnly,
			})
		default:
			return ErrUnsupportedConfiguration
		}

		return nil
	})
}
