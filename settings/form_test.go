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

package settings_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmdesk/vmdesk/busy"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/settings"
	"github.com/vmdesk/vmdesk/vm"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeController struct {
	gate *busy.Gate

	mu         sync.Mutex
	calls      []string
	saveErr    error
	createErr  error
	discardErr error
	discarded  config.Configuration
	block      chan struct{}
}

func newFakeController(t *testing.T) *fakeController {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	return &fakeController{
		gate: busy.NewGate(ctx, slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
}

func (c *fakeController) record(call string) chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls = append(c.calls, call)

	return c.block
}

func (c *fakeController) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([]string(nil), c.calls...)
}

func (c *fakeController) Save(ctx context.Context, m *vm.Machine) error {
	if block := c.record("save"); block != nil {
		<-block
	}

	return c.saveErr
}

func (c *fakeController) Create(ctx context.Context, cfg config.Configuration) (*vm.Machine, error) {
	if block := c.record("create"); block != nil {
		<-block
	}

	if c.createErr != nil {
		return nil, c.createErr
	}

	return vm.NewMachine(filepath.Join("machines", cfg.Info().UUID), cfg.Clone()), nil
}

func (c *fakeController) DiscardChanges(ctx context.Context, m *vm.Machine) error {
	if block := c.record("discard"); block != nil {
		<-block
	}

	return c.discardErr
}

func (c *fakeController) DiscardDraft(ctx context.Context, cfg config.Configuration) error {
	c.mu.Lock()
	c.discarded = cfg
	c.mu.Unlock()

	if block := c.record("discard draft"); block != nil {
		<-block
	}

	return c.discardErr
}

func (c *fakeController) StageDrive(iface config.DriveInterface, size uint64) (config.Drive, error) {
	c.record("stage")

	d := config.NewDrive(iface)
	d.SizeBytes = size
	d.StagedPath = filepath.Join("staging", d.ID+".img")

	return d, nil
}

func (c *fakeController) UnstageDrive(d config.Drive) error {
	if d.IsStaged() {
		c.record("unstage")
	}

	return nil
}

func (c *fakeController) Busy() bool {
	return c.gate.Busy()
}

func (c *fakeController) BusyWorkAsync(name string, fn func(ctx context.Context) error) (*busy.Task, error) {
	return c.gate.Go(name, fn)
}

// foreignConfig is a configuration type the form has no editor for.
type foreignConfig struct {
	config.Configuration
}

func newForm(t *testing.T, ctrl settings.Controller, cfg config.Configuration, m *vm.Machine) *settings.Form {
	f, err := settings.NewForm(slog.New(slog.NewTextHandler(io.Discard, nil)), ctrl, cfg, m)
	require.NoError(t, err)

	return f
}

func isDismissed(f *settings.Form) bool {
	select {
	case <-f.Dismissed():
		return true
	default:
		return false
	}
}

func TestEditorForVariant(t *testing.T) {
	ctrl := newFakeController(t)

	ed, err := newForm(t, ctrl, config.NewQEMU("Alpine"), nil).Editor()
	require.NoError(t, err)
	assert.Equal(t, settings.KindQEMU, ed.Kind)
	_, ok := ed.Field("display.vnc")
	assert.True(t, ok)

	ed, err = newForm(t, ctrl, config.NewNative("macOS"), nil).Editor()
	require.NoError(t, err)
	assert.Equal(t, settings.KindNative, ed.Kind)
	_, ok = ed.Field("virtualization.rosetta")
	assert.True(t, ok)

	f := newForm(t, ctrl, foreignConfig{}, nil)
	ed, err = f.Editor()
	require.ErrorIs(t, err, settings.ErrUnsupportedConfiguration)
	assert.Nil(t, ed)

	require.ErrorIs(t, f.Set("name", "x"), settings.ErrUnsupportedConfiguration)
}

func TestSaveNewCreates(t *testing.T) {
	ctrl := newFakeController(t)
	cfg := config.NewQEMU("Alpine")
	f := newForm(t, ctrl, cfg, nil)
	assert.True(t, f.IsNew())

	task, err := f.Save()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	assert.Equal(t, []string{"create"}, ctrl.Calls())
	assert.True(t, f.Closed())
	assert.True(t, isDismissed(f))
	require.NotNil(t, f.Machine())
	assert.Equal(t, cfg.Information.UUID, f.Machine().ID())
}

func TestSaveExistingSaves(t *testing.T) {
	ctrl := newFakeController(t)
	m := vm.NewMachine("machines/x", config.NewNative("macOS"))
	f := newForm(t, ctrl, nil, m)
	assert.False(t, f.IsNew())
	assert.Same(t, m, f.Machine())

	task, err := f.Save()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	assert.Equal(t, []string{"save"}, ctrl.Calls())
	assert.True(t, isDismissed(f))
}

func TestSaveFailureKeepsFormOpen(t *testing.T) {
	for _, tc := range []struct {
		name    string
		machine *vm.Machine
	}{
		{name: "create"},
		{name: "save", machine: vm.NewMachine("machines/x", config.NewQEMU("Alpine"))},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := newFakeController(t)
			ctrl.saveErr = errors.New("disk full")
			ctrl.createErr = errors.New("disk full")

			var f *settings.Form
			if tc.machine != nil {
				f = newForm(t, ctrl, nil, tc.machine)
			} else {
				f = newForm(t, ctrl, config.NewQEMU("Alpine"), nil)
			}

			task, err := f.Save()
			require.NoError(t, err)
			require.ErrorContains(t, task.Wait(context.Background()), "disk full")

			assert.False(t, f.Closed())
			assert.False(t, isDismissed(f))
			assert.True(t, f.Interactive())
			assert.Equal(t, busy.StateFailed, ctrl.gate.State())
			if tc.machine == nil {
				assert.Nil(t, f.Machine())
			}

			// The form stays usable after a failed save.
			require.NoError(t, f.Set("notes", "retry"))
		})
	}
}

func TestCancelDismissesImmediately(t *testing.T) {
	ctrl := newFakeController(t)
	ctrl.discardErr = errors.New("permission denied")
	ctrl.block = make(chan struct{})

	m := vm.NewMachine("machines/x", config.NewQEMU("Alpine"))
	f := newForm(t, ctrl, nil, m)

	task, err := f.Cancel()
	require.NoError(t, err)
	require.NotNil(t, task)

	// Dismissed while the discard is still running.
	assert.True(t, isDismissed(f))
	assert.True(t, ctrl.Busy())

	close(ctrl.block)
	require.EqualError(t, task.Wait(context.Background()), "permission denied")
	assert.Equal(t, []string{"discard"}, ctrl.Calls())
	assert.True(t, f.Closed())
}

func TestRefusedWhileBusy(t *testing.T) {
	ctrl := newFakeController(t)
	release := make(chan struct{})

	blocker, err := ctrl.BusyWorkAsync("other", func(ctx context.Context) error {
		<-release
		return nil
	})
	require.NoError(t, err)

	f := newForm(t, ctrl, config.NewQEMU("Alpine"), nil)
	assert.False(t, f.Interactive())

	_, err = f.Save()
	require.ErrorIs(t, err, settings.ErrBusy)

	_, err = f.Cancel()
	require.ErrorIs(t, err, settings.ErrBusy)

	require.ErrorIs(t, f.Set("system.cpu-count", "4"), settings.ErrBusy)
	_, err = f.AddDrive(config.DriveInterfaceVirtIO, constants.MiB, false)
	require.ErrorIs(t, err, settings.ErrBusy)
	require.ErrorIs(t, f.AddNetwork(), settings.ErrBusy)

	assert.False(t, f.Closed())
	assert.Empty(t, ctrl.Calls())
	assert.Equal(t, 1, f.Configuration().(*config.QEMU).System.CPUCount)

	close(release)
	require.NoError(t, blocker.Wait(context.Background()))
	assert.True(t, f.Interactive())
}

func TestSaveRefusesSecondSubmission(t *testing.T) {
	ctrl := newFakeController(t)
	ctrl.block = make(chan struct{})

	f := newForm(t, ctrl, config.NewQEMU("Alpine"), nil)

	task, err := f.Save()
	require.NoError(t, err)

	_, err = f.Save()
	require.ErrorIs(t, err, settings.ErrBusy)

	close(ctrl.block)
	require.NoError(t, task.Wait(context.Background()))
	assert.Equal(t, []string{"create"}, ctrl.Calls())
}

func TestClosedFormRefusesActions(t *testing.T) {
	ctrl := newFakeController(t)
	f := newForm(t, ctrl, config.NewQEMU("Alpine"), nil)

	task, err := f.Cancel()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	_, err = f.Save()
	require.ErrorIs(t, err, settings.ErrFormClosed)

	_, err = f.Cancel()
	require.ErrorIs(t, err, settings.ErrFormClosed)

	require.ErrorIs(t, f.Set("name", "Debian"), settings.ErrFormClosed)
	assert.False(t, f.Interactive())
	assert.Equal(t, []string{"discard draft"}, ctrl.Calls())
}

func TestCancelDraftDiscardsOwnDrives(t *testing.T) {
	ctrl := newFakeController(t)
	cfg := config.NewQEMU("Alpine")
	f := newForm(t, ctrl, cfg, nil)

	_, err := f.AddDrive(config.DriveInterfaceVirtIO, constants.MiB, false)
	require.NoError(t, err)

	task, err := f.Cancel()
	require.NoError(t, err)
	require.NoError(t, task.Wait(context.Background()))

	assert.Equal(t, []string{"stage", "discard draft"}, ctrl.Calls())

	ctrl.mu.Lock()
	discarded := ctrl.discarded
	ctrl.mu.Unlock()

	require.Same(t, cfg, discarded)
	require.Len(t, discarded.DriveList(), 1)
	assert.True(t, discarded.DriveList()[0].IsStaged())
}

func TestNewFormMismatch(t *testing.T) {
	ctrl := newFakeController(t)
	m := vm.NewMachine("machines/x", config.NewQEMU("Alpine"))

	_, err := settings.NewForm(slog.New(slog.NewTextHandler(io.Discard, nil)), ctrl, config.NewQEMU("Alpine"), m)
	require.Error(t, err)

	_, err = settings.NewForm(slog.New(slog.NewTextHandler(io.Discard, nil)), ctrl, nil, nil)
	require.Error(t, err)

	f, err := settings.NewForm(slog.New(slog.NewTextHandler(io.Discard, nil)), ctrl, m.Config(), m)
	require.NoError(t, err)
	assert.Same(t, m.Config(), f.Configuration())
}
