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

package data_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmdesk/vmdesk/busy"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/data"
	"github.com/vmdesk/vmdesk/storage"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore(t *testing.T, dir string) *storage.Storage {
	s, err := storage.NewStorage(slog.New(slog.NewTextHandler(io.Discard, nil)), dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func newController(t *testing.T, dir string) *data.Controller {
	c, err := data.NewController(slog.New(slog.NewTextHandler(io.Discard, nil)), newStore(t, dir))
	require.NoError(t, err)
	t.Cleanup(c.Close)

	return c
}

func TestCreateAndReload(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, dir)
	ctx := context.Background()

	cfg := config.NewQEMU("Alpine")
	d, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	cfg.Drives = append(cfg.Drives, d)

	m, err := c.Create(ctx, cfg)
	require.NoError(t, err)
	assert.Equal(t, "Alpine", m.Name())
	assert.False(t, m.IsModified())
	assert.NoFileExists(t, d.StagedPath)
	require.Len(t, c.Machines(), 1)

	other := newController(t, dir)
	require.Len(t, other.Machines(), 1)
	assert.Equal(t, m.ID(), other.Machines()[0].ID())
	assert.Equal(t, m.Saved(), other.Machines()[0].Saved())
}

func TestCreateNameExists(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	_, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	_, err = c.Create(ctx, config.NewNative("Alpine"))
	require.ErrorIs(t, err, data.ErrNameExists)
	assert.Len(t, c.Machines(), 1)
}

func TestCreateInvalid(t *testing.T) {
	c := newController(t, t.TempDir())

	cfg := config.NewQEMU("Alpine")
	cfg.System.CPUCount = 0

	_, err := c.Create(context.Background(), cfg)
	require.Error(t, err)
	assert.Empty(t, c.Machines())
}

func TestSaveCommitsWorkingCopy(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, dir)
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	m.Config().(*config.QEMU).System.CPUCount = 4
	m.Config().Info().Name = "Alpine Edge"
	assert.True(t, m.IsModified())

	require.NoError(t, c.Save(ctx, m))
	assert.False(t, m.IsModified())
	assert.Equal(t, "Alpine Edge", m.Name())

	reloaded, err := newController(t, dir).Find("Alpine Edge")
	require.NoError(t, err)
	assert.Equal(t, 4, reloaded.Saved().(*config.QEMU).System.CPUCount)
}

func TestSaveFailureDiscards(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	_, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)
	m, err := c.Create(ctx, config.NewQEMU("Debian"))
	require.NoError(t, err)

	d, err := c.StageDrive(config.DriveInterfaceNVMe, constants.MiB)
	require.NoError(t, err)

	cfg := m.Config().(*config.QEMU)
	cfg.Info().Name = "Alpine"
	cfg.Drives = append(cfg.Drives, d)

	err = c.Save(ctx, m)
	require.ErrorIs(t, err, data.ErrNameExists)

	assert.False(t, m.IsModified())
	assert.Equal(t, "Debian", m.Config().Info().Name)
	assert.NoFileExists(t, d.StagedPath)
}

func TestDiscardChanges(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	d, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)

	cfg := m.Config().(*config.QEMU)
	cfg.System.MemorySize = constants.GiB
	cfg.Drives = append(cfg.Drives, d)

	require.NoError(t, c.DiscardChanges(ctx, m))
	assert.False(t, m.IsModified())
	assert.Equal(t, uint64(constants.DefaultQEMUMemory), m.Config().(*config.QEMU).System.MemorySize)
	assert.NoFileExists(t, d.StagedPath)
}

func TestDiscardDraft(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	own, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	other, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)

	cfg := config.NewQEMU("Alpine")
	cfg.Drives = append(cfg.Drives, own, config.NewDrive(config.DriveInterfaceUSB))

	require.NoError(t, c.DiscardDraft(ctx, cfg))
	assert.NoFileExists(t, own.StagedPath)
	assert.FileExists(t, other.StagedPath)
}

func TestCleanRemovesOnlyStaleImages(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	stale := time.Now().Add(-2 * constants.StagedImageMaxAge)

	// A drive staged for an open edit of a registered machine survives.
	kept, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(kept.StagedPath, stale, stale))
	m.Config().SetDriveList(append(m.Config().DriveList(), kept))

	orphan, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(orphan.StagedPath, stale, stale))

	fresh, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)

	require.NoError(t, c.DiscardChanges(ctx, nil))
	assert.FileExists(t, kept.StagedPath)
	assert.NoFileExists(t, orphan.StagedPath)
	assert.FileExists(t, fresh.StagedPath)
}

func TestDiscardKeepsOtherProcessDraft(t *testing.T) {
	dir := t.TempDir()
	a := newController(t, dir)
	b := newController(t, dir)
	ctx := context.Background()

	d, err := a.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	cfg := config.NewQEMU("Alpine")
	cfg.Drives = append(cfg.Drives, d)

	// A cleanup and a cancelled empty draft in the second controller must not
	// touch the first controller's staged image.
	require.NoError(t, b.DiscardChanges(ctx, nil))
	require.NoError(t, b.DiscardDraft(ctx, config.NewQEMU("Debian")))
	require.FileExists(t, d.StagedPath)

	m, err := a.Create(ctx, cfg)
	require.NoError(t, err)
	require.Len(t, m.Config().DriveList(), 1)
	assert.FileExists(t, filepath.Join(m.Path(), "Images", m.Config().DriveList()[0].ImageName))
}

func TestDiscardMissingBundle(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	d, err := c.StageDrive(config.DriveInterfaceVirtIO, constants.MiB)
	require.NoError(t, err)
	m.Config().SetDriveList(append(m.Config().DriveList(), d))

	require.NoError(t, os.RemoveAll(m.Path()))

	err = c.DiscardChanges(ctx, m)
	require.Error(t, err)
	// Staged images are removed even when the reload fails.
	assert.NoFileExists(t, d.StagedPath)
}

func TestDelete(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewNative("macOS"))
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, m))
	assert.Empty(t, c.Machines())
	assert.NoDirExists(t, m.Path())

	_, err = c.Find("macOS")
	require.ErrorIs(t, err, data.ErrMachineNotFound)
}

func TestFind(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	m, err := c.Create(ctx, config.NewQEMU("Alpine"))
	require.NoError(t, err)

	for _, key := range []string{"Alpine", m.ID(), m.ID()[:8]} {
		found, err := c.Find(key)
		require.NoError(t, err, key)
		assert.Same(t, m, found)
	}

	_, err = c.Find("abc")
	require.ErrorIs(t, err, data.ErrMachineNotFound)
}

func TestSkipsUnreadableBundle(t *testing.T) {
	dir := t.TempDir()
	c := newController(t, dir)

	m, err := c.Create(context.Background(), config.NewQEMU("Alpine"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(m.Path(), "config.yaml"), []byte("version: [\n"), 0600))

	assert.Empty(t, newController(t, dir).Machines())
}

func TestBusyWorkReportsErrors(t *testing.T) {
	c := newController(t, t.TempDir())

	var mu sync.Mutex
	var reported []string
	c.SetReporter(func(operation string, err error) {
		mu.Lock()
		defer mu.Unlock()

		reported = append(reported, operation+": "+err.Error())
	})

	release := make(chan struct{})
	task, err := c.BusyWorkAsync("save", func(ctx context.Context) error {
		<-release
		return errors.New("disk full")
	})
	require.NoError(t, err)
	assert.True(t, c.Busy())

	_, err = c.BusyWorkAsync("discard", func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, busy.ErrBusy)

	close(release)
	require.EqualError(t, task.Wait(context.Background()), "disk full")

	assert.False(t, c.Busy())
	assert.Equal(t, busy.StateFailed, c.State().State)
	require.EqualError(t, c.LastError(), "disk full")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"save: disk full"}, reported)
}

func TestCreateAssignsNetworkDefaults(t *testing.T) {
	c := newController(t, t.TempDir())
	ctx := context.Background()

	first := config.NewQEMU("Alpine")
	first.Networks[0].Mode = config.QEMUNetworkModeBridged

	_, err := c.Create(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "vmdtap0", first.Networks[0].BridgeInterface)
	assert.NotEmpty(t, first.Networks[0].MACAddress)

	second := config.NewQEMU("Debian")
	second.Networks[0].Mode = config.QEMUNetworkModeBridged

	_, err = c.Create(ctx, second)
	require.NoError(t, err)
	assert.Equal(t, "vmdtap1", second.Networks[0].BridgeInterface)
	assert.NotEqual(t, first.Networks[0].MACAddress, second.Networks[0].MACAddress)

	native := config.NewNative("macOS")
	_, err = c.Create(ctx, native)
	require.NoError(t, err)
	assert.NotEmpty(t, native.Networks[0].MACAddress)
}
