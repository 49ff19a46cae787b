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

package storage_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/storage"
)

func newStorage(t *testing.T) *storage.Storage {
	s, err := storage.NewStorage(slog.New(slog.NewTextHandler(io.Discard, nil)), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func stagedDrive(t *testing.T, s *storage.Storage) config.Drive {
	p, err := s.StageDriveImage(constants.MiB)
	require.NoError(t, err)

	d := config.NewDrive(config.DriveInterfaceVirtIO)
	d.SizeBytes = constants.MiB
	d.StagedPath = p

	return d
}

func TestCreateAndReadBundle(t *testing.T) {
	s := newStorage(t)

	cfg := config.NewQEMU("Alpine")
	d := stagedDrive(t, s)
	cfg.Drives = []config.Drive{d}

	bundle, err := s.CreateBundle(cfg)
	require.NoError(t, err)

	// The staged image moved into the bundle.
	require.Len(t, cfg.Drives, 1)
	assert.False(t, cfg.Drives[0].IsStaged())
	assert.FileExists(t, filepath.Join(bundle, "Images", cfg.Drives[0].ImageName))
	assert.NoFileExists(t, d.StagedPath)

	st, err := os.Stat(filepath.Join(bundle, "Images", cfg.Drives[0].ImageName))
	require.NoError(t, err)
	assert.Equal(t, int64(constants.MiB), st.Size())

	out, err := s.ReadConfig(bundle)
	require.NoError(t, err)
	assert.Equal(t, cfg, out)

	bundles, err := s.ListBundles()
	require.NoError(t, err)
	assert.Equal(t, []string{bundle}, bundles)

	_, err = s.CreateBundle(cfg)
	assert.ErrorIs(t, err, storage.ErrBundleExists)
}

func TestCommitPrunesRemovedDrives(t *testing.T) {
	s := newStorage(t)

	cfg := config.NewNative("Ubuntu")
	cfg.Drives = []config.Drive{stagedDrive(t, s), stagedDrive(t, s)}

	bundle, err := s.CreateBundle(cfg)
	require.NoError(t, err)

	removed := cfg.Drives[1]
	cfg.Drives = cfg.Drives[:1]
	require.NoError(t, s.CommitBundle(bundle, cfg))

	assert.FileExists(t, filepath.Join(bundle, "Images", cfg.Drives[0].ImageName))
	assert.NoFileExists(t, filepath.Join(bundle, "Images", removed.ImageName))
}

func TestCommitFailureRestoresStagedImages(t *testing.T) {
	s := newStorage(t)

	cfg := config.NewQEMU("Alpine")
	bundle, err := s.CreateBundle(cfg)
	require.NoError(t, err)

	// A non-empty directory in place of the config file makes the write fail.
	configPath := filepath.Join(bundle, "config.yaml")
	require.NoError(t, os.Remove(configPath))
	require.NoError(t, os.MkdirAll(filepath.Join(configPath, "x"), 0700))

	d := stagedDrive(t, s)
	cfg.Drives = append(cfg.Drives, d)

	require.Error(t, s.CommitBundle(bundle, cfg))

	require.Len(t, cfg.Drives, 1)
	assert.Equal(t, d, cfg.Drives[0])
	assert.FileExists(t, d.StagedPath)

	images, err := os.ReadDir(filepath.Join(bundle, "Images"))
	require.NoError(t, err)
	assert.Empty(t, images)

	// The draft can still be committed once the bundle is writable again.
	require.NoError(t, os.RemoveAll(configPath))
	require.NoError(t, s.CommitBundle(bundle, cfg))
	assert.False(t, cfg.Drives[0].IsStaged())
	assert.FileExists(t, filepath.Join(bundle, "Images", cfg.Drives[0].ImageName))
	assert.NoFileExists(t, d.StagedPath)
}

func TestCommitMissingBundle(t *testing.T) {
	s := newStorage(t)

	err := s.CommitBundle(s.BundlePath("3c0f9a38-5f51-4c1c-a0b4-7f3a0b2e8a11"), config.NewQEMU("x"))
	assert.ErrorIs(t, err, storage.ErrBundleNotFound)
}

func TestDeleteBundle(t *testing.T) {
	s := newStorage(t)

	bundle, err := s.CreateBundle(config.NewQEMU("x"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteBundle(bundle))
	assert.NoDirExists(t, bundle)

	assert.ErrorIs(t, s.DeleteBundle(bundle), storage.ErrBundleNotFound)
	assert.Error(t, s.DeleteBundle(s.DataDirPath()))
}

func TestRemoveStaged(t *testing.T) {
	s := newStorage(t)

	p, err := s.StageDriveImage(constants.MiB)
	require.NoError(t, err)

	require.NoError(t, s.RemoveStaged(p))
	assert.NoFileExists(t, p)

	// Removing twice is fine.
	require.NoError(t, s.RemoveStaged(p))

	outside := filepath.Join(t.TempDir(), "x.img")
	require.NoError(t, os.WriteFile(outside, nil, 0600))
	assert.Error(t, s.RemoveStaged(outside))
	assert.FileExists(t, outside)
}

func TestPruneStaged(t *testing.T) {
	s := newStorage(t)

	stale := time.Now().Add(-2 * time.Hour)

	kept, err := s.StageDriveImage(constants.MiB)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(kept, stale, stale))

	old, err := s.StageDriveImage(constants.MiB)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(old, stale, stale))

	fresh, err := s.StageDriveImage(constants.MiB)
	require.NoError(t, err)

	removed, err := s.PruneStaged(map[string]struct{}{kept: {}}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, []string{old}, removed)

	assert.FileExists(t, kept)
	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
}

func TestStageDriveImageBounds(t *testing.T) {
	s := newStorage(t)

	_, err := s.StageDriveImage(0)
	assert.Error(t, err)

	_, err = s.StageDriveImage(constants.MaxDriveSize + 1)
	assert.Error(t, err)
}

func TestReadConfigMismatchedBundle(t *testing.T) {
	s := newStorage(t)

	cfg := config.NewQEMU("x")
	bundle, err := s.CreateBundle(cfg)
	require.NoError(t, err)

	other := s.BundlePath("6f1c2f5e-0a5e-4a43-9e43-1b3a9d0e2c55")
	require.NoError(t, os.Rename(bundle, other))

	_, err = s.ReadConfig(other)
	assert.Error(t, err)
}
