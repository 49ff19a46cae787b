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

package storage

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alexflint/go-filemutex"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/config"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

const (
	machinesDirName  = "machines"
	stagingDirName   = "staging"
	imagesDirName    = "Images"
	configFileName   = "config.yaml"
	lockFileName     = ".lock"
	stagedFileSuffix = ".img"
)

var (
	ErrBundleExists   = errors.New("bundle already exists")
	ErrBundleNotFound = errors.New("bundle not found")
)

// Storage is the on-disk machine library. Every bundle lives in
// machines/<uuid>/ and holds a config.yaml plus an Images directory.
// Writes are serialized across processes with a lock file in the data dir.
type Storage struct {
	logger *slog.Logger

	path string
	lock *filemutex.FileMutex
}

func NewStorage(logger *slog.Logger, dataDir string) (*Storage, error) {
	dataDir = filepath.Clean(dataDir)

	for _, dir := range []string{dataDir, filepath.Join(dataDir, machinesDirName), filepath.Join(dataDir, stagingDirName)} {
		err := os.MkdirAll(dir, 0700)
		if err != nil {
			return nil, errors.Wrapf(err, "mkdir all '%v'", dir)
		}
	}

	lock, err := filemutex.New(filepath.Join(dataDir, lockFileName))
	if err != nil {
		return nil, errors.Wrap(err, "create data dir lock")
	}

	return &Storage{
		logger: logger,

		path: dataDir,
		lock: lock,
	}, nil
}

func (s *Storage) DataDirPath() string {
	return s.path
}

func (s *Storage) BundlePath(id string) string {
	return filepath.Join(s.path, machinesDirName, strings.ToLower(id))
}

func (s *Storage) Close() error {
	return errors.Wrap(s.lock.Close(), "close data dir lock")
}

func (s *Storage) withLock(fn func() error) error {
	err := s.lock.Lock()
	if err != nil {
		return errors.Wrap(err, "lock data dir")
	}

	fnErr := fn()

	return multierr.Combine(fnErr, errors.Wrap(s.lock.Unlock(), "unlock data dir"))
}

// ListBundles returns the paths of all bundles holding a configuration file,
// sorted by directory name.
func (s *Storage) ListBundles() ([]string, error) {
	machinesDir := filepath.Join(s.path, machinesDirName)

	entries, err := os.ReadDir(machinesDir)
	if err != nil {
		return nil, errors.Wrap(err, "read machines dir")
	}

	var bundles []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		p := filepath.Join(machinesDir, e.Name())

		_, err := os.Stat(filepath.Join(p, configFileName))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				s.logger.Warn("Skipping bundle without configuration", "path", p)
				continue
			}

			return nil, errors.Wrapf(err, "stat bundle config (path '%v')", p)
		}

		bundles = append(bundles, p)
	}

	sort.Strings(bundles)

	return bundles, nil
}

func (s *Storage) ReadConfig(bundlePath string) (config.Configuration, error) {
	b, err := os.ReadFile(filepath.Join(filepath.Clean(bundlePath), configFileName))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrBundleNotFound, "path '%v'", bundlePath)
		}

		return nil, errors.Wrap(err, "read config file")
	}

	cfg, err := config.Unmarshal(b)
	if err != nil {
		return nil, errors.Wrapf(err, "unmarshal config (path '%v')", bundlePath)
	}

	if want, have := filepath.Base(bundlePath), strings.ToLower(cfg.Info().UUID); want != have {
		return nil, fmt.Errorf("bundle directory does not match configuration uuid: want '%v', have '%v'", want, have)
	}

	return cfg, nil
}

// CreateBundle makes a new bundle for cfg and commits it. The bundle is
// removed again if the commit fails.
func (s *Storage) CreateBundle(cfg config.Configuration) (string, error) {
	if _, err := uuid.Parse(cfg.Info().UUID); err != nil {
		return "", errors.Wrap(err, "parse configuration uuid")
	}

	bundlePath := s.BundlePath(cfg.Info().UUID)

	err := s.withLock(func() error {
		err := os.Mkdir(bundlePath, 0700)
		if err != nil {
			if errors.Is(err, os.ErrExist) {
				return errors.Wrapf(ErrBundleExists, "path '%v'", bundlePath)
			}

			return errors.Wrap(err, "mkdir bundle")
		}

		err = s.commitLocked(bundlePath, cfg)
		if err != nil {
			return multierr.Combine(err, errors.Wrap(os.RemoveAll(bundlePath), "remove half-created bundle"))
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Info("Created bundle", "path", bundlePath, "name", cfg.Info().Name)

	return bundlePath, nil
}

// CommitBundle moves staged drive images of cfg into the bundle, writes the
// configuration and removes images no longer referenced by it. cfg's drives
// are updated only once the configuration is written; on failure the staged
// images are moved back.
func (s *Storage) CommitBundle(bundlePath string, cfg config.Configuration) error {
	return s.withLock(func() error {
		_, err := os.Stat(bundlePath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return errors.Wrapf(ErrBundleNotFound, "path '%v'", bundlePath)
			}

			return errors.Wrap(err, "stat bundle")
		}

		return s.commitLocked(bundlePath, cfg)
	})
}

func (s *Storage) commitLocked(bundlePath string, cfg config.Configuration) error {
	imagesDir := filepath.Join(bundlePath, imagesDirName)

	err := os.MkdirAll(imagesDir, 0700)
	if err != nil {
		return errors.Wrap(err, "mkdir images dir")
	}

	drives := slices.Clone(cfg.DriveList())

	type move struct{ from, to string }
	var moved []move

	// Puts moved images back into staging so that cfg stays valid.
	rollback := func(cause error) error {
		errs := []error{cause}
		for i := len(moved) - 1; i >= 0; i-- {
			errs = append(errs, errors.Wrapf(os.Rename(moved[i].to, moved[i].from), "restore staged image '%v'", moved[i].from))
		}

		return multierr.Combine(errs...)
	}

	for i, d := range drives {
		if !d.IsStaged() {
			continue
		}

		name := strings.ToLower(d.ID) + stagedFileSuffix
		to := filepath.Join(imagesDir, name)

		err := os.Rename(d.StagedPath, to)
		if err != nil {
			return rollback(errors.Wrapf(err, "move staged image of drive #%v", i))
		}
		moved = append(moved, move{from: d.StagedPath, to: to})

		drives[i].ImageName = name
		drives[i].StagedPath = ""
	}

	out := cfg.Clone()
	out.SetDriveList(drives)

	b, err := config.Marshal(out)
	if err != nil {
		return rollback(errors.Wrap(err, "marshal config"))
	}

	err = writeFileAtomic(filepath.Join(bundlePath, configFileName), b)
	if err != nil {
		return rollback(errors.Wrap(err, "write config file"))
	}

	cfg.SetDriveList(drives)

	// The configuration is committed at this point. Leftover images are
	// pruned again by the next commit.
	err = s.pruneImagesLocked(imagesDir, drives)
	if err != nil {
		s.logger.Warn("Failed to prune unreferenced drive images", "bundle", bundlePath, "error", err.Error())
	}

	return nil
}

func (s *Storage) pruneImagesLocked(imagesDir string, drives []config.Drive) error {
	referenced := make(map[string]struct{}, len(drives))
	for _, d := range drives {
		if d.ImageName != "" {
			referenced[d.ImageName] = struct{}{}
		}
	}

	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return errors.Wrap(err, "read images dir")
	}

	var errs []error
	for _, e := range entries {
		if _, ok := referenced[e.Name()]; ok || e.IsDir() {
			continue
		}

		p := filepath.Join(imagesDir, e.Name())
		s.logger.Info("Removing unreferenced drive image", "path", p)
		errs = append(errs, errors.Wrapf(os.Remove(p), "remove '%v'", p))
	}

	return multierr.Combine(errs...)
}

func (s *Storage) DeleteBundle(bundlePath string) error {
	bundlePath = filepath.Clean(bundlePath)
	if filepath.Dir(bundlePath) != filepath.Join(s.path, machinesDirName) {
		return fmt.Errorf("path '%v' is not a bundle of this library", bundlePath)
	}

	return s.withLock(func() error {
		removed, err := removeIfExists(bundlePath, true)
		if err != nil {
			return err
		}

		if !removed {
			return errors.Wrapf(ErrBundleNotFound, "path '%v'", bundlePath)
		}

		s.logger.Info("Deleted bundle", "path", bundlePath)

		return nil
	})
}

func writeFileAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}

	tmpPath := tmp.Name()

	_, err = tmp.Write(b)
	if err == nil {
		err = tmp.Sync()
	}

	err = multierr.Combine(err, tmp.Close())
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "write temp file"), os.Remove(tmpPath))
	}

	err = os.Rename(tmpPath, path)
	if err != nil {
		return multierr.Combine(errors.Wrap(err, "rename temp file"), os.Remove(tmpPath))
	}

	return nil
}
