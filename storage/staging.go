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
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/constants"
	"go.uber.org/multierr"
)

// StageDriveImage creates a sparse raw image in the staging area. It stays
// there until a commit moves it into a bundle or RemoveStaged deletes it.
func (s *Storage) StageDriveImage(size uint64) (string, error) {
	if size == 0 || size > constants.MaxDriveSize {
		return "", fmt.Errorf("drive size %v out of range", size)
	}

	p := filepath.Join(s.path, stagingDirName, uuid.NewString()+stagedFileSuffix)

	err := s.withLock(func() error {
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return errors.Wrap(err, "create staged image")
		}

		err = multierr.Combine(f.Truncate(int64(size)), f.Close())
		if err != nil {
			_ = os.Remove(p)
			return errors.Wrap(err, "allocate staged image")
		}

		return nil
	})
	if err != nil {
		return "", err
	}

	s.logger.Debug("Staged drive image", "path", p, "size", size)

	return p, nil
}

func (s *Storage) RemoveStaged(path string) error {
	return s.withLock(func() error {
		return s.removeStagedLocked(path)
	})
}

func (s *Storage) removeStagedLocked(path string) error {
	path = filepath.Clean(path)
	stagingDir := filepath.Join(s.path, stagingDirName)

	if filepath.Dir(path) != stagingDir || !strings.HasSuffix(path, stagedFileSuffix) {
		return fmt.Errorf("path '%v' is not a staged image", path)
	}

	removed, err := removeIfExists(path, false)
	if err != nil {
		return err
	}

	if removed {
		s.logger.Debug("Removed staged drive image", "path", path)
	}

	return nil
}

// PruneStaged removes staged images that are not in keep and were last
// modified more than minAge ago. Younger images may belong to an edit in
// progress in another process. It returns the removed paths.
func (s *Storage) PruneStaged(keep map[string]struct{}, minAge time.Duration) ([]string, error) {
	var removed []string

	err := s.withLock(func() error {
		stagingDir := filepath.Join(s.path, stagingDirName)

		entries, err := os.ReadDir(stagingDir)
		if err != nil {
			return errors.Wrap(err, "read staging dir")
		}

		cutoff := time.Now().Add(-minAge)

		var errs []error
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), stagedFileSuffix) {
				continue
			}

			p := filepath.Join(stagingDir, e.Name())
			if _, ok := keep[p]; ok {
				continue
			}

			info, err := e.Info()
			if err != nil {
				if !errors.Is(err, os.ErrNotExist) {
					errs = append(errs, errors.Wrapf(err, "stat '%v'", p))
				}
				continue
			}

			if info.ModTime().After(cutoff) {
				continue
			}

			err = s.removeStagedLocked(p)
			if err != nil {
				errs = append(errs, errors.Wrapf(err, "remove '%v'", p))
				continue
			}

			removed = append(removed, p)
		}

		return multierr.Combine(errs...)
	})

	return removed, err
}

func removeIfExists(path string, recursive bool) (bool, error) {
	_, err := os.Stat(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, errors.Wrap(err, "stat file")
		}

		return false, nil
	}

	if recursive {
		err = os.RemoveAll(path)
	} else {
		err = os.Remove(path)
	}
	if err != nil {
		return false, errors.Wrap(err, "remove file")
	}

	return true, nil
}
