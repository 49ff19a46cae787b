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

package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/utils"
	"golang.org/x/exp/slices"
)

type Backend string

const (
	BackendQEMU   Backend = "qemu"
	BackendNative Backend = "native"
)

var (
	ErrUnknownBackend = errors.New("unknown configuration backend")
	ErrInvalidName    = errors.New("invalid machine name")
)

// Configuration is a machine configuration of exactly one backend. The set
// of implementations is closed: *QEMU and *Native.
type Configuration interface {
	Backend() Backend
	Info() *Information

	DriveList() []Drive
	SetDriveList(drives []Drive)

	Validate() error
	Clone() Configuration

	sealed()
}

type Information struct {
	Name  string `yaml:"name"`
	UUID  string `yaml:"uuid"`
	Notes string `yaml:"notes,omitempty"`
	Icon  string `yaml:"icon,omitempty"`
}

func (i Information) validate() error {
	if i.Name == "" || utils.NormalizeName(i.Name) != i.Name {
		return errors.Wrapf(ErrInvalidName, "name '%v'", i.Name)
	}

	if strings.ContainsAny(i.Name, `/\`) {
		return errors.Wrapf(ErrInvalidName, "name '%v' contains a path separator", i.Name)
	}

	_, err := uuid.Parse(i.UUID)
	if err != nil {
		return errors.Wrapf(err, "parse uuid '%v'", i.UUID)
	}

	return nil
}

type DriveInterface string

const (
	DriveInterfaceVirtIO DriveInterface = "virtio"
	DriveInterfaceNVMe   DriveInterface = "nvme"
	DriveInterfaceUSB    DriveInterface = "usb"
	DriveInterfaceIDE    DriveInterface = "ide"
	DriveInterfaceSCSI   DriveInterface = "scsi"
)

type Drive struct {
	ID        string         `yaml:"id"`
	ImageName string         `yaml:"imageName,omitempty"` // Relative to the bundle's Images directory.
	Interface DriveInterface `yaml:"interface"`
	SizeBytes uint64         `yaml:"size,omitempty"`
	ReadOnly  bool           `yaml:"readOnly,omitempty"`
	Removable bool           `yaml:"removable,omitempty"`

	// StagedPath is set for images created during an edit that have
	// not yet been moved into the bundle. Never persisted.
	StagedPath string `yaml:"-"`
}

// IsStaged reports whether the drive image still lives in the staging area.
func (d Drive) IsStaged() bool {
	return d.StagedPath != ""
}

func NewDrive(iface DriveInterface) Drive {
	return Drive{
		ID:        strings.ToUpper(uuid.NewString()),
		Interface: iface,
	}
}

// DriveInterfacesFor lists the drive interfaces a backend can attach.
func DriveInterfacesFor(b Backend) []DriveInterface {
	switch b {
	case BackendQEMU:
		return slices.Clone(qemuDriveInterfaces)
	case BackendNative:
		return slices.Clone(nativeDriveInterfaces)
	default:
		return nil
	}
}

func validateDrives(drives []Drive, allowed []DriveInterface) error {
	seen := make(map[string]struct{}, len(drives))

	for i, d := range drives {
		if _, err := uuid.Parse(d.ID); err != nil {
			return errors.Wrapf(err, "drive #%v: parse id '%v'", i, d.ID)
		}

		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("drive #%v: duplicate id '%v'", i, d.ID)
		}
		seen[d.ID] = struct{}{}

		if !slices.Contains(allowed, d.Interface) {
			return fmt.Errorf("drive #%v: unsupported interface '%v'", i, d.Interface)
		}

		if d.ImageName != "" && (filepath.Base(d.ImageName) != d.ImageName || d.ImageName == ".." || d.ImageName == ".") {
			return fmt.Errorf("drive #%v: image name '%v' must be a plain file name", i, d.ImageName)
		}

		if d.ImageName == "" && !d.IsStaged() && !d.Removable {
			return fmt.Errorf("drive #%v: fixed drive has no image", i)
		}
	}

	return nil
}
