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

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/utils"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

type BootLoader string

const (
	BootLoaderLinux BootLoader = "linux"
	BootLoaderEFI   BootLoader = "efi"
	BootLoaderMacOS BootLoader = "macos"
)

type NativeNetworkMode string

const (
	NativeNetworkModeNAT     NativeNetworkMode = "nat"
	NativeNetworkModeBridged NativeNetworkMode = "bridged"
)

var nativeDriveInterfaces = []DriveInterface{
	DriveInterfaceVirtIO,
	DriveInterfaceNVMe,
	DriveInterfaceUSB,
}

// Native describes a machine run by the host's built-in hypervisor
// framework rather than by QEMU.
type Native struct {
	Information       Information       `yaml:"information"`
	System            NativeSystem      `yaml:"system"`
	Virtualization    Virtualization    `yaml:"virtualization"`
	SharedDirectories []SharedDirectory `yaml:"sharedDirectories,omitempty"`
	Displays          []NativeDisplay   `yaml:"displays,omitempty"`
	Networks          []NativeNetwork   `yaml:"networks,omitempty"`
	Drives            []Drive           `yaml:"drives,omitempty"`
}

type NativeSystem struct {
	CPUCount    int        `yaml:"cpuCount"`
	MemorySize  uint64     `yaml:"memorySize"` // In bytes.
	BootLoader  BootLoader `yaml:"bootLoader"`
	KernelPath  string     `yaml:"kernelPath,omitempty"`
	InitrdPath  string     `yaml:"initrdPath,omitempty"`
	CommandLine string     `yaml:"commandLine,omitempty"`
}

type Virtualization struct {
	Balloon  bool `yaml:"balloon"`
	Entropy  bool `yaml:"entropy"`
	Keyboard bool `yaml:"keyboard"`
	Pointer  bool `yaml:"pointer"`
	Rosetta  bool `yaml:"rosetta,omitempty"`
}

type SharedDirectory struct {
	Path     string `yaml:"path"`
	Tag      string `yaml:"tag"`
	ReadOnly bool   `yaml:"readOnly,omitempty"`
}

type NativeDisplay struct {
	Width  int `yaml:"width"`
	Height int `yaml:"height"`
	PPI    int `yaml:"ppi"`
}

type NativeNetwork struct {
	Mode            NativeNetworkMode `yaml:"mode"`
	MACAddress      string            `yaml:"macAddress,omitempty"`
	BridgeInterface string            `yaml:"bridgeInterface,omitempty"`
}

func NewNative(name string) *Native {
	return &Native{
		Information: Information{
			Name: name,
			UUID: uuid.NewString(),
		},
		System: NativeSystem{
			CPUCount:   constants.DefaultCPUCount,
			MemorySize: constants.DefaultNativeMemory,
			BootLoader: BootLoaderEFI,
		},
		Virtualization: Virtualization{
			Balloon:  true,
			Entropy:  true,
			Keyboard: true,
			Pointer:  true,
		},
		Displays: []NativeDisplay{{
			Width:  1920,
			Height: 1200,
			PPI:    80,
		}},
		Networks: []NativeNetwork{{
			Mode: NativeNetworkModeNAT,
		}},
	}
}

func (c *Native) Backend() Backend { return BackendNative }

func (c *Native) Info() *Information { return &c.Information }

func (c *Native) DriveList() []Drive { return c.Drives }

func (c *Native) SetDriveList(drives []Drive) { c.Drives = drives }

func (c *Native) sealed() {}

func (c *Native) Validate() error {
	var errs []error

	errs = append(errs, errors.Wrap(c.Information.validate(), "information"))

	sys := c.System
	if sys.CPUCount < 1 {
		errs = append(errs, fmt.Errorf("cpu count must be at least 1 (have %v)", sys.CPUCount))
	}

	if sys.MemorySize < constants.MinNativeMemory {
		errs = append(errs, fmt.Errorf("memory size %v is below the minimum of %v", FormatSize(sys.MemorySize), FormatSize(constants.MinNativeMemory)))
	}

	switch sys.BootLoader {
	case BootLoaderLinux:
		if sys.KernelPath == "" {
			errs = append(errs, fmt.Errorf("linux boot loader requires a kernel path"))
		}
	case BootLoaderEFI, BootLoaderMacOS:
		if sys.KernelPath != "" || sys.InitrdPath != "" {
			errs = append(errs, fmt.Errorf("kernel and initrd are only used by the linux boot loader"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown boot loader '%v'", sys.BootLoader))
	}

	tags := make(map[string]struct{}, len(c.SharedDirectories))
	for i, sd := range c.SharedDirectories {
		if sd.Path == "" || sd.Tag == "" {
			errs = append(errs, fmt.Errorf("shared directory #%v: path and tag are required", i))
			continue
		}

		if _, ok := tags[sd.Tag]; ok {
			errs = append(errs, fmt.Errorf("shared directory #%v: duplicate tag '%v'", i, sd.Tag))
		}
		tags[sd.Tag] = struct{}{}
	}

	for i, d := range c.Displays {
		if d.Width <= 0 || d.Height <= 0 || d.PPI <= 0 {
			errs = append(errs, fmt.Errorf("display #%v: bad geometry %vx%v@%v", i, d.Width, d.Height, d.PPI))
		}
	}

	for i, n := range c.Networks {
		if n.MACAddress != "" && !utils.ValidateMACAddress(n.MACAddress) {
			errs = append(errs, fmt.Errorf("network #%v: bad mac address '%v'", i, n.MACAddress))
		}

		switch n.Mode {
		case NativeNetworkModeNAT:
		case NativeNetworkModeBridged:
			if n.BridgeInterface == "" {
				errs = append(errs, fmt.Errorf("network #%v: bridged mode requires an interface", i))
			}
		default:
			errs = append(errs, fmt.Errorf("network #%v: unknown mode '%v'", i, n.Mode))
		}
	}

	errs = append(errs, validateDrives(c.Drives, nativeDriveInterfaces))

	return errors.Wrap(multierr.Combine(errs...), "invalid native configuration")
}

func (c *Native) Clone() Configuration {
	cp := *c

	cp.SharedDirectories = slices.Clone(c.SharedDirectories)
	cp.Displays = slices.Clone(c.Displays)
	cp.Networks = slices.Clone(c.Networks)
	cp.Drives = slices.Clone(c.Drives)

	return &cp
}
