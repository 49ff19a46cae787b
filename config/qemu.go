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
	"github.com/sethvargo/go-password/password"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/utils"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

type QEMUNetworkMode string

const (
	QEMUNetworkModeEmulated QEMUNetworkMode = "emulated"
	QEMUNetworkModeBridged  QEMUNetworkMode = "bridged"
)

var qemuDriveInterfaces = []DriveInterface{
	DriveInterfaceVirtIO,
	DriveInterfaceNVMe,
	DriveInterfaceUSB,
	DriveInterfaceIDE,
	DriveInterfaceSCSI,
}

type QEMU struct {
	Information Information   `yaml:"information"`
	System      QEMUSystem    `yaml:"system"`
	Display     QEMUDisplay   `yaml:"display"`
	Networks    []QEMUNetwork `yaml:"networks,omitempty"`
	Drives      []Drive       `yaml:"drives,omitempty"`
	Sharing     QEMUSharing   `yaml:"sharing"`
}

type QEMUSystem struct {
	Architecture string `yaml:"architecture"`
	Target       string `yaml:"target"`
	CPU          string `yaml:"cpu"` // "default" leaves the choice to QEMU.
	CPUCount     int    `yaml:"cpuCount"`
	MemorySize   uint64 `yaml:"memorySize"` // In bytes.
	UEFIBoot     bool   `yaml:"uefiBoot"`
	Hypervisor   bool   `yaml:"hypervisor"`
	RNGDevice    bool   `yaml:"rngDevice"`
	BIOSPath     string `yaml:"biosPath,omitempty"`
}

type QEMUDisplay struct {
	Hardware    string `yaml:"hardware"` // "none" disables the display device.
	VNC         bool   `yaml:"vnc"`
	VNCDisplay  int    `yaml:"vncDisplay,omitempty"`
	VNCPassword string `yaml:"vncPassword,omitempty"`
}

type QEMUNetwork struct {
	Mode            QEMUNetworkMode `yaml:"mode"`
	Hardware        string          `yaml:"hardware"`
	MACAddress      string          `yaml:"macAddress,omitempty"`
	BridgeInterface string          `yaml:"bridgeInterface,omitempty"` // Tap device name in bridged mode.
	PortForwards    []PortForward   `yaml:"portForwards,omitempty"`
}

type QEMUSharing struct {
	DirectoryShare string `yaml:"directoryShare,omitempty"`
	ReadOnly       bool   `yaml:"readOnly,omitempty"`
}

func NewQEMU(name string) *QEMU {
	arch := constants.QEMUArch()

	return &QEMU{
		Information: Information{
			Name: name,
			UUID: uuid.NewString(),
		},
		System: QEMUSystem{
			Architecture: arch,
			Target:       constants.QEMUMachineTarget(arch),
			CPU:          "default",
			CPUCount:     constants.DefaultCPUCount,
			MemorySize:   constants.DefaultQEMUMemory,
			UEFIBoot:     arch == "aarch64",
			Hypervisor:   true,
			RNGDevice:    true,
		},
		Display: QEMUDisplay{
			Hardware: "virtio-vga",
		},
		Networks: []QEMUNetwork{{
			Mode:     QEMUNetworkModeEmulated,
			Hardware: "virtio-net-pci",
		}},
	}
}

func (c *QEMU) Backend() Backend { return BackendQEMU }

func (c *QEMU) Info() *Information { return &c.Information }

func (c *QEMU) DriveList() []Drive { return c.Drives }

func (c *QEMU) SetDriveList(drives []Drive) { c.Drives = drives }

func (c *QEMU) sealed() {}

func (c *QEMU) Validate() error {
	var errs []error

	errs = append(errs, errors.Wrap(c.Information.validate(), "information"))

	sys := c.System
	if sys.Architecture != "x86_64" && sys.Architecture != "aarch64" {
		errs = append(errs, fmt.Errorf("unsupported architecture '%v'", sys.Architecture))
	}

	for _, v := range []string{sys.Target, sys.CPU} {
		if !utils.ValidateQEMUIdent(v) {
			errs = append(errs, fmt.Errorf("bad qemu identifier '%v'", v))
		}
	}

	if sys.CPUCount < 1 {
		errs = append(errs, fmt.Errorf("cpu count must be at least 1 (have %v)", sys.CPUCount))
	}

	if sys.MemorySize < constants.MinQEMUMemory {
		errs = append(errs, fmt.Errorf("memory size %v is below the minimum of %v", FormatSize(sys.MemorySize), FormatSize(constants.MinQEMUMemory)))
	}

	if c.Display.Hardware != "none" && !utils.ValidateQEMUIdent(c.Display.Hardware) {
		errs = append(errs, fmt.Errorf("bad display hardware '%v'", c.Display.Hardware))
	}

	if c.Display.VNCDisplay < 0 || c.Display.VNCDisplay > 99 {
		errs = append(errs, fmt.Errorf("vnc display number out of range: %v", c.Display.VNCDisplay))
	}

	for i, n := range c.Networks {
		errs = append(errs, errors.Wrapf(n.validate(), "network #%v", i))
	}

	errs = append(errs, validateDrives(c.Drives, qemuDriveInterfaces))

	return errors.Wrap(multierr.Combine(errs...), "invalid qemu configuration")
}

func (n QEMUNetwork) validate() error {
	if !utils.ValidateQEMUIdent(n.Hardware) {
		return fmt.Errorf("bad network hardware '%v'", n.Hardware)
	}

	if n.MACAddress != "" && !utils.ValidateMACAddress(n.MACAddress) {
		return fmt.Errorf("bad mac address '%v'", n.MACAddress)
	}

	switch n.Mode {
	case QEMUNetworkModeEmulated:
		for i, pf := range n.PortForwards {
			if err := pf.validate(); err != nil {
				return errors.Wrapf(err, "port forward #%v", i)
			}
		}
	case QEMUNetworkModeBridged:
		if !utils.ValidateTapName(n.BridgeInterface) {
			return fmt.Errorf("invalid tap name '%v'", n.BridgeInterface)
		}

		if len(n.PortForwards) != 0 {
			return fmt.Errorf("port forwarding is available in emulated mode only")
		}
	default:
		return fmt.Errorf("unknown network mode '%v'", n.Mode)
	}

	return nil
}

// EnsureVNCPassword generates a VNC password if VNC is enabled without one.
func (c *QEMU) EnsureVNCPassword() error {
	if !c.Display.VNC || c.Display.VNCPassword != "" {
		return nil
	}

	pass, err := password.Generate(constants.VNCPasswordLength, 2, 0, false, true)
	if err != nil {
		return errors.Wrap(err, "generate vnc password")
	}

	c.Display.VNCPassword = pass

	return nil
}

func (c *QEMU) Clone() Configuration {
	cp := *c

	cp.Drives = slices.Clone(c.Drives)

	if c.Networks != nil {
		cp.Networks = make([]QEMUNetwork, len(c.Networks))
		for i, n := range c.Networks {
			n.PortForwards = slices.Clone(n.PortForwards)
			cp.Networks[i] = n
		}
	}

	return &cp
}
