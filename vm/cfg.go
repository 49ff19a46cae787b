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

package vm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/phayes/freeport"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/osspecifics"
	"github.com/vmdesk/vmdesk/qemucli"
	"github.com/vmdesk/vmdesk/utils"
)

var ErrNotQEMU = errors.New("machine is not a qemu machine")

func cleanQEMUPath(s string) string {
	path := filepath.Clean(s)
	if osspecifics.IsWindows() {
		// QEMU doesn't work well with Windows backslashes, so we're replacing them to forward slashes
		// that work perfectly fine.
		path = strings.ReplaceAll(path, "\\", "/")
	}

	return path
}

// BuildQEMUCommand renders the QEMU invocation for a machine. Only machines
// with a QEMU configuration can be rendered.
func BuildQEMUCommand(logger *slog.Logger, m *Machine) (string, []string, error) {
	cfg, ok := m.Config().(*config.QEMU)
	if !ok {
		return "", nil, errors.Wrapf(ErrNotQEMU, "backend '%v'", m.Backend())
	}

	return BuildQEMUCommandForConfig(logger, cfg, m.Path())
}

func BuildQEMUCommandForConfig(logger *slog.Logger, cfg *config.QEMU, bundlePath string) (string, []string, error) {
	err := cfg.Validate()
	if err != nil {
		return "", nil, err
	}

	baseCmd, args, err := configureBaseVMCmd(logger, cfg)
	if err != nil {
		return "", nil, errors.Wrap(err, "configure base vm cmd")
	}

	displayArgs, err := configureVMCmdDisplay(cfg.Display)
	if err != nil {
		return "", nil, errors.Wrap(err, "configure display")
	}
	args = append(args, displayArgs...)

	netArgs, err := configureVMCmdNetworking(logger, cfg.Networks)
	if err != nil {
		return "", nil, errors.Wrap(err, "configure networking")
	}
	args = append(args, netArgs...)

	driveArgs, err := configureVMCmdDrives(cfg.Drives, bundlePath)
	if err != nil {
		return "", nil, errors.Wrap(err, "configure drives")
	}
	args = append(args, driveArgs...)

	if cfg.Sharing.DirectoryShare != "" {
		items := []qemucli.KeyValueArgItem{
			{Key: "local"},
			{Key: "path", Value: cleanQEMUPath(cfg.Sharing.DirectoryShare)},
			{Key: "mount_tag", Value: "share"},
			{Key: "security_model", Value: "mapped-xattr"},
		}
		if cfg.Sharing.ReadOnly {
			items = append(items, qemucli.KeyValueArgItem{Key: "readonly", Value: "on"})
		}

		shareArg, err := qemucli.NewKeyValueArg("virtfs", items)
		if err != nil {
			return "", nil, errors.Wrapf(err, "create virtfs arg (path '%v')", cfg.Sharing.DirectoryShare)
		}
		args = append(args, shareArg)
	}

	argv, err := qemucli.EncodeArgs(args)
	if err != nil {
		return "", nil, errors.Wrap(err, "encode args")
	}

	return baseCmd, argv, nil
}

func configureBaseVMCmd(logger *slog.Logger, cfg *config.QEMU) (string, []qemucli.Arg, error) {
	sys := cfg.System
	baseCmd := "qemu-system-" + sys.Architecture

	uuidArg, err := qemucli.NewStringArg("uuid", cfg.Information.UUID)
	if err != nil {
		return "", nil, errors.Wrap(err, "create uuid arg")
	}

	args := []qemucli.Arg{
		qemucli.MustNewFlagArg("nodefaults"),
		uuidArg,
		qemucli.MustNewUintArg("m", sys.MemorySize/constants.MiB),
		qemucli.MustNewUintArg("smp", sys.CPUCount),
	}

	machineItems := []qemucli.KeyValueArgItem{{Key: sys.Target}}
	if sys.Architecture == "aarch64" && osspecifics.IsMacOS() {
		// "highmem=off" is required for M1.
		machineItems = append(machineItems, qemucli.KeyValueArgItem{Key: "highmem", Value: "off"})
	}

	machineArg, err := qemucli.NewKeyValueArg("machine", machineItems)
	if err != nil {
		return "", nil, errors.Wrapf(err, "create machine arg (target '%v')", sys.Target)
	}
	args = append(args, machineArg)

	accelerated := sys.Hypervisor && sys.Architecture == constants.QEMUArch()
	if sys.Hypervisor && !accelerated {
		logger.Warn("Hardware acceleration is unavailable for a foreign architecture, falling back to emulation", "arch", sys.Architecture)
	}

	accel := []qemucli.KeyValueArgItem{{Key: "tcg"}}
	if accelerated {
		accel = []qemucli.KeyValueArgItem{{Key: osspecifics.QEMUAccelerator()}}
		if osspecifics.IsWindows() {
			accel = append(accel, qemucli.KeyValueArgItem{Key: "kernel-irqchip", Value: "off"})
		}
	}
	args = append(args, qemucli.MustNewKeyValueArg("accel", accel))

	cpu := sys.CPU
	if cpu == "default" && accelerated && osspecifics.IsMacOS() {
		cpu = "host"
	}
	if cpu != "default" {
		cpuArg, err := qemucli.NewStringArg("cpu", cpu)
		if err != nil {
			return "", nil, errors.Wrapf(err, "create cpu arg (model '%v')", cpu)
		}
		args = append(args, cpuArg)
	}

	if sys.UEFIBoot {
		if sys.BIOSPath == "" {
			if sys.Architecture == "aarch64" {
				logger.Warn("BIOS image path is not specified while attempting to run an aarch64 (arm64) VM. The VM will not boot.")
			}
		} else {
			biosPath := cleanQEMUPath(sys.BIOSPath)
			biosArg, err := qemucli.NewStringArg("bios", biosPath)
			if err != nil {
				return "", nil, errors.Wrapf(err, "create bios arg (path '%v')", biosPath)
			}
			args = append(args, biosArg)
		}
	}

	if sys.RNGDevice {
		args = append(args, qemucli.MustNewKeyValueArg("device", []qemucli.KeyValueArgItem{{Key: "driver", Value: "virtio-rng-pci"}}))
	}

	if osspecifics.IsWindows() {
		baseCmd += ".exe"
	}

	return baseCmd, args, nil
}

func configureVMCmdDisplay(d config.QEMUDisplay) ([]qemucli.Arg, error) {
	if d.Hardware == "none" {
		return []qemucli.Arg{qemucli.MustNewStringArg("display", "none")}, nil
	}

	devArg, err := qemucli.NewKeyValueArg("device", []qemucli.KeyValueArgItem{{Key: "driver", Value: d.Hardware}})
	if err != nil {
		return nil, errors.Wrapf(err, "create display device arg (hardware '%v')", d.Hardware)
	}

	args := []qemucli.Arg{devArg}

	if d.VNC {
		vnc := []qemucli.KeyValueArgItem{{Key: "127.0.0.1:" + utils.IntToStr(d.VNCDisplay)}}
		if d.VNCPassword != "" {
			// The password itself is set over the monitor, never on the command line.
			vnc = append(vnc, qemucli.KeyValueArgItem{Key: "password", Value: "on"})
		}

		args = append(args, qemucli.MustNewKeyValueArg("vnc", vnc), qemucli.MustNewStringArg("display", "none"))
	}

	return args, nil
}

func configureVMCmdUserNetwork(logger *slog.Logger, netID string, ports []config.PortForward) ([]qemucli.KeyValueArgItem, error) {
	items := []qemucli.KeyValueArgItem{
		{Key: "user"},
		{Key: "id", Value: netID},
	}

	for _, pf := range ports {
		hostPort := int(pf.HostPort)
		if hostPort == 0 {
			p, err := freeport.GetFreePort()
			if err != nil {
				return nil, errors.Wrapf(err, "get free port for guest port %v", pf.GuestPort)
			}

			logger.Info("Allocated host port for forwarding", "host-port", p, "guest-port", pf.GuestPort)
			hostPort = p
		}

		items = append(items, qemucli.KeyValueArgItem{
			Key:   "hostfwd",
			Value: pf.Protocol + ":" + pf.HostIP + ":" + utils.IntToStr(hostPort) + "-:" + utils.UintToStr(pf.GuestPort),
		})
	}

	return items, nil
}

func configureVMCmdNetworking(logger *slog.Logger, networks []config.QEMUNetwork) ([]qemucli.Arg, error) {
	var args []qemucli.Arg

	for i, n := range networks {
		netID := "net" + utils.IntToStr(i)

		var netdevItems []qemucli.KeyValueArgItem
		switch n.Mode {
		case config.QEMUNetworkModeEmulated:
			items, err := configureVMCmdUserNetwork(logger, netID, n.PortForwards)
			if err != nil {
				return nil, errors.Wrapf(err, "configure user network #%v", i)
			}
			netdevItems = items
		case config.QEMUNetworkModeBridged:
			if !utils.ValidateTapName(n.BridgeInterface) {
				return nil, fmt.Errorf("invalid tap name '%v' (network #%v)", n.BridgeInterface, i)
			}

			netdevItems = []qemucli.KeyValueArgItem{
				{Key: "tap"},
				{Key: "id", Value: netID},
				{Key: "ifname", Value: n.BridgeInterface},
				{Key: "script", Value: "no"},
				{Key: "downscript", Value: "no"},
			}
		default:
			return nil, fmt.Errorf("unknown network mode '%v' (network #%v)", n.Mode, i)
		}

		netdevArg, err := qemucli.NewKeyValueArg("netdev", netdevItems)
		if err != nil {
			return nil, errors.Wrapf(err, "create netdev arg (network #%v)", i)
		}

		devItems := []qemucli.KeyValueArgItem{{Key: "driver", Value: n.Hardware}, {Key: "netdev", Value: netID}}
		if n.MACAddress != "" {
			devItems = append(devItems, qemucli.KeyValueArgItem{Key: "mac", Value: n.MACAddress})
		}

		deviceArg, err := qemucli.NewKeyValueArg("device", devItems)
		if err != nil {
			return nil, errors.Wrapf(err, "create device arg (network #%v)", i)
		}

		args = append(args, netdevArg, deviceArg)
	}

	return args, nil
}

func drivePath(d config.Drive, bundlePath string) string {
	if d.IsStaged() {
		return d.StagedPath
	}

	if d.ImageName == "" {
		return ""
	}

	return filepath.Join(bundlePath, "Images", d.ImageName)
}

func driveDeviceDriver(d config.Drive) (string, error) {
	switch d.Interface {
	case config.DriveInterfaceVirtIO:
		return "virtio-blk-pci", nil
	case config.DriveInterfaceNVMe:
		return "nvme", nil
	case config.DriveInterfaceUSB:
		return "usb-storage", nil
	case config.DriveInterfaceIDE:
		if d.Removable {
			return "ide-cd", nil
		}
		return "ide-hd", nil
	case config.DriveInterfaceSCSI:
		if d.Removable {
			return "scsi-cd", nil
		}
		return "scsi-hd", nil
	default:
		return "", fmt.Errorf("unsupported drive interface '%v'", d.Interface)
	}
}

func configureVMCmdDrives(drives []config.Drive, bundlePath string) ([]qemucli.Arg, error) {
	var args []qemucli.Arg
	var haveUSB, haveSCSI bool

	for i, drive := range drives {
		driveID := "drive" + utils.IntToStr(i)

		driveKVItems := []qemucli.KeyValueArgItem{
			{Key: "if", Value: "none"},
			{Key: "id", Value: driveID},
		}

		if p := drivePath(drive, bundlePath); p != "" {
			_, err := os.Stat(filepath.Clean(p))
			if err != nil {
				return nil, errors.Wrapf(err, "stat drive #%v path", i)
			}

			driveKVItems = append(driveKVItems,
				qemucli.KeyValueArgItem{Key: "file", Value: cleanQEMUPath(p)},
				qemucli.KeyValueArgItem{Key: "format", Value: "raw"},
			)
		}

		if drive.Removable {
			driveKVItems = append(driveKVItems, qemucli.KeyValueArgItem{Key: "media", Value: "cdrom"})
		}

		if drive.ReadOnly {
			driveKVItems = append(driveKVItems, qemucli.KeyValueArgItem{Key: "readonly", Value: "on"})
		}

		driver, err := driveDeviceDriver(drive)
		if err != nil {
			return nil, errors.Wrapf(err, "drive #%v", i)
		}

		switch drive.Interface {
		case config.DriveInterfaceUSB:
			if !haveUSB {
				args = append(args, qemucli.MustNewKeyValueArg("device", []qemucli.KeyValueArgItem{{Key: "driver", Value: "qemu-xhci"}}))
				haveUSB = true
			}
		case config.DriveInterfaceSCSI:
			if !haveSCSI {
				args = append(args, qemucli.MustNewKeyValueArg("device", []qemucli.KeyValueArgItem{{Key: "driver", Value: "virtio-scsi-pci"}}))
				haveSCSI = true
			}
		}

		deviceKVItems := []qemucli.KeyValueArgItem{
			{Key: "driver", Value: driver},
			{Key: "drive", Value: driveID},
			{Key: "bootindex", Value: utils.IntToStr(i)},
		}

		if drive.Interface == config.DriveInterfaceNVMe {
			// NVMe devices require a serial.
			deviceKVItems = append(deviceKVItems, qemucli.KeyValueArgItem{Key: "serial", Value: strings.ReplaceAll(drive.ID, "-", "")[:20]})
		}

		driveArg, err := qemucli.NewKeyValueArg("drive", driveKVItems)
		if err != nil {
			return nil, errors.Wrapf(err, "create drive key-value arg (drive #%v)", i)
		}

		deviceArg, err := qemucli.NewKeyValueArg("device", deviceKVItems)
		if err != nil {
			return nil, errors.Wrapf(err, "create device key-value arg (drive #%v)", i)
		}

		args = append(args, driveArg, deviceArg)
	}

	return args, nil
}
