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

package osspecifics

import (
	"runtime"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

func IsWindows() bool {
	return runtime.GOOS == "windows"
}

func IsMacOS() bool {
	return runtime.GOOS == "darwin"
}

// QEMUAccelerator returns the hardware accelerator QEMU should use on this host.
func QEMUAccelerator() string {
	switch {
	case IsWindows():
		return "whpx"
	case IsMacOS():
		return "hvf"
	default:
		return "kvm"
	}
}

// SupportsNativeHypervisor reports whether the host can run native-backend
// machines. Only macOS ships the native virtualization framework.
func SupportsNativeHypervisor() bool {
	return IsMacOS()
}

type HostResources struct {
	MemoryTotal uint64 // In bytes.
	CPUCount    int
}

func GetHostResources() (HostResources, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return HostResources{}, errors.Wrap(err, "get virtual memory stats")
	}

	cpus, err := cpu.Counts(true)
	if err != nil {
		return HostResources{}, errors.Wrap(err, "get logical cpu count")
	}

	return HostResources{
		MemoryTotal: vm.Total,
		CPUCount:    cpus,
	}, nil
}
