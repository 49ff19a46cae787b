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

package constants

import "runtime"

const Version = "0.3.0"

// ConfigVersion is the on-disk configuration envelope version.
const ConfigVersion = 4

// QEMUArch maps the host CPU architecture to the QEMU system target name.
func QEMUArch() string {
	// CPU architectures other than amd64 and arm64 are not natively supported.
	// Running on anything else will result in an emulated x86_64 VM.
	if runtime.GOARCH == "arm64" {
		return "aarch64"
	}

	return "x86_64"
}

// QEMUMachineTarget returns the default machine type for a QEMU architecture.
func QEMUMachineTarget(arch string) string {
	switch arch {
	case "aarch64":
		return "virt"
	default:
		return "q35"
	}
}
