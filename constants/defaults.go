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

import "time"

const (
	MiB = 1024 * 1024
	GiB = 1024 * MiB
)

const (
	DefaultQEMUMemory   = 512 * MiB
	DefaultNativeMemory = 4 * GiB
	DefaultCPUCount     = 1

	MinQEMUMemory   = 32 * MiB
	MinNativeMemory = 128 * MiB

	DefaultDriveSize = 16 * GiB
	MaxDriveSize     = 2048 * GiB

	VNCPasswordLength = 8
)

// StagedImageMaxAge is how long an unreferenced staged drive image is kept
// before a cleanup may remove it.
const StagedImageMaxAge = 24 * time.Hour
