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

package data

import (
	"log/slog"

	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/osspecifics"
)

func warnHostCapacity(logger *slog.Logger, cfg config.Configuration) {
	var cpus int
	var mem uint64

	switch c := cfg.(type) {
	case *config.QEMU:
		cpus, mem = c.System.CPUCount, c.System.MemorySize
	case *config.Native:
		cpus, mem = c.System.CPUCount, c.System.MemorySize

		if !osspecifics.SupportsNativeHypervisor() {
			logger.Warn("Native hypervisor machines can only run on macOS hosts", "name", c.Information.Name)
		}
	}

	host, err := osspecifics.GetHostResources()
	if err != nil {
		logger.Warn("Failed to get host resources", "error", err.Error())
		return
	}

	if mem > host.MemoryTotal {
		logger.Warn("Memory allocation exceeds host memory", "allocated", config.FormatSize(mem), "host", config.FormatSize(host.MemoryTotal))
	}

	if cpus > host.CPUCount {
		logger.Warn("CPU count exceeds host logical CPUs", "allocated", cpus, "host", host.CPUCount)
	}
}
