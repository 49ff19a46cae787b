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

package settings

import (
	"fmt"
	"strconv"

	"github.com/vmdesk/vmdesk/config"
)

func nativeSections(cfg *config.Native) []Section {
	sys := &cfg.System
	virt := &cfg.Virtualization

	sections := []Section{
		informationSection(&cfg.Information),
		{
			Title: "System",
			Fields: []Field{
				intField("system.cpu-count", "CPU cores", &sys.CPUCount),
				sizeField("system.memory", "Memory", &sys.MemorySize),
				choiceField("system.boot-loader", "Boot loader", &sys.BootLoader, config.BootLoaderLinux, config.BootLoaderEFI, config.BootLoaderMacOS),
				textField("system.kernel", "Linux kernel", &sys.KernelPath),
				textField("system.initrd", "Linux initial ramdisk", &sys.InitrdPath),
				textField("system.command-line", "Boot arguments", &sys.CommandLine),
			},
		},
		{
			Title: "Virtualization",
			Fields: []Field{
				boolField("virtualization.balloon", "Enable balloon device", &virt.Balloon),
				boolField("virtualization.entropy", "Enable entropy device", &virt.Entropy),
				boolField("virtualization.keyboard", "Enable keyboard", &virt.Keyboard),
				boolField("virtualization.pointer", "Enable pointer", &virt.Pointer),
				boolField("virtualization.rosetta", "Enable Rosetta", &virt.Rosetta),
			},
		},
	}

	for i := range cfg.SharedDirectories {
		sd := &cfg.SharedDirectories[i]
		prefix := "share." + strconv.Itoa(i) + "."

		sections = append(sections, Section{
			Title: fmt.Sprintf("Shared directory #%v", i),
			Fields: []Field{
				textField(prefix+"path", "Path", &sd.Path),
				textField(prefix+"tag", "Mount tag", &sd.Tag),
				boolField(prefix+"read-only", "Read only", &sd.ReadOnly),
			},
		})
	}

	for i := range cfg.Displays {
		d := &cfg.Displays[i]
		prefix := "display." + strconv.Itoa(i) + "."

		sections = append(sections, Section{
			Title: fmt.Sprintf("Display #%v", i),
			Fields: []Field{
				intField(prefix+"width", "Width", &d.Width),
				intField(prefix+"height", "Height", &d.Height),
				intField(prefix+"ppi", "Pixels per inch", &d.PPI),
			},
		})
	}

	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		prefix := "network." + strconv.Itoa(i) + "."

		sections = append(sections, Section{
			Title: fmt.Sprintf("Network #%v", i),
			Fields: []Field{
				choiceField(prefix+"mode", "Network mode", &n.Mode, config.NativeNetworkModeNAT, config.NativeNetworkModeBridged),
				textField(prefix+"mac", "MAC address", &n.MACAddress),
				textField(prefix+"bridge-interface", "Bridged interface", &n.BridgeInterface),
			},
		})
	}

	return append(sections, drivesSections(cfg)...)
}
