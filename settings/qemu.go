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
	"strings"

	"github.com/vmdesk/vmdesk/config"
)

func qemuSections(cfg *config.QEMU) []Section {
	sys := &cfg.System
	disp := &cfg.Display

	sections := []Section{
		informationSection(&cfg.Information),
		{
			Title: "System",
			Fields: []Field{
				choiceField("system.architecture", "Architecture", &sys.Architecture, "x86_64", "aarch64"),
				textField("system.target", "Machine target", &sys.Target),
				textField("system.cpu", "CPU model", &sys.CPU),
				intField("system.cpu-count", "CPU cores", &sys.CPUCount),
				sizeField("system.memory", "Memory", &sys.MemorySize),
				boolField("system.uefi-boot", "UEFI boot", &sys.UEFIBoot),
				boolField("system.hypervisor", "Use hypervisor", &sys.Hypervisor),
				boolField("system.rng-device", "RNG device", &sys.RNGDevice),
				textField("system.bios-path", "BIOS path", &sys.BIOSPath),
			},
		},
		{
			Title: "Display",
			Fields: []Field{
				textField("display.hardware", "Emulated display card", &disp.Hardware),
				boolField("display.vnc", "VNC server", &disp.VNC),
				intField("display.vnc-display", "VNC display number", &disp.VNCDisplay),
				textField("display.vnc-password", "VNC password", &disp.VNCPassword),
			},
		},
	}

	for i := range cfg.Networks {
		n := &cfg.Networks[i]
		prefix := "network." + strconv.Itoa(i) + "."

		sections = append(sections, Section{
			Title: fmt.Sprintf("Network #%v", i),
			Fields: []Field{
				choiceField(prefix+"mode", "Network mode", &n.Mode, config.QEMUNetworkModeEmulated, config.QEMUNetworkModeBridged),
				textField(prefix+"hardware", "Emulated network card", &n.Hardware),
				textField(prefix+"mac", "MAC address", &n.MACAddress),
				textField(prefix+"bridge-interface", "Tap interface", &n.BridgeInterface),
				portForwardsField(prefix+"port-forwards", "Port forwards", &n.PortForwards),
			},
		})
	}

	sections = append(sections, drivesSections(cfg)...)

	sections = append(sections, Section{
		Title: "Sharing",
		Fields: []Field{
			textField("sharing.directory", "Shared directory", &cfg.Sharing.DirectoryShare),
			boolField("sharing.read-only", "Read only", &cfg.Sharing.ReadOnly),
		},
	})

	return sections
}

func formatPortForward(pf config.PortForward) string {
	s := pf.Protocol + "/"
	if pf.HostIP != "" {
		s += pf.HostIP + ":"
	}

	return s + strconv.FormatUint(uint64(pf.HostPort), 10) + ":" + strconv.FormatUint(uint64(pf.GuestPort), 10)
}

// portForwardsField edits a comma-separated list of port forwards.
func portForwardsField(key string, label string, p *[]config.PortForward) Field {
	return Field{
		Key:   key,
		Label: label,
		get: func() string {
			items := make([]string, len(*p))
			for i, pf := range *p {
				items[i] = formatPortForward(pf)
			}

			return strings.Join(items, ", ")
		},
		set: func(v string) error {
			var pfs []config.PortForward

			for _, item := range strings.Split(v, ",") {
				item = strings.TrimSpace(item)
				if item == "" {
					continue
				}

				pf, err := config.ParsePortForward(item)
				if err != nil {
					return invalidValue(item, err.Error())
				}

				pfs = append(pfs, pf)
			}

			*p = pfs

			return nil
		},
	}
}
