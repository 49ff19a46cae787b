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

package cmd

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/data"
	"github.com/vmdesk/vmdesk/utils"
)

var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List all virtual machines in the library.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			machines := ctrl.Machines()
			if len(machines) == 0 {
				fmt.Println("<no virtual machines>")
				return 0
			}

			lines := []string{"NAME | ID | BACKEND | CPUS | MEMORY | DRIVES | DISK"}

			for _, m := range machines {
				var cpus int
				var mem uint64

				cfg := m.Saved()
				switch cfg := cfg.(type) {
				case *config.QEMU:
					cpus, mem = cfg.System.CPUCount, cfg.System.MemorySize
				case *config.Native:
					cpus, mem = cfg.System.CPUCount, cfg.System.MemorySize
				}

				var disk uint64
				for _, d := range cfg.DriveList() {
					disk += d.SizeBytes
				}

				lines = append(lines, fmt.Sprintf("%v | %v | %v | %v | %v | %v | %v",
					m.Name(), m.ID()[:8], m.Backend(), utils.IntToStr(cpus), humanize.IBytes(mem), len(cfg.DriveList()), humanize.IBytes(disk)))
			}

			fmt.Println(columnize.SimpleFormat(lines))

			return 0
		}))
	},
}
