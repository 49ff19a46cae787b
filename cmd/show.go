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
	"log/slog"
	"os"

	"github.com/ryanuber/columnize"
	"github.com/spf13/cobra"
	"github.com/vmdesk/vmdesk/data"
	"github.com/vmdesk/vmdesk/qemucli"
	"github.com/vmdesk/vmdesk/settings"
	"github.com/vmdesk/vmdesk/vm"
)

var showCmd = &cobra.Command{
	Use:   "show <name or id>",
	Short: "Show the settings of a virtual machine along with the keys accepted by --set.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			m := findMachine(ctrl, args[0])
			if m == nil {
				return 1
			}

			f, err := settings.NewForm(slog.With("caller", "settings"), ctrl, nil, m)
			if err != nil {
				slog.Error("Failed to open settings form", "error", err.Error())
				return 1
			}

			ed, err := f.Editor()
			if err != nil {
				slog.Error("Failed to render settings", "error", err.Error())
				return 1
			}

			fmt.Printf("%v (%v machine)\n", m.Name(), ed.Kind)

			for _, s := range ed.Sections {
				lines := []string{"KEY | SETTING | VALUE"}
				for _, field := range s.Fields {
					value := field.Value()
					if field.ReadOnly() {
						value += " (read-only)"
					}

					lines = append(lines, field.Key+" | "+field.Label+" | "+value)
				}

				fmt.Printf("\n[%v]\n%v\n", s.Title, columnize.SimpleFormat(lines))
			}

			return 0
		}))
	},
}

var argsCmd = &cobra.Command{
	Use:   "args <name or id>",
	Short: "Print the QEMU command line of a QEMU virtual machine.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			m := findMachine(ctrl, args[0])
			if m == nil {
				return 1
			}

			bin, argv, err := vm.BuildQEMUCommand(slog.With("caller", "vm"), m)
			if err != nil {
				slog.Error("Failed to build QEMU command", "error", err.Error())
				return 1
			}

			fmt.Println(qemucli.FormatCommand(bin, argv))

			return 0
		}))
	},
}
