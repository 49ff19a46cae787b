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
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vmdesk/vmdesk/data"
)

var rmCmd = &cobra.Command{
	Use:   "rm <name or id>",
	Short: "Permanently remove a virtual machine and its drive images.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			m := findMachine(ctrl, args[0])
			if m == nil {
				return 1
			}

			if !rmYesFlag {
				fmt.Fprintf(os.Stderr, "Will permanently remove '%v' (%v). Proceed? (y/n) > ", m.Name(), m.Path())

				reader := bufio.NewReader(os.Stdin)
				answer, err := reader.ReadString('\n')
				if err != nil {
					slog.Error("Failed to read answer", "error", err.Error())
					return 1
				}

				if strings.ToLower(strings.TrimSpace(answer)) != "y" {
					fmt.Fprintf(os.Stderr, "Aborted.\n")
					return 2
				}
			}

			task, err := ctrl.BusyWorkAsync("delete", func(ctx context.Context) error {
				return ctrl.Delete(ctx, m)
			})
			if err != nil {
				slog.Error("Failed to submit delete", "error", err.Error())
				return 1
			}

			err = waitTask(ctrl, task)
			if err != nil {
				return 1
			}

			slog.Info("Deleted virtual machine", "name", m.Name())

			return 0
		}))
	},
}

var rmYesFlag bool

func init() {
	rmCmd.Flags().BoolVarP(&rmYesFlag, "yes", "y", false, "Do not ask for confirmation.")
}
