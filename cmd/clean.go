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
	"context"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vmdesk/vmdesk/data"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stale drive images left behind by interrupted edits.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			task, err := ctrl.BusyWorkAsync("clean", func(ctx context.Context) error {
				return ctrl.DiscardChanges(ctx, nil)
			})
			if err != nil {
				slog.Error("Failed to submit clean", "error", err.Error())
				return 1
			}

			err = waitTask(ctrl, task)
			if err != nil {
				return 1
			}

			slog.Info("Cleaned staging area", "data-dir", dataDirFlag)

			return 0
		}))
	},
}
