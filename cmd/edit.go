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

	"github.com/spf13/cobra"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/data"
	"github.com/vmdesk/vmdesk/settings"
)

// submitForm applies the command line edits and then saves the form, or
// cancels it if discard is set or the edits fail. The returned value is the
// exit code.
func submitForm(ctrl *data.Controller, f *settings.Form, discard bool) int {
	err := applyFormFlags(f)
	if err != nil {
		slog.Error("Failed to apply settings", "error", err.Error())
		cancelForm(ctrl, f)
		return 1
	}

	if discard {
		cancelForm(ctrl, f)
		fmt.Println("Changes discarded.")
		return 0
	}

	task, err := f.Save()
	if err != nil {
		slog.Error("Failed to submit save", "error", err.Error())
		return 1
	}

	err = waitTask(ctrl, task)
	if err != nil {
		// Already reported by the controller. Dismiss the form so that
		// drives staged for a draft are cleaned up.
		cancelForm(ctrl, f)
		return 1
	}

	m := f.Machine()
	fmt.Printf("Saved '%v' (%v).\n", m.Name(), m.ID())

	return 0
}

func cancelForm(ctrl *data.Controller, f *settings.Form) {
	task, err := f.Cancel()
	if err != nil {
		slog.Warn("Failed to cancel settings form", "error", err.Error())
		return
	}

	if task != nil {
		// Failures are reported by the controller.
		_ = waitTask(ctrl, task)
	}
}

var createCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new virtual machine.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWithController(func(ctrl *data.Controller) int {
			cfg, err := config.New(config.Backend(createBackendFlag), args[0])
			if err != nil {
				slog.Error("Failed to create configuration", "error", err.Error())
				return 1
			}

			f, err := settings.NewForm(slog.With("caller", "settings"), ctrl, cfg, nil)
			if err != nil {
				slog.Error("Failed to open settings form", "error", err.Error())
				return 1
			}

			return submitForm(ctrl, f, false)
		}))
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <name or id>",
	Short: "Edit the settings of a virtual machine.",
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

			return submitForm(ctrl, f, editDiscardFlag)
		}))
	},
}

var createBackendFlag string
var editDiscardFlag bool

func init() {
	createCmd.Flags().StringVarP(&createBackendFlag, "backend", "b", string(config.BackendQEMU), `Specifies the virtual machine backend, "qemu" or "native".`)
	initFormFlags(createCmd.Flags())

	editCmd.Flags().BoolVar(&editDiscardFlag, "discard", false, "Discards the edits instead of saving them. Useful to check that the edits are accepted.")
	initFormFlags(editCmd.Flags())
}
