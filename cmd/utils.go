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
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vmdesk/vmdesk/busy"
	"github.com/vmdesk/vmdesk/data"
	"github.com/vmdesk/vmdesk/storage"
	"github.com/vmdesk/vmdesk/vm"
	"golang.org/x/term"
)

func createStore() *storage.Storage {
	store, err := storage.NewStorage(slog.With("caller", "storage"), dataDirFlag)
	if err != nil {
		slog.Error("Failed to create Vmdesk data storage", "error", err.Error(), "data-dir", dataDirFlag)
		os.Exit(1)
	}

	return store
}

// runWithController opens the library, runs fn and closes the library once
// in-flight work has finished. The returned value is the exit code.
func runWithController(fn func(ctrl *data.Controller) int) int {
	store := createStore()
	defer func() {
		err := store.Close()
		if err != nil {
			slog.Warn("Failed to close data storage", "error", err.Error())
		}
	}()

	ctrl, err := data.NewController(slog.With("caller", "data"), store)
	if err != nil {
		slog.Error("Failed to load virtual machine library", "error", err.Error())
		return 1
	}
	defer ctrl.Close()

	return fn(ctrl)
}

func findMachine(ctrl *data.Controller, nameOrID string) *vm.Machine {
	m, err := ctrl.Find(nameOrID)
	if err != nil {
		slog.Error("Failed to find virtual machine", "error", err.Error())
		return nil
	}

	return m
}

// waitTask blocks until task completes. While it is pending, a status line
// is shown on an interactive stderr.
func waitTask(ctrl *data.Controller, task *busy.Task) error {
	overlay := term.IsTerminal(int(os.Stderr.Fd()))

	updates, unsubscribe := ctrl.Subscribe()
	defer unsubscribe()

	interrupt := make(chan os.Signal, 2)
	signal.Notify(interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Reset()

	for i := 0; ; {
		select {
		case snap := <-updates:
			if overlay && snap.State == busy.StatePending {
				fmt.Fprintf(os.Stderr, "\r\033[K%v...", snap.Operation)
			}
		case sig := <-interrupt:
			lg := slog.With("signal", sig)

			i++
			if i < 10 {
				lg.Warn("Caught interrupt, waiting for the running operation to finish. Interrupt n more times to panic", "n", 10-i, "operation", task.Name())
			} else {
				panic("force interrupt")
			}
		case <-task.Done():
			if overlay {
				fmt.Fprint(os.Stderr, "\r\033[K")
			}

			return task.Wait(context.Background())
		}
	}
}
