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
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vmdesk",
	Short: "Manage QEMU and native-hypervisor virtual machine configurations.",
	Long: `Vmdesk keeps a library of virtual machine bundles and lets you create, edit, inspect and remove them. ` +
		`Every change goes through a settings form that is either saved as a whole or discarded, and only one operation ` +
		`on the library runs at a time.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debugFlag {
			level = slog.LevelDebug
		}

		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

var dataDirFlag string
var debugFlag bool

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".vmdesk"
	}

	return filepath.Join(dir, "vmdesk")
}

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(argsCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(copyrightCmd)

	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", defaultDataDir(), "Specifies the directory that holds the virtual machine library.")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false, "Enables debug logging.")
}
