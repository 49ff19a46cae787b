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
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
	"github.com/vmdesk/vmdesk/settings"
)

var (
	formSetFlag           []string
	formAddDriveFlag      []string
	formRemoveDriveFlag   []string
	formAddNetworkFlag    int
	formRemoveNetworkFlag []int
	formShareFlag         []string
)

func initFormFlags(flags *pflag.FlagSet) {
	flags.StringArrayVarP(&formSetFlag, "set", "s", nil, `Sets a settings field, in "<key>=<value>" format. Run "vmdesk show" to list the available keys. Can be specified multiple times.`)
	flags.StringArrayVar(&formAddDriveFlag, "add-drive", nil, `Attaches a drive, in "<interface>[:<size>]" format. Use "cdrom" as the size to attach an empty removable drive. Can be specified multiple times.`)
	flags.StringArrayVar(&formRemoveDriveFlag, "remove-drive", nil, "Detaches a drive by its ID. Can be specified multiple times.")
	flags.IntVar(&formAddNetworkFlag, "add-networks", 0, "Adds the given number of network interfaces with default settings.")
	flags.IntSliceVar(&formRemoveNetworkFlag, "remove-network", nil, "Removes a network interface by its index.")
	flags.StringArrayVar(&formShareFlag, "share", nil, `Shares a host directory, in "<path>[:<tag>][:ro]" format. Can be specified multiple times.`)
}

// applyFormFlags performs the edits requested on the command line. Removals
// run before additions, and fields are set last so that they can address
// newly added drives and networks.
func applyFormFlags(f *settings.Form) error {
	removeNets := append([]int(nil), formRemoveNetworkFlag...)
	sort.Sort(sort.Reverse(sort.IntSlice(removeNets)))

	for _, i := range removeNets {
		err := f.RemoveNetwork(i)
		if err != nil {
			return errors.Wrapf(err, "remove network #%v", i)
		}
	}

	for _, id := range formRemoveDriveFlag {
		err := f.RemoveDrive(strings.ToUpper(id))
		if err != nil {
			return errors.Wrapf(err, "remove drive '%v'", id)
		}
	}

	for i := 0; i < formAddNetworkFlag; i++ {
		err := f.AddNetwork()
		if err != nil {
			return errors.Wrap(err, "add network")
		}
	}

	for _, val := range formAddDriveFlag {
		iface, size, removable, err := parseDriveArg(val)
		if err != nil {
			return err
		}

		d, err := f.AddDrive(iface, size, removable)
		if err != nil {
			return errors.Wrapf(err, "add drive '%v'", val)
		}

		fmt.Printf("Attached drive %v (%v).\n", d.ID, iface)
	}

	for _, val := range formShareFlag {
		path, tag, readOnly, err := parseShareArg(val)
		if err != nil {
			return err
		}

		err = f.AddSharedDirectory(path, tag, readOnly)
		if err != nil {
			return errors.Wrapf(err, "share '%v'", path)
		}
	}

	for _, kv := range formSetFlag {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("bad --set syntax '%v': want <key>=<value>", kv)
		}

		err := f.Set(strings.TrimSpace(key), value)
		if err != nil {
			return err
		}
	}

	return nil
}

func parseDriveArg(val string) (config.DriveInterface, uint64, bool, error) {
	ifaceStr, sizeStr, _ := strings.Cut(val, ":")
	iface := config.DriveInterface(strings.ToLower(ifaceStr))

	switch sizeStr {
	case "":
		return iface, constants.DefaultDriveSize, false, nil
	case "cdrom":
		return iface, 0, true, nil
	}

	size, err := config.ParseSize(sizeStr)
	if err != nil {
		return "", 0, false, errors.Wrapf(err, "parse drive argument '%v'", val)
	}

	return iface, size, false, nil
}

func parseShareArg(val string) (string, string, bool, error) {
	split := strings.Split(val, ":")

	readOnly := false
	if len(split) > 1 && split[len(split)-1] == "ro" {
		readOnly = true
		split = split[:len(split)-1]
	}

	switch len(split) {
	case 1:
		return split[0], "share", readOnly, nil
	case 2:
		return split[0], split[1], readOnly, nil
	default:
		return "", "", false, fmt.Errorf("bad share argument '%v': want <path>[:<tag>][:ro]", val)
	}
}
