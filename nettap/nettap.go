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

// Package nettap allocates host-side identities for virtual network
// interfaces: tap device names for bridged QEMU networks and MAC addresses.
package nettap

import (
	"crypto/rand"
	"fmt"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/utils"
)

const (
	tapNamePrefix = "vmdtap"
	maxTaps       = 1000
)

var ErrNoFreeTapName = errors.New("no free tap name")

// NewUniqueTapName returns the lowest-numbered tap name not present in taken.
func NewUniqueTapName(taken []string) (string, error) {
	used := make(map[string]struct{}, len(taken))
	for _, name := range taken {
		used[name] = struct{}{}
	}

	for i := 0; i < maxTaps; i++ {
		name := tapNamePrefix + strconv.Itoa(i)
		if _, ok := used[name]; ok {
			continue
		}

		if !utils.ValidateTapName(name) {
			return "", fmt.Errorf("generated bad tap name '%v'", name)
		}

		return name, nil
	}

	return "", ErrNoFreeTapName
}

// GenerateMAC returns a random MAC address in QEMU's 52:54:00 range.
func GenerateMAC() (string, error) {
	mac := net.HardwareAddr{0x52, 0x54, 0x00, 0, 0, 0}

	_, err := rand.Read(mac[3:])
	if err != nil {
		return "", errors.Wrap(err, "random read")
	}

	return mac.String(), nil
}
