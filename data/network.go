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

package data

import (
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/nettap"
	"github.com/vmdesk/vmdesk/vm"
)

// assignNetworkDefaults gives every network without a MAC address a random
// one, and every bridged QEMU network without a tap device a name unused by
// the other machines.
func (c *Controller) assignNetworkDefaults(cfg config.Configuration, self *vm.Machine) error {
	switch cfg := cfg.(type) {
	case *config.QEMU:
		var taken []string
		for _, m := range c.Machines() {
			if m == self {
				continue
			}

			if q, ok := m.Saved().(*config.QEMU); ok {
				for _, n := range q.Networks {
					taken = append(taken, n.BridgeInterface)
				}
			}
		}
		for _, n := range cfg.Networks {
			taken = append(taken, n.BridgeInterface)
		}

		for i := range cfg.Networks {
			n := &cfg.Networks[i]

			if n.MACAddress == "" {
				mac, err := nettap.GenerateMAC()
				if err != nil {
					return errors.Wrapf(err, "generate mac for network #%v", i)
				}
				n.MACAddress = mac
			}

			if n.Mode == config.QEMUNetworkModeBridged && n.BridgeInterface == "" {
				tap, err := nettap.NewUniqueTapName(taken)
				if err != nil {
					return errors.Wrapf(err, "allocate tap for network #%v", i)
				}
				n.BridgeInterface = tap
				taken = append(taken, tap)

				c.logger.Info("Allocated tap device for bridged network", "name", cfg.Information.Name, "network", i, "tap", tap)
			}
		}
	case *config.Native:
		for i := range cfg.Networks {
			n := &cfg.Networks[i]

			if n.MACAddress == "" {
				mac, err := nettap.GenerateMAC()
				if err != nil {
					return errors.Wrapf(err, "generate mac for network #%v", i)
				}
				n.MACAddress = mac
			}
		}
	}

	return nil
}
