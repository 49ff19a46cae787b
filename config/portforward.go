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

package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type PortForward struct {
	Protocol  string `yaml:"protocol"`
	HostIP    string `yaml:"hostIP,omitempty"`
	HostPort  uint16 `yaml:"hostPort"` // Zero means "pick a free port".
	GuestPort uint16 `yaml:"guestPort"`
}

func (pf PortForward) String() string {
	host := pf.HostIP
	if host == "" {
		host = "*"
	}

	return pf.Protocol + ":" + host + ":" + strconv.FormatUint(uint64(pf.HostPort), 10) + "->" + strconv.FormatUint(uint64(pf.GuestPort), 10)
}

func (pf PortForward) validate() error {
	if pf.Protocol != "tcp" && pf.Protocol != "udp" {
		return fmt.Errorf("bad protocol '%v'", pf.Protocol)
	}

	if pf.HostIP != "" && net.ParseIP(pf.HostIP) == nil {
		return fmt.Errorf("bad host ip '%v'", pf.HostIP)
	}

	if pf.GuestPort == 0 {
		return fmt.Errorf("guest port cannot be zero")
	}

	return nil
}

// ParsePortForward accepts "[tcp|udp/]<HOST PORT>:<VM PORT>" and
// "[tcp|udp/]<HOST IP>:<HOST PORT>:<VM PORT>".
func ParsePortForward(s string) (PortForward, error) {
	proto := "tcp"
	if p, rest, ok := strings.Cut(s, "/"); ok {
		proto = p
		s = rest
	}

	split := strings.Split(s, ":")

	var pf PortForward
	switch len(split) {
	case 2:
		// <HOST PORT>:<VM PORT>
	case 3:
		// <HOST IP>:<HOST PORT>:<VM PORT>
		hostIP := net.ParseIP(split[0])
		if hostIP == nil {
			return PortForward{}, fmt.Errorf("bad host ip '%v'", split[0])
		}

		pf.HostIP = hostIP.String()
		split = split[1:]
	default:
		return PortForward{}, fmt.Errorf("bad split by ':' length: want 2 or 3, have %v", len(split))
	}

	hostPort, err := strconv.ParseUint(split[0], 10, 16)
	if err != nil {
		return PortForward{}, errors.Wrap(err, "parse host port")
	}

	vmPort, err := strconv.ParseUint(split[1], 10, 16)
	if err != nil {
		return PortForward{}, errors.Wrap(err, "parse vm port")
	}

	pf.Protocol = proto
	pf.HostPort = uint16(hostPort)
	pf.GuestPort = uint16(vmPort)

	err = pf.validate()
	if err != nil {
		return PortForward{}, err
	}

	return pf, nil
}
