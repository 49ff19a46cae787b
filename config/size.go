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
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/constants"
)

// ParseSize parses a human-readable size such as "512MiB" or "4 GB".
// A bare number is interpreted as MiB.
func ParseSize(s string) (uint64, error) {
	s = strings.TrimSpace(s)

	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n * constants.MiB, nil
	}

	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, errors.Wrapf(err, "parse size '%v'", s)
	}

	return n, nil
}

func FormatSize(n uint64) string {
	return humanize.IBytes(n)
}
