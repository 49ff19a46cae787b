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

package utils

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/acarl005/stripansi"
)

func ClearUnprintableChars(s string, allowNewlines bool) string {
	// This will remove ANSI color codes.
	s = stripansi.Strip(s)

	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || (allowNewlines && r == '\n') {
			return r
		}
		return -1
	}, s)
}

// NormalizeName strips escape sequences and unprintable characters from
// a user-supplied display name and trims surrounding whitespace.
func NormalizeName(s string) string {
	return strings.TrimSpace(ClearUnprintableChars(s, false))
}

var tapNameRegexp = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{0,14}$`)

func ValidateTapName(s string) bool {
	return tapNameRegexp.MatchString(s)
}

var macAddressRegexp = regexp.MustCompile(`^([0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}$`)

func ValidateMACAddress(s string) bool {
	return macAddressRegexp.MatchString(s)
}

var qemuIdentRegexp = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+$`)

// ValidateQEMUIdent checks values that end up as bare QEMU option values,
// such as machine types, CPU models and device drivers.
func ValidateQEMUIdent(s string) bool {
	return qemuIdentRegexp.MatchString(s)
}
