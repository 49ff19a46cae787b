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

package qemucli

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/pkg/errors"
)

type ArgAcceptedValue string

const (
	ArgAcceptedValueUint     ArgAcceptedValue = "uint"
	ArgAcceptedValueString   ArgAcceptedValue = "string"
	ArgAcceptedValueKeyValue ArgAcceptedValue = "kv"
	ArgAcceptedValueNone     ArgAcceptedValue = "none"
)

// Only the options listed here can be produced. Anything else
// is rejected at arg construction time.
var safeArgs = map[string]ArgAcceptedValue{
	"name":       ArgAcceptedValueString,
	"uuid":       ArgAcceptedValueString,
	"accel":      ArgAcceptedValueKeyValue,
	"machine":    ArgAcceptedValueKeyValue,
	"cpu":        ArgAcceptedValueString,
	"smp":        ArgAcceptedValueUint,
	"m":          ArgAcceptedValueUint,
	"bios":       ArgAcceptedValueString,
	"boot":       ArgAcceptedValueString,
	"device":     ArgAcceptedValueKeyValue,
	"netdev":     ArgAcceptedValueKeyValue,
	"drive":      ArgAcceptedValueKeyValue,
	"virtfs":     ArgAcceptedValueKeyValue,
	"vnc":        ArgAcceptedValueKeyValue,
	"display":    ArgAcceptedValueString,
	"serial":     ArgAcceptedValueString,
	"nodefaults": ArgAcceptedValueNone,
}

type Arg interface {
	StringKey() string
	StringValue() string
	ValueType() ArgAcceptedValue
}

// EncodeArgs converts args into an argv slice suitable for exec.Command.
func EncodeArgs(args []Arg) ([]string, error) {
	var cmdArgs []string

	for i, arg := range args {
		flag, value, err := EncodeArg(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "encode arg #%v", i)
		}

		cmdArgs = append(cmdArgs, flag)
		if value != nil {
			cmdArgs = append(cmdArgs, *value)
		}
	}

	return cmdArgs, nil
}

func EncodeArg(a Arg) (string, *string, error) {
	// We're making copies because we don't want to trust
	// that Arg always returns the same value.
	argKey := a.StringKey()
	argValueType := a.ValueType()

	err := validateArgKey(argKey, argValueType)
	if err != nil {
		return "", nil, errors.Wrap(err, "validate arg key")
	}

	if argValueType == ArgAcceptedValueNone {
		if a.StringValue() != "" {
			return "", nil, fmt.Errorf("arg returned a value while declaring no value (type %v)", reflect.TypeOf(a))
		}

		return "-" + argKey, nil, nil
	}

	argValueStr := a.StringValue()
	if argValueStr == "" {
		return "", nil, fmt.Errorf("empty string value while declaring non-empty value (type %v)", reflect.TypeOf(a))
	}

	return "-" + argKey, &argValueStr, nil
}

// FormatCommand renders a shell-safe command line for display purposes.
func FormatCommand(bin string, argv []string) string {
	sb := new(strings.Builder)
	sb.WriteString(shellescape.Quote(bin))

	for _, v := range argv {
		sb.WriteString(" ")
		sb.WriteString(shellescape.Quote(v))
	}

	return sb.String()
}

func validateArgKey(key string, t ArgAcceptedValue) error {
	allowedValue, ok := safeArgs[key]
	if !ok {
		return fmt.Errorf("unknown safe arg '%v'", key)
	}

	if want, have := allowedValue, t; want != have {
		return fmt.Errorf("bad arg value type: want '%v', have '%v'", want, have)
	}

	return nil
}

func validateArgStrValue(s string) error {
	if strings.Contains(s, ",") {
		return fmt.Errorf("commas are not allowed")
	}

	return nil
}
