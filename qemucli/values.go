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
	"strings"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/utils"
	"golang.org/x/exp/constraints"
)

type FlagArg struct {
	key string
}

func MustNewFlagArg(key string) *FlagArg {
	a, err := NewFlagArg(key)
	if err != nil {
		panic(err)
	}

	return a
}

func NewFlagArg(key string) (*FlagArg, error) {
	a := &FlagArg{key: key}

	err := validateArgKey(a.key, a.ValueType())
	if err != nil {
		return nil, errors.Wrap(err, "validate arg key")
	}

	return a, nil
}

func (a *FlagArg) StringKey() string { return a.key }

// Boolean flags have no value.
func (a *FlagArg) StringValue() string { return "" }

func (a *FlagArg) ValueType() ArgAcceptedValue { return ArgAcceptedValueNone }

type StringArg struct {
	key   string
	value string
}

func MustNewStringArg(key string, value string) *StringArg {
	a, err := NewStringArg(key, value)
	if err != nil {
		panic(err)
	}

	return a
}

func NewStringArg(key string, value string) (*StringArg, error) {
	a := &StringArg{
		key:   key,
		value: value,
	}

	err := validateArgKey(a.key, a.ValueType())
	if err != nil {
		return nil, errors.Wrap(err, "validate arg key")
	}

	err = validateArgStrValue(a.value)
	if err != nil {
		return nil, errors.Wrap(err, "validate str value")
	}

	return a, nil
}

func (a *StringArg) StringKey() string { return a.key }

func (a *StringArg) StringValue() string { return a.value }

func (a *StringArg) ValueType() ArgAcceptedValue { return ArgAcceptedValueString }

type UintArg struct {
	key   string
	value uint64
}

func MustNewUintArg[T constraints.Integer](key string, value T) *UintArg {
	if value < 0 {
		panic(fmt.Sprintf("negative value for uint arg '%v'", key))
	}

	a, err := NewUintArg(key, uint64(value))
	if err != nil {
		panic(err)
	}

	return a
}

func NewUintArg(key string, value uint64) (*UintArg, error) {
	a := &UintArg{
		key:   key,
		value: value,
	}

	err := validateArgKey(key, a.ValueType())
	if err != nil {
		return nil, errors.Wrap(err, "validate arg key")
	}

	return a, nil
}

func (a *UintArg) StringKey() string { return a.key }

func (a *UintArg) StringValue() string { return utils.UintToStr(a.value) }

func (a *UintArg) ValueType() ArgAcceptedValue { return ArgAcceptedValueUint }

type KeyValueArgItem struct {
	Key   string
	Value string
}

// KeyValueArg produces QEMU's "key=value,key2=value2" option syntax. An item
// with an empty value is emitted as a bare key, which is how QEMU expects
// the leading positional part of options like "-accel kvm" or "-vnc :1".
type KeyValueArg struct {
	key   string
	items []KeyValueArgItem
}

func MustNewKeyValueArg(key string, items []KeyValueArgItem) *KeyValueArg {
	a, err := NewKeyValueArg(key, items)
	if err != nil {
		panic(err)
	}

	return a
}

func NewKeyValueArg(key string, items []KeyValueArgItem) (*KeyValueArg, error) {
	a := &KeyValueArg{
		key: key,
		// Copied so that the caller can't alter the items after validation.
		items: make([]KeyValueArgItem, len(items)),
	}

	err := validateArgKey(key, a.ValueType())
	if err != nil {
		return nil, errors.Wrap(err, "validate arg key")
	}

	if len(items) == 0 {
		return nil, fmt.Errorf("no items for key-value arg '%v'", key)
	}

	for i, item := range items {
		if len(item.Key) == 0 {
			return nil, fmt.Errorf("empty key not allowed (item #%v)", i)
		}

		err := validateArgStrValue(item.Key)
		if err != nil {
			return nil, errors.Wrapf(err, "validate key '%v'", item.Key)
		}

		if strings.Contains(item.Key, "=") {
			return nil, fmt.Errorf("key '%v' contains '='", item.Key)
		}

		err = validateArgStrValue(item.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "validate value of key '%v'", item.Key)
		}

		a.items[i] = item
	}

	return a, nil
}

func (a *KeyValueArg) StringKey() string { return a.key }

func (a *KeyValueArg) StringValue() string {
	parts := make([]string, 0, len(a.items))
	for _, item := range a.items {
		if item.Value == "" {
			parts = append(parts, item.Key)
			continue
		}

		parts = append(parts, item.Key+"="+item.Value)
	}

	return strings.Join(parts, ",")
}

func (a *KeyValueArg) ValueType() ArgAcceptedValue { return ArgAcceptedValueKeyValue }
