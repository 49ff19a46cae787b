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
	"bytes"
	"fmt"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/constants"
	"gopkg.in/yaml.v3"
)

type envelope struct {
	Version int     `yaml:"version"`
	Backend Backend `yaml:"backend"`
	QEMU    *QEMU   `yaml:"qemu,omitempty"`
	Native  *Native `yaml:"native,omitempty"`
}

func Marshal(cfg Configuration) ([]byte, error) {
	env := envelope{
		Version: constants.ConfigVersion,
	}

	switch c := cfg.(type) {
	case *QEMU:
		env.Backend = BackendQEMU
		env.QEMU = c
	case *Native:
		env.Backend = BackendNative
		env.Native = c
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "type %T", cfg)
	}

	buf := bytes.NewBuffer(nil)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)

	err := enc.Encode(env)
	if err != nil {
		return nil, errors.Wrap(err, "encode yaml")
	}

	err = enc.Close()
	if err != nil {
		return nil, errors.Wrap(err, "close yaml encoder")
	}

	return buf.Bytes(), nil
}

func Unmarshal(b []byte) (Configuration, error) {
	var env envelope

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	err := dec.Decode(&env)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	if env.Version < 1 || env.Version > constants.ConfigVersion {
		return nil, fmt.Errorf("unsupported configuration version %v (max %v)", env.Version, constants.ConfigVersion)
	}

	if env.QEMU != nil && env.Native != nil {
		return nil, fmt.Errorf("configuration carries both qemu and native sections")
	}

	switch env.Backend {
	case BackendQEMU:
		if env.QEMU == nil {
			return nil, fmt.Errorf("qemu backend without qemu section")
		}

		return env.QEMU, nil
	case BackendNative:
		if env.Native == nil {
			return nil, fmt.Errorf("native backend without native section")
		}

		return env.Native, nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "backend '%v'", env.Backend)
	}
}

// New returns the default configuration for a backend.
func New(backend Backend, name string) (Configuration, error) {
	switch backend {
	case BackendQEMU:
		return NewQEMU(name), nil
	case BackendNative:
		return NewNative(name), nil
	default:
		return nil, errors.Wrapf(ErrUnknownBackend, "backend '%v'", backend)
	}
}
