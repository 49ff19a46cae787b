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

package settings

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/utils"
	"golang.org/x/exp/slices"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrReadOnlyField = errors.New("read-only field")
	ErrInvalidValue  = errors.New("invalid value")
)

type Kind string

const (
	KindQEMU   Kind = "qemu"
	KindNative Kind = "native"
)

type Editor struct {
	Kind     Kind
	Sections []Section
}

type Section struct {
	Title  string
	Fields []Field
}

// Field is a single editable value. Getters and setters operate on the
// configuration the editor was rendered from.
type Field struct {
	Key   string
	Label string

	get func() string
	set func(string) error
}

func (f Field) Value() string {
	return f.get()
}

func (f Field) ReadOnly() bool {
	return f.set == nil
}

func (e *Editor) Field(key string) (Field, bool) {
	for _, s := range e.Sections {
		for _, f := range s.Fields {
			if f.Key == key {
				return f, true
			}
		}
	}

	return Field{}, false
}

func editorFor(cfg config.Configuration) (*Editor, error) {
	switch cfg := cfg.(type) {
	case *config.QEMU:
		return &Editor{Kind: KindQEMU, Sections: qemuSections(cfg)}, nil
	case *config.Native:
		return &Editor{Kind: KindNative, Sections: nativeSections(cfg)}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedConfiguration, "type %T", cfg)
	}
}

func invalidValue(value string, reason string) error {
	return errors.Wrapf(ErrInvalidValue, "'%v': %v", value, reason)
}

func informationSection(info *config.Information) Section {
	return Section{
		Title: "Information",
		Fields: []Field{
			{
				Key:   "name",
				Label: "Name",
				get:   func() string { return info.Name },
				set: func(v string) error {
					v = utils.NormalizeName(v)
					if v == "" {
						return invalidValue(v, "name cannot be empty")
					}

					info.Name = v

					return nil
				},
			},
			readOnlyField("uuid", "UUID", func() string { return info.UUID }),
			textField("notes", "Notes", &info.Notes),
			textField("icon", "Icon", &info.Icon),
		},
	}
}

func drivesSections(cfg config.Configuration) []Section {
	drives := cfg.DriveList()
	ifaces := config.DriveInterfacesFor(cfg.Backend())

	sections := make([]Section, 0, len(drives))
	for i := range drives {
		d := &drives[i]
		prefix := "drive." + strconv.Itoa(i) + "."

		image := func() string {
			switch {
			case d.IsStaged():
				return "(new)"
			case d.ImageName == "":
				return "(empty)"
			default:
				return d.ImageName
			}
		}

		sections = append(sections, Section{
			Title: fmt.Sprintf("Drive #%v", i),
			Fields: []Field{
				readOnlyField(prefix+"id", "ID", func() string { return d.ID }),
				readOnlyField(prefix+"image", "Image", image),
				readOnlyField(prefix+"size", "Size", func() string { return config.FormatSize(d.SizeBytes) }),
				choiceField(prefix+"interface", "Interface", &d.Interface, ifaces...),
				boolField(prefix+"read-only", "Read only", &d.ReadOnly),
			},
		})
	}

	return sections
}

func readOnlyField(key string, label string, get func() string) Field {
	return Field{Key: key, Label: label, get: get}
}

func textField(key string, label string, p *string) Field {
	return Field{
		Key:   key,
		Label: label,
		get:   func() string { return *p },
		set: func(v string) error {
			*p = strings.TrimSpace(v)
			return nil
		},
	}
}

func boolField(key string, label string, p *bool) Field {
	return Field{
		Key:   key,
		Label: label,
		get:   func() string { return strconv.FormatBool(*p) },
		set: func(v string) error {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return invalidValue(v, "expected a boolean")
			}

			*p = b

			return nil
		},
	}
}

func intField(key string, label string, p *int) Field {
	return Field{
		Key:   key,
		Label: label,
		get:   func() string { return strconv.Itoa(*p) },
		set: func(v string) error {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return invalidValue(v, "expected an integer")
			}

			*p = n

			return nil
		},
	}
}

func sizeField(key string, label string, p *uint64) Field {
	return Field{
		Key:   key,
		Label: label,
		get:   func() string { return config.FormatSize(*p) },
		set: func(v string) error {
			n, err := config.ParseSize(v)
			if err != nil {
				return invalidValue(v, err.Error())
			}

			*p = n

			return nil
		},
	}
}

func choiceField[T ~string](key string, label string, p *T, choices ...T) Field {
	return Field{
		Key:   key,
		Label: label,
		get:   func() string { return string(*p) },
		set: func(v string) error {
			c := T(strings.TrimSpace(v))
			if !slices.Contains(choices, c) {
				names := make([]string, len(choices))
				for i, c := range choices {
					names[i] = string(c)
				}

				return invalidValue(v, "expected one of "+strings.Join(names, ", "))
			}

			*p = c

			return nil
		},
	}
}
