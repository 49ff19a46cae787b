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

package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmdesk/vmdesk/config"
	"github.com/vmdesk/vmdesk/constants"
)

func TestDefaultsValidate(t *testing.T) {
	assert.NoError(t, config.NewQEMU("Alpine").Validate())
	assert.NoError(t, config.NewNative("Ubuntu").Validate())
}

func TestNewUnknownBackend(t *testing.T) {
	_, err := config.New("bhyve", "x")
	assert.ErrorIs(t, err, config.ErrUnknownBackend)
}

func TestQEMUValidate(t *testing.T) {
	t.Run("empty name", func(t *testing.T) {
		c := config.NewQEMU("")
		assert.ErrorIs(t, c.Validate(), config.ErrInvalidName)
	})

	t.Run("control characters in name", func(t *testing.T) {
		c := config.NewQEMU("bad\x1b[31mname")
		assert.ErrorIs(t, c.Validate(), config.ErrInvalidName)
	})

	t.Run("low memory", func(t *testing.T) {
		c := config.NewQEMU("vm")
		c.System.MemorySize = constants.MiB
		assert.Error(t, c.Validate())
	})

	t.Run("comma in cpu model", func(t *testing.T) {
		c := config.NewQEMU("vm")
		c.System.CPU = "host,+aes"
		assert.Error(t, c.Validate())
	})

	t.Run("bridged without tap", func(t *testing.T) {
		c := config.NewQEMU("vm")
		c.Networks[0].Mode = config.QEMUNetworkModeBridged
		assert.Error(t, c.Validate())

		c.Networks[0].BridgeInterface = "tap0"
		assert.NoError(t, c.Validate())
	})

	t.Run("duplicate drive ids", func(t *testing.T) {
		c := config.NewQEMU("vm")
		d := config.NewDrive(config.DriveInterfaceVirtIO)
		d.ImageName = "a.img"
		c.Drives = []config.Drive{d, d}
		assert.Error(t, c.Validate())
	})

	t.Run("drive image outside bundle", func(t *testing.T) {
		c := config.NewQEMU("vm")
		d := config.NewDrive(config.DriveInterfaceVirtIO)
		d.ImageName = "../escape.img"
		c.Drives = []config.Drive{d}
		assert.Error(t, c.Validate())
	})

	t.Run("removable drive without image", func(t *testing.T) {
		c := config.NewQEMU("vm")
		d := config.NewDrive(config.DriveInterfaceUSB)
		d.Removable = true
		c.Drives = []config.Drive{d}
		assert.NoError(t, c.Validate())
	})
}

func TestNativeValidate(t *testing.T) {
	c := config.NewNative("vm")
	c.System.BootLoader = config.BootLoaderLinux
	assert.Error(t, c.Validate())

	c.System.KernelPath = "/boot/vmlinuz"
	assert.NoError(t, c.Validate())

	c.Drives = []config.Drive{{ID: "not-a-uuid", Interface: config.DriveInterfaceVirtIO, ImageName: "a.img"}}
	assert.Error(t, c.Validate())

	// IDE is a QEMU-only interface.
	d := config.NewDrive(config.DriveInterfaceIDE)
	d.ImageName = "a.img"
	c.Drives = []config.Drive{d}
	assert.Error(t, c.Validate())
}

func TestCloneIsIndependent(t *testing.T) {
	orig := config.NewQEMU("vm")
	orig.Networks[0].PortForwards = []config.PortForward{{Protocol: "tcp", HostPort: 2222, GuestPort: 22}}

	cp := orig.Clone().(*config.QEMU)
	cp.Information.Name = "other"
	cp.Networks[0].PortForwards[0].HostPort = 1
	cp.Networks = append(cp.Networks, config.QEMUNetwork{})

	assert.Equal(t, "vm", orig.Information.Name)
	assert.Equal(t, uint16(2222), orig.Networks[0].PortForwards[0].HostPort)
	assert.Len(t, orig.Networks, 1)
}

func TestEnsureVNCPassword(t *testing.T) {
	c := config.NewQEMU("vm")
	require.NoError(t, c.EnsureVNCPassword())
	assert.Empty(t, c.Display.VNCPassword)

	c.Display.VNC = true
	require.NoError(t, c.EnsureVNCPassword())
	assert.Len(t, c.Display.VNCPassword, constants.VNCPasswordLength)

	prev := c.Display.VNCPassword
	require.NoError(t, c.EnsureVNCPassword())
	assert.Equal(t, prev, c.Display.VNCPassword)
}

func TestParsePortForward(t *testing.T) {
	pf, err := config.ParsePortForward("2222:22")
	require.NoError(t, err)
	assert.Equal(t, config.PortForward{Protocol: "tcp", HostPort: 2222, GuestPort: 22}, pf)

	pf, err = config.ParsePortForward("udp/127.0.0.1:5353:53")
	require.NoError(t, err)
	assert.Equal(t, config.PortForward{Protocol: "udp", HostIP: "127.0.0.1", HostPort: 5353, GuestPort: 53}, pf)

	for _, bad := range []string{"22", "a:22", "1:2:3:4", "nothost:1:2", "sctp/1:2", "1:0", "70000:22"} {
		_, err := config.ParsePortForward(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseSize(t *testing.T) {
	n, err := config.ParseSize("2048")
	require.NoError(t, err)
	assert.Equal(t, uint64(2*constants.GiB), n)

	n, err = config.ParseSize("4 GiB")
	require.NoError(t, err)
	assert.Equal(t, uint64(4*constants.GiB), n)

	_, err = config.ParseSize("lots")
	assert.Error(t, err)

	assert.Equal(t, "512 MiB", config.FormatSize(512*constants.MiB))
}
