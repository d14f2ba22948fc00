// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux

package virtio

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eliasnaur.com/volmem/pci"
)

// fakeSysfs creates a sysfs tree with a virtio network device whose
// BAR 4 is backed by a regular file.
func fakeSysfs(t *testing.T, a pci.Address) string {
	t.Helper()
	regs := make([]uint32, 64)
	regs[0x00/4] = 0x1041<<16 | vendorID
	regs[0x04/4] = 1 << 4 << 16
	regs[0x20/4] = 0xfe00000c
	regs[0x24/4] = 0x1
	regs[0x34/4] = 0x40
	regs[0x40/4] = _VIRTIO_PCI_CAP_COMMON_CFG<<24 | 16<<16 | 0x50<<8 | pci.CapIDVendor
	regs[0x44/4] = 4
	regs[0x4c/4] = 0x38
	regs[0x50/4] = _VIRTIO_PCI_CAP_NOTIFY_CFG<<24 | 20<<16 | pci.CapIDVendor
	regs[0x54/4] = 4
	regs[0x58/4] = 0x3000
	regs[0x5c/4] = 0x1000
	regs[0x60/4] = 4

	root := t.TempDir()
	dir := filepath.Join(root, "bus", "pci", "devices", a.String())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	config := make([]byte, len(regs)*4)
	for i, r := range regs {
		binary.LittleEndian.PutUint32(config[i*4:], r)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config"), config, 0o644))

	bar := make([]byte, 0x4000)
	// device_feature and num_queues.
	binary.LittleEndian.PutUint32(bar[0x04:], 0x30)
	binary.LittleEndian.PutUint16(bar[0x12:], 1)
	binary.LittleEndian.PutUint16(bar[0x18:], 64)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "resource4"), bar, 0o644))
	return root
}

func TestFindAndOpen(t *testing.T) {
	a := pci.Address{Device: 3}
	root := fakeSysfs(t, a)

	found, err := Find(root, 1)
	require.NoError(t, err)
	assert.Equal(t, a, found)

	_, err = Find(root, 16)
	assert.Error(t, err)

	d, err := Open(root, a)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x30)<<32|0x30, d.Features())
	assert.Equal(t, uint16(1), d.NumQueues())

	q, err := d.ConfigureQueue(0, 32, 0x1000, 0x2000, 0x3000, NoVector)
	require.NoError(t, err)
	assert.Equal(t, uint16(32), q.Size)
	q.Notify()
	require.NoError(t, d.Close())

	bar, err := os.ReadFile(pci.ResourcePath(root, a, 4))
	require.NoError(t, err)
	assert.Equal(t, uint16(32), binary.LittleEndian.Uint16(bar[0x18:]))
	assert.Equal(t, uint64(0x1000), binary.LittleEndian.Uint64(bar[0x20:]))
	assert.Equal(t, uint16(1), binary.LittleEndian.Uint16(bar[0x1c:]))
}

func TestOpenMissingCapability(t *testing.T) {
	a := pci.Address{Device: 3}
	root := fakeSysfs(t, a)
	path := filepath.Join(root, "bus", "pci", "devices", a.String(), "config")
	config, err := os.ReadFile(path)
	require.NoError(t, err)
	// Turn the notification capability into an MSI capability.
	config[0x50] = pci.CapIDMSI
	require.NoError(t, os.WriteFile(path, config, 0o644))

	_, err = Open(root, a)
	assert.Error(t, err)
}
