// SPDX-License-Identifier: Unlicense OR MIT

// Package pci reads PCI configuration space through volatile views,
// either from sysfs snapshots or from memory-mapped ECAM windows.
package pci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"eliasnaur.com/volmem"
	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/mmio"
)

// Address represents a PCI device.
type Address struct {
	Domain                uint16
	Bus, Device, Function uint8
}

// Config is the configuration space of a device.
type Config struct {
	regs   volmem.Slice[uint32, access.ReadOnly]
	closer io.Closer
}

// Capability is an entry in the capability list.
type Capability struct {
	ID     uint8
	Offset uint8
}

const (
	// DefaultSysfs is where sysfs is normally mounted.
	DefaultSysfs = "/sys"

	// headerSize is the size of the standardized configuration header.
	headerSize = 64
	// ecamFunctionSize is the size of a function's extended
	// configuration space.
	ecamFunctionSize = 4096

	statusCapList = 1 << 4
	// maxCaps bounds the capability walk against malformed lists.
	maxCaps = (256 - headerSize) / 4
)

const (
	CapIDMSI    = 0x05
	CapIDVendor = 0x09
	CapIDMSIX   = 0x11
)

// ParseAddress parses an address in the sysfs form
// "dddd:bb:dd.f". The domain may be omitted.
func ParseAddress(s string) (Address, error) {
	var a Address
	var dom, bus, dev, fn uint
	if n, err := fmt.Sscanf(s, "%x:%x:%x.%x", &dom, &bus, &dev, &fn); err == nil && n == 4 {
		a.Domain = uint16(dom)
	} else if n, err := fmt.Sscanf(s, "%x:%x.%x", &bus, &dev, &fn); err != nil || n != 3 {
		return Address{}, fmt.Errorf("pci: invalid address %q", s)
	}
	if dom > 0xffff || bus > 0xff || dev > 31 || fn > 7 {
		return Address{}, fmt.Errorf("pci: address %q out of range", s)
	}
	a.Bus, a.Device, a.Function = uint8(bus), uint8(dev), uint8(fn)
	return a, nil
}

func (a Address) String() string {
	return fmt.Sprintf("%04x:%02x:%02x.%x", a.Domain, a.Bus, a.Device, a.Function)
}

func devicesDir(sysfs string) string {
	return filepath.Join(sysfs, "bus", "pci", "devices")
}

// Detect lists the devices known to sysfs.
func Detect(sysfs string) ([]Address, error) {
	entries, err := os.ReadDir(devicesDir(sysfs))
	if err != nil {
		return nil, fmt.Errorf("pci: %w", err)
	}
	var addrs []Address
	for _, e := range entries {
		a, err := ParseAddress(e.Name())
		if err != nil {
			continue
		}
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool {
		return addrs[i].String() < addrs[j].String()
	})
	return addrs, nil
}

// ResourcePath returns the sysfs file that maps the given BAR.
func ResourcePath(sysfs string, a Address, bar uint8) string {
	return filepath.Join(devicesDir(sysfs), a.String(), fmt.Sprintf("resource%d", bar))
}

// NewConfig wraps configuration space registers.
func NewConfig(regs volmem.Slice[uint32, access.ReadOnly]) (*Config, error) {
	if regs.Len()*4 < headerSize {
		return nil, errors.New("pci: configuration space smaller than header")
	}
	return &Config{regs: regs}, nil
}

// ReadConfig reads the configuration space of a device from sysfs.
// Unprivileged readers see only the header.
func ReadConfig(sysfs string, a Address) (*Config, error) {
	data, err := os.ReadFile(filepath.Join(devicesDir(sysfs), a.String(), "config"))
	if err != nil {
		return nil, fmt.Errorf("pci: %w", err)
	}
	words := make([]uint32, len(data)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return NewConfig(volmem.NewSliceReadOnly(words))
}

// OpenECAM maps the extended configuration space of a device from
// the memory-mapped configuration window at base, typically through
// /dev/mem.
func OpenECAM(devmem string, base uint64, a Address) (*Config, error) {
	off := base + (uint64(a.Bus)<<20 | uint64(a.Device)<<15 | uint64(a.Function)<<12)
	r, err := mmio.Open(devmem, int64(off), ecamFunctionSize, mmio.ModeReadOnly)
	if err != nil {
		return nil, fmt.Errorf("pci: %w", err)
	}
	regs, err := mmio.ArrayAt[uint32, access.ReadOnly](r, 0, ecamFunctionSize/4)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("pci: %w", err)
	}
	c, err := NewConfig(regs)
	if err != nil {
		r.Close()
		return nil, err
	}
	c.closer = r
	return c, nil
}

// Close releases the mapping behind c, if any.
func (c *Config) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

// Size returns the size of the configuration space in bytes.
func (c *Config) Size() int {
	return c.regs.Len() * 4
}

func (c *Config) ReadRegister(reg uint16) uint32 {
	if reg&0x3 != 0 {
		panic("unaligned PCI register access")
	}
	return volmem.Read(c.regs.Index(int(reg / 4)))
}

func (c *Config) ReadVendorID() uint16 {
	return uint16(c.ReadRegister(0x0))
}

func (c *Config) ReadDeviceID() uint16 {
	return uint16(c.ReadRegister(0x0) >> 16)
}

func (c *Config) ReadStatus() uint16 {
	return uint16(c.ReadRegister(0x4) >> 16)
}

func (c *Config) ReadClass() uint16 {
	return uint16(c.ReadRegister(0x8) >> 16)
}

func (c *Config) ReadHeaderType() uint8 {
	return uint8(c.ReadRegister(0xc) >> 16)
}

func (c *Config) ReadCapOffset() uint8 {
	return uint8(c.ReadRegister(0x34)) &^ 0x3
}

func (c *Config) ReadBAR(bar uint8) (addr uint64, prefetch, isMem bool) {
	if bar > 0x5 {
		panic("invalid BAR")
	}
	addr0 := c.ReadRegister(0x10 + uint16(bar)*4)
	if addr0&1 != 0 {
		// I/O address.
		return uint64(addr0 &^ 0b11), false, false
	}
	// Mask off flags.
	addr = uint64(addr0 &^ 0xf)
	switch (addr0 >> 1) & 0b11 {
	case 0b01:
		// 16-bit address. Not used.
		return addr, false, false
	case 0b00:
	case 0b10:
		// 64-bit address.
		if bar == 0x5 {
			return addr, false, false
		}
		addr1 := c.ReadRegister(0x10 + uint16(bar+1)*4)
		addr |= uint64(addr1) << 32
	}
	prefetch = addr0&0b1000 != 0
	return addr, prefetch, true
}

// Capabilities walks the capability list.
func (c *Config) Capabilities() []Capability {
	if c.ReadStatus()&statusCapList == 0 {
		return nil
	}
	var caps []Capability
	nextCap := c.ReadCapOffset()
	for nextCap != 0 && len(caps) < maxCaps {
		capOff := nextCap
		if int(capOff)+4 > c.Size() {
			break
		}
		w0 := c.ReadRegister(uint16(capOff))
		nextCap = uint8(w0>>8) &^ 0x3
		caps = append(caps, Capability{ID: uint8(w0), Offset: capOff})
	}
	return caps
}

// FindCapability returns the first capability with the given ID.
func (c *Config) FindCapability(id uint8) (Capability, bool) {
	for _, cp := range c.Capabilities() {
		if cp.ID == id {
			return cp, true
		}
	}
	return Capability{}, false
}
