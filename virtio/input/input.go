// SPDX-License-Identifier: Unlicense OR MIT

// Package input reads the configuration of virtio input devices.
package input

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"unsafe"

	"eliasnaur.com/volmem"
	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/virtio"
)

type Device struct {
	Name string

	dev *virtio.Device
	cfg *Config
}

// Config is the device-specific configuration of an input device. A
// query selects a configuration item and reads back its payload.
type Config struct {
	sel    volmem.Cell[uint8, access.WriteOnly]
	subsel volmem.Cell[uint8, access.WriteOnly]
	size   volmem.Cell[uint8, access.ReadOnly]
	data   volmem.Slice[byte, access.ReadOnly]
}

type AbsInfo struct {
	Min  uint32
	Max  uint32
	Fuzz uint32
	Flat uint32
	Res  uint32
}

type config struct {
	_select  uint8
	subsel   uint8
	size     uint8
	reserved [5]uint8
	subcfg   [128]byte
}

const (
	EV_SYN = 0x00
	EV_KEY = 0x01
	EV_REL = 0x02
	EV_ABS = 0x03
)

const (
	BTN_LEFT   = 0x110
	BTN_RIGHT  = 0x111
	BTN_MIDDLE = 0x112
	BTN_WHEEL  = 0x150
)

const (
	REL_WHEEL  = 0x08
	REL_HWHEEL = 0x06

	ABS_X = 0x00
	ABS_Y = 0x01
)

const (
	_VIRTIO_INPUT_CFG_UNSET     = 0x00
	_VIRTIO_INPUT_CFG_ID_NAME   = 0x01
	_VIRTIO_INPUT_CFG_ID_SERIAL = 0x02
	_VIRTIO_INPUT_CFG_ID_DEVIDS = 0x03
	_VIRTIO_INPUT_CFG_PROP_BITS = 0x10
	_VIRTIO_INPUT_CFG_EV_BITS   = 0x11
	_VIRTIO_INPUT_CFG_ABS_INFO  = 0x12
)

const absInfoSize = int(unsafe.Sizeof(AbsInfo{}))

// Open finds the first virtio input device in sysfs and initializes
// it.
func Open(ctx context.Context, sysfs string) (*Device, error) {
	addr, err := virtio.Find(sysfs, virtio.DeviceTypeInput)
	if err != nil {
		return nil, err
	}
	vdev, err := virtio.Open(sysfs, addr)
	if err != nil {
		return nil, err
	}
	d, err := newDevice(ctx, vdev)
	if err != nil {
		vdev.Close()
		return nil, err
	}
	return d, nil
}

func newDevice(ctx context.Context, dev *virtio.Device) (*Device, error) {
	mem, ok := dev.DeviceConfig()
	if !ok {
		return nil, errors.New("input: missing device configuration area")
	}
	cfg, err := NewConfig(mem)
	if err != nil {
		return nil, err
	}
	d := &Device{
		dev: dev,
		cfg: cfg,
	}
	for {
		before := dev.ConfigGeneration()
		if err := dev.Reset(ctx); err != nil {
			return nil, err
		}
		needFeats := uint64(virtio.F_VERSION_1)
		if feats := dev.Features(); feats&needFeats != needFeats {
			return nil, fmt.Errorf("input: supports features %#x need at least %#x", feats, needFeats)
		}
		if err := dev.NegotiateFeatures(needFeats); err != nil {
			return nil, err
		}
		if name, ok := cfg.Query(_VIRTIO_INPUT_CFG_ID_NAME, 0); ok {
			// The virtio specs says that strings do not include a
			// trailing NUL. But Qemu does have them.
			name = bytes.TrimRight(name, "\x00")
			d.Name = string(name)
		}
		if after := dev.ConfigGeneration(); after != before {
			// Configuration changed under us.
			continue
		}
		dev.Start()
		break
	}
	return d, nil
}

// NewConfig wraps a mapped device configuration area.
func NewConfig(mem volmem.Slice[byte, access.ReadWrite]) (*Config, error) {
	if unsafe.Sizeof(config{}) > uintptr(mem.Len()) {
		return nil, errors.New("input: device configuration area too small")
	}
	c := volmem.New((*config)(unsafe.Pointer(&mem.Handle()[0])))
	return &Config{
		sel:    volmem.AsWriteOnly(volmem.Map(c, func(c *config) *uint8 { return &c._select })),
		subsel: volmem.AsWriteOnly(volmem.Map(c, func(c *config) *uint8 { return &c.subsel })),
		size:   volmem.AsReadOnly(volmem.Map(c, func(c *config) *uint8 { return &c.size })),
		data:   volmem.AsReadOnlySlice(volmem.MapSlice(c, func(c *config) []byte { return c.subcfg[:] })),
	}, nil
}

// Config returns the configuration of d.
func (d *Device) Config() *Config {
	return d.cfg
}

// Close releases the device mappings.
func (d *Device) Close() error {
	return d.dev.Close()
}

// Query selects a configuration item and returns a copy of its
// payload, or false if the device has none.
func (c *Config) Query(sel, subsel uint8) ([]byte, bool) {
	volmem.Write(c.sel, sel)
	volmem.Write(c.subsel, subsel)
	size := int(volmem.Read(c.size))
	if size == 0 {
		return nil, false
	}
	size = min(size, c.data.Len())
	sub := make([]byte, size)
	volmem.CopyInto(c.data.Sub(0, size), sub)
	return sub, true
}

// Serial returns the serial number of the device, if any.
func (c *Config) Serial() (string, bool) {
	s, ok := c.Query(_VIRTIO_INPUT_CFG_ID_SERIAL, 0)
	return string(bytes.TrimRight(s, "\x00")), ok
}

// AbsInfo returns the range of an absolute axis.
func (c *Config) AbsInfo(axis uint8) (AbsInfo, error) {
	abs, ok := c.Query(_VIRTIO_INPUT_CFG_ABS_INFO, axis)
	if !ok {
		return AbsInfo{}, errors.New("input: no axis information")
	}
	if got, exp := len(abs), absInfoSize; got < exp {
		return AbsInfo{}, fmt.Errorf("input: axis info truncated to %d, expected %d", got, exp)
	}
	return AbsInfo{
		Min:  binary.LittleEndian.Uint32(abs[0:]),
		Max:  binary.LittleEndian.Uint32(abs[4:]),
		Fuzz: binary.LittleEndian.Uint32(abs[8:]),
		Flat: binary.LittleEndian.Uint32(abs[12:]),
		Res:  binary.LittleEndian.Uint32(abs[16:]),
	}, nil
}

// Supports reports whether the device generates events of the given
// type and code.
func (c *Config) Supports(evType uint8, code uint16) bool {
	bits, ok := c.Query(_VIRTIO_INPUT_CFG_EV_BITS, evType)
	if !ok {
		return false
	}
	i := int(code / 8)
	return i < len(bits) && bits[i]&(1<<(code%8)) != 0
}
