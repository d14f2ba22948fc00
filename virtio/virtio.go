// SPDX-License-Identifier: Unlicense OR MIT

// Package virtio drives the common configuration of virtio 1.x
// devices attached through PCI. The device registers are accessed
// through volmem cells whose access modes follow the virtio
// specification, so driver code cannot store to a register the device
// owns.
package virtio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unsafe"

	"eliasnaur.com/volmem"
	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/mmio"
	"eliasnaur.com/volmem/pci"
)

type Device struct {
	cfg    commonRegs
	notify struct {
		base       volmem.Slice[byte, access.WriteOnly]
		multiplier uint32
	}
	device  volmem.Slice[byte, access.ReadWrite]
	closers []io.Closer
}

// virtioConfig is the layout of the common configuration structure.
type virtioConfig struct {
	device_feature_select uint32
	device_feature        uint32
	driver_feature_select uint32
	driver_feature        uint32
	msix_vector           uint16
	num_queues            uint16
	device_status         uint8
	config_generation     uint8

	queue_select      uint16
	queue_size        uint16
	queue_msix_vector uint16
	queue_enable      uint16
	queue_notify_off  uint16
	queue_desc        uint64
	queue_driver      uint64
	queue_device      uint64
}

// commonRegs are the fields of virtioConfig, narrowed to the accesses
// a driver may perform.
type commonRegs struct {
	deviceFeatureSelect volmem.Cell[uint32, access.ReadWrite]
	deviceFeature       volmem.Cell[uint32, access.ReadOnly]
	driverFeatureSelect volmem.Cell[uint32, access.ReadWrite]
	driverFeature       volmem.Cell[uint32, access.ReadWrite]
	msixVector          volmem.Cell[uint16, access.ReadWrite]
	numQueues           volmem.Cell[uint16, access.ReadOnly]
	deviceStatus        volmem.Cell[uint8, access.ReadWrite]
	configGeneration    volmem.Cell[uint8, access.ReadOnly]

	queueSelect     volmem.Cell[uint16, access.ReadWrite]
	queueSize       volmem.Cell[uint16, access.ReadWrite]
	queueMSIXVector volmem.Cell[uint16, access.ReadWrite]
	queueEnable     volmem.Cell[uint16, access.ReadWrite]
	queueNotifyOff  volmem.Cell[uint16, access.ReadOnly]
	queueDesc       volmem.Cell[uint64, access.ReadWrite]
	queueDriver     volmem.Cell[uint64, access.ReadWrite]
	queueDevice     volmem.Cell[uint64, access.ReadWrite]
}

// Queue is a configured virtqueue.
type Queue struct {
	Index  uint16
	Size   uint16
	notify volmem.Cell[uint16, access.WriteOnly]
}

const (
	vendorID = 0x1af4

	F_VERSION_1 = 1 << 32

	DeviceTypeNet   = 1
	DeviceTypeBlock = 2
	DeviceTypeGPU   = 16
	DeviceTypeInput = 18

	// PCI capabilities.
	_VIRTIO_PCI_CAP_COMMON_CFG = 1
	_VIRTIO_PCI_CAP_NOTIFY_CFG = 2
	_VIRTIO_PCI_CAP_ISR_CFG    = 3
	PCI_CAP_DEVICE_CFG         = 4
	_VIRTIO_PCI_CAP_PCI_CFG    = 5

	// Device status flags.
	_ACKNOWLEDGE        = 1
	_DRIVER             = 2
	_FAILED             = 128
	_FEATURES_OK        = 8
	_DRIVER_OK          = 4
	_DEVICE_NEEDS_RESET = 64

	// NoVector disables MSI-X notification for a queue or the
	// configuration.
	NoVector = 0xffff
)

// Find returns the first virtio device of the given type, such as 1
// for network cards or 16 for GPUs.
func Find(sysfs string, function int) (pci.Address, error) {
	addrs, err := pci.Detect(sysfs)
	if err != nil {
		return pci.Address{}, err
	}
	for _, a := range addrs {
		cfg, err := pci.ReadConfig(sysfs, a)
		if err != nil {
			continue
		}
		if cfg.ReadVendorID() != vendorID {
			// Not a Virtio device.
			continue
		}
		devID := cfg.ReadDeviceID()
		if !(0x1040 <= devID && devID <= 0x107f) {
			// Not a virtio device, or a legacy virtio device.
			continue
		}
		if f := int(devID - 0x1040); f != function {
			// Not the correct type.
			continue
		}
		return a, nil
	}
	return pci.Address{}, fmt.Errorf("virtio: no virtio device type %d", function)
}

// Open maps the configuration structures of the device at addr through
// its sysfs resource files.
func Open(sysfs string, addr pci.Address) (*Device, error) {
	cfg, err := pci.ReadConfig(sysfs, addr)
	if err != nil {
		return nil, err
	}
	var closers []io.Closer
	fail := func(err error) (*Device, error) {
		for _, c := range closers {
			c.Close()
		}
		return nil, err
	}
	common, _, r, err := mapCapability(sysfs, addr, cfg, _VIRTIO_PCI_CAP_COMMON_CFG)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, r)
	notify, capOff, r, err := mapCapability(sysfs, addr, cfg, _VIRTIO_PCI_CAP_NOTIFY_CFG)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, r)
	// The notify_off_multiplier field is located just after the
	// capability structure.
	multiplier := cfg.ReadRegister(uint16(capOff) + 16)
	dev, err := NewDevice(common, notify, multiplier)
	if err != nil {
		return fail(err)
	}
	// The device-specific configuration is optional.
	devCfg, _, r, err := mapCapability(sysfs, addr, cfg, PCI_CAP_DEVICE_CFG)
	switch {
	case err == nil:
		closers = append(closers, r)
		dev.device = devCfg
	case !errors.Is(err, errNoCapability):
		return fail(err)
	}
	dev.closers = closers
	return dev, nil
}

var errNoCapability = errors.New("virtio: capability not found")

// mapCapability finds the vendor capability of the given type and maps
// the BAR window it describes.
func mapCapability(sysfs string, addr pci.Address, cfg *pci.Config, typ uint8) (volmem.Slice[byte, access.ReadWrite], uint8, *mmio.Region, error) {
	for _, c := range cfg.Capabilities() {
		if c.ID != pci.CapIDVendor {
			// Not a virtio capability.
			continue
		}
		capOff := uint16(c.Offset)
		w0 := cfg.ReadRegister(capOff)
		if cfgTyp := uint8(w0 >> 24); cfgTyp != typ {
			continue
		}
		bar := uint8(cfg.ReadRegister(capOff + 4))
		if bar > 0x5 {
			// Reserved BAR.
			continue
		}
		if _, _, isMem := cfg.ReadBAR(bar); !isMem {
			// I/O space BAR, but we only support memory mapped BARs.
			continue
		}
		offset := cfg.ReadRegister(capOff + 8)
		length := cfg.ReadRegister(capOff + 12)
		r, err := mmio.Open(pci.ResourcePath(sysfs, addr, bar), int64(offset), int(length), mmio.ModeReadWrite)
		if err != nil {
			return volmem.Slice[byte, access.ReadWrite]{}, 0, nil, fmt.Errorf("virtio: %w", err)
		}
		mem, err := mmio.Bytes[access.ReadWrite](r)
		if err != nil {
			r.Close()
			return volmem.Slice[byte, access.ReadWrite]{}, 0, nil, fmt.Errorf("virtio: %w", err)
		}
		return mem, c.Offset, r, nil
	}
	return volmem.Slice[byte, access.ReadWrite]{}, 0, nil, fmt.Errorf("%w: type %d", errNoCapability, typ)
}

// NewDevice wraps mapped common configuration and notification
// areas.
func NewDevice(common, notify volmem.Slice[byte, access.ReadWrite], multiplier uint32) (*Device, error) {
	if unsafe.Sizeof(virtioConfig{}) > uintptr(common.Len()) {
		return nil, errors.New("virtio: common configuration area too small")
	}
	p := unsafe.Pointer(&common.Handle()[0])
	if uintptr(p)%unsafe.Alignof(virtioConfig{}) != 0 {
		return nil, errors.New("virtio: common configuration area unaligned")
	}
	c := volmem.New((*virtioConfig)(p))
	dev := &Device{
		cfg: commonRegs{
			deviceFeatureSelect: volmem.Map(c, func(c *virtioConfig) *uint32 { return &c.device_feature_select }),
			deviceFeature:       volmem.AsReadOnly(volmem.Map(c, func(c *virtioConfig) *uint32 { return &c.device_feature })),
			driverFeatureSelect: volmem.Map(c, func(c *virtioConfig) *uint32 { return &c.driver_feature_select }),
			driverFeature:       volmem.Map(c, func(c *virtioConfig) *uint32 { return &c.driver_feature }),
			msixVector:          volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.msix_vector }),
			numQueues:           volmem.AsReadOnly(volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.num_queues })),
			deviceStatus:        volmem.Map(c, func(c *virtioConfig) *uint8 { return &c.device_status }),
			configGeneration:    volmem.AsReadOnly(volmem.Map(c, func(c *virtioConfig) *uint8 { return &c.config_generation })),
			queueSelect:         volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.queue_select }),
			queueSize:           volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.queue_size }),
			queueMSIXVector:     volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.queue_msix_vector }),
			queueEnable:         volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.queue_enable }),
			queueNotifyOff:      volmem.AsReadOnly(volmem.Map(c, func(c *virtioConfig) *uint16 { return &c.queue_notify_off })),
			queueDesc:           volmem.Map(c, func(c *virtioConfig) *uint64 { return &c.queue_desc }),
			queueDriver:         volmem.Map(c, func(c *virtioConfig) *uint64 { return &c.queue_driver }),
			queueDevice:         volmem.Map(c, func(c *virtioConfig) *uint64 { return &c.queue_device }),
		},
	}
	dev.notify.base = volmem.AsWriteOnlySlice(notify)
	dev.notify.multiplier = multiplier
	return dev, nil
}

// DeviceConfig returns the device-specific configuration area, if the
// device has one.
func (d *Device) DeviceConfig() (volmem.Slice[byte, access.ReadWrite], bool) {
	return d.device, d.device.Len() > 0
}

// SetDeviceConfig sets the device-specific configuration area for
// devices not opened through Open.
func (d *Device) SetDeviceConfig(mem volmem.Slice[byte, access.ReadWrite]) {
	d.device = mem
}

// Close unmaps the device areas mapped by Open.
func (d *Device) Close() error {
	var err error
	for _, c := range d.closers {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	d.closers = nil
	return err
}

// ConfigInterrupt routes configuration change notifications to the
// given MSI-X vector.
func (d *Device) ConfigInterrupt(vector uint16) error {
	volmem.Write(d.cfg.msixVector, vector)
	if res := volmem.Read(d.cfg.msixVector); res != vector {
		return errors.New("virtio: failed to set up interrupt")
	}
	return nil
}

func (d *Device) ConfigGeneration() uint8 {
	return volmem.Read(d.cfg.configGeneration)
}

func (d *Device) Status() uint8 {
	return volmem.Read(d.cfg.deviceStatus)
}

// Reset resets the device, waits for the reset to complete and
// acknowledges the device.
func (d *Device) Reset(ctx context.Context) error {
	// Reset device.
	volmem.Write(d.cfg.deviceStatus, 0)
	// Wait for reset.
	for volmem.Read(d.cfg.deviceStatus) != 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("virtio: reset: %w", err)
		}
	}
	// Acknowledge device.
	volmem.Or(d.cfg.deviceStatus, _ACKNOWLEDGE|_DRIVER)
	return nil
}

func (d *Device) Start() {
	volmem.Or(d.cfg.deviceStatus, _DRIVER_OK)
}

// NeedsReset reports whether the device has signalled an
// unrecoverable error.
func (d *Device) NeedsReset() bool {
	return volmem.IsSet(d.cfg.deviceStatus, _DEVICE_NEEDS_RESET)
}

// Features reads the first 64 feature bits off the device.
func (d *Device) Features() uint64 {
	// First 32 bits.
	volmem.Write(d.cfg.deviceFeatureSelect, 0)
	feats := uint64(volmem.Read(d.cfg.deviceFeature))
	// Next 32 bits.
	volmem.Write(d.cfg.deviceFeatureSelect, 1)
	feats |= uint64(volmem.Read(d.cfg.deviceFeature)) << 32
	return feats
}

func (d *Device) NegotiateFeatures(feats uint64) error {
	// First 32 bits.
	volmem.Write(d.cfg.driverFeatureSelect, 0)
	volmem.Write(d.cfg.driverFeature, uint32(feats))
	// Next 32 bits.
	volmem.Write(d.cfg.driverFeatureSelect, 1)
	volmem.Write(d.cfg.driverFeature, uint32(feats>>32))
	volmem.Or(d.cfg.deviceStatus, _FEATURES_OK)
	if !volmem.IsSet(d.cfg.deviceStatus, _FEATURES_OK) {
		// Mark driver failed.
		volmem.Or(d.cfg.deviceStatus, _FAILED)
		return errors.New("virtio: feature negotiation failed")
	}
	return nil
}

func (d *Device) NumQueues() uint16 {
	return volmem.Read(d.cfg.numQueues)
}

// ConfigureQueue sets up queue queueIndex with at most maxSize entries
// and the bus addresses of its descriptor table, driver (available)
// ring and device (used) ring, then enables it. The vector is the
// MSI-X vector for used buffer notifications, or NoVector.
func (d *Device) ConfigureQueue(queueIndex, maxSize uint16, desc, driver, device uint64, vector uint16) (*Queue, error) {
	if queueIndex >= d.NumQueues() {
		return nil, errors.New("virtio: queue index outside range of available queues")
	}
	// Select queue.
	volmem.Write(d.cfg.queueSelect, queueIndex)
	qsz := volmem.Read(d.cfg.queueSize)
	if qsz == 0 {
		return nil, errors.New("virtio: queue not available")
	}
	q := &Queue{
		Index: queueIndex,
	}
	notify, err := d.notifyCell(volmem.Read(d.cfg.queueNotifyOff))
	if err != nil {
		return nil, err
	}
	q.notify = notify
	// Cap queue size.
	if maxSize != 0 && qsz > maxSize {
		qsz = maxSize
		volmem.Write(d.cfg.queueSize, qsz)
	}
	// Set up queue addresses.
	volmem.Write(d.cfg.queueDesc, desc)
	volmem.Write(d.cfg.queueDriver, driver)
	volmem.Write(d.cfg.queueDevice, device)
	volmem.Write(d.cfg.queueMSIXVector, vector)
	if res := volmem.Read(d.cfg.queueMSIXVector); res != vector {
		return nil, errors.New("virtio: failed to set up queue interrupt")
	}
	q.Size = qsz
	// Enable queue.
	volmem.Write(d.cfg.queueEnable, 1)
	return q, nil
}

func (d *Device) notifyCell(notifyOff uint16) (volmem.Cell[uint16, access.WriteOnly], error) {
	off := int(d.notify.multiplier) * int(notifyOff)
	// Ensure that the 16-bit notify fits inside the notification BAR.
	if off+2 > d.notify.base.Len() {
		return volmem.Cell[uint16, access.WriteOnly]{}, errors.New("virtio: queue notify address outside notification area")
	}
	p := unsafe.Pointer(&d.notify.base.Handle()[off])
	if uintptr(p)%2 != 0 {
		return volmem.Cell[uint16, access.WriteOnly]{}, errors.New("virtio: unaligned queue notify address")
	}
	return volmem.NewWriteOnly((*uint16)(p)), nil
}

// Notify tells the device that new buffers are available in q.
func (q *Queue) Notify() {
	volmem.Write(q.notify, q.Index)
}
