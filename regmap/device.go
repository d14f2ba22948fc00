// SPDX-License-Identifier: Unlicense OR MIT

package regmap

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unsafe"

	"golang.org/x/exp/constraints"

	"eliasnaur.com/volmem"
	"eliasnaur.com/volmem/access"
)

var (
	// ErrCapability is returned for accesses the register's declared
	// access mode forbids.
	ErrCapability     = errors.New("regmap: capability violation")
	ErrUnknown        = errors.New("regmap: unknown register or field")
	ErrValueRange     = errors.New("regmap: value out of range")
	ErrNoResetValue   = errors.New("regmap: no reset value")
	errMemoryTooSmall = errors.New("regmap: memory smaller than map")
)

// Device is a register map bound to memory.
type Device struct {
	m      *Map
	regs   []*Register
	byName map[string]*Register
}

// Register is a bound register. Unlike volmem cells, whose access mode
// is fixed at compile time, a Register's mode comes from the map and
// is checked on every call.
type Register struct {
	def   RegisterDef
	load  func() uint64
	store func(uint64)
}

// Bind binds m to mem, which must hold at least m.Size bytes. Each
// register is wrapped in a volmem cell narrowed to its declared
// access mode.
func Bind(m *Map, mem volmem.Slice[byte, access.ReadWrite]) (*Device, error) {
	if mem.Len() < m.Size {
		return nil, fmt.Errorf("%w: %d < %d", errMemoryTooSmall, mem.Len(), m.Size)
	}
	d := &Device{
		m:      m,
		byName: make(map[string]*Register),
	}
	for _, def := range m.Registers {
		r := &Register{def: def}
		window := mem.Sub(def.Offset, def.Offset+def.Width/8)
		var err error
		switch def.Width {
		case 8:
			err = bindCell[uint8](r, window)
		case 16:
			err = bindCell[uint16](r, window)
		case 32:
			err = bindCell[uint32](r, window)
		case 64:
			err = bindCell[uint64](r, window)
		default:
			err = fmt.Errorf("regmap: %s: invalid width %d", def.Name, def.Width)
		}
		if err != nil {
			return nil, err
		}
		d.regs = append(d.regs, r)
		d.byName[def.Name] = r
	}
	return d, nil
}

func bindCell[T constraints.Unsigned](r *Register, window volmem.Slice[byte, access.ReadWrite]) error {
	p := unsafe.Pointer(&window.Handle()[0])
	if uintptr(p)%unsafe.Alignof(T(0)) != 0 {
		return fmt.Errorf("regmap: %s: register at %p is unaligned", r.def.Name, p)
	}
	c := volmem.New((*T)(p))
	switch r.def.Access {
	case AccessReadOnly:
		ro := volmem.AsReadOnly(c)
		r.load = func() uint64 { return uint64(volmem.Read(ro)) }
	case AccessWriteOnly:
		wo := volmem.AsWriteOnly(c)
		r.store = func(v uint64) { volmem.Write(wo, T(v)) }
	default:
		r.load = func() uint64 { return uint64(volmem.Read(c)) }
		r.store = func(v uint64) { volmem.Write(c, T(v)) }
	}
	return nil
}

// Name returns the map name.
func (d *Device) Name() string {
	return d.m.Name
}

// Registers returns the registers in offset order.
func (d *Device) Registers() []*Register {
	return d.regs
}

// Register returns the named register.
func (d *Device) Register(name string) (*Register, error) {
	r, ok := d.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknown, name)
	}
	return r, nil
}

// Resolve looks up a "REG" or "REG.FIELD" path. The field is empty
// for a plain register.
func (d *Device) Resolve(path string) (*Register, string, error) {
	name, field, _ := strings.Cut(path, ".")
	r, err := d.Register(name)
	if err != nil {
		return nil, "", err
	}
	if field != "" {
		if _, ok := r.def.Field(field); !ok {
			return nil, "", fmt.Errorf("%w: %s", ErrUnknown, path)
		}
	}
	return r, field, nil
}

// Reset writes the reset value of every writable register that
// declares one.
func (d *Device) Reset() error {
	for _, r := range d.regs {
		if r.def.Reset == nil || !r.def.Access.CanWrite() {
			continue
		}
		if err := r.Reset(); err != nil {
			return err
		}
	}
	return nil
}

// Dump writes a table of all registers. Readable registers are loaded
// once each and their fields decoded; write-only registers are not
// touched.
func (d *Device) Dump(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "REGISTER\tOFFSET\tACCESS\tVALUE\tFIELDS")
	for _, r := range d.regs {
		value := "[writeonly]"
		var fields []string
		if r.load != nil {
			v := r.load()
			value = fmt.Sprintf("0x%0*x", r.def.Width/4, v)
			for _, f := range r.def.Fields {
				fv := Field[uint64]{Msb: f.Msb(), Lsb: f.Lsb()}.Get(v)
				fields = append(fields, fmt.Sprintf("%s=%#x", f.Name, fv))
			}
		}
		fmt.Fprintf(tw, "%s\t0x%04x\t%v\t%s\t%s\n", r.def.Name, r.def.Offset, r.def.Access, value, strings.Join(fields, " "))
	}
	return tw.Flush()
}

// Def returns the register definition.
func (r *Register) Def() RegisterDef {
	return r.def
}

func (r *Register) String() string {
	return r.def.Name
}

// Read loads the register.
func (r *Register) Read() (uint64, error) {
	if r.load == nil {
		return 0, fmt.Errorf("%w: %s is write-only", ErrCapability, r.def.Name)
	}
	return r.load(), nil
}

// Write stores v into the register.
func (r *Register) Write(v uint64) error {
	if r.store == nil {
		return fmt.Errorf("%w: %s is read-only", ErrCapability, r.def.Name)
	}
	if r.def.Width < 64 && v>>uint(r.def.Width) != 0 {
		return fmt.Errorf("%w: %#x does not fit %s", ErrValueRange, v, r.def.Name)
	}
	r.store(v)
	return nil
}

// Update performs a non-atomic read-modify-write of the register.
func (r *Register) Update(f func(uint64) uint64) error {
	if r.load == nil || r.store == nil {
		return fmt.Errorf("%w: %s is %v", ErrCapability, r.def.Name, r.def.Access)
	}
	return r.Write(f(r.load()))
}

// ReadField loads the register and extracts the named field.
func (r *Register) ReadField(name string) (uint64, error) {
	f, err := r.field(name)
	if err != nil {
		return 0, err
	}
	v, err := r.Read()
	if err != nil {
		return 0, err
	}
	return f.Get(v), nil
}

// WriteField replaces the named field. Readable registers are updated
// in place; for write-only registers the other bits come from the
// reset value, or zero when there is none.
func (r *Register) WriteField(name string, x uint64) error {
	f, err := r.field(name)
	if err != nil {
		return err
	}
	if !f.Fits(x) {
		return fmt.Errorf("%w: %#x does not fit %s.%s", ErrValueRange, x, r.def.Name, name)
	}
	if r.load == nil {
		var base uint64
		if r.def.Reset != nil {
			base = *r.def.Reset
		}
		return r.Write(f.Set(base, x))
	}
	return r.Update(func(v uint64) uint64 { return f.Set(v, x) })
}

// Reset writes the register's reset value.
func (r *Register) Reset() error {
	if r.def.Reset == nil {
		return fmt.Errorf("%w: %s", ErrNoResetValue, r.def.Name)
	}
	return r.Write(*r.def.Reset)
}

func (r *Register) field(name string) (Field[uint64], error) {
	f, ok := r.def.Field(name)
	if !ok {
		return Field[uint64]{}, fmt.Errorf("%w: %s.%s", ErrUnknown, r.def.Name, name)
	}
	return Field[uint64]{Msb: f.Msb(), Lsb: f.Lsb()}, nil
}
