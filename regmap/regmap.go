// SPDX-License-Identifier: Unlicense OR MIT

// Package regmap describes device register layouts in YAML and binds
// them to mapped memory.
//
// A register map looks like this:
//
//	name: uart0
//	size: 0x20
//	registers:
//	  - name: CTRL
//	    offset: 0x0
//	    width: 32
//	    access: rw
//	    reset: 0x0
//	    fields:
//	      - {name: EN, bits: [0, 0]}
//	      - {name: MODE, bits: [3, 1]}
//	  - name: DATA
//	    offset: 0x4
//	    width: 8
//	    access: wo
//
// Field bit ranges are written [msb, lsb] and a single bit may be
// given as [n].
package regmap

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Access is the access mode declared for a register.
type Access int

const (
	AccessReadWrite Access = iota
	AccessReadOnly
	AccessWriteOnly
)

// Map is a parsed register map.
type Map struct {
	Name      string        `yaml:"name"`
	Size      int           `yaml:"size"`
	Registers []RegisterDef `yaml:"registers"`
}

// RegisterDef describes one register.
type RegisterDef struct {
	Name   string     `yaml:"name"`
	Offset int        `yaml:"offset"`
	Width  int        `yaml:"width"`
	Access Access     `yaml:"access"`
	Reset  *uint64    `yaml:"reset,omitempty"`
	Desc   string     `yaml:"desc,omitempty"`
	Fields []FieldDef `yaml:"fields,omitempty"`
}

// FieldDef describes a bit field of a register.
type FieldDef struct {
	Name string `yaml:"name"`
	Bits []uint `yaml:"bits,flow"`
	Desc string `yaml:"desc,omitempty"`
}

// LoadError reports an invalid register map.
type LoadError struct {
	File     string
	Register string
	Message  string
	Cause    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("regmap: ")
	if e.File != "" {
		b.WriteString(e.File)
		b.WriteString(": ")
	}
	if e.Register != "" {
		b.WriteString(e.Register)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}

func (a Access) String() string {
	switch a {
	case AccessReadOnly:
		return "ro"
	case AccessWriteOnly:
		return "wo"
	case AccessReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("Access(%d)", int(a))
	}
}

// CanRead reports whether loads are permitted.
func (a Access) CanRead() bool {
	return a != AccessWriteOnly
}

// CanWrite reports whether stores are permitted.
func (a Access) CanWrite() bool {
	return a != AccessReadOnly
}

func (a *Access) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	switch strings.ToLower(s) {
	case "ro", "r":
		*a = AccessReadOnly
	case "wo", "w":
		*a = AccessWriteOnly
	case "rw", "":
		*a = AccessReadWrite
	default:
		return fmt.Errorf("line %d: unknown access %q", n.Line, s)
	}
	return nil
}

func (a Access) MarshalYAML() (any, error) {
	return a.String(), nil
}

// Msb returns the most significant bit of the field.
func (f FieldDef) Msb() uint {
	return f.Bits[0]
}

// Lsb returns the least significant bit of the field.
func (f FieldDef) Lsb() uint {
	return f.Bits[len(f.Bits)-1]
}

// Parse parses and validates a register map.
func Parse(data []byte) (*Map, error) {
	var m Map
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Load reads a register map from a file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	m, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return nil, err
	}
	return m, nil
}

// Validate checks the map for consistency and sorts the registers by
// offset.
func (m *Map) Validate() error {
	if m.Name == "" {
		return &LoadError{Message: "map name is required"}
	}
	if m.Size <= 0 {
		return &LoadError{Message: fmt.Sprintf("invalid size %#x", m.Size)}
	}
	names := make(map[string]bool)
	for i := range m.Registers {
		r := &m.Registers[i]
		if r.Name == "" {
			return &LoadError{Message: fmt.Sprintf("register %d has no name", i)}
		}
		if names[r.Name] {
			return &LoadError{Register: r.Name, Message: "duplicate register name"}
		}
		names[r.Name] = true
		if err := r.validate(m.Size); err != nil {
			return err
		}
	}
	sort.SliceStable(m.Registers, func(i, j int) bool {
		return m.Registers[i].Offset < m.Registers[j].Offset
	})
	for i := 0; i < len(m.Registers)-1; i++ {
		r1, r2 := m.Registers[i], m.Registers[i+1]
		if r1.Offset+r1.Width/8 > r2.Offset {
			return &LoadError{Register: r2.Name, Message: fmt.Sprintf("overlaps %s", r1.Name)}
		}
	}
	return nil
}

func (r *RegisterDef) validate(size int) error {
	fail := func(format string, args ...any) error {
		return &LoadError{Register: r.Name, Message: fmt.Sprintf(format, args...)}
	}
	switch r.Width {
	case 8, 16, 32, 64:
	default:
		return fail("invalid width %d", r.Width)
	}
	n := r.Width / 8
	if r.Offset < 0 || r.Offset%n != 0 {
		return fail("offset %#x is not %d-byte aligned", r.Offset, n)
	}
	if r.Offset+n > size {
		return fail("offset %#x exceeds map size %#x", r.Offset, size)
	}
	if r.Reset != nil && r.Width < 64 && *r.Reset>>uint(r.Width) != 0 {
		return fail("reset value %#x does not fit in %d bits", *r.Reset, r.Width)
	}
	var used uint64
	names := make(map[string]bool)
	for i := range r.Fields {
		f := &r.Fields[i]
		if f.Name == "" {
			return fail("field %d has no name", i)
		}
		if names[f.Name] {
			return fail("duplicate field %s", f.Name)
		}
		names[f.Name] = true
		switch len(f.Bits) {
		case 1:
		case 2:
			if f.Bits[0] < f.Bits[1] {
				return fail("field %s: bits must be [msb, lsb]", f.Name)
			}
		default:
			return fail("field %s: bits must be [msb, lsb] or [bit]", f.Name)
		}
		if f.Msb() >= uint(r.Width) {
			return fail("field %s: bit %d outside %d-bit register", f.Name, f.Msb(), r.Width)
		}
		mask := Field[uint64]{Msb: f.Msb(), Lsb: f.Lsb()}.Mask()
		if used&mask != 0 {
			return fail("field %s overlaps another field", f.Name)
		}
		used |= mask
	}
	return nil
}

// Field returns the definition of the named field.
func (r *RegisterDef) Field(name string) (FieldDef, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldDef{}, false
}
