// SPDX-License-Identifier: Unlicense OR MIT

package regmap

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eliasnaur.com/volmem"
)

// alignedBytes returns n zero bytes aligned for 64-bit registers.
func alignedBytes(n int) []byte {
	words := make([]uint64, (n+7)/8)
	return unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), n)
}

func loadUART(t *testing.T) (*Device, []byte) {
	t.Helper()
	m, err := Load(filepath.Join("testdata", "uart.yaml"))
	require.NoError(t, err)
	mem := alignedBytes(m.Size)
	d, err := Bind(m, volmem.NewSlice(mem))
	require.NoError(t, err)
	return d, mem
}

func TestLoad(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "uart.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "uart0", m.Name)
	assert.Equal(t, 0x20, m.Size)
	require.Len(t, m.Registers, 5)

	var names []string
	for _, r := range m.Registers {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"CTRL", "STATUS", "TXDATA", "IRQ", "TIMESTAMP"}, names)

	status := m.Registers[1]
	assert.Equal(t, AccessReadOnly, status.Access)
	assert.Equal(t, "line status", status.Desc)
	errField, ok := status.Field("ERR")
	require.True(t, ok)
	assert.Equal(t, uint(7), errField.Msb())
	assert.Equal(t, uint(4), errField.Lsb())

	assert.Equal(t, AccessReadWrite, m.Registers[4].Access)
	require.NotNil(t, m.Registers[0].Reset)
	assert.Equal(t, uint64(1), *m.Registers[0].Reset)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join("testdata", "missing.yaml"))
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Contains(t, le.File, "missing.yaml")
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"syntax", "name: [", "failed to parse YAML"},
		{"no name", "size: 4", "map name is required"},
		{"no size", "name: x", "invalid size"},
		{"bad width", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 12}", "invalid width 12"},
		{"unaligned", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 2, width: 32}", "not 4-byte aligned"},
		{"outside", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 8, width: 8}", "exceeds map size"},
		{"duplicate", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8}\n  - {name: A, offset: 1, width: 8}", "duplicate register name"},
		{"overlap", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 32}\n  - {name: B, offset: 2, width: 16}", "overlaps A"},
		{"access", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, access: rx}", "unknown access"},
		{"reset", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, reset: 0x100}", "does not fit"},
		{"field order", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, fields: [{name: F, bits: [0, 3]}]}", "[msb, lsb]"},
		{"field width", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, fields: [{name: F, bits: [8, 3]}]}", "outside 8-bit register"},
		{"field overlap", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, fields: [{name: F, bits: [3, 0]}, {name: G, bits: [4, 3]}]}", "G overlaps"},
		{"field bits", "name: x\nsize: 8\nregisters:\n  - {name: A, offset: 0, width: 8, fields: [{name: F}]}", "bits must be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegisterReadWrite(t *testing.T) {
	d, mem := loadUART(t)

	ctrl, err := d.Register("CTRL")
	require.NoError(t, err)
	require.NoError(t, ctrl.Write(0x12345678))
	assert.Equal(t, []byte{0x78, 0x56, 0x34, 0x12}, mem[0:4])
	v, err := ctrl.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x12345678), v)

	assert.ErrorIs(t, ctrl.Write(1<<32), ErrValueRange)

	ts, err := d.Register("TIMESTAMP")
	require.NoError(t, err)
	require.NoError(t, ts.Write(1<<63))
	v, err = ts.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<63), v)
}

func TestRegisterCapabilities(t *testing.T) {
	d, mem := loadUART(t)

	status, err := d.Register("STATUS")
	require.NoError(t, err)
	mem[4] = 0x52
	v, err := status.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x52), v)
	assert.ErrorIs(t, status.Write(0), ErrCapability)
	assert.ErrorIs(t, status.Update(func(v uint64) uint64 { return v }), ErrCapability)
	assert.Equal(t, byte(0x52), mem[4])

	tx, err := d.Register("TXDATA")
	require.NoError(t, err)
	require.NoError(t, tx.Write('A'))
	assert.Equal(t, byte('A'), mem[8])
	_, err = tx.Read()
	assert.ErrorIs(t, err, ErrCapability)
	assert.ErrorIs(t, tx.Write(0x100), ErrValueRange)
}

func TestFields(t *testing.T) {
	d, mem := loadUART(t)

	ctrl, err := d.Register("CTRL")
	require.NoError(t, err)
	require.NoError(t, ctrl.Write(0x1))
	require.NoError(t, ctrl.WriteField("MODE", 5))
	require.NoError(t, ctrl.WriteField("DIV", 0xabcd))
	v, err := ctrl.Read()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xabcd000b), v)

	mode, err := ctrl.ReadField("MODE")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), mode)

	assert.ErrorIs(t, ctrl.WriteField("MODE", 8), ErrValueRange)
	assert.ErrorIs(t, ctrl.WriteField("NOPE", 1), ErrUnknown)

	// Write-only fields are merged into the reset value.
	irq, err := d.Register("IRQ")
	require.NoError(t, err)
	require.NoError(t, irq.WriteField("MASK", 0x0f))
	assert.Equal(t, []byte{0x0f, 0xff}, mem[0xa:0xc])
	_, err = irq.ReadField("MASK")
	assert.ErrorIs(t, err, ErrCapability)

	status, err := d.Register("STATUS")
	require.NoError(t, err)
	mem[4] = 0xa2
	e, err := status.ReadField("ERR")
	require.NoError(t, err)
	assert.Equal(t, uint64(0xa), e)
	assert.ErrorIs(t, status.WriteField("ERR", 1), ErrCapability)
}

func TestResolve(t *testing.T) {
	d, _ := loadUART(t)

	r, field, err := d.Resolve("CTRL.DIV")
	require.NoError(t, err)
	assert.Equal(t, "CTRL", r.String())
	assert.Equal(t, "DIV", field)

	r, field, err = d.Resolve("STATUS")
	require.NoError(t, err)
	assert.Equal(t, "STATUS", r.Def().Name)
	assert.Empty(t, field)

	_, _, err = d.Resolve("CTRL.NOPE")
	assert.ErrorIs(t, err, ErrUnknown)
	_, _, err = d.Resolve("NOPE")
	assert.ErrorIs(t, err, ErrUnknown)
}

func TestDeviceReset(t *testing.T) {
	d, mem := loadUART(t)
	require.NoError(t, d.Reset())
	assert.Equal(t, []byte{1, 0, 0, 0}, mem[0:4])
	assert.Equal(t, []byte{0x00, 0xff}, mem[0xa:0xc])

	status, err := d.Register("STATUS")
	require.NoError(t, err)
	assert.ErrorIs(t, status.Reset(), ErrNoResetValue)
}

func TestDump(t *testing.T) {
	d, mem := loadUART(t)
	mem[0] = 0x0b
	mem[4] = 0x13

	var buf bytes.Buffer
	require.NoError(t, d.Dump(&buf))
	out := buf.String()

	assert.Contains(t, out, "REGISTER")
	assert.Regexp(t, `CTRL\s+0x0000\s+rw\s+0x0000000b\s+EN=0x1 MODE=0x5 DIV=0x0`, out)
	assert.Regexp(t, `STATUS\s+0x0004\s+ro\s+0x00000013\s+RXNE=0x1 TXE=0x1 ERR=0x1`, out)
	assert.Regexp(t, `TXDATA\s+0x0008\s+wo\s+\[writeonly\]`, out)
	assert.Regexp(t, `TIMESTAMP\s+0x0010\s+rw\s+0x0000000000000000`, out)
}

func TestBindTooSmall(t *testing.T) {
	m, err := Load(filepath.Join("testdata", "uart.yaml"))
	require.NoError(t, err)
	_, err = Bind(m, volmem.NewSlice(alignedBytes(8)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errMemoryTooSmall))
}

func TestField(t *testing.T) {
	f := Field[uint8]{Msb: 5, Lsb: 2}
	assert.Equal(t, uint(4), f.Width())
	assert.Equal(t, uint8(0b00111100), f.Mask())
	assert.Equal(t, uint8(0b1011), f.Get(0b11101100))
	assert.Equal(t, uint8(0b11010111), f.Set(0b11111111, 0b0101))
	assert.True(t, f.Fits(15))
	assert.False(t, f.Fits(16))

	full := Field[uint16]{Msb: 15, Lsb: 0}
	assert.Equal(t, uint16(0xffff), full.Mask())
	assert.Equal(t, uint16(0x1234), full.Get(0x1234))

	top := Field[uint64]{Msb: 63, Lsb: 63}
	assert.Equal(t, uint64(1<<63), top.Mask())
	assert.Equal(t, uint64(1), top.Get(1<<63))
}
