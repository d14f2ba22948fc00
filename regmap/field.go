// SPDX-License-Identifier: Unlicense OR MIT

package regmap

import (
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Field is the bit range [Msb:Lsb] of a register value of type T.
type Field[T constraints.Unsigned] struct {
	Msb, Lsb uint
}

// Width returns the number of bits in the field.
func (f Field[T]) Width() uint {
	return f.Msb - f.Lsb + 1
}

// Mask returns the field bits in register position.
func (f Field[T]) Mask() T {
	var zero T
	bits := uint(unsafe.Sizeof(zero)) * 8
	if f.Width() >= bits {
		return ^zero
	}
	return (T(1)<<f.Width() - 1) << f.Lsb
}

// Get extracts the field from v.
func (f Field[T]) Get(v T) T {
	return v & f.Mask() >> f.Lsb
}

// Set returns v with the field replaced by x. Bits of x that do not
// fit the field are dropped.
func (f Field[T]) Set(v, x T) T {
	m := f.Mask()
	return v&^m | x<<f.Lsb&m
}

// Fits reports whether x fits the field without truncation.
func (f Field[T]) Fits(x T) bool {
	return x<<f.Lsb&f.Mask()>>f.Lsb == x
}
