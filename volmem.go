// SPDX-License-Identifier: Unlicense OR MIT

// Package volmem wraps memory that must be accessed with volatile
// semantics, typically memory-mapped device registers. Every load and
// store goes through a primitive the compiler cannot elide, merge or
// reorder relative to other volatile accesses.
//
// The access mode of a container is part of its type. Operations are
// constrained by the capabilities in package access, so writing to a
// read-only register or reading a write-only one does not compile:
//
//	status := volmem.NewReadOnly(&regs.status)
//	ctrl := volmem.New(&regs.ctrl)
//	if volmem.Read(status)&ready != 0 {
//		volmem.Or(ctrl, enable)
//	}
//
// Containers do not own the memory they wrap and do no locking. Sharing
// registers between goroutines is the caller's responsibility.
package volmem

import (
	"unsafe"

	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/internal/volatile"
)

// Cell is a volatile view of a single value of type T with access
// mode A. The zero Cell wraps a nil pointer.
type Cell[T any, A any] struct {
	_ [0]A
	p *T
}

// New wraps p in a Cell that permits loads and stores.
func New[T any](p *T) Cell[T, access.ReadWrite] {
	return Cell[T, access.ReadWrite]{p: p}
}

// NewReadOnly wraps p in a Cell that permits loads only.
func NewReadOnly[T any](p *T) Cell[T, access.ReadOnly] {
	return Cell[T, access.ReadOnly]{p: p}
}

// NewWriteOnly wraps p in a Cell that permits stores only.
func NewWriteOnly[T any](p *T) Cell[T, access.WriteOnly] {
	return Cell[T, access.WriteOnly]{p: p}
}

// WithAccess wraps p with a caller-chosen access mode, for modes
// declared outside package access.
func WithAccess[A any, T any](p *T) Cell[T, A] {
	return Cell[T, A]{p: p}
}

// Handle returns the wrapped pointer without accessing memory.
func (c Cell[T, A]) Handle() *T {
	return c.p
}

// Read performs a volatile load of the wrapped value.
//
// Values of size 1, 2, 4 or 8 bytes at their natural alignment are
// loaded in a single access. Larger values are loaded in ascending
// units of their alignment, at most 8 bytes each.
func Read[T any, A access.Readable](c Cell[T, A]) T {
	var v T
	move(&v, c.p)
	return v
}

// Write performs a volatile store of v, with the same access units as
// Read.
func Write[T any, A access.Writable](c Cell[T, A], v T) {
	move(c.p, &v)
}

// Update loads the value, passes it to f for modification and stores
// the result. The sequence is not atomic: a change made by the device
// between the load and the store is overwritten.
func Update[T any, A access.ReadWriter](c Cell[T, A], f func(v *T)) {
	v := Read(c)
	f(&v)
	Write(c, v)
}

// Map returns a Cell over the part of the value selected by f, such as
// a struct field or array element. Map itself does not access memory.
func Map[T, U, A any](c Cell[T, A], f func(*T) *U) Cell[U, A] {
	return Cell[U, A]{p: f(c.p)}
}

// MapSlice is like Map for parts that are slices.
func MapSlice[T, E, A any](c Cell[T, A], f func(*T) []E) Slice[E, A] {
	return Slice[E, A]{s: f(c.p)}
}

// AsReadOnly narrows c to loads only. There is no inverse.
func AsReadOnly[T any](c Cell[T, access.ReadWrite]) Cell[T, access.ReadOnly] {
	return Cell[T, access.ReadOnly]{p: c.p}
}

// AsWriteOnly narrows c to stores only. There is no inverse.
func AsWriteOnly[T any](c Cell[T, access.ReadWrite]) Cell[T, access.WriteOnly] {
	return Cell[T, access.WriteOnly]{p: c.p}
}

func unit[T any]() uintptr {
	var v T
	return volatile.Unit(unsafe.Sizeof(v), unsafe.Alignof(v))
}

// move copies *src to *dst with volatile accesses.
func move[T any](dst, src *T) {
	n := unsafe.Sizeof(*dst)
	volatile.Copy(unsafe.Pointer(dst), unsafe.Pointer(src), n, unit[T]())
}
