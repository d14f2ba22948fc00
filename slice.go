// SPDX-License-Identifier: Unlicense OR MIT

package volmem

import (
	"fmt"
	"reflect"
	"unsafe"

	"eliasnaur.com/volmem/access"
	"eliasnaur.com/volmem/internal/volatile"
)

// Slice is a volatile view of a sequence of elements with access mode
// A. Bulk operations access memory one element at a time and never
// merge neighbouring elements into a wider access.
type Slice[E any, A any] struct {
	_ [0]A
	s []E
}

// NewSlice wraps s in a Slice that permits loads and stores.
func NewSlice[E any](s []E) Slice[E, access.ReadWrite] {
	return Slice[E, access.ReadWrite]{s: s}
}

// NewSliceReadOnly wraps s in a Slice that permits loads only.
func NewSliceReadOnly[E any](s []E) Slice[E, access.ReadOnly] {
	return Slice[E, access.ReadOnly]{s: s}
}

// NewSliceWriteOnly wraps s in a Slice that permits stores only.
func NewSliceWriteOnly[E any](s []E) Slice[E, access.WriteOnly] {
	return Slice[E, access.WriteOnly]{s: s}
}

// SliceWithAccess wraps s with a caller-chosen access mode.
func SliceWithAccess[A any, E any](s []E) Slice[E, A] {
	return Slice[E, A]{s: s}
}

// Handle returns the wrapped slice without accessing memory.
func (s Slice[E, A]) Handle() []E {
	return s.s
}

// Len returns the number of elements.
func (s Slice[E, A]) Len() int {
	return len(s.s)
}

// Index returns a Cell over element i. It panics if i is out of range.
func (s Slice[E, A]) Index(i int) Cell[E, A] {
	return Cell[E, A]{p: &s.s[i]}
}

// Sub returns the elements [i:j]. It panics if the range is out of
// bounds, like ordinary slicing.
func (s Slice[E, A]) Sub(i, j int) Slice[E, A] {
	return Slice[E, A]{s: s.s[i:j:j]}
}

// AsSlice reinterprets a Cell over an array [N]E as a Slice of its N
// elements. It panics if T is not an array of E.
func AsSlice[E, T, A any](c Cell[T, A]) Slice[E, A] {
	t := reflect.TypeFor[T]()
	if t.Kind() != reflect.Array || t.Elem() != reflect.TypeFor[E]() {
		panic(fmt.Sprintf("volmem: %v is not an array of %v", t, reflect.TypeFor[E]()))
	}
	if c.p == nil {
		return Slice[E, A]{}
	}
	return Slice[E, A]{s: unsafe.Slice((*E)(unsafe.Pointer(c.p)), t.Len())}
}

// AsReadOnlySlice narrows s to loads only. There is no inverse.
func AsReadOnlySlice[E any](s Slice[E, access.ReadWrite]) Slice[E, access.ReadOnly] {
	return Slice[E, access.ReadOnly]{s: s.s}
}

// AsWriteOnlySlice narrows s to stores only. There is no inverse.
func AsWriteOnlySlice[E any](s Slice[E, access.ReadWrite]) Slice[E, access.WriteOnly] {
	return Slice[E, access.WriteOnly]{s: s.s}
}

// ReadAll loads every element into a newly allocated slice.
func ReadAll[E any, A access.Readable](s Slice[E, A]) []E {
	dst := make([]E, len(s.s))
	CopyInto(s, dst)
	return dst
}

// CopyInto loads every element of s into dst. It panics if the
// lengths differ.
func CopyInto[E any, A access.Readable](s Slice[E, A], dst []E) {
	checkLen(len(dst), len(s.s))
	copySlice(dst, s.s)
}

// CopyFrom stores every element of src into s. It panics if the
// lengths differ.
func CopyFrom[E any, A access.Writable](s Slice[E, A], src []E) {
	checkLen(len(s.s), len(src))
	copySlice(s.s, src)
}

// CopyWithin moves the elements [start:end] to index dest. The ranges
// may overlap. It panics if either range falls outside s.
func CopyWithin[E any, A access.ReadWriter](s Slice[E, A], start, end, dest int) {
	if start < 0 || start > end || end > len(s.s) {
		panic(fmt.Sprintf("volmem: range [%d:%d] out of bounds for length %d", start, end, len(s.s)))
	}
	count := end - start
	if dest < 0 || dest > len(s.s)-count {
		panic(fmt.Sprintf("volmem: destination %d out of bounds for %d elements of %d", dest, count, len(s.s)))
	}
	if count == 0 {
		return
	}
	volatile.Move(unsafe.Pointer(&s.s[dest]), unsafe.Pointer(&s.s[start]), byteLen[E](count), unit[E]())
}

// Fill stores b into every byte of s.
func Fill[A access.Writable](s Slice[byte, A], b byte) {
	if len(s.s) == 0 {
		return
	}
	volatile.Set(unsafe.Pointer(&s.s[0]), b, uintptr(len(s.s)))
}

// copySlice copies src to the equally long dst with volatile
// accesses.
func copySlice[E any](dst, src []E) {
	if len(src) == 0 {
		return
	}
	volatile.Copy(unsafe.Pointer(&dst[0]), unsafe.Pointer(&src[0]), byteLen[E](len(src)), unit[E]())
}

func checkLen(dst, src int) {
	if dst != src {
		panic(fmt.Sprintf("volmem: destination length %d does not match source length %d", dst, src))
	}
}

func byteLen[E any](n int) uintptr {
	var e E
	return unsafe.Sizeof(e) * uintptr(n)
}
