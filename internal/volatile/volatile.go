// SPDX-License-Identifier: Unlicense OR MIT

// Package volatile implements memory accesses that the compiler may
// neither elide, merge nor reorder relative to each other.
package volatile

import "unsafe"

// Unit returns the access unit for values of the given size and
// alignment: the alignment, capped at 8 bytes.
func Unit(size, align uintptr) uintptr {
	u := align
	if u > 8 {
		u = 8
	}
	for u > 1 && size%u != 0 {
		u >>= 1
	}
	return u
}

// fit demotes unit until both addresses are aligned to it.
func fit(unit uintptr, a, b uintptr) uintptr {
	if unit == 0 {
		return 1
	}
	for unit > 1 && (a|b)&(unit-1) != 0 {
		unit >>= 1
	}
	return unit
}

func load(p unsafe.Pointer, unit uintptr) uint64 {
	switch unit {
	case 8:
		return Load64((*uint64)(p))
	case 4:
		return uint64(Load32((*uint32)(p)))
	case 2:
		return uint64(Load16((*uint16)(p)))
	default:
		return uint64(Load8((*uint8)(p)))
	}
}

func store(p unsafe.Pointer, unit uintptr, v uint64) {
	switch unit {
	case 8:
		Store64((*uint64)(p), v)
	case 4:
		Store32((*uint32)(p), uint32(v))
	case 2:
		Store16((*uint16)(p), uint16(v))
	default:
		Store8((*uint8)(p), uint8(v))
	}
}

// Copy copies n bytes from src to dst in ascending order, one access
// of unit bytes at a time. The regions must not overlap.
func Copy(dst, src unsafe.Pointer, n, unit uintptr) {
	unit = fit(unit, uintptr(dst), uintptr(src))
	for n%unit != 0 {
		unit >>= 1
	}
	for off := uintptr(0); off < n; off += unit {
		store(unsafe.Add(dst, off), unit, load(unsafe.Add(src, off), unit))
	}
}

// Move is like Copy but allows the regions to overlap. The
// destination holds the original source bytes when Move returns.
func Move(dst, src unsafe.Pointer, n, unit uintptr) {
	if n == 0 || dst == src {
		return
	}
	if uintptr(dst) < uintptr(src) || uintptr(dst) >= uintptr(src)+n {
		Copy(dst, src, n, unit)
		return
	}
	// Destination overlaps the tail of the source; copy backwards.
	unit = fit(unit, uintptr(dst), uintptr(src))
	for n%unit != 0 {
		unit >>= 1
	}
	for off := n; off > 0; {
		off -= unit
		store(unsafe.Add(dst, off), unit, load(unsafe.Add(src, off), unit))
	}
}

// Set stores b into each of the n bytes at dst.
func Set(dst unsafe.Pointer, b byte, n uintptr) {
	for off := uintptr(0); off < n; off++ {
		Store8((*uint8)(unsafe.Add(dst, off)), b)
	}
}
