// SPDX-License-Identifier: Unlicense OR MIT

//go:build linux || darwin || dragonfly || freebsd || netbsd || openbsd

// Package mmio maps device memory into the process and hands out
// volatile views of it. Typical sources are /dev/mem, UIO devices
// (/dev/uioN) and PCI resource files in sysfs.
package mmio

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"eliasnaur.com/volmem"
	"eliasnaur.com/volmem/access"
)

// Mode is the protection of a mapping.
type Mode int

const (
	ModeNone Mode = iota
	ModeReadOnly
	ModeReadWrite
)

var (
	ErrOutOfRange = errors.New("mmio: offset out of range")
	ErrUnaligned  = errors.New("mmio: unaligned offset")
	ErrAccess     = errors.New("mmio: access not permitted by mapping")
	ErrClosed     = errors.New("mmio: region closed")
)

// Region is a mapped window of device or anonymous memory.
type Region struct {
	// mapping is the page aligned slice returned by mmap.
	mapping []byte
	// mem is the window requested by the caller.
	mem  []byte
	mode Mode
	name string
}

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeReadOnly:
		return "ro"
	case ModeReadWrite:
		return "rw"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

func (m Mode) prot() int {
	switch m {
	case ModeReadOnly:
		return unix.PROT_READ
	case ModeReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	default:
		return unix.PROT_NONE
	}
}

// Open maps size bytes at offset of the file at path. The offset need
// not be page aligned. Mappings are shared and the file is opened with
// O_SYNC so that /dev/mem mappings are uncached.
func Open(path string, offset int64, size int, mode Mode) (*Region, error) {
	if mode != ModeReadOnly && mode != ModeReadWrite {
		return nil, fmt.Errorf("mmio: open %s: invalid mode %v", path, mode)
	}
	if offset < 0 || size <= 0 {
		return nil, fmt.Errorf("mmio: open %s: invalid window %#x+%#x", path, offset, size)
	}
	flags := unix.O_RDONLY
	if mode == ModeReadWrite {
		flags = unix.O_RDWR
	}
	fd, err := unix.Open(path, flags|unix.O_SYNC|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("mmio: open %s: %w", path, err)
	}
	defer unix.Close(fd)
	page := int64(unix.Getpagesize())
	base := offset &^ (page - 1)
	delta := int(offset - base)
	mapping, err := unix.Mmap(fd, base, delta+size, mode.prot(), unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmio: map %s at %#x: %w", path, offset, err)
	}
	return &Region{
		mapping: mapping,
		mem:     mapping[delta : delta+size : delta+size],
		mode:    mode,
		name:    path,
	}, nil
}

// Anonymous maps size bytes of zeroed private memory, for simulating
// devices.
func Anonymous(size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("mmio: invalid anonymous size %d", size)
	}
	page := unix.Getpagesize()
	length := (size + page - 1) &^ (page - 1)
	mapping, err := unix.Mmap(-1, 0, length, ModeReadWrite.prot(), unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmio: map anonymous: %w", err)
	}
	return &Region{
		mapping: mapping,
		mem:     mapping[:size:size],
		mode:    ModeReadWrite,
		name:    "anonymous",
	}, nil
}

// Len returns the size of the window.
func (r *Region) Len() int {
	return len(r.mem)
}

// Mode returns the current protection.
func (r *Region) Mode() Mode {
	return r.mode
}

func (r *Region) String() string {
	return fmt.Sprintf("%s[%#x](%v)", r.name, len(r.mem), r.mode)
}

// Protect changes the protection of the whole mapping. Views handed
// out earlier keep their types; accessing them against the new
// protection faults.
func (r *Region) Protect(mode Mode) error {
	if r.mapping == nil {
		return ErrClosed
	}
	if err := unix.Mprotect(r.mapping, mode.prot()); err != nil {
		return fmt.Errorf("mmio: protect %s: %w", r.name, err)
	}
	r.mode = mode
	return nil
}

// Close unmaps the region. Views obtained from it must not be used
// afterwards.
func (r *Region) Close() error {
	if r.mapping == nil {
		return ErrClosed
	}
	err := unix.Munmap(r.mapping)
	r.mapping, r.mem = nil, nil
	if err != nil {
		return fmt.Errorf("mmio: unmap %s: %w", r.name, err)
	}
	return nil
}

// At returns a view of the T at byte offset off, with access mode A.
// The offset must be aligned for T and the mapping must permit the
// accesses A allows.
func At[T any, A any](r *Region, off int) (volmem.Cell[T, A], error) {
	var v T
	p, err := r.pointer(off, int(unsafe.Sizeof(v)), unsafe.Alignof(v), access.IsReadable[A](), access.IsWritable[A]())
	if err != nil {
		return volmem.Cell[T, A]{}, err
	}
	return volmem.WithAccess[A]((*T)(p)), nil
}

// ArrayAt returns a view of n consecutive elements starting at byte
// offset off.
func ArrayAt[E any, A any](r *Region, off, n int) (volmem.Slice[E, A], error) {
	var e E
	if n < 0 {
		return volmem.Slice[E, A]{}, fmt.Errorf("%w: negative length %d", ErrOutOfRange, n)
	}
	p, err := r.pointer(off, n*int(unsafe.Sizeof(e)), unsafe.Alignof(e), access.IsReadable[A](), access.IsWritable[A]())
	if err != nil {
		return volmem.Slice[E, A]{}, err
	}
	return volmem.SliceWithAccess[A](unsafe.Slice((*E)(p), n)), nil
}

// Bytes returns the whole window as bytes.
func Bytes[A any](r *Region) (volmem.Slice[byte, A], error) {
	return ArrayAt[byte, A](r, 0, r.Len())
}

func (r *Region) pointer(off, size int, align uintptr, read, write bool) (unsafe.Pointer, error) {
	if r.mapping == nil {
		return nil, ErrClosed
	}
	if off < 0 || off >= len(r.mem) || size > len(r.mem)-off {
		return nil, fmt.Errorf("%w: %#x+%#x exceeds %s", ErrOutOfRange, off, size, r)
	}
	if write && r.mode != ModeReadWrite || read && r.mode == ModeNone {
		return nil, fmt.Errorf("%w: %s", ErrAccess, r)
	}
	p := unsafe.Pointer(&r.mem[off])
	if uintptr(p)%align != 0 {
		return nil, fmt.Errorf("%w: %#x is not %d-byte aligned", ErrUnaligned, off, align)
	}
	return p, nil
}
