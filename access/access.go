// SPDX-License-Identifier: Unlicense OR MIT

// Package access defines the capabilities that gate operations on
// volatile memory. The marker types carry no data; they exist to
// parameterize containers so that illegal accesses fail to compile.
//
// Custom access modes are declared by implementing the marker methods
// on a new zero-size type:
//
//	type Strobe struct{}
//
//	func (Strobe) CanWrite() {}
package access

// Readable is satisfied by access modes that permit loads.
type Readable interface {
	CanRead()
}

// Writable is satisfied by access modes that permit stores.
type Writable interface {
	CanWrite()
}

// ReadWriter is satisfied by access modes that permit both loads and
// stores, as required by read-modify-write operations.
type ReadWriter interface {
	Readable
	Writable
}

// ReadOnly permits loads only.
type ReadOnly struct{}

// WriteOnly permits stores only.
type WriteOnly struct{}

// ReadWrite permits loads and stores.
type ReadWrite struct{}

func (ReadOnly) CanRead() {}

func (WriteOnly) CanWrite() {}

func (ReadWrite) CanRead() {}
func (ReadWrite) CanWrite() {}

func (ReadOnly) String() string { return "ro" }
func (WriteOnly) String() string { return "wo" }
func (ReadWrite) String() string { return "rw" }

// IsReadable reports whether A permits loads. It is meant for
// diagnostics; operations are gated by the type constraints.
func IsReadable[A any]() bool {
	var a A
	_, ok := any(a).(Readable)
	return ok
}

// IsWritable reports whether A permits stores.
func IsWritable[A any]() bool {
	var a A
	_, ok := any(a).(Writable)
	return ok
}
