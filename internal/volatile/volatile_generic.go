// SPDX-License-Identifier: Unlicense OR MIT

//go:build !amd64 && !arm64

package volatile

// The fallback accessors rely on the compiler never inlining them,
// which keeps each access in place and in program order.

//go:noinline
func Load8(addr *uint8) uint8 {
	return *addr
}

//go:noinline
func Load16(addr *uint16) uint16 {
	return *addr
}

//go:noinline
func Load32(addr *uint32) uint32 {
	return *addr
}

//go:noinline
func Load64(addr *uint64) uint64 {
	return *addr
}

//go:noinline
func Store8(addr *uint8, val uint8) {
	*addr = val
}

//go:noinline
func Store16(addr *uint16, val uint16) {
	*addr = val
}

//go:noinline
func Store32(addr *uint32, val uint32) {
	*addr = val
}

//go:noinline
func Store64(addr *uint64, val uint64) {
	*addr = val
}
