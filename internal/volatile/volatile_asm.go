// SPDX-License-Identifier: Unlicense OR MIT

//go:build amd64 || arm64

package volatile

//go:noescape
func Load8(addr *uint8) uint8

//go:noescape
func Load16(addr *uint16) uint16

//go:noescape
func Load32(addr *uint32) uint32

//go:noescape
func Load64(addr *uint64) uint64

//go:noescape
func Store8(addr *uint8, val uint8)

//go:noescape
func Store16(addr *uint16, val uint16)

//go:noescape
func Store32(addr *uint32, val uint32)

//go:noescape
func Store64(addr *uint64, val uint64)
