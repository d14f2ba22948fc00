// SPDX-License-Identifier: Unlicense OR MIT

package volmem

import (
	"golang.org/x/exp/constraints"

	"eliasnaur.com/volmem/access"
)

// Or sets the bits of mask in the register. Like Update, it is a
// plain load followed by a store.
func Or[T constraints.Unsigned, A access.ReadWriter](c Cell[T, A], mask T) {
	Update(c, func(v *T) { *v |= mask })
}

// AndNot clears the bits of mask in the register.
func AndNot[T constraints.Unsigned, A access.ReadWriter](c Cell[T, A], mask T) {
	Update(c, func(v *T) { *v &^= mask })
}

// Toggle inverts the bits of mask in the register.
func Toggle[T constraints.Unsigned, A access.ReadWriter](c Cell[T, A], mask T) {
	Update(c, func(v *T) { *v ^= mask })
}

// IsSet reports whether all bits of mask are set.
func IsSet[T constraints.Unsigned, A access.Readable](c Cell[T, A], mask T) bool {
	return Read(c)&mask == mask
}
