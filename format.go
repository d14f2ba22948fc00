// SPDX-License-Identifier: Unlicense OR MIT

package volmem

import (
	"fmt"
	"io"

	"eliasnaur.com/volmem/access"
)

const writeOnlyPlaceholder = "[writeonly]"

// Format implements fmt.Formatter. Formatting a readable Cell performs
// one volatile load; the loaded value is printed with the caller's
// verb. A Cell that does not permit loads prints a placeholder and
// never touches memory.
func (c Cell[T, A]) Format(f fmt.State, verb rune) {
	io.WriteString(f, "Cell(")
	if access.IsReadable[A]() {
		var v T
		move(&v, c.p)
		fmt.Fprintf(f, fmt.FormatString(f, verb), v)
	} else {
		io.WriteString(f, writeOnlyPlaceholder)
	}
	io.WriteString(f, ")")
}

// Format implements fmt.Formatter, with the same rules as for Cell.
func (s Slice[E, A]) Format(f fmt.State, verb rune) {
	io.WriteString(f, "Slice(")
	if access.IsReadable[A]() {
		v := make([]E, len(s.s))
		copySlice(v, s.s)
		fmt.Fprintf(f, fmt.FormatString(f, verb), v)
	} else {
		io.WriteString(f, writeOnlyPlaceholder)
	}
	io.WriteString(f, ")")
}
