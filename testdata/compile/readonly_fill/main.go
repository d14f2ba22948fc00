// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	buf := make([]byte, 4)
	volmem.Fill(volmem.NewSliceReadOnly(buf), 0xff)
}
