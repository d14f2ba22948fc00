// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	var reg uint16
	volmem.Update(volmem.NewReadOnly(&reg), func(v *uint16) { *v |= 1 })
}
