// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	var reg uint32
	ro := volmem.NewReadOnly(&reg)
	_ = volmem.AsWriteOnly(ro)
}
