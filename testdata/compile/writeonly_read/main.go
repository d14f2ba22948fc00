// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	var reg uint8
	_ = volmem.Read(volmem.NewWriteOnly(&reg))
}
