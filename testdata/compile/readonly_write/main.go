// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	var reg uint8
	volmem.Write(volmem.NewReadOnly(&reg), 5)
}
