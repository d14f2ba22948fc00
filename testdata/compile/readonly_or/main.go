// SPDX-License-Identifier: Unlicense OR MIT

package main

import "eliasnaur.com/volmem"

func main() {
	var reg uint32
	volmem.Or(volmem.NewReadOnly(&reg), 1)
}
