// SPDX-License-Identifier: Unlicense OR MIT

package main

import (
	"fmt"

	"eliasnaur.com/volmem"
)

func main() {
	var reg uint32
	var buf [8]byte

	rw := volmem.New(&reg)
	volmem.Write(rw, 1)
	volmem.Update(rw, func(v *uint32) { *v++ })
	volmem.Or(rw, 0x10)

	ro := volmem.AsReadOnly(rw)
	fmt.Println(volmem.Read(ro))

	wo := volmem.AsWriteOnly(rw)
	volmem.Write(wo, 5)
	fmt.Println(wo)

	s := volmem.AsSlice[byte](volmem.New(&buf))
	volmem.CopyWithin(s, 0, 4, 4)
	volmem.Fill(volmem.AsWriteOnlySlice(s), 0)
	volmem.CopyInto(volmem.AsReadOnlySlice(s), make([]byte, 8))
}
