// SPDX-License-Identifier: Unlicense OR MIT

package volmem_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"eliasnaur.com/volmem"
)

func TestFormat(t *testing.T) {
	reg := uint8(0xff)
	assert.Equal(t, "Cell(255)", fmt.Sprint(volmem.New(&reg)))
	assert.Equal(t, "Cell(0xff)", fmt.Sprintf("%#x", volmem.NewReadOnly(&reg)))
	assert.Equal(t, "Cell([writeonly])", fmt.Sprint(volmem.NewWriteOnly(&reg)))
	assert.Equal(t, "Cell([writeonly])", fmt.Sprintf("%x", volmem.AsWriteOnly(volmem.New(&reg))))

	buf := []uint16{1, 2, 3}
	assert.Equal(t, "Slice([1 2 3])", fmt.Sprint(volmem.NewSlice(buf)))
	assert.Equal(t, "Slice([0001 0002 0003])", fmt.Sprintf("%04x", volmem.NewSliceReadOnly(buf)))
	assert.Equal(t, "Slice([writeonly])", fmt.Sprint(volmem.NewSliceWriteOnly(buf)))
}

func TestFormatStruct(t *testing.T) {
	type pair struct {
		Lo, Hi uint32
	}
	p := pair{1, 2}
	assert.Equal(t, "Cell({Lo:1 Hi:2})", fmt.Sprintf("%+v", volmem.New(&p)))
}
