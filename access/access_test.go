// SPDX-License-Identifier: Unlicense OR MIT

package access

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
)

type strobe struct{}

func (strobe) CanWrite() {}

func TestCapabilities(t *testing.T) {
	assert.True(t, IsReadable[ReadOnly]())
	assert.False(t, IsWritable[ReadOnly]())

	assert.False(t, IsReadable[WriteOnly]())
	assert.True(t, IsWritable[WriteOnly]())

	assert.True(t, IsReadable[ReadWrite]())
	assert.True(t, IsWritable[ReadWrite]())

	assert.False(t, IsReadable[strobe]())
	assert.True(t, IsWritable[strobe]())

	assert.False(t, IsReadable[int]())
	assert.False(t, IsWritable[int]())
}

func TestZeroSize(t *testing.T) {
	assert.Zero(t, unsafe.Sizeof(ReadOnly{}))
	assert.Zero(t, unsafe.Sizeof(WriteOnly{}))
	assert.Zero(t, unsafe.Sizeof(ReadWrite{}))
}

func TestString(t *testing.T) {
	assert.Equal(t, "ro", ReadOnly{}.String())
	assert.Equal(t, "wo", WriteOnly{}.String())
	assert.Equal(t, "rw", ReadWrite{}.String())
}
