package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountBits(t *testing.T) {
	assert.Equal(t, 0, CountBitsSet(0))
	assert.Equal(t, 5, CountBitsSet(0x800F))
	assert.Equal(t, 32, CountBitsSet(0xFFFFFFFF))

	assert.Equal(t, 0, CountTrailingZeros(1))
	assert.Equal(t, 4, CountTrailingZeros(0x30))
	assert.Equal(t, 32, CountTrailingZeros(0))
	assert.Equal(t, 31, CountLeadingZeros(1))
}

func TestBitRange(t *testing.T) {
	instr := uint32(0xE28F0004)
	assert.Equal(t, uint32(0xE), BitRange(instr, 31, 28))
	assert.Equal(t, uint32(0xF), BitRange(instr, 19, 16))
	assert.Equal(t, uint32(0x0), BitRange(instr, 15, 12))
	assert.Equal(t, uint32(0x004), BitRange(instr, 11, 0))
	assert.Equal(t, instr, BitRange(instr, 31, 0))
	assert.True(t, IsBitSet(instr, 25))
	assert.False(t, IsBitSet(instr, 20))
}

func TestSignExtend(t *testing.T) {
	assert.Equal(t, uint32(0xFFFFFFFC), SignExtend(0x3FFFFFC, 26))
	assert.Equal(t, uint32(0x01FFFFFC), SignExtend(0x1FFFFFC, 26))
	assert.Equal(t, uint32(0xFFFFFF80), SignExtend(0x80, 8))
}

func TestRotateRight(t *testing.T) {
	assert.Equal(t, uint32(0x40000000), RotateRight(1, 2))
	assert.Equal(t, uint32(0xFF000000), RotateRight(0xFF, 8))
	assert.Equal(t, uint32(0x12345678), RotateRight(0x12345678, 0))
	assert.Equal(t, uint32(0x12345678), RotateRight(0x12345678, 32))
}

func TestAlignAndRange(t *testing.T) {
	assert.Equal(t, uint32(0x8000), AlignDown(0x8003, 4))
	assert.True(t, InRange(5, 5, 5))
	assert.False(t, InRange(4, 5, 9))
}
