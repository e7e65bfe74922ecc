package common

import "math/bits"

// CountBitsSet returns the number of set bits in v.
func CountBitsSet(v uint32) int {
	return bits.OnesCount32(v)
}

// CountTrailingZeros returns the index of the lowest set bit, or 32 when v is zero.
func CountTrailingZeros(v uint32) int {
	return bits.TrailingZeros32(v)
}

// CountLeadingZeros returns the number of zero bits above the highest set bit.
func CountLeadingZeros(v uint32) int {
	return bits.LeadingZeros32(v)
}

func IsBitSet(v uint32, bit uint) bool {
	return v&(1<<bit) != 0
}

// BitRange extracts bits hi..lo inclusive.
func BitRange(v uint32, hi, lo uint) uint32 {
	return (v >> lo) & (1<<(hi-lo+1) - 1)
}

// SignExtend widens the low width bits of v to a signed 32-bit value.
func SignExtend(v uint32, width uint) uint32 {
	shift := 32 - width
	return uint32(int32(v<<shift) >> shift)
}

func RotateRight(v uint32, n uint) uint32 {
	return bits.RotateLeft32(v, -int(n%32))
}

// AlignDown clears the low bits of v below alignment a, which must be a power of two.
func AlignDown(v, a uint32) uint32 {
	return v &^ (a - 1)
}

// InRange reports lo <= v <= hi.
func InRange(v, lo, hi uint32) bool {
	return v >= lo && v <= hi
}
