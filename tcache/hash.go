package tcache

// hash mixes a guest start address so that sequential blocks spread over the meta-cache.
func hash(a uint32) uint32 {
	a = ^a + (a << 15)
	a ^= a >> 12
	a += a << 2
	a ^= a >> 4
	a *= 2057
	a ^= a >> 16
	return a >> 2
}

const (
	bitmapWords     = 16
	bitmapWordShift = 28
	bitmapBitShift  = 23 // 8 MiB per bit
)

// execBitmap records which 8 MiB spans ever held part of a block.
type execBitmap [bitmapWords]uint32

func bitmapPos(addr uint32) (word uint32, bit uint32) {
	return addr >> bitmapWordShift, (addr & 0x0FFFFFFF) >> bitmapBitShift
}

func (b *execBitmap) set(addr uint32) {
	w, bit := bitmapPos(addr)
	b[w] |= 1 << bit
}

// setRange marks every span touched by [lo, hi].
func (b *execBitmap) setRange(lo, hi uint32) {
	if lo > hi {
		lo = hi
	}
	for span := lo >> bitmapBitShift; ; span++ {
		b.set(span << bitmapBitShift)
		if span == hi>>bitmapBitShift {
			break
		}
	}
}

func (b *execBitmap) isSet(addr uint32) bool {
	w, bit := bitmapPos(addr)
	return b[w]&(1<<bit) != 0
}

func (b *execBitmap) clear() {
	*b = execBitmap{}
}
