package tcache

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
)

// Slot owner tags besides meta-cache indices.
const (
	ownerFree       int32 = -1
	ownerTrampoline int32 = -2
	ownerPending    int32 = -3 // written by a block that is not inserted yet
)

// CodeCache is the ring of host instruction words translated blocks run
// from. The last slot is a branch back to slot 0.
type CodeCache struct {
	base   uint32
	words  []uint32
	owner  []int32
	cursor uint32
}

func newCodeCache(base, bytes uint32) *CodeCache {
	n := bytes / 4
	cc := &CodeCache{
		base:  base,
		words: make([]uint32, n),
		owner: make([]int32, n),
	}
	cc.reset()
	return cc
}

func (cc *CodeCache) reset() {
	for i := range cc.words {
		cc.words[i] = 0
		cc.owner[i] = ownerFree
	}
	last := cc.last()
	cc.words[last] = arm.Branch(arm.AL, cc.Address(last), cc.base)
	cc.owner[last] = ownerTrampoline
	cc.cursor = 0
}

// last is the trampoline slot.
func (cc *CodeCache) last() uint32 { return uint32(len(cc.words)) - 1 }

// Capacity is the number of slots blocks can use.
func (cc *CodeCache) Capacity() uint32 { return cc.last() }

// Address is the host address of slot.
func (cc *CodeCache) Address(slot uint32) uint32 { return cc.base + slot*4 }

// SlotOf maps a host address inside the ring back to its slot.
func (cc *CodeCache) SlotOf(addr uint32) (uint32, bool) {
	if addr < cc.base || addr >= cc.base+uint32(len(cc.words))*4 || addr&3 != 0 {
		return 0, false
	}
	return (addr - cc.base) / 4, true
}

func (cc *CodeCache) Base() uint32   { return cc.base }
func (cc *CodeCache) Cursor() uint32 { return cc.cursor }

// Word returns the contents of slot.
func (cc *CodeCache) Word(slot uint32) uint32 { return cc.words[slot] }

// Words returns a copy of the whole ring including the trampoline.
func (cc *CodeCache) Words() []uint32 {
	out := make([]uint32, len(cc.words))
	copy(out, cc.words)
	return out
}

// advance returns the slot that follows slot in program order, skipping the trampoline.
func (cc *CodeCache) advance(slot uint32) uint32 {
	slot++
	if slot >= cc.last() {
		return 0
	}
	return slot
}

// regionSlots lists the slots of r in program order.
func (cc *CodeCache) regionSlots(r Region) []uint32 {
	out := make([]uint32, 0, r.Size)
	s := r.Start
	for i := uint32(0); i < r.Size; i++ {
		out = append(out, s)
		s = cc.advance(s)
	}
	return out
}

// Region reads the words of r in program order.
func (cc *CodeCache) Region(r Region) []uint32 {
	slots := cc.regionSlots(r)
	out := make([]uint32, len(slots))
	for i, s := range slots {
		out[i] = cc.words[s]
	}
	return out
}

// free zero-fills r. A region that wraps is cleared as two chunks.
func (cc *CodeCache) free(r Region, owner int32) {
	if r.Size == 0 {
		return
	}
	end := r.Start + r.Size
	if end <= cc.last() {
		cc.clearSlots(r.Start, end, owner)
		return
	}
	cc.clearSlots(r.Start, cc.last(), owner)
	cc.clearSlots(0, end-cc.last(), owner)
}

func (cc *CodeCache) clearSlots(from, to uint32, owner int32) {
	for s := from; s < to; s++ {
		if cc.owner[s] != owner {
			continue
		}
		cc.words[s] = 0
		cc.owner[s] = ownerFree
	}
}

func (cc *CodeCache) retag(r Region, from, to int32) {
	for _, s := range cc.regionSlots(r) {
		if cc.owner[s] == from {
			cc.owner[s] = to
		}
	}
}

// Trampoline returns the branch word at the end of the ring.
func (cc *CodeCache) Trampoline() uint32 { return cc.words[cc.last()] }
