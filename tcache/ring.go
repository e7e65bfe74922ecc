package tcache

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// Code returns the code cache, nil in trap mode.
func (tc *TranslationCache) Code() *CodeCache { return tc.code }

// PeekSlot returns the slot the next Emit will write.
func (tc *TranslationCache) PeekSlot() uint32 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.code.cursor >= tc.code.last() {
		return 0
	}
	return tc.code.cursor
}

// SlotAddress is the host address of a code cache slot.
func (tc *TranslationCache) SlotAddress(slot uint32) uint32 { return tc.code.Address(slot) }

// claimSlot makes the slot at the cursor writable: it wraps the cursor at
// the trampoline and evicts whichever block still owns the slot.
func (tc *TranslationCache) claimSlot() uint32 {
	cc := tc.code
	if cc.cursor >= cc.last() {
		log.Debug(log.TCacheMonitoring, "C$ wrap-around")
		cc.cursor = 0
		tc.stats.Wraps++
		tc.emit(Event{Kind: EventWrap})
	}
	slot := cc.cursor
	switch owner := cc.owner[slot]; {
	case owner == ownerPending:
		hyperrors.Abort(hyperrors.ErrCBlockTooLarge, "block wrapped onto itself at slot %d", slot)
	case owner >= 0:
		if uint32(owner) >= tc.Size() {
			hyperrors.Abort(hyperrors.ErrCInvalidBackpointer, "slot %d owned by %d", slot, owner)
		}
		log.Trace(log.TCacheMonitoring, "evict by back-pointer", "slot", slot, "index", owner)
		tc.remove(uint32(owner))
	}
	return slot
}

// Emit appends word to the block being built and returns its slot.
func (tc *TranslationCache) Emit(word uint32) uint32 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	slot := tc.claimSlot()
	tc.code.words[slot] = word
	tc.code.owner[slot] = ownerPending
	tc.code.cursor = slot + 1
	return slot
}

// Patch rewrites a slot of the block being built.
func (tc *TranslationCache) Patch(slot, word uint32) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.code.owner[slot] != ownerPending {
		hyperrors.Abort(hyperrors.ErrCInvalidBackpointer, "patch of slot %d owned by %d", slot, tc.code.owner[slot])
	}
	tc.code.words[slot] = word
}

// Abandon releases the slots of a block that will not be inserted.
func (tc *TranslationCache) Abandon(r Region) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.code.free(r, ownerPending)
}

// Merge relocates a block that wrapped around the ring so that a literal
// transfer ended up before the reserved word it addresses. The block is
// copied to the start of the ring and its offsets rewritten; otherwise r is
// returned unchanged.
func (tc *TranslationCache) Merge(r Region) Region {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !r.Reserved || r.Size < 3 {
		return r
	}
	cc := tc.code
	slots := cc.regionSlots(r)
	reserved := slots[1]
	split := false
	for i := len(slots) - 1; i >= 2; i-- {
		if arm.IsLiteralTransfer(cc.words[slots[i]]) && slots[i] < reserved {
			split = true
			break
		}
	}
	if !split {
		return r
	}
	log.Debug(log.TCacheMonitoring, "merging split block", "start", r.Start, "size", r.Size)

	words := cc.Region(r)
	for s := uint32(0); s < r.Size; s++ {
		if owner := cc.owner[s]; owner >= 0 {
			if uint32(owner) >= tc.Size() {
				hyperrors.Abort(hyperrors.ErrCInvalidBackpointer, "slot %d owned by %d", s, owner)
			}
			tc.remove(uint32(owner))
		}
	}
	cc.free(r, ownerPending)

	reservedAddr := cc.Address(1)
	for i, w := range words {
		if i >= 2 && arm.IsLiteralTransfer(w) {
			off := cc.Address(uint32(i)) + arm.PipelineOffset - reservedAddr
			if off > 0xFFF {
				hyperrors.Abort(hyperrors.ErrCRelocationOverflow, "offset %#x at slot %d", off, i)
			}
			w = w&^(1<<23|0xFFF) | off
		}
		cc.words[i] = w
		cc.owner[i] = ownerPending
	}
	cc.cursor = r.Size
	tc.stats.Merges++
	return Region{Start: 0, Size: r.Size, Reserved: r.Reserved}
}
