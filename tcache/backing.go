package tcache

import (
	"github.com/dkudinskas/hyparm-sub003/log"
)

// backing materializes and reverses blocks. trapBacking patches guest
// memory in place; copyBacking owns code cache regions.
type backing interface {
	insert(tc *TranslationCache, index uint32, e Entry)
	resolveConflict(tc *TranslationCache, index uint32)
	release(tc *TranslationCache, index uint32)
}

type trapBacking struct{}

func (trapBacking) insert(tc *TranslationCache, index uint32, e Entry) {
	slot := &tc.entries[index]
	switch {
	case !slot.Valid():
		*slot = e
	case slot.End != e.End:
		tc.backing.resolveConflict(tc, index)
		slot.End = e.End
		slot.Hypered = e.Hypered
		slot.Handler = e.Handler
		slot.Type = e.Type
		slot.TrapWord = e.TrapWord
	default:
		// Same trap site: one physical trap serves both starts.
		log.Debug(log.TCacheMonitoring, "aliased block end", "index", index, "old", slot.Start, "new", e.Start, "end", e.End)
	}
	slot.Start = e.Start
	tc.writeTrap(*slot, slot.TrapWord)
	tc.bitmap.setRange(slot.Start, slot.End)
}

// resolveConflict hands the trap of the block at index over to another
// block with the same end, or restores the original instruction.
func (trapBacking) resolveConflict(tc *TranslationCache, index uint32) {
	old := tc.entries[index]
	tc.countCollision(index, old)
	if i, ok := tc.sharedEnd(index, old.End); ok {
		log.Debug(log.TCacheMonitoring, "trap chained", "end", old.End, "from", index, "to", i)
		tc.retarget(tc.entries[i], i)
		return
	}
	tc.restoreInstruction(old)
}

func (trapBacking) release(tc *TranslationCache, index uint32) {
	e := tc.entries[index]
	if i, ok := tc.sharedEnd(index, e.End); ok {
		tc.retarget(tc.entries[i], i)
		return
	}
	tc.restoreInstruction(e)
}

type copyBacking struct{}

func (copyBacking) insert(tc *TranslationCache, index uint32, e Entry) {
	if tc.entries[index].Valid() {
		tc.backing.resolveConflict(tc, index)
	}
	r := *e.Code
	tc.code.words[r.Start] = index
	tc.code.retag(r, ownerPending, int32(index))
	e.Code = &r
	tc.entries[index] = e
	tc.bitmap.setRange(e.Start, e.End)
}

func (copyBacking) resolveConflict(tc *TranslationCache, index uint32) {
	old := tc.entries[index]
	tc.countCollision(index, old)
	tc.code.free(*old.Code, int32(index))
}

func (copyBacking) release(tc *TranslationCache, index uint32) {
	if r := tc.entries[index].Code; r != nil {
		tc.code.free(*r, int32(index))
	}
}

func (tc *TranslationCache) countCollision(index uint32, old Entry) {
	if tc.cfg.CountCollisions {
		tc.stats.Collisions++
	}
	tc.stats.Evictions++
	tc.emit(Event{Kind: EventEvict, Index: index, Start: old.Start, End: old.End})
}
