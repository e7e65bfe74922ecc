package tcache

import (
	"fmt"
	"sync"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// TranslationCache maps guest block start addresses to cached blocks. One
// cache belongs to one guest; all methods serialize on an internal mutex.
type TranslationCache struct {
	mu sync.Mutex

	cfg     Config
	entries []Entry
	bitmap  execBitmap
	code    *CodeCache
	backing backing

	mem guest.Memory
	cm  guest.CacheMaintenance

	stats       Stats
	subscribers []func(Event)
}

// New builds an empty cache over guest memory mem.
func New(cfg Config, mem guest.Memory, cm guest.CacheMaintenance) (*TranslationCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cm == nil {
		cm = guest.NopCacheMaintenance{}
	}
	tc := &TranslationCache{
		cfg:     cfg,
		entries: make([]Entry, cfg.MetaEntries),
		mem:     mem,
		cm:      cm,
	}
	if cfg.CodeCopy {
		tc.code = newCodeCache(cfg.CodeCacheBase, cfg.CodeCacheBytes)
		tc.backing = copyBacking{}
	} else {
		tc.backing = trapBacking{}
	}
	log.Debug(log.TCacheMonitoring, "translation cache created", "entries", cfg.MetaEntries, "codeCopy", cfg.CodeCopy)
	return tc, nil
}

func (tc *TranslationCache) Config() Config { return tc.cfg }

// Size is the number of meta-cache slots.
func (tc *TranslationCache) Size() uint32 { return uint32(len(tc.entries)) }

// Index is the meta-cache slot for a block starting at start.
func (tc *TranslationCache) Index(start uint32) uint32 {
	return hash(start) & (tc.Size() - 1)
}

// Get returns the entry at index if it is live and starts at start.
func (tc *TranslationCache) Get(index, start uint32) (Entry, bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if index >= tc.Size() {
		return Entry{}, false
	}
	e := tc.entries[index]
	if !e.Valid() || e.Start != start {
		return Entry{}, false
	}
	return e, true
}

// Lookup hashes start and returns its entry and slot on a hit.
func (tc *TranslationCache) Lookup(start uint32) (Entry, uint32, bool) {
	idx := tc.Index(start)
	e, ok := tc.Get(idx, start)
	return e, idx, ok
}

// EntryAt returns slot index regardless of its start address. Used to
// resolve a fired trap, which identifies its slot directly.
func (tc *TranslationCache) EntryAt(index uint32) (Entry, error) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if index >= tc.Size() {
		return Entry{}, fmt.Errorf("%w: index %d", hyperrors.ErrCInvalidEntry, index)
	}
	e := tc.entries[index]
	if !e.Valid() {
		return Entry{}, fmt.Errorf("%w: index %d", hyperrors.ErrCInvalidEntry, index)
	}
	return e, nil
}

// Entries returns a copy of every slot.
func (tc *TranslationCache) Entries() []Entry {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]Entry, len(tc.entries))
	copy(out, tc.entries)
	return out
}

// Insert places e at index. In trap mode it installs e.TrapWord at e.End; in
// copy mode e.Code must describe the region the block was emitted to.
func (tc *TranslationCache) Insert(index uint32, e Entry) error {
	if index >= tc.Size() {
		return fmt.Errorf("%w: index %d", hyperrors.ErrCInvalidEntry, index)
	}
	if e.Type == Invalid {
		return fmt.Errorf("%w: inserting an invalid entry", hyperrors.ErrCInvalidEntry)
	}
	if tc.cfg.CodeCopy != (e.Code != nil) {
		return fmt.Errorf("%w: code region does not match the cache backing", hyperrors.ErrCInvalidEntry)
	}
	if e.Type == Thumb && (tc.cfg.CodeCopy || index+1 > 0xFF) {
		return fmt.Errorf("%w: thumb block at index %d", hyperrors.ErrCInvalidEntry, index)
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.backing.insert(tc, index, e)
	tc.stats.Inserts++
	tc.emit(Event{Kind: EventInsert, Index: index, Start: e.Start, End: e.End})
	log.Debug(log.TCacheMonitoring, "insert", "index", index, "start", e.Start, "end", e.End, "type", e.Type)
	return nil
}

// Remove drops the live entry at index and undoes its side effects.
func (tc *TranslationCache) Remove(index uint32) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if index >= tc.Size() || !tc.entries[index].Valid() {
		return
	}
	tc.remove(index)
}

func (tc *TranslationCache) remove(index uint32) {
	e := tc.entries[index]
	tc.backing.release(tc, index)
	tc.entries[index] = Entry{}
	tc.stats.Removes++
	tc.emit(Event{Kind: EventRemove, Index: index, Start: e.Start, End: e.End})
	log.Debug(log.TCacheMonitoring, "remove", "index", index, "start", e.Start, "end", e.End)
}

// Clear removes every live entry and resets the execution bitmap.
func (tc *TranslationCache) Clear() {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for i := range tc.entries {
		if tc.entries[i].Valid() {
			tc.remove(uint32(i))
		}
	}
	tc.bitmap.clear()
	tc.emit(Event{Kind: EventClear})
	log.Debug(log.TCacheMonitoring, "cleared")
}

// InvalidateAddress removes every block whose span contains addr.
func (tc *TranslationCache) InvalidateAddress(addr uint32) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if !tc.bitmap.isSet(addr) {
		return
	}
	for {
		found := false
		for i := range tc.entries {
			if tc.entries[i].Valid() && tc.entries[i].Contains(addr) {
				tc.remove(uint32(i))
				found = true
			}
		}
		if !found {
			break
		}
		tc.emit(Event{Kind: EventInvalidate, Start: addr, End: addr})
	}
}

// InvalidateRange removes every block whose end lies in [lo, hi].
func (tc *TranslationCache) InvalidateRange(lo, hi uint32) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	for i := range tc.entries {
		e := &tc.entries[i]
		if e.Valid() && e.End >= lo && e.End <= hi {
			tc.remove(uint32(i))
		}
	}
	tc.emit(Event{Kind: EventInvalidate, Start: lo, End: hi})
}

// MayContainCode reports the execution bitmap bit for addr.
func (tc *TranslationCache) MayContainCode(addr uint32) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.bitmap.isSet(addr)
}

// OriginalWord undoes an installed trap: if word at addr is a trap of a
// live block ending there, the instruction it replaced is returned.
func (tc *TranslationCache) OriginalWord(addr, word uint32, thumb bool) uint32 {
	var (
		idx uint32
		ok  bool
	)
	if thumb {
		idx, ok = arm.HypercallIndexThumb(word & 0xFFFF)
	} else {
		idx, ok = arm.HypercallIndex(word)
	}
	if !ok || idx >= tc.Size() {
		return word
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	e := tc.entries[idx]
	if !e.Valid() || e.End != addr || e.Code != nil {
		return word
	}
	return e.Hypered
}

func (tc *TranslationCache) restoreInstruction(e Entry) {
	var err error
	switch {
	case e.Type == ARM:
		err = tc.mem.Store(guest.Word, e.End, e.Hypered)
	case arm.IsThumb32(e.Hypered >> 16):
		if err = tc.mem.Store(guest.Halfword, e.End, e.Hypered>>16); err == nil {
			err = tc.mem.Store(guest.Halfword, e.End+2, e.Hypered&0xFFFF)
		}
	default:
		err = tc.mem.Store(guest.Halfword, e.End, e.Hypered&0xFFFF)
	}
	if err != nil {
		hyperrors.Abort(err, "restore %#08x at %#08x", e.Hypered, e.End)
	}
	tc.syncCaches(e.End)
}

func (tc *TranslationCache) syncCaches(addr uint32) {
	tc.cm.InvalidateInstructionCacheLine(addr)
	tc.cm.CleanDataCacheLine(addr)
}

func (tc *TranslationCache) writeTrap(e Entry, trap uint32) {
	var err error
	if e.Type == ARM {
		err = tc.mem.Store(guest.Word, e.End, trap)
	} else {
		err = tc.mem.Store(guest.Halfword, e.End, trap&0xFFFF)
	}
	if err != nil {
		hyperrors.Abort(err, "install trap %#08x at %#08x", trap, e.End)
	}
	tc.syncCaches(e.End)
}

// retarget points the trap at e.End to slot index.
func (tc *TranslationCache) retarget(e Entry, index uint32) {
	w := guest.Word
	if e.Type == Thumb {
		w = guest.Halfword
	}
	cur, err := tc.mem.Load(w, e.End)
	if err != nil {
		hyperrors.Abort(err, "read trap at %#08x", e.End)
	}
	if e.Type == ARM {
		tc.writeTrap(e, arm.RetargetHypercallARM(cur, index))
	} else {
		tc.writeTrap(e, arm.RetargetHypercallThumb(cur, index))
	}
}

// sharedEnd finds another live slot whose block ends at end.
func (tc *TranslationCache) sharedEnd(index, end uint32) (uint32, bool) {
	for i := range tc.entries {
		if uint32(i) != index && tc.entries[i].Valid() && tc.entries[i].End == end {
			return uint32(i), true
		}
	}
	return 0, false
}
