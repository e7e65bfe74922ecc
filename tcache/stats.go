package tcache

import (
	"fmt"
	"time"

	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/xlab/treeprint"
)

type EventKind string

const (
	EventInsert     EventKind = "insert"
	EventRemove     EventKind = "remove"
	EventEvict      EventKind = "evict"
	EventClear      EventKind = "clear"
	EventInvalidate EventKind = "invalidate"
	EventWrap       EventKind = "wrap"
)

// Event describes one cache mutation.
type Event struct {
	Kind  EventKind `json:"kind"`
	Index uint32    `json:"index"`
	Start uint32    `json:"start"`
	End   uint32    `json:"end"`
	Time  time.Time `json:"time"`
}

// Stats counts cache activity since creation.
type Stats struct {
	Valid      uint32 `json:"valid"`
	Inserts    uint64 `json:"inserts"`
	Removes    uint64 `json:"removes"`
	Evictions  uint64 `json:"evictions"`
	Collisions uint64 `json:"collisions"`
	Wraps      uint64 `json:"wraps"`
	Merges     uint64 `json:"merges"`
}

func (tc *TranslationCache) Stats() Stats {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	s := tc.stats
	for i := range tc.entries {
		if tc.entries[i].Valid() {
			s.Valid++
		}
	}
	return s
}

// Subscribe registers fn for every event. fn runs with the cache locked and
// must not call back into it.
func (tc *TranslationCache) Subscribe(fn func(Event)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.subscribers = append(tc.subscribers, fn)
}

func (tc *TranslationCache) emit(ev Event) {
	if len(tc.subscribers) == 0 {
		return
	}
	ev.Time = time.Now()
	for _, fn := range tc.subscribers {
		fn(ev)
	}
}

// Tree renders the live entries.
func (tc *TranslationCache) Tree() treeprint.Tree {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	mode := "trap"
	if tc.cfg.CodeCopy {
		mode = "copy"
	}
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%smeta-cache%s %d entries, %s backing", common.ColorBlue, common.ColorReset, len(tc.entries), mode))
	for i, e := range tc.entries {
		if !e.Valid() {
			continue
		}
		branch := tree.AddBranch(fmt.Sprintf("%s[%3d]%s %s %#08x..%#08x", common.ColorGreen, i, common.ColorReset, e.Type, e.Start, e.End))
		branch.AddNode(fmt.Sprintf("hypered %#08x", e.Hypered))
		if e.Code != nil {
			branch.AddNode(fmt.Sprintf("%scode%s slot %d size %d reserved %v", common.ColorYellow, common.ColorReset, e.Code.Start, e.Code.Size, e.Code.Reserved))
		}
	}
	return tree
}
