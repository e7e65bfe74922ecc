package tcache

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/guest"
)

// EntryType is the instruction set of a cached block.
type EntryType uint8

const (
	Invalid EntryType = iota
	ARM
	Thumb
)

func (t EntryType) String() string {
	switch t {
	case ARM:
		return "ARM"
	case Thumb:
		return "THUMB"
	}
	return "INVALID"
}

// Region is a block's share of the code cache: Size words starting at slot
// Start, possibly wrapping past the trampoline. Slot Start holds the
// back-pointer; slot Start+1 holds the reserved word when Reserved is set.
type Region struct {
	Start    uint32 `json:"start"`
	Size     uint32 `json:"size"`
	Reserved bool   `json:"reserved"`
}

// Entry is one meta-cache slot. Code is nil for blocks patched in place in
// guest memory and set for blocks copied to the code cache.
type Entry struct {
	Start    uint32        `json:"start"`
	End      uint32        `json:"end"`
	Hypered  uint32        `json:"hypered"`
	TrapWord uint32        `json:"trap"`
	Type     EntryType     `json:"type"`
	Code     *Region       `json:"code,omitempty"`
	Handler  guest.Handler `json:"-"`
}

func (e *Entry) Valid() bool { return e.Type != Invalid }

// Contains reports whether addr lies in the block's guest span.
func (e *Entry) Contains(addr uint32) bool {
	return e.Start <= addr && addr <= e.End
}

func (e Entry) String() string {
	s := fmt.Sprintf("%s [%#08x..%#08x] hypered %#08x", e.Type, e.Start, e.End, e.Hypered)
	if e.Code != nil {
		s += fmt.Sprintf(" code %d+%d", e.Code.Start, e.Code.Size)
	}
	return s
}
