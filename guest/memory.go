package guest

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"golang.org/x/exp/slices"
)

// Width is the size in bytes of a memory access.
type Width uint32

const (
	Byte     Width = 1
	Halfword Width = 2
	Word     Width = 4
)

// DataAbort describes a fault reported by the memory protection layer.
type DataAbort struct {
	FaultType uint32
	Domain    uint32
}

// Section permission fault.
const FaultPermissionSection uint32 = 0xD

// Memory is the guest physical address space as the core sees it.
type Memory interface {
	Load(w Width, addr uint32) (uint32, error)
	Store(w Width, addr, value uint32) error
	ShouldDataAbort(privileged, isWrite bool, addr uint32) (DataAbort, bool)
}

// CacheMaintenance keeps host caches coherent after code is patched.
type CacheMaintenance interface {
	InvalidateInstructionCacheLine(addr uint32)
	CleanDataCacheLine(addr uint32)
}

// InterruptController reports interrupts raised by emulated devices.
type InterruptController interface {
	IRQPending() bool
	FIQPending() bool
}

// CodeInvalidator drops translations covering modified guest code.
type CodeInvalidator interface {
	InvalidateAddress(addr uint32)
	InvalidateRange(lo, hi uint32)
	Clear()
}

type NopCacheMaintenance struct{}

func (NopCacheMaintenance) InvalidateInstructionCacheLine(uint32) {}
func (NopCacheMaintenance) CleanDataCacheLine(uint32)             {}

// RecordingCacheMaintenance remembers every maintenance operation in order.
type RecordingCacheMaintenance struct {
	Invalidated []uint32
	Cleaned     []uint32
}

func (r *RecordingCacheMaintenance) InvalidateInstructionCacheLine(addr uint32) {
	r.Invalidated = append(r.Invalidated, addr)
}

func (r *RecordingCacheMaintenance) CleanDataCacheLine(addr uint32) {
	r.Cleaned = append(r.Cleaned, addr)
}

type NopInterruptController struct{}

func (NopInterruptController) IRQPending() bool { return false }
func (NopInterruptController) FIQPending() bool { return false }

// StaticInterrupts reports fixed pending lines.
type StaticInterrupts struct {
	IRQ, FIQ bool
}

func (s StaticInterrupts) IRQPending() bool { return s.IRQ }
func (s StaticInterrupts) FIQPending() bool { return s.FIQ }

type nopInvalidator struct{}

func (nopInvalidator) InvalidateAddress(uint32)       {}
func (nopInvalidator) InvalidateRange(uint32, uint32) {}
func (nopInvalidator) Clear()                         {}

const (
	PageSize  = 4096
	pageShift = 12
)

type abortWindow struct {
	lo, hi    uint32
	writeOnly bool
	fault     DataAbort
}

// FlatMemory is a sparse little-endian address space made of 4 KiB pages.
type FlatMemory struct {
	mu      sync.RWMutex
	pages   map[uint32]*[PageSize]byte
	aborts  []abortWindow
	autoMap bool
}

// NewFlatMemory returns an empty address space. With autoMap set, the first
// store to an unmapped page maps it instead of failing.
func NewFlatMemory(autoMap bool) *FlatMemory {
	return &FlatMemory{pages: make(map[uint32]*[PageSize]byte), autoMap: autoMap}
}

// Map backs [addr, addr+size) with zeroed pages.
func (m *FlatMemory) Map(addr, size uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if size == 0 {
		return
	}
	first := addr >> pageShift
	last := (addr + size - 1) >> pageShift
	for p := first; ; p++ {
		if _, ok := m.pages[p]; !ok {
			m.pages[p] = new([PageSize]byte)
		}
		if p == last {
			break
		}
	}
}

// AddAbortWindow makes accesses in [lo, hi] fault. writeOnly limits it to stores.
func (m *FlatMemory) AddAbortWindow(lo, hi uint32, writeOnly bool, fault DataAbort) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.aborts = append(m.aborts, abortWindow{lo: lo, hi: hi, writeOnly: writeOnly, fault: fault})
}

func (m *FlatMemory) ShouldDataAbort(privileged, isWrite bool, addr uint32) (DataAbort, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.aborts {
		if addr < w.lo || addr > w.hi {
			continue
		}
		if w.writeOnly && !isWrite {
			continue
		}
		return w.fault, true
	}
	return DataAbort{}, false
}

func checkAccess(w Width, addr uint32) error {
	switch w {
	case Byte, Halfword, Word:
	default:
		return fmt.Errorf("%w: %d", hyperrors.ErrMBadWidth, w)
	}
	if addr&(uint32(w)-1) != 0 {
		return fmt.Errorf("%w: %d-byte access at %#08x", hyperrors.ErrMUnaligned, w, addr)
	}
	return nil
}

func (m *FlatMemory) Load(w Width, addr uint32) (uint32, error) {
	if err := checkAccess(w, addr); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[addr>>pageShift]
	if !ok {
		return 0, fmt.Errorf("%w: load %#08x", hyperrors.ErrMUnmapped, addr)
	}
	off := addr & (PageSize - 1)
	switch w {
	case Byte:
		return uint32(page[off]), nil
	case Halfword:
		return uint32(binary.LittleEndian.Uint16(page[off:])), nil
	}
	return binary.LittleEndian.Uint32(page[off:]), nil
}

func (m *FlatMemory) Store(w Width, addr, value uint32) error {
	if err := checkAccess(w, addr); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	page, ok := m.pages[addr>>pageShift]
	if !ok {
		if !m.autoMap {
			return fmt.Errorf("%w: store %#08x", hyperrors.ErrMUnmapped, addr)
		}
		page = new([PageSize]byte)
		m.pages[addr>>pageShift] = page
	}
	off := addr & (PageSize - 1)
	switch w {
	case Byte:
		page[off] = byte(value)
	case Halfword:
		binary.LittleEndian.PutUint16(page[off:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(page[off:], value)
	}
	return nil
}

// WriteWords stores consecutive words starting at addr, mapping pages as needed.
func (m *FlatMemory) WriteWords(addr uint32, words ...uint32) {
	m.Map(addr, uint32(len(words))*uint32(Word))
	for i, v := range words {
		// mapped above and word aligned by construction
		_ = m.Store(Word, addr+uint32(i)*uint32(Word), v)
	}
}

// PageNumbers lists mapped page numbers in ascending order.
func (m *FlatMemory) PageNumbers() []uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]uint32, 0, len(m.pages))
	for p := range m.pages {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Page returns a copy of page number p.
func (m *FlatMemory) Page(p uint32) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	page, ok := m.pages[p]
	if !ok {
		return nil, false
	}
	out := make([]byte, PageSize)
	copy(out, page[:])
	return out, true
}

// SetPage replaces page number p with data, zero-padding short input.
func (m *FlatMemory) SetPage(p uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	page := new([PageSize]byte)
	copy(page[:], data)
	m.pages[p] = page
}

// Handler executes one trapped instruction against a context and returns the next guest PC.
type Handler func(c *Context, instr uint32) (uint32, error)
