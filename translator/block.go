package translator

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/tcache"
)

// Handler rewrites one PC-sensitive guest instruction at pc into b.
type Handler func(b *Block, pc, instr uint32) error

// Options tune how a block is laid out.
type Options struct {
	// Reserved allocates a literal word after the back-pointer and spills
	// to it instead of the shared spill word.
	Reserved bool
}

// Block is the working state of one block being copied into the code cache.
type Block struct {
	tc    *tcache.TranslationCache
	start uint32
	opts  Options

	first   uint32
	size    uint32
	spilled bool

	bitmap  RemapBitmap
	records []Record
	cur     *Record
}

// NewBlock starts a block for guest address start. The back-pointer word,
// and the reserved word when requested, are emitted immediately.
func NewBlock(tc *tcache.TranslationCache, start uint32, opts Options) (*Block, error) {
	if tc.Code() == nil {
		return nil, fmt.Errorf("%w: code copying is disabled", hyperrors.ErrCBadConfig)
	}
	b := &Block{tc: tc, start: start, opts: opts}
	b.first = tc.Emit(0)
	b.size = 1
	if opts.Reserved {
		tc.Emit(0)
		b.size++
	}
	return b, nil
}

func (b *Block) Start() uint32 { return b.start }

// Region is the code cache share of the block so far.
func (b *Block) Region() tcache.Region {
	return tcache.Region{Start: b.first, Size: b.size, Reserved: b.opts.Reserved}
}

func (b *Block) emit(word uint32) uint32 {
	slot := b.tc.Emit(word)
	b.size++
	if b.cur != nil {
		b.cur.Count++
	}
	log.Trace(log.TranslatorMonitoring, "emit", "slot", slot, "word", word, "asm", arm.DisassembleWord(word))
	return slot
}

// Copy emits a guest instruction unchanged.
func (b *Block) Copy(pc, instr uint32) {
	b.begin(pc)
	b.emit(instr)
	b.end()
}

// Translate runs h for the PC-sensitive instruction instr at pc.
func (b *Block) Translate(pc, instr uint32, h Handler) error {
	b.begin(pc)
	if err := h(b, pc, instr); err != nil {
		b.cur = nil
		return err
	}
	b.end()
	return nil
}

func (b *Block) begin(pc uint32) {
	b.records = append(b.records, Record{GuestPC: pc, Offset: b.size})
	b.cur = &b.records[len(b.records)-1]
	b.spilled = false
}

func (b *Block) end() {
	switch {
	case b.spilled:
		b.cur.Action = RemapSpilled
	case b.cur.Count > 1:
		b.cur.Action = RemapIncrement
	}
	b.bitmap.Append(b.cur.Action)
	b.cur = nil
}

// WritePC materializes pc plus the pipeline offset into reg with MOVW/MOVT.
func (b *Block) WritePC(cond arm.Condition, reg, pc uint32) {
	checkScratch(cond, reg)
	v := pc + arm.PipelineOffset
	b.emit(arm.MOVW(cond, reg, v&0xFFFF))
	b.emit(arm.MOVT(cond, reg, v>>16))
}

func checkScratch(cond arm.Condition, reg uint32) {
	if cond > arm.AL || reg >= arm.PC {
		hyperrors.Abort(hyperrors.ErrCInvalidScratch, "cond %d reg %d", cond, reg)
	}
}

// Spill saves reg before it is borrowed as a scratch register.
func (b *Block) Spill(cond arm.Condition, reg uint32) {
	b.spillTransfer(cond, reg, false)
	b.spilled = true
}

// Restore reloads reg after Spill.
func (b *Block) Restore(cond arm.Condition, reg uint32) {
	b.spillTransfer(cond, reg, true)
}

func (b *Block) spillTransfer(cond arm.Condition, reg uint32, load bool) {
	checkScratch(cond, reg)
	slot := b.tc.PeekSlot()
	pcAddr := b.tc.SlotAddress(slot) + arm.PipelineOffset
	if b.opts.Reserved {
		reserved := b.tc.SlotAddress((b.first + 1) % b.tc.Code().Capacity())
		off := pcAddr - reserved
		if pcAddr < reserved || off > 0xFFF {
			// split by the ring wrap; Merge fixes the offset
			off = 0
		}
		b.emit(arm.LoadStoreImmediate(cond, load, reg, arm.PC, false, off))
		return
	}
	spill := b.tc.Config().SpillAddress
	add := spill >= pcAddr
	off := pcAddr - spill
	if add {
		off = spill - pcAddr
	}
	if off > 0xFFF {
		hyperrors.Abort(hyperrors.ErrCSpillUnreachable, "spill %#08x from %#08x", spill, pcAddr)
	}
	b.emit(arm.LoadStoreImmediate(cond, load, reg, arm.PC, add, off))
}

// OtherRegisterOf2 returns the lowest register that is neither a nor b.
func OtherRegisterOf2(a, b uint32) uint32 {
	return uint32(common.CountTrailingZeros(^(1<<a | 1<<b)))
}

// OtherRegisterOf3 returns the lowest register distinct from a, b and c.
func OtherRegisterOf3(a, b, c uint32) uint32 {
	return uint32(common.CountTrailingZeros(^(1<<a | 1<<b | 1<<c)))
}

// Translation is a block committed to the cache.
type Translation struct {
	Index    uint32
	Entry    tcache.Entry
	Records  []Record
	Bitmap   RemapBitmap
	capacity uint32
	cc       *tcache.CodeCache
}

// Finish appends the trap for the instruction at end, merges a block split
// by the ring wrap and inserts it into the cache.
func (b *Block) Finish(end, hypered uint32, handler guest.Handler) (*Translation, error) {
	idx := b.tc.Index(b.start)
	b.begin(end)
	b.emit(arm.HypercallARM(idx))
	b.end()

	r := b.tc.Merge(b.Region())
	e := tcache.Entry{
		Start:    b.start,
		End:      end,
		Hypered:  hypered,
		TrapWord: arm.HypercallARM(idx),
		Type:     tcache.ARM,
		Code:     &r,
		Handler:  handler,
	}
	if err := b.tc.Insert(idx, e); err != nil {
		b.tc.Abandon(r)
		return nil, err
	}
	log.Debug(log.TranslatorMonitoring, "block translated", "start", b.start, "end", end, "index", idx, "slot", r.Start, "size", r.Size)
	return &Translation{
		Index:    idx,
		Entry:    e,
		Records:  b.records,
		Bitmap:   b.bitmap,
		capacity: b.tc.Code().Capacity(),
		cc:       b.tc.Code(),
	}, nil
}

// Abandon releases the words emitted so far.
func (b *Block) Abandon() {
	b.tc.Abandon(b.Region())
}

// HostToGuest maps a host address inside the block to the guest
// instruction that produced it.
func (t *Translation) HostToGuest(host uint32) (uint32, bool) {
	slot, ok := t.cc.SlotOf(host)
	if !ok || slot >= t.capacity {
		return 0, false
	}
	off := (slot + t.capacity - t.Entry.Code.Start) % t.capacity
	for _, rec := range t.Records {
		if off >= rec.Offset && off < rec.Offset+rec.Count {
			return rec.GuestPC, true
		}
	}
	return 0, false
}

// HostEntry is the host address the block starts executing at.
func (t *Translation) HostEntry() uint32 {
	r := t.Entry.Code
	off := uint32(1)
	if r.Reserved {
		off = 2
	}
	return t.cc.Address((r.Start + off) % t.capacity)
}

// Words returns the emitted block in program order.
func (t *Translation) Words() []uint32 {
	return t.cc.Region(*t.Entry.Code)
}
