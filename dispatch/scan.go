package dispatch

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/decoder"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/interpreter"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/dkudinskas/hyparm-sub003/translator"
)

// fetch reads the guest instruction at addr, seeing through installed traps.
func (v *VCPU) fetch(addr uint32) (uint32, error) {
	w, err := v.core.Memory.Load(guest.Word, addr)
	if err != nil {
		return 0, fmt.Errorf("fetch %#08x: %w", addr, err)
	}
	return v.tc.OriginalWord(addr, w, false), nil
}

func trapHandler(e decoder.Entry) guest.Handler {
	if e.Kind == decoder.Undefined {
		return interpreter.Undefined
	}
	return e.Interpret
}

// ScanBlock returns the cache entry for the block starting at start,
// building it when it is not cached. The block runs up to and including the
// first instruction that needs the interpreter.
func (v *VCPU) ScanBlock(start uint32) (tcache.Entry, error) {
	if start&3 != 0 {
		return tcache.Entry{}, hyperrors.HostFault(hyperrors.ErrINotImplemented, 0, start, "thumb or misaligned block start")
	}
	if e, _, ok := v.tc.Lookup(start); ok {
		return e, nil
	}
	if v.cfg.Cache.CodeCopy {
		return v.scanCopy(start)
	}
	return v.scanTrap(start)
}

func (v *VCPU) scanTrap(start uint32) (tcache.Entry, error) {
	for pc := start; pc-start < maxTrapBlock*arm.InstructionSize; pc += arm.InstructionSize {
		w, err := v.fetch(pc)
		if err != nil {
			return tcache.Entry{}, err
		}
		d := decoder.Decode(w)
		if !d.EndsBlock() {
			continue
		}
		idx := v.tc.Index(start)
		e := tcache.Entry{
			Start:    start,
			End:      pc,
			Hypered:  w,
			TrapWord: arm.HypercallARM(idx),
			Type:     tcache.ARM,
			Handler:  trapHandler(d),
		}
		if err := v.tc.Insert(idx, e); err != nil {
			return tcache.Entry{}, err
		}
		log.Debug(log.DispatchMonitoring, "block scanned", "start", start, "end", pc, "trap", d.String())
		return e, nil
	}
	return tcache.Entry{}, fmt.Errorf("%w: no trapping instruction after %#08x", hyperrors.ErrCBlockTooLarge, start)
}

func (v *VCPU) scanCopy(start uint32) (tcache.Entry, error) {
	b, err := translator.NewBlock(v.tc, start, translator.Options{Reserved: v.cfg.ReservedWord})
	if err != nil {
		return tcache.Entry{}, err
	}
	limit := v.tc.Code().Capacity() / 2
	for pc := start; ; pc += arm.InstructionSize {
		w, err := v.fetch(pc)
		if err != nil {
			b.Abandon()
			return tcache.Entry{}, err
		}
		d := decoder.Decode(w)
		switch d.Kind {
		case decoder.Copy:
			b.Copy(pc, w)
		case decoder.PCSensitive:
			if err := b.Translate(pc, w, d.Translate); err != nil {
				b.Abandon()
				return tcache.Entry{}, err
			}
		default:
			t, err := b.Finish(pc, w, trapHandler(d))
			if err != nil {
				return tcache.Entry{}, err
			}
			v.translations[t.Index] = t
			log.Debug(log.DispatchMonitoring, "block translated", "start", start, "end", pc, "trap", d.String(), "words", t.Entry.Code.Size)
			return t.Entry, nil
		}
		if b.Region().Size > limit {
			b.Abandon()
			return tcache.Entry{}, fmt.Errorf("%w: block at %#08x exceeds %d words", hyperrors.ErrCBlockTooLarge, start, limit)
		}
	}
}
