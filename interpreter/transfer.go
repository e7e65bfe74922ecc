package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// singleTransfer is a decoded LDR/STR family access.
type singleTransfer struct {
	rt, rn     uint32
	addr       uint32
	wbackValue uint32
	wback      bool
	privileged bool
}

// decodeTransfer resolves the address of a word/byte (extra == false) or
// halfword (extra == true) transfer.
func decodeTransfer(c *guest.Context, instr uint32, extra bool) (singleTransfer, error) {
	i := arm.Instruction(instr)
	t := singleTransfer{rt: i.Rt(), rn: i.Rn(), privileged: c.Mode().Privileged()}

	var offset uint32
	switch {
	case extra && i.Bit22():
		offset = i.ImmHL()
	case i.Rm() == arm.PC && (extra || i.Immediate()):
		return t, unpredictable(c, instr, "register offset of pc")
	case extra:
		offset = c.LoadGPR(i.Rm())
	case i.Immediate():
		// bit 25 selects the register form for word and byte transfers
		offset = shiftImmediate(c.LoadGPR(i.Rm()), i.ShiftType(), i.ShiftImm(), c.CPSR&arm.PSRC != 0)
	default:
		offset = i.Imm12()
	}

	base := readReg(c, t.rn)
	offsetAddr := base - offset
	if i.Up() {
		offsetAddr = base + offset
	}
	t.wback = !i.Pre() || i.Writeback()
	if i.Pre() {
		t.addr = offsetAddr
	} else {
		t.addr = base
		// P == 0 with W == 1 is the unprivileged (LDRT/STRT) form.
		if i.Writeback() {
			t.privileged = false
		}
	}
	t.wbackValue = offsetAddr
	if t.wback && (t.rn == arm.PC || t.rn == t.rt) {
		return t, unpredictable(c, instr, "writeback with base r%d", t.rn)
	}
	return t, nil
}

func (t singleTransfer) writeback(c *guest.Context) {
	if t.wback {
		c.StoreGPR(t.rn, t.wbackValue)
	}
}

func load(c *guest.Context, instr uint32, w guest.Width, extra bool) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	t, err := decodeTransfer(c, instr, extra)
	if err != nil {
		return 0, err
	}
	if vector, aborted := abort(c, t.privileged, false, t.addr); aborted {
		return vector, nil
	}
	v, err := c.Memory.Load(w, t.addr)
	if err != nil {
		return 0, memFault(c, instr, err)
	}
	t.writeback(c)
	if t.rt == arm.PC {
		if w != guest.Word {
			return 0, unpredictable(c, instr, "narrow load to pc")
		}
		target := loadWritePC(c, v)
		log.Debug(log.InterpMonitoring, "load to pc", "pc", c.R15, "addr", t.addr, "target", target)
		return target, nil
	}
	c.StoreGPR(t.rt, v)
	return next(c), nil
}

func store(c *guest.Context, instr uint32, w guest.Width, extra bool) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	t, err := decodeTransfer(c, instr, extra)
	if err != nil {
		return 0, err
	}
	if t.rt == arm.PC && w != guest.Word {
		return 0, unpredictable(c, instr, "narrow store of pc")
	}
	if vector, aborted := abort(c, t.privileged, true, t.addr); aborted {
		return vector, nil
	}
	c.Code.InvalidateAddress(t.addr)
	if err := c.Memory.Store(w, t.addr, readReg(c, t.rt)); err != nil {
		return 0, memFault(c, instr, err)
	}
	t.writeback(c)
	return next(c), nil
}

func LDR(c *guest.Context, instr uint32) (uint32, error) {
	return load(c, instr, guest.Word, false)
}

func LDRB(c *guest.Context, instr uint32) (uint32, error) {
	return load(c, instr, guest.Byte, false)
}

func LDRH(c *guest.Context, instr uint32) (uint32, error) {
	return load(c, instr, guest.Halfword, true)
}

func STR(c *guest.Context, instr uint32) (uint32, error) {
	return store(c, instr, guest.Word, false)
}

func STRB(c *guest.Context, instr uint32) (uint32, error) {
	return store(c, instr, guest.Byte, false)
}

func STRH(c *guest.Context, instr uint32) (uint32, error) {
	return store(c, instr, guest.Halfword, true)
}
