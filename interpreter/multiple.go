package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// blockTransfer is a decoded LDM/STM.
type blockTransfer struct {
	rn        uint32
	list      uint32
	base      uint32
	start     uint32
	writeback bool
	final     uint32
}

// decodeBlockTransfer computes the lowest transfer address for the four
// addressing modes and the written-back base.
func decodeBlockTransfer(c *guest.Context, instr uint32) (blockTransfer, error) {
	i := arm.Instruction(instr)
	t := blockTransfer{rn: i.Rn(), list: i.RegisterList(), writeback: i.Writeback()}
	if t.rn == arm.PC || t.list == 0 {
		return t, unpredictable(c, instr, "block transfer with pc base or empty list")
	}
	t.base = c.LoadGPR(t.rn)
	size := uint32(4 * common.CountBitsSet(t.list))
	switch {
	case !i.Up() && i.Pre(): // DB
		t.start = t.base - size
	case !i.Up(): // DA
		t.start = t.base - size + 4
	case i.Pre(): // IB
		t.start = t.base + 4
	default: // IA
		t.start = t.base
	}
	if i.Up() {
		t.final = t.base + size
	} else {
		t.final = t.base - size
	}
	return t, nil
}

// probe asks the memory layer about every address before any state changes,
// so an aborted transfer leaves registers and memory untouched.
func (t blockTransfer) probe(c *guest.Context, isWrite bool) (uint32, bool) {
	privileged := c.Mode().Privileged()
	addr := t.start
	for n := common.CountBitsSet(t.list); n > 0; n-- {
		if vector, aborted := abort(c, privileged, isWrite, addr); aborted {
			return vector, true
		}
		addr += 4
	}
	return 0, false
}

func memFault(c *guest.Context, instr uint32, err error) error {
	return hyperrors.HostFault(err, instr, c.R15, "guest memory access")
}

// loadMultiple reads the listed registers into the bank of mode m. PC is
// returned separately rather than written.
func loadMultiple(c *guest.Context, instr uint32, t blockTransfer, m arm.Mode) (pc uint32, err error) {
	addr := t.start
	for r := uint32(0); r < 16; r++ {
		if t.list&(1<<r) == 0 {
			continue
		}
		v, err := c.Memory.Load(guest.Word, addr)
		addr += 4
		if err != nil {
			return 0, memFault(c, instr, err)
		}
		if r == arm.PC {
			pc = v
			continue
		}
		if err := c.StoreGPRMode(r, m, v); err != nil {
			return 0, hyperrors.HostFault(err, instr, c.R15, "ldm")
		}
	}
	return pc, nil
}

// LDM loads registers in the current mode. When PC is in the list the
// loaded value selects the continuation state.
func LDM(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	t, err := decodeBlockTransfer(c, instr)
	if err != nil {
		return 0, err
	}
	if vector, aborted := t.probe(c, false); aborted {
		return vector, nil
	}
	pc, err := loadMultiple(c, instr, t, c.Mode())
	if err != nil {
		return 0, err
	}
	if t.writeback {
		c.StoreGPR(t.rn, t.final)
	}
	if t.list&(1<<arm.PC) != 0 {
		target := loadWritePC(c, pc)
		log.Debug(log.InterpMonitoring, "LDM to pc", "pc", c.R15, "loaded", pc, "target", target)
		return target, nil
	}
	return next(c), nil
}

// LDMUser loads user mode registers from a privileged mode. PC must not be in the list.
func LDMUser(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	if m := c.Mode(); m == arm.ModeUSR || m == arm.ModeSYS {
		return 0, unpredictable(c, instr, "LDM user registers in %s", m)
	}
	t, err := decodeBlockTransfer(c, instr)
	if err != nil {
		return 0, err
	}
	if t.writeback {
		return 0, unpredictable(c, instr, "LDM user registers with writeback")
	}
	if vector, aborted := t.probe(c, false); aborted {
		return vector, nil
	}
	if _, err := loadMultiple(c, instr, t, arm.ModeUSR); err != nil {
		return 0, err
	}
	return next(c), nil
}

// LDMExceptionReturn loads registers including PC and restores CPSR from the current SPSR.
func LDMExceptionReturn(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	spsr, err := c.SPSR()
	if err != nil {
		return 0, spsrFault(c, instr, err)
	}
	t, err := decodeBlockTransfer(c, instr)
	if err != nil {
		return 0, err
	}
	if vector, aborted := t.probe(c, false); aborted {
		return vector, nil
	}
	pc, err := loadMultiple(c, instr, t, c.Mode())
	if err != nil {
		return 0, err
	}
	if t.writeback && t.list&(1<<t.rn) == 0 {
		c.StoreGPR(t.rn, t.final)
	}
	if !guest.ValidMode(arm.ModeOf(spsr)) {
		return 0, unpredictable(c, instr, "exception return to invalid mode %s", arm.ModeOf(spsr))
	}
	log.Debug(log.InterpMonitoring, "exception return", "pc", c.R15, "from", c.Mode(), "to", arm.ModeOf(spsr), "target", pc)
	writeCPSR(c, spsr)
	if c.Thumb() {
		return pc &^ 1, nil
	}
	return pc &^ 3, nil
}

// storeMultiple writes the listed registers of mode m. PC stores the
// instruction address plus eight.
func storeMultiple(c *guest.Context, instr uint32, t blockTransfer, m arm.Mode) error {
	addr := t.start
	for r := uint32(0); r < 16; r++ {
		if t.list&(1<<r) == 0 {
			continue
		}
		var v uint32
		if r == arm.PC {
			v = pcValue(c)
		} else {
			var err error
			if v, err = c.LoadGPRMode(r, m); err != nil {
				return hyperrors.HostFault(err, instr, c.R15, "stm")
			}
		}
		c.Code.InvalidateAddress(addr)
		if err := c.Memory.Store(guest.Word, addr, v); err != nil {
			return memFault(c, instr, err)
		}
		addr += 4
	}
	return nil
}

func STM(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	t, err := decodeBlockTransfer(c, instr)
	if err != nil {
		return 0, err
	}
	if vector, aborted := t.probe(c, true); aborted {
		return vector, nil
	}
	if err := storeMultiple(c, instr, t, c.Mode()); err != nil {
		return 0, err
	}
	if t.writeback {
		c.StoreGPR(t.rn, t.final)
	}
	return next(c), nil
}

// STMUser stores user mode registers from a privileged mode.
func STMUser(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	if m := c.Mode(); m == arm.ModeUSR || m == arm.ModeSYS {
		return 0, unpredictable(c, instr, "STM user registers in %s", m)
	}
	t, err := decodeBlockTransfer(c, instr)
	if err != nil {
		return 0, err
	}
	if t.writeback {
		return 0, unpredictable(c, instr, "STM user registers with writeback")
	}
	if vector, aborted := t.probe(c, true); aborted {
		return vector, nil
	}
	if err := storeMultiple(c, instr, t, arm.ModeUSR); err != nil {
		return 0, err
	}
	return next(c), nil
}
