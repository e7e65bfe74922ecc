package interpreter

import (
	"errors"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// CPSR bits visible to MRS: everything except the IT and J execution state.
const mrsCPSRMask uint32 = 0xF8FF03DF

func spsrFault(c *guest.Context, instr uint32, err error) error {
	if errors.Is(err, hyperrors.ErrINoSPSR) {
		return hyperrors.GuestFault(hyperrors.ErrINoSPSR, instr, c.R15, "SPSR access in %s", c.Mode())
	}
	return hyperrors.HostFault(err, instr, c.R15, "SPSR access")
}

func MRS(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	i := arm.Instruction(instr)
	rd := i.Rd()
	if rd == arm.PC {
		return 0, unpredictable(c, instr, "MRS to pc")
	}
	v := c.CPSR & mrsCPSRMask
	if i.Bit22() {
		spsr, err := c.SPSR()
		if err != nil {
			return 0, spsrFault(c, instr, err)
		}
		v = spsr
	}
	c.StoreGPR(rd, v)
	return next(c), nil
}

// MSR handles both the register and immediate forms.
func MSR(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	i := arm.Instruction(instr)
	mask := i.Rn()
	if mask == 0 {
		return 0, unpredictable(c, instr, "MSR with empty field mask")
	}
	var value uint32
	if i.Immediate() {
		value = arm.ExpandImm12(i.Imm12())
	} else {
		if i.Rm() == arm.PC {
			return 0, unpredictable(c, instr, "MSR from pc")
		}
		value = c.LoadGPR(i.Rm())
	}

	toSPSR := i.Bit22()
	var old uint32
	if toSPSR {
		spsr, err := c.SPSR()
		if err != nil {
			return 0, spsrFault(c, instr, err)
		}
		old = spsr
	} else {
		old = c.CPSR
	}

	privileged := c.Mode().Privileged()
	updated := old
	if mask&1 != 0 && privileged {
		if !toSPSR && (old^value)&arm.PSRT != 0 {
			return 0, notImplemented(c, instr, "MSR toggles the Thumb bit")
		}
		updated = updated&^arm.PSRControlField | value&arm.PSRControlField
	}
	if mask&2 != 0 && privileged {
		if !toSPSR && (old^value)&arm.PSRE != 0 {
			return 0, notImplemented(c, instr, "MSR toggles the endianness bit")
		}
		updated = updated&^arm.PSRExtensionField | value&arm.PSRExtensionField
	}
	if mask&4 != 0 && privileged {
		updated = updated&^arm.PSRStatusField | value&arm.PSRStatusField
	}
	if mask&8 != 0 {
		updated = updated&^arm.PSRFlagsField | value&arm.PSRFlagsField
	}

	log.Debug(log.InterpMonitoring, "MSR", "pc", c.R15, "spsr", toSPSR, "old", old, "new", updated)
	if toSPSR {
		if err := c.SetSPSR(updated); err != nil {
			return 0, spsrFault(c, instr, err)
		}
		return next(c), nil
	}
	if !guest.ValidMode(arm.ModeOf(updated)) {
		return 0, unpredictable(c, instr, "MSR to invalid mode %s", arm.ModeOf(updated))
	}
	writeCPSR(c, updated)
	return next(c), nil
}

// writeCPSR installs a new CPSR and latches interrupts that become unmasked.
func writeCPSR(c *guest.Context, v uint32) {
	old := c.CPSR
	c.CPSR = v
	if old&arm.PSRI != 0 && v&arm.PSRI == 0 && c.Interrupts.IRQPending() {
		c.IRQPending = true
	}
	if old&arm.PSRF != 0 && v&arm.PSRF == 0 && c.Interrupts.FIQPending() {
		c.FIQPending = true
	}
	if v&arm.PSRI != 0 {
		c.IRQPending = false
	}
	if v&arm.PSRF != 0 {
		c.FIQPending = false
	}
}

// CPS changes the interrupt masks and optionally the mode. It is unconditional
// and behaves as a no-op in user mode.
func CPS(c *guest.Context, instr uint32) (uint32, error) {
	imod := (instr >> 18) & 3
	changeMode := instr&(1<<17) != 0
	aif := instr & (arm.PSRA | arm.PSRI | arm.PSRF)
	mode := arm.Mode(instr & arm.PSRMode)

	switch {
	case mode != 0 && !changeMode:
		return 0, unpredictable(c, instr, "CPS mode without M")
	case imod&2 != 0 && aif == 0:
		return 0, unpredictable(c, instr, "CPS without A, I or F")
	case imod&2 == 0 && aif != 0:
		return 0, unpredictable(c, instr, "CPS A, I or F without imod")
	case imod == 0 && !changeMode, imod == 1:
		return 0, unpredictable(c, instr, "CPS imod %d", imod)
	}

	if !c.Mode().Privileged() {
		log.Debug(log.InterpMonitoring, "CPS in user mode", "pc", c.R15)
		return next(c), nil
	}

	v := c.CPSR
	switch imod {
	case 2:
		v &^= aif
	case 3:
		v |= aif
	}
	if changeMode {
		if !guest.ValidMode(mode) {
			return 0, unpredictable(c, instr, "CPS to invalid mode %s", mode)
		}
		v = v&^arm.PSRMode | uint32(mode)
	}
	log.Debug(log.InterpMonitoring, "CPS", "pc", c.R15, "old", c.CPSR, "new", v)
	writeCPSR(c, v)
	return next(c), nil
}
