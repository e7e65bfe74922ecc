package translator

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

func unsupported(pc, instr uint32, format string, args ...any) error {
	return hyperrors.HostFault(hyperrors.ErrTUnsupportedShape, instr, pc, format, args...)
}

func unpredictable(pc, instr uint32, format string, args ...any) error {
	return hyperrors.GuestFault(hyperrors.ErrTUnpredictable, instr, pc, format, args...)
}

const (
	opMOV = 0xD
	opMVN = 0xF
)

// DataProcessing rewrites ALU instructions with a destination that read PC.
func DataProcessing(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rd, rn, rm := i.Cond(), i.Rd(), i.Rn(), i.Rm()
	log.Debug(log.TranslatorMonitoring, "DataProcessing", "pc", pc, "instr", instr, "rd", rd, "rn", rn)

	if rd == arm.PC {
		return unsupported(pc, instr, "Rd is PC")
	}
	if i.Immediate() {
		if rn != arm.PC {
			return unsupported(pc, instr, "no PC operand")
		}
		b.WritePC(cond, rd, pc)
		b.emit(uint32(i.WithRn(rd)))
		return nil
	}
	switch i.Opcode() {
	case opMOV:
		if i.ShiftImm() == 0 && i.ShiftType() == 0 && !i.RegisterShift() {
			return MovPC(b, pc, instr)
		}
		return ShiftPC(b, pc, instr)
	case opMVN:
		return ShiftPC(b, pc, instr)
	}
	if i.RegisterShift() {
		return unpredictable(pc, instr, "register-shifted register form with PC")
	}
	if rn != arm.PC && rm != arm.PC {
		return unsupported(pc, instr, "no PC operand")
	}

	pcReg := rd
	var scratch uint32
	spill := rn == rd || rm == rd
	if spill {
		scratch = OtherRegisterOf3(rd, rn, rm)
		b.Spill(cond, scratch)
		pcReg = scratch
	}
	b.WritePC(cond, pcReg, pc)
	if rn == arm.PC {
		i = i.WithRn(pcReg)
	}
	if rm == arm.PC {
		i = i.WithRm(pcReg)
	}
	b.emit(uint32(i))
	if spill {
		b.Restore(cond, scratch)
	}
	return nil
}

// DataProcessingNoDest rewrites TST, TEQ, CMP and CMN reading PC. There is
// no destination to borrow, so a scratch register is always spilled.
func DataProcessingNoDest(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rn, rm := i.Cond(), i.Rn(), i.Rm()
	log.Debug(log.TranslatorMonitoring, "DataProcessingNoDest", "pc", pc, "instr", instr, "rn", rn)

	var scratch uint32
	if i.Immediate() {
		if rn != arm.PC {
			return unsupported(pc, instr, "no PC operand")
		}
		scratch = arm.R0
	} else {
		if i.RegisterShift() {
			return unpredictable(pc, instr, "register-shifted register form with PC")
		}
		if rn != arm.PC && rm != arm.PC {
			return unsupported(pc, instr, "no PC operand")
		}
		scratch = OtherRegisterOf2(rn, rm)
	}
	b.Spill(cond, scratch)
	b.WritePC(cond, scratch, pc)
	if rn == arm.PC {
		i = i.WithRn(scratch)
	}
	if !i.Immediate() && rm == arm.PC {
		i = i.WithRm(scratch)
	}
	b.emit(uint32(i))
	b.Restore(cond, scratch)
	return nil
}

// isExtraTransfer matches the halfword, signed and doubleword transfer space.
func isExtraTransfer(i arm.Instruction) bool {
	return i.Bits26to25() == 0 && uint32(i)&0x90 == 0x90
}

// isDoubleword matches LDRD and STRD, which live in the L=0 half of the extra space.
func isDoubleword(i arm.Instruction) bool {
	return isExtraTransfer(i) && !i.Load() && i.Bit6()
}

func transferImmediate(i arm.Instruction) bool {
	if isExtraTransfer(i) {
		return i.Bit22()
	}
	return !i.Immediate()
}

func wbackOf(i arm.Instruction) bool {
	return !i.Pre() || i.Writeback()
}

// LoadPC rewrites loads whose base register is PC. The loaded register is
// dead until the load completes and carries the PC value.
func LoadPC(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rt, rn, rm := i.Cond(), i.Rt(), i.Rn(), i.Rm()
	log.Debug(log.TranslatorMonitoring, "LoadPC", "pc", pc, "instr", instr, "rt", rt, "rn", rn)

	if rn != arm.PC {
		return unsupported(pc, instr, "base register is not PC")
	}
	if rt == arm.PC {
		return unsupported(pc, instr, "Rt is PC")
	}
	if wbackOf(i) {
		return unpredictable(pc, instr, "writeback to PC")
	}
	double := isDoubleword(i)
	if double && (rt == arm.LR || rt%2 != 0) {
		return unpredictable(pc, instr, "LDRD with Rt %d", rt)
	}

	pcReg := rt
	var scratch uint32
	spill := false
	if !transferImmediate(i) {
		if rm == arm.PC {
			return unpredictable(pc, instr, "Rm is PC")
		}
		switch {
		case double && (rm == rt || rm == rt+1):
			scratch = OtherRegisterOf3(rt, rt+1, rm)
			spill = true
		case !double && rm == rt:
			scratch = OtherRegisterOf2(rt, rm)
			spill = true
		}
	}
	if spill {
		b.Spill(cond, scratch)
		pcReg = scratch
	}
	b.WritePC(cond, pcReg, pc)
	b.emit(uint32(i.WithRn(pcReg)))
	if spill {
		b.Restore(cond, scratch)
	}
	return nil
}

// MovPC rewrites MOV Rd, PC. MOVW/MOVT alone suffice unless flags are set.
func MovPC(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rd := i.Cond(), i.Rd()
	log.Debug(log.TranslatorMonitoring, "MovPC", "pc", pc, "instr", instr, "rd", rd)
	if rd == arm.PC {
		return unsupported(pc, instr, "Rd is PC")
	}
	b.WritePC(cond, rd, pc)
	if i.SetFlags() {
		b.emit(uint32(i.WithRm(rd)))
	}
	return nil
}

// ShiftPC rewrites LSL, LSR, ASR and MVN by immediate with Rm as PC.
func ShiftPC(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rd, rm := i.Cond(), i.Rd(), i.Rm()
	log.Debug(log.TranslatorMonitoring, "ShiftPC", "pc", pc, "instr", instr, "rd", rd)
	if rd == arm.PC {
		return unsupported(pc, instr, "Rd is PC")
	}
	if i.RegisterShift() {
		return unpredictable(pc, instr, "register-shifted register form with PC")
	}
	if rm != arm.PC {
		return unsupported(pc, instr, "Rm is not PC")
	}
	if i.ShiftType() == 3 {
		return unsupported(pc, instr, "ROR/RRX of PC")
	}
	b.WritePC(cond, rd, pc)
	b.emit(uint32(i.WithRm(rd)))
	return nil
}

// StorePC rewrites stores where PC is the stored value, the base, or both.
// A scratch register distinct from every operand carries the PC value.
func StorePC(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rt, rn, rm := i.Cond(), i.Rt(), i.Rn(), i.Rm()
	log.Debug(log.TranslatorMonitoring, "StorePC", "pc", pc, "instr", instr, "rt", rt, "rn", rn)

	if rt != arm.PC && rn != arm.PC {
		return unsupported(pc, instr, "no PC operand")
	}
	if rn == arm.PC && wbackOf(i) {
		return unpredictable(pc, instr, "writeback to PC")
	}
	imm := transferImmediate(i)
	if !imm && rm == arm.PC {
		return unpredictable(pc, instr, "Rm is PC")
	}

	var scratch uint32
	switch {
	case isDoubleword(i):
		if rt%2 != 0 || rt == arm.LR {
			return unpredictable(pc, instr, "STRD with Rt %d", rt)
		}
		if imm {
			scratch = OtherRegisterOf2(rt, rt+1)
		} else {
			scratch = OtherRegisterOf3(rt, rt+1, rm)
		}
	case imm:
		scratch = OtherRegisterOf2(rt, rn)
	default:
		scratch = OtherRegisterOf3(rt, rn, rm)
	}

	b.Spill(cond, scratch)
	b.WritePC(cond, scratch, pc)
	if rt == arm.PC {
		i = i.WithRd(scratch)
	}
	if rn == arm.PC {
		i = i.WithRn(scratch)
	}
	b.emit(uint32(i))
	b.Restore(cond, scratch)
	return nil
}

// StoreMultiplePC rewrites STM with PC in the register list. The guest's
// store runs first; the PC slot is then overwritten with the materialized
// value through a scratch register saved on the stack. Only STMDB with
// writeback is handled.
func StoreMultiplePC(b *Block, pc, instr uint32) error {
	i := arm.Instruction(instr)
	cond, rn, list := i.Cond(), i.Rn(), i.RegisterList()
	log.Debug(log.TranslatorMonitoring, "StoreMultiplePC", "pc", pc, "instr", instr, "rn", rn, "list", list)

	if list&(1<<arm.PC) == 0 {
		return unsupported(pc, instr, "PC not in register list")
	}
	if rn == arm.PC {
		return unsupported(pc, instr, "STM with PC as base")
	}
	if i.Bit22() {
		return unsupported(pc, instr, "user-bank STM with PC")
	}
	if !i.Writeback() || i.Up() || !i.Pre() {
		return unsupported(pc, instr, "only STMDB with writeback is rewritten")
	}

	b.emit(instr)
	scratch := uint32(arm.R0)
	if rn == arm.R0 {
		scratch = arm.R1
	}
	b.emit(arm.Push(cond, scratch))
	b.WritePC(cond, scratch, pc)

	// PC went to old Rn-4; Rn has since dropped by 4 per register.
	off := uint32(common.CountBitsSet(list))*4 - 4
	if rn == arm.SP {
		off += 4
	}
	b.emit(arm.LoadStoreImmediate(cond, false, scratch, rn, true, off))
	b.emit(arm.Pop(cond, scratch))
	return nil
}
