package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// Data-processing opcodes.
const (
	opAND = iota
	opEOR
	opSUB
	opRSB
	opADD
	opADC
	opSBC
	opRSC
	opTST
	opTEQ
	opCMP
	opCMN
	opORR
	opMOV
	opBIC
	opMVN
)

func shiftRegister(v, typ, amount uint32) uint32 {
	amount &= 0xFF
	if amount == 0 {
		return v
	}
	switch typ {
	case 0:
		if amount >= 32 {
			return 0
		}
		return v << amount
	case 1:
		if amount >= 32 {
			return 0
		}
		return v >> amount
	case 2:
		if amount >= 32 {
			amount = 31
		}
		return uint32(int32(v) >> amount)
	}
	amount %= 32
	return v>>amount | v<<(32-amount)
}

func operand2(c *guest.Context, instr uint32) (uint32, error) {
	i := arm.Instruction(instr)
	if i.Immediate() {
		return arm.ExpandImm12(i.Imm12()), nil
	}
	if i.RegisterShift() {
		if i.Rm() == arm.PC || i.Rs() == arm.PC || i.Rn() == arm.PC {
			return 0, unpredictable(c, instr, "register-shifted register form with pc")
		}
		return shiftRegister(c.LoadGPR(i.Rm()), i.ShiftType(), c.LoadGPR(i.Rs())), nil
	}
	return shiftImmediate(readReg(c, i.Rm()), i.ShiftType(), i.ShiftImm(), c.CPSR&arm.PSRC != 0), nil
}

// DataProcessingPC executes an ALU instruction whose destination is PC. With
// S set it is an exception return that restores CPSR from SPSR.
func DataProcessingPC(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	i := arm.Instruction(instr)
	if i.Rd() != arm.PC {
		return 0, notImplemented(c, instr, "destination is r%d", i.Rd())
	}
	op2, err := operand2(c, instr)
	if err != nil {
		return 0, err
	}
	rn := readReg(c, i.Rn())
	carry := uint32(0)
	if c.CPSR&arm.PSRC != 0 {
		carry = 1
	}

	var result uint32
	switch i.Opcode() {
	case opAND:
		result = rn & op2
	case opEOR:
		result = rn ^ op2
	case opSUB:
		result = rn - op2
	case opRSB:
		result = op2 - rn
	case opADD:
		result = rn + op2
	case opADC:
		result = rn + op2 + carry
	case opSBC:
		result = rn + ^op2 + carry
	case opRSC:
		result = op2 + ^rn + carry
	case opORR:
		result = rn | op2
	case opMOV:
		result = op2
	case opBIC:
		result = rn &^ op2
	case opMVN:
		result = ^op2
	default:
		return 0, unpredictable(c, instr, "compare with pc destination")
	}

	if !i.SetFlags() {
		log.Debug(log.InterpMonitoring, "ALU write pc", "pc", c.R15, "target", result)
		return bxWritePC(c, instr, result)
	}
	spsr, err := c.SPSR()
	if err != nil {
		return 0, spsrFault(c, instr, err)
	}
	if !guest.ValidMode(arm.ModeOf(spsr)) {
		return 0, unpredictable(c, instr, "exception return to invalid mode %s", arm.ModeOf(spsr))
	}
	log.Debug(log.InterpMonitoring, "exception return", "pc", c.R15, "from", c.Mode(), "to", arm.ModeOf(spsr), "target", result)
	writeCPSR(c, spsr)
	if c.Thumb() {
		return result &^ 1, nil
	}
	return result &^ 3, nil
}
