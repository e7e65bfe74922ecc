package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
)

func branchOffset(instr uint32) uint32 {
	return common.SignExtend(arm.Instruction(instr).Imm24()<<2, 26)
}

// B is a plain relative branch.
func B(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	target := pcValue(c) + branchOffset(instr)
	log.Trace(log.InterpMonitoring, "B", "pc", c.R15, "target", target)
	return target, nil
}

// BL branches and links.
func BL(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	c.StoreGPR(arm.LR, next(c))
	target := pcValue(c) + branchOffset(instr)
	log.Trace(log.InterpMonitoring, "BL", "pc", c.R15, "target", target)
	return target, nil
}

// BLXImmediate branches, links and switches to Thumb. It is unconditional;
// the H bit supplies bit 1 of the halfword aligned target.
func BLXImmediate(c *guest.Context, instr uint32) (uint32, error) {
	h := (instr >> 24) & 1
	offset := common.SignExtend(arm.Instruction(instr).Imm24()<<2|h<<1, 26)
	c.StoreGPR(arm.LR, next(c))
	c.CPSR |= arm.PSRT
	return pcValue(c) + offset, nil
}

func BX(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	rm := arm.Instruction(instr).Rm()
	if rm == arm.PC {
		return 0, unpredictable(c, instr, "BX pc")
	}
	return bxWritePC(c, instr, c.LoadGPR(rm))
}

func BLXRegister(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	rm := arm.Instruction(instr).Rm()
	if rm == arm.PC {
		return 0, unpredictable(c, instr, "BLX pc")
	}
	target := c.LoadGPR(rm)
	c.StoreGPR(arm.LR, next(c))
	return bxWritePC(c, instr, target)
}

// BXJ would enter Jazelle state, which the guest core does not have.
func BXJ(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	return 0, notImplemented(c, instr, "BXJ")
}
