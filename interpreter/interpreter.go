// Package interpreter executes single guest ARM instructions against a guest
// context. Every handler returns the address of the next guest instruction.
package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// next is the fall-through address of the instruction at R15.
func next(c *guest.Context) uint32 {
	return c.R15 + arm.InstructionSize
}

// pcValue is what an instruction at R15 reads from PC.
func pcValue(c *guest.Context) uint32 {
	return c.R15 + arm.PipelineOffset
}

// passed evaluates the condition field of instr. Unconditional encodings
// (cond 0xF) must not be passed through here.
func passed(c *guest.Context, instr uint32) bool {
	ok := arm.Instruction(instr).Cond().Evaluate(c.CPSR)
	if !ok {
		log.Trace(log.InterpMonitoring, "condition failed", "pc", c.R15, "instr", instr)
	}
	return ok
}

// readReg reads r with the PC pipeline offset applied.
func readReg(c *guest.Context, r uint32) uint32 {
	if r == arm.PC {
		return pcValue(c)
	}
	return c.LoadGPR(r)
}

func unpredictable(c *guest.Context, instr uint32, format string, args ...any) error {
	return hyperrors.GuestFault(hyperrors.ErrIUnpredictable, instr, c.R15, format, args...)
}

func notImplemented(c *guest.Context, instr uint32, format string, args ...any) error {
	return hyperrors.HostFault(hyperrors.ErrINotImplemented, instr, c.R15, format, args...)
}

// bxWritePC interworks to target the way BX does and returns the new PC.
func bxWritePC(c *guest.Context, instr, target uint32) (uint32, error) {
	switch {
	case target&1 != 0:
		c.CPSR |= arm.PSRT
		return target &^ 1, nil
	case target&2 == 0:
		c.CPSR &^= arm.PSRT
		return target, nil
	}
	return 0, unpredictable(c, instr, "interworking branch to %#x", target)
}

// loadWritePC applies the continuation rule for a loaded PC value: bit 0
// selects Thumb and is cleared, otherwise bit 1 is cleared.
func loadWritePC(c *guest.Context, v uint32) uint32 {
	if v&1 != 0 {
		c.CPSR |= arm.PSRT
		return v &^ 1
	}
	c.CPSR &^= arm.PSRT
	return v &^ 2
}

// abort checks the memory protection layer and enters the guest abort handler when it objects.
func abort(c *guest.Context, privileged, isWrite bool, addr uint32) (uint32, bool) {
	fault, ok := c.Memory.ShouldDataAbort(privileged, isWrite, addr)
	if !ok {
		return 0, false
	}
	return c.DeliverDataAbort(addr, isWrite, fault), true
}

// shiftImmediate applies an immediate-amount shift as used by register offsets.
func shiftImmediate(v, typ, amount uint32, carry bool) uint32 {
	switch typ {
	case 0:
		return v << amount
	case 1:
		if amount == 0 {
			return 0
		}
		return v >> amount
	case 2:
		if amount == 0 {
			amount = 32
		}
		if amount >= 32 {
			return uint32(int32(v) >> 31)
		}
		return uint32(int32(v) >> amount)
	default:
		if amount == 0 {
			c := uint32(0)
			if carry {
				c = 1 << 31
			}
			return c | v>>1
		}
		return v>>amount | v<<(32-amount)
	}
}
