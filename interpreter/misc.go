package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
)

// Breakpoint values understood in test mode.
const (
	BreakpointPass uint32 = 0
	BreakpointDump uint32 = 0xFFFF
)

// BKPT reports guest unit test results in test mode: 0 passes, 0xFFFF dumps
// the guest context and continues, anything else fails.
func BKPT(c *guest.Context, instr uint32) (uint32, error) {
	if !c.TestMode {
		return 0, notImplemented(c, instr, "BKPT outside test mode")
	}
	value := (instr>>4)&0xFFF0 | instr&0xF
	switch value {
	case BreakpointPass:
		log.Info(log.InterpMonitoring, "guest test passed", "pc", c.R15)
		return 0, hyperrors.GuestFault(hyperrors.ErrITestPassed, instr, c.R15, "")
	case BreakpointDump:
		log.Info(log.InterpMonitoring, "guest context dump", "pc", c.R15, "context", c.String())
		return next(c), nil
	}
	log.Warn(log.InterpMonitoring, "guest test failed", "pc", c.R15, "value", value)
	return 0, hyperrors.GuestFault(hyperrors.ErrITestFailed, instr, c.R15, "breakpoint value %#x", value)
}

// WFI idles the guest until the next interrupt.
func WFI(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	c.Idle = true
	log.Debug(log.InterpMonitoring, "WFI", "pc", c.R15)
	return next(c), nil
}

// Hint covers NOP, YIELD, WFE, SEV and the unconditional PLD, CLREX and
// barrier encodings, none of which has guest visible state here.
func Hint(c *guest.Context, instr uint32) (uint32, error) {
	log.Trace(log.InterpMonitoring, "hint", "pc", c.R15, "instr", instr)
	return next(c), nil
}

// SVC enters the guest supervisor call handler.
func SVC(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	return c.DeliverSupervisorCall(), nil
}

// Undefined enters the guest undefined instruction handler.
func Undefined(c *guest.Context, instr uint32) (uint32, error) {
	log.Debug(log.InterpMonitoring, "undefined instruction", "pc", c.R15, "instr", instr)
	return c.DeliverUndefined(), nil
}
