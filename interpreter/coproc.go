package interpreter

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
)

const cp15 = 15

// coprocOperands holds the fields shared by MRC and MCR.
type coprocOperands struct {
	coproc, opc1, crn, rt, crm, opc2 uint32
}

func decodeCoproc(instr uint32) coprocOperands {
	return coprocOperands{
		coproc: (instr >> 8) & 0xF,
		opc1:   (instr >> 21) & 0x7,
		crn:    (instr >> 16) & 0xF,
		rt:     (instr >> 12) & 0xF,
		crm:    instr & 0xF,
		opc2:   (instr >> 5) & 0x7,
	}
}

func unknownCoprocessor(c *guest.Context, instr, coproc uint32) error {
	return hyperrors.GuestFault(hyperrors.ErrIUnknownCoprocessor, instr, c.R15, "p%d", coproc)
}

// userAccessible lists CP15 operations permitted from user mode and whether they may be written.
var userAccessible = map[uint32]bool{
	guest.CP15TPIDRURW: true,
	guest.CP15TPIDRURO: false,
	guest.CP15ISB:      true,
	guest.CP15DSB:      true,
	guest.CP15DMB:      true,
}

func checkUserCP15(c *guest.Context, instr uint32, op coprocOperands, write bool) error {
	if c.Mode().Privileged() {
		return nil
	}
	writable, ok := userAccessible[guest.CP15Index(op.crn, op.opc1, op.crm, op.opc2)]
	if !ok || (write && !writable) {
		return hyperrors.GuestFault(hyperrors.ErrIPrivileged, instr, c.R15, "cp15 access from user mode")
	}
	return nil
}

// MRC reads a CP15 register into Rt. Rt of PC copies the top four bits into the flags.
func MRC(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	op := decodeCoproc(instr)
	if op.coproc != cp15 {
		return 0, unknownCoprocessor(c, instr, op.coproc)
	}
	if err := checkUserCP15(c, instr, op, false); err != nil {
		return 0, err
	}
	v, err := c.ReadCP15(op.crn, op.opc1, op.crm, op.opc2)
	if err != nil {
		return 0, hyperrors.HostFault(err, instr, c.R15, "mrc")
	}
	if op.rt == arm.PC {
		c.CPSR = c.CPSR&0x0FFFFFFF | v&0xF0000000
	} else {
		c.StoreGPR(op.rt, v)
	}
	return next(c), nil
}

func MCR(c *guest.Context, instr uint32) (uint32, error) {
	if !passed(c, instr) {
		return next(c), nil
	}
	op := decodeCoproc(instr)
	if op.coproc != cp15 {
		return 0, unknownCoprocessor(c, instr, op.coproc)
	}
	if op.rt == arm.PC {
		return 0, unpredictable(c, instr, "MCR from pc")
	}
	if err := checkUserCP15(c, instr, op, true); err != nil {
		return 0, err
	}
	if err := c.WriteCP15(op.crn, op.opc1, op.crm, op.opc2, c.LoadGPR(op.rt)); err != nil {
		return 0, hyperrors.HostFault(err, instr, c.R15, "mcr")
	}
	return next(c), nil
}

// unimplementedCoproc backs the coprocessor forms the guest core never uses.
func unimplementedCoproc(name string) guest.Handler {
	return func(c *guest.Context, instr uint32) (uint32, error) {
		if !passed(c, instr) {
			return next(c), nil
		}
		coproc := (instr >> 8) & 0xF
		if coproc != cp15 && coproc != 14 {
			return 0, unknownCoprocessor(c, instr, coproc)
		}
		return 0, notImplemented(c, instr, "%s p%d", name, coproc)
	}
}

var (
	MCRR = unimplementedCoproc("MCRR")
	MRRC = unimplementedCoproc("MRRC")
	CDP  = unimplementedCoproc("CDP")
	LDC  = unimplementedCoproc("LDC")
	STC  = unimplementedCoproc("STC")
)
