package guest

import (
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/log"
)

const (
	VectorUndefined uint32 = 0x04
	VectorSVC       uint32 = 0x08
	VectorDataAbort uint32 = 0x10
	highVectorBase  uint32 = 0xFFFF0000
	dfsrWnR         uint32 = 1 << 11
)

// VectorAddress returns the guest handler address for a vector offset.
func (c *Context) VectorAddress(offset uint32) uint32 {
	if c.HighVectors {
		return highVectorBase | offset
	}
	return offset
}

// DeliverDataAbort enters the guest abort handler for a faulting access at
// addr and returns the handler address.
func (c *Context) DeliverDataAbort(addr uint32, isWrite bool, fault DataAbort) uint32 {
	dfsr := fault.FaultType&0xF | (fault.FaultType&0x10)<<6 | (fault.Domain&0xF)<<4
	if isWrite {
		dfsr |= dfsrWnR
	}
	c.CP15.Regs[CP15DFSR] = dfsr
	c.CP15.Regs[CP15DFAR] = addr

	log.Debug(log.InterpMonitoring, "deliver data abort", "addr", addr, "pc", c.R15, "dfsr", dfsr)
	vector := c.enter(arm.ModeABT, bankABT, c.R15+arm.PipelineOffset, VectorDataAbort)
	c.CPSR |= arm.PSRA
	return vector
}

// enter takes an exception into mode m with the return address lr.
func (c *Context) enter(m arm.Mode, b bank, lr, vector uint32) uint32 {
	c.SPSRBank[b] = c.CPSR
	c.CPSR = c.CPSR&^(arm.PSRMode|arm.PSRT) | uint32(m) | arm.PSRI
	c.LR[b] = lr
	c.R15 = c.VectorAddress(vector)
	return c.R15
}

// DeliverSupervisorCall enters the guest SVC handler for an SVC at R15.
func (c *Context) DeliverSupervisorCall() uint32 {
	log.Debug(log.InterpMonitoring, "deliver svc", "pc", c.R15)
	return c.enter(arm.ModeSVC, bankSVC, c.R15+arm.InstructionSize, VectorSVC)
}

// DeliverUndefined enters the guest undefined instruction handler for the instruction at R15.
func (c *Context) DeliverUndefined() uint32 {
	log.Debug(log.InterpMonitoring, "deliver undefined", "pc", c.R15)
	return c.enter(arm.ModeUND, bankUND, c.R15+arm.InstructionSize, VectorUndefined)
}
