// Package sandbox runs translated blocks and patched guest code in an
// emulated ARM core. The unicorn backed executor is only built with the
// unicorn tag; other builds get a stub that reports ErrSandboxUnavailable.
package sandbox

import (
	"errors"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
)

var ErrSandboxUnavailable = errors.New("sandbox: built without the unicorn tag")

// maxInstructions bounds one Execute call so a runaway block cannot hang the host.
const maxInstructions = 1 << 20

// pagedMemory is the view of guest memory the executor mirrors into the emulator.
type pagedMemory interface {
	PageNumbers() []uint32
	Page(p uint32) ([]byte, bool)
	SetPage(p uint32, data []byte)
}

// Registers is the unbanked register view of a guest in its current mode.
type Registers struct {
	R    [15]uint32
	CPSR uint32
}

// Capture reads the registers of c as seen from its current mode.
func Capture(c *guest.Context) Registers {
	var r Registers
	for i := uint32(0); i < arm.PC; i++ {
		r.R[i] = c.LoadGPR(i)
	}
	r.CPSR = c.CPSR
	return r
}

// Apply writes r back to c. Only the condition flags of CPSR are taken,
// code running in the sandbox cannot change mode.
func (r Registers) Apply(c *guest.Context) {
	for i := uint32(0); i < arm.PC; i++ {
		c.StoreGPR(i, r.R[i])
	}
	c.CPSR = c.CPSR&^flagBits | r.CPSR&flagBits
}

const flagBits = arm.PSRN | arm.PSRZ | arm.PSRC | arm.PSRV | arm.PSRQ | arm.PSRGE
