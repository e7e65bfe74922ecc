package guest

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
)

// bank selects one copy of a banked register.
type bank int

const (
	bankUSR bank = iota // shared by USR and SYS
	bankFIQ
	bankIRQ
	bankSVC
	bankABT
	bankUND
	numBanks
)

func bankOf(m arm.Mode) (bank, bool) {
	switch m {
	case arm.ModeUSR, arm.ModeSYS:
		return bankUSR, true
	case arm.ModeFIQ:
		return bankFIQ, true
	case arm.ModeIRQ:
		return bankIRQ, true
	case arm.ModeSVC:
		return bankSVC, true
	case arm.ModeABT:
		return bankABT, true
	case arm.ModeUND:
		return bankUND, true
	}
	return 0, false
}

// Registers is the serializable part of a guest vCPU.
type Registers struct {
	Low      [8]uint32        `json:"r0_r7"`
	High     [5]uint32        `json:"r8_r12"`
	HighFIQ  [5]uint32        `json:"r8_r12_fiq"`
	SP       [numBanks]uint32 `json:"r13"`
	LR       [numBanks]uint32 `json:"r14"`
	R15      uint32           `json:"r15"`
	CPSR     uint32           `json:"cpsr"`
	SPSRBank [numBanks]uint32 `json:"spsr"`

	IRQPending  bool   `json:"irq_pending"`
	FIQPending  bool   `json:"fiq_pending"`
	Idle        bool   `json:"idle"`
	HighVectors bool   `json:"high_vectors"`
	LastPC      uint32 `json:"last_pc"`
}

// Context is one guest vCPU together with the host services it calls into.
type Context struct {
	Registers

	CP15 *CP15 `json:"cp15"`

	// TestMode makes BKPT report guest test results instead of trapping.
	TestMode bool `json:"-"`

	Memory     Memory              `json:"-"`
	Cache      CacheMaintenance    `json:"-"`
	Interrupts InterruptController `json:"-"`
	Code       CodeInvalidator     `json:"-"`
}

// NewContext returns a context in SVC mode with IRQ and FIQ masked, the reset state of the core.
func NewContext(mem Memory) *Context {
	c := &Context{
		CP15:       NewCP15(),
		Memory:     mem,
		Cache:      NopCacheMaintenance{},
		Interrupts: NopInterruptController{},
		Code:       nopInvalidator{},
	}
	c.CPSR = uint32(arm.ModeSVC) | arm.PSRI | arm.PSRF | arm.PSRA
	return c
}

func (c *Context) Mode() arm.Mode { return arm.ModeOf(c.CPSR) }

func (c *Context) Thumb() bool { return c.CPSR&arm.PSRT != 0 }

func (c *Context) reg(r uint32, m arm.Mode) (*uint32, error) {
	switch {
	case r < 8:
		return &c.Low[r], nil
	case r < 13:
		if m == arm.ModeFIQ {
			return &c.HighFIQ[r-8], nil
		}
		if _, ok := bankOf(m); !ok {
			return nil, fmt.Errorf("%w: %s", hyperrors.ErrIInvalidMode, m)
		}
		return &c.High[r-8], nil
	case r == arm.SP || r == arm.LR:
		b, ok := bankOf(m)
		if !ok {
			return nil, fmt.Errorf("%w: %s", hyperrors.ErrIInvalidMode, m)
		}
		if r == arm.SP {
			return &c.SP[b], nil
		}
		return &c.LR[b], nil
	case r == arm.PC:
		return &c.R15, nil
	}
	return nil, fmt.Errorf("%w: register %d", hyperrors.ErrCInvalidScratch, r)
}

// LoadGPRMode reads register r as seen from mode m.
func (c *Context) LoadGPRMode(r uint32, m arm.Mode) (uint32, error) {
	p, err := c.reg(r, m)
	if err != nil {
		return 0, err
	}
	return *p, nil
}

// StoreGPRMode writes register r as seen from mode m.
func (c *Context) StoreGPRMode(r uint32, m arm.Mode, v uint32) error {
	p, err := c.reg(r, m)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// LoadGPR reads register r in the current mode. R15 reads back the raw
// instruction address; callers add the pipeline offset themselves.
// The current mode is always valid because mode writes are checked.
func (c *Context) LoadGPR(r uint32) uint32 {
	v, err := c.LoadGPRMode(r, c.Mode())
	if err != nil {
		hyperrors.Abort(err, "load r%d in mode %s", r, c.Mode())
	}
	return v
}

func (c *Context) StoreGPR(r uint32, v uint32) {
	if err := c.StoreGPRMode(r, c.Mode(), v); err != nil {
		hyperrors.Abort(err, "store r%d in mode %s", r, c.Mode())
	}
}

// SPSR returns the saved status register of the current mode.
func (c *Context) SPSR() (uint32, error) {
	b, err := c.spsrBank()
	if err != nil {
		return 0, err
	}
	return c.SPSRBank[b], nil
}

func (c *Context) SetSPSR(v uint32) error {
	b, err := c.spsrBank()
	if err != nil {
		return err
	}
	c.SPSRBank[b] = v
	return nil
}

func (c *Context) spsrBank() (bank, error) {
	m := c.Mode()
	b, ok := bankOf(m)
	if !ok {
		return 0, fmt.Errorf("%w: %s", hyperrors.ErrIInvalidMode, m)
	}
	if b == bankUSR {
		return 0, fmt.Errorf("%w: %s", hyperrors.ErrINoSPSR, m)
	}
	return b, nil
}

// ValidMode reports whether m is a mode the context can bank registers for.
func ValidMode(m arm.Mode) bool {
	_, ok := bankOf(m)
	return ok
}

// ChangeMode switches the CPSR mode field. The new mode must be valid.
func (c *Context) ChangeMode(m arm.Mode) error {
	if !ValidMode(m) {
		return fmt.Errorf("%w: %s", hyperrors.ErrIInvalidMode, m)
	}
	c.CPSR = c.CPSR&^arm.PSRMode | uint32(m)
	return nil
}

func (c *Context) String() string {
	s := fmt.Sprintf("mode %s cpsr %#08x pc %#08x\n", c.Mode(), c.CPSR, c.R15)
	for r := uint32(0); r < 15; r++ {
		s += fmt.Sprintf("%-3s %#08x", arm.RegisterName(r), c.LoadGPR(r))
		if r%4 == 3 {
			s += "\n"
		} else {
			s += "  "
		}
	}
	return s + "\n"
}
