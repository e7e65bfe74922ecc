package guest

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
	"golang.org/x/exp/slices"
)

// CP15Index packs (CRn, opc1, CRm, opc2) into a register bank key.
func CP15Index(crn, opc1, crm, opc2 uint32) uint32 {
	return (crn&0xF)<<12 | (opc1&0x7)<<8 | (crm&0xF)<<4 | opc2&0x7
}

var (
	CP15MIDR     = CP15Index(0, 0, 0, 0)
	CP15CTR      = CP15Index(0, 0, 0, 1)
	CP15MMFR0    = CP15Index(0, 0, 1, 4)
	CP15MMFR1    = CP15Index(0, 0, 1, 5)
	CP15CCSIDR   = CP15Index(0, 1, 0, 0)
	CP15CLIDR    = CP15Index(0, 1, 0, 1)
	CP15CSSELR   = CP15Index(0, 2, 0, 0)
	CP15SCTLR    = CP15Index(1, 0, 0, 0)
	CP15ACTLR    = CP15Index(1, 0, 0, 1)
	CP15TTBR0    = CP15Index(2, 0, 0, 0)
	CP15TTBR1    = CP15Index(2, 0, 0, 1)
	CP15TTBCR    = CP15Index(2, 0, 0, 2)
	CP15DACR     = CP15Index(3, 0, 0, 0)
	CP15DFSR     = CP15Index(5, 0, 0, 0)
	CP15IFSR     = CP15Index(5, 0, 0, 1)
	CP15DFAR     = CP15Index(6, 0, 0, 0)
	CP15IFAR     = CP15Index(6, 0, 0, 2)
	CP15ICIALLU  = CP15Index(7, 0, 5, 0)
	CP15ICIMVAU  = CP15Index(7, 0, 5, 1)
	CP15ISB      = CP15Index(7, 0, 5, 4)
	CP15BPIALL   = CP15Index(7, 0, 5, 6)
	CP15DCIMVAC  = CP15Index(7, 0, 6, 1)
	CP15DCCMVAC  = CP15Index(7, 0, 10, 1)
	CP15DCCSW    = CP15Index(7, 0, 10, 2)
	CP15DSB      = CP15Index(7, 0, 10, 4)
	CP15DMB      = CP15Index(7, 0, 10, 5)
	CP15DCCMVAU  = CP15Index(7, 0, 11, 1)
	CP15DCCIMVAC = CP15Index(7, 0, 14, 1)
	CP15DCCISW   = CP15Index(7, 0, 14, 2)
	CP15PRRR     = CP15Index(10, 0, 2, 0)
	CP15NMRR     = CP15Index(10, 0, 2, 1)
	CP15VBAR     = CP15Index(12, 0, 0, 0)
	CP15FCSEIDR  = CP15Index(13, 0, 0, 0)
	CP15CTXIDR   = CP15Index(13, 0, 0, 1)
	CP15TPIDRURW = CP15Index(13, 0, 0, 2)
	CP15TPIDRURO = CP15Index(13, 0, 0, 3)
	CP15TPIDRPRW = CP15Index(13, 0, 0, 4)
)

// TLB maintenance operations: ITLB, DTLB and unified, each (all, by MVA, by ASID).
var cp15TLBOps = []uint32{
	CP15Index(8, 0, 5, 0), CP15Index(8, 0, 5, 1), CP15Index(8, 0, 5, 2),
	CP15Index(8, 0, 6, 0), CP15Index(8, 0, 6, 1), CP15Index(8, 0, 6, 2),
	CP15Index(8, 0, 7, 0), CP15Index(8, 0, 7, 1), CP15Index(8, 0, 7, 2),
}

const (
	sctlrHighVectors uint32 = 1 << 13

	ccsidrL1Data  uint32 = 0xE007E01A
	ccsidrL1Instr uint32 = 0x2007E01A
	ccsidrL2      uint32 = 0xF03FE03A
)

var cp15ReadOnly = map[uint32]bool{
	CP15MIDR: true, CP15CTR: true, CP15MMFR0: true,
	CP15MMFR1: true, CP15CCSIDR: true, CP15CLIDR: true,
}

// CP15 is the system control coprocessor register bank of a Cortex-A8.
type CP15 struct {
	Regs map[uint32]uint32 `json:"regs"`
}

func NewCP15() *CP15 {
	c := &CP15{Regs: map[uint32]uint32{
		CP15MIDR:   0x411FC083,
		CP15CTR:    0x80048004,
		CP15MMFR0:  0x31100003,
		CP15MMFR1:  0x20000000,
		CP15CCSIDR: ccsidrL1Data,
		CP15CLIDR:  0x0A000023,
		CP15CSSELR: 0,
		CP15SCTLR:  0x00C5187A,
		CP15ACTLR:  0x00000002,
		CP15TTBR0:  0, CP15TTBR1: 0, CP15TTBCR: 0,
		CP15DACR: 0x0000000F,
		CP15DFSR: 0, CP15IFSR: 0, CP15DFAR: 0, CP15IFAR: 0,
		CP15ICIALLU: 0, CP15ICIMVAU: 0, CP15ISB: 0, CP15BPIALL: 0,
		CP15DCIMVAC: 0, CP15DCCMVAC: 0, CP15DCCSW: 0, CP15DSB: 0, CP15DMB: 0,
		CP15DCCMVAU: 0, CP15DCCIMVAC: 0, CP15DCCISW: 0,
		CP15PRRR: 0x00098AA4,
		CP15NMRR: 0x44E048E0,
		CP15VBAR: 0,
		CP15FCSEIDR: 0, CP15CTXIDR: 0, CP15TPIDRURW: 0, CP15TPIDRURO: 0, CP15TPIDRPRW: 0,
	}}
	for _, op := range cp15TLBOps {
		c.Regs[op] = 0
	}
	return c
}

// Indices lists implemented registers in ascending order.
func (c *CP15) Indices() []uint32 {
	keys := make([]uint32, 0, len(c.Regs))
	for k := range c.Regs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func cp15Name(idx uint32) string {
	return fmt.Sprintf("c%d,%d,c%d,%d", idx>>12, (idx>>8)&7, (idx>>4)&0xF, idx&7)
}

// ReadCP15 implements MRC p15.
func (c *Context) ReadCP15(crn, opc1, crm, opc2 uint32) (uint32, error) {
	idx := CP15Index(crn, opc1, crm, opc2)
	v, ok := c.CP15.Regs[idx]
	if !ok {
		return 0, fmt.Errorf("%w: mrc p15 %s", hyperrors.ErrINotImplemented, cp15Name(idx))
	}
	log.Trace(log.InterpMonitoring, "cp15 read", "reg", cp15Name(idx), "value", v)
	return v, nil
}

// WriteCP15 implements MCR p15 including the side effects of maintenance operations.
func (c *Context) WriteCP15(crn, opc1, crm, opc2, value uint32) error {
	idx := CP15Index(crn, opc1, crm, opc2)
	old, ok := c.CP15.Regs[idx]
	if !ok {
		return fmt.Errorf("%w: mcr p15 %s", hyperrors.ErrINotImplemented, cp15Name(idx))
	}
	if cp15ReadOnly[idx] {
		return fmt.Errorf("%w: %s", hyperrors.ErrIReadOnlyRegister, cp15Name(idx))
	}
	log.Trace(log.InterpMonitoring, "cp15 write", "reg", cp15Name(idx), "old", old, "value", value)

	switch idx {
	case CP15CSSELR:
		switch value {
		case 0:
			c.CP15.Regs[CP15CCSIDR] = ccsidrL1Data
		case 1:
			c.CP15.Regs[CP15CCSIDR] = ccsidrL1Instr
		case 2:
			c.CP15.Regs[CP15CCSIDR] = ccsidrL2
		default:
			return fmt.Errorf("%w: CSSELR %#x selects a missing cache", hyperrors.ErrINotImplemented, value)
		}
	case CP15SCTLR:
		switch {
		case old&sctlrHighVectors == 0 && value&sctlrHighVectors != 0:
			log.Debug(log.InterpMonitoring, "cp15: high vectors set")
			c.HighVectors = true
		case old&sctlrHighVectors != 0 && value&sctlrHighVectors == 0:
			log.Debug(log.InterpMonitoring, "cp15: low vectors set")
			c.HighVectors = false
		}
	case CP15TTBCR:
		if value&0x7 != 0 {
			return fmt.Errorf("%w: TTBCR.N %d", hyperrors.ErrINotImplemented, value&0x7)
		}
	case CP15ICIALLU:
		c.Code.Clear()
	case CP15ICIMVAU:
		c.Code.InvalidateAddress(value)
	case CP15DCCMVAC, CP15DCCMVAU, CP15DCCIMVAC:
		c.Cache.CleanDataCacheLine(value)
	}
	c.CP15.Regs[idx] = value
	return nil
}
