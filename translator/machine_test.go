package translator

import (
	"testing"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/stretchr/testify/require"
)

// machine executes the handful of ARM encodings the translator emits.
type machine struct {
	r   [16]uint32
	mem map[uint32]uint32
}

func newMachine() *machine {
	return &machine{mem: make(map[uint32]uint32)}
}

func (m *machine) read(r, addr uint32) uint32 {
	if r == arm.PC {
		return addr + arm.PipelineOffset
	}
	return m.r[r]
}

func (m *machine) step(t *testing.T, w, addr uint32) {
	t.Helper()
	require.Equal(t, arm.AL, arm.Instruction(w).Cond(), "word %#08x", w)
	i := arm.Instruction(w)
	switch {
	case w&0x0FF00000 == 0x03000000:
		m.r[i.Rd()] = (w>>4)&0xF000 | w&0xFFF
	case w&0x0FF00000 == 0x03400000:
		m.r[i.Rd()] = m.r[i.Rd()]&0xFFFF | ((w>>4)&0xF000|w&0xFFF)<<16
	case w&0x0E000000 == 0x04000000:
		require.True(t, i.Pre() && !i.Writeback(), "word %#08x", w)
		a := m.read(i.Rn(), addr)
		if i.Up() {
			a += i.Imm12()
		} else {
			a -= i.Imm12()
		}
		if i.Load() {
			m.r[i.Rt()] = m.mem[a]
		} else {
			m.mem[a] = m.read(i.Rt(), addr)
		}
	case w&0x0E000000 == 0x08000000:
		list := i.RegisterList()
		n := uint32(common.CountBitsSet(list))
		base := m.r[i.Rn()]
		var a uint32
		switch {
		case i.Up() && i.Pre():
			a = base + 4
		case i.Up():
			a = base
		case i.Pre():
			a = base - 4*n
		default:
			a = base - 4*n + 4
		}
		for r := uint32(0); r < 16; r++ {
			if list&(1<<r) == 0 {
				continue
			}
			if i.Load() {
				m.r[r] = m.mem[a]
			} else {
				m.mem[a] = m.read(r, addr)
			}
			a += 4
		}
		if i.Writeback() {
			if i.Up() {
				m.r[i.Rn()] = base + 4*n
			} else {
				m.r[i.Rn()] = base - 4*n
			}
		}
	case w&0x0C000000 == 0:
		var op2 uint32
		if i.Immediate() {
			op2 = arm.ExpandImm12(i.Imm12())
		} else {
			require.Zero(t, w&0xFF0, "only unshifted registers, word %#08x", w)
			op2 = m.read(i.Rm(), addr)
		}
		rn := m.read(i.Rn(), addr)
		switch i.Opcode() {
		case 0x4:
			m.r[i.Rd()] = rn + op2
		case 0x2:
			m.r[i.Rd()] = rn - op2
		case 0xC:
			m.r[i.Rd()] = rn | op2
		case 0xD:
			m.r[i.Rd()] = op2
		case 0x8, 0x9, 0xA, 0xB:
		default:
			t.Fatalf("opcode %#x not modelled", i.Opcode())
		}
	default:
		t.Fatalf("word %#08x not modelled", w)
	}
}

// runBlock executes a committed block from its first body word up to the trap.
func (m *machine) runBlock(t *testing.T, tc *tcache.TranslationCache, tr *Translation) {
	t.Helper()
	cc := tc.Code()
	r := *tr.Entry.Code
	words := tr.Words()
	first := 1
	if r.Reserved {
		first = 2
	}
	for k := first; k < len(words)-1; k++ {
		slot := (r.Start + uint32(k)) % cc.Capacity()
		m.step(t, words[k], cc.Address(slot))
	}
	_, ok := arm.HypercallIndex(words[len(words)-1])
	require.True(t, ok, "block ends with its trap")
}
