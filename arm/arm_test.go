package arm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConditionTable(t *testing.T) {
	for nzcv := uint32(0); nzcv < 16; nzcv++ {
		n := nzcv&8 != 0
		z := nzcv&4 != 0
		c := nzcv&2 != 0
		v := nzcv&1 != 0
		cpsr := nzcv << 28
		want := map[Condition]bool{
			EQ: z, NE: !z,
			HS: c, LO: !c,
			MI: n, PL: !n,
			VS: v, VC: !v,
			HI: c && !z, LS: !c || z,
			GE: n == v, LT: n != v,
			GT: !z && n == v, LE: z || n != v,
			AL: true, NV: false,
		}
		require.Len(t, want, 16)
		for cond, exp := range want {
			assert.Equal(t, exp, cond.Evaluate(cpsr), "cond %s nzcv %04b", cond, nzcv)
		}
	}
}

func TestInstructionFields(t *testing.T) {
	// ldr r3, [pc, #-20]
	i := Instruction(0xE51F3014)
	assert.Equal(t, AL, i.Cond())
	assert.Equal(t, uint32(PC), i.Rn())
	assert.Equal(t, uint32(3), i.Rt())
	assert.True(t, i.Pre())
	assert.False(t, i.Up())
	assert.True(t, i.Load())
	assert.False(t, i.Immediate())
	assert.Equal(t, uint32(0x14), i.Imm12())

	j := i.WithRn(R2).WithRd(R7).WithUp(true).WithImm12(4)
	assert.Equal(t, Instruction(0xE5927004), j)
	assert.Equal(t, Instruction(0x051F3014), i.WithCond(EQ))

	// stmdb sp!, {r0-r3, pc}
	stm := Instruction(0xE92D800F)
	assert.Equal(t, uint32(0x800F), stm.RegisterList())
	assert.True(t, stm.Writeback())
	assert.False(t, stm.Up())
}

func TestExpandImm12(t *testing.T) {
	assert.Equal(t, uint32(4), ExpandImm12(0x004))
	assert.Equal(t, uint32(0xFF000000), ExpandImm12(0x4FF))
	assert.Equal(t, uint32(0x3FC), ExpandImm12(0xFFF))
}

func TestIsThumb32(t *testing.T) {
	assert.True(t, IsThumb32(0xF000))
	assert.True(t, IsThumb32(0xE800))
	assert.False(t, IsThumb32(0xE000))
	assert.False(t, IsThumb32(0x4770))
}

func TestEncoders(t *testing.T) {
	// movw r0, #0x8008 / movt r0, #0
	assert.Equal(t, uint32(0xE3080008), MOVW(AL, R0, 0x8008))
	assert.Equal(t, uint32(0xE3400000), MOVT(AL, R0, 0))
	assert.Equal(t, uint32(0xE34F0FFF), MOVT(AL, R0, 0xFFFF))

	assert.Equal(t, uint32(0xE59F1000), LoadStoreImmediate(AL, true, R1, PC, true, 0))
	assert.Equal(t, uint32(0xE50F2010), LoadStoreImmediate(AL, false, R2, PC, false, 0x10))
	assert.True(t, IsLiteralTransfer(0xE50F2010))
	assert.False(t, IsLiteralTransfer(0xE5912010))

	assert.Equal(t, uint32(0xE92D0002), Push(AL, R1))
	assert.Equal(t, uint32(0xE8BD0002), Pop(AL, R1))

	b := Branch(AL, 0x1000, 0x0F00)
	assert.Equal(t, uint32(0x0F00), BranchTarget(b, 0x1000))
	b = Branch(AL, 0x100, 0x2000)
	assert.Equal(t, uint32(0x2000), BranchTarget(b, 0x100))
}

func TestHypercallRoundTrip(t *testing.T) {
	for _, idx := range []uint32{0, 1, 77, 255} {
		w := HypercallARM(idx)
		got, ok := HypercallIndex(w)
		require.True(t, ok)
		assert.Equal(t, idx, got)

		got, ok = HypercallIndex(RetargetHypercallARM(w, 3))
		require.True(t, ok)
		assert.Equal(t, uint32(3), got)
	}
	_, ok := HypercallIndex(0xEF000000)
	assert.False(t, ok)
	_, ok = HypercallIndex(0xE1A00000)
	assert.False(t, ok)

	hw := HypercallThumb(9)
	got, ok := HypercallIndexThumb(hw)
	require.True(t, ok)
	assert.Equal(t, uint32(9), got)
	got, _ = HypercallIndexThumb(RetargetHypercallThumb(hw, 4))
	assert.Equal(t, uint32(4), got)
}

func TestDisassemble(t *testing.T) {
	assert.Contains(t, DisassembleWord(0xE1A00000), "mov")
	out := Disassemble([]uint32{0xE92D0002, 0xE8BD0002}, 0x8000)
	assert.Contains(t, out, "0x00008000")
	assert.Contains(t, out, "0x00008004")
}
