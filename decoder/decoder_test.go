package decoder

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		instr uint32
		kind  Kind
		name  string
	}{
		{0xE28F0004, PCSensitive, "alu rn pc"},
		{0xE080000F, PCSensitive, "alu rm pc"},
		{0xE1A0000F, PCSensitive, "alu rm pc"},
		{0xE15F000E, PCSensitive, "compare rn pc"},
		{0xE110000F, PCSensitive, "compare rm pc"},
		{0xE59F0008, PCSensitive, "ldr literal"},
		{0xE58F0008, PCSensitive, "str pc base"},
		{0xE581F000, PCSensitive, "str pc"},
		{0xE1DF00B2, PCSensitive, "ldrh literal"},
		{0xE1CF00D8, PCSensitive, "ldrd literal"},
		{0xE92D800F, PCSensitive, "stmdb! pc"},

		{0xE1A0F00E, Trap, "alu pc dest"},
		{0xE25EF004, Trap, "alu pc dest"},
		{0xE591F000, Trap, "ldr pc"},
		{0xE8BD8000, Trap, "ldm pc"},
		{0xE8FD8001, Trap, "ldm exception return"},
		{0xE8D06000, Trap, "ldm user"},
		{0xE8C02000, Trap, "stm user"},
		{0xE88D8001, Trap, "stm pc"},
		{0xE12FFF1E, Trap, "bx"},
		{0xE12FFF33, Trap, "blx reg"},
		{0xE10F0000, Trap, "mrs"},
		{0xE121F001, Trap, "msr reg"},
		{0xE328F4F0, Trap, "msr imm"},
		{0xE320F003, Trap, "wfi"},
		{0xE1200070, Trap, "bkpt"},
		{0xEE100F10, Trap, "mrc"},
		{0xEE070F15, Trap, "mcr"},
		{0xEF000010, Trap, "svc"},
		{0xEA000002, Trap, "b"},
		{0x0B000002, Trap, "bl"},
		{0xF1080080, Trap, "cps"},
		{0xFA000001, Trap, "blx imm"},

		{0xE3A00001, Copy, "alu"},
		{0xE1A00000, Copy, "alu"},
		{0xE16F0F11, Copy, "clz"},
		{0x116F1F12, Copy, "clz"},
		{0xE30F4123, Copy, "movw/movt"},
		{0xE320F000, Copy, "hint"},
		{0xE0000291, Copy, "multiply"},
		{0xE1D100B2, Copy, "extra transfer"},
		{0xE5910004, Copy, "ldr/str"},
		{0xE92D4000, Copy, "ldm/stm"},
		{0xF57FF04F, Copy, "dsb/dmb/isb"},
		{0xF5D1F000, Copy, "pld/pli"},

		{0xE7F000F0, Undefined, "udf"},
		{0xF7F000F0, Undefined, "undefined"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%08x", tt.instr), func(t *testing.T) {
			e := Decode(tt.instr)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.name, e.Name)
		})
	}
}

func TestTableRowsAreComplete(t *testing.T) {
	for _, table := range [][]Entry{conditional, unconditional} {
		for _, e := range table {
			require.Equal(t, e.Value, e.Value&e.Mask, e.Name)
			switch e.Kind {
			case PCSensitive:
				assert.NotNil(t, e.Translate, e.Name)
				assert.Nil(t, e.Interpret, e.Name)
			case Trap:
				assert.NotNil(t, e.Interpret, e.Name)
				assert.Nil(t, e.Translate, e.Name)
			default:
				assert.Nil(t, e.Translate, e.Name)
				assert.Nil(t, e.Interpret, e.Name)
			}
		}
	}
}

func TestEndsBlock(t *testing.T) {
	assert.True(t, Decode(0xEA000002).EndsBlock())
	assert.True(t, Decode(0xE7F000F0).EndsBlock())
	assert.False(t, Decode(0xE28F0004).EndsBlock())
	assert.False(t, Decode(0xE3A00001).EndsBlock())
	assert.Equal(t, "trap(b)", Decode(0xEA000002).String())
}
