package arm

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm/armasm"
)

// DisassembleWord renders one ARM word in GNU syntax, or ".word" when it does not decode.
func DisassembleWord(w uint32) string {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], w)
	inst, err := armasm.Decode(b[:], armasm.ModeARM)
	if err != nil {
		return fmt.Sprintf(".word 0x%08x", w)
	}
	return armasm.GNUSyntax(inst)
}

// Disassemble lists words as laid out starting at base.
func Disassemble(words []uint32, base uint32) string {
	var sb strings.Builder
	for i, w := range words {
		sb.WriteString(fmt.Sprintf("0x%08x: %08x %s\n", base+uint32(i)*InstructionSize, w, DisassembleWord(w)))
	}
	return sb.String()
}
