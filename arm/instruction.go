package arm

// Instruction is a raw 32-bit ARM instruction word with named field accessors.
type Instruction uint32

func (i Instruction) Cond() Condition { return Condition(uint32(i) >> 28) }

// Rn is the first operand or base register, bits 19..16.
func (i Instruction) Rn() uint32 { return (uint32(i) >> 16) & 0xF }

// Rd is the destination register, bits 15..12.
func (i Instruction) Rd() uint32 { return (uint32(i) >> 12) & 0xF }

// Rt is the transfer register of loads and stores; same field as Rd.
func (i Instruction) Rt() uint32 { return i.Rd() }

// Rm is the second operand or offset register, bits 3..0.
func (i Instruction) Rm() uint32 { return uint32(i) & 0xF }

// Rs is the shift register, bits 11..8.
func (i Instruction) Rs() uint32 { return (uint32(i) >> 8) & 0xF }

// Immediate reports the I bit (25) of data-processing and single transfers.
func (i Instruction) Immediate() bool { return uint32(i)&(1<<25) != 0 }

// SetFlags reports the S bit (20) of data-processing instructions.
func (i Instruction) SetFlags() bool { return uint32(i)&(1<<20) != 0 }

// Pre reports the P bit (24): index before transfer.
func (i Instruction) Pre() bool { return uint32(i)&(1<<24) != 0 }

// Up reports the U bit (23): add the offset.
func (i Instruction) Up() bool { return uint32(i)&(1<<23) != 0 }

// Bit22 is the B bit of single transfers, the S bit of block transfers and
// the immediate-offset bit of halfword and doubleword transfers.
func (i Instruction) Bit22() bool { return uint32(i)&(1<<22) != 0 }

// Writeback reports the W bit (21).
func (i Instruction) Writeback() bool { return uint32(i)&(1<<21) != 0 }

// Load reports the L bit (20) of transfers.
func (i Instruction) Load() bool { return uint32(i)&(1<<20) != 0 }

// RegisterShift reports bit 4 of data-processing register forms: shift by register.
func (i Instruction) RegisterShift() bool { return uint32(i)&(1<<4) != 0 }

// Opcode is the data-processing opcode, bits 24..21.
func (i Instruction) Opcode() uint32 { return (uint32(i) >> 21) & 0xF }

// ShiftType is bits 6..5.
func (i Instruction) ShiftType() uint32 { return (uint32(i) >> 5) & 0x3 }

// ShiftImm is bits 11..7.
func (i Instruction) ShiftImm() uint32 { return (uint32(i) >> 7) & 0x1F }

func (i Instruction) RegisterList() uint32 { return uint32(i) & 0xFFFF }

func (i Instruction) Imm12() uint32 { return uint32(i) & 0xFFF }

func (i Instruction) Imm24() uint32 { return uint32(i) & 0xFFFFFF }

// ImmHL is the split 8-bit offset of halfword and doubleword transfers.
func (i Instruction) ImmHL() uint32 { return (uint32(i)>>4)&0xF0 | uint32(i)&0xF }

// Bits26to25 is the top of the opcode class; 00 selects the extra load/store space.
func (i Instruction) Bits26to25() uint32 { return (uint32(i) >> 25) & 0x3 }

// Bit6 separates LDRD/STRD from LDRH/STRH inside the extra load/store space.
func (i Instruction) Bit6() bool { return uint32(i)&(1<<6) != 0 }

// Bit5 separates STRD from LDRD inside the extra load/store space.
func (i Instruction) Bit5() bool { return uint32(i)&(1<<5) != 0 }

func (i Instruction) WithCond(c Condition) Instruction {
	return Instruction(uint32(i)&0x0FFFFFFF | uint32(c&0xF)<<28)
}

func (i Instruction) WithRn(r uint32) Instruction {
	return Instruction(uint32(i)&^(0xF<<16) | (r&0xF)<<16)
}

func (i Instruction) WithRd(r uint32) Instruction {
	return Instruction(uint32(i)&^(0xF<<12) | (r&0xF)<<12)
}

func (i Instruction) WithRm(r uint32) Instruction {
	return Instruction(uint32(i)&^0xF | r&0xF)
}

func (i Instruction) WithRegisterList(list uint32) Instruction {
	return Instruction(uint32(i)&^0xFFFF | list&0xFFFF)
}

func (i Instruction) with(bit uint, on bool) Instruction {
	if on {
		return i | Instruction(1)<<bit
	}
	return i &^ (Instruction(1) << bit)
}

func (i Instruction) WithPre(on bool) Instruction       { return i.with(24, on) }
func (i Instruction) WithUp(on bool) Instruction        { return i.with(23, on) }
func (i Instruction) WithWriteback(on bool) Instruction { return i.with(21, on) }
func (i Instruction) WithLoad(on bool) Instruction      { return i.with(20, on) }

func (i Instruction) WithImm12(imm uint32) Instruction {
	return Instruction(uint32(i)&^0xFFF | imm&0xFFF)
}

// ExpandImm12 decodes a modified immediate: imm8 rotated right by twice the rotate field.
func ExpandImm12(imm12 uint32) uint32 {
	imm8 := imm12 & 0xFF
	rot := ((imm12 >> 8) & 0xF) * 2
	return imm8>>rot | imm8<<((32-rot)&31)
}

// IsThumb32 reports whether a halfword is the first half of a 32-bit Thumb instruction.
func IsThumb32(firstHalf uint32) bool {
	switch (firstHalf >> 11) & 0x1F {
	case 0x1D, 0x1E, 0x1F:
		return true
	}
	return false
}
