package arm

// MOVW writes the low 16 bits of imm into rd and clears the top half.
func MOVW(cond Condition, rd, imm uint32) uint32 {
	return uint32(cond)<<28 | 0x30<<20 | (imm&0xF000)<<4 | rd<<12 | imm&0xFFF
}

// MOVT writes imm into the top 16 bits of rd, keeping the low half.
func MOVT(cond Condition, rd, imm uint32) uint32 {
	return uint32(cond)<<28 | 0x34<<20 | (imm&0xF000)<<4 | rd<<12 | imm&0xFFF
}

// LoadStoreImmediate encodes a pre-indexed word LDR/STR without writeback:
// op rt, [rn, #+/-offset].
func LoadStoreImmediate(cond Condition, load bool, rt, rn uint32, add bool, offset uint32) uint32 {
	w := uint32(cond)<<28 | 0x05<<24 | rn<<16 | rt<<12 | offset&0xFFF
	if add {
		w |= 1 << 23
	}
	if load {
		w |= 1 << 20
	}
	return w
}

// IsLiteralTransfer matches a word LDR/STR with an immediate offset and PC as base.
func IsLiteralTransfer(w uint32) bool {
	return w&0x0E4F0000 == 0x040F0000
}

// Push encodes STMDB sp!, {reg}.
func Push(cond Condition, reg uint32) uint32 {
	return uint32(cond)<<28 | 0x092D0000 | 1<<reg
}

// Pop encodes LDMIA sp!, {reg}.
func Pop(cond Condition, reg uint32) uint32 {
	return uint32(cond)<<28 | 0x08BD0000 | 1<<reg
}

// Branch encodes B from the instruction at address from to address to.
func Branch(cond Condition, from, to uint32) uint32 {
	off := int32(to-(from+PipelineOffset)) >> 2
	return uint32(cond)<<28 | 0xA<<24 | uint32(off)&0xFFFFFF
}

// BranchTarget decodes the destination of a B/BL at address at.
func BranchTarget(w, at uint32) uint32 {
	off := int32(w<<8) >> 6
	return at + PipelineOffset + uint32(off)
}

// Hypercall trap encodings. The meta-cache index is stored plus one so that
// the zero immediate stays free for ordinary guest SVCs.
const (
	hypercallARM      uint32 = 0xEF000000
	hypercallThumb    uint32 = 0xDF00
	hypercallThumbMsk uint32 = 0xFF00
)

func HypercallARM(index uint32) uint32 {
	return hypercallARM | (index+1)<<8
}

func HypercallThumb(index uint32) uint32 {
	return hypercallThumb | (index+1)&0xFF
}

// RetargetHypercallARM keeps the top byte of an existing trap and points it at index.
func RetargetHypercallARM(trap, index uint32) uint32 {
	return trap&0xFF000000 | (index+1)<<8
}

// RetargetHypercallThumb keeps the opcode byte of an existing T16 trap and points it at index.
func RetargetHypercallThumb(trap, index uint32) uint32 {
	return trap&hypercallThumbMsk | (index+1)&0xFF
}

// HypercallIndex decodes the meta-cache index of an ARM trap. ok is false for
// anything that is not a hypercall.
func HypercallIndex(w uint32) (index uint32, ok bool) {
	if w&0x0F000000 != 0x0F000000 {
		return 0, false
	}
	n := (w & 0xFFFFFF) >> 8
	if n == 0 {
		return 0, false
	}
	return n - 1, true
}

// HypercallIndexThumb decodes the meta-cache index of a T16 trap.
func HypercallIndexThumb(hw uint32) (index uint32, ok bool) {
	if hw&hypercallThumbMsk != hypercallThumb || hw&0xFF == 0 {
		return 0, false
	}
	return hw&0xFF - 1, true
}
