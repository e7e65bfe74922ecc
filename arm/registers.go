package arm

import "fmt"

// General purpose register numbers.
const (
	R0 uint32 = iota
	R1
	R2
	R3
	R4
	R5
	R6
	R7
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	SP = R13
	LR = R14
	PC = R15
)

const (
	InstructionSize      = 4
	ThumbInstructionSize = 2

	// PipelineOffset is the distance between an ARM instruction and the PC value it observes.
	PipelineOffset = 8
)

// Program status register bits.
const (
	PSRN    uint32 = 1 << 31
	PSRZ    uint32 = 1 << 30
	PSRC    uint32 = 1 << 29
	PSRV    uint32 = 1 << 28
	PSRQ    uint32 = 1 << 27
	PSRJ    uint32 = 1 << 24
	PSRGE   uint32 = 0x000F0000
	PSRE    uint32 = 1 << 9
	PSRA    uint32 = 1 << 8
	PSRI    uint32 = 1 << 7
	PSRF    uint32 = 1 << 6
	PSRT    uint32 = 1 << 5
	PSRMode uint32 = 0x1F
)

// MSR field masks, selected by the instruction's 4-bit mask field.
const (
	PSRControlField   uint32 = 0x000000FF
	PSRExtensionField uint32 = 0x0000FF00
	PSRStatusField    uint32 = 0x00FF0000
	PSRFlagsField     uint32 = 0xFF000000
)

// Mode is the CPSR mode field.
type Mode uint32

const (
	ModeUSR Mode = 0x10
	ModeFIQ Mode = 0x11
	ModeIRQ Mode = 0x12
	ModeSVC Mode = 0x13
	ModeMON Mode = 0x16
	ModeABT Mode = 0x17
	ModeHYP Mode = 0x1A
	ModeUND Mode = 0x1B
	ModeSYS Mode = 0x1F
)

// ModeOf extracts the mode field of a PSR value.
func ModeOf(psr uint32) Mode {
	return Mode(psr & PSRMode)
}

func (m Mode) String() string {
	switch m {
	case ModeUSR:
		return "USR"
	case ModeFIQ:
		return "FIQ"
	case ModeIRQ:
		return "IRQ"
	case ModeSVC:
		return "SVC"
	case ModeMON:
		return "MON"
	case ModeABT:
		return "ABT"
	case ModeHYP:
		return "HYP"
	case ModeUND:
		return "UND"
	case ModeSYS:
		return "SYS"
	}
	return fmt.Sprintf("mode(%#x)", uint32(m))
}

// Privileged reports whether the mode is anything other than user.
func (m Mode) Privileged() bool {
	return m != ModeUSR
}

var registerNames = [16]string{
	"r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7",
	"r8", "r9", "r10", "r11", "r12", "sp", "lr", "pc",
}

// RegisterName returns the assembler name of register r.
func RegisterName(r uint32) string {
	if r > 15 {
		return fmt.Sprintf("r?%d", r)
	}
	return registerNames[r]
}
