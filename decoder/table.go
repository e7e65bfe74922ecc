package decoder

import (
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/interpreter"
	"github.com/dkudinskas/hyparm-sub003/translator"
)

func copyRow(mask, value uint32, name string) Entry {
	return Entry{Mask: mask, Value: value, Kind: Copy, Name: name}
}

func pcRow(mask, value uint32, name string, h translator.Handler) Entry {
	return Entry{Mask: mask, Value: value, Kind: PCSensitive, Name: name, Translate: h}
}

func trapRow(mask, value uint32, name string, h guest.Handler) Entry {
	return Entry{Mask: mask, Value: value, Kind: Trap, Name: name, Interpret: h}
}

func undefinedRow(mask, value uint32, name string) Entry {
	return Entry{Mask: mask, Value: value, Kind: Undefined, Name: name}
}

// unconditional covers the cond == 0xF space.
var unconditional = []Entry{
	trapRow(0xFFF1FE20, 0xF1000000, "cps", interpreter.CPS),
	trapRow(0xFE000000, 0xFA000000, "blx imm", interpreter.BLXImmediate),
	copyRow(0xFC30F000, 0xF410F000, "pld/pli"),
	copyRow(0xFFFFFFFF, 0xF57FF01F, "clrex"),
	copyRow(0xFFFFFFC0, 0xF57FF040, "dsb/dmb/isb"),
}

// conditional is searched in order; earlier rows carve exceptions out of later, wider ones.
var conditional = []Entry{
	// hints and status registers
	trapRow(0x0FFFFFFF, 0x0320F003, "wfi", interpreter.WFI),
	copyRow(0x0FFFFF00, 0x0320F000, "hint"),
	trapRow(0x0FB0F000, 0x0320F000, "msr imm", interpreter.MSR),
	trapRow(0x0FB0FFF0, 0x0120F000, "msr reg", interpreter.MSR),
	trapRow(0x0FBF0FFF, 0x010F0000, "mrs", interpreter.MRS),
	trapRow(0x0FFFFFF0, 0x012FFF10, "bx", interpreter.BX),
	trapRow(0x0FFFFFF0, 0x012FFF20, "bxj", interpreter.BXJ),
	trapRow(0x0FFFFFF0, 0x012FFF30, "blx reg", interpreter.BLXRegister),
	trapRow(0x0FF000F0, 0x01200070, "bkpt", interpreter.BKPT),
	undefinedRow(0x0FF000F0, 0x01600070, "smc"),
	copyRow(0x0FFF0FF0, 0x016F0F10, "clz"),

	// multiplies, swaps and exclusives
	copyRow(0x0F0000F0, 0x00000090, "multiply"),
	copyRow(0x0FB00FF0, 0x01000090, "swp"),
	copyRow(0x0F8000F0, 0x01800090, "ldrex/strex"),

	// halfword, signed and doubleword transfers
	trapRow(0x0E10F090, 0x0010F090, "ldrh pc", interpreter.LDRH),
	pcRow(0x0E1F0090, 0x001F0090, "ldrh literal", translator.LoadPC),
	pcRow(0x0E1F00F0, 0x000F00D0, "ldrd literal", translator.LoadPC),
	pcRow(0x0E1F0090, 0x000F0090, "strh/strd pc base", translator.StorePC),
	trapRow(0x0E10F0F0, 0x0000F0B0, "strh pc", interpreter.STRH),
	trapRow(0x0E50009F, 0x0010009F, "ldrh rm pc", interpreter.LDRH),
	trapRow(0x0E50009F, 0x0000009F, "strh rm pc", interpreter.STRH),
	copyRow(0x0E000090, 0x00000090, "extra transfer"),

	// data processing
	trapRow(0x0C00F000, 0x0000F000, "alu pc dest", interpreter.DataProcessingPC),
	copyRow(0x0FB00000, 0x03000000, "movw/movt"),
	pcRow(0x0D9F0000, 0x011F0000, "compare rn pc", translator.DataProcessingNoDest),
	pcRow(0x0F90000F, 0x0110000F, "compare rm pc", translator.DataProcessingNoDest),
	pcRow(0x0C0F0000, 0x000F0000, "alu rn pc", translator.DataProcessing),
	pcRow(0x0E00000F, 0x0000000F, "alu rm pc", translator.DataProcessing),
	copyRow(0x0C000000, 0x00000000, "alu"),

	// word and byte transfers
	undefinedRow(0x0FF000F0, 0x07F000F0, "udf"),
	copyRow(0x0E000010, 0x06000010, "media"),
	trapRow(0x0C50F000, 0x0410F000, "ldr pc", interpreter.LDR),
	trapRow(0x0C50F000, 0x0450F000, "ldrb pc", interpreter.LDRB),
	pcRow(0x0C1F0000, 0x041F0000, "ldr literal", translator.LoadPC),
	pcRow(0x0C1F0000, 0x040F0000, "str pc base", translator.StorePC),
	pcRow(0x0C10F000, 0x0400F000, "str pc", translator.StorePC),
	trapRow(0x0E10000F, 0x0610000F, "ldr rm pc", interpreter.LDR),
	trapRow(0x0E10000F, 0x0600000F, "str rm pc", interpreter.STR),
	copyRow(0x0C000000, 0x04000000, "ldr/str"),

	// block transfers
	trapRow(0x0E1F0000, 0x081F0000, "ldm pc base", interpreter.LDM),
	trapRow(0x0E1F0000, 0x080F0000, "stm pc base", interpreter.STM),
	trapRow(0x0E508000, 0x08508000, "ldm exception return", interpreter.LDMExceptionReturn),
	trapRow(0x0E500000, 0x08500000, "ldm user", interpreter.LDMUser),
	trapRow(0x0E500000, 0x08400000, "stm user", interpreter.STMUser),
	trapRow(0x0E108000, 0x08108000, "ldm pc", interpreter.LDM),
	pcRow(0x0FF08000, 0x09208000, "stmdb! pc", translator.StoreMultiplePC),
	trapRow(0x0E108000, 0x08008000, "stm pc", interpreter.STM),
	copyRow(0x0E000000, 0x08000000, "ldm/stm"),

	// branches
	trapRow(0x0F000000, 0x0A000000, "b", interpreter.B),
	trapRow(0x0F000000, 0x0B000000, "bl", interpreter.BL),

	// coprocessors and supervisor calls
	trapRow(0x0FF00000, 0x0C400000, "mcrr", interpreter.MCRR),
	trapRow(0x0FF00000, 0x0C500000, "mrrc", interpreter.MRRC),
	trapRow(0x0E100000, 0x0C100000, "ldc", interpreter.LDC),
	trapRow(0x0E100000, 0x0C000000, "stc", interpreter.STC),
	trapRow(0x0F100010, 0x0E100010, "mrc", interpreter.MRC),
	trapRow(0x0F100010, 0x0E000010, "mcr", interpreter.MCR),
	trapRow(0x0F000010, 0x0E000000, "cdp", interpreter.CDP),
	trapRow(0x0F000000, 0x0F000000, "svc", interpreter.SVC),
}
