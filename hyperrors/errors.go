package hyperrors

import (
	"errors"
	"fmt"
	"strings"
)

// Translator (T) Errors
var (
	ErrTUnsupportedShape = errors.New("T1|UnsupportedShape: Instruction shape has no PC-rewrite rule.")
	ErrTUnpredictable    = errors.New("T2|Unpredictable: Operand combination is unpredictable for a PC-sensitive instruction.")
)

// Translation Cache (C) Errors
var (
	ErrCInvalidBackpointer = errors.New("C1|InvalidBackpointer: Code cache slot refers outside the meta-cache.")
	ErrCRelocationOverflow = errors.New("C2|RelocationOverflow: Relocated literal offset does not fit its encoding.")
	ErrCSpillUnreachable   = errors.New("C3|SpillUnreachable: Spill location is out of reach of a PC-relative transfer.")
	ErrCInvalidScratch     = errors.New("C4|InvalidScratch: Scratch register or condition out of range.")
	ErrCInvalidEntry       = errors.New("C5|InvalidEntry: Meta-cache entry is not valid.")
	ErrCBadConfig          = errors.New("C6|BadConfig: Translation cache configuration is invalid.")
	ErrCBlockTooLarge      = errors.New("C7|BlockTooLarge: Translated block does not fit in the code cache.")
)

// Interpreter (I) Errors
var (
	ErrIUnpredictable      = errors.New("I1|Unpredictable: Instruction is unpredictable in this form.")
	ErrINotImplemented     = errors.New("I2|NotImplemented: Instruction has no interpreter implementation.")
	ErrIInvalidMode        = errors.New("I3|InvalidMode: Guest CPSR holds an unsupported mode.")
	ErrINoSPSR             = errors.New("I4|NoSPSR: Current guest mode has no SPSR.")
	ErrIUnknownCoprocessor = errors.New("I5|UnknownCoprocessor: Coprocessor number is not emulated.")
	ErrIPrivileged         = errors.New("I6|Privileged: Instruction executed in guest user mode.")
	ErrIReadOnlyRegister   = errors.New("I7|ReadOnlyRegister: Coprocessor register is read only.")
	ErrITestFailed         = errors.New("I8|TestFailed: Guest test breakpoint reported failure.")
	ErrITestPassed         = errors.New("I9|TestPassed: Guest test breakpoint reported success.")
	ErrIUndefined          = errors.New("I10|Undefined: Undefined instruction.")
)

// Memory (M) Errors
var (
	ErrMUnmapped  = errors.New("M1|Unmapped: Guest physical address is not backed.")
	ErrMUnaligned = errors.New("M2|Unaligned: Access is not aligned to its width.")
	ErrMBadWidth  = errors.New("M3|BadWidth: Access width is not supported.")
)

// Fault ties an error category to the instruction and guest PC that raised it.
type Fault struct {
	Err         error
	Instruction uint32
	PC          uint32
	Msg         string
	guest       bool
}

func (f *Fault) Error() string {
	if f.Msg == "" {
		return fmt.Sprintf("%s [instr %#08x @ %#08x]", GetErrorName(f.Err), f.Instruction, f.PC)
	}
	return fmt.Sprintf("%s: %s [instr %#08x @ %#08x]", GetErrorName(f.Err), f.Msg, f.Instruction, f.PC)
}

func (f *Fault) Unwrap() error { return f.Err }

// Guest reports whether the fault can be reflected into the guest instead of halting.
func (f *Fault) Guest() bool { return f.guest }

// GuestFault builds a recoverable fault.
func GuestFault(err error, instr, pc uint32, format string, args ...any) *Fault {
	return &Fault{Err: err, Instruction: instr, PC: pc, Msg: fmt.Sprintf(format, args...), guest: true}
}

// HostFault builds a fault that indicates broken hypervisor state.
func HostFault(err error, instr, pc uint32, format string, args ...any) *Fault {
	return &Fault{Err: err, Instruction: instr, PC: pc, Msg: fmt.Sprintf(format, args...)}
}

// Abort panics with a host fault. Used for invariant violations that must never be survived.
func Abort(err error, format string, args ...any) {
	panic(HostFault(err, 0, 0, format, args...))
}

// IsGuestFault reports whether err carries a guest-recoverable fault.
func IsGuestFault(err error) bool {
	var f *Fault
	return errors.As(err, &f) && f.guest
}

// GetErrorName extracts the error name from the error message.
func GetErrorName(err error) string {
	if err == nil {
		return "No Error"
	}
	var f *Fault
	if errors.As(err, &f) && f.Err != nil {
		err = f.Err
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") || !strings.Contains(errStr, ":") {
		return errStr
	}
	parts := strings.SplitN(errStr, "|", 2)
	nameParts := strings.SplitN(parts[1], ":", 2)
	return strings.TrimSpace(nameParts[0])
}

// GetErrorCode extracts the error code from the error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) && f.Err != nil {
		err = f.Err
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "|") {
		return ""
	}
	parts := strings.SplitN(errStr, "|", 2)
	return strings.TrimSpace(parts[0])
}

// GetErrorCodeWithName returns the error code and name in the format "Code_ErrorName".
func GetErrorCodeWithName(err error) string {
	code := GetErrorCode(err)
	name := GetErrorName(err)
	if code == "" || name == "" {
		return ""
	}
	return code + "_" + name
}

// GetErrorDesc extracts the error description from the error message.
func GetErrorDesc(err error) string {
	if err == nil {
		return ""
	}
	var f *Fault
	if errors.As(err, &f) && f.Err != nil {
		err = f.Err
	}
	parts := strings.SplitN(err.Error(), ":", 2)
	if len(parts) < 2 {
		return "DESC NOT SET"
	}
	return strings.TrimSpace(parts[1])
}
