package arm

// Condition is the 4-bit condition field of an ARM instruction.
type Condition uint32

const (
	EQ Condition = iota
	NE
	HS
	LO
	MI
	PL
	VS
	VC
	HI
	LS
	GE
	LT
	GT
	LE
	AL
	NV
)

var conditionNames = [16]string{
	"eq", "ne", "hs", "lo", "mi", "pl", "vs", "vc",
	"hi", "ls", "ge", "lt", "gt", "le", "al", "nv",
}

func (c Condition) String() string {
	return conditionNames[c&0xF]
}

// Evaluate tests the condition against the N, Z, C and V flags of cpsr.
// NV never passes.
func (c Condition) Evaluate(cpsr uint32) bool {
	n := cpsr&PSRN != 0
	z := cpsr&PSRZ != 0
	cf := cpsr&PSRC != 0
	v := cpsr&PSRV != 0

	switch c & 0xF {
	case EQ:
		return z
	case NE:
		return !z
	case HS:
		return cf
	case LO:
		return !cf
	case MI:
		return n
	case PL:
		return !n
	case VS:
		return v
	case VC:
		return !v
	case HI:
		return cf && !z
	case LS:
		return !cf || z
	case GE:
		return n == v
	case LT:
		return n != v
	case GT:
		return !z && n == v
	case LE:
		return z || n != v
	case AL:
		return true
	default:
		return false
	}
}
