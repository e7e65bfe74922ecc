// Package decoder classifies ARM instruction words for the dispatcher:
// copied verbatim, rewritten because they read PC, or trapped to the
// interpreter.
package decoder

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/translator"
)

// Kind is the treatment an instruction needs.
type Kind int

const (
	Undefined Kind = iota
	Copy
	PCSensitive
	Trap
)

func (k Kind) String() string {
	switch k {
	case Copy:
		return "copy"
	case PCSensitive:
		return "pc-sensitive"
	case Trap:
		return "trap"
	}
	return "undefined"
}

// Entry is one row of a decode table. Exactly one of Translate and
// Interpret is set for PCSensitive and Trap rows.
type Entry struct {
	Mask      uint32
	Value     uint32
	Kind      Kind
	Name      string
	Translate translator.Handler
	Interpret guest.Handler
}

func (e Entry) String() string {
	return fmt.Sprintf("%s(%s)", e.Kind, e.Name)
}

// Matches reports whether instr belongs to this row.
func (e Entry) Matches(instr uint32) bool {
	return instr&e.Mask == e.Value
}

var undefined = Entry{Kind: Undefined, Name: "undefined"}

// Decode returns the first matching row for instr in ARM state.
func Decode(instr uint32) Entry {
	table := conditional
	if arm.Instruction(instr).Cond() == arm.NV {
		table = unconditional
	}
	for _, e := range table {
		if e.Matches(instr) {
			log.Trace(log.DecoderMonitoring, "decode", "instr", instr, "class", e.String())
			return e
		}
	}
	log.Debug(log.DecoderMonitoring, "undefined", "instr", instr)
	return undefined
}

// EndsBlock reports whether the scanner must stop at this row.
func (e Entry) EndsBlock() bool {
	return e.Kind == Trap || e.Kind == Undefined
}
