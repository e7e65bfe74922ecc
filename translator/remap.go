package translator

// Remap is what the translator did to one guest instruction.
type Remap uint8

const (
	RemapNone      Remap = iota // copied verbatim
	RemapIncrement              // rewritten, more host words than guest words
	RemapSpilled                // rewritten around a spilled scratch register
)

func (r Remap) String() string {
	switch r {
	case RemapIncrement:
		return "increment"
	case RemapSpilled:
		return "spilled"
	}
	return "none"
}

// RemapBitmap packs two bits of Remap per guest instruction.
type RemapBitmap struct {
	words []uint32
	n     int
}

const remapPerWord = 16

func (m *RemapBitmap) Append(r Remap) {
	if m.n%remapPerWord == 0 {
		m.words = append(m.words, 0)
	}
	shift := uint(m.n%remapPerWord) * 2
	m.words[len(m.words)-1] |= uint32(r&3) << shift
	m.n++
}

func (m *RemapBitmap) Get(i int) Remap {
	if i < 0 || i >= m.n {
		return RemapNone
	}
	shift := uint(i%remapPerWord) * 2
	return Remap(m.words[i/remapPerWord]>>shift) & 3
}

func (m *RemapBitmap) Len() int { return m.n }

// Record maps one guest instruction to the host words emitted for it.
// Offset counts words from the start of the block's region.
type Record struct {
	GuestPC uint32 `json:"guest_pc"`
	Offset  uint32 `json:"offset"`
	Count   uint32 `json:"count"`
	Action  Remap  `json:"action"`
}
