// Package dispatch drives one guest vCPU: it scans guest code into cached
// blocks, hands block bodies to a host executor and interprets the
// instruction each block traps on.
package dispatch

import (
	"errors"

	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/dkudinskas/hyparm-sub003/translator"
)

// ErrNoHost is returned by Run when a block has a body but no Host is set.
var ErrNoHost = errors.New("dispatch: no host executor for block bodies")

const maxTrapBlock = 0x4000

// Config is the per-vCPU configuration.
type Config struct {
	Cache        tcache.Config `json:"cache"`
	TestMode     bool          `json:"test_mode"`
	HighVectors  bool          `json:"high_vectors"`
	ReservedWord bool          `json:"reserved_word"`
}

// DefaultConfig returns a copy-mode configuration.
func DefaultConfig() Config {
	return Config{Cache: tcache.DefaultConfig(true)}
}

// Segment is a stretch of host code a Host runs. Execution starts at PC and
// stops on reaching Stop, the address of the trap ending the block. Code is
// nil when the block is patched in place in guest memory.
type Segment struct {
	PC    uint32
	Stop  uint32
	Code  *tcache.CodeCache
	Spill uint32
}

// Host executes block bodies natively.
type Host interface {
	Execute(c *guest.Context, s Segment) error
}

// VCPU is one guest processor with its own translation cache.
type VCPU struct {
	cfg  Config
	core *guest.Context
	tc   *tcache.TranslationCache
	host Host

	// copy-mode translations by meta-cache slot, for host to guest mapping
	translations map[uint32]*translator.Translation
}

// New builds a vCPU over mem. host may be nil; Run then only handles blocks
// that trap on their first instruction.
func New(cfg Config, mem guest.Memory, host Host) (*VCPU, error) {
	c := guest.NewContext(mem)
	c.TestMode = cfg.TestMode
	c.HighVectors = cfg.HighVectors
	tc, err := tcache.New(cfg.Cache, mem, c.Cache)
	if err != nil {
		return nil, err
	}
	c.Code = tc
	v := &VCPU{
		cfg:          cfg,
		core:         c,
		tc:           tc,
		host:         host,
		translations: make(map[uint32]*translator.Translation),
	}
	tc.Subscribe(v.onCacheEvent)
	log.Debug(log.DispatchMonitoring, "vcpu created", "codeCopy", cfg.Cache.CodeCopy, "testMode", cfg.TestMode)
	return v, nil
}

func (v *VCPU) Context() *guest.Context         { return v.core }
func (v *VCPU) Cache() *tcache.TranslationCache { return v.tc }
func (v *VCPU) Config() Config                  { return v.cfg }
func (v *VCPU) SetHost(h Host)                  { v.host = h }

// SetInterrupts connects the guest to an interrupt controller.
func (v *VCPU) SetInterrupts(ic guest.InterruptController) { v.core.Interrupts = ic }

// Translation returns the copy-mode translation held in slot index.
func (v *VCPU) Translation(index uint32) (*translator.Translation, bool) {
	t, ok := v.translations[index]
	return t, ok
}

// HostToGuest maps an address inside the code cache to the guest
// instruction it was emitted for.
func (v *VCPU) HostToGuest(host uint32) (uint32, bool) {
	for _, t := range v.translations {
		if pc, ok := t.HostToGuest(host); ok {
			return pc, true
		}
	}
	return 0, false
}

func (v *VCPU) onCacheEvent(ev tcache.Event) {
	switch ev.Kind {
	case tcache.EventRemove, tcache.EventEvict:
		delete(v.translations, ev.Index)
	case tcache.EventClear:
		clear(v.translations)
	}
}
