package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/decoder"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/tcache"
)

// StopReason tells why Run returned without an error.
type StopReason int

const (
	StopLimit StopReason = iota
	StopPassed
	StopIdle
)

func (r StopReason) String() string {
	switch r {
	case StopPassed:
		return "passed"
	case StopIdle:
		return "idle"
	}
	return "limit"
}

// Result summarizes a Run.
type Result struct {
	Steps  uint64     `json:"steps"`
	Reason StopReason `json:"reason"`
}

func (v *VCPU) exec(h guest.Handler, instr uint32) error {
	c := v.core
	next, err := h(c, instr)
	if err != nil {
		return err
	}
	c.LastPC = c.R15
	c.R15 = next
	return nil
}

// Step interprets the single instruction at R15. It fails for instructions
// that are normally copied, since the interpreter has no handler for them.
func (v *VCPU) Step() error {
	c := v.core
	if c.Thumb() {
		return hyperrors.HostFault(hyperrors.ErrINotImplemented, 0, c.R15, "thumb state")
	}
	w, err := v.fetch(c.R15)
	if err != nil {
		return err
	}
	d := decoder.Decode(w)
	if !d.EndsBlock() {
		return hyperrors.HostFault(hyperrors.ErrINotImplemented, w, c.R15, "%s runs natively", d)
	}
	log.Trace(log.DispatchMonitoring, "step", "pc", c.R15, "instr", w, "class", d.String())
	return v.exec(trapHandler(d), w)
}

func (v *VCPU) segment(e tcache.Entry) (Segment, error) {
	if e.Code == nil {
		return Segment{PC: e.Start, Stop: e.End}, nil
	}
	t, ok := v.translations[v.tc.Index(e.Start)]
	if !ok {
		return Segment{}, fmt.Errorf("%w: no translation for block at %#08x", hyperrors.ErrCInvalidEntry, e.Start)
	}
	cc := v.tc.Code()
	trap := (e.Code.Start + e.Code.Size - 1) % cc.Capacity()
	return Segment{
		PC:    t.HostEntry(),
		Stop:  cc.Address(trap),
		Code:  cc,
		Spill: v.tc.Config().SpillAddress,
	}, nil
}

// runBody executes the instructions before the block's trap.
func (v *VCPU) runBody(e tcache.Entry) error {
	if e.Start == e.End {
		return nil
	}
	if v.host == nil {
		return ErrNoHost
	}
	s, err := v.segment(e)
	if err != nil {
		return err
	}
	if err := v.host.Execute(v.core, s); err != nil {
		return fmt.Errorf("block %#08x..%#08x: %w", e.Start, e.End, err)
	}
	v.core.R15 = e.End
	return nil
}

// Run executes up to maxSteps blocks. Each step runs a block body on the
// host and interprets the trapping instruction that ends it. Run stops early
// when the guest reports a passing test or idles, or when ctx is done.
func (v *VCPU) Run(ctx context.Context, maxSteps uint64) (Result, error) {
	var res Result
	c := v.core
	for res.Steps < maxSteps {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}
		if c.Thumb() {
			return res, hyperrors.HostFault(hyperrors.ErrINotImplemented, 0, c.R15, "thumb state")
		}
		e, err := v.ScanBlock(c.R15)
		if err != nil {
			return res, err
		}
		if err := v.runBody(e); err != nil {
			return res, err
		}
		err = v.exec(e.Handler, e.Hypered)
		res.Steps++
		switch {
		case errors.Is(err, hyperrors.ErrITestPassed):
			res.Reason = StopPassed
			return res, nil
		case err != nil:
			return res, err
		}
		if c.Idle {
			res.Reason = StopIdle
			return res, nil
		}
	}
	log.Debug(log.DispatchMonitoring, "step limit reached", "steps", res.Steps, "pc", c.R15)
	return res, nil
}
