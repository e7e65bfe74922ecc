//go:build unicorn
// +build unicorn

package sandbox

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/dispatch"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
	uc "github.com/unicorn-engine/unicorn/bindings/go/unicorn"
)

var gprs = [15]int{
	uc.ARM_REG_R0, uc.ARM_REG_R1, uc.ARM_REG_R2, uc.ARM_REG_R3,
	uc.ARM_REG_R4, uc.ARM_REG_R5, uc.ARM_REG_R6, uc.ARM_REG_R7,
	uc.ARM_REG_R8, uc.ARM_REG_R9, uc.ARM_REG_R10, uc.ARM_REG_R11,
	uc.ARM_REG_R12, uc.ARM_REG_SP, uc.ARM_REG_LR,
}

// Executor mirrors guest memory and the code cache into a unicorn ARM core
// and runs block bodies there.
type Executor struct {
	mu     uc.Unicorn
	mapped map[uint32]bool

	faultAddr uint64
	faulted   bool
}

func New() (*Executor, error) {
	mu, err := uc.NewUnicorn(uc.ARCH_ARM, uc.MODE_ARM)
	if err != nil {
		return nil, fmt.Errorf("create unicorn: %w", err)
	}
	x := &Executor{mu: mu, mapped: make(map[uint32]bool)}
	_, err = mu.HookAdd(uc.HOOK_MEM_INVALID, func(mu uc.Unicorn, access int, addr uint64, size int, value int64) bool {
		x.faultAddr = addr
		x.faulted = true
		log.Debug(log.SandboxMonitoring, "invalid access", "addr", addr, "size", size, "access", access)
		return false
	}, 1, 0)
	if err != nil {
		mu.Close()
		return nil, fmt.Errorf("hook invalid memory: %w", err)
	}
	return x, nil
}

func (x *Executor) Close() error {
	if x.mu == nil {
		return nil
	}
	return x.mu.Close()
}

func (x *Executor) mapPage(p uint32) error {
	if x.mapped[p] {
		return nil
	}
	if err := x.mu.MemMapProt(uint64(p)*guest.PageSize, guest.PageSize, uc.PROT_ALL); err != nil {
		return fmt.Errorf("map page %#x: %w", p, err)
	}
	x.mapped[p] = true
	return nil
}

func (x *Executor) mapRange(addr, size uint32) error {
	for p := addr / guest.PageSize; p <= (addr+size-1)/guest.PageSize; p++ {
		if err := x.mapPage(p); err != nil {
			return err
		}
	}
	return nil
}

func wordBytes(words []uint32) []byte {
	buf := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(buf[4*i:], w)
	}
	return buf
}

func (x *Executor) writeRegisters(r *Registers) error {
	for i, reg := range gprs {
		if err := x.mu.RegWrite(reg, uint64(r.R[i])); err != nil {
			return fmt.Errorf("write r%d: %w", i, err)
		}
	}
	cpsr := r.CPSR&flagBits | uint32(arm.ModeSYS)
	if err := x.mu.RegWrite(uc.ARM_REG_CPSR, uint64(cpsr)); err != nil {
		return fmt.Errorf("write cpsr: %w", err)
	}
	return nil
}

func (x *Executor) readRegisters(r *Registers) error {
	for i, reg := range gprs {
		v, err := x.mu.RegRead(reg)
		if err != nil {
			return fmt.Errorf("read r%d: %w", i, err)
		}
		r.R[i] = uint32(v)
	}
	cpsr, err := x.mu.RegRead(uc.ARM_REG_CPSR)
	if err != nil {
		return fmt.Errorf("read cpsr: %w", err)
	}
	r.CPSR = r.CPSR&^flagBits | uint32(cpsr)&flagBits
	return nil
}

func (x *Executor) run(pc, stop uint32) error {
	x.faulted = false
	err := x.mu.StartWithOptions(uint64(pc), uint64(stop), &uc.UcOptions{Count: maxInstructions})
	if err != nil {
		if x.faulted {
			return fmt.Errorf("run %#08x..%#08x: invalid access at %#08x: %w", pc, stop, x.faultAddr, err)
		}
		return fmt.Errorf("run %#08x..%#08x: %w", pc, stop, err)
	}
	end, err := x.mu.RegRead(uc.ARM_REG_PC)
	if err != nil {
		return fmt.Errorf("read pc: %w", err)
	}
	if uint32(end) != stop {
		return fmt.Errorf("run %#08x..%#08x stopped at %#08x after %d instructions", pc, stop, end, maxInstructions)
	}
	return nil
}

// RunWords places words at base and runs them to their end with regs.
func (x *Executor) RunWords(base uint32, words []uint32, regs *Registers) error {
	if len(words) == 0 {
		return nil
	}
	size := uint32(4 * len(words))
	if err := x.mapRange(base, size); err != nil {
		return err
	}
	if err := x.mu.MemWrite(uint64(base), wordBytes(words)); err != nil {
		return fmt.Errorf("write code at %#08x: %w", base, err)
	}
	if err := x.writeRegisters(regs); err != nil {
		return err
	}
	if err := x.run(base, base+size); err != nil {
		return err
	}
	return x.readRegisters(regs)
}

// Poke writes one word of sandbox memory, mapping its page.
func (x *Executor) Poke(addr, value uint32) error {
	if err := x.mapRange(addr, 4); err != nil {
		return err
	}
	return x.mu.MemWrite(uint64(addr), wordBytes([]uint32{value}))
}

// Peek reads one word of sandbox memory.
func (x *Executor) Peek(addr uint32) (uint32, error) {
	b, err := x.mu.MemRead(uint64(addr), 4)
	if err != nil {
		return 0, fmt.Errorf("read %#08x: %w", addr, err)
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Execute runs one block body against c. Guest pages are copied in before
// the run and changed pages are copied back after it.
func (x *Executor) Execute(c *guest.Context, s dispatch.Segment) error {
	mem, ok := c.Memory.(pagedMemory)
	if !ok {
		return fmt.Errorf("sandbox: guest memory %T cannot be mirrored", c.Memory)
	}
	pages := mem.PageNumbers()
	before := make(map[uint32][]byte, len(pages))
	for _, p := range pages {
		data, _ := mem.Page(p)
		if err := x.mapPage(p); err != nil {
			return err
		}
		if err := x.mu.MemWrite(uint64(p)*guest.PageSize, data); err != nil {
			return fmt.Errorf("write page %#x: %w", p, err)
		}
		before[p] = data
	}
	if s.Code != nil {
		words := s.Code.Words()
		if err := x.mapRange(s.Code.Base(), uint32(4*len(words))); err != nil {
			return err
		}
		if err := x.mu.MemWrite(uint64(s.Code.Base()), wordBytes(words)); err != nil {
			return fmt.Errorf("write code cache: %w", err)
		}
		if err := x.mapRange(s.Spill, 4); err != nil {
			return err
		}
	}

	regs := Capture(c)
	if err := x.writeRegisters(&regs); err != nil {
		return err
	}
	log.Trace(log.SandboxMonitoring, "execute", "pc", s.PC, "stop", s.Stop, "copy", s.Code != nil)
	if err := x.run(s.PC, s.Stop); err != nil {
		return err
	}
	if err := x.readRegisters(&regs); err != nil {
		return err
	}
	regs.Apply(c)

	for _, p := range pages {
		after, err := x.mu.MemRead(uint64(p)*guest.PageSize, guest.PageSize)
		if err != nil {
			return fmt.Errorf("read page %#x: %w", p, err)
		}
		if !bytes.Equal(before[p], after) {
			mem.SetPage(p, after)
			if c.Code != nil {
				c.Code.InvalidateRange(p*guest.PageSize, p*guest.PageSize+guest.PageSize-1)
			}
		}
	}
	return nil
}
