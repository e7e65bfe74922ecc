package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dop251/goja"
	"github.com/spf13/cobra"
)

func newConsoleCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console <program.bin>",
		Short: "Drive a vCPU interactively from JavaScript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := machineFromArgs(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:      "hyparm> ",
				HistoryFile: filepath.Join(os.TempDir(), "hyparm_console_history.txt"),
			})
			if err != nil {
				return err
			}
			defer rl.Close()

			vm := goja.New()
			if err := bindConsole(vm, m, rl.Stdout()); err != nil {
				return err
			}
			fmt.Fprintln(rl.Stdout(), "hv.scan(addr) hv.step() hv.run(n) hv.reg(i) hv.regs() hv.read(addr) hv.disasm(addr, n) hv.tree() hv.translation(addr)")
			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					continue
				}
				if err != nil {
					return nil
				}
				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if line == "exit" {
					return nil
				}
				value, err := vm.RunString(line)
				if err != nil {
					fmt.Fprintln(rl.Stdout(), "error:", err)
					continue
				}
				if value != nil && !goja.IsUndefined(value) {
					fmt.Fprintln(rl.Stdout(), value.Export())
				}
			}
		},
	}
}

// bindConsole exposes the vCPU to scripts as the hv object. Go errors
// become JavaScript exceptions.
func bindConsole(vm *goja.Runtime, m *machine, out io.Writer) error {
	v := m.vcpu
	throw := func(err error) {
		panic(vm.NewGoError(err))
	}
	hv := vm.NewObject()
	var setErr error
	set := func(name string, fn any) {
		if err := hv.Set(name, fn); err != nil && setErr == nil {
			setErr = err
		}
	}
	set("scan", func(addr uint32) map[string]any {
		e, err := v.ScanBlock(addr)
		if err != nil {
			throw(err)
		}
		return map[string]any{"start": e.Start, "end": e.End, "hypered": arm.DisassembleWord(e.Hypered), "index": v.Cache().Index(e.Start)}
	})
	set("step", func() uint32 {
		if err := v.Step(); err != nil {
			throw(err)
		}
		return v.Context().R15
	})
	set("run", func(n int64) string {
		if n <= 0 {
			n = 1
		}
		res, err := v.Run(context.Background(), uint64(n))
		if err != nil {
			throw(err)
		}
		return fmt.Sprintf("%d steps, %s", res.Steps, res.Reason)
	})
	set("reg", func(r uint32) uint32 {
		if r == arm.PC {
			return v.Context().R15
		}
		if r > arm.PC {
			throw(fmt.Errorf("no register r%d", r))
		}
		return v.Context().LoadGPR(r)
	})
	set("regs", func() string { return v.Context().String() })
	set("read", func(addr uint32) uint32 {
		w, err := m.mem.Load(guest.Word, addr)
		if err != nil {
			throw(err)
		}
		return w
	})
	set("disasm", func(addr uint32, n int64) string {
		if n <= 0 {
			n = 1
		}
		words := make([]uint32, 0, n)
		for i := int64(0); i < n; i++ {
			w, err := m.mem.Load(guest.Word, addr+uint32(i)*arm.InstructionSize)
			if err != nil {
				break
			}
			words = append(words, v.Cache().OriginalWord(addr+uint32(i)*arm.InstructionSize, w, false))
		}
		return arm.Disassemble(words, addr)
	})
	set("tree", func() string { return v.Cache().Tree().String() })
	set("translation", func(addr uint32) string {
		_, idx, ok := v.Cache().Lookup(addr)
		if !ok {
			throw(fmt.Errorf("no block at %#08x", addr))
		}
		t, ok := v.Translation(idx)
		if !ok {
			throw(fmt.Errorf("block at %#08x is patched in place", addr))
		}
		return arm.Disassemble(t.Words(), v.Cache().SlotAddress(t.Entry.Code.Start))
	})
	if setErr != nil {
		return setErr
	}
	if err := vm.Set("hv", hv); err != nil {
		return err
	}
	return vm.Set("print", func(args ...goja.Value) {
		for _, a := range args {
			fmt.Fprintln(out, a.Export())
		}
	})
}
