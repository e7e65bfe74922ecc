package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/dispatch"
	"github.com/dkudinskas/hyparm-sub003/guest"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/sandbox"
	"github.com/dkudinskas/hyparm-sub003/tcache"
	"github.com/spf13/cobra"
)

// stackSize is mapped above the program; SP starts at its top.
const stackSize = 0x10000

// loadConfig reads --config when given and lets explicitly set flags
// override it. Cache geometry left unset takes the defaults of the chosen
// backing.
func loadConfig(cmd *cobra.Command, g *globalFlags) (dispatch.Config, error) {
	cfg := dispatch.Config{Cache: tcache.Config{CodeCopy: true}, TestMode: g.testMode}
	if g.configPath != "" {
		data, err := os.ReadFile(g.configPath)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", g.configPath, err)
		}
	}
	flags := cmd.Flags()
	if g.configPath == "" || flags.Changed("mode") {
		switch g.mode {
		case "copy":
			cfg.Cache.CodeCopy = true
		case "trap":
			cfg.Cache.CodeCopy = false
		default:
			return cfg, fmt.Errorf("unknown mode %q", g.mode)
		}
	}
	if flags.Changed("test-mode") {
		cfg.TestMode = g.testMode
	}
	if flags.Changed("reserved-word") {
		cfg.ReservedWord = g.reserved
	}
	if err := cfg.Cache.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func readProgram(path string) ([]uint32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s is empty", path)
	}
	for len(data)%arm.InstructionSize != 0 {
		data = append(data, 0)
	}
	words := make([]uint32, len(data)/arm.InstructionSize)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(data[i*arm.InstructionSize:])
	}
	return words, nil
}

type machine struct {
	vcpu *dispatch.VCPU
	mem  *guest.FlatMemory
	exec *sandbox.Executor
	base uint32
	size uint32
}

// newMachine maps words at base with a stack above them. Block bodies run in
// the sandbox when it is built in; otherwise only trap-only blocks can run.
func newMachine(cfg dispatch.Config, base uint32, words []uint32) (*machine, error) {
	if base%arm.InstructionSize != 0 {
		return nil, fmt.Errorf("base %#08x is not word aligned", base)
	}
	size := uint32(len(words)) * arm.InstructionSize
	mem := guest.NewFlatMemory(false)
	mem.Map(base, size+stackSize)
	mem.WriteWords(base, words...)

	m := &machine{mem: mem, base: base, size: size}
	exec, err := sandbox.New()
	switch {
	case err == nil:
		m.exec = exec
	case errors.Is(err, sandbox.ErrSandboxUnavailable):
		log.Warn(log.SandboxMonitoring, "running without a host executor", "err", err)
	default:
		return nil, err
	}

	var host dispatch.Host
	if m.exec != nil {
		host = m.exec
	}
	v, err := dispatch.New(cfg, mem, host)
	if err != nil {
		m.Close()
		return nil, err
	}
	c := v.Context()
	c.R15 = base
	c.StoreGPR(arm.SP, base+size+stackSize)
	m.vcpu = v
	return m, nil
}

func (m *machine) Close() error {
	if m.exec == nil {
		return nil
	}
	return m.exec.Close()
}

func machineFromArgs(cmd *cobra.Command, g *globalFlags, path string) (*machine, error) {
	cfg, err := loadConfig(cmd, g)
	if err != nil {
		return nil, err
	}
	words, err := readProgram(path)
	if err != nil {
		return nil, err
	}
	return newMachine(cfg, g.base, words)
}
