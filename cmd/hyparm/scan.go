package main

import (
	"fmt"

	"github.com/dkudinskas/hyparm-sub003/arm"
	"github.com/dkudinskas/hyparm-sub003/decoder"
	"github.com/spf13/cobra"
)

func newScanCmd(g *globalFlags) *cobra.Command {
	var start uint32
	cmd := &cobra.Command{
		Use:   "scan <program.bin>",
		Short: "Scan one block into the translation cache and print it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := machineFromArgs(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer m.Close()
			if !cmd.Flags().Changed("start") {
				start = m.base
			}
			out := cmd.OutOrStdout()
			e, err := m.vcpu.ScanBlock(start)
			if err != nil {
				return err
			}
			idx := m.vcpu.Cache().Index(e.Start)
			fmt.Fprintf(out, "block %#08x..%#08x slot %d ends on %s (%s)\n", e.Start, e.End, idx,
				arm.DisassembleWord(e.Hypered), decoder.Decode(e.Hypered))
			if t, ok := m.vcpu.Translation(idx); ok {
				fmt.Fprintf(out, "\ntranslated at %#08x:\n", t.HostEntry())
				fmt.Fprint(out, arm.Disassemble(t.Words(), m.vcpu.Cache().SlotAddress(t.Entry.Code.Start)))
			}
			fmt.Fprintln(out)
			fmt.Fprint(out, m.vcpu.Cache().Tree().String())
			return nil
		},
	}
	cmd.Flags().Uint32Var(&start, "start", 0, "block start address (defaults to --base)")
	return cmd
}

func newDisasmCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <program.bin>",
		Short: "Disassemble a program and classify each instruction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			words, err := readProgram(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for i, w := range words {
				addr := g.base + uint32(i)*arm.InstructionSize
				fmt.Fprintf(out, "0x%08x: %08x %-32s %s\n", addr, w, arm.DisassembleWord(w), decoder.Decode(w))
			}
			return nil
		},
	}
}
