package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkudinskas/hyparm-sub003/hyperrors"
	"github.com/dkudinskas/hyparm-sub003/storage"
	"github.com/spf13/cobra"
)

func newRunCmd(g *globalFlags) *cobra.Command {
	var (
		steps    uint64
		dataPath string
		save     string
		dumpTree bool
	)
	cmd := &cobra.Command{
		Use:   "run <program.bin>",
		Short: "Run a program block by block until it passes, idles or hits the step limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := machineFromArgs(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			res, runErr := m.vcpu.Run(ctx, steps)
			fmt.Fprintf(out, "%d steps, stopped: %s\n", res.Steps, res.Reason)
			if runErr != nil {
				kind := "host"
				if hyperrors.IsGuestFault(runErr) {
					kind = "guest"
				}
				fmt.Fprintf(out, "%s fault: %v\n", kind, runErr)
			}
			fmt.Fprint(out, m.vcpu.Context())
			if dumpTree {
				fmt.Fprint(out, m.vcpu.Cache().Tree().String())
			}
			if save != "" {
				if err := saveSnapshot(dataPath, save, m); err != nil {
					return err
				}
				fmt.Fprintf(out, "saved snapshot %q\n", save)
			}
			return runErr
		},
	}
	cmd.Flags().Uint64Var(&steps, "steps", 1000, "maximum number of blocks to run")
	cmd.Flags().StringVar(&dataPath, "data", "hyparm-data", "snapshot store directory")
	cmd.Flags().StringVar(&save, "save", "", "save the final state as a named snapshot")
	cmd.Flags().BoolVar(&dumpTree, "tree", false, "print the translation cache afterwards")
	return cmd
}

func saveSnapshot(dataPath, name string, m *machine) error {
	store, err := storage.Open(dataPath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.SaveContext(name, m.vcpu.Context()); err != nil {
		return err
	}
	return store.SavePages(name, m.mem)
}
