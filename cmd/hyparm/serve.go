package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/dkudinskas/hyparm-sub003/monitor"
	"github.com/spf13/cobra"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr  string
		steps uint64
	)
	cmd := &cobra.Command{
		Use:   "serve <program.bin>",
		Short: "Run a program while serving cache statistics over HTTP",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := machineFromArgs(cmd, g, args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := monitor.NewServer(m.vcpu.Cache())
			go func() {
				res, err := m.vcpu.Run(ctx, steps)
				if err != nil {
					log.Warn(log.DispatchMonitoring, "guest stopped", "steps", res.Steps, "err", err)
					return
				}
				log.Info(log.DispatchMonitoring, "guest stopped", "steps", res.Steps, "reason", res.Reason.String())
			}()
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "monitor listen address")
	cmd.Flags().Uint64Var(&steps, "steps", 1000, "maximum number of blocks to run")
	return cmd
}
