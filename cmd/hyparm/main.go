// hyparm loads a raw ARM program into a guest vCPU and scans, translates or
// runs it through the translation cache.
package main

import (
	"fmt"
	"os"

	"github.com/dkudinskas/hyparm-sub003/common"
	"github.com/dkudinskas/hyparm-sub003/log"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

type globalFlags struct {
	configPath string
	mode       string
	testMode   bool
	reserved   bool
	base       uint32
	logLevel   string
	debug      string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	rootCmd := &cobra.Command{
		Use:           "hyparm",
		Short:         "ARM guest translation cache and interpreter",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := log.ParseLevel(g.logLevel); err != nil {
				return err
			}
			log.InitLogger(g.logLevel)
			log.EnableModules(g.debug)
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "JSON vCPU configuration file")
	pf.StringVar(&g.mode, "mode", "copy", "cache backing: copy or trap")
	pf.BoolVar(&g.testMode, "test-mode", true, "report BKPT as guest test results")
	pf.BoolVar(&g.reserved, "reserved-word", false, "reserve a code-cache word ahead of each block")
	pf.Uint32Var(&g.base, "base", 0x8000, "guest load address of the program")
	pf.StringVar(&g.logLevel, "log-level", "info", "trace, debug, info, warn or error")
	pf.StringVar(&g.debug, "debug", "", "comma separated log modules to enable, or all")

	rootCmd.AddCommand(
		newScanCmd(g),
		newDisasmCmd(g),
		newRunCmd(g),
		newConsoleCmd(g),
		newServeCmd(g),
		newSnapshotCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "hyparm %s (commit %s, built %s)\n", Version, common.GetCommitHash(), BuildTime)
			},
		},
	)
	return rootCmd
}
