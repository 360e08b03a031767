package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vitos/perp_trader/internal/config"
	"github.com/vitos/perp_trader/internal/domain"
	"github.com/vitos/perp_trader/internal/usecase"
)

const (
	exitOK         = 0
	exitUnexpected = 1
	exitConfig     = 2
	exitAuth       = 3
	exitEmergency  = 4
)

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, config.ErrInvalidConfig):
		return exitConfig
	case errors.Is(err, domain.ErrAuth):
		return exitAuth
	case errors.Is(err, usecase.ErrEmergencyShutdown):
		return exitEmergency
	}
	return exitUnexpected
}

type rootOptions struct {
	configPath string
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "bot",
		Short: "Automated trading agent for USDT-margined perpetual futures",
		Long: `bot scans the most liquid USDT perpetual futures, opens positions when a
configured strategy signals, protects every position with exchange-side
stop-loss and take-profit orders and closes positions on timecut, reversal
or drawdown emergency.

Configuration comes from environment variables, optionally layered over a
YAML file given with --config. Environment variables win.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "optional YAML config file")

	root.AddCommand(
		newRunCmd(opts),
		newConfigCmd(opts),
		newCheckCmd(opts),
	)
	return root
}

func execute(args []string) int {
	root := newRootCmd(os.Stdout)
	root.SetArgs(args)
	err := root.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	return exitCode(err)
}
