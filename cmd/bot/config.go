package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/vitos/perp_trader/internal/config"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and generate configuration",
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd(opts))
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a commented configuration template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if output == "" || output == "-" {
				return config.WriteTemplate(cmd.OutOrStdout())
			}
			if _, err := os.Stat(output); err == nil {
				return fmt.Errorf("%s already exists", output)
			}
			f, err := os.Create(output)
			if err != nil {
				return err
			}
			if err := config.WriteTemplate(f); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Template written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "destination file (stdout when empty)")
	return cmd
}

func newConfigValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✅ Configuration valid")
			fmt.Fprintf(out, "Strategies:     %s\n", strings.Join(cfg.Trading.Strategies, ", "))
			fmt.Fprintf(out, "Leverage:       %dx\n", cfg.Trading.Leverage)
			fmt.Fprintf(out, "Max positions:  %d\n", cfg.Trading.MaxPositions)
			fmt.Fprintf(out, "Universe size:  %d\n", cfg.Trading.UniverseSize)
			fmt.Fprintf(out, "Emergency:      %.1f%% over %s\n", cfg.Trading.EmergencyDropPercent, cfg.Trading.EmergencyPeriod)
			fmt.Fprintf(out, "Timezone:       %s\n", cfg.Location)
			return nil
		},
	}
}
