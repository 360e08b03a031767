package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/vitos/perp_trader/internal/config"
	"github.com/vitos/perp_trader/internal/domain"
	"go.uber.org/zap"
)

const checkTimeout = time.Minute

func newCheckCmd(opts *rootOptions) *cobra.Command {
	var symbol string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify exchange connectivity and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return checkExchange(ctx, cmd.OutOrStdout(), newAdapter(cfg, zap.NewNop()), symbol, cfg.Trading.UniverseSize)
		},
	}
	cmd.Flags().StringVarP(&symbol, "symbol", "s", "BTCUSDT", "symbol used for the public endpoint checks")
	return cmd
}

// checkExchange runs every probe and returns the first private-endpoint
// error, or a generic failure when only public probes failed.
func checkExchange(ctx context.Context, out io.Writer, ex domain.Exchange, symbol string, top int) error {
	failed := false

	balance, authErr := ex.Balance(ctx)
	if authErr != nil {
		fmt.Fprintf(out, "❌ Balance: %v\n", authErr)
	} else {
		fmt.Fprintf(out, "✅ Balance: %.2f USDT\n", balance)
	}

	if symbols, err := ex.Universe(ctx); err != nil {
		failed = true
		fmt.Fprintf(out, "❌ Universe: %v\n", err)
	} else {
		fmt.Fprintf(out, "✅ Universe: %d USDT perpetuals trading\n", len(symbols))
	}

	if ranked, err := ex.TopByVolume(ctx, top); err != nil {
		failed = true
		fmt.Fprintf(out, "❌ Top by volume: %v\n", err)
	} else {
		fmt.Fprintf(out, "✅ Top by volume: %d symbols\n", len(ranked))
	}

	if p, err := ex.Precision(ctx, symbol); err != nil {
		failed = true
		fmt.Fprintf(out, "❌ Precision (%s): %v\n", symbol, err)
	} else {
		fmt.Fprintf(out, "✅ Precision (%s): tick=%s step=%s min_notional=%s\n", symbol, p.TickSize, p.StepSize, p.MinNotional)
	}

	if price, err := ex.MarkPrice(ctx, symbol); err != nil {
		failed = true
		fmt.Fprintf(out, "❌ Mark price (%s): %v\n", symbol, err)
	} else {
		fmt.Fprintf(out, "✅ Mark price (%s): %f\n", symbol, price)
	}

	switch {
	case authErr != nil:
		return authErr
	case failed:
		return errors.New("exchange check failed")
	}
	return nil
}
