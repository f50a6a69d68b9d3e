package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"astercollector/config"
	"astercollector/internal/aster/collector"
	"astercollector/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	root := &cobra.Command{
		Use:           "collector [symbols...]",
		Short:         "Aster futures market data collector",
		Long:          "Streams trades, best bid/ask and order book snapshots from Aster and appends them to CSV files.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// viper config
			cfg, err := config.Load(cmd.Flags(), args)
			if err != nil {
				return err
			}

			// zap logger
			log, err := logger.New(cfg.Log)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Info("starting collector",
				zap.Strings("symbols", cfg.Collector.Symbols),
				zap.Duration("flush_interval", cfg.Collector.FlushInterval),
				zap.String("data_dir", cfg.Storage.Dir))

			// run collector until interrupted
			if err := collector.Run(ctx, cfg, log); err != nil {
				log.Error("collector failed", zap.Error(err))
				return err
			}
			return nil
		},
	}
	config.BindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
