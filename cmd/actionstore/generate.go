package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jittakal/actionstore/internal/loadgen"
	"github.com/jittakal/actionstore/internal/observability"
)

func newGenerateCommand() *cobra.Command {
	var cfg loadgen.Config
	var logLevel string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Post fake actions to a running actionstore",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := observability.NewLogger(observability.LoggingConfig{Level: logLevel, Format: "text", Output: "stderr"})
			runner, err := loadgen.NewRunner(cfg, nil, logger)
			if err != nil {
				return err
			}

			report, err := runner.Run(ctx)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(report); encErr != nil {
				return encErr
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&cfg.Target, "target", "http://localhost:8080", "actionstore base URL")
	flags.Float64Var(&cfg.Rate, "rate", 10, "requests per second (0 for unlimited)")
	flags.IntVar(&cfg.Count, "count", 100, "total number of actions to send")
	flags.IntVar(&cfg.BatchSize, "batch-size", 1, "actions per request")
	flags.DurationVar(&cfg.Timeout, "timeout", 10*time.Second, "per-request timeout")
	flags.StringVar(&logLevel, "log-level", "info", "log level")

	return cmd
}
