package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"optimus-console-go/internal/config"
	"optimus-console-go/internal/observability"
	"optimus-console-go/internal/simulator"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		opts     simulator.Options
		logLevel string
	)
	cmd := &cobra.Command{
		Use:           "optimus-sim",
		Short:         "Stand-in agent server for exercising the console without a GPU",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.New(config.LoggerConfig{
				Level:       logLevel,
				Format:      "console",
				ServiceName: "optimus-sim",
			}, zapcore.Lock(os.Stderr))
			defer func() { _ = logger.Sync() }()
			opts.Logger = logger

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger.Info("simulator starting",
				zap.String("addr", opts.Addr),
				zap.Float64("fps", opts.FPS),
				zap.Duration("latency", opts.Latency),
			)
			return simulator.New(opts).Run(ctx)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.Addr, "addr", ":9500", "listen address")
	flags.IntVar(&opts.Width, "width", 640, "frame width")
	flags.IntVar(&opts.Height, "height", 360, "frame height")
	flags.Float64Var(&opts.FPS, "fps", simulator.DefaultFPS, "frames per second pushed on /ws/obs")
	flags.Int64Var(&opts.Seed, "seed", 1, "scene seed")
	flags.StringVar(&opts.Greeting, "greeting", simulator.DefaultGreeting, "text served by /initial_text")
	flags.DurationVar(&opts.Latency, "latency", 300*time.Millisecond, "delay before each command reply")
	flags.StringVar(&logLevel, "log-level", "info", "log level")
	return cmd
}
