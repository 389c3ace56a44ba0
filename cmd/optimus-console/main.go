package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"optimus-console-go/internal/agentapi"
	"optimus-console-go/internal/config"
	"optimus-console-go/internal/console"
	"optimus-console-go/internal/dispatch"
	"optimus-console-go/internal/frame"
	"optimus-console-go/internal/ingest"
	"optimus-console-go/internal/observability"
	"optimus-console-go/internal/pipeline"
	"optimus-console-go/internal/recorder"
	"optimus-console-go/internal/session"
	"optimus-console-go/internal/types"
)

const eventQueue = 256

var cfgFile string

func main() {
	v := config.NewViper()
	root := newRootCommand(v)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "optimus-console",
		Short:         "Terminal console for driving an Optimus-3 agent server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	flags.String("server-url", "", "agent server URL")
	flags.Int("port", 0, "agent server port")
	flags.String("device", "", "device passed to /reset")
	flags.String("stream-source", "", "observation source: websocket or zmq")
	flags.String("zmq-endpoint", "", "ZMQ endpoint for the zmq source")
	flags.Bool("reconnect", false, "reconnect the observation stream with backoff")
	flags.Duration("tick", 0, "display tick interval")
	flags.Int("buffer", 0, "frame buffer capacity")
	flags.Float64("action-rate", 0, "max action loop commands per second (0 = unlimited)")
	flags.Bool("record", false, "record the session to disk")
	flags.String("record-dir", "", "directory for session recordings")
	flags.String("log-file", "", "log file path")
	flags.String("log-level", "", "log level")

	bind := map[string]string{
		"server.url":           "server-url",
		"server.port":          "port",
		"server.device":        "device",
		"stream.source":        "stream-source",
		"stream.zmq_endpoint":  "zmq-endpoint",
		"stream.reconnect":     "reconnect",
		"display.tick":         "tick",
		"display.buffer":       "buffer",
		"dispatch.action_rate": "action-rate",
		"record.enabled":       "record",
		"record.dir":           "record-dir",
		"logger.log_file":      "log-file",
		"logger.level":         "log-level",
	}
	if err := bindFlags(v, flags, bind); err != nil {
		panic(err)
	}
	return cmd
}

// bindFlags lets a flag, when set, override the config key it maps to.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		flag := flags.Lookup(name)
		if flag == nil {
			return fmt.Errorf("no flag %q for %s", name, key)
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}

func run(ctx context.Context, cfg *config.AppConfig) error {
	logger := observability.Initialize(cfg.Logger, nil)
	defer observability.Sync()
	logger.Info("starting console",
		zap.String("server", cfg.Server.URL),
		zap.Int("port", cfg.Server.Port),
		zap.String("stream", cfg.Stream.Source),
	)

	client, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	var rec recorder.Recorder
	if cfg.Record.Enabled {
		writer, err := recorder.NewWriter(cfg.Record.Dir, "session", cfg.Record.Compress)
		if err != nil {
			return fmt.Errorf("start recording: %w", err)
		}
		defer func() {
			if err := writer.Close(); err != nil {
				logger.Warn("recording close failed", zap.Error(err))
			}
		}()
		logger.Info("recording session", zap.String("path", writer.Path()))
		rec = writer
	}

	frame.MaxPixels = cfg.Display.MaxPixels
	events := make(chan types.Event, eventQueue)
	metrics := &pipeline.Metrics{}
	display := pipeline.NewDisplay(cfg.Display.Buffer, metrics)

	var sess *session.Controller
	jobs := dispatch.New(dispatch.Options{
		Sender:     client,
		State:      dispatch.StateFunc(func() bool { return sess.Running() }),
		Events:     events,
		Workers:    cfg.Dispatch.Workers,
		Queue:      cfg.Dispatch.Queue,
		ActionRate: cfg.Dispatch.ActionRate,
		Recorder:   rec,
		Logger:     logger,
	})
	sess = session.New(session.Options{
		Agent:    client,
		Jobs:     jobs,
		Display:  display,
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
		Recorder: rec,
		Logger:   logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	jobs.Start(runCtx)

	pipe := pipeline.New(pipeline.Options{
		Source:   newSource(cfg, client, logger),
		Fetcher:  client,
		Events:   events,
		Metrics:  metrics,
		Width:    cfg.Display.Width,
		Height:   cfg.Display.Height,
		Recorder: rec,
		Logger:   logger,
	})
	pipeDone := make(chan error, 1)
	go func() {
		pipeDone <- pipe.Run(runCtx)
	}()
	sess.Start()

	model := console.New(console.Options{
		Agent:      client,
		Session:    sess,
		Display:    display,
		Metrics:    metrics,
		Jobs:       jobs,
		Events:     events,
		Tick:       cfg.Display.Tick,
		Typewriter: cfg.UI.Typewriter,
		Greeting:   cfg.UI.Greeting,
		ServerURL:  client.BaseURL(),
		Profile:    termenv.NewOutput(os.Stdout).EnvColorProfile(),
		Logger:     logger,
	})
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		err = nil
	}

	cancel()
	if perr := <-pipeDone; perr != nil {
		logger.Info("observation stream ended", zap.Error(perr))
	}
	if jerr := jobs.Wait(); jerr != nil {
		logger.Warn("dispatcher stopped with error", zap.Error(jerr))
	}
	logger.Info("console stopped", zap.String("stats", metrics.Snapshot().String()))
	return err
}

func newClient(cfg *config.AppConfig, logger *zap.Logger) (*agentapi.Client, error) {
	return agentapi.New(agentapi.Options{
		URL:            cfg.Server.URL,
		Port:           cfg.Server.Port,
		Device:         cfg.Server.Device,
		StreamPath:     cfg.Stream.Path,
		RequestTimeout: cfg.Server.RequestTimeout,
		StatusTimeout:  cfg.Server.StatusTimeout,
		Logger:         logger,
	})
}

func newSource(cfg *config.AppConfig, client *agentapi.Client, logger *zap.Logger) ingest.Source {
	if cfg.Stream.Source == "zmq" {
		return ingest.NewZMQSource(ingest.ZMQOptions{
			Endpoint: cfg.Stream.ZMQEndpoint,
			LogEvery: cfg.Stream.LogEvery,
			Logger:   logger,
		})
	}
	return ingest.NewWebSocketSource(ingest.WebSocketOptions{
		URL:        client.StreamURL(),
		ReadLimit:  cfg.Stream.ReadLimit,
		Reconnect:  cfg.Stream.Reconnect,
		MinBackoff: cfg.Stream.MinBackoff,
		MaxBackoff: cfg.Stream.MaxBackoff,
		Logger:     logger,
	})
}
