package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/foreigner-chat/chatload/internal/config"
	"github.com/foreigner-chat/chatload/internal/engine"
	"github.com/foreigner-chat/chatload/internal/exporter"
	"github.com/foreigner-chat/chatload/internal/metrics"
	"github.com/foreigner-chat/chatload/internal/output"
	"github.com/foreigner-chat/chatload/internal/scenario"
	"github.com/foreigner-chat/chatload/internal/scheduler"
)

type runOptions struct {
	overrides      config.Overrides
	grace          string
	summaryExport  string
	prometheusAddr string
	quiet          bool
	progress       time.Duration
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [config.yaml]",
		Short: "Run a load test",
		Long: `Run a load test from a configuration file, from flags, or both.
Flags override the values read from the file.

Config file mode:
  chatload run chat-send-message.yaml

Flags only:
  chatload run --scenario chat-concurrency \
    --ws-url ws://localhost:8080/plain-ws/chat \
    --stages "30s:100,2m:100,30s:0"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return runLoadTest(cmd, global, opts, path)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.overrides.Scenario, "scenario", "", "Built-in scenario to run (see 'chatload scenarios')")
	f.StringVar(&opts.overrides.Name, "name", "", "Run name shown in the summary")
	f.StringVar(&opts.overrides.Stages, "stages", "", `Ramp profile as duration:target pairs, e.g. "30s:10,2m:10,30s:0"`)
	f.StringVar(&opts.overrides.BaseURL, "base-url", "", "Chat REST API base URL")
	f.StringVar(&opts.overrides.WSURL, "ws-url", "", "Chat WebSocket URL")
	f.StringVar(&opts.overrides.DataDir, "data-dir", "", "Directory holding the JSON fixtures")
	f.StringVar(&opts.grace, "grace", "", "Graceful stop period for VUs at the end of the ramp")
	f.StringVar(&opts.summaryExport, "summary-export", "", `Write the summary as JSON to this file ("-" for stdout)`)
	f.StringVar(&opts.prometheusAddr, "prometheus-addr", "", "Serve live metrics for Prometheus on this address, e.g. :9464")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the final verdict")
	f.DurationVar(&opts.progress, "progress-interval", time.Second, "Live progress refresh interval")
	return cmd
}

// loadRunConfig reads the optional file and applies flag overrides.
// Every failure is a configuration error.
func loadRunConfig(path string, opts *runOptions) (*config.RunConfig, error) {
	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.grace != "" {
		d, err := config.ParseDuration(opts.grace)
		if err != nil {
			return nil, fmt.Errorf("invalid --grace: %w", err)
		}
		opts.overrides.Grace = d
	}
	if err := opts.overrides.Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runLoadTest(cmd *cobra.Command, global *globalOptions, opts *runOptions, path string) error {
	logger, err := newLogger(global.logLevel, global.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return withExitCode(engine.ExitError, err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := loadRunConfig(path, opts)
	if err != nil {
		return withExitCode(engine.ExitInvalidConfig, err)
	}

	reg := metrics.NewRegistry()
	env, err := scenario.NewEnv(cfg.Settings, reg, logger.Named("scenario"))
	if err != nil {
		return withExitCode(engine.ExitInvalidConfig, err)
	}
	defer env.HTTP.CloseIdleConnections()

	sc, err := scenario.Build(cfg.Scenario, env)
	if err != nil {
		return withExitCode(engine.ExitInvalidConfig, err)
	}

	eng, err := engine.New(cfg, sc, reg, logger)
	if err != nil {
		return withExitCode(engine.ExitCode(nil, err), err)
	}

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: global.noColor,
	})

	if opts.prometheusAddr != "" {
		srv, err := exporter.NewServer(opts.prometheusAddr, eng, logger)
		if err != nil {
			return withExitCode(engine.ExitError, fmt.Errorf("prometheus exporter: %w", err))
		}
		srv.Start()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stages := cfg.SchedulerConfig().Stages
	console.PrintHeader(eng.RunID(), cfg.Name, cfg.Scenario, len(stages), scheduler.TotalDuration(stages))

	watchCtx, stopWatch := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		console.Watch(watchCtx, eng, len(stages), opts.progress)
	}()

	summary, runErr := eng.Run(ctx)
	stopWatch()
	wg.Wait()

	if summary != nil {
		console.PrintSummary(summary)
		if opts.summaryExport != "" {
			if err := output.WriteJSON(summary, opts.summaryExport); err != nil {
				logger.Error("summary export failed", zap.String("path", opts.summaryExport), zap.Error(err))
			}
		}
	}

	code := engine.ExitCode(summary, runErr)
	if code == engine.ExitPassed {
		return nil
	}
	if runErr != nil && !errors.Is(runErr, engine.ErrAborted) {
		return withExitCode(code, runErr)
	}
	return withExitCode(code, nil)
}
