package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/cgast/nexus/internal/config"
	"github.com/cgast/nexus/internal/inspector"
	"github.com/cgast/nexus/internal/logging"
	"github.com/cgast/nexus/internal/metrics"
	"github.com/cgast/nexus/internal/sandbox"
	"github.com/cgast/nexus/internal/terminal"
	"github.com/cgast/nexus/pkg/action"
	"github.com/cgast/nexus/pkg/dispatch"
	"github.com/cgast/nexus/pkg/events"
	"github.com/cgast/nexus/pkg/ollama"
	"github.com/cgast/nexus/pkg/store"
	"github.com/cgast/nexus/pkg/sysinfo"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds the flags and the collaborators shared by every command.
type app struct {
	configPath    string
	mode          string
	verbose       bool
	logFile       string
	inspectorPort int

	cfg    config.Config
	log    *zap.Logger
	stderr io.Writer

	bus        *events.MemoryBus
	metrics    *metrics.Metrics
	history    *store.BoltStore
	dispatcher *dispatch.Dispatcher
	session    *terminal.Session
	inspector  *inspector.Server

	mu    sync.Mutex
	model *ollama.Client
}

// setup loads the configuration and creates the logger. A broken config
// file is reported and the defaults are used.
func (a *app) setup(cmd *cobra.Command) error {
	a.stderr = cmd.ErrOrStderr()

	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		fmt.Fprintf(a.stderr, "warning: loading config: %v\n", err)
		cfg = config.DefaultConfig()
	}
	if a.mode != "" {
		cfg.Mode = a.mode
	}
	if cfg.Mode != "interactive" && cfg.Mode != "agent" {
		return fmt.Errorf("unknown mode %q (want interactive or agent)", cfg.Mode)
	}
	if a.logFile != "" {
		cfg.LogFile = a.logFile
	}
	if a.inspectorPort > 0 {
		cfg.Inspector.Enabled = true
		cfg.Inspector.Port = a.inspectorPort
	}
	a.cfg = cfg

	log, err := logging.New(logging.Options{
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
		Verbose: a.verbose,
	})
	if err != nil {
		return err
	}
	a.log = log
	return nil
}

// build wires the dispatcher, history, inspector and session. approver
// confirms actions when an approval mode is configured; nil falls back
// to the inspector when it runs, and to refusing everything otherwise.
func (a *app) build(approver dispatch.Approver) error {
	cfg := a.cfg

	sb, err := sandbox.New(sandbox.Config{
		AllowedPaths:    cfg.Sandbox.AllowedPaths,
		DeniedPaths:     cfg.Sandbox.DeniedPaths,
		MaxFileSize:     cfg.Sandbox.MaxFileSize,
		AllowedCommands: cfg.Sandbox.AllowedCommands,
		DeniedCommands:  cfg.Sandbox.DeniedCommands,
	})
	if err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	mode, err := dispatch.ParseApprovalMode(cfg.Approval.Mode)
	if err != nil {
		return err
	}

	a.bus = events.NewMemoryBus(0)
	a.metrics = metrics.New()

	if cfg.History.Persist {
		if err := a.openHistory(); err != nil {
			fmt.Fprintf(a.stderr, "warning: history disabled: %v\n", err)
		}
	}

	if approver == nil {
		approver = dispatch.DenyAll
		if cfg.Inspector.Enabled {
			approver = dispatch.ApproverFunc(func(ctx context.Context, act action.Action) (bool, error) {
				return a.inspector.Approve(ctx, act)
			})
		}
	}

	opts := []dispatch.Option{
		dispatch.WithLogger(a.log),
		dispatch.WithEvents(a.bus),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithSandbox(sb),
		dispatch.WithCommandTimeout(cfg.Dispatch.CommandTimeout),
		dispatch.WithSampler(sysinfo.Host{}),
	}
	if cfg.Dispatch.Workdir != "" {
		opts = append(opts, dispatch.WithWorkdir(cfg.Dispatch.Workdir))
	}
	if cfg.Dispatch.Shell != "" {
		opts = append(opts, dispatch.WithShell(cfg.Dispatch.Shell))
	}
	if mode != dispatch.ApprovalNever {
		opts = append(opts, dispatch.WithApprover(mode, approver))
	}
	a.dispatcher, err = dispatch.New(opts...)
	if err != nil {
		return err
	}

	if cfg.Inspector.Enabled {
		iopts := inspector.Options{
			Bus:           a.bus,
			Metrics:       a.metrics,
			Log:           a.log.Named("inspector"),
			Dispatcher:    a.dispatcher,
			AllowDispatch: cfg.Inspector.AllowDispatch,
			Host:          cfg.Inspector.Host,
		}
		if a.history != nil {
			iopts.History = a.history
		}
		a.inspector = inspector.New(iopts)
	}

	a.model = a.newModel(cfg.Model)
	sopts := []terminal.SessionOption{
		terminal.WithEvents(a.bus),
		terminal.WithMetrics(a.metrics),
		terminal.WithLogger(a.log),
	}
	if a.history != nil {
		sopts = append(sopts, terminal.WithHistory(a.history))
	}
	a.session = terminal.NewSession(a.model, a.dispatcher, sopts...)

	a.log.Debug("runtime ready",
		zap.String("mode", cfg.Mode),
		zap.String("model", cfg.Model.Name),
		zap.String("endpoint", cfg.Model.Endpoint),
		zap.String("approval", string(mode)),
		zap.Bool("history", a.history != nil),
		zap.Bool("inspector", a.inspector != nil),
	)
	return nil
}

func (a *app) openHistory() error {
	path := a.cfg.History.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create history dir: %w", err)
		}
	}
	st, err := store.Open(path, a.cfg.History.MaxEntries)
	if err != nil {
		return err
	}
	a.history = st
	return nil
}

func (a *app) newModel(mc config.ModelConfig) *ollama.Client {
	var opts []ollama.Option
	if mc.Timeout > 0 {
		opts = append(opts, ollama.WithTimeout(mc.Timeout))
	}
	return ollama.NewClient(mc.Endpoint, mc.Name, opts...)
}

// currentModel returns the model client requests go to.
func (a *app) currentModel() *ollama.Client {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// switchModel points the session at another model.
func (a *app) switchModel(mc config.ModelConfig) *ollama.Client {
	m := a.newModel(mc)
	a.mu.Lock()
	a.model = m
	a.mu.Unlock()
	a.session.SetModel(m)
	a.log.Info("model switched", zap.String("model", m.Model()), zap.String("endpoint", m.Endpoint()))
	return m
}

// startInspector serves the inspector in the background when enabled.
func (a *app) startInspector(ctx context.Context, out io.Writer) {
	if a.inspector == nil {
		return
	}
	a.inspector.StartAsync(ctx, a.cfg.Inspector.Port)
	fmt.Fprintf(out, "Inspector running at http://%s\n", a.inspector.Addr(a.cfg.Inspector.Port))
}

// watchConfig follows edits to the model section of the config file
// until ctx is done.
func (a *app) watchConfig(ctx context.Context) {
	current := a.cfg.Model
	go func() {
		err := config.Watch(ctx, a.configPath, func(cfg config.Config, err error) {
			if err != nil {
				a.log.Warn("config reload failed", zap.Error(err))
				return
			}
			if cfg.Model == current {
				return
			}
			current = cfg.Model
			a.switchModel(cfg.Model)
		})
		if err != nil {
			a.log.Debug("config watch disabled", zap.Error(err))
		}
	}()
}

// monitor returns the resource monitor configured for this host.
func (a *app) monitor() terminal.Monitor {
	return terminal.Monitor{
		Sampler: sysinfo.Host{},
		Thresholds: sysinfo.Thresholds{
			CPU:    a.cfg.Monitor.CPUHigh,
			Memory: a.cfg.Monitor.MemoryHigh,
			Disk:   a.cfg.Monitor.DiskHigh,
		},
		Interval: a.cfg.Monitor.Interval,
		Bus:      a.bus,
		Log:      a.log.Named("monitor"),
	}
}

func (a *app) close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.log.Warn("close history", zap.Error(err))
		}
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
