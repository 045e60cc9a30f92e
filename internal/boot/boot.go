// Package boot assembles capture engines, listeners and servers from the
// configuration and runs them under the orchestrator.
package boot

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"firestige.xyz/psniff/internal/capture"
	"firestige.xyz/psniff/internal/config"
	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/listener"
	"firestige.xyz/psniff/internal/metrics"
	"firestige.xyz/psniff/internal/orchestrator"
	"firestige.xyz/psniff/internal/state"
	"firestige.xyz/psniff/internal/status"
)

// Mode selects what runs behind the capture engines.
type Mode int

const (
	// ModeRun forwards frames to per-category listeners.
	ModeRun Mode = iota
	// ModeListen only counts frames; no listeners are started.
	ModeListen
)

func (m Mode) String() string {
	if m == ModeListen {
		return "listen"
	}
	return "run"
}

// Plan is everything one run needs.
type Plan struct {
	Registry    *state.Registry
	Interfaces  []string
	Blocking    []orchestrator.BlockingBuilder
	Cooperative []orchestrator.Builder
}

type options struct {
	opener   capture.Opener
	resolver func() (string, error)
	logger   *slog.Logger
}

// Option customizes Assemble.
type Option func(*options)

// WithOpener replaces the capture source opener.
func WithOpener(o capture.Opener) Option {
	return func(opts *options) { opts.opener = o }
}

// WithDefaultInterface replaces the lookup used when no interface is configured.
func WithDefaultInterface(fn func() (string, error)) Option {
	return func(opts *options) { opts.resolver = fn }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(opts *options) { opts.logger = l }
}

// Assemble turns cfg into builders. Nothing is opened or bound yet.
func Assemble(cfg *config.Config, mode Mode, opts ...Option) (*Plan, error) {
	o := options{resolver: capture.DefaultInterface, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	interfaces, err := resolveInterfaces(cfg.Capture, o.resolver)
	if err != nil {
		return nil, err
	}

	plan := &Plan{Registry: state.NewRegistry(), Interfaces: interfaces}
	captureOpts := captureOptions(cfg)

	for _, name := range interfaces {
		b := capture.NewBuilder().
			SetInterface(name).
			SetRegistry(plan.Registry).
			SetOptions(captureOpts).
			SetLogger(o.logger)
		if o.opener != nil {
			b.SetOpener(o.opener)
		}

		if mode == ModeListen {
			b.SetListenOnly()
		} else {
			for _, cat := range cfg.Listeners.Parsed() {
				// One channel per interface and category keeps a single producer per channel.
				ch := make(chan core.RawFrame, cfg.Channels.Capacity)
				b.SetSender(cat, ch)
				plan.Cooperative = append(plan.Cooperative, listener.NewBuilder(cat).
					SetName(name+"/"+cat.String()).
					SetReceiver(ch).
					SetLogger(o.logger))
			}
		}
		plan.Blocking = append(plan.Blocking, b)
	}

	if cfg.Status.Enabled {
		plan.Cooperative = append(plan.Cooperative, status.NewBuilder(plan.Registry).
			SetAddr(cfg.Status.Host, cfg.Status.Port).
			SetRequestTimeout(cfg.Status.RequestDeadline()).
			SetLogger(o.logger))
	}
	if cfg.Metrics.Enabled {
		listen, path := cfg.Metrics.Listen, cfg.Metrics.Path
		plan.Cooperative = append(plan.Cooperative, orchestrator.NewBuilder("metrics",
			func(context.Context) (orchestrator.Runnable, error) {
				s := metrics.NewServer(listen, path)
				if err := s.Listen(); err != nil {
					return nil, err
				}
				return s, nil
			}))
	}

	return plan, nil
}

func resolveInterfaces(cc config.CaptureConfig, resolver func() (string, error)) ([]string, error) {
	if cc.Engine == capture.EngineFile {
		switch len(cc.Interfaces) {
		case 0:
			return []string{filepath.Base(cc.File)}, nil
		case 1:
			return cc.Interfaces, nil
		default:
			return nil, fmt.Errorf("%w: the file engine replays a single capture file", core.ErrConfigInvalid)
		}
	}
	if len(cc.Interfaces) > 0 {
		return cc.Interfaces, nil
	}
	name, err := resolver()
	if err != nil {
		return nil, fmt.Errorf("no interface configured: %w", err)
	}
	return []string{name}, nil
}

func captureOptions(cfg *config.Config) capture.Options {
	return capture.Options{
		Engine:      cfg.Capture.Engine,
		File:        cfg.Capture.File,
		Promiscuous: cfg.Capture.Promiscuous,
		SnapLen:     cfg.Capture.SnapLen,
		PollTimeout: cfg.Capture.PollInterval(),
		BPFFilter:   cfg.Capture.BPFFilter,
		BufferMB:    cfg.Capture.AFPacket.BufferMB,
		SendPolicy:  capture.SendPolicy(cfg.Channels.SendPolicy),
		SendTimeout: cfg.Channels.SendWait(),
	}
}

// Run executes plan until ctx is cancelled or the first task returns.
func Run(ctx context.Context, plan *Plan, logger *slog.Logger) (orchestrator.Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := orchestrator.New(plan.Blocking, plan.Cooperative, orchestrator.WithLogger(logger))
	err := o.Run(ctx)
	summary := o.Summary()

	for _, st := range plan.Registry.SnapshotAll() {
		logger.Info("interface totals",
			"run_id", summary.RunID,
			"interface", st.Name,
			"received", st.Total,
			"os_dropped", st.OSDropped,
			"if_dropped", st.IfDropped)
	}
	logger.Info("run finished",
		"run_id", summary.RunID,
		"trigger", summary.Trigger,
		"build_failures", len(summary.BuildFailures),
		"tasks", len(summary.Results))
	return summary, err
}

// Start assembles cfg and runs it until SIGINT or SIGTERM.
func Start(cfg *config.Config, mode Mode) error {
	logger := slog.Default().With("mode", mode.String())
	plan, err := Assemble(cfg, mode, WithLogger(logger))
	if err != nil {
		return err
	}
	logger.Info("starting psniff",
		"interfaces", plan.Interfaces,
		"engine", cfg.Capture.Engine,
		"send_policy", cfg.Channels.SendPolicy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_, err = Run(ctx, plan, logger)
	return err
}
