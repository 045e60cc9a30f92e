// Package orchestrator builds, runs and shuts down capture engines and listener tasks.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/metrics"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateIdle         State = "idle"
	StateBuilding     State = "building"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
)

// Runnable is a built cooperative task. Run returns once ctx is cancelled or
// the task has nothing more to do.
type Runnable interface {
	Run(ctx context.Context) error
}

// BlockingRunnable is a built task whose Run blocks in system calls.
// It is given a dedicated OS thread.
type BlockingRunnable interface {
	Run(ctx context.Context) error
}

// Builder produces a cooperative task.
type Builder interface {
	Name() string
	Build(ctx context.Context) (Runnable, error)
}

// BlockingBuilder produces a blocking task.
type BlockingBuilder interface {
	Name() string
	Build() (BlockingRunnable, error)
}

// BuildFailure records a task that was left out of the run.
type BuildFailure struct {
	Task     string
	Blocking bool
	Err      error
}

// TaskResult records how a spawned task ended.
type TaskResult struct {
	Task     string
	Blocking bool
	Err      error
	Duration time.Duration
}

// Summary describes one run.
type Summary struct {
	RunID         string
	Trigger       string
	BuildFailures []BuildFailure
	Results       []TaskResult
}

type unit struct {
	name     string
	blocking bool
	run      func(ctx context.Context) error
	closer   io.Closer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger; the run id is added to it.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithRunID overrides the generated run id.
func WithRunID(id string) Option {
	return func(o *Orchestrator) { o.runID = id }
}

// Orchestrator owns one run: it builds every task, spawns the ones that built,
// waits for an interrupt or the first task to return, cancels the rest and joins them.
type Orchestrator struct {
	blocking    []BlockingBuilder
	cooperative []Builder
	logger      *slog.Logger
	runID       string

	mu      sync.RWMutex
	state   State
	summary Summary
}

// New creates an orchestrator over the given task families.
func New(blocking []BlockingBuilder, cooperative []Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		blocking:    blocking,
		cooperative: cooperative,
		logger:      slog.Default(),
		state:       StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.runID == "" {
		o.runID = uuid.NewString()
	}
	o.logger = o.logger.With("run_id", o.runID)
	o.summary.RunID = o.runID
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// Summary returns a copy of the run summary.
func (o *Orchestrator) Summary() Summary {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s := o.summary
	s.BuildFailures = append([]BuildFailure(nil), o.summary.BuildFailures...)
	s.Results = append([]TaskResult(nil), o.summary.Results...)
	return s
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
	metrics.SetOrchestratorState(string(s))
	o.logger.Info("orchestrator state changed", "state", s)
}

// Run executes the whole lifecycle. Cancelling ctx is the external interrupt.
// Task failures are logged and kept in the Summary; they do not make Run fail.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateIdle {
		st := o.state
		o.mu.Unlock()
		return fmt.Errorf("orchestrator cannot run in state %s", st)
	}
	o.mu.Unlock()

	o.setState(StateBuilding)
	units, blockingBuilt := o.build(ctx)

	switch {
	case len(units) == 0:
		o.setState(StateTerminated)
		return core.ErrNothingToRun
	case len(o.blocking) > 0 && blockingBuilt == 0:
		for _, u := range units {
			if u.closer != nil {
				_ = u.closer.Close()
			}
		}
		o.setState(StateTerminated)
		return core.ErrNoCaptureEngine
	}

	// runCtx is the single cancellation broadcast shared by every task.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan TaskResult, len(units))
	o.setState(StateRunning)
	for _, u := range units {
		go o.spawn(runCtx, u, done)
	}

	remaining := len(units)
	select {
	case <-ctx.Done():
		o.setTrigger("interrupt")
		o.logger.Info("shutdown requested")
	case res := <-done:
		remaining--
		o.setTrigger("task exit")
		o.logger.Info("task returned, shutting down", "task", res.Task)
		o.record(res)
	}

	o.setState(StateShuttingDown)
	cancel()
	for ; remaining > 0; remaining-- {
		o.record(<-done)
	}

	o.setState(StateTerminated)
	return nil
}

func (o *Orchestrator) build(ctx context.Context) ([]unit, int) {
	units := make([]unit, 0, len(o.blocking)+len(o.cooperative))
	blockingBuilt := 0

	for _, b := range o.blocking {
		r, err := b.Build()
		if err != nil {
			o.buildFailed(b.Name(), true, err)
			continue
		}
		units = append(units, newUnit(b.Name(), true, r.Run, r))
		blockingBuilt++
	}
	for _, b := range o.cooperative {
		r, err := b.Build(ctx)
		if err != nil {
			o.buildFailed(b.Name(), false, err)
			continue
		}
		units = append(units, newUnit(b.Name(), false, r.Run, r))
	}

	o.logger.Info("tasks built", "built", len(units), "failed", len(o.blocking)+len(o.cooperative)-len(units))
	return units, blockingBuilt
}

func newUnit(name string, blocking bool, run func(context.Context) error, r any) unit {
	u := unit{name: name, blocking: blocking, run: run}
	if c, ok := r.(io.Closer); ok {
		u.closer = c
	}
	return u
}

func (o *Orchestrator) buildFailed(name string, blocking bool, err error) {
	o.logger.Error("task build failed", "task", name, "blocking", blocking, "error", err)
	o.mu.Lock()
	o.summary.BuildFailures = append(o.summary.BuildFailures, BuildFailure{Task: name, Blocking: blocking, Err: err})
	o.mu.Unlock()
}

func (o *Orchestrator) spawn(ctx context.Context, u unit, done chan<- TaskResult) {
	res := TaskResult{Task: u.name, Blocking: u.blocking}
	start := time.Now()
	metrics.TasksRunning.Inc()

	defer func() {
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("%w: %v", core.ErrTaskPanic, r)
			o.logger.Error("task panicked", "task", u.name, "panic", r, "stack", string(debug.Stack()))
		}
		metrics.TasksRunning.Dec()
		res.Duration = time.Since(start)
		done <- res
	}()

	if u.blocking {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	o.logger.Debug("task started", "task", u.name, "blocking", u.blocking)
	res.Err = u.run(ctx)
}

func (o *Orchestrator) record(res TaskResult) {
	switch {
	case res.Err == nil, errors.Is(res.Err, context.Canceled):
		o.logger.Info("task finished", "task", res.Task, "duration", res.Duration)
	default:
		o.logger.Error("task failed", "task", res.Task, "duration", res.Duration, "error", res.Err)
	}
	o.mu.Lock()
	o.summary.Results = append(o.summary.Results, res)
	o.mu.Unlock()
}

func (o *Orchestrator) setTrigger(t string) {
	o.mu.Lock()
	o.summary.Trigger = t
	o.mu.Unlock()
}

type builderFunc struct {
	name string
	fn   func(ctx context.Context) (Runnable, error)
}

// NewBuilder adapts a build function to a Builder.
func NewBuilder(name string, fn func(ctx context.Context) (Runnable, error)) Builder {
	return &builderFunc{name: name, fn: fn}
}

func (b *builderFunc) Name() string { return b.name }

func (b *builderFunc) Build(ctx context.Context) (Runnable, error) { return b.fn(ctx) }
