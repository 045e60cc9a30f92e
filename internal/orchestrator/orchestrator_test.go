package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/psniff/internal/core"
)

type runFunc func(ctx context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

type closingRunnable struct {
	runFunc
	closed atomic.Bool
}

func (c *closingRunnable) Close() error {
	c.closed.Store(true)
	return nil
}

type fakeBlocking struct {
	name string
	r    BlockingRunnable
	err  error
}

func (f *fakeBlocking) Name() string { return f.name }

func (f *fakeBlocking) Build() (BlockingRunnable, error) { return f.r, f.err }

func untilCancelled(started *sync.WaitGroup) runFunc {
	return func(ctx context.Context) error {
		if started != nil {
			started.Done()
		}
		<-ctx.Done()
		return nil
	}
}

func cooperative(name string, r Runnable, err error) Builder {
	return NewBuilder(name, func(context.Context) (Runnable, error) {
		if err != nil {
			return nil, err
		}
		return r, nil
	})
}

// syncBuffer serializes writes from concurrent log calls.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testLogger(buf *syncBuffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func runAsync(o *Orchestrator, ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- o.Run(ctx) }()
	return errCh
}

func waitErr(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not terminate")
		return nil
	}
}

func TestBuildFailureIsolated(t *testing.T) {
	var logs syncBuffer
	var started sync.WaitGroup
	started.Add(2)

	o := New(nil, []Builder{
		cooperative("ipv4-tcp", untilCancelled(&started), nil),
		cooperative("ipv4-udp", nil, core.ErrNoReceiver),
		cooperative("arp", untilCancelled(&started), nil),
	}, WithLogger(testLogger(&logs)), WithRunID("test-run"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(o, ctx)

	started.Wait()
	assert.Equal(t, StateRunning, o.State())
	cancel()
	require.NoError(t, waitErr(t, errCh))

	s := o.Summary()
	assert.Equal(t, "test-run", s.RunID)
	assert.Equal(t, "interrupt", s.Trigger)
	require.Len(t, s.BuildFailures, 1)
	assert.Equal(t, "ipv4-udp", s.BuildFailures[0].Task)
	assert.ErrorIs(t, s.BuildFailures[0].Err, core.ErrNoReceiver)
	require.Len(t, s.Results, 2)
	for _, r := range s.Results {
		assert.NoError(t, r.Err)
	}

	assert.Equal(t, 1, strings.Count(logs.String(), `"msg":"task build failed"`))
	assert.Equal(t, 2, strings.Count(logs.String(), `"msg":"task finished"`))
	assert.Contains(t, logs.String(), `"run_id":"test-run"`)
	assert.Equal(t, StateTerminated, o.State())
}

func TestFirstTaskExitTriggersShutdown(t *testing.T) {
	var cancelled atomic.Bool
	o := New(nil, []Builder{
		cooperative("oneshot", runFunc(func(context.Context) error { return nil }), nil),
		cooperative("waiter", runFunc(func(ctx context.Context) error {
			<-ctx.Done()
			cancelled.Store(true)
			return nil
		}), nil),
	}, WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))

	require.NoError(t, waitErr(t, runAsync(o, context.Background())))
	assert.True(t, cancelled.Load())
	assert.Equal(t, "task exit", o.Summary().Trigger)
	assert.Len(t, o.Summary().Results, 2)
}

func TestTaskFailureAndPanicReported(t *testing.T) {
	var logs syncBuffer
	boom := errors.New("boom")
	var started sync.WaitGroup
	started.Add(1)

	o := New(nil, []Builder{
		cooperative("panics", runFunc(func(context.Context) error {
			started.Wait()
			panic("kaboom")
		}), nil),
		cooperative("fails", runFunc(func(ctx context.Context) error {
			<-ctx.Done()
			return boom
		}), nil),
		cooperative("clean", untilCancelled(&started), nil),
	}, WithLogger(testLogger(&logs)))

	require.NoError(t, waitErr(t, runAsync(o, context.Background())))

	results := map[string]error{}
	for _, r := range o.Summary().Results {
		results[r.Task] = r.Err
	}
	require.Len(t, results, 3)
	assert.ErrorIs(t, results["panics"], core.ErrTaskPanic)
	assert.ErrorIs(t, results["fails"], boom)
	assert.NoError(t, results["clean"])
	assert.Contains(t, logs.String(), `"msg":"task panicked"`)
	assert.Contains(t, logs.String(), `"msg":"task failed"`)
}

func TestBlockingTasksRun(t *testing.T) {
	var started sync.WaitGroup
	started.Add(2)

	o := New([]BlockingBuilder{
		&fakeBlocking{name: "capture/eth0", r: untilCancelled(&started)},
		&fakeBlocking{name: "capture/eth1", err: core.ErrDeviceOpen},
	}, []Builder{
		cooperative("listener", untilCancelled(&started), nil),
	}, WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := runAsync(o, ctx)
	started.Wait()
	cancel()
	require.NoError(t, waitErr(t, errCh))

	s := o.Summary()
	require.Len(t, s.BuildFailures, 1)
	assert.True(t, s.BuildFailures[0].Blocking)
	require.Len(t, s.Results, 2)
}

func TestNoCaptureEngineBuilt(t *testing.T) {
	idle := &closingRunnable{runFunc: untilCancelled(nil)}
	o := New([]BlockingBuilder{
		&fakeBlocking{name: "capture/eth0", err: core.ErrDeviceOpen},
	}, []Builder{
		cooperative("status", idle, nil),
	}, WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, core.ErrNoCaptureEngine)
	assert.True(t, idle.closed.Load(), "built tasks that never ran are closed")
	assert.Equal(t, StateTerminated, o.State())
}

func TestNothingToRun(t *testing.T) {
	o := New(nil, []Builder{cooperative("x", nil, core.ErrNoReceiver)},
		WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))
	assert.ErrorIs(t, o.Run(context.Background()), core.ErrNothingToRun)
}

func TestRunOnlyOnce(t *testing.T) {
	o := New(nil, []Builder{cooperative("oneshot", runFunc(func(context.Context) error { return nil }), nil)},
		WithLogger(slog.New(slog.NewTextHandler(&syncBuffer{}, nil))))
	require.NoError(t, o.Run(context.Background()))
	assert.Error(t, o.Run(context.Background()))
}

func TestGeneratedRunID(t *testing.T) {
	a := New(nil, nil)
	b := New(nil, nil)
	assert.NotEmpty(t, a.Summary().RunID)
	assert.NotEqual(t, a.Summary().RunID, b.Summary().RunID)
	assert.Equal(t, StateIdle, a.State())
}
