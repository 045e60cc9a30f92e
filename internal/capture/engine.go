package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/core/decoder"
	"firestige.xyz/psniff/internal/metrics"
	"firestige.xyz/psniff/internal/orchestrator"
	"firestige.xyz/psniff/internal/state"
)

// SendPolicy decides what happens when a listener channel is full.
type SendPolicy string

const (
	// SendBlock waits for space and stalls capture meanwhile.
	SendBlock SendPolicy = "block"
	// SendDrop waits at most SendTimeout, then drops the frame.
	SendDrop SendPolicy = "drop"
)

// Options configures a capture engine.
type Options struct {
	Engine      string
	File        string
	Promiscuous bool
	SnapLen     int
	PollTimeout time.Duration
	BPFFilter   string
	BufferMB    int
	SendPolicy  SendPolicy
	SendTimeout time.Duration
}

// DefaultOptions returns the live pcap defaults.
func DefaultOptions() Options {
	return Options{
		Engine:      EnginePcap,
		Promiscuous: true,
		SnapLen:     DefaultSnapLen,
		PollTimeout: DefaultPollTimeout,
		BufferMB:    DefaultBufferMB,
		SendPolicy:  SendBlock,
		SendTimeout: DefaultSendTimeout,
	}
}

func (o *Options) applyDefaults() error {
	if o.Engine == "" {
		o.Engine = EnginePcap
	}
	if o.SnapLen <= 0 {
		o.SnapLen = DefaultSnapLen
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = DefaultPollTimeout
	}
	if o.BufferMB <= 0 {
		o.BufferMB = DefaultBufferMB
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = DefaultSendTimeout
	}
	switch o.SendPolicy {
	case "":
		o.SendPolicy = SendBlock
	case SendBlock, SendDrop:
	default:
		return fmt.Errorf("%w: send policy %q", core.ErrConfigInvalid, o.SendPolicy)
	}
	return nil
}

// Builder assembles an Engine for one interface.
type Builder struct {
	iface      string
	senders    map[core.Category]chan<- core.RawFrame
	registry   *state.Registry
	opts       Options
	opener     Opener
	listenOnly bool
	logger     *slog.Logger
}

// NewBuilder creates a builder with default options and the standard opener.
func NewBuilder() *Builder {
	return &Builder{
		senders: make(map[core.Category]chan<- core.RawFrame),
		opts:    DefaultOptions(),
		opener:  OpenSource,
	}
}

// SetInterface sets the interface (or capture file) name.
func (b *Builder) SetInterface(name string) *Builder {
	b.iface = name
	return b
}

// SetSender routes frames of category c to ch.
func (b *Builder) SetSender(c core.Category, ch chan<- core.RawFrame) *Builder {
	b.senders[c] = ch
	return b
}

// SetRegistry sets the registry the engine registers its interface in.
func (b *Builder) SetRegistry(r *state.Registry) *Builder {
	b.registry = r
	return b
}

// SetOptions replaces the capture options.
func (b *Builder) SetOptions(o Options) *Builder {
	b.opts = o
	return b
}

// SetOpener replaces the source opener.
func (b *Builder) SetOpener(o Opener) *Builder {
	b.opener = o
	return b
}

// SetListenOnly allows building without senders; frames are only counted.
func (b *Builder) SetListenOnly() *Builder {
	b.listenOnly = true
	return b
}

// SetLogger sets the base logger.
func (b *Builder) SetLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Name identifies the engine in orchestrator logs.
func (b *Builder) Name() string {
	return "capture/" + b.iface
}

// Build opens the capture source and registers the interface.
func (b *Builder) Build() (orchestrator.BlockingRunnable, error) {
	e, err := b.build()
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (b *Builder) build() (*Engine, error) {
	if b.iface == "" {
		return nil, core.ErrNoInterface
	}
	if b.registry == nil {
		return nil, core.ErrNoRegistry
	}
	if len(b.senders) == 0 && !b.listenOnly {
		return nil, core.ErrNoSenders
	}
	for c := range b.senders {
		if !c.Valid() {
			return nil, fmt.Errorf("%w: %d", core.ErrUnknownCategory, uint8(c))
		}
		if c == core.CategoryNoNetworkLayer {
			return nil, fmt.Errorf("%w: frames without a network layer are never forwarded", core.ErrConfigInvalid)
		}
	}
	opts := b.opts
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	if _, exists := b.registry.Lookup(b.iface); exists {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceExists, b.iface)
	}

	src, err := b.opener(SourceConfig{
		Interface:   b.iface,
		Engine:      opts.Engine,
		File:        opts.File,
		Promiscuous: opts.Promiscuous,
		SnapLen:     opts.SnapLen,
		PollTimeout: opts.PollTimeout,
		BPFFilter:   opts.BPFFilter,
		BufferMB:    opts.BufferMB,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", core.ErrDeviceOpen, b.iface, err)
	}

	handle, err := b.registry.Register(b.iface)
	if err != nil {
		src.Close()
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		source:     src,
		iface:      handle,
		classifier: decoder.NewClassifier(),
		opts:       opts,
		logger:     logger.With("task", b.Name(), "interface", b.iface),
	}
	for c, ch := range b.senders {
		e.senders[c] = ch
	}
	e.resolveMetrics()
	return e, nil
}

// Engine owns the capture source of one interface.
type Engine struct {
	source     Source
	iface      *state.Interface
	senders    [core.NumCategories]chan<- core.RawFrame
	classifier *decoder.Classifier
	opts       Options
	logger     *slog.Logger

	last      core.PacketCounters
	closeOnce sync.Once

	classifiedMetric [core.NumCategories]prometheus.Counter
	droppedMetric    map[state.DropReason]prometheus.Counter
	receivedMetric   prometheus.Counter
	osDroppedMetric  prometheus.Counter
	ifDroppedMetric  prometheus.Counter
}

func (e *Engine) resolveMetrics() {
	name := e.iface.Name()
	for _, c := range core.Categories() {
		e.classifiedMetric[c] = metrics.FramesClassifiedTotal.WithLabelValues(name, c.String())
	}
	e.droppedMetric = make(map[state.DropReason]prometheus.Counter)
	for _, r := range state.DropReasons() {
		e.droppedMetric[r] = metrics.FramesDroppedTotal.WithLabelValues(name, r.String())
	}
	e.receivedMetric = metrics.CapturePacketsTotal.WithLabelValues(name, "received")
	e.osDroppedMetric = metrics.CapturePacketsTotal.WithLabelValues(name, "os_dropped")
	e.ifDroppedMetric = metrics.CapturePacketsTotal.WithLabelValues(name, "if_dropped")
}

// Interface returns the registry handle of the captured interface.
func (e *Engine) Interface() *state.Interface {
	return e.iface
}

// Run reads frames until ctx is cancelled or the source is exhausted.
// Cancellation is checked between reads, so it is observed within one poll timeout.
func (e *Engine) Run(ctx context.Context) error {
	defer e.Close()

	e.logger.Info("capture started",
		"engine", e.opts.Engine,
		"snaplen", e.opts.SnapLen,
		"poll_timeout", e.opts.PollTimeout,
		"send_policy", e.opts.SendPolicy,
		"bpf_filter", e.opts.BPFFilter)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("capture stopped")
			return nil
		default:
		}

		data, ci, err := e.source.ReadPacketData()
		switch {
		case err == nil:
			if !e.dispatch(ctx, data, ci) {
				e.logger.Info("capture stopped while forwarding")
				return nil
			}
		case errors.Is(err, core.ErrCaptureTimeout):
			e.refreshCounters()
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			e.refreshCounters()
			e.logger.Info("capture source exhausted", "error", err)
			e.drain(ctx)
			return nil
		default:
			e.logger.Warn("capture read failed", "error", err)
		}
	}
}

// drain waits until listeners have taken every forwarded frame, so that the
// shutdown following an exhausted source does not discard queued frames.
func (e *Engine) drain(ctx context.Context) {
	if e.pending() == 0 {
		return
	}
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Warn("capture stopped with frames still queued", "queued", e.pending())
			return
		case <-ticker.C:
			if e.pending() == 0 {
				e.logger.Debug("listener channels drained")
				return
			}
		}
	}
}

func (e *Engine) pending() int {
	n := 0
	for _, ch := range e.senders {
		if ch != nil {
			n += len(ch)
		}
	}
	return n
}

// Close releases the capture source. It is safe to call more than once.
func (e *Engine) Close() error {
	e.closeOnce.Do(e.source.Close)
	return nil
}

// dispatch classifies one frame and forwards it. It returns false when ctx was
// cancelled while waiting on a full channel.
func (e *Engine) dispatch(ctx context.Context, data []byte, ci gopacket.CaptureInfo) bool {
	c, err := e.classifier.Classify(data)
	if err != nil {
		var nt *decoder.NoTransportError
		if errors.As(err, &nt) {
			e.logger.Info("ip packet without transport layer",
				"ip_version", nt.Version,
				"protocol", uint8(nt.Protocol),
				"protocol_name", nt.Protocol.String())
			e.drop(state.DropNoTransport)
			return true
		}
		e.logger.Warn("dropping malformed frame", "length", len(data), "error", err)
		e.drop(state.DropMalformed)
		return true
	}

	e.iface.RecordCategory(c)
	e.classifiedMetric[c].Inc()
	if c == core.CategoryUnexpected {
		e.logger.Debug("protocol layer mismatch", "length", len(data))
	}

	ch := e.senders[c]
	if ch == nil {
		e.drop(state.DropNoListener)
		return true
	}

	frame := core.RawFrame{
		Data:           data,
		Timestamp:      ci.Timestamp,
		CaptureLength:  ci.CaptureLength,
		Length:         ci.Length,
		InterfaceIndex: ci.InterfaceIndex,
	}
	return e.send(ctx, ch, frame)
}

func (e *Engine) send(ctx context.Context, ch chan<- core.RawFrame, frame core.RawFrame) bool {
	select {
	case ch <- frame:
		return true
	default:
	}

	if e.opts.SendPolicy == SendDrop {
		timer := time.NewTimer(e.opts.SendTimeout)
		defer timer.Stop()
		select {
		case ch <- frame:
			return true
		case <-timer.C:
			e.drop(state.DropChannelFull)
			return true
		case <-ctx.Done():
			return false
		}
	}

	select {
	case ch <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (e *Engine) drop(r state.DropReason) {
	e.iface.RecordDrop(r)
	e.droppedMetric[r].Inc()
}

// refreshCounters copies driver statistics into the registry when they changed.
func (e *Engine) refreshCounters() {
	st, err := e.source.Stats()
	if err != nil {
		e.logger.Debug("capture stats unavailable", "error", err)
		return
	}
	next := e.last.Merge(st)
	if next == e.last {
		return
	}

	e.iface.UpdateCounts(next.Received, next.OSDropped, next.IfDropped)
	addDelta(e.receivedMetric, e.last.Received, next.Received)
	addDelta(e.osDroppedMetric, e.last.OSDropped, next.OSDropped)
	addDelta(e.ifDroppedMetric, e.last.IfDropped, next.IfDropped)
	e.last = next

	e.logger.Info("capture statistics changed",
		"received", next.Received,
		"os_dropped", next.OSDropped,
		"if_dropped", next.IfDropped)
}

func addDelta(c prometheus.Counter, prev, cur uint64) {
	if cur > prev {
		c.Add(float64(cur - prev))
	}
}
