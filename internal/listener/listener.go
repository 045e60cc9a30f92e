// Package listener implements per-category consumer tasks fed by a capture engine.
package listener

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/core/decoder"
	"firestige.xyz/psniff/internal/metrics"
	"firestige.xyz/psniff/internal/orchestrator"
)

// Handler reacts to one decoded frame. A handler is owned by a single listener
// goroutine and needs no locking for its own state.
type Handler interface {
	HandlePacket(pkt *decoder.Packet, frame core.RawFrame)
}

// Stats is a snapshot of listener counters.
type Stats struct {
	Received     uint64
	DecodeErrors uint64
	Handled      uint64
}

// Listener drains one category channel.
type Listener struct {
	name     string
	category core.Category
	frames   <-chan core.RawFrame
	handler  Handler
	decoder  *decoder.Decoder
	logger   *slog.Logger

	received     atomic.Uint64
	decodeErrors atomic.Uint64
	handled      atomic.Uint64

	handledMetric     prometheus.Counter
	decodeErrorMetric prometheus.Counter
}

// Run consumes frames until ctx is cancelled or the channel is closed.
// Cancellation wins over pending frames.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info("listener started")
	defer func() {
		st := l.Stats()
		l.logger.Info("listener stopped",
			"received", st.Received,
			"handled", st.Handled,
			"decode_errors", st.DecodeErrors)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case frame, ok := <-l.frames:
			if !ok {
				l.logger.Info("listener input closed")
				return nil
			}
			l.process(frame)
		}
	}
}

func (l *Listener) process(frame core.RawFrame) {
	l.received.Add(1)

	pkt, err := l.decoder.Decode(frame.Data)
	if err != nil {
		l.decodeErrors.Add(1)
		l.decodeErrorMetric.Inc()
		l.logger.Warn("failed to decode frame", "length", len(frame.Data), "error", err)
		return
	}

	l.handler.HandlePacket(pkt, frame)
	l.handled.Add(1)
	l.handledMetric.Inc()
}

// Stats returns the listener counters.
func (l *Listener) Stats() Stats {
	return Stats{
		Received:     l.received.Load(),
		DecodeErrors: l.decodeErrors.Load(),
		Handled:      l.handled.Load(),
	}
}

// Name returns the listener name.
func (l *Listener) Name() string {
	return l.name
}

// Category returns the category the listener consumes.
func (l *Listener) Category() core.Category {
	return l.category
}

// Handler returns the protocol handler.
func (l *Listener) Handler() Handler {
	return l.handler
}

// Builder assembles a Listener.
type Builder struct {
	category core.Category
	name     string
	frames   <-chan core.RawFrame
	handler  Handler
	logger   *slog.Logger
}

// NewBuilder creates a builder for category c. The name defaults to the category name.
func NewBuilder(c core.Category) *Builder {
	return &Builder{category: c, name: c.String()}
}

// SetName overrides the listener name.
func (b *Builder) SetName(name string) *Builder {
	b.name = name
	return b
}

// SetReceiver sets the input channel.
func (b *Builder) SetReceiver(ch <-chan core.RawFrame) *Builder {
	b.frames = ch
	return b
}

// SetHandler overrides the stock handler of the category.
func (b *Builder) SetHandler(h Handler) *Builder {
	b.handler = h
	return b
}

// SetLogger sets the base logger.
func (b *Builder) SetLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Name identifies the listener in orchestrator logs.
func (b *Builder) Name() string {
	return "listener/" + b.name
}

// Build validates the configuration and returns the listener task.
func (b *Builder) Build(ctx context.Context) (orchestrator.Runnable, error) {
	l, err := b.build()
	if err != nil {
		return nil, err
	}
	return l, nil
}

func (b *Builder) build() (*Listener, error) {
	if !b.category.Valid() {
		return nil, fmt.Errorf("%w: %d", core.ErrUnknownCategory, uint8(b.category))
	}
	if b.frames == nil {
		return nil, fmt.Errorf("%w: %s", core.ErrNoReceiver, b.name)
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("task", b.Name(), "category", b.category.String())

	handler := b.handler
	if handler == nil {
		handler = HandlerFor(b.category, b.name, logger)
	}

	return &Listener{
		name:              b.name,
		category:          b.category,
		frames:            b.frames,
		handler:           handler,
		decoder:           decoder.New(),
		logger:            logger,
		handledMetric:     metrics.ListenerFramesTotal.WithLabelValues(b.name, "handled"),
		decodeErrorMetric: metrics.ListenerFramesTotal.WithLabelValues(b.name, "decode_error"),
	}, nil
}

// HandlerFor returns the stock handler for category c.
func HandlerFor(c core.Category, name string, logger *slog.Logger) Handler {
	switch {
	case c.IsTCP():
		return NewTCPHandler(name, logger)
	case c.IsUDP():
		return NewUDPHandler(logger)
	case c.IsICMP():
		return NewICMPHandler(logger)
	case c == core.CategoryARP:
		return NewARPHandler()
	default:
		return NewCountingHandler()
	}
}
