package listener

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/core/decoder"
	"firestige.xyz/psniff/internal/metrics"
)

// TCPHandler tracks per-flow sequence progress.
type TCPHandler struct {
	tracker *SessionTracker
	logger  *slog.Logger

	verdictMetric [numVerdicts]prometheus.Counter
	sessionsGauge prometheus.Gauge
}

// NewTCPHandler creates a handler with an empty session tracker.
func NewTCPHandler(name string, logger *slog.Logger) *TCPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &TCPHandler{
		tracker:       NewSessionTracker(),
		logger:        logger,
		sessionsGauge: metrics.TCPSessions.WithLabelValues(name),
	}
	for v := Verdict(0); v < numVerdicts; v++ {
		h.verdictMetric[v] = metrics.TCPSegmentsTotal.WithLabelValues(name, v.String())
	}
	return h
}

// Tracker exposes the session tracker. Only read it once the listener has stopped.
func (h *TCPHandler) Tracker() *SessionTracker {
	return h.tracker
}

func (h *TCPHandler) HandlePacket(pkt *decoder.Packet, _ core.RawFrame) {
	tcp := pkt.TCP
	if tcp == nil {
		h.logger.Debug("frame carries no tcp segment")
		return
	}

	src, dst := pkt.Addrs()
	key := FlowKey{SrcAddr: src, SrcPort: uint16(tcp.SrcPort), DstAddr: dst, DstPort: uint16(tcp.DstPort)}
	verdict, st := h.tracker.Observe(key, tcp.Seq)
	h.verdictMetric[verdict].Inc()

	switch verdict {
	case VerdictNew:
		h.sessionsGauge.Set(float64(h.tracker.Len()))
		h.logger.Info("new session",
			"flow", key.String(),
			"seq", tcp.Seq,
			"syn", tcp.SYN,
			"ack", tcp.ACK,
			"fin", tcp.FIN,
			"rst", tcp.RST,
			"payload_len", len(tcp.Payload))
	case VerdictDuplicate:
		h.logger.Debug("duplicate segment", "flow", key.String(), "seq", tcp.Seq, "segments", st.Segments)
	case VerdictProgressed:
		h.logger.Debug("session progressed", "flow", key.String(), "seq", tcp.Seq, "segments", st.Segments)
	case VerdictOutOfOrder:
		h.logger.Debug("out-of-order segment", "flow", key.String(), "seq", tcp.Seq, "last_seq", st.LastSeq)
	}
}
