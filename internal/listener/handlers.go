package listener

import (
	"log/slog"
	"sync/atomic"

	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/core/decoder"
)

// UDPHandler logs every datagram. It keeps no state.
type UDPHandler struct {
	logger *slog.Logger
}

func NewUDPHandler(logger *slog.Logger) *UDPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UDPHandler{logger: logger}
}

func (h *UDPHandler) HandlePacket(pkt *decoder.Packet, _ core.RawFrame) {
	if pkt.UDP == nil {
		return
	}
	src, dst := pkt.Addrs()
	h.logger.Debug("udp datagram",
		"src", src,
		"src_port", uint16(pkt.UDP.SrcPort),
		"dst", dst,
		"dst_port", uint16(pkt.UDP.DstPort),
		"payload_len", len(pkt.UDP.Payload))
}

// ICMPHandler logs ICMPv4 and ICMPv6 messages. It keeps no state.
type ICMPHandler struct {
	logger *slog.Logger
}

func NewICMPHandler(logger *slog.Logger) *ICMPHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ICMPHandler{logger: logger}
}

func (h *ICMPHandler) HandlePacket(pkt *decoder.Packet, _ core.RawFrame) {
	src, dst := pkt.Addrs()
	switch {
	case pkt.ICMPv4 != nil:
		h.logger.Debug("icmp message",
			"src", src,
			"dst", dst,
			"type", pkt.ICMPv4.TypeCode.Type(),
			"code", pkt.ICMPv4.TypeCode.Code(),
			"payload_len", len(pkt.ICMPv4.Payload))
	case pkt.ICMPv6 != nil:
		h.logger.Debug("icmpv6 message",
			"src", src,
			"dst", dst,
			"type", pkt.ICMPv6.TypeCode.Type(),
			"code", pkt.ICMPv6.TypeCode.Code(),
			"payload_len", len(pkt.ICMPv6.Payload))
	}
}

// ARPHandler counts ARP packets.
type ARPHandler struct {
	count atomic.Uint64
}

func NewARPHandler() *ARPHandler {
	return &ARPHandler{}
}

func (h *ARPHandler) HandlePacket(pkt *decoder.Packet, _ core.RawFrame) {
	if pkt.ARP != nil {
		h.count.Add(1)
	}
}

// Count returns the number of ARP packets seen.
func (h *ARPHandler) Count() uint64 {
	return h.count.Load()
}

// CountingHandler counts every frame it is given.
type CountingHandler struct {
	count atomic.Uint64
}

func NewCountingHandler() *CountingHandler {
	return &CountingHandler{}
}

func (h *CountingHandler) HandlePacket(*decoder.Packet, core.RawFrame) {
	h.count.Add(1)
}

// Count returns the number of frames seen.
func (h *CountingHandler) Count() uint64 {
	return h.count.Load()
}
