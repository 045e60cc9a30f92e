package capture

import (
	"errors"
	"fmt"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"

	"firestige.xyz/psniff/internal/core"
)

type pcapSource struct {
	handle *pcap.Handle
	stats  pcapStats
}

func openPcap(cfg SourceConfig) (Source, error) {
	if err := lookupDevice(cfg.Interface); err != nil {
		return nil, err
	}

	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to create inactive handle: %w", err)
	}
	defer inactive.CleanUp()

	if err := inactive.SetPromisc(cfg.Promiscuous); err != nil {
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}
	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		return nil, fmt.Errorf("failed to set snaplen: %w", err)
	}
	if err := inactive.SetTimeout(cfg.PollTimeout); err != nil {
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}

	handle, err := inactive.Activate()
	if err != nil {
		return nil, fmt.Errorf("failed to activate handle: %w", err)
	}
	if lt := handle.LinkType(); lt != layers.LinkTypeEthernet {
		handle.Close()
		return nil, fmt.Errorf("%w: %s", core.ErrLinkType, lt)
	}
	if cfg.BPFFilter != "" {
		if err := handle.SetBPFFilter(cfg.BPFFilter); err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}
	return &pcapSource{handle: handle}, nil
}

func (s *pcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (s *pcapSource) Stats() (core.PacketCounters, error) {
	st, err := s.handle.Stats()
	if err != nil {
		return core.PacketCounters{}, err
	}
	return s.stats.update(st), nil
}

// pcapStats widens the 32-bit libpcap counters, which wrap on busy links,
// into running 64-bit totals.
type pcapStats struct {
	received, osDropped, ifDropped counter32
}

func (p *pcapStats) update(st *pcap.Stats) core.PacketCounters {
	return core.PacketCounters{
		Received:  p.received.update(uint32(st.PacketsReceived)),
		OSDropped: p.osDropped.update(uint32(st.PacketsDropped)),
		IfDropped: p.ifDropped.update(uint32(st.PacketsIfDropped)),
	}
}

// counter32 accumulates a wrapping 32-bit counter. Samples must be taken at
// least once per wrap.
type counter32 struct {
	total uint64
	last  uint32
	seen  bool
}

func (c *counter32) update(v uint32) uint64 {
	if !c.seen {
		c.seen = true
		c.total = uint64(v)
	} else {
		c.total += uint64(v - c.last)
	}
	c.last = v
	return c.total
}

func (s *pcapSource) Close() {
	s.handle.Close()
}
