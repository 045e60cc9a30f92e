package capture

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/psniff/internal/core"
)

// fileSource replays a pcap file. Received counts frames read so far.
type fileSource struct {
	f      *os.File
	r      *pcapgo.Reader
	read   uint64
	broken bool
}

func openFile(cfg SourceConfig) (Source, error) {
	f, err := os.Open(cfg.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read capture file header: %w", err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return nil, fmt.Errorf("%w: %s", core.ErrLinkType, lt)
	}
	return &fileSource{f: f, r: r}, nil
}

func (s *fileSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	if s.broken {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data, ci, err := s.r.ReadPacketData()
	switch {
	case err == nil:
		s.read++
		return data, ci, nil
	case errors.Is(err, io.EOF):
		return nil, ci, io.EOF
	default:
		// A bad record desynchronizes the reader; nothing after it can be trusted.
		s.broken = true
		return nil, ci, fmt.Errorf("%w: %w", io.ErrUnexpectedEOF, err)
	}
}

func (s *fileSource) Stats() (core.PacketCounters, error) {
	return core.PacketCounters{Received: s.read}, nil
}

func (s *fileSource) Close() {
	s.f.Close()
}
