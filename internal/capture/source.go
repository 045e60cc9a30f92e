// Package capture implements the capture engine: it reads frames from a
// capture source, classifies them and forwards them to per-category channels.
package capture

import (
	"fmt"
	"time"

	"github.com/google/gopacket"

	"firestige.xyz/psniff/internal/core"
)

// Capture engine names.
const (
	EnginePcap     = "pcap"
	EngineAFPacket = "afpacket"
	EngineFile     = "file"
)

// Default capture settings.
const (
	DefaultSnapLen      = 65535
	DefaultPollTimeout  = 100 * time.Millisecond
	DefaultBufferMB     = 8
	DefaultSendTimeout  = 50 * time.Millisecond
	DefaultChannelDepth = 1024

	drainInterval = 5 * time.Millisecond
)

// Source is an open capture handle.
//
// ReadPacketData returns a buffer owned by the caller. A poll interval without
// traffic is reported as core.ErrCaptureTimeout; io.EOF means the source is exhausted.
type Source interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	Stats() (core.PacketCounters, error)
	Close()
}

// SourceConfig carries everything an Opener needs.
type SourceConfig struct {
	Interface   string
	Engine      string
	File        string
	Promiscuous bool
	SnapLen     int
	PollTimeout time.Duration
	BPFFilter   string
	BufferMB    int
}

// Opener opens a capture source.
type Opener func(cfg SourceConfig) (Source, error)

// OpenSource opens the source named by cfg.Engine.
func OpenSource(cfg SourceConfig) (Source, error) {
	switch cfg.Engine {
	case EnginePcap, "":
		return openPcap(cfg)
	case EngineAFPacket:
		return openAFPacket(cfg)
	case EngineFile:
		return openFile(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", core.ErrEngineUnsupported, cfg.Engine)
	}
}
