//go:build linux

package capture

import (
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"

	"firestige.xyz/psniff/internal/core"
)

type afpacketSource struct {
	handle *afpacket.TPacket
	// promiscFD holds the PACKET_MR_PROMISC membership, -1 when unused.
	promiscFD int
}

func openAFPacket(cfg SourceConfig) (Source, error) {
	ifi, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", core.ErrInterfaceNotFound, cfg.Interface)
	}

	frameSize, blockSize, numBlocks := ringSize(cfg.BufferMB, cfg.SnapLen, os.Getpagesize())
	handle, err := afpacket.NewTPacket(
		afpacket.OptInterface(cfg.Interface),
		afpacket.OptFrameSize(frameSize),
		afpacket.OptBlockSize(blockSize),
		afpacket.OptNumBlocks(numBlocks),
		afpacket.OptPollTimeout(cfg.PollTimeout),
		afpacket.OptTPacketVersion(afpacket.TPacketVersion3),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create TPacket handle: %w", err)
	}

	if cfg.BPFFilter != "" {
		insns, err := compileBPF(cfg.SnapLen, cfg.BPFFilter)
		if err == nil {
			err = handle.SetBPF(insns)
		}
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set BPF filter %q: %w", cfg.BPFFilter, err)
		}
	}

	src := &afpacketSource{handle: handle, promiscFD: -1}
	if cfg.Promiscuous {
		fd, err := enterPromisc(ifi.Index)
		if err != nil {
			handle.Close()
			return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
		}
		src.promiscFD = fd
	}
	return src, nil
}

// enterPromisc opens a packet socket that keeps the interface promiscuous
// until it is closed. The kernel counts memberships, so closing it leaves an
// interface that was already promiscuous untouched.
func enterPromisc(ifindex int) (int, error) {
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, 0)
	if err != nil {
		return -1, err
	}
	mreq := &unix.PacketMreq{Ifindex: int32(ifindex), Type: unix.PACKET_MR_PROMISC}
	if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// ringSize derives TPACKET_V3 ring geometry from a buffer budget in MiB.
// Frames are page aligned and every block holds 128 frames.
func ringSize(bufferMB, snaplen, pageSize int) (frameSize, blockSize, numBlocks int) {
	if bufferMB <= 0 {
		bufferMB = DefaultBufferMB
	}
	if snaplen < pageSize {
		frameSize = pageSize / (pageSize / snaplen)
	} else {
		frameSize = (snaplen/pageSize + 1) * pageSize
	}
	blockSize = frameSize * 128
	numBlocks = bufferMB * 1024 * 1024 / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks
}

// compileBPF compiles a tcpdump expression with libpcap and converts it for the kernel socket filter.
func compileBPF(snaplen int, expr string) ([]bpf.RawInstruction, error) {
	pcapInsns, err := pcap.CompileBPFFilter(layers.LinkTypeEthernet, snaplen, expr)
	if err != nil {
		return nil, err
	}
	raw := make([]bpf.RawInstruction, len(pcapInsns))
	for i, insn := range pcapInsns {
		raw[i] = bpf.RawInstruction{Op: insn.Code, Jt: insn.Jt, Jf: insn.Jf, K: insn.K}
	}
	return raw, nil
}

func (s *afpacketSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.handle.ReadPacketData()
	if errors.Is(err, afpacket.ErrTimeout) {
		return nil, ci, core.ErrCaptureTimeout
	}
	return data, ci, err
}

func (s *afpacketSource) Stats() (core.PacketCounters, error) {
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return core.PacketCounters{}, err
	}
	return core.PacketCounters{
		Received:  uint64(v3.Packets()),
		OSDropped: uint64(v3.Drops()),
	}, nil
}

func (s *afpacketSource) Close() {
	s.handle.Close()
	if s.promiscFD >= 0 {
		unix.Close(s.promiscFD)
		s.promiscFD = -1
	}
}
