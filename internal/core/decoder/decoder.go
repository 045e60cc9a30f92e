// Package decoder implements L2-L4 frame decoding and protocol classification.
package decoder

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/psniff/internal/core"
)

// Packet is a decoded view over one frame. Absent layers are nil.
// A Packet is only valid until the next Decode on the Decoder that produced it.
type Packet struct {
	Ethernet *layers.Ethernet
	VLAN     *layers.Dot1Q
	ARP      *layers.ARP
	IPv4     *layers.IPv4
	IPv6     *layers.IPv6
	TCP      *layers.TCP
	UDP      *layers.UDP
	ICMPv4   *layers.ICMPv4
	ICMPv6   *layers.ICMPv6

	// Protocol is the upper-layer protocol of the IP packet. For IPv6 it is
	// the next header after the last extension header.
	Protocol layers.IPProtocol
	// Fragment is set for an IPv6 fragment other than the first one.
	Fragment bool
	// Tunneled is set when a second network layer follows the first one.
	// Layers after the outer network layer are not exposed.
	Tunneled bool
	// Truncated is set when a layer reported fewer bytes than it declared.
	Truncated bool
}

// HasNetworkLayer reports whether an IPv4 or IPv6 header was decoded.
func (p *Packet) HasNetworkLayer() bool {
	return p.IPv4 != nil || p.IPv6 != nil
}

// Addrs returns the network-layer source and destination addresses.
// Both are invalid when the frame has no IP layer.
func (p *Packet) Addrs() (src, dst netip.Addr) {
	switch {
	case p.IPv4 != nil:
		return toAddr(p.IPv4.SrcIP), toAddr(p.IPv4.DstIP)
	case p.IPv6 != nil:
		return toAddr(p.IPv6.SrcIP), toAddr(p.IPv6.DstIP)
	}
	return netip.Addr{}, netip.Addr{}
}

// TransportPayloadLen returns the number of bytes carried above the transport header.
func (p *Packet) TransportPayloadLen() int {
	switch {
	case p.TCP != nil:
		return len(p.TCP.Payload)
	case p.UDP != nil:
		return len(p.UDP.Payload)
	case p.ICMPv4 != nil:
		return len(p.ICMPv4.Payload)
	case p.ICMPv6 != nil:
		return len(p.ICMPv6.Payload)
	}
	return 0
}

func toAddr(ip net.IP) netip.Addr {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}

// Decoder decodes Ethernet frames with a preallocated gopacket DecodingLayerParser.
// It is not safe for concurrent use; every task owns its own Decoder.
type Decoder struct {
	parser  *gopacket.DecodingLayerParser
	decoded []gopacket.LayerType

	eth     layers.Ethernet
	dot1q   layers.Dot1Q
	arp     layers.ARP
	ip4     layers.IPv4
	ip6     layers.IPv6
	ip6ext  layers.IPv6ExtensionSkipper
	ip6frag ipv6Fragment
	tcp     layers.TCP
	udp     layers.UDP
	icmp4   layers.ICMPv4
	icmp6   layers.ICMPv6
	payload gopacket.Payload

	pkt Packet
}

// New creates a Decoder for Ethernet link-layer frames.
func New() *Decoder {
	d := &Decoder{decoded: make([]gopacket.LayerType, 0, 8)}
	d.parser = gopacket.NewDecodingLayerParser(layers.LayerTypeEthernet,
		&d.eth, &d.dot1q, &d.arp, &d.ip4, &d.ip6,
		// ip6frag must follow ip6ext: it takes the fragment header over from the skipper.
		&d.ip6ext, &d.ip6frag,
		&d.tcp, &d.udp, &d.icmp4, &d.icmp6, &d.payload)
	d.parser.IgnoreUnsupported = true
	return d
}

// Decode parses data into a Packet view. Layers the decoder does not know end
// decoding without error; a layer that fails to parse yields ErrMalformedFrame.
func (d *Decoder) Decode(data []byte) (*Packet, error) {
	d.pkt = Packet{}
	if err := d.parser.DecodeLayers(data, &d.decoded); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrMalformedFrame, err)
	}
	if len(d.decoded) == 0 {
		return nil, fmt.Errorf("%w: no link layer", core.ErrMalformedFrame)
	}

	p := &d.pkt
	p.Truncated = d.parser.Truncated
	for _, typ := range d.decoded {
		switch typ {
		case layers.LayerTypeEthernet:
			p.Ethernet = &d.eth
		case layers.LayerTypeDot1Q:
			p.VLAN = &d.dot1q
		case layers.LayerTypeARP:
			p.ARP = &d.arp
		case layers.LayerTypeIPv4, layers.LayerTypeIPv6:
			if p.HasNetworkLayer() {
				// A same-family inner header reuses the outer layer's storage.
				p.Tunneled = true
				p.Protocol = layers.IPProtocolIPv4
				if typ == layers.LayerTypeIPv6 {
					p.Protocol = layers.IPProtocolIPv6
				}
				return p, nil
			}
			if typ == layers.LayerTypeIPv4 {
				p.IPv4 = &d.ip4
				p.Protocol = d.ip4.Protocol
			} else {
				p.IPv6 = &d.ip6
				p.Protocol = d.ip6.NextHeader
				if d.ip6.HopByHop != nil {
					p.Protocol = d.ip6.HopByHop.NextHeader
				}
			}
		case layers.LayerTypeIPv6Destination, layers.LayerTypeIPv6Routing, layers.LayerTypeIPv6HopByHop:
			p.Protocol = d.ip6ext.NextHeader
		case layers.LayerTypeIPv6Fragment:
			p.Protocol = d.ip6frag.NextHeader
			p.Fragment = d.ip6frag.Offset != 0
		case layers.LayerTypeTCP:
			p.TCP = &d.tcp
		case layers.LayerTypeUDP:
			p.UDP = &d.udp
		case layers.LayerTypeICMPv4:
			p.ICMPv4 = &d.icmp4
		case layers.LayerTypeICMPv6:
			p.ICMPv6 = &d.icmp6
		}
	}
	return p, nil
}

// ipv6Fragment decodes the IPv6 fragment header. Only the first fragment
// carries the upper-layer header, so decoding stops after any later one.
type ipv6Fragment struct {
	layers.BaseLayer
	NextHeader layers.IPProtocol
	Offset     uint16
}

func (f *ipv6Fragment) DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error {
	if len(data) < 8 {
		df.SetTruncated()
		return fmt.Errorf("ipv6 fragment header: %d bytes", len(data))
	}
	f.NextHeader = layers.IPProtocol(data[0])
	f.Offset = binary.BigEndian.Uint16(data[2:4]) >> 3
	f.BaseLayer = layers.BaseLayer{Contents: data[:8], Payload: data[8:]}
	return nil
}

func (f *ipv6Fragment) CanDecode() gopacket.LayerClass {
	return layers.LayerTypeIPv6Fragment
}

func (f *ipv6Fragment) NextLayerType() gopacket.LayerType {
	if f.Offset != 0 {
		return gopacket.LayerTypeFragment
	}
	return f.NextHeader.LayerType()
}
