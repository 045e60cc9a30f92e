// Package decodertest builds wire-format frames for tests.
package decodertest

import (
	"encoding/binary"
	"net"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

var (
	SrcMAC = net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	DstMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
)

// TCP describes one TCP segment.
type TCP struct {
	Src, Dst         string
	SrcPort, DstPort uint16
	Seq, Ack         uint32
	SYN, ACK         bool
	FIN, RST         bool
	Payload          []byte
}

// V4 serializes the segment over IPv4.
func (s TCP) V4() []byte {
	ip := ipv4(s.Src, s.Dst, layers.IPProtocolTCP)
	return serialize(eth(layers.EthernetTypeIPv4), ip, s.layer(ip), gopacket.Payload(s.Payload))
}

// V6 serializes the segment over IPv6.
func (s TCP) V6() []byte {
	ip := ipv6(s.Src, s.Dst, layers.IPProtocolTCP)
	return serialize(eth(layers.EthernetTypeIPv6), ip, s.layer(ip), gopacket.Payload(s.Payload))
}

// V6Ext serializes the segment over IPv6 behind the given extension headers.
func (s TCP) V6Ext(exts ...IPv6Extension) []byte {
	ip := ipv6(s.Src, s.Dst, layers.IPProtocolTCP)
	seg := serialize(s.layer(ip), gopacket.Payload(s.Payload))
	return IPv6WithExtensions(s.Src, s.Dst, exts, layers.IPProtocolTCP, seg)
}

// VLAN serializes the segment over IPv4 inside an 802.1Q tag.
func (s TCP) VLAN(id uint16) []byte {
	ip := ipv4(s.Src, s.Dst, layers.IPProtocolTCP)
	tag := &layers.Dot1Q{VLANIdentifier: id, Type: layers.EthernetTypeIPv4}
	return serialize(eth(layers.EthernetTypeDot1Q), tag, ip, s.layer(ip), gopacket.Payload(s.Payload))
}

func (s TCP) layer(ip gopacket.NetworkLayer) *layers.TCP {
	tcp := &layers.TCP{
		SrcPort: layers.TCPPort(s.SrcPort),
		DstPort: layers.TCPPort(s.DstPort),
		Seq:     s.Seq,
		Ack:     s.Ack,
		SYN:     s.SYN,
		ACK:     s.ACK,
		FIN:     s.FIN,
		RST:     s.RST,
		Window:  65535,
	}
	mustChecksum(tcp.SetNetworkLayerForChecksum(ip))
	return tcp
}

// UDPv4 serializes a UDP datagram over IPv4.
func UDPv4(src, dst string, sport, dport uint16, payload []byte) []byte {
	ip := ipv4(src, dst, layers.IPProtocolUDP)
	return serialize(eth(layers.EthernetTypeIPv4), ip, udp(ip, sport, dport), gopacket.Payload(payload))
}

// UDPv6 serializes a UDP datagram over IPv6.
func UDPv6(src, dst string, sport, dport uint16, payload []byte) []byte {
	ip := ipv6(src, dst, layers.IPProtocolUDP)
	return serialize(eth(layers.EthernetTypeIPv6), ip, udp(ip, sport, dport), gopacket.Payload(payload))
}

// ICMPv4Echo serializes an ICMPv4 echo request.
func ICMPv4Echo(src, dst string) []byte {
	ip := ipv4(src, dst, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       1,
		Seq:      1,
	}
	return serialize(eth(layers.EthernetTypeIPv4), ip, icmp, gopacket.Payload("ping"))
}

// ICMPv6Echo serializes an ICMPv6 echo request.
func ICMPv6Echo(src, dst string) []byte {
	ip := ipv6(src, dst, layers.IPProtocolICMPv6)
	return serialize(eth(layers.EthernetTypeIPv6), ip, icmp6(ip), gopacket.Payload{0, 1, 0, 1})
}

// ICMPv6OverIPv4 serializes an ICMPv6 message carried by an IPv4 header.
func ICMPv6OverIPv4(src, dst string) []byte {
	ip := ipv4(src, dst, layers.IPProtocolICMPv6)
	return serialize(eth(layers.EthernetTypeIPv4), ip, icmp6(ip), gopacket.Payload{0, 1, 0, 1})
}

// ICMPv4OverIPv6 serializes an ICMPv4 message carried by an IPv6 header.
func ICMPv4OverIPv6(src, dst string) []byte {
	ip := ipv6(src, dst, layers.IPProtocolICMPv4)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0)}
	return serialize(eth(layers.EthernetTypeIPv6), ip, icmp)
}

// IPv4Raw serializes an IPv4 packet with an arbitrary protocol number and opaque payload.
func IPv4Raw(src, dst string, proto layers.IPProtocol, payload []byte) []byte {
	return serialize(eth(layers.EthernetTypeIPv4), ipv4(src, dst, proto), gopacket.Payload(payload))
}

// IPv6Raw serializes an IPv6 packet with an arbitrary next header and opaque payload.
func IPv6Raw(src, dst string, next layers.IPProtocol, payload []byte) []byte {
	return serialize(eth(layers.EthernetTypeIPv6), ipv6(src, dst, next), gopacket.Payload(payload))
}

// IPv6Extension is one 8-byte IPv6 extension header.
type IPv6Extension struct {
	Type layers.IPProtocol
	// FragmentOffset is used by fragment headers, in 8-byte units.
	FragmentOffset uint16
}

// IPv6WithExtensions serializes an IPv6 packet whose extension headers are
// followed by the upper-layer protocol next and its encoded payload.
func IPv6WithExtensions(src, dst string, exts []IPv6Extension, next layers.IPProtocol, payload []byte) []byte {
	var chain []byte
	for i, ext := range exts {
		nh := next
		if i+1 < len(exts) {
			nh = exts[i+1].Type
		}
		h := make([]byte, 8)
		h[0] = byte(nh)
		switch ext.Type {
		case layers.IPProtocolIPv6Fragment:
			binary.BigEndian.PutUint16(h[2:4], ext.FragmentOffset<<3)
			binary.BigEndian.PutUint32(h[4:8], 0x5eed)
		case layers.IPProtocolIPv6Routing:
			h[2] = 2
		default:
			// PadN over the remaining option bytes.
			h[2], h[3] = 1, 4
		}
		chain = append(chain, h...)
	}
	first := next
	if len(exts) > 0 {
		first = exts[0].Type
	}
	return IPv6Raw(src, dst, first, append(chain, payload...))
}

// ARPRequest serializes an ARP who-has request.
func ARPRequest(senderIP, targetIP string) []byte {
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: net.ParseIP(senderIP).To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP(targetIP).To4(),
	}
	e := eth(layers.EthernetTypeARP)
	e.DstMAC = layers.EthernetBroadcast
	return serialize(e, arp)
}

// NonIP serializes an Ethernet frame with a local-experimental EtherType.
func NonIP(payload []byte) []byte {
	return serialize(eth(layers.EthernetType(0x88b5)), gopacket.Payload(payload))
}

func eth(t layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: t}
}

func ipv4(src, dst string, proto layers.IPProtocol) *layers.IPv4 {
	return &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
}

func ipv6(src, dst string, next layers.IPProtocol) *layers.IPv6 {
	return &layers.IPv6{
		Version:    6,
		HopLimit:   64,
		NextHeader: next,
		SrcIP:      net.ParseIP(src),
		DstIP:      net.ParseIP(dst),
	}
}

func udp(ip gopacket.NetworkLayer, sport, dport uint16) *layers.UDP {
	u := &layers.UDP{SrcPort: layers.UDPPort(sport), DstPort: layers.UDPPort(dport)}
	mustChecksum(u.SetNetworkLayerForChecksum(ip))
	return u
}

func icmp6(ip gopacket.NetworkLayer) *layers.ICMPv6 {
	i := &layers.ICMPv6{TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeEchoRequest, 0)}
	mustChecksum(i.SetNetworkLayerForChecksum(ip))
	return i
}

func serialize(ls ...gopacket.SerializableLayer) []byte {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func mustChecksum(err error) {
	if err != nil {
		panic(err)
	}
}
