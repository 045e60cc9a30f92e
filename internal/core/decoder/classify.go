package decoder

import (
	"fmt"

	"github.com/google/gopacket/layers"

	"firestige.xyz/psniff/internal/core"
)

// NoTransportError reports an IP packet whose transport layer could not be identified.
type NoTransportError struct {
	Version  uint8
	Protocol layers.IPProtocol
}

func (e *NoTransportError) Error() string {
	return fmt.Sprintf("ipv%d packet without transport layer (protocol %d %s)",
		e.Version, uint8(e.Protocol), e.Protocol)
}

func (e *NoTransportError) Unwrap() error {
	return core.ErrNoTransport
}

// Classify maps a decoded packet to its routing category.
// ICMPv6 carried by IPv4 (and ICMPv4 carried by IPv6) is CategoryUnexpected.
// On error the returned category is CategoryUnexpected, never a routable one.
func Classify(p *Packet) (core.Category, error) {
	switch {
	case p.ARP != nil:
		return core.CategoryARP, nil

	case p.IPv4 != nil:
		if p.Tunneled {
			return core.CategoryUnexpected, &NoTransportError{Version: 4, Protocol: p.Protocol}
		}
		switch {
		case p.TCP != nil:
			return core.CategoryIPv4TCP, nil
		case p.UDP != nil:
			return core.CategoryIPv4UDP, nil
		case p.ICMPv4 != nil:
			return core.CategoryIPv4ICMP, nil
		case p.ICMPv6 != nil:
			return core.CategoryUnexpected, nil
		}
		return core.CategoryUnexpected, &NoTransportError{Version: 4, Protocol: p.Protocol}

	case p.IPv6 != nil:
		if p.Tunneled || p.Fragment {
			return core.CategoryUnexpected, &NoTransportError{Version: 6, Protocol: p.Protocol}
		}
		switch {
		case p.TCP != nil:
			return core.CategoryIPv6TCP, nil
		case p.UDP != nil:
			return core.CategoryIPv6UDP, nil
		case p.ICMPv6 != nil:
			return core.CategoryIPv6ICMP, nil
		case p.ICMPv4 != nil:
			return core.CategoryUnexpected, nil
		}
		return core.CategoryUnexpected, &NoTransportError{Version: 6, Protocol: p.Protocol}
	}

	return core.CategoryNoNetworkLayer, nil
}

// Classifier decodes and classifies raw frames. Like Decoder it belongs to a single goroutine.
type Classifier struct {
	dec *Decoder
}

// NewClassifier creates a Classifier with its own Decoder.
func NewClassifier() *Classifier {
	return &Classifier{dec: New()}
}

// Classify decodes data and returns its category. Errors wrap either
// core.ErrMalformedFrame or core.ErrNoTransport (as *NoTransportError).
func (c *Classifier) Classify(data []byte) (core.Category, error) {
	pkt, err := c.dec.Decode(data)
	if err != nil {
		return core.CategoryUnexpected, err
	}
	return Classify(pkt)
}
