package core

import (
	"fmt"
	"strings"
)

// Category is the protocol class assigned to a frame. It is the routing key
// between a capture engine and its listeners.
type Category uint8

const (
	CategoryARP Category = iota
	CategoryIPv4ICMP
	CategoryIPv4TCP
	CategoryIPv4UDP
	CategoryIPv6ICMP
	CategoryIPv6TCP
	CategoryIPv6UDP
	CategoryNoNetworkLayer
	CategoryUnexpected

	// NumCategories is the number of defined categories.
	NumCategories = int(CategoryUnexpected) + 1
)

var categoryNames = [NumCategories]string{
	CategoryARP:            "arp",
	CategoryIPv4ICMP:       "ipv4-icmp",
	CategoryIPv4TCP:        "ipv4-tcp",
	CategoryIPv4UDP:        "ipv4-udp",
	CategoryIPv6ICMP:       "ipv6-icmp",
	CategoryIPv6TCP:        "ipv6-tcp",
	CategoryIPv6UDP:        "ipv6-udp",
	CategoryNoNetworkLayer: "no-network-layer",
	CategoryUnexpected:     "unexpected",
}

func (c Category) String() string {
	if int(c) < NumCategories {
		return categoryNames[c]
	}
	return fmt.Sprintf("category(%d)", uint8(c))
}

// Valid reports whether c is one of the defined categories.
func (c Category) Valid() bool {
	return int(c) < NumCategories
}

// IsTCP reports whether c carries TCP segments.
func (c Category) IsTCP() bool {
	return c == CategoryIPv4TCP || c == CategoryIPv6TCP
}

// IsUDP reports whether c carries UDP datagrams.
func (c Category) IsUDP() bool {
	return c == CategoryIPv4UDP || c == CategoryIPv6UDP
}

// IsICMP reports whether c carries ICMP messages.
func (c Category) IsICMP() bool {
	return c == CategoryIPv4ICMP || c == CategoryIPv6ICMP
}

// ParseCategory maps a category name (case-insensitive) back to its value.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Categories returns every defined category in declaration order.
func Categories() []Category {
	out := make([]Category, NumCategories)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}
