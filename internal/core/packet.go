// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawFrame is one captured link-layer frame handed from a capture engine to a listener.
// Data is owned by the receiver once the frame has been sent on a channel.
type RawFrame struct {
	Data           []byte    // Link-layer bytes, owned copy
	Timestamp      time.Time // Capture timestamp
	CaptureLength  int       // Bytes actually captured
	Length         int       // Original frame length on the wire
	InterfaceIndex int       // Network interface index
}

// PacketCounters are driver-level statistics for one interface.
// Values are cumulative and never decrease.
type PacketCounters struct {
	Received  uint64 `json:"received"`
	OSDropped uint64 `json:"os_dropped"`
	IfDropped uint64 `json:"if_dropped"`
}

// Merge returns the field-wise maximum of c and o.
func (c PacketCounters) Merge(o PacketCounters) PacketCounters {
	return PacketCounters{
		Received:  max(c.Received, o.Received),
		OSDropped: max(c.OSDropped, o.OSDropped),
		IfDropped: max(c.IfDropped, o.IfDropped),
	}
}
