package listener

import (
	"net/netip"
)

// FlowKey identifies one direction of a TCP connection. The reverse direction
// is a different key.
type FlowKey struct {
	SrcAddr netip.Addr
	SrcPort uint16
	DstAddr netip.Addr
	DstPort uint16
}

func (k FlowKey) String() string {
	return netip.AddrPortFrom(k.SrcAddr, k.SrcPort).String() + "->" +
		netip.AddrPortFrom(k.DstAddr, k.DstPort).String()
}

// SessionState is the sequence bookkeeping of one flow.
type SessionState struct {
	LastSeq  uint32
	Segments uint64
}

// Verdict is the outcome of observing one segment.
type Verdict uint8

const (
	VerdictNew Verdict = iota
	VerdictDuplicate
	VerdictProgressed
	VerdictOutOfOrder

	numVerdicts
)

var verdictNames = [numVerdicts]string{
	VerdictNew:        "new",
	VerdictDuplicate:  "duplicate",
	VerdictProgressed: "progressed",
	VerdictOutOfOrder: "out-of-order",
}

func (v Verdict) String() string {
	if v < numVerdicts {
		return verdictNames[v]
	}
	return "unknown"
}

// SessionTracker maps flows to their sequence state. It is not synchronized;
// it belongs to one TCP listener.
type SessionTracker struct {
	sessions map[FlowKey]SessionState
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[FlowKey]SessionState)}
}

// Observe records a segment with sequence number seq on flow key.
// The last-seen sequence number never moves backwards; an older segment leaves
// the state untouched.
func (t *SessionTracker) Observe(key FlowKey, seq uint32) (Verdict, SessionState) {
	s, ok := t.sessions[key]
	switch {
	case !ok:
		s = SessionState{LastSeq: seq, Segments: 1}
		t.sessions[key] = s
		return VerdictNew, s
	case seq == s.LastSeq:
		s.Segments++
		t.sessions[key] = s
		return VerdictDuplicate, s
	case seq > s.LastSeq:
		s.LastSeq = seq
		s.Segments++
		t.sessions[key] = s
		return VerdictProgressed, s
	default:
		return VerdictOutOfOrder, s
	}
}

// Session returns the state of one flow.
func (t *SessionTracker) Session(key FlowKey) (SessionState, bool) {
	s, ok := t.sessions[key]
	return s, ok
}

// Len returns the number of tracked flows.
func (t *SessionTracker) Len() int {
	return len(t.sessions)
}
