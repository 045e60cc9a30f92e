// Package state holds the registry of captured interfaces and their counters.
package state

import (
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/psniff/internal/core"
)

// DropReason classifies frames a capture engine did not forward.
type DropReason uint8

const (
	DropMalformed DropReason = iota
	DropNoTransport
	DropNoListener
	DropChannelFull

	numDropReasons
)

var dropReasonNames = [numDropReasons]string{
	DropMalformed:   "malformed",
	DropNoTransport: "no_transport",
	DropNoListener:  "no_listener",
	DropChannelFull: "channel_full",
}

func (r DropReason) String() string {
	if r < numDropReasons {
		return dropReasonNames[r]
	}
	return "unknown"
}

// DropReasons returns every drop reason in declaration order.
func DropReasons() []DropReason {
	out := make([]DropReason, numDropReasons)
	for i := range out {
		out[i] = DropReason(i)
	}
	return out
}

// Interface is one captured network interface. The name is immutable and needs
// no locking; driver counters are guarded by the interface's own mutex.
type Interface struct {
	name string

	mu        sync.Mutex
	counters  core.PacketCounters
	updatedAt time.Time

	// Written only by the owning capture engine.
	classified [core.NumCategories]atomic.Uint64
	dropped    [numDropReasons]atomic.Uint64
}

func newInterface(name string) *Interface {
	return &Interface{name: name}
}

// Name returns the interface name.
func (i *Interface) Name() string {
	return i.name
}

// Counters returns the last driver statistics.
func (i *Interface) Counters() core.PacketCounters {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.counters
}

// UpdateCounts stores new driver statistics. Lower values than the stored ones
// are ignored field by field so counters never go backwards. It reports whether
// anything changed.
func (i *Interface) UpdateCounts(received, osDropped, ifDropped uint64) bool {
	next := core.PacketCounters{Received: received, OSDropped: osDropped, IfDropped: ifDropped}

	i.mu.Lock()
	defer i.mu.Unlock()
	merged := i.counters.Merge(next)
	if merged == i.counters {
		return false
	}
	i.counters = merged
	i.updatedAt = time.Now()
	return true
}

// RecordCategory counts one classified frame.
func (i *Interface) RecordCategory(c core.Category) {
	if c.Valid() {
		i.classified[c].Add(1)
	}
}

// RecordDrop counts one frame that was not forwarded.
func (i *Interface) RecordDrop(r DropReason) {
	if r < numDropReasons {
		i.dropped[r].Add(1)
	}
}

// Classified returns the number of frames classified as c.
func (i *Interface) Classified(c core.Category) uint64 {
	if !c.Valid() {
		return 0
	}
	return i.classified[c].Load()
}

// Dropped returns the number of frames dropped for reason r.
func (i *Interface) Dropped(r DropReason) uint64 {
	if r >= numDropReasons {
		return 0
	}
	return i.dropped[r].Load()
}

// InterfaceStatus is a point-in-time copy of one interface's counters.
type InterfaceStatus struct {
	Name       string            `json:"name"`
	Total      uint64            `json:"total"`
	OSDropped  uint64            `json:"os_dropped"`
	IfDropped  uint64            `json:"if_dropped"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
	Categories map[string]uint64 `json:"categories"`
	Dropped    map[string]uint64 `json:"dropped"`
}

// Snapshot copies the interface's counters.
func (i *Interface) Snapshot() InterfaceStatus {
	i.mu.Lock()
	counters, updatedAt := i.counters, i.updatedAt
	i.mu.Unlock()

	st := InterfaceStatus{
		Name:       i.name,
		Total:      counters.Received,
		OSDropped:  counters.OSDropped,
		IfDropped:  counters.IfDropped,
		Categories: make(map[string]uint64, core.NumCategories),
		Dropped:    make(map[string]uint64, numDropReasons),
	}
	if !updatedAt.IsZero() {
		st.UpdatedAt = &updatedAt
	}
	for _, c := range core.Categories() {
		st.Categories[c.String()] = i.classified[c].Load()
	}
	for _, r := range DropReasons() {
		st.Dropped[r.String()] = i.dropped[r].Load()
	}
	return st
}
