package capture

import (
	"math"
	"testing"

	"github.com/google/gopacket/pcap"
	"github.com/stretchr/testify/assert"

	"firestige.xyz/psniff/internal/core"
)

func TestCounter32Wraps(t *testing.T) {
	var c counter32
	assert.Equal(t, uint64(math.MaxUint32-10), c.update(math.MaxUint32-10))
	assert.Equal(t, uint64(math.MaxUint32-5), c.update(math.MaxUint32-5))
	// 5 to reach MaxUint32, 1 to wrap to zero, then 20 more.
	assert.Equal(t, uint64(math.MaxUint32)+21, c.update(20))
	assert.Equal(t, uint64(math.MaxUint32)+21, c.update(20))
	assert.Equal(t, uint64(math.MaxUint32)+121, c.update(120))
}

func TestPcapStatsKeepGrowingAcrossWrap(t *testing.T) {
	var st pcapStats
	first := st.update(&pcap.Stats{PacketsReceived: math.MaxUint32 - 1, PacketsDropped: 3})
	assert.Equal(t, core.PacketCounters{Received: math.MaxUint32 - 1, OSDropped: 3}, first)

	second := st.update(&pcap.Stats{PacketsReceived: 8, PacketsDropped: 4, PacketsIfDropped: 1})
	assert.Equal(t, core.PacketCounters{Received: uint64(math.MaxUint32) + 9, OSDropped: 4, IfDropped: 1}, second)

	// The merged registry view moves forward instead of freezing at the pre-wrap value.
	assert.Equal(t, second, first.Merge(second))
}
