//go:build linux

package capture

import (
	"errors"
	"net"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestRingSize(t *testing.T) {
	frame, block, num := ringSize(8, 65535, 4096)
	assert.Equal(t, 65536, frame)
	assert.Equal(t, 65536*128, block)
	assert.Equal(t, 1, num)

	frame, block, num = ringSize(64, 1500, 4096)
	assert.Equal(t, 2048, frame)
	assert.Equal(t, 2048*128, block)
	assert.Equal(t, 256, num)

	_, _, num = ringSize(0, 1500, 4096)
	assert.Equal(t, 32, num)
}

func promiscFlag(t *testing.T, name string) bool {
	t.Helper()
	raw, err := os.ReadFile("/sys/class/net/" + name + "/flags")
	if err != nil {
		t.Skipf("interface flags unavailable: %v", err)
	}
	flags, err := strconv.ParseUint(strings.TrimSpace(string(raw)), 0, 32)
	require.NoError(t, err)
	return flags&unix.IFF_PROMISC != 0
}

func TestEnterPromiscHoldsMembership(t *testing.T) {
	lo, err := net.InterfaceByName("lo")
	if err != nil {
		t.Skipf("no loopback interface: %v", err)
	}
	if promiscFlag(t, lo.Name) {
		t.Skip("loopback is already promiscuous")
	}

	fd, err := enterPromisc(lo.Index)
	if errors.Is(err, unix.EPERM) || errors.Is(err, unix.EACCES) {
		t.Skip("packet sockets need CAP_NET_RAW")
	}
	require.NoError(t, err)
	assert.True(t, promiscFlag(t, lo.Name))

	require.NoError(t, unix.Close(fd))
	assert.False(t, promiscFlag(t, lo.Name))
}

func TestEnterPromiscUnknownIndex(t *testing.T) {
	_, err := enterPromisc(1 << 30)
	assert.Error(t, err)
}
