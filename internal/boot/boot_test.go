package boot

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/psniff/internal/capture"
	"firestige.xyz/psniff/internal/config"
	"firestige.xyz/psniff/internal/core"
	"firestige.xyz/psniff/internal/core/decoder/decodertest"
	"firestige.xyz/psniff/internal/metrics"
)

// replaySource returns its frames once, then io.EOF.
type replaySource struct {
	mu     sync.Mutex
	frames [][]byte
	read   uint64
}

func (s *replaySource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
	data := s.frames[0]
	s.frames = s.frames[1:]
	s.read++
	return data, gopacket.CaptureInfo{Timestamp: time.Now(), CaptureLength: len(data), Length: len(data)}, nil
}

func (s *replaySource) Stats() (core.PacketCounters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.PacketCounters{Received: s.read}, nil
}

func (s *replaySource) Close() {}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Status.Enabled = false
	cfg.Metrics.Enabled = false
	return cfg
}

func noDefault() (string, error) {
	return "", errors.New("no device")
}

func TestAssembleRunMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interfaces = []string{"eth0", "eth1"}
	cfg.Status.Enabled = true
	cfg.Metrics.Enabled = true

	plan, err := Assemble(cfg, ModeRun, WithDefaultInterface(noDefault))
	require.NoError(t, err)

	assert.Equal(t, []string{"eth0", "eth1"}, plan.Interfaces)
	require.Len(t, plan.Blocking, 2)
	assert.Equal(t, "capture/eth0", plan.Blocking[0].Name())
	// 7 listeners per interface plus status and metrics.
	require.Len(t, plan.Cooperative, 16)
	assert.Equal(t, "listener/eth0/arp", plan.Cooperative[0].Name())
	assert.Equal(t, "listener/eth1/ipv6-udp", plan.Cooperative[13].Name())
	assert.Equal(t, "status", plan.Cooperative[14].Name())
	assert.Equal(t, "metrics", plan.Cooperative[15].Name())
}

func TestAssembleListenMode(t *testing.T) {
	cfg := testConfig(t)
	plan, err := Assemble(cfg, ModeListen, WithDefaultInterface(func() (string, error) { return "wlan0", nil }))
	require.NoError(t, err)

	assert.Equal(t, []string{"wlan0"}, plan.Interfaces)
	assert.Len(t, plan.Blocking, 1)
	assert.Empty(t, plan.Cooperative)
}

func TestAssembleOneListenerPerCategory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interfaces = []string{"eth0"}
	cfg.Listeners.Categories = []string{"arp", "arp", "ipv4-tcp"}

	plan, err := Assemble(cfg, ModeRun)
	require.NoError(t, err)

	require.Len(t, plan.Cooperative, 2)
	assert.Equal(t, "listener/eth0/arp", plan.Cooperative[0].Name())
	assert.Equal(t, "listener/eth0/ipv4-tcp", plan.Cooperative[1].Name())
}

func TestAssembleInterfaceResolution(t *testing.T) {
	cfg := testConfig(t)
	_, err := Assemble(cfg, ModeRun, WithDefaultInterface(noDefault))
	assert.ErrorContains(t, err, "no device")

	cfg.Capture.Engine = capture.EngineFile
	cfg.Capture.File = "/captures/office.pcap"
	plan, err := Assemble(cfg, ModeRun, WithDefaultInterface(noDefault))
	require.NoError(t, err)
	assert.Equal(t, []string{"office.pcap"}, plan.Interfaces)

	cfg.Capture.Interfaces = []string{"a", "b"}
	_, err = Assemble(cfg, ModeRun)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestRunUntilSourceExhausted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interfaces = []string{"eth0"}
	cfg.Status.Enabled = true
	cfg.Status.Port = 0
	src := &replaySource{frames: [][]byte{
		decodertest.ARPRequest("10.0.0.1", "10.0.0.2"),
		decodertest.TCP{Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 1234, DstPort: 80, Seq: 1, SYN: true}.V4(),
		decodertest.NonIP(nil),
	}}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&syncWriter{w: &logs}, nil))
	plan, err := Assemble(cfg, ModeRun,
		WithOpener(func(capture.SourceConfig) (capture.Source, error) { return src, nil }),
		WithLogger(logger))
	require.NoError(t, err)

	summary, err := Run(context.Background(), plan, logger)
	require.NoError(t, err)
	assert.Equal(t, "task exit", summary.Trigger)
	assert.Empty(t, summary.BuildFailures)
	assert.Len(t, summary.Results, 9)

	iface, ok := plan.Registry.Lookup("eth0")
	require.True(t, ok)
	assert.Equal(t, uint64(1), iface.Classified(core.CategoryARP))
	assert.Equal(t, uint64(1), iface.Classified(core.CategoryIPv4TCP))
	assert.Equal(t, uint64(1), iface.Classified(core.CategoryNoNetworkLayer))
	assert.Equal(t, uint64(3), iface.Counters().Received)
}

func TestReplayDeliversEveryForwardedFrame(t *testing.T) {
	const segments = 300
	cfg := testConfig(t)
	cfg.Capture.Interfaces = []string{"replay0"}
	cfg.Channels.Capacity = 16
	cfg.Listeners.Categories = []string{"ipv4-tcp"}

	src := &replaySource{}
	for i := 0; i < segments; i++ {
		seg := decodertest.TCP{Src: "10.0.0.1", Dst: "10.0.0.2", SrcPort: 40000, DstPort: 80, Seq: uint32(i + 1)}
		src.frames = append(src.frames, seg.V4())
	}

	var logs bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&syncWriter{w: &logs}, nil))
	plan, err := Assemble(cfg, ModeRun,
		WithOpener(func(capture.SourceConfig) (capture.Source, error) { return src, nil }),
		WithLogger(logger))
	require.NoError(t, err)

	summary, err := Run(context.Background(), plan, logger)
	require.NoError(t, err)
	assert.Equal(t, "task exit", summary.Trigger)

	iface, ok := plan.Registry.Lookup("replay0")
	require.True(t, ok)
	assert.Equal(t, uint64(segments), iface.Classified(core.CategoryIPv4TCP))

	handled := metrics.ListenerFramesTotal.WithLabelValues("replay0/ipv4-tcp", "handled")
	assert.Equal(t, float64(segments), testutil.ToFloat64(handled))
	assert.NotContains(t, logs.String(), "frames still queued")
}

func TestRunWithoutCaptureEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Interfaces = []string{"eth0"}

	plan, err := Assemble(cfg, ModeRun,
		WithOpener(func(capture.SourceConfig) (capture.Source, error) { return nil, core.ErrInterfaceNotFound }),
		WithLogger(slog.New(slog.NewJSONHandler(io.Discard, nil))))
	require.NoError(t, err)

	summary, err := Run(context.Background(), plan, nil)
	assert.ErrorIs(t, err, core.ErrNoCaptureEngine)
	require.Len(t, summary.BuildFailures, 1)
	assert.ErrorIs(t, summary.BuildFailures[0].Err, core.ErrDeviceOpen)
}

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}
