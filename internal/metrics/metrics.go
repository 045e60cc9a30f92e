// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal mirrors driver statistics per interface.
	// kind is one of received, os_dropped, if_dropped.
	CapturePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psniff_capture_packets_total",
			Help: "Driver-level packet statistics per interface",
		},
		[]string{"interface", "kind"},
	)

	// FramesClassifiedTotal counts frames per interface and category
	FramesClassifiedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psniff_frames_classified_total",
			Help: "Total number of frames classified by category",
		},
		[]string{"interface", "category"},
	)

	// FramesDroppedTotal counts frames the capture engine did not forward
	FramesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psniff_frames_dropped_total",
			Help: "Total number of frames not forwarded to a listener",
		},
		[]string{"interface", "reason"},
	)

	// ListenerFramesTotal counts frames seen by listeners; result is handled or decode_error
	ListenerFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psniff_listener_frames_total",
			Help: "Total number of frames received by listeners",
		},
		[]string{"listener", "result"},
	)

	// TCPSegmentsTotal counts TCP segments by session verdict
	TCPSegmentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psniff_tcp_segments_total",
			Help: "Total number of TCP segments by session verdict",
		},
		[]string{"listener", "verdict"},
	)

	// TCPSessions tracks the number of sessions held by a TCP listener
	TCPSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "psniff_tcp_sessions",
			Help: "Number of tracked TCP half-connections",
		},
		[]string{"listener"},
	)

	// OrchestratorState is 1 for the current lifecycle state and 0 otherwise
	OrchestratorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "psniff_orchestrator_state",
			Help: "Current orchestrator lifecycle state",
		},
		[]string{"state"},
	)

	// TasksRunning tracks spawned tasks that have not returned yet
	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "psniff_tasks_running",
			Help: "Number of running tasks",
		},
	)
)

var orchestratorStates = []string{"idle", "building", "running", "shutting_down", "terminated"}

// SetOrchestratorState marks state as the current one.
func SetOrchestratorState(state string) {
	for _, s := range orchestratorStates {
		v := 0.0
		if s == state {
			v = 1
		}
		OrchestratorState.WithLabelValues(s).Set(v)
	}
}
