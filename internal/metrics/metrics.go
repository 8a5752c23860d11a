// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ModelCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_model_calls_total",
			Help: "Total number of AI provider calls",
		},
		[]string{"provider", "outcome"},
	)

	ModelLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "sentinel_model_call_duration_seconds",
			Help: "AI provider call duration in seconds",
		},
		[]string{"provider"},
	)

	ToolCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_tool_calls_total",
			Help: "Total number of tool dispatches",
		},
		[]string{"tool", "outcome"},
	)

	LoopIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sentinel_agent_loop_iterations",
			Help:    "Tool iterations per conversation turn",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		},
	)

	StallNotices = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_stall_notices_total",
			Help: "Interim notices posted for slow replies",
		},
	)

	WindsorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_windsor_requests_total",
			Help: "Upstream KPI requests by outcome",
		},
		[]string{"outcome"},
	)

	WindsorCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_windsor_cache_total",
			Help: "KPI cache lookups by result",
		},
		[]string{"result"},
	)

	SweepItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_sweep_items_total",
			Help: "Items examined by scheduler sweeps",
		},
		[]string{"sweep", "result"},
	)

	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_jobs_total",
			Help: "Queue jobs processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	Deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_report_deliveries_total",
			Help: "Scheduled report deliveries by outcome",
		},
		[]string{"outcome"},
	)

	SlackEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_slack_events_total",
			Help: "Slack socket-mode events by type",
		},
		[]string{"type"},
	)
)
