package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn and tool counters. Registered on the default registry; exposed by the
// server's /metrics handler.
var (
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "origin_turns_total",
		Help: "Turns processed, by outcome (end, cancelled, error).",
	}, []string{"outcome"})

	ToolExecutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "origin_tool_executions_total",
		Help: "Tool executions, by tool and status (ok, error, blocked, doom_loop, rejected).",
	}, []string{"tool", "status"})

	StreamEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "origin_stream_events_total",
		Help: "Client stream events emitted, by event type.",
	}, []string{"type"})

	CheckpointWritesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "origin_checkpoint_writes_total",
		Help: "Checkpoints persisted.",
	})
)
