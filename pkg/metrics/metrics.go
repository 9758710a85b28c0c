package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "burrow_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)

	// Agent metrics
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_tool_calls_total",
			Help: "Total tool calls requested by the model",
		},
		[]string{"tool", "outcome"}, // "ok", "error" or "denied"
	)

	LLMRoundsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_llm_rounds_total",
			Help: "Total chat completion rounds in the tool loop",
		},
	)

	// RAG metrics
	ChunksIngested = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "burrow_chunks_ingested_total",
			Help: "Total chunks embedded and stored",
		},
	)
)

// Tool call outcomes
const (
	OutcomeOK     = "ok"
	OutcomeError  = "error"
	OutcomeDenied = "denied"
)
