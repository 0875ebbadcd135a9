// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for flow and request metrics.
const (
	OutcomeOK        = "ok"
	OutcomeCacheHit  = "cache_hit"
	OutcomeExchanged = "exchanged"
	OutcomeMiss      = "miss"
	OutcomeError     = "error"
)

// FlowStageTotal counts credential-chain stage executions by stage and
// outcome. Use RegisterMetrics to register this with a Prometheus registry.
var FlowStageTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "yggdrasil_flow_stage_total",
		Help: "Total number of credential chain stage executions",
	},
	[]string{"stage", "outcome"},
)

// RequestsTotal counts outbound HTTP requests by method and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var RequestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "yggdrasil_requests_total",
		Help: "Total number of outbound HTTP requests",
	},
	[]string{"method", "outcome"},
)

// CacheOpsTotal counts token cache document operations by op and outcome.
// Use RegisterMetrics to register this with a Prometheus registry.
var CacheOpsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "yggdrasil_cache_ops_total",
		Help: "Total number of token cache document operations",
	},
	[]string{"op", "outcome"},
)

// RecordStage increments the chain-stage counter.
func RecordStage(stage, outcome string) {
	FlowStageTotal.WithLabelValues(stage, outcome).Inc()
}

// RecordRequest increments the outbound request counter.
func RecordRequest(method, outcome string) {
	RequestsTotal.WithLabelValues(method, outcome).Inc()
}

// RecordCacheOp increments the cache operation counter.
func RecordCacheOp(op, outcome string) {
	CacheOpsTotal.WithLabelValues(op, outcome).Inc()
}

// RegisterMetrics registers yggdrasil metrics with the given Prometheus
// registry. Panics on duplicate registration (prometheus convention).
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(FlowStageTotal)
	reg.MustRegister(RequestsTotal)
	reg.MustRegister(CacheOpsTotal)
}
