// Package metrics exposes Prometheus collectors for the nudge engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NudgesGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referlane_nudges_generated_total",
			Help: "Nudge candidates generated, by rule",
		},
		[]string{"rule"},
	)

	EnrichmentCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referlane_enrichment_calls_total",
			Help: "Budget-bounded cache lookups, by outcome (hit, coalesced, produced, budget_exceeded, error)",
		},
		[]string{"outcome"},
	)

	InteractionsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "referlane_interactions_recorded_total",
			Help: "Nudge interactions appended, by action",
		},
		[]string{"action"},
	)

	DailySpendUSD = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "referlane_budget_daily_spend_usd",
			Help: "Enrichment spend in the current UTC day window",
		},
	)
)
