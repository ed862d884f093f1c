// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics exposes the PSC pipeline's progress pointers and task
// outcomes as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LastValidBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_producer_last_valid_block",
		Help: "Highest L2 block number produced locally",
	})

	LastSubmittedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_producer_last_submitted_block",
		Help: "Highest L2 block number with a submission transaction sent to L1",
	})

	LastConfirmedBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_producer_last_confirmed_block",
		Help: "Highest L2 block number confirmed on L1",
	})

	SubmitAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_producer_submit_attempts_total",
		Help: "Total submit task attempts by outcome",
	}, []string{"outcome"})

	ConfirmOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rollup_producer_confirm_outcomes_total",
		Help: "Total confirm task terminations by outcome",
	}, []string{"outcome"})

	LocalCellsLocked = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_producer_local_cells_locked",
		Help: "Number of out-points currently held in the Local-Cell Manager's Locked set",
	})

	LocalCellsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rollup_producer_local_cells_in_flight",
		Help: "Number of out-points currently held in the Local-Cell Manager's In-flight set",
	})

	MedianWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rollup_producer_median_wait_seconds",
		Help:    "Time spent waiting for L1 median-time-past to clear a submission's since value",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Outcome labels shared by SubmitAttemptsTotal and ConfirmOutcomesTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)
