// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics and instrumentation for the
// Gridlock session engine.
//
// # Description
//
// This package implements Prometheus metrics for monitoring the write-back
// session cache and the realtime fabric. Metrics include:
//   - Cache behavior (hits, misses, evictions, size)
//   - Save scheduler outcomes (flushes by result, coalesced schedules)
//   - Reconciliation merges and word claims
//   - Realtime room occupancy and broadcast volume
//
// # Integration
//
// Metrics are exposed via /metrics endpoint. Use with Prometheus + Grafana
// for dashboards and alerting.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "gridlock"

// Subsystem for session engine metrics
const sessionSubsystem = "session"

// SessionMetrics holds all Prometheus metrics for the session engine.
//
// # Description
//
// Provides counters and gauges for monitoring the cache, the save
// scheduler, reconciliation, and the realtime hub. Initialize once at
// startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type SessionMetrics struct {
	// CacheOpsTotal counts cache lookups by outcome.
	// Labels: outcome (hit, miss)
	CacheOpsTotal *prometheus.CounterVec

	// CacheEvictionsTotal counts entries removed by LRU cleanup.
	CacheEvictionsTotal prometheus.Counter

	// CacheSize tracks the current number of cached sessions.
	CacheSize prometheus.Gauge

	// SavesTotal counts debounced flush attempts by outcome.
	// Labels: outcome (success, error, skipped)
	SavesTotal *prometheus.CounterVec

	// SavesCoalescedTotal counts schedule calls absorbed by an armed timer.
	SavesCoalescedTotal prometheus.Counter

	// DirtyPending tracks cache entries awaiting a durable flush. A value
	// that stays high after save errors is the retry-gap signal.
	DirtyPending prometheus.Gauge

	// MergesTotal counts reconciliation outcomes.
	// Labels: outcome (reassigned, merged, skipped, error)
	MergesTotal *prometheus.CounterVec

	// WordClaimsTotal counts attribution claims by result.
	// Labels: result (granted, duplicate, rejected)
	WordClaimsTotal *prometheus.CounterVec

	// BroadcastsTotal counts realtime messages fanned out by type.
	// Labels: type (cell_updated, state_replaced, word_claimed)
	BroadcastsTotal *prometheus.CounterVec

	// RoomClients tracks currently connected websocket clients.
	RoomClients prometheus.Gauge

	// ClientDisconnectsTotal counts forced disconnects by reason.
	// Labels: reason (slow_consumer, rate_limited, read_error)
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance of SessionMetrics.
// Initialized by InitMetrics(). Nil until then; callers must nil-check.
var DefaultMetrics *SessionMetrics

var initOnce sync.Once

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics on the default registry.
// Idempotent; repeat calls return the existing instance.
//
// # Outputs
//
//   - *SessionMetrics: The initialized metrics instance.
func InitMetrics() *SessionMetrics {
	initOnce.Do(func() {
		DefaultMetrics = &SessionMetrics{
			CacheOpsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "cache_ops_total",
					Help:      "Total cache lookups by outcome",
				},
				[]string{"outcome"},
			),

			CacheEvictionsTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "cache_evictions_total",
					Help:      "Total entries removed by LRU cleanup",
				},
			),

			CacheSize: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "cache_size",
					Help:      "Current number of cached sessions",
				},
			),

			SavesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "saves_total",
					Help:      "Total debounced flush attempts by outcome",
				},
				[]string{"outcome"},
			),

			SavesCoalescedTotal: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "saves_coalesced_total",
					Help:      "Schedule calls absorbed by an already-armed debounce timer",
				},
			),

			DirtyPending: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "dirty_pending",
					Help:      "Cache entries with unflushed edits",
				},
			),

			MergesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "merges_total",
					Help:      "Reconciliation outcomes per candidate session",
				},
				[]string{"outcome"},
			),

			WordClaimsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "word_claims_total",
					Help:      "Attribution claims by result",
				},
				[]string{"result"},
			),

			BroadcastsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "broadcasts_total",
					Help:      "Realtime messages fanned out by type",
				},
				[]string{"type"},
			),

			RoomClients: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "room_clients",
					Help:      "Currently connected websocket clients",
				},
			),

			ClientDisconnectsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Subsystem: sessionSubsystem,
					Name:      "client_disconnects_total",
					Help:      "Forced websocket disconnects by reason",
				},
				[]string{"reason"},
			),
		}
	})
	return DefaultMetrics
}
