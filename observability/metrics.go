// Copyright (C) 2025 IM Chat
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the chat pipeline.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

// Namespace for all metrics
const metricsNamespace = "imchat"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for the chat pipeline.
//
// # Fields
//
//   - RequestsTotal: Counter of pipeline runs by modality and status
//   - StageDurationSeconds: Histogram of per-stage latency
//   - FallbacksTotal: Counter of pipeline failures that fell back to direct completion
//   - FactsStoredTotal: Counter of extracted facts persisted
//   - ActiveBackgroundTasks: Gauge of in-flight background pipeline runs
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts pipeline runs by modality and status.
	// Labels: modality (text, audio, image), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// StageDurationSeconds measures per-stage latency.
	// Labels: stage (rewrite, extract, retrieve, completion, ...)
	StageDurationSeconds *prometheus.HistogramVec

	// FallbacksTotal counts pipeline failures that fell back to a direct
	// completion. Labels: modality
	FallbacksTotal *prometheus.CounterVec

	// FactsStoredTotal counts extracted facts persisted to the vector store.
	FactsStoredTotal prometheus.Counter

	// ActiveBackgroundTasks tracks in-flight background pipeline runs
	// spawned by the fast text path.
	ActiveBackgroundTasks prometheus.Gauge
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of pipeline runs by modality and status",
			},
			[]string{"modality", "status"},
		),

		StageDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "stage_duration_seconds",
				Help:      "Latency of individual pipeline stages in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"stage"},
		),

		FallbacksTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "fallbacks_total",
				Help:      "Pipeline failures that fell back to direct completion",
			},
			[]string{"modality"},
		),

		FactsStoredTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "facts_stored_total",
				Help:      "Extracted facts persisted to the vector store",
			},
		),

		ActiveBackgroundTasks: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_background_tasks",
				Help:      "In-flight background pipeline runs",
			},
		),
	}
	return DefaultMetrics
}

// ObserveStage records a stage duration if metrics are initialized.
func ObserveStage(stage string, seconds float64) {
	if DefaultMetrics != nil {
		DefaultMetrics.StageDurationSeconds.WithLabelValues(stage).Observe(seconds)
	}
}

// RecordRequest records a pipeline run outcome if metrics are initialized.
func RecordRequest(modality, status string) {
	if DefaultMetrics != nil {
		DefaultMetrics.RequestsTotal.WithLabelValues(modality, status).Inc()
	}
}

// RecordFallback records a direct-completion fallback if metrics are initialized.
func RecordFallback(modality string) {
	if DefaultMetrics != nil {
		DefaultMetrics.FallbacksTotal.WithLabelValues(modality).Inc()
	}
}

// RecordFactStored increments the stored-fact counter if metrics are initialized.
func RecordFactStored() {
	if DefaultMetrics != nil {
		DefaultMetrics.FactsStoredTotal.Inc()
	}
}
