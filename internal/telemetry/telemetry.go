// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package telemetry exposes the agent's own operational metrics
// (decode/inspection/forward counters, rate limiter state) on a
// prometheus registry, grounded on the prometheus/client_golang
// CounterVec/GaugeVec/Registry idiom used across the example pack.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the agent's counters and gauges. cmd/cc-edge-agent
// serves Registry on /metrics; no component increments or sets these
// metrics.
type Metrics struct {
	Registry *prometheus.Registry

	SignalsDecoded   *prometheus.CounterVec
	DecodeErrors     *prometheus.CounterVec
	ConditionsFired  *prometheus.CounterVec
	RecordsAppended  *prometheus.CounterVec
	RecordsEvicted   *prometheus.CounterVec
	UploadsAttempted *prometheus.CounterVec
	UploadErrors     *prometheus.CounterVec
	RateLimiterDrops prometheus.Counter

	TokensAvailable prometheus.Gauge
	PartitionsOpen  prometheus.Gauge
}

// New registers every metric against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		SignalsDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "decoder",
			Name:      "signals_decoded_total",
			Help:      "Number of signals successfully decoded, by protocol.",
		}, []string{"protocol"}),
		DecodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "decoder",
			Name:      "decode_errors_total",
			Help:      "Number of decode failures, by protocol and reason.",
		}, []string{"protocol", "reason"}),
		ConditionsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "inspection",
			Name:      "conditions_fired_total",
			Help:      "Number of trigger conditions that evaluated true, by campaign.",
		}, []string{"campaign"}),
		RecordsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "stream",
			Name:      "records_appended_total",
			Help:      "Number of records appended to a partition stream.",
		}, []string{"campaign"}),
		RecordsEvicted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "stream",
			Name:      "records_evicted_total",
			Help:      "Number of records dropped by partition-size eviction.",
		}, []string{"campaign"}),
		UploadsAttempted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "sender",
			Name:      "uploads_attempted_total",
			Help:      "Number of upload attempts, by transport.",
		}, []string{"transport"}),
		UploadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Subsystem: "sender",
			Name:      "upload_errors_total",
			Help:      "Number of failed uploads, by transport and connectivity error.",
		}, []string{"transport", "error"}),
		RateLimiterDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Subsystem: "forwarder",
			Name:      "rate_limiter_drops_total",
			Help:      "Number of forward cycles skipped because no token was available.",
		}),
		TokensAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "forwarder",
			Name:      "rate_limiter_tokens_available",
			Help:      "Tokens currently available in the forwarder's rate limiter bucket.",
		}),
		PartitionsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Subsystem: "stream",
			Name:      "partitions_open",
			Help:      "Number of partition streams currently open.",
		}),
	}

	reg.MustRegister(
		m.SignalsDecoded,
		m.DecodeErrors,
		m.ConditionsFired,
		m.RecordsAppended,
		m.RecordsEvicted,
		m.UploadsAttempted,
		m.UploadErrors,
		m.RateLimiterDrops,
		m.TokensAvailable,
		m.PartitionsOpen,
	)

	return m
}
