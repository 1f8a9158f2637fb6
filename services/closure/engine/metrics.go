// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianClosure/services/closure/partition"
)

var (
	tracer = otel.Tracer("aleutian.closure.engine")
	meter  = otel.Meter("aleutian.closure.engine")
)

var (
	passLatency      metric.Float64Histogram
	residencyLatency metric.Float64Histogram
	residencyTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var (
	passesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "engine",
		Name:      "passes_total",
		Help:      "Fixpoint passes completed",
	})

	newEdgesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "engine",
		Name:      "new_edges_total",
		Help:      "Edges derived by kernels",
	})

	// chunkFailures counts chunk tasks whose kernel failed.
	// Labels: mode (skip, fail)
	chunkFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "engine",
		Name:      "failed_chunks_total",
		Help:      "Chunk tasks whose kernel returned an error or panicked",
	}, []string{"mode"})

	pairsScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "runner",
		Name:      "pairs_total",
		Help:      "Partition sets scheduled and loaded",
	})

	residentVertices = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "closure",
		Subsystem: "runner",
		Name:      "resident_vertices",
		Help:      "Vertices in the current residency",
	})
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		passLatency, err = meter.Float64Histogram(
			"closure_engine_pass_duration_seconds",
			metric.WithDescription("Duration of fixpoint passes"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		residencyLatency, err = meter.Float64Histogram(
			"closure_engine_residency_duration_seconds",
			metric.WithDescription("Time from load to convergence of a residency"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		residencyTotal, err = meter.Int64Counter(
			"closure_engine_residency_total",
			metric.WithDescription("Total number of residencies computed"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordPassMetrics(ctx context.Context, ps PassStats) {
	passesTotal.Inc()
	newEdgesTotal.Add(float64(ps.NewEdges))
	if err := initMetrics(); err != nil {
		return
	}
	passLatency.Record(ctx, ps.Duration.Seconds(),
		metric.WithAttributes(attribute.Bool("productive", ps.NewEdges > 0)))
}

func recordResidencyMetrics(ctx context.Context, stats *Stats, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	residencyLatency.Record(ctx, stats.Duration.Seconds(), attrs)
	residencyTotal.Add(ctx, 1, attrs)
}

func startResidencySpan(ctx context.Context, res *partition.Residency) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.ComputeToFixpoint",
		trace.WithAttributes(
			attribute.IntSlice("partition.ids", res.Partitions),
			attribute.Int("partition.vertices", res.Len()),
		),
	)
}

func startPassSpan(ctx context.Context, pass, chunks int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Engine.pass",
		trace.WithAttributes(
			attribute.Int("pass", pass),
			attribute.Int("chunks", chunks),
		),
	)
}

func startRunSpan(ctx context.Context, runID string, numParts int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Runner.Run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.Int("run.partitions", numParts),
		),
	)
}
