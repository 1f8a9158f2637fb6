// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package partition

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("aleutian.closure.partition")
	meter  = otel.Meter("aleutian.closure.partition")
)

var (
	loadLatency metric.Float64Histogram
	loadTotal   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

var (
	// loadedVertices counts vertices brought into memory.
	loadedVertices = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "loader",
		Name:      "vertices_total",
		Help:      "Vertices loaded into memory",
	})

	// loadedEdges counts on-disk edges brought into memory.
	loadedEdges = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "loader",
		Name:      "edges_total",
		Help:      "On-disk edges loaded into memory",
	})

	// truncatedRecords counts edge files that ended mid-record.
	// Labels: reason
	truncatedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "closure",
		Subsystem: "loader",
		Name:      "truncated_records_total",
		Help:      "Edge file reads stopped by a cut-off or malformed record",
	}, []string{"reason"})
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		loadLatency, err = meter.Float64Histogram(
			"closure_partition_load_duration_seconds",
			metric.WithDescription("Duration of partition loads"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		loadTotal, err = meter.Int64Counter(
			"closure_partition_load_total",
			metric.WithDescription("Total number of partition loads"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordLoadMetrics(ctx context.Context, duration time.Duration, vertices, numEdges int, success bool) {
	if success {
		loadedVertices.Add(float64(vertices))
		loadedEdges.Add(float64(numEdges))
	}
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	loadLatency.Record(ctx, duration.Seconds(), attrs)
	loadTotal.Add(ctx, 1, attrs)
}

func startLoadSpan(ctx context.Context, ids []int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "Loader.Load",
		trace.WithAttributes(
			attribute.IntSlice("partition.ids", ids),
		),
	)
}
