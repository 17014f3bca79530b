//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	noopm "go.opentelemetry.io/otel/metric/noop"

	"github.com/deeptutor/memory-go/log"
)

// Domain counters. They are backed by the no-op meter until Start installs a
// real meter provider, so call sites never need to nil-check.
var (
	summariesGenerated metric.Int64Counter = noopm.Int64Counter{}
	summariesFailed    metric.Int64Counter = noopm.Int64Counter{}
	contextAssemblies  metric.Int64Counter = noopm.Int64Counter{}
	contextCacheHits   metric.Int64Counter = noopm.Int64Counter{}
)

func initMetrics() {
	var err error
	if summariesGenerated, err = Meter.Int64Counter(
		"memory.summaries.generated",
		metric.WithDescription("Number of session summaries generated"),
	); err != nil {
		log.Warnf("telemetry: create counter failed: %v", err)
		summariesGenerated = noopm.Int64Counter{}
	}
	if summariesFailed, err = Meter.Int64Counter(
		"memory.summaries.failed",
		metric.WithDescription("Number of summarization passes that fell back to the previous summary"),
	); err != nil {
		log.Warnf("telemetry: create counter failed: %v", err)
		summariesFailed = noopm.Int64Counter{}
	}
	if contextAssemblies, err = Meter.Int64Counter(
		"memory.context.assemblies",
		metric.WithDescription("Number of context blocks assembled"),
	); err != nil {
		log.Warnf("telemetry: create counter failed: %v", err)
		contextAssemblies = noopm.Int64Counter{}
	}
	if contextCacheHits, err = Meter.Int64Counter(
		"memory.context.cache_hits",
		metric.WithDescription("Number of context assemblies served from cache"),
	); err != nil {
		log.Warnf("telemetry: create counter failed: %v", err)
		contextCacheHits = noopm.Int64Counter{}
	}
}

// RecordSummaryGenerated counts one successful summarization pass.
func RecordSummaryGenerated(ctx context.Context) {
	summariesGenerated.Add(ctx, 1)
}

// RecordSummaryFailed counts one summarization pass that exhausted retries.
func RecordSummaryFailed(ctx context.Context) {
	summariesFailed.Add(ctx, 1)
}

// RecordContextAssembly counts one context assembly.
func RecordContextAssembly(ctx context.Context) {
	contextAssemblies.Add(ctx, 1)
}

// RecordContextCacheHit counts one context assembly served from cache.
func RecordContextCacheHit(ctx context.Context) {
	contextCacheHits.Add(ctx, 1)
}
