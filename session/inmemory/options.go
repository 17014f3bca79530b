//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package inmemory

import (
	"context"
	"time"

	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
	"github.com/deeptutor/memory-go/session/summarizer"
)

const (
	defaultAsyncSummaryNum   = 3
	defaultSummaryQueueSize  = 100
	defaultSummaryJobTimeout = 30 * time.Second
)

// SummaryHook is invoked after every successful summarization pass with a
// copy of the stored summary. The profile service registers one to ingest
// summaries into the durable user profile.
type SummaryHook func(ctx context.Context, sum *session.Summary)

// serviceOpts is the options for the in-memory session service.
type serviceOpts struct {
	summarizer        summarizer.SessionSummarizer
	counter           model.TokenCounter
	asyncSummaryNum   int
	summaryQueueSize  int
	summaryJobTimeout time.Duration
	summaryHook       SummaryHook
	summaryStore      session.SummaryStore
}

// ServiceOpt is the option for the in-memory session service.
type ServiceOpt func(*serviceOpts)

// WithSummarizer sets the summarizer used for summarization passes. Without
// one, Summarize and EnqueueSummaryJob return an error and ShouldSummarize
// reports false.
func WithSummarizer(sum summarizer.SessionSummarizer) ServiceOpt {
	return func(opts *serviceOpts) {
		opts.summarizer = sum
	}
}

// WithTokenCounter sets the counter used to estimate appended message tokens.
// Defaults to the coarse length-based estimator.
func WithTokenCounter(counter model.TokenCounter) ServiceOpt {
	return func(opts *serviceOpts) {
		if counter != nil {
			opts.counter = counter
		}
	}
}

// WithAsyncSummaryNum sets the number of async summary workers. Zero disables
// async processing entirely; EnqueueSummaryJob then always runs inline.
func WithAsyncSummaryNum(num int) ServiceOpt {
	return func(opts *serviceOpts) {
		if num >= 0 {
			opts.asyncSummaryNum = num
		}
	}
}

// WithSummaryQueueSize sets the per-worker job queue size.
func WithSummaryQueueSize(size int) ServiceOpt {
	return func(opts *serviceOpts) {
		if size > 0 {
			opts.summaryQueueSize = size
		}
	}
}

// WithSummaryJobTimeout bounds one async summarization job.
func WithSummaryJobTimeout(timeout time.Duration) ServiceOpt {
	return func(opts *serviceOpts) {
		if timeout > 0 {
			opts.summaryJobTimeout = timeout
		}
	}
}

// WithSummaryHook registers a hook called after each successful pass.
func WithSummaryHook(hook SummaryHook) ServiceOpt {
	return func(opts *serviceOpts) {
		opts.summaryHook = hook
	}
}

// WithSummaryStore writes summaries through to a persistent store. Reads are
// served from memory first and fall back to the store, so summaries survive
// restarts while hot sessions stay cheap.
func WithSummaryStore(store session.SummaryStore) ServiceOpt {
	return func(opts *serviceOpts) {
		opts.summaryStore = store
	}
}
