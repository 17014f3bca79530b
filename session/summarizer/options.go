//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package summarizer

import (
	"time"

	"github.com/deeptutor/memory-go/model"
)

// Option configures the session summarizer.
type Option func(*sessionSummarizer)

// WithRoundThreshold adds a round-count trigger. Multiple trigger options
// compose with AND semantics; use WithChecksAny for OR.
func WithRoundThreshold(rounds int) Option {
	return func(s *sessionSummarizer) {
		s.checks = append(s.checks, CheckRoundThreshold(rounds))
	}
}

// WithTokenThreshold adds a pending-token trigger.
func WithTokenThreshold(tokenCount int) Option {
	return func(s *sessionSummarizer) {
		s.checks = append(s.checks, CheckTokenThreshold(tokenCount))
	}
}

// WithTimeThreshold adds an idle-time trigger.
func WithTimeThreshold(interval time.Duration) Option {
	return func(s *sessionSummarizer) {
		s.checks = append(s.checks, CheckTimeThreshold(interval))
	}
}

// WithChecksAll replaces the trigger policy with the AND of the given checks.
func WithChecksAll(checks []Checker) Option {
	return func(s *sessionSummarizer) {
		s.checks = []Checker{ChecksAll(checks)}
	}
}

// WithChecksAny replaces the trigger policy with the OR of the given checks.
func WithChecksAny(checks []Checker) Option {
	return func(s *sessionSummarizer) {
		s.checks = []Checker{ChecksAny(checks)}
	}
}

// WithKeepRecent sets how many raw messages survive compaction. Zero keeps
// none; negative values are treated as zero.
func WithKeepRecent(keep int) Option {
	return func(s *sessionSummarizer) {
		if keep < 0 {
			keep = 0
		}
		s.keepRecent = keep
	}
}

// WithTimeout bounds one generation call. Zero disables the bound.
func WithTimeout(timeout time.Duration) Option {
	return func(s *sessionSummarizer) {
		s.timeout = timeout
	}
}

// WithTokenCounter replaces the coarse built-in estimator used for the
// compression diagnostics, e.g. with a tiktoken-based counter.
func WithTokenCounter(counter model.TokenCounter) Option {
	return func(s *sessionSummarizer) {
		if counter != nil {
			s.counter = counter
		}
	}
}
