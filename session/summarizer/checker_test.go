//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package summarizer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
)

func sessionWithCounters(messageCount, tokenCount, lastCount, lastTokens int) *session.Session {
	return &session.Session{
		ID:                "sess",
		UserID:            "user",
		MessageCount:      messageCount,
		TokenCount:        tokenCount,
		LastSummaryCount:  lastCount,
		LastSummaryTokens: lastTokens,
	}
}

func TestCheckRoundThreshold(t *testing.T) {
	tests := []struct {
		name     string
		rounds   int
		sess     *session.Session
		expected bool
	}{
		{
			name:     "below threshold",
			rounds:   10,
			sess:     sessionWithCounters(19, 100, 0, 0),
			expected: false,
		},
		{
			name:     "at threshold",
			rounds:   10,
			sess:     sessionWithCounters(20, 100, 0, 0),
			expected: true,
		},
		{
			name:     "pending counts reset after pass",
			rounds:   10,
			sess:     sessionWithCounters(25, 100, 20, 80),
			expected: false,
		},
		{
			name:     "pending crosses threshold after pass",
			rounds:   2,
			sess:     sessionWithCounters(25, 100, 20, 80),
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := CheckRoundThreshold(tt.rounds)
			assert.Equal(t, tt.expected, check(tt.sess))
		})
	}
}

func TestCheckTokenThreshold(t *testing.T) {
	tests := []struct {
		name     string
		tokens   int
		sess     *session.Session
		expected bool
	}{
		{
			name:     "below threshold",
			tokens:   4000,
			sess:     sessionWithCounters(4, 3999, 0, 0),
			expected: false,
		},
		{
			name:     "at threshold",
			tokens:   4000,
			sess:     sessionWithCounters(4, 4000, 0, 0),
			expected: true,
		},
		{
			name:     "no pending messages never fires",
			tokens:   100,
			sess:     sessionWithCounters(10, 5000, 10, 5000),
			expected: false,
		},
		{
			name:     "only uncovered tokens count",
			tokens:   4000,
			sess:     sessionWithCounters(12, 5000, 10, 4500),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := CheckTokenThreshold(tt.tokens)
			assert.Equal(t, tt.expected, check(tt.sess))
		})
	}
}

func TestCheckTimeThreshold(t *testing.T) {
	old := model.NewUserMessage("old question")
	old.Timestamp = time.Now().Add(-time.Hour)
	fresh := model.NewUserMessage("fresh question")
	fresh.Timestamp = time.Now()

	stale := sessionWithCounters(1, 10, 0, 0)
	stale.Messages = []model.Message{old}
	recent := sessionWithCounters(1, 10, 0, 0)
	recent.Messages = []model.Message{fresh}
	covered := sessionWithCounters(1, 10, 1, 10)
	covered.Messages = []model.Message{old}

	check := CheckTimeThreshold(30 * time.Minute)
	assert.True(t, check(stale))
	assert.False(t, check(recent))
	assert.False(t, check(covered), "covered sessions never re-fire on idle time")
}

func TestChecksComposition(t *testing.T) {
	yes := Checker(func(*session.Session) bool { return true })
	no := Checker(func(*session.Session) bool { return false })
	sess := sessionWithCounters(1, 1, 0, 0)

	assert.True(t, ChecksAll([]Checker{yes, yes})(sess))
	assert.False(t, ChecksAll([]Checker{yes, no})(sess))
	assert.True(t, ChecksAny([]Checker{no, yes})(sess))
	assert.False(t, ChecksAny([]Checker{no, no})(sess))
	assert.True(t, ChecksAll(nil)(sess))
	assert.False(t, ChecksAny(nil)(sess))
}
