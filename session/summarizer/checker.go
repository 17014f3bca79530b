//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package summarizer

import (
	"time"

	"github.com/deeptutor/memory-go/session"
)

// Checker defines a function type for checking if summarization is needed.
// A Checker inspects the provided session and returns true when a
// summarization pass should be triggered based on its own criterion.
// Multiple checkers can be composed using ChecksAll (AND) or ChecksAny (OR).
// All checkers operate on the counters accumulated since the last successful
// pass, so re-evaluating without new messages never re-fires.
type Checker func(sess *session.Session) bool

// messagesPerRound is the number of messages in one conversation round
// (one user turn plus one assistant turn).
const messagesPerRound = 2

// CheckRoundThreshold creates a checker that triggers when the number of
// conversation rounds since the last pass reaches the threshold.
// Example: CheckRoundThreshold(10) triggers once 20 uncovered messages exist.
func CheckRoundThreshold(rounds int) Checker {
	return func(sess *session.Session) bool {
		return sess.PendingMessages() >= rounds*messagesPerRound
	}
}

// CheckTokenThreshold creates a checker that triggers when the estimated
// token count accumulated since the last pass reaches the threshold.
// The estimate comes from the buffer's token counter and is never recomputed
// for already-counted messages.
func CheckTokenThreshold(tokenCount int) Checker {
	return func(sess *session.Session) bool {
		if sess.PendingMessages() == 0 {
			return false
		}
		return sess.PendingTokens() >= tokenCount
	}
}

// CheckTimeThreshold creates a checker that triggers when the time elapsed
// since the last appended message exceeds the given interval. Useful to make
// sure idle long-running sessions still get compacted.
func CheckTimeThreshold(interval time.Duration) Checker {
	return func(sess *session.Session) bool {
		if sess.PendingMessages() == 0 {
			return false
		}
		messages := sess.GetMessages()
		if len(messages) == 0 {
			return false
		}
		last := messages[len(messages)-1]
		return time.Since(last.Timestamp) > interval
	}
}

// ChecksAll composes multiple checkers using AND logic.
func ChecksAll(checks []Checker) Checker {
	return func(sess *session.Session) bool {
		for _, check := range checks {
			if !check(sess) {
				return false
			}
		}
		return true
	}
}

// ChecksAny composes multiple checkers using OR logic.
func ChecksAny(checks []Checker) Checker {
	return func(sess *session.Session) bool {
		for _, check := range checks {
			if check(sess) {
				return true
			}
		}
		return false
	}
}
