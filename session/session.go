//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package session provides the conversation buffer and session summary types
// for the tutoring memory service, together with the Service interface all
// session backends implement.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/deeptutor/memory-go/model"
)

var (
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
	// ErrSessionNotFound is returned when the session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSummaryNotFound is returned when no summary exists for the session.
	ErrSummaryNotFound = errors.New("session summary not found")
	// ErrNothingToSummarize is returned when a summarization is requested for
	// a session that has no messages at all.
	ErrNothingToSummarize = errors.New("no messages to summarize")
)

// Session is one tutoring conversation. The message slice is the live
// conversation buffer: successful summarization passes compact it down to the
// retained tail, while MessageCount and TokenCount keep growing monotonically
// for the whole lifetime of the session.
type Session struct {
	ID     string `json:"id"`     // ID is the session id.
	UserID string `json:"userID"` // UserID is the owning user.

	// Messages is the live buffer. Compacted on successful summarization.
	Messages []model.Message `json:"messages"`
	// MessageCount counts every message ever appended, including compacted ones.
	MessageCount int `json:"messageCount"`
	// TokenCount is the monotonic estimated token total for appended messages.
	// Already-counted messages are never recounted.
	TokenCount int `json:"tokenCount"`

	// LastSummaryCount is the MessageCount covered by the last successful
	// summarization pass. Zero when the session has never been summarized.
	LastSummaryCount int `json:"lastSummaryCount"`
	// LastSummaryTokens is the TokenCount covered by the last successful pass.
	LastSummaryTokens int `json:"lastSummaryTokens"`

	MsgMu     sync.RWMutex `json:"-"` // MsgMu guards Messages and the counters.
	UpdatedAt time.Time    `json:"updatedAt"`
	CreatedAt time.Time    `json:"createdAt"`
}

// GetMessages returns a copy of the live buffer.
func (sess *Session) GetMessages() []model.Message {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	messagesCopy := make([]model.Message, len(sess.Messages))
	copy(messagesCopy, sess.Messages)
	return messagesCopy
}

// GetMessageCount returns the cumulative message count.
func (sess *Session) GetMessageCount() int {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	return sess.MessageCount
}

// GetTokenCount returns the cumulative estimated token count.
func (sess *Session) GetTokenCount() int {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	return sess.TokenCount
}

// PendingMessages returns how many appended messages are not yet covered by a
// summarization pass.
func (sess *Session) PendingMessages() int {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	return sess.MessageCount - sess.LastSummaryCount
}

// PendingTokens returns the estimated tokens not yet covered by a
// summarization pass.
func (sess *Session) PendingTokens() int {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	return sess.TokenCount - sess.LastSummaryTokens
}

// Snapshot returns a copy of the session taken under the buffer lock. The
// copy is detached from the live buffer and safe to serialize while other
// requests keep appending.
func (sess *Session) Snapshot() *Session {
	sess.MsgMu.RLock()
	defer sess.MsgMu.RUnlock()

	messagesCopy := make([]model.Message, len(sess.Messages))
	copy(messagesCopy, sess.Messages)
	return &Session{
		ID:                sess.ID,
		UserID:            sess.UserID,
		Messages:          messagesCopy,
		MessageCount:      sess.MessageCount,
		TokenCount:        sess.TokenCount,
		LastSummaryCount:  sess.LastSummaryCount,
		LastSummaryTokens: sess.LastSummaryTokens,
		UpdatedAt:         sess.UpdatedAt,
		CreatedAt:         sess.CreatedAt,
	}
}

// PreferenceSignals are style preferences inferred from a single session.
// They are advisory input for the durable profile preferences, not the
// durable value itself. Pointer fields distinguish "not observed" from an
// explicit false.
type PreferenceSignals struct {
	LearningStyle        string `json:"learning_style,omitempty"`
	DifficultyPreference string `json:"difficulty_preference,omitempty"`
	Language             string `json:"language,omitempty"`
	ResponseFormat       string `json:"response_format,omitempty"`
	IncludeCode          *bool  `json:"include_code,omitempty"`
	IncludeMath          *bool  `json:"include_math,omitempty"`
}

// WeakPoint is a confusion signal detected within one session. The profile
// store merges these into the durable knowledge graph; the copy kept on the
// summary is a session-local observation, not a source of truth.
type WeakPoint struct {
	Concept        string `json:"concept"`
	ConfusionScore int    `json:"confusion_score"`
	Subject        string `json:"subject,omitempty"`
	Topic          string `json:"topic,omitempty"`
}

// Quality is advisory diagnostic metadata about a summarization pass. It is
// never consulted by downstream logic.
type Quality struct {
	// CompressionRatio is saved-tokens over replaced-tokens, in [0,1].
	CompressionRatio float64   `json:"compression_ratio"`
	GeneratedBy      string    `json:"generated_by"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// Summary is the structured compression of a session's conversation. At most
// one live summary exists per session id; subsequent passes update it in
// place rather than appending.
type Summary struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`

	// CoreTopic is non-empty once a summary exists.
	CoreTopic string `json:"core_topic"`
	// KeyPoints are ordered most-salient-first.
	KeyPoints []string `json:"key_points"`
	// ResolvedQuestions is sticky: once a question is listed here a later
	// pass never demotes it back to unresolved.
	ResolvedQuestions   []string `json:"resolved_questions"`
	UnresolvedQuestions []string `json:"unresolved_questions"`

	Preferences PreferenceSignals `json:"user_preferences"`
	WeakPoints  []WeakPoint       `json:"weak_points"`

	Subject    string `json:"subject,omitempty"`
	Topic      string `json:"topic,omitempty"`
	Difficulty string `json:"difficulty,omitempty"`

	// RecentMessages is the verbatim tail of the conversation at the time of
	// the pass, capped at the configured retention (default 5).
	RecentMessages []model.Message `json:"recent_messages"`
	// MessageCount and TokenCount mirror the session's cumulative counters
	// at the time of the pass.
	MessageCount int `json:"message_count"`
	TokenCount   int `json:"token_count"`

	Quality   Quality   `json:"summary_quality"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy so callers can hand summaries across goroutines.
func (s *Summary) Clone() *Summary {
	if s == nil {
		return nil
	}
	out := *s
	out.KeyPoints = append([]string(nil), s.KeyPoints...)
	out.ResolvedQuestions = append([]string(nil), s.ResolvedQuestions...)
	out.UnresolvedQuestions = append([]string(nil), s.UnresolvedQuestions...)
	out.WeakPoints = append([]WeakPoint(nil), s.WeakPoints...)
	out.RecentMessages = append([]model.Message(nil), s.RecentMessages...)
	return &out
}

// Key is the key for a session.
type Key struct {
	UserID    string // user id
	SessionID string // session id
}

// CheckSessionKey checks if a session key is valid.
func (k *Key) CheckSessionKey() error {
	if k.UserID == "" {
		return ErrUserIDRequired
	}
	if k.SessionID == "" {
		return ErrSessionIDRequired
	}
	return nil
}

// UserKey is the key for a user.
type UserKey struct {
	UserID string // user id
}

// CheckUserKey checks if a user key is valid.
func (k *UserKey) CheckUserKey() error {
	if k.UserID == "" {
		return ErrUserIDRequired
	}
	return nil
}

// ListOptions filters ListSummaries results.
type ListOptions struct {
	// Since drops summaries created before this time. Zero means no cutoff.
	Since time.Time
	// Limit caps the number of returned summaries. Zero means no cap.
	Limit int
	// Subject, Topic, Difficulty filter on the summary tag fields when
	// non-empty.
	Subject    string
	Topic      string
	Difficulty string
}

// ListOption configures ListOptions.
type ListOption func(*ListOptions)

// WithSince keeps only summaries created at or after t.
func WithSince(t time.Time) ListOption {
	return func(o *ListOptions) { o.Since = t }
}

// WithLimit caps the number of returned summaries.
func WithLimit(limit int) ListOption {
	return func(o *ListOptions) { o.Limit = limit }
}

// WithSubject filters by subject tag.
func WithSubject(subject string) ListOption {
	return func(o *ListOptions) { o.Subject = subject }
}

// WithTopic filters by topic tag.
func WithTopic(topic string) ListOption {
	return func(o *ListOptions) { o.Topic = topic }
}

// WithDifficulty filters by difficulty tag.
func WithDifficulty(difficulty string) ListOption {
	return func(o *ListOptions) { o.Difficulty = difficulty }
}

// SummaryStore persists session summaries. The live session service writes
// through to a store when one is configured so summaries survive restarts.
type SummaryStore interface {
	// UpsertSummary inserts or replaces the summary for its session id.
	// Last writer wins.
	UpsertSummary(ctx context.Context, sum *Summary) error

	// GetSummary returns the stored summary, or ErrSummaryNotFound.
	GetSummary(ctx context.Context, sessionID string) (*Summary, error)

	// ListSummaries returns a user's summaries, most recently updated first.
	ListSummaries(ctx context.Context, userKey UserKey, opts ...ListOption) ([]*Summary, error)

	// DeleteSummary removes the summary for the session. Removing a missing
	// summary is not an error.
	DeleteSummary(ctx context.Context, sessionID string) error

	// Close releases the store's resources.
	Close() error
}

// Service is the interface that all session services must implement.
type Service interface {
	// CreateSession creates a new session. When key.SessionID is empty an id
	// is generated; when the id already exists its current state is returned.
	// The result is a detached snapshot, safe to read without the buffer lock.
	CreateSession(ctx context.Context, key Key) (*Session, error)

	// GetSession gets a session.
	GetSession(ctx context.Context, key Key) (*Session, error)

	// DeleteSession deletes a session and its live buffer. The session's
	// summary row is left in place.
	DeleteSession(ctx context.Context, key Key) error

	// AppendMessage appends one message to the session buffer, updating the
	// monotonic message and token counters.
	AppendMessage(ctx context.Context, key Key, message model.Message) (*Session, error)

	// ShouldSummarize reports whether the trigger policy would fire for the
	// session right now. Re-evaluating without new messages never re-fires.
	ShouldSummarize(ctx context.Context, key Key) (bool, error)

	// Summarize runs a summarization pass synchronously. force bypasses the
	// trigger thresholds but not the no-new-messages check. A failed pass
	// leaves the previously persisted summary untouched and returns the
	// error; a skipped pass returns the current summary unchanged.
	Summarize(ctx context.Context, key Key, force bool) (*Summary, error)

	// EnqueueSummaryJob queues an asynchronous summarization pass, falling
	// back to synchronous processing when the queue is unavailable or full.
	EnqueueSummaryJob(ctx context.Context, key Key, force bool) error

	// GetSummary returns the current summary for the session.
	GetSummary(ctx context.Context, sessionID string) (*Summary, error)

	// ListSummaries returns summaries for a user ordered most recent first.
	ListSummaries(ctx context.Context, userKey UserKey, opts ...ListOption) ([]*Summary, error)

	// DeleteSummary removes the summary for the session. Deleting a summary
	// never deletes the owning user's profile.
	DeleteSummary(ctx context.Context, sessionID string) error

	// Close closes the service and drains any async workers.
	Close() error
}
