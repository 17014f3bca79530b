//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package inmemory provides an in-memory session service implementation.
package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
)

var _ session.Service = (*Service)(nil)

// userSessions holds the live sessions of one user.
type userSessions struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func newUserSessions() *userSessions {
	return &userSessions{sessions: make(map[string]*session.Session)}
}

// Service provides an in-memory implementation of session.Service. Summaries
// are kept in a separate map keyed by session id so they survive deletion of
// the live session buffer.
type Service struct {
	mu    sync.RWMutex
	users map[string]*userSessions

	summaryMu     sync.RWMutex
	summaries     map[string]*session.Summary
	userSummaries map[string]map[string]struct{}

	// passMu serializes summarization passes per session id.
	passMuMu sync.Mutex
	passMu   map[string]*sync.Mutex

	summaryJobChans []chan *summaryJob
	closeOnce       sync.Once

	opts serviceOpts
}

// NewService creates a new in-memory session service.
func NewService(options ...ServiceOpt) *Service {
	opts := serviceOpts{
		counter:           model.EstimateCounter{},
		asyncSummaryNum:   defaultAsyncSummaryNum,
		summaryQueueSize:  defaultSummaryQueueSize,
		summaryJobTimeout: defaultSummaryJobTimeout,
	}
	for _, option := range options {
		option(&opts)
	}
	s := &Service{
		users:         make(map[string]*userSessions),
		summaries:     make(map[string]*session.Summary),
		userSummaries: make(map[string]map[string]struct{}),
		passMu:        make(map[string]*sync.Mutex),
		opts:          opts,
	}
	if s.opts.summarizer != nil && s.opts.asyncSummaryNum > 0 {
		s.startAsyncSummaryWorker()
	}
	return s
}

func (s *Service) getUserSessions(userID string) (*userSessions, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[userID]
	return user, ok
}

func (s *Service) getOrCreateUserSessions(userID string) *userSessions {
	s.mu.RLock()
	user, ok := s.users[userID]
	if ok {
		s.mu.RUnlock()
		return user
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok = s.users[userID]
	if !ok {
		user = newUserSessions()
		s.users[userID] = user
	}
	return user
}

// CreateSession creates a new session. A session id is generated when
// key.SessionID is empty.
func (s *Service) CreateSession(ctx context.Context, key session.Key) (*session.Session, error) {
	if err := (&session.UserKey{UserID: key.UserID}).CheckUserKey(); err != nil {
		return nil, err
	}
	if key.SessionID == "" {
		key.SessionID = uuid.New().String()
	}

	now := time.Now()
	sess := &session.Session{
		ID:        key.SessionID,
		UserID:    key.UserID,
		Messages:  []model.Message{},
		UpdatedAt: now,
		CreatedAt: now,
	}

	// Callers get a detached snapshot, never the live session: the handler
	// layer serializes the result without holding the buffer lock.
	user := s.getOrCreateUserSessions(key.UserID)
	user.mu.Lock()
	defer user.mu.Unlock()
	if existing, ok := user.sessions[key.SessionID]; ok {
		return existing.Snapshot(), nil
	}
	user.sessions[key.SessionID] = sess
	return sess.Snapshot(), nil
}

// GetSession retrieves a session by user id and session id.
func (s *Service) GetSession(ctx context.Context, key session.Key) (*session.Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	user, ok := s.getUserSessions(key.UserID)
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	user.mu.RLock()
	defer user.mu.RUnlock()
	sess, ok := user.sessions[key.SessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return sess, nil
}

// DeleteSession removes the live session buffer. The session's summary, if
// any, stays queryable through GetSummary and ListSummaries.
func (s *Service) DeleteSession(ctx context.Context, key session.Key) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	user, ok := s.getUserSessions(key.UserID)
	if !ok {
		return nil
	}
	user.mu.Lock()
	defer user.mu.Unlock()
	delete(user.sessions, key.SessionID)
	return nil
}

// AppendMessage appends one message to the session buffer and advances the
// monotonic message and token counters.
func (s *Service) AppendMessage(
	ctx context.Context,
	key session.Key,
	message model.Message,
) (*session.Session, error) {
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}
	tokens, err := s.opts.counter.CountTokens(ctx, message)
	if err != nil {
		return nil, fmt.Errorf("count message tokens: %w", err)
	}

	sess.MsgMu.Lock()
	sess.Messages = append(sess.Messages, message)
	sess.MessageCount++
	sess.TokenCount += tokens
	sess.UpdatedAt = time.Now()
	sess.MsgMu.Unlock()
	return sess, nil
}

// ShouldSummarize reports whether the configured trigger policy would fire.
func (s *Service) ShouldSummarize(ctx context.Context, key session.Key) (bool, error) {
	if s.opts.summarizer == nil {
		return false, nil
	}
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return false, err
	}
	return s.opts.summarizer.ShouldSummarize(sess), nil
}

// Summarize runs a summarization pass synchronously. Concurrent passes for
// the same session are serialized; a failed pass leaves the stored summary
// and the live buffer untouched.
func (s *Service) Summarize(ctx context.Context, key session.Key, force bool) (*session.Summary, error) {
	if s.opts.summarizer == nil {
		return nil, fmt.Errorf("no summarizer configured")
	}
	sess, err := s.GetSession(ctx, key)
	if err != nil {
		return nil, err
	}

	mu := s.sessionPassMu(key.SessionID)
	mu.Lock()
	defer mu.Unlock()

	prev, err := s.lookupSummary(ctx, key.SessionID)
	if err != nil {
		return nil, err
	}

	// force bypasses the thresholds, never the no-new-messages rule.
	if sess.PendingMessages() == 0 {
		if prev != nil {
			return prev.Clone(), nil
		}
		if sess.GetMessageCount() == 0 {
			return nil, fmt.Errorf("%w: session %s", session.ErrNothingToSummarize, key.SessionID)
		}
		return nil, nil
	}
	if !force && !s.opts.summarizer.ShouldSummarize(sess) {
		return prev.Clone(), nil
	}

	sum, err := s.opts.summarizer.Summarize(ctx, sess, prev)
	if err != nil {
		return nil, fmt.Errorf("summarize session %s: %w", key.SessionID, err)
	}

	// Persist first: when the write-through store rejects the summary the
	// pass counts as failed and memory stays on the previous state.
	if s.opts.summaryStore != nil {
		if err := s.opts.summaryStore.UpsertSummary(ctx, sum); err != nil {
			return nil, fmt.Errorf("persist summary for session %s: %w", key.SessionID, err)
		}
	}
	s.storeSummary(sum)
	compactSession(sess, sum)

	if s.opts.summaryHook != nil {
		s.opts.summaryHook(ctx, sum.Clone())
	}
	return sum.Clone(), nil
}

// compactSession shrinks the live buffer down to the retained tail plus any
// messages appended while the pass was running, and records the coverage
// watermark on the session.
func compactSession(sess *session.Session, sum *session.Summary) {
	sess.MsgMu.Lock()
	defer sess.MsgMu.Unlock()

	appendedSince := sess.MessageCount - sum.MessageCount
	keep := len(sum.RecentMessages) + appendedSince
	if keep < len(sess.Messages) {
		tail := make([]model.Message, keep)
		copy(tail, sess.Messages[len(sess.Messages)-keep:])
		sess.Messages = tail
	}
	sess.LastSummaryCount = sum.MessageCount
	sess.LastSummaryTokens = sum.TokenCount
	sess.UpdatedAt = time.Now()
}

// GetSummary returns the stored summary for the session.
func (s *Service) GetSummary(ctx context.Context, sessionID string) (*session.Summary, error) {
	if sessionID == "" {
		return nil, session.ErrSessionIDRequired
	}
	sum, err := s.lookupSummary(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sum == nil {
		return nil, session.ErrSummaryNotFound
	}
	return sum.Clone(), nil
}

// lookupSummary checks memory first and falls back to the write-through
// store. Store hits are cached back into memory.
func (s *Service) lookupSummary(ctx context.Context, sessionID string) (*session.Summary, error) {
	if sum := s.currentSummary(sessionID); sum != nil {
		return sum, nil
	}
	if s.opts.summaryStore == nil {
		return nil, nil
	}
	sum, err := s.opts.summaryStore.GetSummary(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrSummaryNotFound) {
			return nil, nil
		}
		return nil, err
	}
	s.storeSummary(sum)
	return sum, nil
}

// ListSummaries returns the user's summaries, most recently updated first.
func (s *Service) ListSummaries(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.ListOption,
) ([]*session.Summary, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	// Memory only mirrors summaries touched since startup; the store has the
	// complete history.
	if s.opts.summaryStore != nil {
		return s.opts.summaryStore.ListSummaries(ctx, userKey, opts...)
	}

	listOpts := session.ListOptions{}
	for _, opt := range opts {
		opt(&listOpts)
	}

	s.summaryMu.RLock()
	out := make([]*session.Summary, 0, len(s.userSummaries[userKey.UserID]))
	for sessionID := range s.userSummaries[userKey.UserID] {
		sum := s.summaries[sessionID]
		if sum == nil || !matchesListOptions(sum, &listOpts) {
			continue
		}
		out = append(out, sum.Clone())
	}
	s.summaryMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if listOpts.Limit > 0 && len(out) > listOpts.Limit {
		out = out[:listOpts.Limit]
	}
	return out, nil
}

func matchesListOptions(sum *session.Summary, opts *session.ListOptions) bool {
	if !opts.Since.IsZero() && sum.UpdatedAt.Before(opts.Since) {
		return false
	}
	if opts.Subject != "" && sum.Subject != opts.Subject {
		return false
	}
	if opts.Topic != "" && sum.Topic != opts.Topic {
		return false
	}
	if opts.Difficulty != "" && sum.Difficulty != opts.Difficulty {
		return false
	}
	return true
}

// DeleteSummary removes the summary for the session. The owning user's
// profile is untouched.
func (s *Service) DeleteSummary(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}
	if s.opts.summaryStore != nil {
		if err := s.opts.summaryStore.DeleteSummary(ctx, sessionID); err != nil {
			return err
		}
	}
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	sum, ok := s.summaries[sessionID]
	if !ok {
		return nil
	}
	delete(s.summaries, sessionID)
	if index, ok := s.userSummaries[sum.UserID]; ok {
		delete(index, sessionID)
	}
	return nil
}

// Close stops the async summary workers.
func (s *Service) Close() error {
	s.closeOnce.Do(s.stopAsyncSummaryWorker)
	return nil
}

func (s *Service) sessionPassMu(sessionID string) *sync.Mutex {
	s.passMuMu.Lock()
	defer s.passMuMu.Unlock()
	mu, ok := s.passMu[sessionID]
	if !ok {
		mu = &sync.Mutex{}
		s.passMu[sessionID] = mu
	}
	return mu
}

func (s *Service) currentSummary(sessionID string) *session.Summary {
	s.summaryMu.RLock()
	defer s.summaryMu.RUnlock()
	return s.summaries[sessionID]
}

func (s *Service) storeSummary(sum *session.Summary) {
	s.summaryMu.Lock()
	defer s.summaryMu.Unlock()
	s.summaries[sum.SessionID] = sum.Clone()
	if s.userSummaries[sum.UserID] == nil {
		s.userSummaries[sum.UserID] = make(map[string]struct{})
	}
	s.userSummaries[sum.UserID][sum.SessionID] = struct{}{}
}
