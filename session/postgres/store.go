//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package postgres provides a PostgreSQL-backed session summary store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/deeptutor/memory-go/session"
	storage "github.com/deeptutor/memory-go/storage/postgres"
)

var _ session.SummaryStore = (*SummaryStore)(nil)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS session_summaries (
	session_id TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	subject    TEXT NOT NULL DEFAULT '',
	topic      TEXT NOT NULL DEFAULT '',
	difficulty TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_summaries_user
	ON session_summaries (user_id, updated_at DESC)`

const upsertSQL = `
INSERT INTO session_summaries
	(session_id, user_id, subject, topic, difficulty, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO UPDATE SET
	user_id    = EXCLUDED.user_id,
	subject    = EXCLUDED.subject,
	topic      = EXCLUDED.topic,
	difficulty = EXCLUDED.difficulty,
	payload    = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

// SummaryStore implements session.SummaryStore on PostgreSQL. The full
// summary is stored as a JSONB payload; the filterable tag columns are
// denormalized alongside it.
type SummaryStore struct {
	client storage.Client
}

// options is the options for the postgres summary store.
type options struct {
	connString string
	client     storage.Client
	skipSchema bool
}

// Option is the option for the postgres summary store.
type Option func(*options)

// WithConnString sets the postgres connection string.
func WithConnString(connString string) Option {
	return func(o *options) {
		o.connString = connString
	}
}

// WithClient sets a pre-built storage client, bypassing the builder.
func WithClient(client storage.Client) Option {
	return func(o *options) {
		o.client = client
	}
}

// WithSkipSchema skips schema creation at startup, for deployments where the
// schema is managed externally.
func WithSkipSchema() Option {
	return func(o *options) {
		o.skipSchema = true
	}
}

// NewSummaryStore creates a postgres summary store and ensures its schema.
func NewSummaryStore(ctx context.Context, opts ...Option) (*SummaryStore, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	client := o.client
	if client == nil {
		var err error
		client, err = storage.GetClientBuilder()(ctx, storage.WithClientConnString(o.connString))
		if err != nil {
			return nil, fmt.Errorf("build postgres client: %w", err)
		}
	}
	s := &SummaryStore{client: client}
	if !o.skipSchema {
		if _, err := client.ExecContext(ctx, createTableSQL); err != nil {
			return nil, fmt.Errorf("create session_summaries schema: %w", err)
		}
	}
	return s, nil
}

// UpsertSummary inserts or replaces the summary row. Last writer wins.
func (s *SummaryStore) UpsertSummary(ctx context.Context, sum *session.Summary) error {
	if sum == nil || sum.SessionID == "" {
		return session.ErrSessionIDRequired
	}
	payload, err := json.Marshal(sum)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	_, err = s.client.ExecContext(ctx, upsertSQL,
		sum.SessionID, sum.UserID, sum.Subject, sum.Topic, sum.Difficulty,
		payload, sum.CreatedAt, sum.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert summary for session %s: %w", sum.SessionID, err)
	}
	return nil
}

// GetSummary returns the stored summary for the session.
func (s *SummaryStore) GetSummary(ctx context.Context, sessionID string) (*session.Summary, error) {
	if sessionID == "" {
		return nil, session.ErrSessionIDRequired
	}
	var sum *session.Summary
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		var err error
		sum, err = scanSummary(rows)
		return err
	}, `SELECT payload FROM session_summaries WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get summary for session %s: %w", sessionID, err)
	}
	if sum == nil {
		return nil, session.ErrSummaryNotFound
	}
	return sum, nil
}

// ListSummaries returns a user's summaries, most recently updated first.
func (s *SummaryStore) ListSummaries(
	ctx context.Context,
	userKey session.UserKey,
	opts ...session.ListOption,
) ([]*session.Summary, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	listOpts := session.ListOptions{}
	for _, opt := range opts {
		opt(&listOpts)
	}
	query, args := buildListQuery(userKey.UserID, &listOpts)

	summaries := []*session.Summary{}
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		for rows.Next() {
			sum, err := scanSummary(rows)
			if err != nil {
				return err
			}
			summaries = append(summaries, sum)
		}
		return nil
	}, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list summaries for user %s: %w", userKey.UserID, err)
	}
	return summaries, nil
}

// DeleteSummary removes the summary row, if present.
func (s *SummaryStore) DeleteSummary(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return session.ErrSessionIDRequired
	}
	_, err := s.client.ExecContext(ctx,
		`DELETE FROM session_summaries WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete summary for session %s: %w", sessionID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *SummaryStore) Close() error {
	return s.client.Close()
}

func scanSummary(rows *sql.Rows) (*session.Summary, error) {
	var payload []byte
	if err := rows.Scan(&payload); err != nil {
		return nil, fmt.Errorf("scan summary row: %w", err)
	}
	sum := &session.Summary{}
	if err := json.Unmarshal(payload, sum); err != nil {
		return nil, fmt.Errorf("unmarshal summary payload: %w", err)
	}
	return sum, nil
}

// buildListQuery assembles the filtered list query with positional args.
func buildListQuery(userID string, opts *session.ListOptions) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT payload FROM session_summaries WHERE user_id = $1`)
	args := []any{userID}

	appendFilter := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		fmt.Fprintf(&sb, ` AND %s = $%d`, column, len(args))
	}
	if !opts.Since.IsZero() {
		args = append(args, opts.Since.UTC().Format(time.RFC3339Nano))
		fmt.Fprintf(&sb, ` AND updated_at >= $%d`, len(args))
	}
	appendFilter("subject", opts.Subject)
	appendFilter("topic", opts.Topic)
	appendFilter("difficulty", opts.Difficulty)

	sb.WriteString(` ORDER BY updated_at DESC`)
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, ` LIMIT $%d`, len(args))
	}
	return sb.String(), args
}
