//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package postgres provides a PostgreSQL-backed profile service.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/session"
	storage "github.com/deeptutor/memory-go/storage/postgres"
)

var _ profile.Service = (*Service)(nil)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS user_profiles (
	user_id    TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
)`

const upsertSQL = `
INSERT INTO user_profiles (user_id, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO UPDATE SET
	payload    = EXCLUDED.payload,
	updated_at = EXCLUDED.updated_at`

// Service implements profile.Service on PostgreSQL. Mutations run inside a
// transaction with the profile row locked, so concurrent ingests for one
// user merge sequentially instead of losing updates.
type Service struct {
	client storage.Client
}

// options is the options for the postgres profile service.
type options struct {
	connString string
	client     storage.Client
	skipSchema bool
}

// Option is the option for the postgres profile service.
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

// WithSkipSchema skips schema creation at startup.
func WithSkipSchema() Option {
	return func(o *options) {
		o.skipSchema = true
	}
}

// NewService creates a postgres profile service and ensures its schema.
func NewService(ctx context.Context, opts ...Option) (*Service, error) {
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
	s := &Service{client: client}
	if !o.skipSchema {
		if _, err := client.ExecContext(ctx, createTableSQL); err != nil {
			return nil, fmt.Errorf("create user_profiles schema: %w", err)
		}
	}
	return s, nil
}

// GetProfile returns the user's profile or profile.ErrProfileNotFound.
func (s *Service) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	var p *profile.Profile
	err := s.client.Query(ctx, func(rows *sql.Rows) error {
		if !rows.Next() {
			return nil
		}
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return fmt.Errorf("scan profile row: %w", err)
		}
		p = &profile.Profile{}
		return json.Unmarshal(payload, p)
	}, `SELECT payload FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("get profile for user %s: %w", userID, err)
	}
	if p == nil {
		return nil, profile.ErrProfileNotFound
	}
	return p, nil
}

// GetOrCreateProfile returns the user's profile, inserting a default one
// when none exists yet.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	p, err := s.GetProfile(ctx, userID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, profile.ErrProfileNotFound) {
		return nil, err
	}

	p = profile.NewProfile(userID)
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}
	// ON CONFLICT DO NOTHING keeps a concurrently created profile; re-read
	// to return whatever won.
	_, err = s.client.ExecContext(ctx, `
INSERT INTO user_profiles (user_id, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (user_id) DO NOTHING`,
		userID, payload, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create profile for user %s: %w", userID, err)
	}
	return s.GetProfile(ctx, userID)
}

// UpdatePreferences applies a partial preference patch inside a transaction.
func (s *Service) UpdatePreferences(
	ctx context.Context,
	userID string,
	patch map[string]any,
) (*profile.Profile, error) {
	return s.mutate(ctx, userID, func(p *profile.Profile) error {
		if err := profile.ApplyPreferencePatch(&p.Preferences, patch); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().UTC()
		return nil
	})
}

// IngestSummary merges one session summary into the user's profile.
func (s *Service) IngestSummary(ctx context.Context, sum *session.Summary) (*profile.Profile, error) {
	if sum == nil || sum.UserID == "" {
		return nil, profile.ErrUserIDRequired
	}
	return s.mutate(ctx, sum.UserID, func(p *profile.Profile) error {
		profile.ApplySummary(p, sum, time.Now().UTC())
		return nil
	})
}

// mutate loads the profile under a row lock, applies fn, and writes the
// result back. A missing profile is created with defaults first.
func (s *Service) mutate(
	ctx context.Context,
	userID string,
	fn func(*profile.Profile) error,
) (*profile.Profile, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	var out *profile.Profile
	err := s.client.Transaction(ctx, func(tx *sql.Tx) error {
		p := profile.NewProfile(userID)
		var payload []byte
		err := tx.QueryRowContext(ctx,
			`SELECT payload FROM user_profiles WHERE user_id = $1 FOR UPDATE`,
			userID).Scan(&payload)
		switch {
		case err == nil:
			if err := json.Unmarshal(payload, p); err != nil {
				return fmt.Errorf("unmarshal profile payload: %w", err)
			}
		case errors.Is(err, sql.ErrNoRows):
			// Fresh profile with defaults.
		default:
			return fmt.Errorf("lock profile row: %w", err)
		}

		if err := fn(p); err != nil {
			return err
		}
		updated, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal profile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, upsertSQL,
			userID, updated, p.CreatedAt, p.UpdatedAt); err != nil {
			return fmt.Errorf("write profile: %w", err)
		}
		out = p
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("update profile for user %s: %w", userID, err)
	}
	return out, nil
}

// DeleteProfile removes the user's profile row, if present.
func (s *Service) DeleteProfile(ctx context.Context, userID string) error {
	if userID == "" {
		return profile.ErrUserIDRequired
	}
	_, err := s.client.ExecContext(ctx,
		`DELETE FROM user_profiles WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete profile for user %s: %w", userID, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Service) Close() error {
	return s.client.Close()
}
