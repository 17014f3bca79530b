//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package inmemory provides an in-memory profile service implementation.
package inmemory

import (
	"context"
	"sync"
	"time"

	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/session"
)

var _ profile.Service = (*Service)(nil)

// Service provides an in-memory implementation of profile.Service. All
// writes for one user are serialized through a per-user lock so concurrent
// summary ingests merge deterministically.
type Service struct {
	mu       sync.RWMutex
	profiles map[string]*profile.Profile
	locks    map[string]*sync.Mutex
}

// NewService creates a new in-memory profile service.
func NewService() *Service {
	return &Service{
		profiles: make(map[string]*profile.Profile),
		locks:    make(map[string]*sync.Mutex),
	}
}

// GetProfile returns the user's profile or profile.ErrProfileNotFound.
// Reads hold the same per-user lock as ingests, so a returned clone never
// observes a half-applied merge.
func (s *Service) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	p, ok := s.profiles[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, profile.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// GetOrCreateProfile returns the user's profile, creating a default one when
// none exists yet.
func (s *Service) GetOrCreateProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()
	return s.getOrCreateLocked(userID).Clone(), nil
}

// UpdatePreferences applies a partial preference patch, all-or-nothing.
func (s *Service) UpdatePreferences(
	ctx context.Context,
	userID string,
	patch map[string]any,
) (*profile.Profile, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	p := s.getOrCreateLocked(userID)
	if err := profile.ApplyPreferencePatch(&p.Preferences, patch); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()
	return p.Clone(), nil
}

// IngestSummary merges one session summary into the user's profile.
func (s *Service) IngestSummary(ctx context.Context, sum *session.Summary) (*profile.Profile, error) {
	if sum == nil || sum.UserID == "" {
		return nil, profile.ErrUserIDRequired
	}
	lock := s.userLock(sum.UserID)
	lock.Lock()
	defer lock.Unlock()

	p := s.getOrCreateLocked(sum.UserID)
	profile.ApplySummary(p, sum, time.Now().UTC())
	return p.Clone(), nil
}

// DeleteProfile removes the user's profile.
func (s *Service) DeleteProfile(ctx context.Context, userID string) error {
	if userID == "" {
		return profile.ErrUserIDRequired
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.profiles, userID)
	return nil
}

// Close closes the service.
func (s *Service) Close() error {
	return nil
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[userID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[userID] = lock
	}
	return lock
}

// getOrCreateLocked fetches or creates the live profile. Callers hold the
// user lock.
func (s *Service) getOrCreateLocked(userID string) *profile.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		p = profile.NewProfile(userID)
		s.profiles[userID] = p
	}
	return p
}
