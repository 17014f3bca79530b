//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package inmemory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/session"
)

func TestGetOrCreateProfile(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	_, err := s.GetProfile(ctx, "user-1")
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)

	p, err := s.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, profile.DefaultPreferences(), p.Preferences)
	assert.NotNil(t, p.KnowledgePoints)

	again, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, p.CreatedAt, again.CreatedAt)

	_, err = s.GetOrCreateProfile(ctx, "")
	assert.ErrorIs(t, err, profile.ErrUserIDRequired)
}

func TestUpdatePreferences(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	// Patching a non-existent profile creates it first.
	p, err := s.UpdatePreferences(ctx, "user-1", map[string]any{
		"learning_style": "visual",
		"language":       "fr",
	})
	require.NoError(t, err)
	assert.Equal(t, "visual", p.Preferences.LearningStyle)
	assert.Equal(t, "fr", p.Preferences.Language)
	assert.Equal(t, "intermediate", p.Preferences.DifficultyPreference)

	// A rejected patch leaves the stored preferences untouched.
	_, err = s.UpdatePreferences(ctx, "user-1", map[string]any{
		"language": "de",
		"nope":     true,
	})
	require.ErrorIs(t, err, profile.ErrUnknownPreferenceKey)
	p, err = s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "fr", p.Preferences.Language)
}

func TestIngestSummaryCreatesProfile(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	sum := &session.Summary{
		SessionID:    "sess-1",
		UserID:       "user-1",
		CoreTopic:    "derivatives",
		Subject:      "math",
		MessageCount: 24,
		WeakPoints: []session.WeakPoint{
			{Concept: "chain rule", ConfusionScore: 75, Subject: "math"},
		},
	}
	p, err := s.IngestSummary(ctx, sum)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Statistics.TotalSessions)
	require.Len(t, p.WeakPoints, 1)
	assert.Equal(t, "chain rule", p.WeakPoints[0].Concept)

	_, err = s.IngestSummary(ctx, nil)
	assert.ErrorIs(t, err, profile.ErrUserIDRequired)
}

func TestIngestSummaryConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.IngestSummary(ctx, &session.Summary{
				SessionID:    fmt.Sprintf("sess-%d", i),
				UserID:       "user-1",
				MessageCount: 10,
				WeakPoints: []session.WeakPoint{
					{Concept: "recursion", ConfusionScore: 60},
				},
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	p, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, n, p.Statistics.TotalSessions)
	assert.Equal(t, n*10, p.Statistics.TotalMessages)
	assert.Equal(t, n, p.KnowledgePoints["recursion"].InteractionCount)
}

func TestGetProfileDuringIngest(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	_, err := s.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)

	// Readers run against the same user while ingests mutate the live
	// profile; clones must stay internally consistent throughout.
	const n = 16
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_, err := s.IngestSummary(ctx, &session.Summary{
				SessionID:    fmt.Sprintf("sess-%d", i),
				UserID:       "user-1",
				MessageCount: 10,
				WeakPoints: []session.WeakPoint{
					{Concept: fmt.Sprintf("concept-%d", i), ConfusionScore: 60},
				},
			})
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			p, err := s.GetProfile(ctx, "user-1")
			assert.NoError(t, err)
			assert.LessOrEqual(t, len(p.WeakPoints), 5)
			for concept, kp := range p.KnowledgePoints {
				assert.Equal(t, concept, kp.Concept)
			}
		}()
	}
	wg.Wait()

	p, err := s.GetProfile(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, n, p.Statistics.TotalSessions)
}

func TestDeleteProfile(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	_, err := s.GetOrCreateProfile(ctx, "user-1")
	require.NoError(t, err)
	require.NoError(t, s.DeleteProfile(ctx, "user-1"))
	_, err = s.GetProfile(ctx, "user-1")
	assert.ErrorIs(t, err, profile.ErrProfileNotFound)

	// Deleting twice is fine.
	require.NoError(t, s.DeleteProfile(ctx, "user-1"))
}

func TestBatchIngest(t *testing.T) {
	ctx := context.Background()
	s := NewService()
	defer s.Close()

	summaries := make([]*session.Summary, 0, 20)
	for i := 0; i < 20; i++ {
		summaries = append(summaries, &session.Summary{
			SessionID:    fmt.Sprintf("sess-%d", i),
			UserID:       fmt.Sprintf("user-%d", i%4),
			MessageCount: 10,
		})
	}
	require.NoError(t, profile.BatchIngest(ctx, s, summaries, 4))

	for i := 0; i < 4; i++ {
		p, err := s.GetProfile(ctx, fmt.Sprintf("user-%d", i))
		require.NoError(t, err)
		assert.Equal(t, 5, p.Statistics.TotalSessions)
	}

	assert.NoError(t, profile.BatchIngest(ctx, s, nil, 4))
}
