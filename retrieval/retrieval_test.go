//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package retrieval

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeptutor/memory-go/profile"
	profileinmemory "github.com/deeptutor/memory-go/profile/inmemory"
	"github.com/deeptutor/memory-go/session"
)

// fakeSource serves a fixed summary list and records the filters it was
// asked for.
type fakeSource struct {
	summaries []*session.Summary
	lastOpts  session.ListOptions
	calls     int
}

func (f *fakeSource) ListSummaries(
	_ context.Context,
	userKey session.UserKey,
	opts ...session.ListOption,
) ([]*session.Summary, error) {
	f.calls++
	f.lastOpts = session.ListOptions{}
	for _, opt := range opts {
		opt(&f.lastOpts)
	}
	out := []*session.Summary{}
	for _, sum := range f.summaries {
		if sum.UserID != userKey.UserID {
			continue
		}
		if !f.lastOpts.Since.IsZero() && sum.UpdatedAt.Before(f.lastOpts.Since) {
			continue
		}
		out = append(out, sum)
	}
	return out, nil
}

func makeSummary(id, topic string, daysAgo int, keyPoints ...string) *session.Summary {
	return &session.Summary{
		ID:        id,
		SessionID: "sess-" + id,
		UserID:    "user-1",
		CoreTopic: topic,
		KeyPoints: keyPoints,
		UpdatedAt: time.Now().AddDate(0, 0, -daysAgo),
	}
}

func TestAssembleMinimalBlockForNewUser(t *testing.T) {
	ctx := context.Background()
	profiles := profileinmemory.NewService()
	a := NewAssembler(profiles, &fakeSource{})

	block, err := a.Assemble(ctx, "brand-new-user", "")
	require.NoError(t, err)
	assert.Contains(t, block.Text, "Student profile:")
	assert.Contains(t, block.Text, "style=textual")
	assert.NotContains(t, block.Text, "Recent sessions:")
	assert.Empty(t, block.SourceIDs)

	// The profile now exists: GET-style reads see the auto-created default.
	p, err := profiles.GetProfile(ctx, "brand-new-user")
	require.NoError(t, err)
	assert.Equal(t, profile.DefaultPreferences(), p.Preferences)

	_, err = a.Assemble(ctx, "", "query")
	assert.ErrorIs(t, err, profile.ErrUserIDRequired)
}

func TestAssembleWindowAndOrdering(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{summaries: []*session.Summary{
		makeSummary("s1", "fresh topic", 1),
		makeSummary("s2", "older topic", 3),
		makeSummary("s3", "ancient topic", 30),
	}}
	a := NewAssembler(profileinmemory.NewService(), source)

	block, err := a.Assemble(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, block.SourceIDs, "outside-window summary excluded")
	assert.Contains(t, block.Text, "fresh topic")
	assert.NotContains(t, block.Text, "ancient topic")
	assert.Equal(t, DefaultMaxEntries, source.lastOpts.Limit)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -DefaultWindowDays), source.lastOpts.Since, time.Minute)
}

func TestAssembleLexicalRanking(t *testing.T) {
	ctx := context.Background()
	source := &fakeSource{summaries: []*session.Summary{
		makeSummary("s1", "world history", 1),
		makeSummary("s2", "matrix multiplication", 2, "row by column products"),
		makeSummary("s3", "cooking", 3),
	}}
	a := NewAssembler(profileinmemory.NewService(), source)

	block, err := a.Assemble(ctx, "user-1", "help with matrix products")
	require.NoError(t, err)
	require.NotEmpty(t, block.SourceIDs)
	assert.Equal(t, "s2", block.SourceIDs[0], "query-relevant summary ranks first")
}

func TestAssembleCharBudget(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("very long key point ", 20)
	source := &fakeSource{summaries: []*session.Summary{
		makeSummary("s1", "first", 1, long),
		makeSummary("s2", "second", 2, long),
		makeSummary("s3", "third", 3, long),
	}}
	a := NewAssembler(profileinmemory.NewService(), source, WithMaxChars(700))

	block, err := a.Assemble(ctx, "user-1", "")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(block.Text), 700)
	// Entries are dropped whole, so every included entry renders completely.
	assert.Less(t, len(block.SourceIDs), 3)
	assert.Equal(t, len(block.SourceIDs), strings.Count(block.Text, "- ["))
}

func TestAssembleTinyBudgetKeepsValidText(t *testing.T) {
	ctx := context.Background()
	profiles := profileinmemory.NewService()
	_, err := profiles.UpdatePreferences(ctx, "user-1", map[string]any{"language": "日本語"})
	require.NoError(t, err)

	// Budgets below the profile header length force the hard cut; sweeping
	// them covers cuts landing inside a multi-byte character.
	for maxChars := 60; maxChars <= 100; maxChars++ {
		a := NewAssembler(profiles, &fakeSource{}, WithMaxChars(maxChars))
		block, err := a.Assemble(ctx, "user-1", "")
		require.NoError(t, err)
		assert.LessOrEqual(t, len(block.Text), maxChars)
		assert.True(t, utf8.ValidString(block.Text), "budget %d", maxChars)
	}
}

func TestAssembleProfileSections(t *testing.T) {
	ctx := context.Background()
	profiles := profileinmemory.NewService()
	_, err := profiles.IngestSummary(ctx, &session.Summary{
		SessionID:    "sess-0",
		UserID:       "user-1",
		Subject:      "math",
		MessageCount: 10,
		WeakPoints: []session.WeakPoint{
			{Concept: "chain rule", ConfusionScore: 75},
		},
	})
	require.NoError(t, err)

	a := NewAssembler(profiles, &fakeSource{})
	block, err := a.Assemble(ctx, "user-1", "")
	require.NoError(t, err)
	assert.Contains(t, block.Text, "- weak points: chain rule (75)")
	assert.Contains(t, block.Text, "- interests: math")
}

func TestAssembleCache(t *testing.T) {
	ctx := context.Background()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	source := &fakeSource{summaries: []*session.Summary{
		makeSummary("s1", "caching", 1),
	}}
	a := NewAssembler(profileinmemory.NewService(), source,
		WithCache(client, time.Minute))

	first, err := a.Assemble(ctx, "user-1", "caching")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	second, err := a.Assemble(ctx, "user-1", "caching")
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "second assembly served from cache")
	assert.Equal(t, first.Text, second.Text)

	// A different query misses the cache.
	_, err = a.Assemble(ctx, "user-1", "something else")
	require.NoError(t, err)
	assert.Equal(t, 2, source.calls)

	// Expired entries are reassembled.
	mr.FastForward(2 * time.Minute)
	_, err = a.Assemble(ctx, "user-1", "caching")
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestLexicalRanker(t *testing.T) {
	summaries := []*session.Summary{
		makeSummary("s1", "photosynthesis basics", 1),
		makeSummary("s2", "cell division", 2),
		makeSummary("s3", "photosynthesis light reactions", 3, "chlorophyll absorbs light"),
	}
	r := NewLexicalRanker()

	ranked := r.Rank("photosynthesis and light", summaries)
	assert.Equal(t, "s3", ranked[0].ID)
	assert.Equal(t, "s1", ranked[1].ID)

	// Empty query keeps input order.
	ranked = r.Rank("", summaries)
	for i, sum := range summaries {
		assert.Equal(t, sum.ID, ranked[i].ID)
	}

	// Ranking never mutates the input slice.
	assert.Equal(t, "s1", summaries[0].ID)

	assert.Empty(t, r.Rank("query", nil))
}
