//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package retrieval assembles the cross-session context block injected into a
// new tutoring session: the student's durable profile plus their recent
// session summaries, ranked against the opening query and trimmed to a
// character budget.
package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/redis/go-redis/v9"
	"github.com/spaolacci/murmur3"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/profile"
	"github.com/deeptutor/memory-go/session"
	"github.com/deeptutor/memory-go/telemetry"
)

// Defaults for context assembly.
const (
	// DefaultWindowDays is how far back summaries are considered.
	DefaultWindowDays = 7
	// DefaultMaxChars bounds the rendered context block.
	DefaultMaxChars = 4000
	// DefaultMaxEntries bounds how many summaries are fetched.
	DefaultMaxEntries = 20
	// DefaultCacheTTL is how long an assembled block stays cached.
	DefaultCacheTTL = 5 * time.Minute
)

// SummarySource lists a user's summaries. Both the live session service and
// the bare summary store satisfy it.
type SummarySource interface {
	ListSummaries(ctx context.Context, userKey session.UserKey, opts ...session.ListOption) ([]*session.Summary, error)
}

// ContextBlock is the assembled cross-session context.
type ContextBlock struct {
	// Text is the rendered block, ready for prompt injection.
	Text string `json:"text"`
	// SourceIDs are the summary ids that contributed entries, in the order
	// they appear in the text.
	SourceIDs   []string  `json:"source_ids"`
	AssembledAt time.Time `json:"assembled_at"`
}

// Assembler builds context blocks from the profile service and a summary
// source, with an optional redis read-through cache.
type Assembler struct {
	profiles  profile.Service
	summaries SummarySource
	ranker    Ranker

	windowDays int
	maxChars   int
	maxEntries int

	cache    redis.UniversalClient
	cacheTTL time.Duration
}

// Option configures the assembler.
type Option func(*Assembler)

// WithWindowDays sets how many days of summaries feed the block.
func WithWindowDays(days int) Option {
	return func(a *Assembler) {
		if days > 0 {
			a.windowDays = days
		}
	}
}

// WithMaxChars sets the rendered block's character budget.
func WithMaxChars(max int) Option {
	return func(a *Assembler) {
		if max > 0 {
			a.maxChars = max
		}
	}
}

// WithMaxEntries caps how many summaries are fetched from the source.
func WithMaxEntries(max int) Option {
	return func(a *Assembler) {
		if max > 0 {
			a.maxEntries = max
		}
	}
}

// WithRanker replaces the default lexical ranker.
func WithRanker(r Ranker) Option {
	return func(a *Assembler) {
		if r != nil {
			a.ranker = r
		}
	}
}

// WithCache enables the redis read-through cache for assembled blocks.
func WithCache(client redis.UniversalClient, ttl time.Duration) Option {
	return func(a *Assembler) {
		a.cache = client
		if ttl > 0 {
			a.cacheTTL = ttl
		}
	}
}

// NewAssembler creates a context assembler.
func NewAssembler(profiles profile.Service, summaries SummarySource, opts ...Option) *Assembler {
	a := &Assembler{
		profiles:   profiles,
		summaries:  summaries,
		ranker:     NewLexicalRanker(),
		windowDays: DefaultWindowDays,
		maxChars:   DefaultMaxChars,
		maxEntries: DefaultMaxEntries,
		cacheTTL:   DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Assemble builds the context block for a user using the configured window.
func (a *Assembler) Assemble(ctx context.Context, userID, query string) (*ContextBlock, error) {
	return a.AssembleWindow(ctx, userID, query, a.windowDays)
}

// AssembleWindow builds the context block for a user looking back the given
// number of days. The profile is auto-created for first-time users, so a
// brand-new student gets a minimal block with default preferences rather
// than an error.
func (a *Assembler) AssembleWindow(ctx context.Context, userID, query string, windowDays int) (*ContextBlock, error) {
	if userID == "" {
		return nil, profile.ErrUserIDRequired
	}
	if windowDays <= 0 {
		windowDays = a.windowDays
	}

	cacheKey := a.cacheKey(userID, query, windowDays)
	if block, ok := a.cacheGet(ctx, cacheKey); ok {
		telemetry.RecordContextCacheHit(ctx)
		return block, nil
	}

	p, err := a.profiles.GetOrCreateProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load profile for user %s: %w", userID, err)
	}

	since := time.Now().AddDate(0, 0, -windowDays)
	summaries, err := a.summaries.ListSummaries(ctx, session.UserKey{UserID: userID},
		session.WithSince(since), session.WithLimit(a.maxEntries))
	if err != nil {
		return nil, fmt.Errorf("list summaries for user %s: %w", userID, err)
	}
	ranked := a.ranker.Rank(query, summaries)

	block := a.render(p, ranked)
	telemetry.RecordContextAssembly(ctx)
	a.cacheSet(ctx, cacheKey, block)
	return block, nil
}

// render produces the deterministic text block. Summary entries are added
// whole, in ranked order, until one would blow the character budget; entries
// are never split mid-text.
func (a *Assembler) render(p *profile.Profile, summaries []*session.Summary) *ContextBlock {
	var sb strings.Builder
	sb.WriteString("Student profile:\n")
	sb.WriteString(renderPreferences(p.Preferences))
	if len(p.WeakPoints) > 0 {
		sb.WriteString("- weak points: ")
		for i, wp := range p.WeakPoints {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "%s (%.0f)", wp.Concept, wp.ConfusionScore)
		}
		sb.WriteByte('\n')
	}
	if len(p.Interests) > 0 {
		sb.WriteString("- interests: " + strings.Join(p.Interests, ", ") + "\n")
	}

	block := &ContextBlock{
		SourceIDs:   []string{},
		AssembledAt: time.Now().UTC(),
	}
	if len(summaries) > 0 {
		sb.WriteString("\nRecent sessions:\n")
	}
	for _, sum := range summaries {
		entry := renderEntry(sum)
		if sb.Len()+len(entry) > a.maxChars {
			break
		}
		sb.WriteString(entry)
		block.SourceIDs = append(block.SourceIDs, sum.ID)
	}
	block.Text = strings.TrimRight(sb.String(), "\n")
	// The profile header alone can exceed a tiny budget; the block never
	// does. The cut backs up to a rune boundary so the text stays valid.
	if len(block.Text) > a.maxChars {
		cut := a.maxChars
		for cut > 0 && !utf8.RuneStart(block.Text[cut]) {
			cut--
		}
		block.Text = block.Text[:cut]
	}
	return block
}

func renderPreferences(prefs profile.Preferences) string {
	return fmt.Sprintf("- preferences: style=%s, difficulty=%s, language=%s, format=%s, code=%t, math=%t\n",
		prefs.LearningStyle, prefs.DifficultyPreference, prefs.Language,
		prefs.ResponseFormat, prefs.IncludeCode, prefs.IncludeMath)
}

// renderEntry renders one summary as a single dated line.
func renderEntry(sum *session.Summary) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "- [%s] %s", sum.UpdatedAt.UTC().Format("2006-01-02"), sum.CoreTopic)
	if len(sum.KeyPoints) > 0 {
		points := sum.KeyPoints
		if len(points) > 3 {
			points = points[:3]
		}
		sb.WriteString(": " + strings.Join(points, "; "))
	}
	if len(sum.UnresolvedQuestions) > 0 {
		sb.WriteString(" | open: " + strings.Join(sum.UnresolvedQuestions, "; "))
	}
	sb.WriteByte('\n')
	return sb.String()
}

func (a *Assembler) cacheKey(userID, query string, windowDays int) string {
	return fmt.Sprintf("memctx:%s:%d:%d", userID, murmur3.Sum32([]byte(query)), windowDays)
}

// cacheGet reads a cached block. Cache failures degrade to assembly, never
// to an error.
func (a *Assembler) cacheGet(ctx context.Context, key string) (*ContextBlock, bool) {
	if a.cache == nil {
		return nil, false
	}
	raw, err := a.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("context cache get failed for %s: %v", key, err)
		}
		return nil, false
	}
	block := &ContextBlock{}
	if err := json.Unmarshal(raw, block); err != nil {
		log.Warnf("context cache entry corrupt for %s: %v", key, err)
		return nil, false
	}
	return block, true
}

func (a *Assembler) cacheSet(ctx context.Context, key string, block *ContextBlock) {
	if a.cache == nil {
		return
	}
	raw, err := json.Marshal(block)
	if err != nil {
		return
	}
	if err := a.cache.Set(ctx, key, raw, a.cacheTTL).Err(); err != nil {
		log.Warnf("context cache set failed for %s: %v", key, err)
	}
}
