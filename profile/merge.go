//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package profile

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/deeptutor/memory-go/session"
)

const (
	// emaWeight is the weight of the newest observation in the mastery
	// moving average. The remainder stays on the accumulated level.
	emaWeight = 0.3
	// weakPointFloor is the confusion score a concept needs to be surfaced
	// as a weak point.
	weakPointFloor = 50.0
	// maxWeakPoints caps the derived weak point list.
	maxWeakPoints = 5
	// maxInterests caps the tracked interest subjects.
	maxInterests = 10

	dateLayout = "2006-01-02"
)

var (
	learningStyles  = map[string]bool{"visual": true, "textual": true, "hands_on": true, "code_first": true}
	difficulties    = map[string]bool{"beginner": true, "intermediate": true, "advanced": true}
	responseFormats = map[string]bool{"text": true, "html": true, "markdown": true}
)

// ApplySummary merges one session summary into the profile in place. It is a
// pure state transition shared by every backend; callers own locking and
// persistence. Ingesting an updated summary for a session seen before only
// accounts the incremental part of its statistics.
func ApplySummary(p *Profile, sum *session.Summary, now time.Time) {
	mergePreferenceSignals(&p.Preferences, sum.Preferences)
	mergeKnowledgePoints(p, sum, now)
	mergeInterests(p, sum.Subject)
	mergeStatistics(&p.Statistics, sum, now)
	p.WeakPoints = RecomputeWeakPoints(p.KnowledgePoints)
	p.UpdatedAt = now
}

// mergePreferenceSignals applies observed signals latest-wins. Signals with
// values outside the schema are dropped rather than failing the ingest.
func mergePreferenceSignals(prefs *Preferences, signals session.PreferenceSignals) {
	if learningStyles[signals.LearningStyle] {
		prefs.LearningStyle = signals.LearningStyle
	}
	if difficulties[signals.DifficultyPreference] {
		prefs.DifficultyPreference = signals.DifficultyPreference
	}
	if signals.Language != "" {
		prefs.Language = signals.Language
	}
	if responseFormats[signals.ResponseFormat] {
		prefs.ResponseFormat = signals.ResponseFormat
	}
	if signals.IncludeCode != nil {
		prefs.IncludeCode = *signals.IncludeCode
	}
	if signals.IncludeMath != nil {
		prefs.IncludeMath = *signals.IncludeMath
	}
}

// mergeKnowledgePoints folds the session's weak point observations into the
// knowledge graph. Mastery moves through a bounded exponential average while
// confusion takes the latest observation.
func mergeKnowledgePoints(p *Profile, sum *session.Summary, now time.Time) {
	if p.KnowledgePoints == nil {
		p.KnowledgePoints = make(map[string]*KnowledgePoint)
	}
	for _, wp := range sum.WeakPoints {
		if wp.Concept == "" {
			continue
		}
		observed := masteryFromConfusion(float64(wp.ConfusionScore))
		kp, ok := p.KnowledgePoints[wp.Concept]
		if !ok {
			p.KnowledgePoints[wp.Concept] = &KnowledgePoint{
				Concept:          wp.Concept,
				Subject:          wp.Subject,
				Topic:            wp.Topic,
				Difficulty:       sum.Difficulty,
				MasteryLevel:     observed,
				ConfusionScore:   float64(wp.ConfusionScore),
				InteractionCount: 1,
				LastSeen:         now,
			}
			continue
		}
		kp.MasteryLevel = clampUnit(emaWeight*observed + (1-emaWeight)*kp.MasteryLevel)
		kp.ConfusionScore = float64(wp.ConfusionScore)
		kp.InteractionCount++
		kp.LastSeen = now
		// Latest observation wins for the classification tags.
		if wp.Subject != "" {
			kp.Subject = wp.Subject
		}
		if wp.Topic != "" {
			kp.Topic = wp.Topic
		}
		if sum.Difficulty != "" {
			kp.Difficulty = sum.Difficulty
		}
	}
}

// masteryFromConfusion maps a 0-100 confusion observation onto the 0-1
// mastery scale: the more confused the session, the less mastery it shows.
func masteryFromConfusion(confusion float64) float64 {
	return clampUnit(1 - confusion/100)
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func mergeInterests(p *Profile, subject string) {
	if subject == "" {
		return
	}
	for _, existing := range p.Interests {
		if existing == subject {
			return
		}
	}
	p.Interests = append(p.Interests, subject)
	if len(p.Interests) > maxInterests {
		p.Interests = p.Interests[len(p.Interests)-maxInterests:]
	}
}

// mergeStatistics accounts the summary into the usage numbers. Repeat passes
// over the same session contribute only the messages added since the pass
// already accounted for.
func mergeStatistics(stats *Statistics, sum *session.Summary, now time.Time) {
	if stats.SessionMessages == nil {
		stats.SessionMessages = make(map[string]int)
	}
	seen := stats.SessionMessages[sum.SessionID]
	if seen == 0 {
		stats.TotalSessions++
	}
	if sum.MessageCount > seen {
		stats.TotalMessages += sum.MessageCount - seen
		stats.SessionMessages[sum.SessionID] = sum.MessageCount
	}
	if stats.TotalSessions > 0 {
		stats.AvgSessionLength = float64(stats.TotalMessages) / float64(stats.TotalSessions)
	}

	if stats.SessionQuestions == nil {
		stats.SessionQuestions = make(map[string]int)
	}
	questions := len(sum.ResolvedQuestions) + len(sum.UnresolvedQuestions)
	if seenQ := stats.SessionQuestions[sum.SessionID]; questions > seenQ {
		stats.TotalQuestions += questions - seenQ
		stats.SessionQuestions[sum.SessionID] = questions
	}

	if stats.HourCounts == nil {
		stats.HourCounts = make(map[int]int)
	}
	hour := now.UTC().Hour()
	stats.HourCounts[hour]++
	if stats.HourCounts[hour] > stats.HourCounts[stats.MostActiveHour] ||
		(stats.HourCounts[hour] == stats.HourCounts[stats.MostActiveHour] && hour < stats.MostActiveHour) {
		stats.MostActiveHour = hour
	}

	day := now.UTC().Format(dateLayout)
	if day != stats.LastActiveDate {
		stats.TotalActiveDays++
		stats.LastActiveDate = day
	}
	stats.LastActiveAt = now
}

// RecomputeWeakPoints derives the weak point list from the knowledge graph:
// the highest-confusion concepts at or above the floor, capped, ordered by
// descending score with concept name as the tiebreak.
func RecomputeWeakPoints(points map[string]*KnowledgePoint) []WeakPoint {
	out := make([]WeakPoint, 0, maxWeakPoints)
	for _, kp := range points {
		if kp.ConfusionScore < weakPointFloor {
			continue
		}
		out = append(out, WeakPoint{
			Concept:        kp.Concept,
			ConfusionScore: kp.ConfusionScore,
			Subject:        kp.Subject,
			Topic:          kp.Topic,
			LastConfused:   kp.LastSeen,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConfusionScore != out[j].ConfusionScore {
			return out[i].ConfusionScore > out[j].ConfusionScore
		}
		return out[i].Concept < out[j].Concept
	})
	if len(out) > maxWeakPoints {
		out = out[:maxWeakPoints]
	}
	return out
}

// ApplyPreferencePatch validates and applies a partial preference update.
// The patch is all-or-nothing: one unknown key or invalid value rejects it
// without touching the preferences.
func ApplyPreferencePatch(prefs *Preferences, patch map[string]any) error {
	staged := *prefs
	for key, value := range patch {
		switch key {
		case "learning_style":
			s, err := patchString(key, value, learningStyles)
			if err != nil {
				return err
			}
			staged.LearningStyle = s
		case "difficulty_preference":
			s, err := patchString(key, value, difficulties)
			if err != nil {
				return err
			}
			staged.DifficultyPreference = s
		case "language":
			s, ok := value.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return fmt.Errorf("%w: %s=%v", ErrInvalidPreferenceValue, key, value)
			}
			staged.Language = s
		case "response_format":
			s, err := patchString(key, value, responseFormats)
			if err != nil {
				return err
			}
			staged.ResponseFormat = s
		case "include_code":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("%w: %s=%v", ErrInvalidPreferenceValue, key, value)
			}
			staged.IncludeCode = b
		case "include_math":
			b, ok := value.(bool)
			if !ok {
				return fmt.Errorf("%w: %s=%v", ErrInvalidPreferenceValue, key, value)
			}
			staged.IncludeMath = b
		default:
			return fmt.Errorf("%w: %s", ErrUnknownPreferenceKey, key)
		}
	}
	*prefs = staged
	return nil
}

func patchString(key string, value any, allowed map[string]bool) (string, error) {
	s, ok := value.(string)
	if !ok || !allowed[s] {
		return "", fmt.Errorf("%w: %s=%v", ErrInvalidPreferenceValue, key, value)
	}
	return s, nil
}
