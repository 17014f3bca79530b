//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package summarizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/deeptutor/memory-go/session"
)

// summaryPayload is the wire schema of the prompt contract. Unknown fields in
// the model output are ignored; missing required fields fail the parse.
type summaryPayload struct {
	CoreTopic           string             `json:"core_topic"`
	KeyPoints           []string           `json:"key_points"`
	ResolvedQuestions   []string           `json:"resolved_questions"`
	UnresolvedQuestions []string           `json:"unresolved_questions"`
	UserPreferences     preferencesPayload `json:"user_preferences"`
	WeakPoints          []weakPointPayload `json:"weak_points"`
	Subject             string             `json:"subject"`
	Topic               string             `json:"topic"`
	Difficulty          string             `json:"difficulty"`
}

type preferencesPayload struct {
	LearningStyle        string `json:"learning_style"`
	DifficultyPreference string `json:"difficulty_preference"`
	Language             string `json:"language"`
	ResponseFormat       string `json:"response_format"`
	IncludeCode          *bool  `json:"include_code"`
	IncludeMath          *bool  `json:"include_math"`
}

type weakPointPayload struct {
	Concept        string `json:"concept"`
	ConfusionScore int    `json:"confusion_score"`
	Subject        string `json:"subject"`
	Topic          string `json:"topic"`
}

// parseSummaryPayload parses generation output into the summary schema.
// Models occasionally wrap JSON in markdown fences despite instructions, so
// fences are stripped before decoding; anything else malformed is an error.
func parseSummaryPayload(raw string) (*summaryPayload, error) {
	text := stripFences(strings.TrimSpace(raw))
	if text == "" {
		return nil, fmt.Errorf("empty output")
	}

	var payload summaryPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("decode summary JSON: %w", err)
	}
	if strings.TrimSpace(payload.CoreTopic) == "" {
		return nil, fmt.Errorf("missing core_topic")
	}
	payload.normalize()
	return &payload, nil
}

// normalize clamps scores and lowercases the constrained enum fields.
func (p *summaryPayload) normalize() {
	p.CoreTopic = strings.TrimSpace(p.CoreTopic)
	p.Difficulty = normalizeDifficulty(p.Difficulty)
	p.UserPreferences.LearningStyle = strings.ToLower(strings.TrimSpace(p.UserPreferences.LearningStyle))
	p.UserPreferences.DifficultyPreference = normalizeDifficulty(p.UserPreferences.DifficultyPreference)
	for i := range p.WeakPoints {
		if p.WeakPoints[i].ConfusionScore < 0 {
			p.WeakPoints[i].ConfusionScore = 0
		}
		if p.WeakPoints[i].ConfusionScore > 100 {
			p.WeakPoints[i].ConfusionScore = 100
		}
	}
}

func normalizeDifficulty(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	switch d {
	case "beginner", "intermediate", "advanced":
		return d
	default:
		return ""
	}
}

// toSummary converts the parsed payload into the domain summary. Slices are
// always non-nil so JSON round-trips stay stable.
func (p *summaryPayload) toSummary() *session.Summary {
	weakPoints := make([]session.WeakPoint, 0, len(p.WeakPoints))
	for _, wp := range p.WeakPoints {
		if strings.TrimSpace(wp.Concept) == "" {
			continue
		}
		weakPoints = append(weakPoints, session.WeakPoint{
			Concept:        strings.TrimSpace(wp.Concept),
			ConfusionScore: wp.ConfusionScore,
			Subject:        wp.Subject,
			Topic:          wp.Topic,
		})
	}
	return &session.Summary{
		CoreTopic:           p.CoreTopic,
		KeyPoints:           emptyIfNil(p.KeyPoints),
		ResolvedQuestions:   emptyIfNil(p.ResolvedQuestions),
		UnresolvedQuestions: emptyIfNil(p.UnresolvedQuestions),
		Preferences: session.PreferenceSignals{
			LearningStyle:        p.UserPreferences.LearningStyle,
			DifficultyPreference: p.UserPreferences.DifficultyPreference,
			Language:             p.UserPreferences.Language,
			ResponseFormat:       p.UserPreferences.ResponseFormat,
			IncludeCode:          p.UserPreferences.IncludeCode,
			IncludeMath:          p.UserPreferences.IncludeMath,
		},
		WeakPoints: weakPoints,
		Subject:    p.Subject,
		Topic:      p.Topic,
		Difficulty: p.Difficulty,
	}
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}

// stripFences removes a surrounding markdown code fence if present.
func stripFences(text string) string {
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}
