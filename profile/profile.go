//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package profile provides the durable cross-session user profile: learning
// preferences, the knowledge-point graph with confusion tracking, and usage
// statistics, together with the Service interface all profile backends
// implement.
package profile

import (
	"context"
	"errors"
	"time"

	"github.com/deeptutor/memory-go/session"
)

var (
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrProfileNotFound is returned when the profile does not exist.
	ErrProfileNotFound = errors.New("profile not found")
	// ErrUnknownPreferenceKey is returned when a preference patch names a key
	// that is not part of the preference schema. The whole patch is rejected.
	ErrUnknownPreferenceKey = errors.New("unknown preference key")
	// ErrInvalidPreferenceValue is returned when a preference patch carries a
	// value outside the allowed set for its key.
	ErrInvalidPreferenceValue = errors.New("invalid preference value")
)

// Preferences are the durable tutoring preferences of a user. Zero-value
// fields are filled with defaults by DefaultPreferences.
type Preferences struct {
	// LearningStyle is one of visual, textual, hands_on, code_first.
	LearningStyle string `json:"learning_style"`
	// DifficultyPreference is one of beginner, intermediate, advanced.
	DifficultyPreference string `json:"difficulty_preference"`
	// Language is the preferred response language code, e.g. "en".
	Language string `json:"language"`
	// ResponseFormat is one of text, html, markdown.
	ResponseFormat string `json:"response_format"`
	IncludeCode    bool   `json:"include_code"`
	IncludeMath    bool   `json:"include_math"`
}

// DefaultPreferences returns the preferences assigned to a fresh profile.
func DefaultPreferences() Preferences {
	return Preferences{
		LearningStyle:        "textual",
		DifficultyPreference: "intermediate",
		Language:             "en",
		ResponseFormat:       "markdown",
		IncludeCode:          true,
		IncludeMath:          true,
	}
}

// KnowledgePoint tracks one concept the user has studied. MasteryLevel is a
// bounded exponential moving average in [0,1], so a single session cannot
// swing a well-established level; ConfusionScore is the most recent
// per-session observation and drives the weak point projection.
type KnowledgePoint struct {
	Concept          string    `json:"concept"`
	Subject          string    `json:"subject,omitempty"`
	Topic            string    `json:"topic,omitempty"`
	Difficulty       string    `json:"difficulty,omitempty"`
	MasteryLevel     float64   `json:"mastery_level"`
	ConfusionScore   float64   `json:"confusion_score"`
	InteractionCount int       `json:"interaction_count"`
	LastSeen         time.Time `json:"last_seen"`
}

// WeakPoint is a derived view over the knowledge points: a concept whose
// latest confusion observation sits at or above the floor. Recomputed after
// every ingest, never a source of truth on its own.
type WeakPoint struct {
	Concept        string    `json:"concept"`
	ConfusionScore float64   `json:"confusion_score"`
	Subject        string    `json:"subject,omitempty"`
	Topic          string    `json:"topic,omitempty"`
	LastConfused   time.Time `json:"last_confused,omitzero"`
}

// Statistics are aggregate usage numbers for one user.
type Statistics struct {
	TotalSessions int `json:"total_sessions"`
	TotalMessages int `json:"total_messages"`
	// TotalQuestions counts the questions surfaced across all sessions,
	// resolved and unresolved alike.
	TotalQuestions int `json:"total_questions"`
	// TotalActiveDays counts distinct calendar days (UTC) with activity.
	TotalActiveDays int `json:"total_active_days"`
	// AvgSessionLength is the running average of messages per session.
	AvgSessionLength float64 `json:"avg_session_length"`
	// MostActiveHour is the UTC hour (0-23) with the most session activity.
	MostActiveHour int `json:"most_active_hour"`
	// LastActiveDate is the UTC calendar day of the last ingest, formatted
	// 2006-01-02. Used to detect new active days.
	LastActiveDate string    `json:"last_active_date,omitempty"`
	LastActiveAt   time.Time `json:"last_active_at,omitzero"`
	// HourCounts backs MostActiveHour, keyed by UTC hour.
	HourCounts map[int]int `json:"hour_counts,omitempty"`
	// SessionMessages and SessionQuestions record the counts already
	// accounted per session id, so repeated passes over one session only add
	// their delta.
	SessionMessages  map[string]int `json:"session_messages,omitempty"`
	SessionQuestions map[string]int `json:"session_questions,omitempty"`
}

// Profile is the durable cross-session state of one user. It exists
// independently of any session and outlives summary deletion.
type Profile struct {
	UserID      string      `json:"user_id"`
	Preferences Preferences `json:"preferences"`
	// Interests are subjects the user keeps coming back to, most recent last.
	Interests []string `json:"interests"`
	// KnowledgePoints is keyed by concept name.
	KnowledgePoints map[string]*KnowledgePoint `json:"knowledge_points"`
	WeakPoints      []WeakPoint                `json:"weak_points"`
	Statistics      Statistics                 `json:"statistics"`
	CreatedAt       time.Time                  `json:"created_at"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

// NewProfile returns a fresh profile with default preferences.
func NewProfile(userID string) *Profile {
	now := time.Now().UTC()
	return &Profile{
		UserID:          userID,
		Preferences:     DefaultPreferences(),
		Interests:       []string{},
		KnowledgePoints: make(map[string]*KnowledgePoint),
		WeakPoints:      []WeakPoint{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Clone returns a deep copy so callers can hand profiles across goroutines.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	out := *p
	out.Interests = append([]string(nil), p.Interests...)
	out.WeakPoints = append([]WeakPoint(nil), p.WeakPoints...)
	out.KnowledgePoints = make(map[string]*KnowledgePoint, len(p.KnowledgePoints))
	for concept, kp := range p.KnowledgePoints {
		copied := *kp
		out.KnowledgePoints[concept] = &copied
	}
	if p.Statistics.SessionMessages != nil {
		out.Statistics.SessionMessages = make(map[string]int, len(p.Statistics.SessionMessages))
		for id, n := range p.Statistics.SessionMessages {
			out.Statistics.SessionMessages[id] = n
		}
	}
	if p.Statistics.SessionQuestions != nil {
		out.Statistics.SessionQuestions = make(map[string]int, len(p.Statistics.SessionQuestions))
		for id, n := range p.Statistics.SessionQuestions {
			out.Statistics.SessionQuestions[id] = n
		}
	}
	if p.Statistics.HourCounts != nil {
		out.Statistics.HourCounts = make(map[int]int, len(p.Statistics.HourCounts))
		for hour, n := range p.Statistics.HourCounts {
			out.Statistics.HourCounts[hour] = n
		}
	}
	return &out
}

// Service is the interface that all profile services must implement.
type Service interface {
	// GetProfile returns the user's profile or ErrProfileNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// GetOrCreateProfile returns the user's profile, creating a default one
	// when none exists yet.
	GetOrCreateProfile(ctx context.Context, userID string) (*Profile, error)

	// UpdatePreferences applies a partial preference patch. A patch with any
	// unrecognized key or invalid value is rejected as a whole.
	UpdatePreferences(ctx context.Context, userID string, patch map[string]any) (*Profile, error)

	// IngestSummary merges one session summary into the user's profile,
	// creating the profile when needed. Ingestion is the only write path for
	// knowledge points and statistics.
	IngestSummary(ctx context.Context, sum *session.Summary) (*Profile, error)

	// DeleteProfile removes the user's profile. Removing a missing profile
	// is not an error.
	DeleteProfile(ctx context.Context, userID string) error

	// Close closes the service.
	Close() error
}
