//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package summarizer compresses tutoring conversations into structured
// session summaries via an LLM with a fixed JSON prompt contract. It owns the
// trigger policy (round and token thresholds) and the failure policy: one
// retry with a stricter instruction, then the caller keeps the previous
// summary unchanged.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deeptutor/memory-go/log"
	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
	"github.com/deeptutor/memory-go/telemetry"
)

var (
	// ErrMalformedSummary is returned when the generation output cannot be
	// parsed into the summary schema after the retry.
	ErrMalformedSummary = errors.New("malformed summary payload")
	// ErrGenerationTimeout is returned when the generation call exceeded the
	// configured timeout after the retry. Callers treat it exactly like
	// ErrMalformedSummary: keep the previous summary, log, move on.
	ErrGenerationTimeout = errors.New("summary generation timed out")
)

// Defaults for the trigger policy and summarization behavior.
const (
	// DefaultRoundThreshold fires a pass every 10 conversation rounds.
	DefaultRoundThreshold = 10
	// DefaultTokenThreshold fires a pass once 4000 uncovered tokens exist.
	DefaultTokenThreshold = 4000
	// DefaultKeepRecent is how many raw messages survive compaction.
	DefaultKeepRecent = 5
	// DefaultTimeout bounds one generation call.
	DefaultTimeout = 10 * time.Second

	// compressionTarget is the minimum acceptable token saving. Falling
	// short is logged, not fatal.
	compressionTarget = 0.40

	generatedBy = "summarizer"
)

const systemPrompt = `You are the conversation summarizer of a tutoring assistant.
Analyze the conversation between a student and the tutor and produce a compact
structured summary that preserves everything needed to continue tutoring this
student in a future session. Do not make anything up.

Respond with a single JSON object with exactly these fields:
  "core_topic": short string naming the main topic of the session
  "key_points": array of short strings, most important first
  "resolved_questions": array of questions the student asked that were answered
  "unresolved_questions": array of questions still open
  "user_preferences": object with any of: "learning_style" (visual|textual|hands_on|code_first),
      "difficulty_preference" (beginner|intermediate|advanced), "language",
      "response_format" (text|html|markdown), "include_code" (bool), "include_math" (bool)
  "weak_points": array of {"concept": string, "confusion_score": 0-100, "subject": string, "topic": string}
  "subject": string or ""
  "topic": string or ""
  "difficulty": "beginner"|"intermediate"|"advanced" or ""`

const strictInstruction = "\n\nReturn ONLY the JSON object. No prose, no markdown, no code fences."

// SessionSummarizer generates structured summaries for sessions.
type SessionSummarizer interface {
	// ShouldSummarize checks if the session should be summarized.
	ShouldSummarize(sess *session.Session) bool

	// Summarize runs one pass over the messages not yet covered by prev and
	// returns the updated summary. The session buffer is not modified. A nil
	// prev means this is the session's first pass.
	Summarize(ctx context.Context, sess *session.Session, prev *session.Summary) (*session.Summary, error)

	// Metadata returns metadata about the summarizer configuration.
	Metadata() map[string]any
}

// sessionSummarizer implements the SessionSummarizer interface.
type sessionSummarizer struct {
	model      model.Model
	counter    model.TokenCounter
	checks     []Checker
	keepRecent int
	timeout    time.Duration
}

// New creates a session summarizer backed by the given model. When no
// trigger options are supplied the default round/token thresholds apply.
func New(m model.Model, opts ...Option) SessionSummarizer {
	s := &sessionSummarizer{
		model:      m,
		counter:    model.EstimateCounter{},
		keepRecent: DefaultKeepRecent,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	if len(s.checks) == 0 {
		s.checks = []Checker{ChecksAny([]Checker{
			CheckRoundThreshold(DefaultRoundThreshold),
			CheckTokenThreshold(DefaultTokenThreshold),
		})}
	}
	return s
}

// ShouldSummarize checks if the session should be summarized. All configured
// checks must pass (compose with ChecksAny for OR semantics).
func (s *sessionSummarizer) ShouldSummarize(sess *session.Session) bool {
	if sess == nil || sess.PendingMessages() == 0 {
		return false
	}
	for _, check := range s.checks {
		if !check(sess) {
			return false
		}
	}
	return true
}

// Metadata returns metadata about the summarizer configuration.
func (s *sessionSummarizer) Metadata() map[string]any {
	var modelName string
	if s.model != nil {
		modelName = s.model.Info().Name
	}
	return map[string]any{
		"model_name":      modelName,
		"keep_recent":     s.keepRecent,
		"timeout":         s.timeout.String(),
		"check_functions": len(s.checks),
	}
}

// Summarize generates an updated summary for the session. It never mutates
// the session buffer or the previous summary; compaction is the caller's job.
func (s *sessionSummarizer) Summarize(
	ctx context.Context,
	sess *session.Session,
	prev *session.Summary,
) (*session.Summary, error) {
	if s.model == nil {
		return nil, fmt.Errorf("no model configured for summarization for session %s", sess.ID)
	}
	messages := sess.GetMessages()
	if sess.GetMessageCount() == 0 || len(messages) == 0 {
		return nil, fmt.Errorf("%w: session %s", session.ErrNothingToSummarize, sess.ID)
	}

	// Only messages appended since the last pass feed the prompt; earlier
	// ones are already represented by prev.
	pending := sess.PendingMessages()
	if pending > len(messages) || pending == 0 {
		pending = len(messages)
	}
	delta := messages[len(messages)-pending:]

	conversationText := formatMessages(delta)
	userPrompt := buildUserPrompt(prev, conversationText)

	payload, err := s.generateWithRetry(ctx, sess.ID, userPrompt)
	if err != nil {
		telemetry.RecordSummaryFailed(ctx)
		return nil, err
	}

	now := time.Now().UTC()
	out := payload.toSummary()
	out.SessionID = sess.ID
	out.UserID = sess.UserID
	out.MessageCount = sess.GetMessageCount()
	out.TokenCount = sess.GetTokenCount()
	out.RecentMessages = retainTail(messages, s.keepRecent)
	out.UpdatedAt = now
	if prev != nil {
		out.ID = prev.ID
		out.CreatedAt = prev.CreatedAt
		out.ResolvedQuestions, out.UnresolvedQuestions = mergeQuestions(
			prev.ResolvedQuestions, out.ResolvedQuestions, out.UnresolvedQuestions)
	} else {
		out.ID = uuid.NewString()
		out.CreatedAt = now
	}
	out.Quality = s.measureQuality(ctx, conversationText, out, now)

	telemetry.RecordSummaryGenerated(ctx)
	return out, nil
}

// generateWithRetry runs the generation call, retrying once on malformed
// output (with a stricter instruction) or timeout. No partial result ever
// escapes this function.
func (s *sessionSummarizer) generateWithRetry(
	ctx context.Context,
	sessionID string,
	userPrompt string,
) (*summaryPayload, error) {
	text, err := s.generate(ctx, systemPrompt, userPrompt)
	if err == nil {
		if payload, perr := parseSummaryPayload(text); perr == nil {
			return payload, nil
		} else {
			log.Warnf("summarizer: first pass for session %s returned unparsable output, retrying strict: %v", sessionID, perr)
		}
	} else if !errors.Is(err, ErrGenerationTimeout) && !errors.Is(err, ErrMalformedSummary) {
		return nil, err
	} else {
		log.Warnf("summarizer: first pass for session %s failed, retrying once: %v", sessionID, err)
	}

	text, err = s.generate(ctx, systemPrompt+strictInstruction, userPrompt)
	if err != nil {
		return nil, err
	}
	payload, perr := parseSummaryPayload(text)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSummary, perr)
	}
	return payload, nil
}

// generate performs one bounded model invocation and collects the full text.
func (s *sessionSummarizer) generate(ctx context.Context, system, user string) (string, error) {
	genCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	request := &model.Request{
		Messages: []model.Message{
			model.NewSystemMessage(system),
			model.NewUserMessage(user),
		},
		GenerationConfig: model.GenerationConfig{
			Stream:       false,
			JSONResponse: true,
		},
	}
	responseChan, err := s.model.GenerateContent(genCtx, request)
	if err != nil {
		return "", fmt.Errorf("failed to generate summary: %w", err)
	}

	var sb strings.Builder
	for response := range responseChan {
		if response.Error != nil {
			if response.Error.Type == model.ErrorTypeTimeout {
				return "", fmt.Errorf("%w: %s", ErrGenerationTimeout, response.Error.Message)
			}
			return "", fmt.Errorf("model error during summarization: %s", response.Error.Message)
		}
		if len(response.Choices) > 0 {
			sb.WriteString(response.Choices[0].Message.Content)
		}
		if response.Done {
			break
		}
	}
	if genCtx.Err() != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationTimeout, genCtx.Err())
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: generated empty summary", ErrMalformedSummary)
	}
	return text, nil
}

// measureQuality computes the advisory compression diagnostics.
func (s *sessionSummarizer) measureQuality(
	ctx context.Context,
	conversationText string,
	sum *session.Summary,
	now time.Time,
) session.Quality {
	replaced, _ := s.counter.CountTokens(ctx, model.Message{Role: model.RoleUser, Content: conversationText})
	kept, _ := s.counter.CountTokens(ctx, model.Message{Role: model.RoleUser, Content: renderSummaryText(sum)})

	ratio := 0.0
	if replaced > 0 {
		ratio = 1.0 - float64(kept)/float64(replaced)
		if ratio < 0 {
			ratio = 0
		}
	}
	if replaced > 0 && ratio < compressionTarget {
		log.Warnf("summarizer: compression ratio %.2f below target %.2f for session %s (replaced=%d kept=%d)",
			ratio, compressionTarget, sum.SessionID, replaced, kept)
	}
	return session.Quality{
		CompressionRatio: ratio,
		GeneratedBy:      generatedBy,
		GeneratedAt:      now,
	}
}

// buildUserPrompt assembles the user prompt, prepending the previous summary
// so passes compress incrementally instead of re-reading the whole session.
func buildUserPrompt(prev *session.Summary, conversationText string) string {
	var sb strings.Builder
	if prev != nil {
		sb.WriteString("<previous_summary>\n")
		sb.WriteString(renderSummaryText(prev))
		sb.WriteString("\n</previous_summary>\n\n")
		sb.WriteString("Update the previous summary with the new conversation below. ")
		sb.WriteString("Questions listed as resolved stay resolved.\n\n")
	}
	sb.WriteString("<conversation>\n")
	sb.WriteString(conversationText)
	sb.WriteString("\n</conversation>\n\nJSON summary:")
	return sb.String()
}

// formatMessages extracts conversation text from messages.
func formatMessages(messages []model.Message) string {
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		role := string(m.Role)
		if role == "" {
			role = "unknown"
		}
		parts = append(parts, fmt.Sprintf("%s: %s", role, content))
	}
	return strings.Join(parts, "\n")
}

// renderSummaryText renders a summary as plain text, used both for the
// incremental prompt and for compression measurement.
func renderSummaryText(s *session.Summary) string {
	var sb strings.Builder
	sb.WriteString("Topic: " + s.CoreTopic + "\n")
	if len(s.KeyPoints) > 0 {
		sb.WriteString("Key points: " + strings.Join(s.KeyPoints, "; ") + "\n")
	}
	if len(s.ResolvedQuestions) > 0 {
		sb.WriteString("Resolved: " + strings.Join(s.ResolvedQuestions, "; ") + "\n")
	}
	if len(s.UnresolvedQuestions) > 0 {
		sb.WriteString("Unresolved: " + strings.Join(s.UnresolvedQuestions, "; ") + "\n")
	}
	for _, wp := range s.WeakPoints {
		sb.WriteString(fmt.Sprintf("Weak point: %s (confusion %d)\n", wp.Concept, wp.ConfusionScore))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// retainTail returns the last min(keep, len) messages in original order.
func retainTail(messages []model.Message, keep int) []model.Message {
	if keep <= 0 || len(messages) == 0 {
		return []model.Message{}
	}
	if len(messages) > keep {
		messages = messages[len(messages)-keep:]
	}
	out := make([]model.Message, len(messages))
	copy(out, messages)
	return out
}

// mergeQuestions applies the one-directional resolution rule: the resolved
// list is the union of old and new, and anything ever resolved is dropped
// from the unresolved list.
func mergeQuestions(prevResolved, newResolved, newUnresolved []string) (resolved, unresolved []string) {
	seen := make(map[string]struct{}, len(prevResolved)+len(newResolved))
	for _, q := range prevResolved {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			resolved = append(resolved, q)
		}
	}
	for _, q := range newResolved {
		if _, ok := seen[q]; !ok {
			seen[q] = struct{}{}
			resolved = append(resolved, q)
		}
	}
	for _, q := range newUnresolved {
		if _, ok := seen[q]; !ok {
			unresolved = append(unresolved, q)
		}
	}
	return resolved, unresolved
}
