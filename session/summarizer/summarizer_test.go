//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package summarizer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeptutor/memory-go/model"
	"github.com/deeptutor/memory-go/session"
)

const validPayload = `{
	"core_topic": "quadratic equations",
	"key_points": ["discriminant decides root count", "completing the square"],
	"resolved_questions": ["what is the discriminant"],
	"unresolved_questions": ["why does completing the square work"],
	"user_preferences": {"learning_style": "visual", "include_math": true},
	"weak_points": [{"concept": "discriminant", "confusion_score": 70, "subject": "math", "topic": "algebra"}],
	"subject": "math",
	"topic": "algebra",
	"difficulty": "intermediate"
}`

// fakeModel returns the scripted outputs in order, one per GenerateContent
// call. An output of "TIMEOUT" produces a timeout error response instead.
type fakeModel struct {
	outputs []string
	calls   int
}

func (f *fakeModel) GenerateContent(_ context.Context, _ *model.Request) (<-chan *model.Response, error) {
	ch := make(chan *model.Response, 1)
	if f.calls >= len(f.outputs) {
		close(ch)
		return ch, fmt.Errorf("no scripted output for call %d", f.calls)
	}
	output := f.outputs[f.calls]
	f.calls++

	rsp := &model.Response{Done: true, Timestamp: time.Now()}
	if output == "TIMEOUT" {
		rsp.Error = &model.ResponseError{
			Type:    model.ErrorTypeTimeout,
			Message: "deadline exceeded",
		}
	} else {
		rsp.Choices = []model.Choice{{Message: model.NewAssistantMessage(output)}}
	}
	ch <- rsp
	close(ch)
	return ch, nil
}

func (f *fakeModel) Info() model.Info { return model.Info{Name: "fake-model"} }

func newTestSession(rounds int) *session.Session {
	sess := &session.Session{
		ID:        "sess-1",
		UserID:    "user-1",
		CreatedAt: time.Now(),
	}
	for i := 0; i < rounds; i++ {
		sess.Messages = append(sess.Messages,
			model.NewUserMessage(fmt.Sprintf("question %d about algebra", i)),
			model.NewAssistantMessage(fmt.Sprintf("answer %d with a worked example", i)),
		)
	}
	sess.MessageCount = len(sess.Messages)
	sess.TokenCount = len(sess.Messages) * 10
	return sess
}

func TestShouldSummarize(t *testing.T) {
	s := New(&fakeModel{})

	assert.False(t, s.ShouldSummarize(nil))
	assert.False(t, s.ShouldSummarize(newTestSession(0)))
	assert.False(t, s.ShouldSummarize(newTestSession(9)), "9 rounds stays below the default")
	assert.True(t, s.ShouldSummarize(newTestSession(10)), "10 rounds fires the default")

	// Token threshold fires independently of the round count.
	small := newTestSession(2)
	small.TokenCount = DefaultTokenThreshold
	assert.True(t, s.ShouldSummarize(small))

	// A fully covered session never re-fires.
	covered := newTestSession(10)
	covered.LastSummaryCount = covered.MessageCount
	covered.LastSummaryTokens = covered.TokenCount
	assert.False(t, s.ShouldSummarize(covered))
}

func TestSummarizeFirstPass(t *testing.T) {
	fake := &fakeModel{outputs: []string{validPayload}}
	s := New(fake)
	sess := newTestSession(10)

	sum, err := s.Summarize(context.Background(), sess, nil)
	require.NoError(t, err)
	require.NotNil(t, sum)

	assert.NotEmpty(t, sum.ID)
	assert.Equal(t, "sess-1", sum.SessionID)
	assert.Equal(t, "user-1", sum.UserID)
	assert.Equal(t, "quadratic equations", sum.CoreTopic)
	assert.Equal(t, []string{"what is the discriminant"}, sum.ResolvedQuestions)
	assert.Equal(t, "visual", sum.Preferences.LearningStyle)
	require.NotNil(t, sum.Preferences.IncludeMath)
	assert.True(t, *sum.Preferences.IncludeMath)
	require.Len(t, sum.WeakPoints, 1)
	assert.Equal(t, 70, sum.WeakPoints[0].ConfusionScore)
	assert.Equal(t, sess.MessageCount, sum.MessageCount)
	assert.Equal(t, sess.TokenCount, sum.TokenCount)
	assert.Len(t, sum.RecentMessages, DefaultKeepRecent)
	assert.Equal(t, "summarizer", sum.Quality.GeneratedBy)
	assert.Equal(t, 1, fake.calls)

	// Retained tail is the verbatim end of the buffer, in order.
	last := sess.Messages[len(sess.Messages)-1]
	assert.Equal(t, last.Content, sum.RecentMessages[len(sum.RecentMessages)-1].Content)
}

func TestSummarizeUpdatePass(t *testing.T) {
	update := `{
		"core_topic": "quadratic equations continued",
		"key_points": ["vertex form"],
		"resolved_questions": ["why does completing the square work"],
		"unresolved_questions": ["what is the discriminant"],
		"user_preferences": {},
		"weak_points": [],
		"subject": "math",
		"topic": "algebra",
		"difficulty": "intermediate"
	}`
	s := New(&fakeModel{outputs: []string{update}})
	sess := newTestSession(12)
	sess.LastSummaryCount = 20
	sess.LastSummaryTokens = 200

	created := time.Now().Add(-time.Hour)
	prev := &session.Summary{
		ID:                  "summary-1",
		SessionID:           "sess-1",
		UserID:              "user-1",
		CoreTopic:           "quadratic equations",
		ResolvedQuestions:   []string{"what is the discriminant"},
		UnresolvedQuestions: []string{"why does completing the square work"},
		CreatedAt:           created,
	}

	sum, err := s.Summarize(context.Background(), sess, prev)
	require.NoError(t, err)

	assert.Equal(t, "summary-1", sum.ID, "update keeps the summary id")
	assert.Equal(t, created, sum.CreatedAt)
	assert.True(t, sum.UpdatedAt.After(created))
	// Once resolved, always resolved: the model demoting a question back to
	// unresolved is ignored.
	assert.ElementsMatch(t, []string{
		"what is the discriminant",
		"why does completing the square work",
	}, sum.ResolvedQuestions)
	assert.Empty(t, sum.UnresolvedQuestions)
}

func TestSummarizeRetryOnMalformed(t *testing.T) {
	fake := &fakeModel{outputs: []string{"this is not JSON at all", validPayload}}
	s := New(fake)

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.NoError(t, err)
	assert.Equal(t, "quadratic equations", sum.CoreTopic)
	assert.Equal(t, 2, fake.calls, "malformed output triggers exactly one retry")
}

func TestSummarizeRetryOnEmptyOutput(t *testing.T) {
	fake := &fakeModel{outputs: []string{"", validPayload}}
	s := New(fake)

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.NoError(t, err)
	assert.Equal(t, "quadratic equations", sum.CoreTopic)
	assert.Equal(t, 2, fake.calls, "an empty completion retries like any malformed output")
}

func TestSummarizeMalformedTwiceFails(t *testing.T) {
	fake := &fakeModel{outputs: []string{"garbage", "more garbage"}}
	s := New(fake)

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedSummary)
	assert.Nil(t, sum, "no partial summary escapes a failed pass")
	assert.Equal(t, 2, fake.calls)
}

func TestSummarizeRetryOnTimeout(t *testing.T) {
	fake := &fakeModel{outputs: []string{"TIMEOUT", validPayload}}
	s := New(fake)

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.NoError(t, err)
	assert.Equal(t, "quadratic equations", sum.CoreTopic)
	assert.Equal(t, 2, fake.calls)
}

func TestSummarizeTimeoutTwiceFails(t *testing.T) {
	fake := &fakeModel{outputs: []string{"TIMEOUT", "TIMEOUT"}}
	s := New(fake)

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrGenerationTimeout)
	assert.Nil(t, sum)
}

func TestSummarizeFencedOutput(t *testing.T) {
	fenced := "```json\n" + validPayload + "\n```"
	s := New(&fakeModel{outputs: []string{fenced}})

	sum, err := s.Summarize(context.Background(), newTestSession(10), nil)
	require.NoError(t, err)
	assert.Equal(t, "quadratic equations", sum.CoreTopic)
}

func TestSummarizeEmptySession(t *testing.T) {
	s := New(&fakeModel{outputs: []string{validPayload}})
	sess := &session.Session{ID: "empty", UserID: "user-1"}

	_, err := s.Summarize(context.Background(), sess, nil)
	assert.ErrorIs(t, err, session.ErrNothingToSummarize)
}

func TestSummarizeNoModel(t *testing.T) {
	s := New(nil)
	_, err := s.Summarize(context.Background(), newTestSession(10), nil)
	assert.Error(t, err)
}

func TestSummarizerOptions(t *testing.T) {
	s := New(&fakeModel{},
		WithChecksAny([]Checker{CheckRoundThreshold(2)}),
		WithKeepRecent(3),
		WithTimeout(5*time.Second),
	)

	md := s.Metadata()
	assert.Equal(t, 3, md["keep_recent"])
	assert.Equal(t, "5s", md["timeout"])
	assert.True(t, s.ShouldSummarize(newTestSession(2)))
	assert.False(t, s.ShouldSummarize(newTestSession(1)))
}

func TestParseSummaryPayloadNormalization(t *testing.T) {
	payload, err := parseSummaryPayload(`{
		"core_topic": "  recursion  ",
		"difficulty": "ADVANCED",
		"weak_points": [
			{"concept": "base case", "confusion_score": 150},
			{"concept": "", "confusion_score": 50},
			{"concept": "stack frames", "confusion_score": -3}
		]
	}`)
	require.NoError(t, err)

	sum := payload.toSummary()
	assert.Equal(t, "recursion", sum.CoreTopic)
	assert.Equal(t, "advanced", sum.Difficulty)
	require.Len(t, sum.WeakPoints, 2, "empty concepts are dropped")
	assert.Equal(t, 100, sum.WeakPoints[0].ConfusionScore)
	assert.Equal(t, 0, sum.WeakPoints[1].ConfusionScore)
	assert.NotNil(t, sum.KeyPoints)
}

func TestParseSummaryPayloadErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "not JSON", raw: "sorry, here is your summary:"},
		{name: "missing core topic", raw: `{"key_points": ["a"]}`},
		{name: "wrong type", raw: `{"core_topic": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseSummaryPayload(tt.raw)
			assert.Error(t, err)
		})
	}
}
