//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/deeptutor/memory-go/session"
)

// Ranker orders candidate summaries by relevance to a query. An empty query
// leaves the input order (most recently updated first) untouched.
type Ranker interface {
	Rank(query string, summaries []*session.Summary) []*session.Summary
}

// lexicalRanker scores summaries by token overlap between the query and the
// summary's searchable text. Ties keep the recency order of the input.
type lexicalRanker struct{}

// NewLexicalRanker creates the default token-overlap ranker. It needs no
// model calls, which keeps context assembly cheap and fully deterministic.
func NewLexicalRanker() Ranker {
	return lexicalRanker{}
}

func (lexicalRanker) Rank(query string, summaries []*session.Summary) []*session.Summary {
	out := make([]*session.Summary, len(summaries))
	copy(out, summaries)

	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return out
	}

	scores := make(map[string]int, len(out))
	for _, sum := range out {
		scores[sum.ID] = overlap(queryTokens, summaryTokens(sum))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return scores[out[i].ID] > scores[out[j].ID]
	})
	return out
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping tokens
// too short to carry meaning.
func tokenize(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		tokens[f] = struct{}{}
	}
	return tokens
}

func summaryTokens(sum *session.Summary) map[string]struct{} {
	var sb strings.Builder
	sb.WriteString(sum.CoreTopic)
	sb.WriteByte(' ')
	sb.WriteString(sum.Subject)
	sb.WriteByte(' ')
	sb.WriteString(sum.Topic)
	for _, kp := range sum.KeyPoints {
		sb.WriteByte(' ')
		sb.WriteString(kp)
	}
	for _, q := range sum.UnresolvedQuestions {
		sb.WriteByte(' ')
		sb.WriteString(q)
	}
	for _, wp := range sum.WeakPoints {
		sb.WriteByte(' ')
		sb.WriteString(wp.Concept)
	}
	return tokenize(sb.String())
}

func overlap(query, candidate map[string]struct{}) int {
	count := 0
	for token := range query {
		if _, ok := candidate[token]; ok {
			count++
		}
	}
	return count
}
