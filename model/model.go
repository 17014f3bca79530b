//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package model defines the text-generation capability consumed by the
// summarization and retrieval components, together with the request and
// response types exchanged with it.
package model

import (
	"context"
	"time"
)

// Role represents the role of a message author.
type Role string

// Role constants for message authors.
const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// IsValid checks if the role is one of the defined constants.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	default:
		return false
	}
}

// Message represents a single message in a conversation.
type Message struct {
	Role      Role      `json:"role"`                // The role of the message author.
	Content   string    `json:"content"`             // The message content.
	Timestamp time.Time `json:"timestamp,omitzero"`  // When the message was produced.
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// GenerationConfig contains configuration for text generation.
type GenerationConfig struct {
	// MaxTokens is the maximum number of tokens to generate.
	MaxTokens *int `json:"max_tokens,omitempty"`

	// Temperature controls randomness (0.0 to 2.0).
	Temperature *float64 `json:"temperature,omitempty"`

	// Stream indicates whether to stream the response.
	Stream bool `json:"stream"`

	// JSONResponse asks the provider to emit a single JSON object. Used by
	// the summarizer's structured prompt contract.
	JSONResponse bool `json:"json_response,omitempty"`
}

// Request is the request for content generation.
type Request struct {
	Messages []Message `json:"messages"`
	GenerationConfig
}

// ErrorType classifies generation errors reported in a Response.
type ErrorType string

// Error type constants.
const (
	ErrorTypeAPIError ErrorType = "api_error"
	ErrorTypeTimeout  ErrorType = "timeout"
)

// ResponseError carries a generation failure inside a Response.
type ResponseError struct {
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
}

// Usage reports token accounting for a generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Choice is one generated alternative.
type Choice struct {
	Index   int     `json:"index"`
	Message Message `json:"message"`
}

// Response is one unit of model output. Non-streaming calls deliver a single
// response with Done set; streaming calls deliver deltas followed by a final
// Done response.
type Response struct {
	ID        string         `json:"id,omitempty"`
	Model     string         `json:"model,omitempty"`
	Choices   []Choice       `json:"choices,omitempty"`
	Usage     *Usage         `json:"usage,omitempty"`
	Error     *ResponseError `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Done      bool           `json:"done"`
}

// Info describes a model implementation.
type Info struct {
	Name string `json:"name"`
}

// Model is the interface that all text-generation backends must implement.
type Model interface {
	// GenerateContent generates content for the request. The returned channel
	// is closed after the final response. Implementations must honor context
	// cancellation and deadlines.
	GenerateContent(ctx context.Context, request *Request) (<-chan *Response, error)

	// Info returns basic information about the model.
	Info() Info
}

// TokenCounter estimates token usage for a single message. The conversation
// buffer uses it to keep a monotonic running token count.
type TokenCounter interface {
	// CountTokens returns the token count for a single message.
	CountTokens(ctx context.Context, message Message) (int, error)
}

// estimateDivisor is the chars-per-token ratio used by the fallback counter.
const estimateDivisor = 4

// EstimateCounter is a dependency-free TokenCounter that approximates tokens
// as len(content)/4. Coarse but monotonic and model-agnostic, good enough for
// trigger gating when no tokenizer is configured.
type EstimateCounter struct{}

// CountTokens implements TokenCounter.
func (EstimateCounter) CountTokens(_ context.Context, message Message) (int, error) {
	n := len(message.Content) / estimateDivisor
	if n == 0 && message.Content != "" {
		n = 1
	}
	return n, nil
}
