//
// Copyright (C) 2026 DeepTutor. All rights reserved.
//
// memory-go is licensed under the Apache License Version 2.0.
//

// Package openai provides an OpenAI-compatible model implementation.
package openai

import (
	"context"
	"errors"
	"os"
	"time"

	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/deeptutor/memory-go/model"
)

// defaultChannelBufferSize is the default response channel buffer size.
const defaultChannelBufferSize = 16

// Model implements model.Model using the OpenAI chat completions API. It
// works with any OpenAI-compatible endpoint via WithBaseURL.
type Model struct {
	name              string
	client            openai.Client
	channelBufferSize int
}

// Option configures the Model.
type Option func(*options)

type options struct {
	apiKey            string
	baseURL           string
	channelBufferSize int
	extraRequestOpts  []openaiopt.RequestOption
}

// WithAPIKey sets the API key. Defaults to the OPENAI_API_KEY environment
// variable.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithBaseURL sets the API base URL for OpenAI-compatible providers.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithChannelBufferSize sets the response channel buffer size.
func WithChannelBufferSize(size int) Option {
	return func(o *options) {
		if size > 0 {
			o.channelBufferSize = size
		}
	}
}

// WithRequestOptions appends raw openai-go request options applied to every
// call, e.g. custom headers for a gateway.
func WithRequestOptions(opts ...openaiopt.RequestOption) Option {
	return func(o *options) { o.extraRequestOpts = append(o.extraRequestOpts, opts...) }
}

// New creates an OpenAI-backed model with the given model name.
func New(name string, opts ...Option) *Model {
	o := &options{
		apiKey:            os.Getenv("OPENAI_API_KEY"),
		baseURL:           os.Getenv("OPENAI_BASE_URL"),
		channelBufferSize: defaultChannelBufferSize,
	}
	for _, opt := range opts {
		opt(o)
	}

	clientOpts := []openaiopt.RequestOption{openaiopt.WithAPIKey(o.apiKey)}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, openaiopt.WithBaseURL(o.baseURL))
	}
	clientOpts = append(clientOpts, o.extraRequestOpts...)

	return &Model{
		name:              name,
		client:            openai.NewClient(clientOpts...),
		channelBufferSize: o.channelBufferSize,
	}
}

// Info implements the model.Model interface.
func (m *Model) Info() model.Info {
	return model.Info{Name: m.name}
}

// GenerateContent implements the model.Model interface. Only the
// non-streaming path is used by the memory service; Stream requests are
// served as a single final response as well.
func (m *Model) GenerateContent(
	ctx context.Context,
	request *model.Request,
) (<-chan *model.Response, error) {
	if request == nil {
		return nil, errors.New("request cannot be nil")
	}

	chatRequest := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(m.name),
		Messages: convertMessages(request.Messages),
	}
	if request.JSONResponse {
		chatRequest.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		}
	}
	// MaxTokens is deprecated and not compatible with o-series models.
	// Use MaxCompletionTokens instead.
	if request.MaxTokens != nil {
		chatRequest.MaxCompletionTokens = openai.Int(int64(*request.MaxTokens))
	}
	if request.Temperature != nil {
		chatRequest.Temperature = openai.Float(*request.Temperature)
	}

	responseChan := make(chan *model.Response, m.channelBufferSize)
	go func() {
		defer close(responseChan)
		m.handleCompletion(ctx, chatRequest, responseChan)
	}()
	return responseChan, nil
}

func (m *Model) handleCompletion(
	ctx context.Context,
	chatRequest openai.ChatCompletionNewParams,
	responseChan chan<- *model.Response,
) {
	chatCompletion, err := m.client.Chat.Completions.New(ctx, chatRequest)
	if err != nil {
		errType := model.ErrorTypeAPIError
		if errors.Is(err, context.DeadlineExceeded) {
			errType = model.ErrorTypeTimeout
		}
		errorResponse := &model.Response{
			Error: &model.ResponseError{
				Message: err.Error(),
				Type:    errType,
			},
			Timestamp: time.Now(),
			Done:      true,
		}
		select {
		case responseChan <- errorResponse:
		case <-ctx.Done():
		}
		return
	}

	response := &model.Response{
		ID:        chatCompletion.ID,
		Model:     chatCompletion.Model,
		Timestamp: time.Now(),
		Done:      true,
	}
	if len(chatCompletion.Choices) > 0 {
		response.Choices = make([]model.Choice, len(chatCompletion.Choices))
		for i, choice := range chatCompletion.Choices {
			response.Choices[i] = model.Choice{
				Index: int(choice.Index),
				Message: model.Message{
					Role:    model.RoleAssistant,
					Content: choice.Message.Content,
				},
			}
		}
	}
	if chatCompletion.Usage.PromptTokens > 0 || chatCompletion.Usage.CompletionTokens > 0 {
		response.Usage = &model.Usage{
			PromptTokens:     int(chatCompletion.Usage.PromptTokens),
			CompletionTokens: int(chatCompletion.Usage.CompletionTokens),
			TotalTokens:      int(chatCompletion.Usage.TotalTokens),
		}
	}

	select {
	case responseChan <- response:
	case <-ctx.Done():
	}
}

// convertMessages converts our Message format to OpenAI's format.
func convertMessages(messages []model.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case model.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case model.RoleAssistant:
			result = append(result, openai.AssistantMessage(msg.Content))
		default:
			result = append(result, openai.UserMessage(msg.Content))
		}
	}
	return result
}
