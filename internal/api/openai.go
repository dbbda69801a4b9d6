package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/sashabaranov/go-openai"

	"github.com/jasonewillis/specialists/internal/registry"
)

// DefaultOpenAIModel is used when no model is configured.
const DefaultOpenAIModel = openai.GPT4oMini

// OpenAIConfig configures an OpenAI-compatible endpoint such as OpenAI
// itself or OpenRouter.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	MaxTokens int
}

// OpenAIWorker answers invocations with a chat completion.
type OpenAIWorker struct {
	client    *openai.Client
	model     string
	maxTokens int
	tracker   *TokenTracker
}

// NewOpenAIWorker creates a handle for an OpenAI-compatible endpoint.
func NewOpenAIWorker(cfg OpenAIConfig) (*OpenAIWorker, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is not set")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultOpenAIModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &OpenAIWorker{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: maxTokens,
		tracker:   NewTokenTracker(),
	}, nil
}

// Tracker returns the token tracker.
func (w *OpenAIWorker) Tracker() *TokenTracker {
	return w.tracker
}

// Invoke implements registry.Handle.
func (w *OpenAIWorker) Invoke(ctx context.Context, req registry.InvokeRequest) (registry.InvokeResult, error) {
	system, user := BuildPrompt(req)
	resp, err := w.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     w.model,
		MaxTokens: w.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return registry.InvokeResult{}, fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return registry.InvokeResult{}, errors.New("no choices in response")
	}

	w.tracker.Add(int64(resp.Usage.PromptTokens), int64(resp.Usage.CompletionTokens))
	choice := resp.Choices[0]
	return registry.InvokeResult{
		Success: choice.Message.Content != "",
		Output:  choice.Message.Content,
		Metadata: map[string]string{
			"provider":      "openai",
			"model":         resp.Model,
			"tokens_in":     strconv.Itoa(resp.Usage.PromptTokens),
			"tokens_out":    strconv.Itoa(resp.Usage.CompletionTokens),
			"finish_reason": string(choice.FinishReason),
		},
	}, nil
}
