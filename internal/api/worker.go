package api

import (
	"context"
	"strconv"

	"github.com/jasonewillis/specialists/internal/registry"
)

// AnthropicWorker answers invocations with the Anthropic Messages API.
type AnthropicWorker struct {
	client *Client
}

// NewAnthropicWorker creates a handle backed by client.
func NewAnthropicWorker(client *Client) *AnthropicWorker {
	return &AnthropicWorker{client: client}
}

// Invoke implements registry.Handle.
func (w *AnthropicWorker) Invoke(ctx context.Context, req registry.InvokeRequest) (registry.InvokeResult, error) {
	system, user := BuildPrompt(req)
	c, err := w.client.Complete(ctx, system, user)
	if err != nil {
		return registry.InvokeResult{}, err
	}
	return registry.InvokeResult{
		Success: c.Text != "",
		Output:  c.Text,
		Metadata: map[string]string{
			"provider":    "anthropic",
			"model":       string(w.client.Model()),
			"tokens_in":   strconv.FormatInt(c.TokensIn, 10),
			"tokens_out":  strconv.FormatInt(c.TokensOut, 10),
			"stop_reason": c.StopReason,
		},
	}, nil
}
