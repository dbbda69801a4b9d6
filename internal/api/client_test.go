package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jasonewillis/specialists/internal/registry"
	"github.com/jasonewillis/specialists/pkg/models"
)

func TestNewClient_WithAPIKey(t *testing.T) {
	cfg := ClientConfig{
		APIKey: "test-key-123",
		Model:  anthropic.ModelClaudeSonnet4_20250514,
	}

	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
	if client.Tracker() == nil {
		t.Error("Tracker should not be nil")
	}
	if client.IsBedrock() {
		t.Error("IsBedrock = true for a direct client")
	}
}

func TestNewClient_WithEnvVar(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "env-test-key")

	client, err := NewClient(ClientConfig{})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client == nil {
		t.Fatal("NewClient returned nil")
	}
}

func TestNewClient_NoAPIKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	_, err := NewClient(ClientConfig{})
	if !errors.Is(err, ErrNoAPIKey) {
		t.Fatalf("NewClient error = %v, want ErrNoAPIKey", err)
	}
}

func TestNewClient_DefaultModel(t *testing.T) {
	client, err := NewClient(ClientConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if client.Model() != anthropic.ModelClaudeSonnet4_20250514 {
		t.Errorf("Default model = %q, want %q", client.Model(), anthropic.ModelClaudeSonnet4_20250514)
	}
}

func TestTranslateModelForBedrock(t *testing.T) {
	tests := []struct {
		in   anthropic.Model
		want anthropic.Model
	}{
		{anthropic.ModelClaudeSonnet4_20250514, "us.anthropic.claude-sonnet-4-20250514-v1:0"},
		{anthropic.ModelClaudeHaiku4_5_20251001, "us.anthropic.claude-haiku-4-5-20251001-v1:0"},
		{"us.anthropic.custom-v1:0", "us.anthropic.custom-v1:0"},
		{"my-model", "my-model"},
	}
	for _, tt := range tests {
		if got := translateModelForBedrock(tt.in); got != tt.want {
			t.Errorf("translateModelForBedrock(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenTracker_AddMultiple(t *testing.T) {
	tracker := NewTokenTracker()

	tracker.Add(100, 50)
	tracker.Add(200, 100)
	tracker.Add(50, 25)

	input, output := tracker.Total()
	if input != 350 {
		t.Errorf("Input tokens = %d, want 350", input)
	}
	if output != 175 {
		t.Errorf("Output tokens = %d, want 175", output)
	}
	if tracker.Calls() != 3 {
		t.Errorf("Calls = %d, want 3", tracker.Calls())
	}
}

func TestTokenTracker_Cost(t *testing.T) {
	tracker := NewTokenTracker()

	// $3 input plus $15 output.
	tracker.Add(1_000_000, 1_000_000)

	if cost := tracker.Cost(); cost != 18.0 {
		t.Errorf("Cost = %f, want 18", cost)
	}
}

func TestAnthropicWorker_Invoke(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-sonnet-4-20250514",
			"content": [{"type": "text", "text": "Use Stripe Billing."}],
			"stop_reason": "end_turn",
			"stop_sequence": null,
			"usage": {"input_tokens": 12, "output_tokens": 5}
		}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	w := NewAnthropicWorker(client)

	res, err := w.Invoke(context.Background(), registry.InvokeRequest{
		WorkerID: models.WorkerPayments,
		TaskType: models.TaskTypePayment,
		Query:    "Add subscription billing with Stripe",
	})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !res.Success || res.Output != "Use Stripe Billing." {
		t.Errorf("result = %+v", res)
	}
	if res.Metadata["tokens_in"] != "12" || res.Metadata["tokens_out"] != "5" {
		t.Errorf("metadata = %v", res.Metadata)
	}
	if in, out := client.Tracker().Total(); in != 12 || out != 5 {
		t.Errorf("tracker = %d/%d, want 12/5", in, out)
	}

	msgs, _ := body["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("request messages = %v", body["messages"])
	}
	raw, _ := json.Marshal(msgs[0])
	if !strings.Contains(string(raw), "Add subscription billing with Stripe") {
		t.Errorf("user message missing query: %s", raw)
	}
}

func TestAnthropicWorker_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad"}}`)
	}))
	defer srv.Close()

	client, err := NewClient(ClientConfig{APIKey: "test-key", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	_, err = NewAnthropicWorker(client).Invoke(context.Background(), registry.InvokeRequest{
		WorkerID: models.WorkerGeneralist,
		Query:    "hello",
	})
	if err == nil {
		t.Fatal("Invoke should fail on a 400 response")
	}
}

func TestNewClient_Bedrock(t *testing.T) {
	if os.Getenv("AWS_REGION") == "" && os.Getenv("AWS_DEFAULT_REGION") == "" {
		t.Skip("AWS_REGION not set, skipping Bedrock test")
	}

	client, err := NewClient(ClientConfig{
		UseAWSBedrock: true,
		AWSRegion:     "us-west-2",
		Model:         anthropic.ModelClaudeSonnet4_20250514,
	})
	if err != nil {
		t.Fatalf("NewClient with Bedrock failed: %v", err)
	}
	if !client.IsBedrock() {
		t.Errorf("Model = %q, want a bedrock inference profile", client.Model())
	}
}
