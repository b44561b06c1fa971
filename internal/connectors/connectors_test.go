package connectors_test

import (
	"context"
	"strings"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/connectors"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// ─── ResolveModel fallback chain ─────────────────────────────

func TestResolveModel_RequestedWins(t *testing.T) {
	cfg := models.ProviderConfig{Models: []string{"gpt-4o", "gpt-4o-mini"}, DefaultModel: "gpt-4o-mini"}
	got, err := connectors.ResolveModel("gpt-4o", cfg)
	if err != nil {
		t.Fatalf("ResolveModel() error = %v", err)
	}
	if got != "gpt-4o" {
		t.Errorf("ResolveModel() = %q, want %q", got, "gpt-4o")
	}
}

func TestResolveModel_FallsBackToDefault(t *testing.T) {
	cfg := models.ProviderConfig{Models: []string{"gpt-4o", "gpt-4o-mini"}, DefaultModel: "gpt-4o-mini"}
	got, err := connectors.ResolveModel("not-configured", cfg)
	if err != nil {
		t.Fatalf("ResolveModel() error = %v", err)
	}
	if got != "gpt-4o-mini" {
		t.Errorf("ResolveModel() = %q, want %q", got, "gpt-4o-mini")
	}
}

func TestResolveModel_FallsBackToFirstAvailable(t *testing.T) {
	cfg := models.ProviderConfig{Models: []string{"llama3", "mixtral"}}
	got, err := connectors.ResolveModel("", cfg)
	if err != nil {
		t.Fatalf("ResolveModel() error = %v", err)
	}
	if got != "llama3" {
		t.Errorf("ResolveModel() = %q, want %q", got, "llama3")
	}
}

func TestResolveModel_NoneAvailable(t *testing.T) {
	_, err := connectors.ResolveModel("anything", models.ProviderConfig{})
	if err == nil {
		t.Fatal("ResolveModel() expected error when no model is available")
	}
}

// ─── BypassConnector ──────────────────────────────────────────

func TestBypassConnector_Buffered(t *testing.T) {
	c := connectors.NewBypassConnector()
	req := connectors.Request{
		Messages: []models.ChatMessage{{Role: "user", Content: "hello there"}},
		Model:    "bypass-model",
	}
	result, err := c.Connect(context.Background(), req)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if result.Response == nil {
		t.Fatal("Connect() buffered request returned no Response")
	}
	content := result.Response.Choices[0].Delta.Content
	if !strings.Contains(content, "hello there") {
		t.Errorf("Connect().Response content = %q, want it to echo the last user message", content)
	}
	if result.Response.Choices[0].FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want %q", result.Response.Choices[0].FinishReason, "stop")
	}
}

func TestBypassConnector_Streamed(t *testing.T) {
	c := connectors.NewBypassConnector()
	req := connectors.Request{
		Messages: []models.ChatMessage{{Role: "user", Content: "stream me"}},
		Stream:   true,
	}
	result, err := c.Connect(context.Background(), req)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if result.Chunks == nil {
		t.Fatal("Connect() streamed request returned no Chunks channel")
	}

	var got []models.ChatChunk
	for chunk := range result.Chunks {
		got = append(got, chunk)
	}
	if len(got) != 1 {
		t.Fatalf("Connect() streamed %d chunks, want 1", len(got))
	}
	if !strings.Contains(got[0].Choices[0].Delta.Content, "stream me") {
		t.Errorf("chunk content = %q, want it to echo the last user message", got[0].Choices[0].Delta.Content)
	}
}

func TestBypassConnector_NoUserMessage(t *testing.T) {
	c := connectors.NewBypassConnector()
	req := connectors.Request{Messages: []models.ChatMessage{{Role: "system", Content: "be nice"}}}
	result, err := c.Connect(context.Background(), req)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !strings.HasPrefix(result.Response.Choices[0].Delta.Content, "bypass echo: ") {
		t.Errorf("content = %q, want the bypass echo prefix even with no user message", result.Response.Choices[0].Delta.Content)
	}
}

// ─── Registry ─────────────────────────────────────────────────

func TestRegistry_GetUnknown(t *testing.T) {
	r := connectors.NewRegistry()
	r.Register(connectors.NewBypassConnector())

	if _, err := r.Get("bypass"); err != nil {
		t.Errorf("Get(%q) error = %v, want nil", "bypass", err)
	}
	if _, err := r.Get("does-not-exist"); err == nil {
		t.Error("Get() on an unregistered connector: error = nil, want non-nil")
	}
}
