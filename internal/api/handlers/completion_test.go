package handlers_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/api/handlers"
	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/internal/connectors"
	"github.com/lamb-project/lamb-kb-server/internal/orgconfig"
	"github.com/lamb-project/lamb-kb-server/internal/rag"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// newTestCompletion wires a CompletionHandlers instance backed by a static
// directory and the deterministic bypass connector, with RAG retrieval
// disabled so no vector store or catalog is needed: an assistant with
// no rag_collections skips the fan-out entirely.
func newTestCompletion(t *testing.T) (*handlers.CompletionHandlers, *orgconfig.StaticDirectory, *bool) {
	t.Helper()
	dir := orgconfig.NewStaticDirectory()
	dir.RegisterAssistant(models.Assistant{
		ID:            "helper",
		Owner:         "acme",
		ConnectorName: "bypass",
		SystemPrompt:  "you are a concise assistant",
	})
	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{
			"bypass": {Enabled: true, DefaultModel: "bypass-model"},
		},
	})

	connectorRegistry := connectors.NewRegistry()
	connectorRegistry.Register(connectors.NewBypassConnector())

	resolver := orgconfig.New(dir, config.ProviderDefaultsConfig{})
	orchestrator := rag.New(dir, resolver, nil, connectorRegistry)

	reloaded := false
	h := handlers.NewCompletionHandlers(dir, orchestrator, func() { reloaded = true })
	return h, dir, &reloaded
}

func TestModels_ListsAssistantsAsModels(t *testing.T) {
	h, _, _ := newTestCompletion(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
	w := httptest.NewRecorder()
	h.Models(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Models() status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(body.Data) != 1 || body.Data[0].ID != "lamb_assistant.helper" {
		t.Errorf("Models() data = %+v, want one entry with id %q", body.Data, "lamb_assistant.helper")
	}
}

func TestChatCompletions_BufferedResponse(t *testing.T) {
	h, _, _ := newTestCompletion(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"model":    "lamb_assistant.helper",
		"messages": []map[string]string{{"role": "user", "content": "hello there"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ChatCompletions() status = %d, body = %s", w.Code, w.Body.String())
	}
	var chunk models.ChatChunk
	if err := json.Unmarshal(w.Body.Bytes(), &chunk); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(chunk.Choices) == 0 {
		t.Fatal("ChatCompletions() response has no choices")
	}
	if chunk.ID == "" {
		t.Error("ChatCompletions() response has no id")
	}
}

func TestChatCompletions_UnknownModelPrefix(t *testing.T) {
	h, _, _ := newTestCompletion(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"model":    "gpt-4o",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("ChatCompletions() with a non-assistant model id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestChatCompletions_PromptFallback(t *testing.T) {
	h, _, _ := newTestCompletion(t)

	payload, _ := json.Marshal(map[string]interface{}{
		"model":  "lamb_assistant.helper",
		"prompt": "a bare prompt field",
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("ChatCompletions() with prompt field: status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestChatCompletions_NoMessageSource(t *testing.T) {
	h, _, _ := newTestCompletion(t)

	payload, _ := json.Marshal(map[string]interface{}{"model": "lamb_assistant.helper"})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewReader(payload))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("ChatCompletions() with no messages/prompt: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestPipelinesReload_InvokesCallback(t *testing.T) {
	h, _, reloaded := newTestCompletion(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/pipelines/reload", nil)
	w := httptest.NewRecorder()
	h.PipelinesReload(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("PipelinesReload() status = %d, want %d", w.Code, http.StatusOK)
	}
	if !*reloaded {
		t.Error("PipelinesReload() did not invoke the reload callback")
	}
}
