// Package connectors implements the LLM Connector Layer: a uniform
// contract over provider backends, normalizing both streamed and buffered
// responses to the OpenAI chat-completion chunk schema.
package connectors

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	"github.com/rs/zerolog/log"
)

// Timeout is the overall per-call budget every connector enforces.
const Timeout = 120 * time.Second

// Request is the normalized inbound call into a connector. Model is already
// resolved against the caller's provider config (see ResolveModel) before
// the connector ever sees it.
type Request struct {
	Messages []models.ChatMessage
	Stream   bool
	Body     map[string]interface{}
	Model    string
	Provider models.ProviderConfig
}

// Result carries exactly one of Chunks (streaming) or Response (buffered).
// Both use the same models.ChatChunk shape.
type Result struct {
	Chunks   <-chan models.ChatChunk
	Response *models.ChatChunk
}

// Connector is implemented by each provider backend.
type Connector interface {
	Name() string
	Connect(ctx context.Context, req Request) (Result, error)
}

// Registry holds connectors by name.
type Registry struct {
	mu         sync.RWMutex
	connectors map[string]Connector
}

func NewRegistry() *Registry {
	return &Registry{connectors: make(map[string]Connector)}
}

func (r *Registry) Register(c Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectors[c.Name()] = c
}

func (r *Registry) Get(name string) (Connector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connectors[name]
	if !ok {
		return nil, apierr.BadInput("unknown connector %q", name)
	}
	return c, nil
}

// ResolveModel implements the fallback chain: requested model, then
// the provider's default_model, then the first configured model, then
// ConfigError when nothing is available.
func ResolveModel(requested string, cfg models.ProviderConfig) (string, error) {
	if requested != "" && contains(cfg.Models, requested) {
		return requested, nil
	}
	if cfg.DefaultModel != "" {
		if requested != "" {
			log.Info().Str("requested", requested).Str("resolved", cfg.DefaultModel).Msg("model not configured, falling back to default_model")
		}
		return cfg.DefaultModel, nil
	}
	if len(cfg.Models) > 0 {
		log.Info().Str("requested", requested).Str("resolved", cfg.Models[0]).Msg("model not configured, falling back to first available")
		return cfg.Models[0], nil
	}
	return "", apierr.ConfigError("no model available for provider (requested %q)", requested)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// errorChunk builds the single-chunk error response every connector returns
// on a provider-native failure: finish_reason "stop", explanatory
// content, no further chunks.
func errorChunk(model string, err error) models.ChatChunk {
	return models.ChatChunk{
		Object:  "chat.completion.chunk",
		Created: 0,
		Model:   model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Delta:        models.ChatDelta{Content: fmt.Sprintf("connector error: %v", err)},
			FinishReason: "stop",
		}},
	}
}

func lastUserContent(messages []models.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
