package connectors

import (
	"context"
	"fmt"

	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// BypassConnector performs no network I/O: it echoes a deterministic
// response derived from the last user message, for tests and local
// development without a live provider.
type BypassConnector struct{}

func NewBypassConnector() *BypassConnector { return &BypassConnector{} }

func (c *BypassConnector) Name() string { return "bypass" }

func (c *BypassConnector) Connect(ctx context.Context, req Request) (Result, error) {
	reply := fmt.Sprintf("bypass echo: %s", lastUserContent(req.Messages))
	chunk := models.ChatChunk{
		Object: "chat.completion.chunk",
		Model:  req.Model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Delta:        models.ChatDelta{Role: "assistant", Content: reply},
			FinishReason: "stop",
		}},
	}

	if !req.Stream {
		return Result{Response: &chunk}, nil
	}

	out := make(chan models.ChatChunk, 1)
	out <- chunk
	close(out)
	return Result{Chunks: out}, nil
}
