package connectors

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// LocalConnector invokes a local subprocess CLI, feeding it the last user
// message on stdin and capturing stdout as the completion, for offline
// development without any provider credentials. Provider.Endpoint
// names the executable; Provider.Models[0]/req.Model may be passed through
// as a CLI argument when the binary accepts one.
type LocalConnector struct{}

func NewLocalConnector() *LocalConnector { return &LocalConnector{} }

func (c *LocalConnector) Name() string { return "local" }

func (c *LocalConnector) Connect(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)
	defer cancel()

	if req.Provider.Endpoint == "" {
		chunk := errorChunk(req.Model, fmt.Errorf("local connector requires an executable path in provider endpoint"))
		return Result{Response: &chunk}, nil
	}

	cmd := exec.CommandContext(ctx, req.Provider.Endpoint, req.Model)
	cmd.Stdin = strings.NewReader(lastUserContent(req.Messages))
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		chunk := errorChunk(req.Model, fmt.Errorf("%w: %s", err, stderr.String()))
		return Result{Response: &chunk}, nil
	}

	chunk := models.ChatChunk{
		Object: "chat.completion.chunk",
		Model:  req.Model,
		Choices: []models.ChatChoice{{
			Index:        0,
			Delta:        models.ChatDelta{Role: "assistant", Content: strings.TrimRight(stdout.String(), "\n")},
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
