package connectors

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// OllamaConnector talks to a local Ollama chat endpoint over plain HTTP,
// no auth.
type OllamaConnector struct {
	Client *http.Client
}

func NewOllamaConnector() *OllamaConnector {
	return &OllamaConnector{Client: &http.Client{Timeout: Timeout}}
}

func (c *OllamaConnector) Name() string { return "ollama" }

func (c *OllamaConnector) Connect(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)

	endpoint := req.Provider.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	body := map[string]interface{}{
		"model":    req.Model,
		"messages": req.Messages,
		"stream":   req.Stream,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(httpReq)
	if err != nil {
		cancel()
		chunk := errorChunk(req.Model, err)
		return Result{Response: &chunk}, nil
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		defer cancel()
		chunk := errorChunk(req.Model, fmt.Errorf("status %d", resp.StatusCode))
		return Result{Response: &chunk}, nil
	}

	type ollamaMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
	type ollamaLine struct {
		Model     string        `json:"model"`
		CreatedAt string        `json:"created_at"`
		Message   ollamaMessage `json:"message"`
		Done      bool          `json:"done"`
	}

	if !req.Stream {
		defer resp.Body.Close()
		defer cancel()
		var line ollamaLine
		if err := json.NewDecoder(resp.Body).Decode(&line); err != nil {
			chunk := errorChunk(req.Model, fmt.Errorf("decode response: %w", err))
			return Result{Response: &chunk}, nil
		}
		chunk := models.ChatChunk{
			Object: "chat.completion.chunk",
			Model:  line.Model,
			Choices: []models.ChatChoice{{
				Index:        0,
				Delta:        models.ChatDelta{Role: line.Message.Role, Content: line.Message.Content},
				FinishReason: "stop",
			}},
		}
		return Result{Response: &chunk}, nil
	}

	out := make(chan models.ChatChunk)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			raw := strings.TrimSpace(scanner.Text())
			if raw == "" {
				continue
			}
			var line ollamaLine
			if err := json.Unmarshal([]byte(raw), &line); err != nil {
				continue
			}
			finish := ""
			if line.Done {
				finish = "stop"
			}
			out <- models.ChatChunk{
				Object: "chat.completion.chunk",
				Model:  line.Model,
				Choices: []models.ChatChoice{{
					Index:        0,
					Delta:        models.ChatDelta{Role: line.Message.Role, Content: line.Message.Content},
					FinishReason: finish,
				}},
			}
		}
	}()
	return Result{Chunks: out}, nil
}
