package connectors

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// OpenAIConnector talks to an OpenAI-compatible HTTPS chat-completions
// endpoint with bearer auth.
type OpenAIConnector struct {
	Client *http.Client
}

func NewOpenAIConnector() *OpenAIConnector {
	return &OpenAIConnector{Client: &http.Client{Timeout: Timeout}}
}

func (c *OpenAIConnector) Name() string { return "openai" }

func (c *OpenAIConnector) Connect(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, Timeout)

	endpoint := req.Provider.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1"
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

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(endpoint, "/")+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+req.Provider.APIKey)

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

	if !req.Stream {
		defer resp.Body.Close()
		defer cancel()
		var decoded struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
			Model   string `json:"model"`
			Choices []struct {
				Index   int `json:"index"`
				Message struct {
					Role    string `json:"role"`
					Content string `json:"content"`
				} `json:"message"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
			chunk := errorChunk(req.Model, fmt.Errorf("decode response: %w", err))
			return Result{Response: &chunk}, nil
		}
		chunk := models.ChatChunk{ID: decoded.ID, Object: "chat.completion.chunk", Created: decoded.Created, Model: decoded.Model}
		for _, ch := range decoded.Choices {
			chunk.Choices = append(chunk.Choices, models.ChatChoice{
				Index:        ch.Index,
				Delta:        models.ChatDelta{Role: ch.Message.Role, Content: ch.Message.Content},
				FinishReason: ch.FinishReason,
			})
		}
		return Result{Response: &chunk}, nil
	}

	out := make(chan models.ChatChunk)
	go func() {
		defer cancel()
		defer resp.Body.Close()
		defer close(out)
		streamSSE(resp.Body, out)
	}()
	return Result{Chunks: out}, nil
}

// streamSSE parses an OpenAI-style "data: {...}" / "data: [DONE]" SSE body
// and forwards decoded chunks on out. The caller closes out.
func streamSSE(body io.Reader, out chan<- models.ChatChunk) {
	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk models.ChatChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		out <- chunk
	}
}
