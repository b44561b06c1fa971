package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
)

// OllamaFunc implements EmbedFunc for Ollama's local embedding API. It also
// backs the "local" vendor, which speaks the same protocol against whatever
// host:port the descriptor names.
// Supports nomic-embed-text (768d), mxbai-embed-large (1024d), all-minilm (384d).
type OllamaFunc struct {
	endpoint   string // e.g. http://localhost:11434
	model      string
	dimensions int
	batchSize  int
	client     *http.Client
}

// NewOllamaFunc creates an Ollama/local embedding function bound to one model.
func NewOllamaFunc(endpoint, model string) *OllamaFunc {
	dims := 768
	switch model {
	case "nomic-embed-text":
		dims = 768
	case "mxbai-embed-large":
		dims = 1024
	case "all-minilm", "all-minilm:l6-v2":
		dims = 384
	}
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}

	return &OllamaFunc{
		endpoint:   endpoint,
		model:      model,
		dimensions: dims,
		batchSize:  512,
		client:     &http.Client{Timeout: 120 * time.Second},
	}
}

func (f *OllamaFunc) Dimensions() int   { return f.dimensions }
func (f *OllamaFunc) MaxBatchSize() int { return f.batchSize }

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed generates vector embeddings. Ollama supports batch via /api/embed.
func (f *OllamaFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > f.batchSize {
		return nil, apierr.EmbeddingError(fmt.Sprintf("batch size %d exceeds max %d", len(texts), f.batchSize))
	}

	body, err := json.Marshal(ollamaEmbedRequest{Model: f.model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	url := f.endpoint + "/api/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apierr.EmbeddingError(fmt.Sprintf("ollama embed request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.EmbeddingError(fmt.Sprintf("ollama embed API returned %d: %s", resp.StatusCode, truncate(respBody, 300)))
	}

	var result ollamaEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apierr.EmbeddingError(fmt.Sprintf("malformed ollama embed response: %s", truncate(respBody, 300)))
	}

	if len(result.Embeddings) != len(texts) {
		return nil, apierr.EmbeddingError(fmt.Sprintf("expected %d embeddings, got %d", len(texts), len(result.Embeddings)))
	}
	return result.Embeddings, nil
}

// HealthCheck verifies the endpoint is reachable and the model responds.
func (f *OllamaFunc) HealthCheck(ctx context.Context) error {
	_, err := f.Embed(ctx, []string{"health check"})
	return err
}
