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

// OpenAIFunc implements EmbedFunc for OpenAI's embedding API.
// Supports text-embedding-3-small (1536d), text-embedding-3-large (3072d),
// and text-embedding-ada-002 (1536d).
type OpenAIFunc struct {
	apiKey     string
	model      string
	endpoint   string // defaults to https://api.openai.com/v1/embeddings
	dimensions int
	batchSize  int
	client     *http.Client
}

// NewOpenAIFunc creates an OpenAI embedding function bound to one model.
// endpoint, if empty, defaults to the public OpenAI API.
func NewOpenAIFunc(apiKey, model, endpoint string) *OpenAIFunc {
	dims := 1536
	switch model {
	case "text-embedding-3-large":
		dims = 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		dims = 1536
	}
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/embeddings"
	}

	return &OpenAIFunc{
		apiKey:     apiKey,
		model:      model,
		endpoint:   endpoint,
		dimensions: dims,
		batchSize:  2048,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (f *OpenAIFunc) Dimensions() int   { return f.dimensions }
func (f *OpenAIFunc) MaxBatchSize() int { return f.batchSize }

type openAIEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type openAIEmbedResponse struct {
	Data  []openAIEmbedData `json:"data"`
	Error *openAIError      `json:"error,omitempty"`
}

type openAIEmbedData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed generates vector embeddings for a batch of texts.
func (f *OpenAIFunc) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > f.batchSize {
		return nil, apierr.EmbeddingError(fmt.Sprintf("batch size %d exceeds max %d", len(texts), f.batchSize))
	}

	body, err := json.Marshal(openAIEmbedRequest{Input: texts, Model: f.model})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+f.apiKey)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, apierr.EmbeddingError(fmt.Sprintf("openai embeddings request failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, apierr.EmbeddingError(fmt.Sprintf("openai embeddings API returned %d: %s", resp.StatusCode, truncate(respBody, 300)))
	}

	var result openAIEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, apierr.EmbeddingError(fmt.Sprintf("malformed openai embeddings response: %s", truncate(respBody, 300)))
	}
	if result.Error != nil {
		return nil, apierr.EmbeddingError(fmt.Sprintf("openai error: %s (%s)", result.Error.Message, result.Error.Type))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range result.Data {
		if d.Index < len(vectors) {
			vectors[d.Index] = d.Embedding
		}
	}
	return vectors, nil
}

// HealthCheck validates the descriptor by embedding a sentinel string.
func (f *OpenAIFunc) HealthCheck(ctx context.Context) error {
	_, err := f.Embed(ctx, []string{"health check"})
	return err
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
