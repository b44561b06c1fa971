package plugins

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/chunker"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// URLIngest fetches each URL in req.URLs, converts the response body to
// Markdown with the same html-to-markdown pipeline as markitdown_ingest,
// and chunks the result with the standard chunking knobs.
type URLIngest struct {
	Client *http.Client
}

func NewURLIngest() *URLIngest {
	return &URLIngest{Client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *URLIngest) Name() string                 { return "url_ingest" }
func (p *URLIngest) Kind() Kind                   { return KindRemoteIngest }
func (p *URLIngest) Description() string          { return "Fetches URLs and chunks their content as Markdown." }
func (p *URLIngest) SupportedFileTypes() []string { return nil }

func (p *URLIngest) Parameters() []ParamSchema {
	params := chunkingParams()
	return append(params, ParamSchema{Name: "urls", Type: "string[]", Required: true, Description: "URLs to fetch"})
}

func (p *URLIngest) Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error) {
	if len(req.URLs) == 0 {
		return nil, apierr.BadInput("url_ingest: urls[] is required")
	}

	cfg := chunker.DefaultChunkerConfig()
	if v, ok := req.Params["chunk_size"]; ok {
		cfg.ChunkSize = toInt(v, cfg.ChunkSize)
	}
	if v, ok := req.Params["chunk_overlap"]; ok {
		cfg.ChunkOverlap = toInt(v, cfg.ChunkOverlap)
	}
	if v, ok := req.Params["splitter_type"].(string); ok && v != "" {
		cfg.Splitter = chunker.SplitterType(v)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	now := time.Now().UTC().Format(time.RFC3339)
	var chunks []models.Chunk
	for _, url := range req.URLs {
		markdown, err := fetchMarkdown(ctx, client, url)
		if err != nil {
			return nil, apierr.PluginError(fmt.Sprintf("url_ingest: %v", err))
		}

		parts := chunker.ChunkText(markdown, cfg)
		for _, part := range parts {
			chunks = append(chunks, models.Chunk{
				Text: part.Text,
				Metadata: map[string]interface{}{
					models.MetaSource:             url,
					models.MetaFileURL:            url,
					models.MetaChunkingStrategy:   string(cfg.Splitter),
					models.MetaChunkIndex:         part.Index,
					models.MetaChunkCount:         len(parts),
					models.MetaIngestionTimestamp: now,
					models.MetaDocumentID:         uuid.NewString(),
				},
			})
		}
	}
	return chunks, nil
}

func fetchMarkdown(ctx context.Context, client *http.Client, url string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", url, err)
	}

	markdown, _, err := htmlToMarkdown(body)
	if err != nil {
		return "", fmt.Errorf("convert %s: %w", url, err)
	}
	return markdown, nil
}
