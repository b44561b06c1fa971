package plugins

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/chunker"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// SimpleIngest chunks plain text files by rune, character-window, or
// token count. It is the default file-ingest plugin.
type SimpleIngest struct{}

func NewSimpleIngest() *SimpleIngest { return &SimpleIngest{} }

func (p *SimpleIngest) Name() string { return "simple_ingest" }
func (p *SimpleIngest) Kind() Kind   { return KindFileIngest }
func (p *SimpleIngest) Description() string {
	return "Splits plain text into overlapping chunks by character, token, or recursive boundary."
}
func (p *SimpleIngest) SupportedFileTypes() []string { return []string{".txt", ".md", ".csv", ".log"} }

func (p *SimpleIngest) Parameters() []ParamSchema {
	return chunkingParams()
}

func (p *SimpleIngest) Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error) {
	raw, err := os.ReadFile(req.FilePath)
	if err != nil {
		return nil, apierr.PluginError(fmt.Sprintf("simple_ingest: read %s: %v", req.FilePath, err))
	}

	cfg := chunker.DefaultChunkerConfig()
	if v, ok := req.Params["chunk_size"]; ok {
		cfg.ChunkSize = toInt(v, cfg.ChunkSize)
	}
	if v, ok := req.Params["chunk_overlap"]; ok {
		cfg.ChunkOverlap = toInt(v, cfg.ChunkOverlap)
	}
	if v, ok := req.Params["splitter_type"].(string); ok && v != "" {
		switch chunker.SplitterType(v) {
		case chunker.SplitterRecursive, chunker.SplitterChar, chunker.SplitterToken:
			cfg.Splitter = chunker.SplitterType(v)
		default:
			return nil, apierr.BadInput("simple_ingest: unsupported splitter_type %q", v)
		}
	}

	parts := chunker.ChunkText(string(raw), cfg)
	now := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, models.Chunk{
			Text: part.Text,
			Metadata: map[string]interface{}{
				models.MetaSource:             req.FilePath,
				models.MetaChunkingStrategy:   string(cfg.Splitter),
				models.MetaChunkIndex:         part.Index,
				models.MetaChunkCount:         len(parts),
				models.MetaIngestionTimestamp: now,
				models.MetaDocumentID:         uuid.NewString(),
			},
		})
	}
	return chunks, nil
}

func toInt(v interface{}, fallback int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return fallback
	}
}
