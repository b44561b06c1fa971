package plugins

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// MockaiJSONIngest reads a JSON array (or single object) where each element
// carries a "text" field plus arbitrary metadata; every element becomes
// exactly one chunk, with no resplitting. ZIP archives are unpacked
// in-memory and every contained .json member is processed the same way.
type MockaiJSONIngest struct{}

func NewMockaiJSONIngest() *MockaiJSONIngest { return &MockaiJSONIngest{} }

func (p *MockaiJSONIngest) Name() string { return "mockai_json_ingest" }
func (p *MockaiJSONIngest) Kind() Kind   { return KindFileIngest }
func (p *MockaiJSONIngest) Description() string {
	return "Ingests a JSON array of {text, ...metadata} records, one chunk per record."
}
func (p *MockaiJSONIngest) SupportedFileTypes() []string { return []string{".json", ".zip"} }
func (p *MockaiJSONIngest) Parameters() []ParamSchema    { return nil }

func (p *MockaiJSONIngest) Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(req.FilePath))

	var chunks []models.Chunk
	now := time.Now().UTC().Format(time.RFC3339)

	switch ext {
	case ".zip":
		r, err := zip.OpenReader(req.FilePath)
		if err != nil {
			return nil, apierr.PluginError(fmt.Sprintf("mockai_json_ingest: open zip: %v", err))
		}
		defer r.Close()
		for _, f := range r.File {
			if strings.ToLower(filepath.Ext(f.Name)) != ".json" {
				continue
			}
			rc, err := f.Open()
			if err != nil {
				return nil, apierr.PluginError(fmt.Sprintf("mockai_json_ingest: open %s: %v", f.Name, err))
			}
			raw, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return nil, apierr.PluginError(fmt.Sprintf("mockai_json_ingest: read %s: %v", f.Name, err))
			}
			parsed, err := jsonRecordsToChunks(raw, f.Name, now)
			if err != nil {
				return nil, err
			}
			chunks = append(chunks, parsed...)
		}
	default:
		raw, err := os.ReadFile(req.FilePath)
		if err != nil {
			return nil, apierr.PluginError(fmt.Sprintf("mockai_json_ingest: read %s: %v", req.FilePath, err))
		}
		parsed, err := jsonRecordsToChunks(raw, req.FilePath, now)
		if err != nil {
			return nil, err
		}
		chunks = parsed
	}

	for i := range chunks {
		chunks[i].Metadata[models.MetaChunkIndex] = i
		chunks[i].Metadata[models.MetaChunkCount] = len(chunks)
	}
	return chunks, nil
}

func jsonRecordsToChunks(raw []byte, source, timestamp string) ([]models.Chunk, error) {
	var records []map[string]interface{}

	var arr []map[string]interface{}
	if err := json.Unmarshal(raw, &arr); err == nil {
		records = arr
	} else {
		var single map[string]interface{}
		if err := json.Unmarshal(raw, &single); err != nil {
			return nil, apierr.BadInput("mockai_json_ingest: %s is not a JSON array or object: %v", source, err)
		}
		records = []map[string]interface{}{single}
	}

	chunks := make([]models.Chunk, 0, len(records))
	for _, rec := range records {
		text, _ := rec["text"].(string)
		metadata := map[string]interface{}{
			models.MetaSource:             source,
			models.MetaChunkingStrategy:   "mockai_json",
			models.MetaIngestionTimestamp: timestamp,
			models.MetaDocumentID:         uuid.NewString(),
		}
		for k, v := range rec {
			if k == "text" {
				continue
			}
			metadata[k] = v
		}
		chunks = append(chunks, models.Chunk{Text: text, Metadata: metadata})
	}
	return chunks, nil
}
