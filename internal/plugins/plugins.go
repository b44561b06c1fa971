// Package plugins implements the Ingestion Plugin Registry:
// pluggable file/URL/remote-source readers that turn a source into a
// sequence of text+metadata chunks, and pluggable query strategies that
// turn a query text into ranked results. Plugins never touch the catalog
// or the vector store directly; the Ingestion Pipeline and Query Service
// own those concerns.
package plugins

import (
	"context"
	"fmt"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// Kind classifies how a plugin consumes its source.
type Kind string

const (
	KindFileIngest   Kind = "file-ingest"
	KindBaseIngest   Kind = "base-ingest"
	KindRemoteIngest Kind = "remote-ingest"
)

// IngestRequest carries everything a plugin needs to produce chunks. File
// plugins read FilePath, URL plugins read URLs, and other inputs (such as
// youtube_transcript_ingest's video_url) arrive in Params; the Ingestion
// Pipeline populates whichever the plugin's Kind expects.
type IngestRequest struct {
	FilePath  string
	SourceURL string // file_url recorded on the FileRegistry entry
	Params    map[string]interface{}
	URLs      []string // for remote plugins that accept urls[]
}

// ParamSchema documents one parameter a plugin accepts, surfaced through
// GET /ingestion/plugins and GET /query/plugins so callers can build a
// form or validate a request body without reading the plugin's source.
type ParamSchema struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"` // "string", "int", "float", "bool", "string[]"
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
	Description string      `json:"description,omitempty"`
}

// IngestPlugin turns a source into ordered chunks. Implementations must be
// pure with respect to the catalog and vector store: no persistence,
// no embedding.
type IngestPlugin interface {
	Name() string
	Kind() Kind
	Description() string
	SupportedFileTypes() []string
	Parameters() []ParamSchema
	Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error)
}

// QueryPlugin dispatches a query against an already-opened vector store
// handle and returns raw adapter results; the Query Service converts
// distance to similarity and applies threshold/top-k.
type QueryPlugin interface {
	Name() string
	Parameters() []ParamSchema
	Query(ctx context.Context, handle vectorstore.Handle, queryText string, params map[string]interface{}) (vectorstore.QueryResult, error)
}

// Registry holds plugin instances by name, mirroring the vectorstore
// registry's thread-safe Register/Get/List shape.
type Registry struct {
	mu     sync.RWMutex
	ingest map[string]IngestPlugin
	query  map[string]QueryPlugin
}

func NewRegistry() *Registry {
	return &Registry{
		ingest: make(map[string]IngestPlugin),
		query:  make(map[string]QueryPlugin),
	}
}

func (r *Registry) RegisterIngest(p IngestPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ingest[p.Name()] = p
}

func (r *Registry) RegisterQuery(p QueryPlugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.query[p.Name()] = p
}

func (r *Registry) GetIngest(name string) (IngestPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.ingest[name]
	if !ok {
		return nil, fmt.Errorf("ingestion plugin not found: %s", name)
	}
	return p, nil
}

func (r *Registry) GetQuery(name string) (QueryPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.query[name]
	if !ok {
		return nil, fmt.Errorf("query plugin not found: %s", name)
	}
	return p, nil
}

type IngestPluginInfo struct {
	Name               string        `json:"name"`
	Kind               Kind          `json:"kind"`
	Description        string        `json:"description"`
	SupportedFileTypes []string      `json:"supported_file_types"`
	Parameters         []ParamSchema `json:"parameters"`
}

func (r *Registry) ListIngest() []IngestPluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]IngestPluginInfo, 0, len(r.ingest))
	for _, p := range r.ingest {
		out = append(out, IngestPluginInfo{
			Name:               p.Name(),
			Kind:               p.Kind(),
			Description:        p.Description(),
			SupportedFileTypes: p.SupportedFileTypes(),
			Parameters:         p.Parameters(),
		})
	}
	return out
}

// chunkingParams documents the chunk_size/chunk_overlap/splitter_type knobs
// shared by every plugin that delegates to chunker.ChunkText.
func chunkingParams() []ParamSchema {
	return []ParamSchema{
		{Name: "chunk_size", Type: "int", Default: 1000, Description: "target chunk size, in runes or tokens"},
		{Name: "chunk_overlap", Type: "int", Default: 200, Description: "overlap between consecutive chunks"},
		{Name: "splitter_type", Type: "string", Default: "recursive", Description: "recursive | char | token"},
	}
}

type QueryPluginInfo struct {
	Name       string        `json:"name"`
	Parameters []ParamSchema `json:"parameters"`
}

func (r *Registry) ListQuery() []QueryPluginInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]QueryPluginInfo, 0, len(r.query))
	for _, p := range r.query {
		out = append(out, QueryPluginInfo{Name: p.Name(), Parameters: p.Parameters()})
	}
	return out
}
