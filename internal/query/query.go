// Package query implements the Query Service: validates a query,
// resolves the collection's bound embedding function, dispatches to the
// configured query plugin, and normalizes the adapter's raw distances into
// ordered, thresholded similarity results.
package query

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

const defaultQueryPlugin = "simple_query"

// Service is the Query Service.
type Service struct {
	catalog  *catalog.Store
	vector   vectorstore.Driver
	factory  *embeddings.Factory
	registry *plugins.Registry
}

func New(catalogStore *catalog.Store, vector vectorstore.Driver, factory *embeddings.Factory, registry *plugins.Registry) *Service {
	return &Service{catalog: catalogStore, vector: vector, factory: factory, registry: registry}
}

// Timing is the wall-clock cost of the vector-store query, reported in
// both seconds and milliseconds.
type Timing struct {
	TotalSeconds float64 `json:"total_seconds"`
	TotalMS      int64   `json:"total_ms"`
}

// Result is the outward shape of a query.
type Result struct {
	Results []models.QueryResult `json:"results"`
	Count   int                  `json:"count"`
	Timing  Timing               `json:"timing"`
	Query   string               `json:"query"`
}

// Request carries the parameters of one query call. TopK < 0 means "use
// the plugin's own default"; TopK == 0 short-circuits to an empty result;
// Threshold filters after similarity conversion.
type Request struct {
	CollectionID int64
	QueryText    string
	TopK         int
	Threshold    float64
	PluginName   string
	PluginParams map[string]interface{}
}

func (s *Service) Query(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.QueryText) == "" {
		return nil, apierr.BadInput("query_text is required")
	}
	if req.TopK == 0 {
		return &Result{Results: []models.QueryResult{}, Count: 0, Query: req.QueryText}, nil
	}

	collection, err := s.catalog.GetCollection(ctx, req.CollectionID)
	if err != nil {
		return nil, err
	}

	// Never the process default: exactly the embedding function recorded
	// at ingest time.
	embed, err := s.factory.Resolve(collection.EmbeddingModel)
	if err != nil {
		return nil, err
	}

	handle, err := s.vector.GetCollection(ctx, collection.VectorUUID, embed)
	if err != nil {
		return nil, apierr.StorageError(err)
	}

	pluginName := req.PluginName
	if pluginName == "" {
		pluginName = defaultQueryPlugin
	}
	plugin, err := s.registry.GetQuery(pluginName)
	if err != nil {
		return nil, apierr.BadInput("unknown query plugin %q", pluginName)
	}

	params := mergeParams(req.PluginParams, req.TopK, req.Threshold)

	start := time.Now()
	raw, err := plugin.Query(ctx, handle, req.QueryText, params)
	timing := time.Since(start)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindStorageError, "vector store query failed", err)
	}

	results := normalize(raw, req.Threshold)
	if req.TopK > 0 && len(results) > req.TopK {
		results = results[:req.TopK]
	}

	return &Result{
		Results: results,
		Count:   len(results),
		Timing:  Timing{TotalSeconds: timing.Seconds(), TotalMS: timing.Milliseconds()},
		Query:   req.QueryText,
	}, nil
}

func mergeParams(params map[string]interface{}, topK int, threshold float64) map[string]interface{} {
	merged := make(map[string]interface{}, len(params)+2)
	for k, v := range params {
		merged[k] = v
	}
	if topK > 0 {
		merged["top_k"] = topK
	}
	if threshold > 0 {
		merged["threshold"] = threshold
	}
	return merged
}

// normalize converts cosine distance in [0,2] to similarity = 1 - distance,
// drops results below threshold, and orders by descending similarity.
func normalize(raw vectorstore.QueryResult, threshold float64) []models.QueryResult {
	out := make([]models.QueryResult, 0, len(raw.IDs))
	for i := range raw.IDs {
		similarity := 1 - raw.Distances[i]
		if similarity < threshold {
			continue
		}
		out = append(out, models.QueryResult{
			ID:         raw.IDs[i],
			Text:       raw.Texts[i],
			Metadata:   raw.Metadatas[i],
			Similarity: similarity,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].ID < out[j].ID
	})
	return out
}
