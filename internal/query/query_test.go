package query_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/internal/query"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// newTestService wires a Service over a real catalog, the embedded vector
// store, and an httptest-backed embeddings endpoint producing length-based
// 2-dimensional vectors: nearest neighbor is the text closest in length.
func newTestService(t *testing.T) (*query.Service, *models.Collection, vectorstore.Driver) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Input []string `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vectors := make([][]float32, len(req.Input))
		for i, text := range req.Input {
			vectors[i] = []float32{float32(len(text)), 1}
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"embeddings": vectors})
	}))
	t.Cleanup(srv.Close)

	factory := embeddings.NewFactory(config.ProviderDefaultsConfig{})
	vector := vectorstore.NewEmbeddedStore(t.TempDir())
	store, err := catalog.Open(filepath.Join(t.TempDir(), "catalog.db"), vector, factory)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })

	c, err := store.CreateCollection(context.Background(), "docs", "alice", "", models.VisibilityPrivate,
		models.ProviderDescriptor{Vendor: "ollama", Model: "nomic-embed-text", Endpoint: srv.URL})
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}

	registry := plugins.NewRegistry()
	registry.RegisterQuery(plugins.NewSimpleQuery())

	return query.New(store, vector, factory, registry), c, vector
}

func seedChunks(t *testing.T, vector vectorstore.Driver, c *models.Collection) {
	t.Helper()
	handle, err := vector.GetCollection(context.Background(), c.VectorUUID, nil)
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	err = handle.AddBatch(context.Background(),
		[]string{"c1", "c2", "c3"},
		[]string{"ab", "abcdefgh", "abcdefghijklmnop"},
		[]map[string]interface{}{
			{"chunk_index": 0, "embedding_vendor": "ollama"},
			{"chunk_index": 1, "embedding_vendor": "ollama"},
			{"chunk_index": 2, "embedding_vendor": "ollama"},
		},
	)
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}
}

func TestQuery_ReturnsOrderedSimilarities(t *testing.T) {
	service, c, vector := newTestService(t)
	seedChunks(t, vector, c)

	result, err := service.Query(context.Background(), query.Request{
		CollectionID: c.ID,
		QueryText:    "xy", // length 2: nearest to "ab"
		TopK:         3,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 3 {
		t.Fatalf("Query() count = %d, want 3", result.Count)
	}
	if result.Results[0].ID != "c1" {
		t.Errorf("nearest result = %q, want %q", result.Results[0].ID, "c1")
	}
	for i := 1; i < len(result.Results); i++ {
		if result.Results[i].Similarity > result.Results[i-1].Similarity {
			t.Errorf("results not in descending similarity order: %v then %v",
				result.Results[i-1].Similarity, result.Results[i].Similarity)
		}
	}
	if result.Query != "xy" {
		t.Errorf("result.Query = %q, want the original query text", result.Query)
	}
}

func TestQuery_TopKTruncates(t *testing.T) {
	service, c, vector := newTestService(t)
	seedChunks(t, vector, c)

	result, err := service.Query(context.Background(), query.Request{
		CollectionID: c.ID,
		QueryText:    "xy",
		TopK:         1,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 1 || len(result.Results) != 1 {
		t.Errorf("Query(top_k=1) = %d results, want 1", len(result.Results))
	}
}

func TestQuery_TopKZeroShortCircuits(t *testing.T) {
	service, c, vector := newTestService(t)
	seedChunks(t, vector, c)

	result, err := service.Query(context.Background(), query.Request{
		CollectionID: c.ID,
		QueryText:    "anything",
		TopK:         0,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if result.Count != 0 || len(result.Results) != 0 {
		t.Errorf("Query(top_k=0) = %d results, want 0", len(result.Results))
	}
}

func TestQuery_EmptyTextRejected(t *testing.T) {
	service, c, _ := newTestService(t)

	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := service.Query(context.Background(), query.Request{CollectionID: c.ID, QueryText: text, TopK: 1}); err == nil {
			t.Errorf("Query(%q) error = nil, want bad-input", text)
		}
	}
}

func TestQuery_ThresholdFilters(t *testing.T) {
	service, c, vector := newTestService(t)
	seedChunks(t, vector, c)

	// A similarity threshold just under 1.0 keeps only near-identical hits.
	result, err := service.Query(context.Background(), query.Request{
		CollectionID: c.ID,
		QueryText:    "ab",
		TopK:         3,
		Threshold:    0.9999,
	})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	for _, r := range result.Results {
		if r.Similarity < 0.9999 {
			t.Errorf("result %q similarity %v below threshold", r.ID, r.Similarity)
		}
	}
}

func TestQuery_UnknownCollection(t *testing.T) {
	service, _, _ := newTestService(t)
	if _, err := service.Query(context.Background(), query.Request{CollectionID: 999, QueryText: "x", TopK: 1}); err == nil {
		t.Error("Query() on a missing collection: error = nil, want not-found")
	}
}
