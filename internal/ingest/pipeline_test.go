package ingest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/ingest"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

func newTestPipeline(t *testing.T) (*ingest.Pipeline, *catalog.Store, *models.Collection, vectorstore.Driver) {
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
	registry.RegisterIngest(plugins.NewSimpleIngest())

	pipeline := ingest.New(store, vector, factory, registry, t.TempDir(), 1<<20, 2)
	t.Cleanup(pipeline.Shutdown)

	return pipeline, store, c, vector
}

// waitForTerminal polls the registry until the entry leaves "processing".
func waitForTerminal(t *testing.T, store *catalog.Store, id int64) *models.FileRegistry {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		entry, err := store.GetFileRegistry(context.Background(), id)
		if err != nil {
			t.Fatalf("GetFileRegistry() error = %v", err)
		}
		if entry.Status != models.FileStatusProcessing {
			return entry
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("ingestion job did not reach a terminal status")
	return nil
}

func TestIngestFile_CompletesAndCountsChunks(t *testing.T) {
	pipeline, store, c, vector := newTestPipeline(t)

	text := strings.Repeat("the quick brown fox jumps over the lazy dog. ", 54) // ~2400 chars
	entry, err := pipeline.IngestFile(context.Background(), c.ID, "fox.txt",
		strings.NewReader(text), int64(len(text)), "text/plain", "simple_ingest",
		map[string]interface{}{"chunk_size": 1000, "chunk_overlap": 200, "splitter_type": "recursive"})
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}
	if entry.Status != models.FileStatusProcessing {
		t.Errorf("submit status = %q, want %q", entry.Status, models.FileStatusProcessing)
	}

	done := waitForTerminal(t, store, entry.ID)
	if done.Status != models.FileStatusCompleted {
		t.Fatalf("terminal status = %q, want %q", done.Status, models.FileStatusCompleted)
	}
	if done.DocumentCount < 2 {
		t.Errorf("document_count = %d, want at least 2 chunks for ~2400 chars at size 1000", done.DocumentCount)
	}

	handle, err := vector.GetCollection(context.Background(), c.VectorUUID, nil)
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	count, err := handle.Count(context.Background())
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != done.DocumentCount {
		t.Errorf("vector store count = %d, want document_count %d", count, done.DocumentCount)
	}
}

func TestIngestFile_UnknownPluginRejected(t *testing.T) {
	pipeline, _, c, _ := newTestPipeline(t)

	_, err := pipeline.IngestFile(context.Background(), c.ID, "a.txt",
		strings.NewReader("hello"), 5, "text/plain", "no_such_plugin", nil)
	if err == nil {
		t.Fatal("IngestFile() with unknown plugin: error = nil, want bad-input")
	}
}

func TestIngestFile_OversizeRejected(t *testing.T) {
	pipeline, _, c, _ := newTestPipeline(t)

	_, err := pipeline.IngestFile(context.Background(), c.ID, "big.txt",
		strings.NewReader("x"), 1<<30, "text/plain", "simple_ingest", nil)
	if err == nil {
		t.Fatal("IngestFile() oversize: error = nil, want bad-input")
	}
}

func TestIngestFile_FailureTransitionsToFailed(t *testing.T) {
	pipeline, store, c, _ := newTestPipeline(t)

	// An unsupported splitter_type makes the plugin error in the background
	// step; the submit call itself succeeds.
	text := "some text to ingest"
	entry, err := pipeline.IngestFile(context.Background(), c.ID, "bad.txt",
		strings.NewReader(text), int64(len(text)), "text/plain", "simple_ingest",
		map[string]interface{}{"splitter_type": "nonsense"})
	if err != nil {
		t.Fatalf("IngestFile() error = %v", err)
	}

	done := waitForTerminal(t, store, entry.ID)
	if done.Status != models.FileStatusFailed {
		t.Errorf("terminal status = %q, want %q", done.Status, models.FileStatusFailed)
	}
}

func TestAddDocuments_SynchronousWrite(t *testing.T) {
	pipeline, _, c, vector := newTestPipeline(t)

	count, err := pipeline.AddDocuments(context.Background(), c.ID, []ingest.DocumentInput{
		{Text: "first", Metadata: map[string]interface{}{"origin": "api"}},
		{Text: "second"},
	})
	if err != nil {
		t.Fatalf("AddDocuments() error = %v", err)
	}
	if count != 2 {
		t.Errorf("AddDocuments() = %d, want 2", count)
	}

	handle, err := vector.GetCollection(context.Background(), c.VectorUUID, nil)
	if err != nil {
		t.Fatalf("GetCollection() error = %v", err)
	}
	stored, _ := handle.Count(context.Background())
	if stored != 2 {
		t.Errorf("vector store count = %d, want 2", stored)
	}
}

func TestAddDocuments_EmptyRejected(t *testing.T) {
	pipeline, _, c, _ := newTestPipeline(t)
	if _, err := pipeline.AddDocuments(context.Background(), c.ID, nil); err == nil {
		t.Fatal("AddDocuments(nil) error = nil, want bad-input")
	}
}
