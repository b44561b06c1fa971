package vectorstore_test

import (
	"context"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
)

// fakeEmbed assigns a deterministic 2-dimensional vector to each string
// based on its length, so cosine similarity is predictable in tests.
type fakeEmbed struct{}

func (fakeEmbed) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}
func (fakeEmbed) Dimensions() int                   { return 2 }
func (fakeEmbed) MaxBatchSize() int                 { return 100 }
func (fakeEmbed) HealthCheck(context.Context) error { return nil }

func newTestHandle(t *testing.T) vectorstore.Handle {
	t.Helper()
	store := vectorstore.NewEmbeddedStore(t.TempDir())
	handle, err := store.CreateCollection(context.Background(), "owner__test", fakeEmbed{})
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	return handle
}

func TestEmbeddedHandle_AddBatchAndCount(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	err := h.AddBatch(ctx,
		[]string{"id-1", "id-2"},
		[]string{"hello", "world again"},
		[]map[string]interface{}{{"chunk_index": 0}, {"chunk_index": 1}},
	)
	if err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	count, err := h.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("Count() = %d, want 2", count)
	}
}

func TestEmbeddedHandle_Query(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	if err := h.AddBatch(ctx,
		[]string{"a", "b", "c"},
		[]string{"short", "a medium length bit of text", "x"},
		[]map[string]interface{}{{}, {}, {}},
	); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	result, err := h.Query(ctx, "x", 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(result.IDs) != 2 {
		t.Fatalf("Query() returned %d results, want 2 (topK)", len(result.IDs))
	}
	// The nearest neighbor to a 1-rune query should be the other 1-rune record.
	if result.IDs[0] != "c" {
		t.Errorf("Query() nearest result = %q, want %q", result.IDs[0], "c")
	}
	for i := 1; i < len(result.Distances); i++ {
		if result.Distances[i] < result.Distances[i-1] {
			t.Errorf("Query() distances not sorted ascending: %v", result.Distances)
		}
	}
}

func TestEmbeddedHandle_DeleteWhere(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	if err := h.AddBatch(ctx,
		[]string{"a", "b"},
		[]string{"one", "two"},
		[]map[string]interface{}{{"file_url": "http://x/1"}, {"file_url": "http://x/2"}},
	); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	removed, err := h.DeleteWhere(ctx, map[string]string{"file_url": "http://x/1"})
	if err != nil {
		t.Fatalf("DeleteWhere() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("DeleteWhere() removed = %d, want 1", removed)
	}

	count, _ := h.Count(ctx)
	if count != 1 {
		t.Errorf("Count() after DeleteWhere = %d, want 1", count)
	}
}

func TestEmbeddedHandle_GetByMetadata(t *testing.T) {
	h := newTestHandle(t)
	ctx := context.Background()

	if err := h.AddBatch(ctx,
		[]string{"a", "b", "c"},
		[]string{"chunk zero", "chunk one", "chunk two"},
		[]map[string]interface{}{
			{"file_url": "http://x/doc", "chunk_index": 0},
			{"file_url": "http://x/doc", "chunk_index": 1},
			{"file_url": "http://x/other", "chunk_index": 0},
		},
	); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	result, err := h.GetByMetadata(ctx, map[string]string{"file_url": "http://x/doc"})
	if err != nil {
		t.Fatalf("GetByMetadata() error = %v", err)
	}
	if len(result.IDs) != 2 {
		t.Fatalf("GetByMetadata() = %d results, want 2", len(result.IDs))
	}
	for _, d := range result.Distances {
		if d != 0 {
			t.Errorf("GetByMetadata() Distances = %v, want all zero (not a ranked query)", result.Distances)
		}
	}
}

func TestEmbeddedStore_RenameAndReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := vectorstore.NewEmbeddedStore(dir)

	handle, err := store.CreateCollection(ctx, "owner__old", fakeEmbed{})
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if err := handle.AddBatch(ctx, []string{"a"}, []string{"persisted"}, []map[string]interface{}{{}}); err != nil {
		t.Fatalf("AddBatch() error = %v", err)
	}

	if err := store.RenameCollection(ctx, "owner__old", "owner__new"); err != nil {
		t.Fatalf("RenameCollection() error = %v", err)
	}

	renamed, err := store.GetCollection(ctx, "owner__new", fakeEmbed{})
	if err != nil {
		t.Fatalf("GetCollection() after rename error = %v", err)
	}
	count, _ := renamed.Count(ctx)
	if count != 1 {
		t.Errorf("Count() after rename = %d, want 1 (records preserved)", count)
	}

	if _, err := store.GetCollection(ctx, "owner__old", fakeEmbed{}); err == nil {
		t.Error("GetCollection() on the old name after rename: error = nil, want not-found")
	}
}
