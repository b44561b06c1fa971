package query

import (
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
)

func TestNormalize_ConvertsDistanceToSimilarityAndFilters(t *testing.T) {
	raw := vectorstore.QueryResult{
		IDs:       []string{"a", "b", "c"},
		Texts:     []string{"one", "two", "three"},
		Metadatas: []map[string]interface{}{{}, {}, {}},
		Distances: []float64{0.1, 0.9, 0.5},
	}
	results := normalize(raw, 0.4)

	// similarity = 1 - distance: a=0.9, b=0.1 (filtered out below 0.4), c=0.5
	if len(results) != 2 {
		t.Fatalf("normalize() = %d results, want 2 (one filtered by threshold)", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "c" {
		t.Errorf("normalize() order = [%s, %s], want descending similarity [a, c]", results[0].ID, results[1].ID)
	}
	if results[0].Similarity != 0.9 {
		t.Errorf("results[0].Similarity = %v, want 0.9", results[0].Similarity)
	}
}

func TestNormalize_EmptyInput(t *testing.T) {
	results := normalize(vectorstore.QueryResult{}, 0)
	if len(results) != 0 {
		t.Errorf("normalize(empty) = %d results, want 0", len(results))
	}
}

func TestMergeParams_InjectsTopKAndThreshold(t *testing.T) {
	merged := mergeParams(map[string]interface{}{"custom": "value"}, 7, 0.42)
	if merged["top_k"] != 7 {
		t.Errorf("mergeParams()[top_k] = %v, want 7", merged["top_k"])
	}
	if merged["threshold"] != 0.42 {
		t.Errorf("mergeParams()[threshold] = %v, want 0.42", merged["threshold"])
	}
	if merged["custom"] != "value" {
		t.Errorf("mergeParams() dropped an existing param, got %v", merged["custom"])
	}
}

func TestMergeParams_ZeroValuesNotInjected(t *testing.T) {
	merged := mergeParams(nil, 0, 0)
	if _, ok := merged["top_k"]; ok {
		t.Error("mergeParams() injected top_k=0, want it omitted so the plugin default applies")
	}
	if _, ok := merged["threshold"]; ok {
		t.Error("mergeParams() injected threshold=0, want it omitted so the plugin default applies")
	}
}
