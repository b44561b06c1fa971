package vectorstore

import (
	"context"
	"encoding/gob"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/rs/zerolog/log"
)

// DefaultMaxVectors is the default cap per collection (50K). AddBatch logs a
// warning once a collection passes 90% of the cap and returns an error
// (suggesting pgvector) for a batch that would exceed it.
const DefaultMaxVectors = 50_000

func init() {
	// Metadata values come from decoded JSON; gob only knows the basic
	// scalar types unless the container types are registered.
	gob.Register(map[string]interface{}{})
	gob.Register([]interface{}{})
}

type record struct {
	ID       string
	Text     string
	Metadata map[string]interface{}
	Vector   []float32
}

// collectionState is the gob-serializable snapshot of one collection.
type collectionState struct {
	Name    string
	Records map[string]record
}

// EmbeddedStore is a brute-force cosine-similarity vector store. Suitable
// for development and small workloads; each collection's state is
// snapshotted to disk after every write so it survives restarts.
type EmbeddedStore struct {
	mu          sync.RWMutex
	collections map[string]*embeddedHandle
	dataDir     string
	maxVectors  int
}

func NewEmbeddedStore(dataDir string) *EmbeddedStore {
	s := &EmbeddedStore{
		collections: make(map[string]*embeddedHandle),
		dataDir:     dataDir,
		maxVectors:  DefaultMaxVectors,
	}
	if dataDir != "" {
		_ = os.MkdirAll(dataDir, 0o755)
	}
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) snapshotPath(name string) string {
	if s.dataDir == "" {
		return ""
	}
	return filepath.Join(s.dataDir, name+".gob")
}

func (s *EmbeddedStore) CreateCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.collections[name]; exists {
		return nil, fmt.Errorf("vector collection %q already exists", name)
	}
	h := &embeddedHandle{
		store:   s,
		name:    name,
		embed:   embed,
		records: make(map[string]record),
	}
	s.collections[name] = h
	s.persistLocked(h)
	return h, nil
}

func (s *EmbeddedStore) GetCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.collections[name]
	if ok {
		if embed != nil {
			h.embed = embed
		}
		return h, nil
	}
	// Attempt to restore from disk snapshot (restart recovery).
	state, err := s.loadSnapshot(name)
	if err != nil {
		return nil, fmt.Errorf("vector collection %q not found", name)
	}
	h = &embeddedHandle{store: s, name: name, embed: embed, records: state.Records}
	s.collections[name] = h
	return h, nil
}

func (s *EmbeddedStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	if p := s.snapshotPath(name); p != "" {
		_ = os.Remove(p)
	}
	return nil
}

func (s *EmbeddedStore) RenameCollection(ctx context.Context, oldName, newName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.collections[oldName]
	if !ok {
		return fmt.Errorf("vector collection %q not found", oldName)
	}
	h.mu.Lock()
	h.name = newName
	h.mu.Unlock()
	delete(s.collections, oldName)
	s.collections[newName] = h
	if p := s.snapshotPath(oldName); p != "" {
		_ = os.Remove(p)
	}
	s.persistLocked(h)
	return nil
}

func (s *EmbeddedStore) HealthCheck(ctx context.Context) error { return nil }

func (s *EmbeddedStore) persistLocked(h *embeddedHandle) {
	path := s.snapshotPath(h.name)
	if path == "" {
		return
	}
	h.mu.RLock()
	state := collectionState{Name: h.name, Records: h.records}
	h.mu.RUnlock()

	f, err := os.Create(path)
	if err != nil {
		log.Warn().Err(err).Str("collection", h.name).Msg("failed to snapshot embedded vector collection")
		return
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(state); err != nil {
		log.Warn().Err(err).Str("collection", h.name).Msg("failed to encode embedded vector snapshot")
	}
}

func (s *EmbeddedStore) loadSnapshot(name string) (collectionState, error) {
	path := s.snapshotPath(name)
	if path == "" {
		return collectionState{}, fmt.Errorf("no snapshot directory configured")
	}
	f, err := os.Open(path)
	if err != nil {
		return collectionState{}, err
	}
	defer f.Close()
	var state collectionState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return collectionState{}, err
	}
	return state, nil
}

// embeddedHandle is one collection's in-memory index.
type embeddedHandle struct {
	store   *EmbeddedStore
	mu      sync.RWMutex
	name    string
	embed   embeddings.EmbedFunc
	records map[string]record
}

func (h *embeddedHandle) Name() string { return h.name }

func (h *embeddedHandle) AddBatch(ctx context.Context, ids, texts []string, metadatas []map[string]interface{}) error {
	if len(ids) != len(texts) || len(ids) != len(metadatas) {
		return fmt.Errorf("AddBatch: ids/texts/metadatas length mismatch")
	}
	vectors, err := h.embed.Embed(ctx, texts)
	if err != nil {
		return err
	}

	h.mu.Lock()
	for _, existing := range h.records {
		for i, v := range vectors {
			if len(v) != len(existing.Vector) {
				h.mu.Unlock()
				return fmt.Errorf("embedding dimension mismatch in collection %q: record %q has %d dimensions, collection has %d", h.name, ids[i], len(v), len(existing.Vector))
			}
		}
		break
	}
	newCount := 0
	for _, id := range ids {
		if _, exists := h.records[id]; !exists {
			newCount++
		}
	}
	total := len(h.records) + newCount
	if total > h.store.maxVectors {
		h.mu.Unlock()
		return fmt.Errorf("embedded vector store capacity exceeded: %d > %d (consider pgvector)", total, h.store.maxVectors)
	}
	if total > int(float64(h.store.maxVectors)*0.9) {
		log.Warn().Int("count", total).Str("collection", h.name).Msg("embedded vector collection nearing capacity")
	}
	for i, id := range ids {
		h.records[id] = record{ID: id, Text: texts[i], Metadata: metadatas[i], Vector: vectors[i]}
	}
	h.mu.Unlock()

	h.store.persistLocked(h)
	return nil
}

func (h *embeddedHandle) Delete(ctx context.Context, ids []string) error {
	h.mu.Lock()
	for _, id := range ids {
		delete(h.records, id)
	}
	h.mu.Unlock()
	h.store.persistLocked(h)
	return nil
}

func (h *embeddedHandle) DeleteWhere(ctx context.Context, predicate map[string]string) (int, error) {
	h.mu.Lock()
	removed := 0
	for id, r := range h.records {
		if matchesPredicate(r.Metadata, predicate) {
			delete(h.records, id)
			removed++
		}
	}
	h.mu.Unlock()
	h.store.persistLocked(h)
	return removed, nil
}

func (h *embeddedHandle) GetByMetadata(ctx context.Context, predicate map[string]string) (QueryResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out QueryResult
	for _, r := range h.records {
		if !matchesPredicate(r.Metadata, predicate) {
			continue
		}
		out.IDs = append(out.IDs, r.ID)
		out.Texts = append(out.Texts, r.Text)
		out.Metadatas = append(out.Metadatas, r.Metadata)
		out.Distances = append(out.Distances, 0)
	}
	return out, nil
}

func (h *embeddedHandle) Query(ctx context.Context, queryText string, topK int) (QueryResult, error) {
	if topK <= 0 {
		return QueryResult{}, nil
	}
	vectors, err := h.embed.Embed(ctx, []string{queryText})
	if err != nil {
		return QueryResult{}, err
	}
	qv := vectors[0]

	type scored struct {
		r        record
		distance float64
	}

	h.mu.RLock()
	candidates := make([]scored, 0, len(h.records))
	for _, r := range h.records {
		if len(r.Vector) != len(qv) {
			h.mu.RUnlock()
			return QueryResult{}, fmt.Errorf("embedding dimension mismatch in collection %q: query has %d dimensions, record %q has %d", h.name, len(qv), r.ID, len(r.Vector))
		}
		candidates = append(candidates, scored{r: r, distance: cosineDistance(qv, r.Vector)})
	}
	h.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].distance != candidates[j].distance {
			return candidates[i].distance < candidates[j].distance
		}
		return candidates[i].r.ID < candidates[j].r.ID
	})

	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := QueryResult{
		IDs:       make([]string, topK),
		Texts:     make([]string, topK),
		Metadatas: make([]map[string]interface{}, topK),
		Distances: make([]float64, topK),
	}
	for i := 0; i < topK; i++ {
		out.IDs[i] = candidates[i].r.ID
		out.Texts[i] = candidates[i].r.Text
		out.Metadatas[i] = candidates[i].r.Metadata
		out.Distances[i] = candidates[i].distance
	}
	return out, nil
}

func (h *embeddedHandle) Count(ctx context.Context) (int, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records), nil
}

func matchesPredicate(metadata map[string]interface{}, predicate map[string]string) bool {
	for k, v := range predicate {
		mv, ok := metadata[k]
		if !ok {
			return false
		}
		s, ok := mv.(string)
		if !ok || !strings.Contains(s, v) {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 2
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return 1 - sim
}
