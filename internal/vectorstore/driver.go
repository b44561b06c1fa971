// Package vectorstore implements the Vector Store Adapter: a
// persistent nearest-neighbor index addressable by collection name, with
// embedding generation delegated to the bound embeddings.EmbedFunc.
package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
)

// QueryResult is the raw adapter response; distances are in [0,2]
// for cosine. The Query Service converts to similarity = 1 - distance.
type QueryResult struct {
	IDs       []string
	Texts     []string
	Metadatas []map[string]interface{}
	Distances []float64
}

// Handle is an opened vector-store collection, bound to the embedding
// function used when it was created. Dimension mismatches between that
// function and later adds or queries surface unchanged.
type Handle interface {
	Name() string
	AddBatch(ctx context.Context, ids, texts []string, metadatas []map[string]interface{}) error
	Delete(ctx context.Context, ids []string) error
	// DeleteWhere removes every record whose metadata matches every
	// key/substring pair in predicate.
	DeleteWhere(ctx context.Context, predicate map[string]string) (int, error)
	// GetByMetadata returns every record whose metadata matches every
	// key/substring pair in predicate, without the distance-ranking cost of
	// Query. Used to reconstruct a file's chunks for GET /files/{id}/content.
	GetByMetadata(ctx context.Context, predicate map[string]string) (QueryResult, error)
	Query(ctx context.Context, queryText string, topK int) (QueryResult, error)
	Count(ctx context.Context) (int, error)
}

// Driver manages collections for one backend (embedded, pgvector, ...).
type Driver interface {
	Kind() string
	CreateCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error)
	GetCollection(ctx context.Context, name string, embed embeddings.EmbedFunc) (Handle, error)
	DeleteCollection(ctx context.Context, name string) error
	RenameCollection(ctx context.Context, oldName, newName string) error
	HealthCheck(ctx context.Context) error
}

// Registry holds named vector store drivers, mirroring the plugin
// registry's thread-safe Register/Get/List shape.
type Registry struct {
	mu      sync.RWMutex
	drivers map[string]Driver
}

func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

func (r *Registry) Register(name string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[name] = d
}

func (r *Registry) Get(name string) (Driver, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("vector store driver not found: %s", name)
	}
	return d, nil
}

func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.drivers))
	for name := range r.drivers {
		names = append(names, name)
	}
	return names
}

func (r *Registry) HealthCheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Driver, len(r.drivers))
	for k, v := range r.drivers {
		snapshot[k] = v
	}
	r.mu.RUnlock()

	results := make(map[string]error, len(snapshot))
	for name, driver := range snapshot {
		results[name] = driver.HealthCheck(ctx)
	}
	return results
}
