// Package ingest implements the Ingestion Pipeline: validates an
// ingestion request on the request path, persists the upload and a
// FileRegistry row, and schedules the actual plugin run on a bounded
// background worker pool.
package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// addBatchSize is the sub-batch size the worker uses when writing chunks
// to the vector store, bounding memory and provider request size.
const addBatchSize = 5

// Pipeline is the Ingestion Pipeline.
type Pipeline struct {
	catalog    *catalog.Store
	vector     vectorstore.Driver
	factory    *embeddings.Factory
	registry   *plugins.Registry
	staticRoot string
	maxUpload  int64

	jobs       chan int64
	wg         sync.WaitGroup
	inFlightMu sync.Mutex
	inFlight   map[int64]struct{}
}

// New builds a Pipeline and starts its worker pool. poolSize <= 0 defaults
// to runtime.NumCPU(), mirroring WORKER_POOL_SIZE's own default.
func New(catalogStore *catalog.Store, vector vectorstore.Driver, factory *embeddings.Factory, registry *plugins.Registry, staticRoot string, maxUpload int64, poolSize int) *Pipeline {
	if poolSize <= 0 {
		poolSize = runtime.NumCPU()
	}
	p := &Pipeline{
		catalog:    catalogStore,
		vector:     vector,
		factory:    factory,
		registry:   registry,
		staticRoot: staticRoot,
		maxUpload:  maxUpload,
		jobs:       make(chan int64, 1024),
		inFlight:   make(map[int64]struct{}),
	}
	for i := 0; i < poolSize; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Shutdown closes the job channel and waits for in-flight jobs to drain.
func (p *Pipeline) Shutdown() {
	close(p.jobs)
	p.wg.Wait()
}

// IngestFile is the multipart upload entry point. The upload is
// written under staticRoot/<owner>/<collection_name>/<random>.<ext> before
// the job is registered and enqueued.
func (p *Pipeline) IngestFile(ctx context.Context, collectionID int64, originalFilename string, content io.Reader, size int64, contentType, pluginName string, params map[string]interface{}) (*models.FileRegistry, error) {
	if size > p.maxUpload {
		return nil, apierr.BadInput("upload exceeds maximum size of %d bytes", p.maxUpload)
	}

	// Remote plugins are admitted too: youtube_transcript_ingest takes a
	// text file of video URLs through this entry point.
	collection, plugin, err := p.validateAny(ctx, collectionID, pluginName, plugins.KindFileIngest, plugins.KindRemoteIngest)
	if err != nil {
		return nil, err
	}

	relPath, absPath, err := p.layoutPath(collection.Owner, collection.Name, originalFilename)
	if err != nil {
		return nil, err
	}
	if err := writeUpload(absPath, content); err != nil {
		return nil, apierr.StorageError(err)
	}

	entry := &models.FileRegistry{
		CollectionID:     collectionID,
		OriginalFilename: originalFilename,
		FilePath:         absPath,
		FileURL:          "/static/" + relPath,
		FileSize:         size,
		ContentType:      contentType,
		PluginName:       plugin.Name(),
		PluginParams:     params,
		Status:           models.FileStatusProcessing,
		Owner:            collection.Owner,
	}
	return p.register(ctx, entry)
}

// IngestBase covers both base-ingest and remote-ingest plugins (url_ingest
// and youtube_transcript_ingest run without a multipart upload): URL ingestion is a specialization of this entry point, selected
// by plugin_name and params["urls"].
func (p *Pipeline) IngestBase(ctx context.Context, collectionID int64, pluginName string, params map[string]interface{}, urls []string) (*models.FileRegistry, error) {
	collection, plugin, err := p.validateAny(ctx, collectionID, pluginName, plugins.KindBaseIngest, plugins.KindRemoteIngest)
	if err != nil {
		return nil, err
	}

	sourceURL := ""
	if len(urls) > 0 {
		sourceURL = urls[0]
	}
	filename := pluginName
	if sourceURL != "" {
		filename = sourceURL
	}

	entry := &models.FileRegistry{
		CollectionID:     collectionID,
		OriginalFilename: filename,
		FileURL:          sourceURL,
		PluginName:       plugin.Name(),
		PluginParams:     withURLs(params, urls),
		Status:           models.FileStatusProcessing,
		Owner:            collection.Owner,
	}
	return p.register(ctx, entry)
}

func withURLs(params map[string]interface{}, urls []string) map[string]interface{} {
	if params == nil {
		params = map[string]interface{}{}
	}
	if len(urls) > 0 {
		anyURLs := make([]interface{}, len(urls))
		for i, u := range urls {
			anyURLs[i] = u
		}
		params["urls"] = anyURLs
	}
	return params
}

// DocumentInput is one pre-chunked record for the synchronous /documents
// endpoint, which bypasses the plugin/worker-pool path entirely and writes
// straight to the vector store.
type DocumentInput struct {
	Text     string
	Metadata map[string]interface{}
}

// AddDocuments embeds and writes pre-chunked text directly to a
// collection's vector store, synchronously, without a FileRegistry entry.
func (p *Pipeline) AddDocuments(ctx context.Context, collectionID int64, docs []DocumentInput) (int, error) {
	if len(docs) == 0 {
		return 0, apierr.BadInput("documents must be non-empty")
	}
	collection, err := p.catalog.GetCollection(ctx, collectionID)
	if err != nil {
		return 0, err
	}
	embed, err := p.factory.Resolve(collection.EmbeddingModel)
	if err != nil {
		return 0, err
	}
	handle, err := p.vector.GetCollection(ctx, collection.VectorUUID, embed)
	if err != nil {
		return 0, apierr.StorageError(err)
	}

	ids := make([]string, len(docs))
	texts := make([]string, len(docs))
	metadatas := make([]map[string]interface{}, len(docs))
	for i, d := range docs {
		metadata := d.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		id := uuid.NewString()
		metadata[models.MetaDocumentID] = id
		metadata[models.MetaEmbeddingVendor] = collection.EmbeddingModel.Vendor
		metadata[models.MetaEmbeddingModel] = collection.EmbeddingModel.Model
		ids[i] = id
		texts[i] = d.Text
		metadatas[i] = metadata
	}

	if err := handle.AddBatch(ctx, ids, texts, metadatas); err != nil {
		return 0, apierr.StorageError(err)
	}
	return len(docs), nil
}

func (p *Pipeline) register(ctx context.Context, entry *models.FileRegistry) (*models.FileRegistry, error) {
	created, err := p.catalog.CreateFileRegistry(ctx, entry)
	if err != nil {
		return nil, err
	}
	p.enqueue(created.ID)
	return created, nil
}

func (p *Pipeline) enqueue(id int64) {
	select {
	case p.jobs <- id:
	default:
		// buffer full: spawn a detached sender so enqueue never blocks the
		// request path.
		go func() { p.jobs <- id }()
	}
}

func (p *Pipeline) validateAny(ctx context.Context, collectionID int64, pluginName string, want ...plugins.Kind) (*models.Collection, plugins.IngestPlugin, error) {
	collection, err := p.catalog.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, nil, err
	}
	if _, err := p.vector.GetCollection(ctx, collection.VectorUUID, nil); err != nil {
		return nil, nil, apierr.StorageError(fmt.Errorf("vector collection %s missing for collection %d: %w", collection.VectorUUID, collectionID, err))
	}
	plugin, err := p.registry.GetIngest(pluginName)
	if err != nil {
		return nil, nil, apierr.BadInput("unknown ingestion plugin %q", pluginName)
	}
	ok := false
	for _, k := range want {
		if plugin.Kind() == k {
			ok = true
			break
		}
	}
	if !ok {
		return nil, nil, apierr.BadInput("plugin %q has kind %q, not usable for this endpoint", pluginName, plugin.Kind())
	}
	return collection, plugin, nil
}

func (p *Pipeline) layoutPath(owner, collectionName, originalFilename string) (relPath, absPath string, err error) {
	dir := filepath.Join(owner, collectionName)
	if err := os.MkdirAll(filepath.Join(p.staticRoot, dir), 0o755); err != nil {
		return "", "", fmt.Errorf("create upload directory: %w", err)
	}
	ext := filepath.Ext(originalFilename)
	name := uuid.NewString() + ext
	relPath = filepath.ToSlash(filepath.Join(dir, name))
	absPath = filepath.Join(p.staticRoot, dir, name)
	return relPath, absPath, nil
}

func writeUpload(path string, content io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload %s: %w", path, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, content); err != nil {
		return fmt.Errorf("write upload %s: %w", path, err)
	}
	return nil
}
