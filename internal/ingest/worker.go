package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	"github.com/rs/zerolog/log"
)

func pluginIngestRequest(entry *models.FileRegistry, urls []string) plugins.IngestRequest {
	return plugins.IngestRequest{
		FilePath:  entry.FilePath,
		SourceURL: entry.FileURL,
		Params:    entry.PluginParams,
		URLs:      urls,
	}
}

// worker drains job ids from the channel and runs each to completion,
// de-duplicating by file id so a requeued or double-enqueued job never
// races itself.
func (p *Pipeline) worker() {
	defer p.wg.Done()
	for id := range p.jobs {
		p.runOnce(id)
	}
}

func (p *Pipeline) runOnce(id int64) {
	if !p.claim(id) {
		return
	}
	defer p.release(id)

	// Ingestion runs detached from the submitting request.
	ctx := context.Background()
	if err := p.process(ctx, id); err != nil {
		log.Error().Err(err).Int64("file_id", id).Msg("ingestion job failed")
		_ = p.catalog.TransitionStatus(ctx, id, models.FileStatusFailed, nil)
	}
}

func (p *Pipeline) claim(id int64) bool {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	if _, busy := p.inFlight[id]; busy {
		return false
	}
	p.inFlight[id] = struct{}{}
	return true
}

func (p *Pipeline) release(id int64) {
	p.inFlightMu.Lock()
	defer p.inFlightMu.Unlock()
	delete(p.inFlight, id)
}

func (p *Pipeline) process(ctx context.Context, id int64) error {
	entry, err := p.catalog.GetFileRegistry(ctx, id)
	if err != nil {
		var apiErr *apierr.Error
		if errors.As(err, &apiErr) && apiErr.Kind == apierr.KindNotFound {
			return nil // row deleted between submit and pickup: nothing to do
		}
		return fmt.Errorf("load file registry %d: %w", id, err)
	}
	if entry.Status == models.FileStatusDeleted {
		return nil
	}
	collection, err := p.catalog.GetCollection(ctx, entry.CollectionID)
	if err != nil {
		return fmt.Errorf("load collection %d: %w", entry.CollectionID, err)
	}
	plugin, err := p.registry.GetIngest(entry.PluginName)
	if err != nil {
		return fmt.Errorf("load plugin %q: %w", entry.PluginName, err)
	}

	urls := paramURLs(entry.PluginParams)
	chunks, err := plugin.Ingest(ctx, pluginIngestRequest(entry, urls))
	if err != nil {
		return fmt.Errorf("plugin %q: %w", entry.PluginName, err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("plugin %q produced zero chunks", entry.PluginName)
	}

	embed, err := p.factory.Resolve(collection.EmbeddingModel)
	if err != nil {
		return fmt.Errorf("resolve embedding function: %w", err)
	}
	handle, err := p.vector.GetCollection(ctx, collection.VectorUUID, embed)
	if err != nil {
		return fmt.Errorf("open vector collection %s: %w", collection.VectorUUID, err)
	}

	augmentMetadata(chunks, entry, collection)

	written := 0
	for start := 0; start < len(chunks); start += addBatchSize {
		end := start + addBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		ids := make([]string, len(batch))
		texts := make([]string, len(batch))
		metadatas := make([]map[string]interface{}, len(batch))
		for i, c := range batch {
			ids[i] = fmt.Sprint(c.Metadata[models.MetaDocumentID])
			texts[i] = c.Text
			metadatas[i] = c.Metadata
		}
		if err := handle.AddBatch(ctx, ids, texts, metadatas); err != nil {
			return fmt.Errorf("add batch [%d:%d]: %w", start, end, err)
		}
		written += len(batch)
	}

	count := written
	return p.catalog.TransitionStatus(ctx, id, models.FileStatusCompleted, &count)
}

// augmentMetadata fills in the required keys a plugin is not expected to
// know about on its own: filename, file_url, and the embedding descriptor
// bound to this collection.
func augmentMetadata(chunks []models.Chunk, entry *models.FileRegistry, collection *models.Collection) {
	for i := range chunks {
		if chunks[i].Metadata == nil {
			chunks[i].Metadata = map[string]interface{}{}
		}
		if _, ok := chunks[i].Metadata[models.MetaFilename]; !ok {
			chunks[i].Metadata[models.MetaFilename] = entry.OriginalFilename
		}
		if _, ok := chunks[i].Metadata[models.MetaFileURL]; !ok {
			chunks[i].Metadata[models.MetaFileURL] = entry.FileURL
		}
		chunks[i].Metadata[models.MetaEmbeddingVendor] = collection.EmbeddingModel.Vendor
		chunks[i].Metadata[models.MetaEmbeddingModel] = collection.EmbeddingModel.Model
	}
}

func paramURLs(params map[string]interface{}) []string {
	raw, ok := params["urls"]
	if !ok {
		return nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	urls := make([]string, 0, len(list))
	for _, v := range list {
		if s, ok := v.(string); ok {
			urls = append(urls, s)
		}
	}
	return urls
}
