package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/ingest"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// FileHandlers serves upload/URL ingestion, synchronous document adds, and
// FileRegistry read/lifecycle endpoints.
type FileHandlers struct {
	catalog  *catalog.Store
	pipeline *ingest.Pipeline
	vector   vectorstore.Driver
	factory  *embeddings.Factory
}

func NewFileHandlers(catalogStore *catalog.Store, pipeline *ingest.Pipeline, vector vectorstore.Driver, factory *embeddings.Factory) *FileHandlers {
	return &FileHandlers{catalog: catalogStore, pipeline: pipeline, vector: vector, factory: factory}
}

func (h *FileHandlers) IngestFile(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		respondError(w, apierr.BadInput("invalid multipart form: %v", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, apierr.BadInput("file field is required: %v", err))
		return
	}
	defer file.Close()

	pluginName := r.FormValue("plugin_name")
	if pluginName == "" {
		pluginName = "simple_ingest"
	}
	params := parseParamsField(r.FormValue("plugin_params"))

	entry, err := h.pipeline.IngestFile(r.Context(), collectionID, header.Filename, file, header.Size, header.Header.Get("Content-Type"), pluginName, params)
	if err != nil {
		respondError(w, err)
		return
	}
	h.respondIngest(w, r, entry)
}

// ingestResponse is the submit-path acknowledgement: the job is registered
// and queued, nothing has been embedded yet.
type ingestResponse struct {
	Status         models.FileStatus `json:"status"`
	FileRegistryID int64             `json:"file_registry_id"`
	FilePath       string            `json:"file_path"`
	FileURL        string            `json:"file_url"`
	CollectionID   int64             `json:"collection_id"`
	CollectionName string            `json:"collection_name"`
	PluginName     string            `json:"plugin_name"`
	DocumentsAdded int               `json:"documents_added"`
}

func (h *FileHandlers) respondIngest(w http.ResponseWriter, r *http.Request, entry *models.FileRegistry) {
	collectionName := ""
	if c, err := h.catalog.GetCollection(r.Context(), entry.CollectionID); err == nil {
		collectionName = c.Name
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		Status:         entry.Status,
		FileRegistryID: entry.ID,
		FilePath:       entry.FilePath,
		FileURL:        entry.FileURL,
		CollectionID:   entry.CollectionID,
		CollectionName: collectionName,
		PluginName:     entry.PluginName,
	})
}

type ingestURLRequest struct {
	URLs       []string               `json:"urls"`
	PluginName string                 `json:"plugin_name"`
	Params     map[string]interface{} `json:"plugin_params"`
}

func (h *FileHandlers) IngestURL(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req ingestURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	if len(req.URLs) == 0 {
		respondError(w, apierr.BadInput("urls is required"))
		return
	}
	pluginName := req.PluginName
	if pluginName == "" {
		pluginName = "url_ingest"
	}

	entry, err := h.pipeline.IngestBase(r.Context(), collectionID, pluginName, req.Params, req.URLs)
	if err != nil {
		respondError(w, err)
		return
	}
	h.respondIngest(w, r, entry)
}

type ingestBaseRequest struct {
	PluginName string                 `json:"plugin_name"`
	Params     map[string]interface{} `json:"plugin_params"`
	URLs       []string               `json:"urls"`
}

func (h *FileHandlers) IngestBase(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req ingestBaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	if req.PluginName == "" {
		respondError(w, apierr.BadInput("plugin_name is required"))
		return
	}

	entry, err := h.pipeline.IngestBase(r.Context(), collectionID, req.PluginName, req.Params, req.URLs)
	if err != nil {
		respondError(w, err)
		return
	}
	h.respondIngest(w, r, entry)
}

type documentInput struct {
	Text     string                 `json:"text"`
	Metadata map[string]interface{} `json:"metadata"`
}

type addDocumentsRequest struct {
	Documents []documentInput `json:"documents"`
}

func (h *FileHandlers) AddDocuments(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req addDocumentsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	docs := make([]ingest.DocumentInput, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = ingest.DocumentInput{Text: d.Text, Metadata: d.Metadata}
	}

	count, err := h.pipeline.AddDocuments(r.Context(), collectionID, docs)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"documents_added": count, "success": true})
}

func (h *FileHandlers) List(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	entries, err := h.catalog.ListFileRegistry(r.Context(), collectionID, r.URL.Query().Get("status"))
	if err != nil {
		respondError(w, err)
		return
	}
	if entries == nil {
		entries = []models.FileRegistry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *FileHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathInt64(r, "file_id")
	if err != nil {
		respondError(w, err)
		return
	}
	hard, _ := strconv.ParseBool(r.URL.Query().Get("hard"))

	removedEmbeddings, removedFiles, err := h.catalog.DeleteFile(r.Context(), fileID, hard)
	if err != nil {
		respondError(w, err)
		return
	}
	if removedFiles == nil {
		removedFiles = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted_embeddings": removedEmbeddings,
		"removed_files":      removedFiles,
		"status":             models.FileStatusDeleted,
	})
}

func (h *FileHandlers) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathInt64(r, "file_id")
	if err != nil {
		respondError(w, err)
		return
	}
	status := models.FileStatus(r.URL.Query().Get("status"))
	if status == "" {
		respondError(w, apierr.BadInput("status query parameter is required"))
		return
	}
	if err := h.catalog.TransitionStatus(r.Context(), fileID, status, nil); err != nil {
		respondError(w, err)
		return
	}
	entry, err := h.catalog.GetFileRegistry(r.Context(), fileID)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// Content serves GET /files/{file_id}/content: the file's chunks
// are reconstructed from the vector store, sorted by chunk_index, and
// joined with newlines. Reconstruction is approximate for non-text
// formats; no per-plugin special casing.
func (h *FileHandlers) Content(w http.ResponseWriter, r *http.Request) {
	fileID, err := pathInt64(r, "file_id")
	if err != nil {
		respondError(w, err)
		return
	}
	entry, err := h.catalog.GetFileRegistry(r.Context(), fileID)
	if err != nil {
		respondError(w, err)
		return
	}
	collection, err := h.catalog.GetCollection(r.Context(), entry.CollectionID)
	if err != nil {
		respondError(w, err)
		return
	}
	embed, err := h.factory.Resolve(collection.EmbeddingModel)
	if err != nil {
		respondError(w, err)
		return
	}
	handle, err := h.vector.GetCollection(r.Context(), collection.VectorUUID, embed)
	if err != nil {
		respondError(w, apierr.StorageError(err))
		return
	}

	predicate := map[string]string{models.MetaFileURL: entry.FileURL}
	if entry.FileURL == "" {
		predicate = map[string]string{models.MetaFilename: entry.OriginalFilename}
	}
	raw, err := handle.GetByMetadata(r.Context(), predicate)
	if err != nil {
		respondError(w, apierr.StorageError(err))
		return
	}

	type indexedChunk struct {
		index int
		text  string
	}
	chunks := make([]indexedChunk, 0, len(raw.IDs))
	for i := range raw.IDs {
		chunks = append(chunks, indexedChunk{index: chunkIndexOf(raw.Metadatas[i]), text: raw.Texts[i]})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.text
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"file_id":           fileID,
		"original_filename": entry.OriginalFilename,
		"content":           strings.Join(texts, "\n"),
		"content_type":      entry.ContentType,
		"chunk_count":       len(chunks),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

func chunkIndexOf(metadata map[string]interface{}) int {
	v, ok := metadata[models.MetaChunkIndex]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

func parseParamsField(raw string) map[string]interface{} {
	if raw == "" {
		return nil
	}
	var params map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil
	}
	return params
}
