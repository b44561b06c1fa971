package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	"github.com/rs/zerolog/log"
)

// CollectionHandlers serves the /collections resource.
type CollectionHandlers struct {
	catalog *catalog.Store
}

func NewCollectionHandlers(catalogStore *catalog.Store) *CollectionHandlers {
	return &CollectionHandlers{catalog: catalogStore}
}

type createCollectionRequest struct {
	Name           string                    `json:"name"`
	Owner          string                    `json:"owner"`
	Description    string                    `json:"description"`
	Visibility     models.Visibility         `json:"visibility"`
	EmbeddingModel models.ProviderDescriptor `json:"embeddings_model"`
}

func (h *CollectionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	if req.Name == "" || req.Owner == "" {
		respondError(w, apierr.BadInput("name and owner are required"))
		return
	}
	if req.Visibility == "" {
		req.Visibility = models.VisibilityPrivate
	}

	collection, err := h.catalog.CreateCollection(r.Context(), req.Name, req.Owner, req.Description, req.Visibility, req.EmbeddingModel)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, collection)
}

func (h *CollectionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	collection, err := h.catalog.GetCollection(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (h *CollectionHandlers) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	skip := queryInt(q, "skip", 0)
	limit := queryInt(q, "limit", 50)

	total, items, err := h.catalog.ListCollections(r.Context(), q.Get("owner"), q.Get("visibility"), skip, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"total": total, "items": items})
}

type updateCollectionRequest struct {
	Name           *string                    `json:"name"`
	Description    *string                    `json:"description"`
	Visibility     *models.Visibility         `json:"visibility"`
	Endpoint       *string                    `json:"endpoint"`
	APIKey         *string                    `json:"api_key"`
	EmbeddingModel *models.ProviderDescriptor `json:"embeddings_model"`
}

func (h *CollectionHandlers) Update(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req updateCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	if req.EmbeddingModel != nil {
		// vendor and model are immutable after creation; only endpoint and
		// api_key updates pass through.
		if req.EmbeddingModel.Vendor != "" || req.EmbeddingModel.Model != "" {
			log.Warn().Int64("collection_id", id).Msg("ignoring embeddings vendor/model change on update")
		}
		if req.Endpoint == nil && req.EmbeddingModel.Endpoint != "" {
			req.Endpoint = &req.EmbeddingModel.Endpoint
		}
		if req.APIKey == nil && req.EmbeddingModel.APIKey != "" {
			req.APIKey = &req.EmbeddingModel.APIKey
		}
	}
	collection, err := h.catalog.UpdateCollection(r.Context(), id, catalog.CollectionUpdate{
		Name:        req.Name,
		Description: req.Description,
		Visibility:  req.Visibility,
		Endpoint:    req.Endpoint,
		APIKey:      req.APIKey,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collection)
}

func (h *CollectionHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	removedEmbeddings, removedFiles, err := h.catalog.DeleteCollection(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"removed_embeddings": removedEmbeddings,
		"removed_files":      removedFiles,
	})
}

func pathInt64(r *http.Request, key string) (int64, error) {
	raw := chi.URLParam(r, key)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, apierr.BadInput("invalid %s %q", key, raw)
	}
	return id, nil
}

func queryInt(q map[string][]string, key string, fallback int) int {
	vals, ok := q[key]
	if !ok || len(vals) == 0 || vals[0] == "" {
		return fallback
	}
	v, err := strconv.Atoi(vals[0])
	if err != nil {
		return fallback
	}
	return v
}
