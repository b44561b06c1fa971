package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/query"
)

// QueryHandlers serves /collections/{id}/query.
type QueryHandlers struct {
	service *query.Service
}

func NewQueryHandlers(service *query.Service) *QueryHandlers {
	return &QueryHandlers{service: service}
}

type queryRequest struct {
	QueryText  string                 `json:"query_text"`
	TopK       *int                   `json:"top_k"`
	Threshold  float64                `json:"threshold"`
	PluginName string                 `json:"plugin_name"`
	Params     map[string]interface{} `json:"plugin_params"`
}

func (h *QueryHandlers) Query(w http.ResponseWriter, r *http.Request) {
	collectionID, err := pathInt64(r, "id")
	if err != nil {
		respondError(w, err)
		return
	}
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, apierr.BadInput("invalid request body: %v", err))
		return
	}
	pluginName := req.PluginName
	if pluginName == "" {
		pluginName = r.URL.Query().Get("plugin_name")
	}
	topK := -1 // absent: let the plugin default apply
	if req.TopK != nil {
		topK = *req.TopK
	}

	result, err := h.service.Query(r.Context(), query.Request{
		CollectionID: collectionID,
		QueryText:    req.QueryText,
		TopK:         topK,
		Threshold:    req.Threshold,
		PluginName:   pluginName,
		PluginParams: req.Params,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
