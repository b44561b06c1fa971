package handlers

import (
	"net/http"

	"github.com/lamb-project/lamb-kb-server/internal/plugins"
)

// PluginHandlers serves /ingestion/plugins and /query/plugins.
type PluginHandlers struct {
	registry *plugins.Registry
}

func NewPluginHandlers(registry *plugins.Registry) *PluginHandlers {
	return &PluginHandlers{registry: registry}
}

func (h *PluginHandlers) ListIngest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": h.registry.ListIngest()})
}

func (h *PluginHandlers) ListQuery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"plugins": h.registry.ListQuery()})
}
