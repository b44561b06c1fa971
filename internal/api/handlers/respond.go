// Package handlers implements the knowledge-base server's HTTP surface:
// thin JSON adapters over the Metadata Catalog, Ingestion Pipeline,
// Query Service, Plugin Registry, and RAG Orchestrator.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/rs/zerolog/log"
)

// statusForKind maps an apierr.Kind to its HTTP status.
var statusForKind = map[apierr.Kind]int{
	apierr.KindBadInput:     http.StatusBadRequest,
	apierr.KindNotFound:     http.StatusNotFound,
	apierr.KindConflict:     http.StatusConflict,
	apierr.KindUnauthorized: http.StatusUnauthorized,
	apierr.KindConfigError:  http.StatusInternalServerError,
	apierr.KindStorageError: http.StatusInternalServerError,
	apierr.KindEmbedding:    http.StatusBadGateway,
	apierr.KindProvider:     http.StatusBadGateway,
	apierr.KindPlugin:       http.StatusInternalServerError,
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			log.Error().Err(err).Msg("encode response")
		}
	}
}

// respondError never leaks an internal error message to the client body
// for anything but the typed apierr.Error kinds.
func respondError(w http.ResponseWriter, err error) {
	var apiErr *apierr.Error
	if ok := asAPIError(err, &apiErr); ok {
		status, known := statusForKind[apiErr.Kind]
		if !known {
			status = http.StatusInternalServerError
		}
		log.Error().Err(err).Str("kind", string(apiErr.Kind)).Int("status", status).Msg("request failed")
		writeJSON(w, status, map[string]string{"error": string(apiErr.Kind), "message": apiErr.Message})
		return
	}
	log.Error().Err(err).Msg("unhandled internal error")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func asAPIError(err error, target **apierr.Error) bool {
	for err != nil {
		if e, ok := err.(*apierr.Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
