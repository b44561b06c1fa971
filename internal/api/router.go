// Package api assembles the knowledge-base server's HTTP surface out
// of the handler and middleware packages: route wiring is the only thing
// that lives here.
package api

import (
	"net/http"

	"github.com/lamb-project/lamb-kb-server/internal/api/handlers"
	"github.com/lamb-project/lamb-kb-server/internal/api/middleware"
	"github.com/lamb-project/lamb-kb-server/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Handlers bundles every handler group the router dispatches to.
type Handlers struct {
	Collections *handlers.CollectionHandlers
	Files       *handlers.FileHandlers
	Query       *handlers.QueryHandlers
	Plugins     *handlers.PluginHandlers
	Completion  *handlers.CompletionHandlers
}

// NewRouter builds the HTTP router for both the knowledge-base API and the
// completion API: one process serves both surfaces on a single
// chi.Router.
func NewRouter(cfg *config.Config, h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(middleware.BodyLimit(cfg.Upload.MaxBodyByte, cfg.Upload.MaxUploadByte))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.NewAPIKeyAuth(cfg.Auth.APIKeys)
	r.Use(auth.Middleware)

	r.Get("/health", healthHandler(cfg))

	// Static uploads, read-only.
	fileServer := http.StripPrefix("/static/", http.FileServer(http.Dir(cfg.Upload.StaticRoot)))
	r.Handle("/static/*", fileServer)

	r.Route("/collections", func(r chi.Router) {
		r.Post("/", h.Collections.Create)
		r.Get("/", h.Collections.List)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.Collections.Get)
			r.Put("/", h.Collections.Update)
			r.Delete("/", h.Collections.Delete)
			r.Post("/ingest-file", h.Files.IngestFile)
			r.Post("/ingest-url", h.Files.IngestURL)
			r.Post("/ingest-base", h.Files.IngestBase)
			r.Post("/documents", h.Files.AddDocuments)
			r.Post("/query", h.Query.Query)
			r.Get("/files", h.Files.List)
			r.Delete("/files/{file_id}", h.Files.Delete)
		})
	})

	r.Put("/files/{file_id}/status", h.Files.UpdateStatus)
	r.Get("/files/{file_id}/content", h.Files.Content)

	r.Get("/ingestion/plugins", h.Plugins.ListIngest)
	r.Get("/query/plugins", h.Plugins.ListQuery)

	// Completion API: mounted both with and without the /v1 prefix.
	for _, prefix := range []string{"", "/v1"} {
		r.Get(prefix+"/models", h.Completion.Models)
		r.Post(prefix+"/chat/completions", h.Completion.ChatCompletions)
	}
	r.Post("/v1/pipelines/reload", h.Completion.PipelinesReload)

	return r
}

func healthHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"` + cfg.Version + `"}`))
	}
}
