// Command server runs the knowledge-base server: the Metadata Catalog, the
// Vector Store Adapter, the Ingestion Pipeline, the Query Service, and the
// Retrieval-Augmented Completion Orchestrator, all behind one HTTP router.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lamb-project/lamb-kb-server/internal/api"
	"github.com/lamb-project/lamb-kb-server/internal/api/handlers"
	"github.com/lamb-project/lamb-kb-server/internal/catalog"
	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/internal/connectors"
	"github.com/lamb-project/lamb-kb-server/internal/embeddings"
	"github.com/lamb-project/lamb-kb-server/internal/ingest"
	"github.com/lamb-project/lamb-kb-server/internal/orgconfig"
	"github.com/lamb-project/lamb-kb-server/internal/plugins"
	"github.com/lamb-project/lamb-kb-server/internal/query"
	"github.com/lamb-project/lamb-kb-server/internal/rag"
	"github.com/lamb-project/lamb-kb-server/internal/telemetry"
	"github.com/lamb-project/lamb-kb-server/internal/vectorstore"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	log.Info().Msg("knowledge-base server starting")

	ctx := context.Background()

	shutdownTracing, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	vectorDriver, closeVector, err := newVectorDriver(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize vector store driver")
	}

	embedFactory := embeddings.NewFactory(cfg.Providers)

	catalogStore, err := catalog.Open(cfg.Storage.CatalogPath, vectorDriver, embedFactory)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog")
	}

	pluginRegistry := newPluginRegistry()
	connectorRegistry := newConnectorRegistry()

	pipeline := ingest.New(catalogStore, vectorDriver, embedFactory, pluginRegistry, cfg.Upload.StaticRoot, cfg.Upload.MaxUploadByte, cfg.Worker.PoolSize)
	queryService := query.New(catalogStore, vectorDriver, embedFactory, pluginRegistry)

	directory := orgconfig.NewStaticDirectory()
	if path := os.Getenv("KB_DIRECTORY_FILE"); path != "" {
		if err := directory.LoadFile(path); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to load static directory file")
		}
	}
	resolver := orgconfig.New(directory, cfg.Providers)
	orchestrator := rag.New(directory, resolver, queryService, connectorRegistry)

	h := &api.Handlers{
		Collections: handlers.NewCollectionHandlers(catalogStore),
		Files:       handlers.NewFileHandlers(catalogStore, pipeline, vectorDriver, embedFactory),
		Query:       handlers.NewQueryHandlers(queryService),
		Plugins:     handlers.NewPluginHandlers(pluginRegistry),
		Completion:  handlers.NewCompletionHandlers(directory, orchestrator, func() { resolver.Reset() }),
	}

	router := api.NewRouter(cfg, h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		httpServer.Shutdown(shutdownCtx)
		pipeline.Shutdown()
		catalogStore.Close()
		closeVector()
		shutdownTracing(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Str("vector_driver", vectorDriver.Kind()).Msg("knowledge-base server ready")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func newVectorDriver(ctx context.Context, cfg *config.Config) (vectorstore.Driver, func(), error) {
	switch cfg.Storage.VectorDriver {
	case "pgvector":
		store, err := vectorstore.NewPgvectorStore(ctx, cfg.Storage.PgvectorURL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		dataDir := cfg.Storage.DataDir + "/data/embedded"
		store := vectorstore.NewEmbeddedStore(dataDir)
		return store, func() {}, nil
	}
}

func newPluginRegistry() *plugins.Registry {
	r := plugins.NewRegistry()
	r.RegisterIngest(plugins.NewSimpleIngest())
	r.RegisterIngest(plugins.NewMarkitdownIngest())
	r.RegisterIngest(plugins.NewURLIngest())
	r.RegisterIngest(plugins.NewYoutubeTranscriptIngest())
	r.RegisterIngest(plugins.NewMockaiJSONIngest())
	r.RegisterQuery(plugins.NewSimpleQuery())
	return r
}

func newConnectorRegistry() *connectors.Registry {
	r := connectors.NewRegistry()
	r.Register(connectors.NewOpenAIConnector())
	r.Register(connectors.NewOllamaConnector())
	r.Register(connectors.NewBypassConnector())
	r.Register(connectors.NewLocalConnector())
	return r
}
