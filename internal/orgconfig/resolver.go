// Package orgconfig implements the Organization Config Resolver: it
// turns a caller-scoped (owner, setup) pair into the effective provider,
// knowledge-base, and feature configuration for that tenant, falling back
// to process-wide defaults for the system tenant.
package orgconfig

import (
	"context"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

const defaultSetup = "default"

// SystemTenant is the owner value that always resolves against process-wide
// defaults, regardless of what the Directory holds for it.
const SystemTenant = "system"

// Directory is the read-only lookup interface the core resolves against;
// the user/organization/assistant directory itself is out of scope
// and is expected to be backed by whatever store an operator wires in.
type Directory interface {
	// Assistant loads an assistant record by id, used by the RAG Orchestrator.
	Assistant(ctx context.Context, id string) (*models.Assistant, error)
	// ListAssistants returns every assistant the completion API exposes as a
	// model.
	ListAssistants(ctx context.Context) ([]models.Assistant, error)
	// OrgConfig loads the organization config for (owner, setup). found is
	// false when the organization or setup is unknown, not when providers
	// happen to be empty.
	OrgConfig(ctx context.Context, owner, setup string) (cfg models.OrgConfig, found bool, err error)
}

// Resolver is the Organization Config Resolver.
type Resolver struct {
	directory Directory
	defaults  config.ProviderDefaultsConfig

	mu    sync.Mutex
	cache map[string]models.OrgConfig
}

func New(directory Directory, defaults config.ProviderDefaultsConfig) *Resolver {
	return &Resolver{directory: directory, defaults: defaults, cache: make(map[string]models.OrgConfig)}
}

// Reset atomically rebuilds the resolver's config cache, discarding
// everything resolved so far. This backs the administrative reload
// endpoint (POST /v1/pipelines/reload): the next Resolve re-reads the
// process defaults and the directory.
func (r *Resolver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string]models.OrgConfig)
}

// Resolve returns the effective config for (owner, setup), caching per
// (owner, setup) for the resolver's lifetime (request-scoped when a fresh
// Resolver is built per request).
func (r *Resolver) Resolve(ctx context.Context, owner, setup string) (models.OrgConfig, error) {
	if setup == "" {
		setup = defaultSetup
	}
	key := owner + "\x00" + setup

	r.mu.Lock()
	if cfg, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return cfg, nil
	}
	r.mu.Unlock()

	cfg, found, err := r.directory.OrgConfig(ctx, owner, setup)
	if err != nil {
		return models.OrgConfig{}, err
	}
	if !found || owner == SystemTenant {
		cfg = r.applySystemDefaults(cfg)
		cfg.IsSystemTenant = true
	} else {
		cfg = r.fillMissingProviders(cfg)
	}

	r.mu.Lock()
	r.cache[key] = cfg
	r.mu.Unlock()
	return cfg, nil
}

// applySystemDefaults builds the system tenant's config entirely from
// process-wide defaults.
func (r *Resolver) applySystemDefaults(existing models.OrgConfig) models.OrgConfig {
	cfg := existing
	if cfg.Providers == nil {
		cfg.Providers = map[string]models.ProviderConfig{}
	}
	if _, ok := cfg.Providers["openai"]; !ok {
		cfg.Providers["openai"] = models.ProviderConfig{
			Enabled:      r.defaults.OpenAIAPIKey != "",
			Models:       r.defaults.OpenAIModels,
			DefaultModel: r.defaults.OpenAIDefaultModel,
			APIKey:       r.defaults.OpenAIAPIKey,
		}
	}
	if _, ok := cfg.Providers["ollama"]; !ok {
		cfg.Providers["ollama"] = models.ProviderConfig{
			Enabled:      r.defaults.OllamaURL != "",
			Models:       r.defaults.OllamaModels,
			DefaultModel: firstOrEmpty(r.defaults.OllamaModels),
			Endpoint:     r.defaults.OllamaURL,
		}
	}
	if cfg.KnowledgeBase.ServerURL == "" {
		cfg.KnowledgeBase = models.KnowledgeBaseConfig{
			ServerURL: r.defaults.KnowledgeBaseServerURL,
			APIToken:  r.defaults.KnowledgeBaseToken,
		}
	}
	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}
	return cfg
}

// fillMissingProviders makes sure a non-system organization's Providers and
// Features maps are non-nil. It substitutes no process defaults: only the
// system tenant inherits them, and a non-system organization whose config
// omits a provider simply leaves it unconfigured.
func (r *Resolver) fillMissingProviders(cfg models.OrgConfig) models.OrgConfig {
	if cfg.Providers == nil {
		cfg.Providers = map[string]models.ProviderConfig{}
	}
	if cfg.Features == nil {
		cfg.Features = map[string]bool{}
	}
	return cfg
}

func firstOrEmpty(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
