package orgconfig_test

import (
	"context"
	"testing"

	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/internal/orgconfig"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

func defaults() config.ProviderDefaultsConfig {
	return config.ProviderDefaultsConfig{
		OpenAIAPIKey:       "sk-test",
		OpenAIModels:       []string{"gpt-4o-mini"},
		OpenAIDefaultModel: "gpt-4o-mini",
		OllamaURL:          "http://localhost:11434",
		OllamaModels:       []string{"llama3"},
	}
}

func TestResolver_SystemTenantUsesDefaults(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	r := orgconfig.New(dir, defaults())

	cfg, err := r.Resolve(context.Background(), orgconfig.SystemTenant, "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !cfg.IsSystemTenant {
		t.Error("Resolve() for system tenant: IsSystemTenant = false, want true")
	}
	if cfg.Providers["openai"].APIKey != "sk-test" {
		t.Errorf("Providers[openai].APIKey = %q, want the process default", cfg.Providers["openai"].APIKey)
	}
	if cfg.Providers["ollama"].Endpoint != "http://localhost:11434" {
		t.Errorf("Providers[ollama].Endpoint = %q, want the process default", cfg.Providers["ollama"].Endpoint)
	}
}

func TestResolver_UnknownOwnerFallsBackToSystemDefaults(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	r := orgconfig.New(dir, defaults())

	cfg, err := r.Resolve(context.Background(), "nobody-registered", "")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !cfg.IsSystemTenant {
		t.Error("Resolve() for an unknown owner: IsSystemTenant = false, want true (falls back to system defaults)")
	}
}

func TestResolver_KnownOrgDoesNotInheritDefaults(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{
			"openai": {Enabled: true, Models: []string{"gpt-4o"}, DefaultModel: "gpt-4o", APIKey: "acme-key"},
		},
	})
	r := orgconfig.New(dir, defaults())

	cfg, err := r.Resolve(context.Background(), "acme", "default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if cfg.IsSystemTenant {
		t.Error("Resolve() for a registered org: IsSystemTenant = true, want false")
	}
	if cfg.Providers["openai"].APIKey != "acme-key" {
		t.Errorf("Providers[openai].APIKey = %q, want the org's own key, not the process default", cfg.Providers["openai"].APIKey)
	}
	if _, ok := cfg.Providers["ollama"]; ok {
		t.Error("Resolve() for a registered org with no ollama entry: should not have backfilled ollama from defaults")
	}
}

func TestResolver_CachesAcrossCalls(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{"openai": {APIKey: "v1"}},
	})
	r := orgconfig.New(dir, defaults())
	ctx := context.Background()

	first, err := r.Resolve(ctx, "acme", "default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	// Mutate the underlying directory; the cached resolve should not see it.
	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{"openai": {APIKey: "v2"}},
	})
	second, err := r.Resolve(ctx, "acme", "default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if second.Providers["openai"].APIKey != first.Providers["openai"].APIKey {
		t.Errorf("Resolve() second call = %q, want cached value %q", second.Providers["openai"].APIKey, first.Providers["openai"].APIKey)
	}
}

func TestResolver_ResetClearsCache(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{"openai": {APIKey: "v1"}},
	})
	r := orgconfig.New(dir, defaults())
	ctx := context.Background()

	if _, err := r.Resolve(ctx, "acme", "default"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	dir.RegisterOrgConfig("acme", "default", models.OrgConfig{
		Providers: map[string]models.ProviderConfig{"openai": {APIKey: "v2"}},
	})
	r.Reset()

	after, err := r.Resolve(ctx, "acme", "default")
	if err != nil {
		t.Fatalf("Resolve() after Reset() error = %v", err)
	}
	if after.Providers["openai"].APIKey != "v2" {
		t.Errorf("Resolve() after Reset() = %q, want %q (cache should have been discarded)", after.Providers["openai"].APIKey, "v2")
	}
}

func TestStaticDirectory_ListAssistants(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	dir.RegisterAssistant(models.Assistant{ID: "a1", Owner: "acme", Name: "first"})
	dir.RegisterAssistant(models.Assistant{ID: "a2", Owner: "acme", Name: "second"})

	got, err := dir.ListAssistants(context.Background())
	if err != nil {
		t.Fatalf("ListAssistants() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListAssistants() = %d assistants, want 2", len(got))
	}
}

func TestStaticDirectory_AssistantNotFound(t *testing.T) {
	dir := orgconfig.NewStaticDirectory()
	if _, err := dir.Assistant(context.Background(), "missing"); err == nil {
		t.Error("Assistant() for an unregistered id: error = nil, want not-found")
	}
}
