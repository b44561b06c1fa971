// Package embeddings resolves a models.ProviderDescriptor into a callable
// embedding function. One function is built per descriptor value: a
// collection binds its embedding function by descriptor, not by a named
// process-wide driver.
package embeddings

import (
	"context"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/config"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// EmbedFunc maps a batch of strings to a batch of float vectors.
type EmbedFunc interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	MaxBatchSize() int
	// HealthCheck validates the descriptor with a single sentinel embedding.
	HealthCheck(ctx context.Context) error
}

// Factory builds EmbedFuncs from provider descriptors, substituting the
// literal "default" field value with process-wide defaults.
type Factory struct {
	defaults config.ProviderDefaultsConfig
}

func NewFactory(defaults config.ProviderDefaultsConfig) *Factory {
	return &Factory{defaults: defaults}
}

// ResolveDescriptor substitutes any "default" fields in place and returns
// the resolved descriptor. Called once at collection-creation time.
func (f *Factory) ResolveDescriptor(d models.ProviderDescriptor) (models.ProviderDescriptor, error) {
	if d.Vendor == models.DefaultSentinel || d.Vendor == "" {
		d.Vendor = f.defaults.EmbeddingsVendor
	}
	if d.Model == models.DefaultSentinel || d.Model == "" {
		d.Model = f.defaults.EmbeddingsModel
	}
	if d.Endpoint == models.DefaultSentinel || d.Endpoint == "" {
		d.Endpoint = f.defaults.EmbeddingsEndpoint
	}
	if d.APIKey == models.DefaultSentinel {
		d.APIKey = f.defaults.EmbeddingsAPIKey
	}
	if d.Vendor == "" || d.Model == "" {
		return d, apierr.BadInput("embeddings_model requires vendor and model after default substitution")
	}
	return d, nil
}

// Resolve returns the EmbedFunc for an already-resolved descriptor.
func (f *Factory) Resolve(d models.ProviderDescriptor) (EmbedFunc, error) {
	switch d.Vendor {
	case "openai":
		return NewOpenAIFunc(d.APIKey, d.Model, d.Endpoint), nil
	case "ollama", "local":
		return NewOllamaFunc(d.Endpoint, d.Model), nil
	default:
		return nil, apierr.BadInput("unsupported embeddings vendor %q", d.Vendor)
	}
}

// Build resolves the descriptor's defaults and returns the bound function,
// performing the sentinel health check required at collection creation.
func (f *Factory) Build(ctx context.Context, d models.ProviderDescriptor, validate bool) (EmbedFunc, models.ProviderDescriptor, error) {
	resolved, err := f.ResolveDescriptor(d)
	if err != nil {
		return nil, resolved, err
	}
	fn, err := f.Resolve(resolved)
	if err != nil {
		return nil, resolved, err
	}
	if validate {
		if err := fn.HealthCheck(ctx); err != nil {
			return nil, resolved, err
		}
	}
	return fn, resolved, nil
}
