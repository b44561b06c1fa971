package orgconfig

import (
	"context"
	"encoding/json"
	"os"
	"sync"

	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
)

// StaticDirectory is the bundled Directory implementation: assistants and
// per-organization configs are loaded once from a JSON file (or registered
// programmatically) and served read-only, standing in for whatever
// user/organization service an operator would otherwise wire in.
type StaticDirectory struct {
	mu         sync.RWMutex
	assistants map[string]models.Assistant
	configs    map[string]models.OrgConfig // keyed by owner + "\x00" + setup
}

func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		assistants: make(map[string]models.Assistant),
		configs:    make(map[string]models.OrgConfig),
	}
}

type staticDirectoryFile struct {
	Assistants []models.Assistant                     `json:"assistants"`
	Configs    map[string]map[string]models.OrgConfig `json:"configs"` // owner -> setup -> config
}

// LoadFile populates the directory from a JSON document; safe to call
// before the server starts accepting requests.
func (d *StaticDirectory) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc staticDirectoryFile
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, a := range doc.Assistants {
		d.assistants[a.ID] = a
	}
	for owner, setups := range doc.Configs {
		for setup, cfg := range setups {
			d.configs[owner+"\x00"+setup] = cfg
		}
	}
	return nil
}

// RegisterAssistant adds or replaces one assistant record.
func (d *StaticDirectory) RegisterAssistant(a models.Assistant) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assistants[a.ID] = a
}

// RegisterOrgConfig adds or replaces one organization's config for a setup.
func (d *StaticDirectory) RegisterOrgConfig(owner, setup string, cfg models.OrgConfig) {
	if setup == "" {
		setup = defaultSetup
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.configs[owner+"\x00"+setup] = cfg
}

func (d *StaticDirectory) ListAssistants(ctx context.Context) ([]models.Assistant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]models.Assistant, 0, len(d.assistants))
	for _, a := range d.assistants {
		out = append(out, a)
	}
	return out, nil
}

func (d *StaticDirectory) Assistant(ctx context.Context, id string) (*models.Assistant, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.assistants[id]
	if !ok {
		return nil, apierr.NotFound("assistant", id)
	}
	return &a, nil
}

func (d *StaticDirectory) OrgConfig(ctx context.Context, owner, setup string) (models.OrgConfig, bool, error) {
	if setup == "" {
		setup = defaultSetup
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	cfg, ok := d.configs[owner+"\x00"+setup]
	return cfg, ok, nil
}
