package providers

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/store"
)

// Info is the catalog entry for one registered provider.
type Info struct {
	Name           string `json:"name"`
	Display        string `json:"display"`
	RequiresAPIKey bool   `json:"requires_api_key"`
	IsFree         bool   `json:"is_free"`
	Pricing        string `json:"pricing,omitempty"`
}

// Factory builds a provider instance bound to one tenant's credential.
// apiKey is empty when the provider does not require one.
type Factory[P any] func(apiKey string, cfg config.ProvidersConfig) P

// healthProbe is implemented by every provider in this package.
type healthProbe interface {
	HealthCheck(ctx context.Context) Health
}

const healthTimeout = 10 * time.Second

type regEntry[P any] struct {
	info    Info
	factory Factory[P]
}

// Registry is one of the four provider registries. Instances are built
// per call with tenant-scoped credentials; no provider instance is ever
// shared across tenants.
type Registry[P any] struct {
	cfg   config.ProvidersConfig
	creds store.CredentialStore

	mu      sync.RWMutex
	entries map[string]regEntry[P]
}

func NewRegistry[P any](cfg config.ProvidersConfig, creds store.CredentialStore) *Registry[P] {
	return &Registry[P]{cfg: cfg, creds: creds, entries: make(map[string]regEntry[P])}
}

func (r *Registry[P]) Register(info Info, factory Factory[P]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[info.Name] = regEntry[P]{info: info, factory: factory}
}

// Get instantiates the named provider for a tenant. A missing or
// undecryptable credential surfaces as a not_configured error.
func (r *Registry[P]) Get(ctx context.Context, name string, tenantID uuid.UUID) (P, error) {
	var zero P
	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return zero, notConfigured(name, "unknown provider")
	}
	var apiKey string
	if entry.info.RequiresAPIKey {
		key, err := r.creds.Get(ctx, tenantID, name)
		if err != nil {
			return zero, notConfigured(name, err.Error())
		}
		apiKey = key
	}
	return entry.factory(apiKey, r.cfg), nil
}

// List returns the catalog sorted by name.
func (r *Registry[P]) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// HealthCheck probes the named provider with the tenant's credentials.
func (r *Registry[P]) HealthCheck(ctx context.Context, name string, tenantID uuid.UUID) Health {
	p, err := r.Get(ctx, name, tenantID)
	if err != nil {
		return Health{Status: HealthNotConfigured, Detail: err.Error()}
	}
	probe, ok := any(p).(healthProbe)
	if !ok {
		return Health{Status: HealthUnavailable, Detail: "no health probe"}
	}
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return probe.HealthCheck(ctx)
}

// Registries bundles the four domains.
type Registries struct {
	LLM     *Registry[LLM]
	TTS     *Registry[TTS]
	Search  *Registry[WebSearch]
	Flights *Registry[FlightSearch]
}

// NewRegistries builds the fully-populated default registry set.
func NewRegistries(cfg config.ProvidersConfig, creds store.CredentialStore) *Registries {
	r := &Registries{
		LLM:     NewRegistry[LLM](cfg, creds),
		TTS:     NewRegistry[TTS](cfg, creds),
		Search:  NewRegistry[WebSearch](cfg, creds),
		Flights: NewRegistry[FlightSearch](cfg, creds),
	}
	registerLLMs(r.LLM)
	registerTTS(r.TTS)
	registerSearch(r.Search)
	registerFlights(r.Flights)
	return r
}
