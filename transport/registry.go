package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
)

var (
	// ErrUnknownTransport is returned by Build for unregistered names.
	ErrUnknownTransport = errors.New("semo: unknown transport")
	// ErrIncompleteTransport is returned when a builder leaves out the
	// publisher or the subscriber. The control bus needs both.
	ErrIncompleteTransport = errors.New("semo: transport needs a publisher and a subscriber")
)

type registration struct {
	build Builder
	caps  Capabilities
}

// Registry maps control bus system names to their builders and
// capabilities. Names are matched case-insensitively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]registration
}

// DefaultRegistry is the process wide transport registry.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registration)}
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register adds a builder and its capabilities. A later registration under
// the same name replaces the earlier one.
func (r *Registry) Register(name string, builder Builder, caps Capabilities) {
	key := normalize(name)
	if caps.Name == "" {
		caps.Name = key
	}
	r.mu.Lock()
	r.entries[key] = registration{build: builder, caps: caps}
	r.mu.Unlock()
}

func (r *Registry) lookup(name string) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[normalize(name)]
	return entry, ok
}

// GetCapabilities returns the capabilities for a registered transport, or a
// zero value carrying only the name.
func (r *Registry) GetCapabilities(name string) Capabilities {
	if entry, ok := r.lookup(name); ok {
		return entry.caps
	}
	return Capabilities{Name: normalize(name)}
}

// Build creates the transport named by cfg.GetControlBusSystem. A result
// missing either side is closed and rejected.
func (r *Registry) Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	if cfg == nil {
		return Transport{}, errors.New("semo: transport config is required")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	name := cfg.GetControlBusSystem()
	entry, ok := r.lookup(name)
	if !ok || entry.build == nil {
		return Transport{}, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownTransport, name, r.Names())
	}

	tr, err := entry.build(ctx, cfg, logger)
	if err != nil {
		return Transport{}, err
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		return Transport{}, errors.Join(fmt.Errorf("%w: %q", ErrIncompleteTransport, name), tr.Close())
	}
	return tr, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()

	slices.Sort(names)
	return names
}

func (r *Registry) Has(name string) bool {
	_, ok := r.lookup(name)
	return ok
}

// Register adds a transport to the default registry.
func Register(name string, builder Builder, caps Capabilities) {
	DefaultRegistry.Register(name, builder, caps)
}

// Build creates a transport using the default registry.
func Build(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error) {
	return DefaultRegistry.Build(ctx, cfg, logger)
}
