package netprofile

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gateway-fm/tvt/pkg/types"
)

// Registry holds network profiles. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[types.Network]*Profile
}

// NewRegistry creates a new empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[types.Network]*Profile),
	}
}

// Register adds or replaces a profile.
func (r *Registry) Register(p *Profile) {
	if p == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[p.Network] = p
}

// Get returns the profile of network, or nil if not found.
func (r *Registry) Get(network types.Network) *Profile {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[network]
}

// Names returns the registered networks in sorted order.
func (r *Registry) Names() []types.Network {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]types.Network, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// DefaultRegistry returns a registry with the public networks.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(Mainnet())
	r.Register(Testnet())
	return r
}

// Resolve returns the profile of network. Localnet is built from address;
// public networks come from the default registry.
func Resolve(network types.Network, address string) (*Profile, error) {
	if network == types.NetworkLocalnet {
		if address == "" {
			return nil, fmt.Errorf("localnet requires a network address")
		}
		return Local(address), nil
	}
	if p := DefaultRegistry().Get(network); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("unknown network %q", network)
}
