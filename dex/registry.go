package dex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Registry maps venue addresses to adapters
type Registry struct {
	mu     sync.RWMutex
	venues map[common.Address]Venue
}

// NewRegistry creates a registry holding the given venues
func NewRegistry(venues ...Venue) *Registry {
	r := &Registry{venues: make(map[common.Address]Venue)}
	for _, v := range venues {
		r.venues[v.Address()] = v
	}
	return r
}

// Register adds a venue; addresses must be unique
func (r *Registry) Register(v Venue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.venues[v.Address()]; exists {
		return fmt.Errorf("venue %s already registered", v.Address().Hex())
	}
	r.venues[v.Address()] = v
	return nil
}

// Get returns the venue registered at addr
func (r *Registry) Get(addr common.Address) (Venue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.venues[addr]
	return v, ok
}

// Venues returns all venues ordered by address
func (r *Registry) Venues() []Venue {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Venue, 0, len(r.venues))
	for _, v := range r.venues {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address().Hex() < out[j].Address().Hex()
	})
	return out
}
