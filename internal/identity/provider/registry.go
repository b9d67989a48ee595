// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package provider

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/samber/oops"
)

// Registry holds the configured adapters by name. It satisfies
// identity.UnionPolicy.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	unions   map[string]bool
}

// NewRegistry builds adapters for every config. OIDC providers are
// discovered eagerly, so an unreachable issuer fails startup.
func NewRegistry(ctx context.Context, cfgs []Config) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]Adapter, len(cfgs)),
		unions:   make(map[string]bool, len(cfgs)),
	}
	for _, c := range cfgs {
		cfg, err := c.Resolve()
		if err != nil {
			return nil, err
		}
		cfg.Name = strings.ToLower(strings.TrimSpace(cfg.Name))
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.adapters[cfg.Name]; dup {
			return nil, oops.Code("PROVIDER_INVALID_CONFIG").With("provider", cfg.Name).Errorf("duplicate provider name")
		}

		var a Adapter
		switch cfg.Kind {
		case KindOIDC:
			a, err = NewOIDCAdapter(ctx, cfg)
			if err != nil {
				return nil, err
			}
		default:
			a = NewOAuth2Adapter(cfg)
		}
		r.Register(a, cfg.SupportsUnion)
	}
	return r, nil
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter, supportsUnion bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.adapters == nil {
		r.adapters = map[string]Adapter{}
		r.unions = map[string]bool{}
	}
	r.adapters[a.Name()] = a
	r.unions[a.Name()] = supportsUnion
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(name)]
	if !ok {
		return nil, oops.Code("PROVIDER_UNKNOWN").With("provider", name).Errorf("unknown provider")
	}
	return a, nil
}

// SupportsUnion implements identity.UnionPolicy.
func (r *Registry) SupportsUnion(provider string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unions[strings.ToLower(provider)]
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for n := range r.adapters {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
