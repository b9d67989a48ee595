// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package permission

import (
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
)

// Matcher checks required permissions against granted codes. Granted codes
// may be glob patterns using ':' as the segment separator, so
// "sys:user:*" grants "sys:user:list" but not "sys:user:role:list".
type Matcher struct {
	mu       sync.RWMutex
	compiled map[string]glob.Glob
}

// NewMatcher creates a Matcher with an empty pattern cache.
func NewMatcher() *Matcher {
	return &Matcher{compiled: make(map[string]glob.Glob)}
}

// Allows reports whether any granted code covers required. Granted codes
// that fail to compile never match.
func (m *Matcher) Allows(granted []string, required string) bool {
	if required == "" {
		return true
	}
	for _, g := range granted {
		if g == required {
			return true
		}
		pattern, err := m.compile(g)
		if err != nil {
			continue
		}
		if pattern.Match(required) {
			return true
		}
	}
	return false
}

// AllowsAll reports whether every required code is covered.
func (m *Matcher) AllowsAll(granted []string, required ...string) bool {
	for _, r := range required {
		if !m.Allows(granted, r) {
			return false
		}
	}
	return true
}

func (m *Matcher) compile(pattern string) (glob.Glob, error) {
	m.mu.RLock()
	g, ok := m.compiled[pattern]
	m.mu.RUnlock()
	if ok {
		return g, nil
	}

	g, err := glob.Compile(pattern, ':')
	if err != nil {
		return nil, oops.Code("PERMISSION_INVALID_PATTERN").With("pattern", pattern).Wrap(err)
	}
	m.mu.Lock()
	m.compiled[pattern] = g
	m.mu.Unlock()
	return g, nil
}
