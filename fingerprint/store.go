// Copyright 2024 uTLS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package fingerprint

import (
	"fmt"
	"sync"
)

// TemplateStore holds the process-wide set of Templates: the four required
// built-in presets plus any caller-registered custom ones. Once
// initialized, built-ins are never mutated (§5); custom templates are
// validated on registration (§4.2).
type TemplateStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateStore returns a store pre-populated with the four built-in
// presets: Chrome-like, Firefox-like, Safari-like, Edge-like.
func NewTemplateStore() *TemplateStore {
	s := &TemplateStore{templates: make(map[string]*Template)}
	for _, t := range builtinTemplates() {
		s.templates[t.ID] = t
	}
	return s
}

func builtinTemplates() []*Template {
	return []*Template{
		chromeLikeTemplate(),
		firefoxLikeTemplate(),
		safariLikeTemplate(),
		edgeLikeTemplate(),
	}
}

// Get looks up a Template by ID and returns a clone, so the caller can never
// mutate the store's process-static original.
func (s *TemplateStore) Get(id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, newError(ErrKindTemplateInvariant, fmt.Sprintf("unknown template %q", id))
	}
	return t.Clone(), nil
}

// Register validates and stores a custom Template, overwriting any existing
// entry with the same ID. Built-in templates may be shadowed this way, but
// the store never mutates a previously returned clone.
func (s *TemplateStore) Register(t *Template) error {
	if t == nil {
		return newError(ErrKindTemplateInvariant, "nil template")
	}
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t.Clone()
	return nil
}

// List returns the IDs of every registered template, built-in and custom.
func (s *TemplateStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	return ids
}

// DefaultStore is the process-wide Template Store, analogous to the host
// stack's DefaultRegistry (u_fingerprint_registry.go). Callers needing
// isolated state (tests, multi-tenant processes) construct their own
// TemplateStore instead of using this one.
var DefaultStore = NewTemplateStore()

const (
	TemplateChromeLike  = "chrome-like"
	TemplateFirefoxLike = "firefox-like"
	TemplateSafariLike  = "safari-like"
	TemplateEdgeLike    = "edge-like"
)
