package model

import (
	"fmt"
	"slices"
	"sync"
)

// Scope holds named parameter tensors for one loaded model. Models loaded into
// different scopes never share parameters.
type Scope struct {
	mu   sync.RWMutex
	vars map[string]*Tensor
}

// NewScope creates an empty scope
func NewScope() *Scope {
	return &Scope{vars: make(map[string]*Tensor)}
}

// Set stores t under name, replacing any previous value
func (s *Scope) Set(name string, t *Tensor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vars[name] = t
}

// Get returns the tensor stored under name
func (s *Scope) Get(name string) (*Tensor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.vars[name]
	return t, ok
}

// MustGet returns the named tensor or ErrParamNotFound
func (s *Scope) MustGet(name string) (*Tensor, error) {
	t, ok := s.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrParamNotFound, name)
	}
	return t, nil
}

// Delete removes name from the scope
func (s *Scope) Delete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.vars, name)
}

// Names returns the stored names in sorted order
func (s *Scope) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.vars))
	for k := range s.vars {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// Len returns the number of stored tensors
func (s *Scope) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vars)
}

// Clone deep-copies every tensor into a new scope
func (s *Scope) Clone() *Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c := NewScope()
	for k, v := range s.vars {
		c.vars[k] = v.Clone()
	}
	return c
}
