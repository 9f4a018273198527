// Package plugin provides the analytics plugin registry and the plugins
// shipped with the service.
package plugin

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Timothy-Git/GitMetadataCrawler/internal/gitmeta"
)

// Sentinels for errors.Is matching; the concrete errors carry the plugin
// name in their message.
var (
	ErrNotFound          = errors.New("plugin not found")
	ErrAlreadyRegistered = errors.New("plugin already registered")
)

type notFoundError struct {
	name string
}

func (e *notFoundError) Error() string {
	return fmt.Sprintf("Plugin '%s' not found.", e.name)
}

func (e *notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type duplicateError struct {
	name string
}

func (e *duplicateError) Error() string {
	return fmt.Sprintf("Plugin '%s' already registered.", e.name)
}

func (e *duplicateError) Is(target error) bool {
	return target == ErrAlreadyRegistered
}

// Registry holds the plugins available for execution. It is injected where
// needed instead of living as a process-wide singleton.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]gitmeta.Plugin
	order   []string
}

// NewRegistry constructs a registry and registers the provided plugins.
// Duplicate names fail registration.
func NewRegistry(plugins ...gitmeta.Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]gitmeta.Plugin)}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin under its name.
func (r *Registry) Register(p gitmeta.Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := p.Name()
	if _, exists := r.plugins[name]; exists {
		return &duplicateError{name: name}
	}
	r.plugins[name] = p
	r.order = append(r.order, name)
	return nil
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (gitmeta.Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	if !ok {
		return nil, &notFoundError{name: name}
	}
	return p, nil
}

// Names lists the registered plugin names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}
