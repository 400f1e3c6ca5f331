// Package service defines the catalog of external AI providers that
// credentials can be resolved for.
//
// Each service carries a validation rule (required prefix plus a minimum
// length the key must exceed) and display metadata. A Registry holds the
// active set and can be swapped wholesale when configuration is reloaded.
package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ID identifies a service, e.g. "openai".
type ID string

// Category groups services by the kind of content they produce.
type Category string

const (
	CategoryText   Category = "text"
	CategoryVisual Category = "visual"
	CategoryVideo  Category = "video"
	CategoryAudio  Category = "audio"
)

// Service describes one provider and how its keys look.
type Service struct {
	ID        ID       `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Category  Category `json:"category" yaml:"category"`
	KeyFormat string   `json:"key_format,omitempty" yaml:"key_format"`
	Website   string   `json:"website,omitempty" yaml:"website"`
	Prefix    string   `json:"prefix,omitempty" yaml:"prefix"`
	// MinLength is exclusive: a key must be strictly longer.
	MinLength int    `json:"min_length" yaml:"min_length"`
	EnvVar    string `json:"env_var,omitempty" yaml:"env"`
	// Fallback is an operator-provisioned last-resort key. Never serialized.
	Fallback string `json:"-" yaml:"fallback"`
}

// ErrUnknownService is returned when an ID is not in the registry.
var ErrUnknownService = errors.New("unknown service")

// ValidationError reports a value that does not satisfy a service's rule.
type ValidationError struct {
	Service ID
	Reason  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid credential for %s: %s", e.Service, e.Reason)
}

// Check validates value against the service's rule.
func (s Service) Check(value string) error {
	switch {
	case value == "":
		return &ValidationError{Service: s.ID, Reason: "empty value"}
	case s.Prefix != "" && !strings.HasPrefix(value, s.Prefix):
		return &ValidationError{Service: s.ID, Reason: fmt.Sprintf("missing prefix %q", s.Prefix)}
	case len(value) <= s.MinLength:
		return &ValidationError{Service: s.ID, Reason: fmt.Sprintf("must be longer than %d characters", s.MinLength)}
	}
	return nil
}

// Registry is the active service catalog. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	services map[ID]Service
}

// NewRegistry builds a registry from the given definitions.
func NewRegistry(services []Service) (*Registry, error) {
	r := &Registry{}
	if err := r.Replace(services); err != nil {
		return nil, err
	}
	return r, nil
}

// Replace swaps the whole catalog. The old catalog stays in effect if the
// new one is invalid.
func (r *Registry) Replace(services []Service) error {
	next := make(map[ID]Service, len(services))
	for _, s := range services {
		if s.ID == "" {
			return errors.New("service definition without id")
		}
		if _, dup := next[s.ID]; dup {
			return fmt.Errorf("duplicate service %q", s.ID)
		}
		if s.MinLength < 0 {
			return fmt.Errorf("service %q: negative min_length", s.ID)
		}
		if s.Name == "" {
			s.Name = string(s.ID)
		}
		next[s.ID] = s
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = next
	return nil
}

// Lookup returns the service with the given ID.
func (r *Registry) Lookup(id ID) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	return s, ok
}

// Validate checks value against the rule of service id.
func (r *Registry) Validate(id ID, value string) error {
	s, ok := r.Lookup(id)
	if !ok {
		return &ValidationError{Service: id, Reason: ErrUnknownService.Error()}
	}
	return s.Check(value)
}

// All returns every service sorted by ID.
func (r *Registry) All() []Service {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Service, 0, len(r.services))
	for _, s := range r.services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ByCategory groups the catalog by category. Services within a category
// are sorted by ID.
func (r *Registry) ByCategory() map[Category][]Service {
	grouped := make(map[Category][]Service)
	for _, s := range r.All() {
		grouped[s.Category] = append(grouped[s.Category], s)
	}
	return grouped
}
