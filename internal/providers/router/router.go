// Package router fans generation kinds out to several provider backends
// behind a single domain.ProviderClient.
package router

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"genstudio/internal/domain"
)

// ErrNoBackend is returned when no backend serves a kind or task id.
var ErrNoBackend = errors.New("router: no backend")

const separator = ":"

// Router namespaces provider ids as "<backend>:<id>" so status checks reach
// the backend that created the task.
type Router struct {
	backends map[string]domain.ProviderClient
	byKind   map[domain.Kind]string
	fallback string
}

func New() *Router {
	return &Router{
		backends: make(map[string]domain.ProviderClient),
		byKind:   make(map[domain.Kind]string),
	}
}

// Register adds a backend. The first registered backend serves every kind
// without an explicit Route.
func (r *Router) Register(name string, client domain.ProviderClient) error {
	name = strings.TrimSpace(name)
	if name == "" || strings.Contains(name, separator) {
		return fmt.Errorf("router: invalid backend name %q", name)
	}
	if client == nil {
		return fmt.Errorf("router: backend %s has no client", name)
	}
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("router: backend %s registered twice", name)
	}
	r.backends[name] = client
	if r.fallback == "" {
		r.fallback = name
	}
	return nil
}

// Route sends kind to the named backend.
func (r *Router) Route(kind domain.Kind, backend string) error {
	if _, ok := r.backends[backend]; !ok {
		return fmt.Errorf("%w named %s", ErrNoBackend, backend)
	}
	r.byKind[kind] = backend
	return nil
}

// Backends returns the registered backend names.
func (r *Router) Backends() []string {
	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create sends the task to the backend routed for kind. Actions go to the
// backend that created their parent, with the parent id un-namespaced.
func (r *Router) Create(ctx context.Context, kind domain.Kind, payload domain.Payload) (string, error) {
	name, ok := r.byKind[kind]
	if !ok {
		name = r.fallback
	}
	if kind == domain.KindAction {
		if backend, parent, found := strings.Cut(strings.TrimSpace(payload.ParentTaskID), separator); found {
			if _, known := r.backends[backend]; known {
				name = backend
				payload.ParentTaskID = parent
			}
		}
	}
	client, ok := r.backends[name]
	if !ok {
		return "", fmt.Errorf("%w for kind %s", ErrNoBackend, kind)
	}
	id, err := client.Create(ctx, kind, payload)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(id) == "" {
		return "", nil
	}
	return name + separator + id, nil
}

func (r *Router) CheckStatus(ctx context.Context, taskID string) (domain.StatusReport, error) {
	name, id, ok := strings.Cut(taskID, separator)
	if !ok {
		return domain.StatusReport{}, fmt.Errorf("%w for task %s", ErrNoBackend, taskID)
	}
	client, ok := r.backends[name]
	if !ok {
		return domain.StatusReport{}, fmt.Errorf("%w named %s", ErrNoBackend, name)
	}
	return client.CheckStatus(ctx, id)
}

var _ domain.ProviderClient = (*Router)(nil)
