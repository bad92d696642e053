// Package provider holds the task platforms the platform manager can create
// tasks on.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	apperrors "taskflow/pkg/errors"
	"taskflow/pkg/events"
)

// Result identifies a task created on a platform.
type Result struct {
	PlatformTaskID string
	URL            *string
}

type Provider interface {
	Name() string
	CreateTask(ctx context.Context, task events.TaskExtracted) (Result, error)
}

// NewTaskID returns an id of the form <platform>_<8 hex chars>.
func NewTaskID(platform string) string {
	return platform + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// Registry maps platform names to providers and knows the default one.
type Registry struct {
	providers   map[string]Provider
	defaultName string
}

func NewRegistry(defaultName string, providers ...Provider) (*Registry, error) {
	r := &Registry{
		providers:   make(map[string]Provider, len(providers)),
		defaultName: defaultName,
	}
	for _, p := range providers {
		r.Register(p)
	}
	if _, ok := r.providers[defaultName]; !ok {
		return nil, fmt.Errorf("default platform %q is not registered", defaultName)
	}
	return r, nil
}

// Register adds p, replacing any provider with the same name.
func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) Default() string {
	return r.defaultName
}

// Get returns the named provider, or the default one when name is empty.
func (r *Registry) Get(name string) (Provider, error) {
	if name == "" {
		name = r.defaultName
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, apperrors.ErrUnsupportedPlatform.
			WithMessage(fmt.Sprintf("Unsupported platform: %s", name)).
			WithDetail("platform", name)
	}
	return p, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
