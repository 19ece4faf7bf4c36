package group

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samber/lo"
)

// Registry holds every light group of the process. It is filled at startup
// and read by the status and home-automation surfaces.
type Registry struct {
	mu     sync.RWMutex
	groups map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{groups: make(map[string]*Controller)}
}

// Add registers a controller. Names must be unique.
func (r *Registry) Add(c *Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[c.Name()]; ok {
		return fmt.Errorf("light group %q already registered", c.Name())
	}
	r.groups[c.Name()] = c
	return nil
}

func (r *Registry) Get(name string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.groups[name]
	return c, ok
}

// Names returns the group names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := lo.Keys(r.groups)
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// All returns the controllers sorted by name.
func (r *Registry) All() []*Controller {
	r.mu.RLock()
	all := lo.Values(r.groups)
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool { return all[i].Name() < all[j].Name() })
	return all
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.groups)
}
