package release

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/openfroyo/automation/pkg/config"
	"github.com/openfroyo/automation/pkg/engine"
	"github.com/openfroyo/automation/pkg/policy"
)

// Release is a compiled set of automations. It holds builders only, so it
// can be cached and built many times against different collaborators.
type Release struct {
	ID         string
	CompiledAt time.Time
	Documents  []config.Document
	Lint       *policy.Result

	automations map[string]*Automation
	ids         []string
}

// Automation is the compiled form of one document.
type Automation struct {
	ID           string
	Tenant       string
	TriggerAlias string

	// Variables are in resolution order: dependencies first.
	Variables []Variable
	Triggers  []Trigger
	Actions   []Action
}

// Variable binds the value of a provider to an alias in the run scope.
type Variable struct {
	Alias     string
	DependsOn []string
	Builder   engine.Builder[any]
}

// Trigger matches an event, optionally guarded by a condition.
type Trigger struct {
	Event     string
	Condition engine.Builder[any]
}

// Action is an invocation template.
type Action struct {
	Name       string
	Type       string
	When       engine.Builder[any]
	Parameters []Parameter
}

// Parameter is one named action parameter.
type Parameter struct {
	Name    string
	Builder engine.Builder[any]
}

// Automation returns the compiled automation with the given ID.
func (r *Release) Automation(id string) (*Automation, bool) {
	a, ok := r.automations[id]
	return a, ok
}

// AutomationIDs returns the automation IDs in sorted order.
func (r *Release) AutomationIDs() []string {
	return append([]string(nil), r.ids...)
}

// Persistence stores release documents so releases survive restarts.
type Persistence interface {
	SaveRelease(ctx context.Context, id string, docs []config.Document) error
	LoadRelease(ctx context.Context, id string) ([]config.Document, error)
}

// Cache holds compiled releases by ID. It is safe for concurrent use.
type Cache struct {
	mu       sync.RWMutex
	releases map[string]*Release
	current  string
}

// NewCache creates an empty release cache.
func NewCache() *Cache {
	return &Cache{releases: make(map[string]*Release)}
}

// Put stores r, replacing any release with the same ID, and makes it current.
func (c *Cache) Put(r *Release) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases[r.ID] = r
	c.current = r.ID
}

// Get returns the release with the given ID.
func (c *Cache) Get(id string) (*Release, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.releases[id]
	return r, ok
}

// Current returns the most recently stored release.
func (c *Cache) Current() (*Release, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.releases[c.current]
	return r, ok
}

// Delete removes a release.
func (c *Cache) Delete(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.releases, id)
	if c.current == id {
		c.current = ""
	}
}

// IDs returns the cached release IDs, sorted.
func (c *Cache) IDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.releases))
	for id := range c.releases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of cached releases.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.releases)
}
