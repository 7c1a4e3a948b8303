package action

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Masterminds/semver/v3"

	"github.com/pagecraft-io/actioncore/pkg/shortcut"
)

// DefaultPriority is assigned when a registration does not specify one.
// Lower values sort first in location lists.
const DefaultPriority = 100

// Registration is the metadata attached to an action when it is registered:
// which locations surface it, its sort priority within those locations, an
// optional keyboard shortcut, and whether it may run against record
// selections in bulk.
type Registration struct {
	Locations   []string
	Priority    int
	Shortcut    string
	BulkEnabled bool
}

// Binding pairs a normalized shortcut with the action it triggers.
type Binding struct {
	Keys       string
	ActionName string
}

type entry struct {
	def  *Def
	meta Registration
}

type locationEntry struct {
	name     string
	priority int
	seq      int // insertion order, tiebreak for equal priorities
}

// Registry is the thread-safe store of action definitions, location lists,
// and shortcut bindings.
type Registry struct {
	mu            sync.RWMutex
	actions       map[string]*entry
	locations     map[string][]locationEntry
	shortcuts     map[string]string // normalized keys -> action name
	seq           int
	engineVersion *semver.Version
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		actions:   make(map[string]*entry),
		locations: make(map[string][]locationEntry),
		shortcuts: make(map[string]string),
	}
}

// WithEngineVersion enables compatibility checking of Def.Requires
// constraints against the given engine version. Invalid versions disable
// the check rather than failing construction.
func (r *Registry) WithEngineVersion(version string) *Registry {
	v, err := semver.NewVersion(version)
	if err == nil {
		r.engineVersion = v
	}
	return r
}

// Register stores an action under its resolved identity and applies the
// registration metadata. A definition with neither name nor type fails with
// ErrInvalidAction and leaves the registry untouched.
func (r *Registry) Register(def *Def, meta *Registration) error {
	if def == nil || def.Identity() == "" {
		return ErrInvalidAction
	}
	if err := r.checkCompatibility(def); err != nil {
		return err
	}

	m := Registration{Priority: DefaultPriority}
	if meta != nil {
		m = *meta
		if meta.Priority == 0 {
			m.Priority = DefaultPriority
		}
	}

	var keys string
	if m.Shortcut != "" {
		normalized, err := shortcut.Normalize(m.Shortcut)
		if err != nil {
			return fmt.Errorf("shortcut for action %q: %w", def.Identity(), err)
		}
		keys = normalized
		m.Shortcut = normalized
	}

	name := def.Identity()

	r.mu.Lock()
	defer r.mu.Unlock()

	// Re-registering replaces the previous entry wholesale.
	r.removeLocked(name)

	r.actions[name] = &entry{def: def, meta: m}
	for _, loc := range m.Locations {
		r.seq++
		list := append(r.locations[loc], locationEntry{name: name, priority: m.Priority, seq: r.seq})
		sort.SliceStable(list, func(i, j int) bool {
			if list[i].priority != list[j].priority {
				return list[i].priority < list[j].priority
			}
			return list[i].seq < list[j].seq
		})
		r.locations[loc] = list
	}
	if keys != "" {
		// Rebinding an existing shortcut overwrites silently.
		r.shortcuts[keys] = name
	}
	return nil
}

func (r *Registry) checkCompatibility(def *Def) error {
	if def.Requires == "" || r.engineVersion == nil {
		return nil
	}
	c, err := semver.NewConstraint(def.Requires)
	if err != nil {
		return fmt.Errorf("action %q requires constraint %q: %w", def.Identity(), def.Requires, err)
	}
	if !c.Check(r.engineVersion) {
		return fmt.Errorf("action %q requires %q, engine is %s: %w",
			def.Identity(), def.Requires, r.engineVersion, ErrIncompatibleAction)
	}
	return nil
}

// RegisterMany registers each definition in order with its paired metadata
// (nil metadata entries allowed, and the metas slice may be shorter than
// defs). One failing item does not prevent registration of the rest; all
// failures are joined into the returned error.
func (r *Registry) RegisterMany(defs []*Def, metas []*Registration) error {
	var errs []error
	for i, def := range defs {
		var meta *Registration
		if i < len(metas) {
			meta = metas[i]
		}
		if err := r.Register(def, meta); err != nil {
			errs = append(errs, fmt.Errorf("item %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Unregister removes the action, its location memberships, and any shortcut
// bound to it. Unknown names are a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(name)
}

func (r *Registry) removeLocked(name string) {
	if _, ok := r.actions[name]; !ok {
		return
	}
	delete(r.actions, name)
	for loc, list := range r.locations {
		kept := list[:0]
		for _, le := range list {
			if le.name != name {
				kept = append(kept, le)
			}
		}
		if len(kept) == 0 {
			delete(r.locations, loc)
		} else {
			r.locations[loc] = kept
		}
	}
	for keys, bound := range r.shortcuts {
		if bound == name {
			delete(r.shortcuts, keys)
		}
	}
}

// Get returns the definition registered under name, or nil.
func (r *Registry) Get(name string) *Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.actions[name]; ok {
		return e.def
	}
	return nil
}

// GetForLocation returns the actions surfaced at a location, sorted by
// ascending priority with insertion order preserved for ties. Unknown
// locations yield an empty slice.
func (r *Registry) GetForLocation(location string) []*Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	list := r.locations[location]
	out := make([]*Def, 0, len(list))
	for _, le := range list {
		if e, ok := r.actions[le.name]; ok {
			out = append(out, e.def)
		}
	}
	return out
}

// GetBulkActions returns every action registered with BulkEnabled.
func (r *Registry) GetBulkActions() []*Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Def
	for _, e := range r.actions {
		if e.meta.BulkEnabled {
			out = append(out, e.def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity() < out[j].Identity() })
	return out
}

// BulkEnabled reports whether the named action was registered for bulk use.
func (r *Registry) BulkEnabled(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.actions[name]
	return ok && e.meta.BulkEnabled
}

// Shortcuts returns all current shortcut bindings, keys normalized.
func (r *Registry) Shortcuts() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Binding, 0, len(r.shortcuts))
	for keys, name := range r.shortcuts {
		out = append(out, Binding{Keys: keys, ActionName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keys < out[j].Keys })
	return out
}

// ActionForShortcut resolves a shortcut string (any modifier order) to the
// bound action name.
func (r *Registry) ActionForShortcut(keys string) (string, bool) {
	normalized, err := shortcut.Normalize(keys)
	if err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.shortcuts[normalized]
	return name, ok
}

// Clear empties every registry map.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = make(map[string]*entry)
	r.locations = make(map[string][]locationEntry)
	r.shortcuts = make(map[string]string)
	r.seq = 0
}
