package display

import (
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/aodd/internal/model"
)

// Entry describes a display that currently has AOD engaged.
type Entry struct {
	ID          model.DisplayID
	Owner       string         // Notifier that activated the display
	ActiveSince time.Time      // When the display entered AOD
	Mode        model.DozeMode // Last doze mode applied (empty = untouched)
}

// Change is passed to the change callback after the active set changed.
type Change struct {
	Display model.DisplayID
	Active  bool              // New membership of Display
	Owner   string            // Owner that caused the change
	Set     []model.DisplayID // Active set after the change, sorted
}

// Registry is the set of displays with AOD engaged.
// It is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	active map[model.DisplayID]*Entry

	onChange func(Change)
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		active: make(map[model.DisplayID]*Entry),
	}
}

// SetChangeCallback sets the function invoked after every membership change.
// The callback runs outside the registry lock.
func (r *Registry) SetChangeCallback(callback func(Change)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = callback
}

// Activate inserts id into the set. It returns false if id was already active.
func (r *Registry) Activate(id model.DisplayID, owner string) bool {
	r.mu.Lock()
	if _, exists := r.active[id]; exists {
		r.mu.Unlock()
		return false
	}
	r.active[id] = &Entry{
		ID:          id,
		Owner:       owner,
		ActiveSince: time.Now(),
	}
	change, callback := r.changeLocked(id, true, owner)
	r.mu.Unlock()

	if callback != nil {
		callback(change)
	}
	return true
}

// Deactivate removes id from the set. It returns false if id was not active.
func (r *Registry) Deactivate(id model.DisplayID, owner string) bool {
	r.mu.Lock()
	if _, exists := r.active[id]; !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.active, id)
	change, callback := r.changeLocked(id, false, owner)
	r.mu.Unlock()

	if callback != nil {
		callback(change)
	}
	return true
}

// ReleaseOwner removes every display activated by owner and returns them.
func (r *Registry) ReleaseOwner(owner string) []model.DisplayID {
	r.mu.Lock()
	var released []model.DisplayID
	for id, entry := range r.active {
		if entry.Owner == owner {
			delete(r.active, id)
			released = append(released, id)
		}
	}
	slices.Sort(released)

	callback := r.onChange
	changes := make([]Change, 0, len(released))
	set := r.sortedLocked()
	for _, id := range released {
		changes = append(changes, Change{Display: id, Active: false, Owner: owner, Set: set})
	}
	r.mu.Unlock()

	if callback != nil {
		for _, c := range changes {
			callback(c)
		}
	}
	return released
}

// SetMode records the doze mode applied to an active display.
func (r *Registry) SetMode(id model.DisplayID, mode model.DozeMode) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, exists := r.active[id]
	if !exists {
		return false
	}
	entry.Mode = mode
	return true
}

// Contains reports whether id is active.
func (r *Registry) Contains(id model.DisplayID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.active[id]
	return exists
}

// Get returns a copy of the entry for id.
func (r *Registry) Get(id model.DisplayID) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, exists := r.active[id]
	if !exists {
		return Entry{}, false
	}
	return *entry, true
}

// Active returns the active display ids, sorted.
func (r *Registry) Active() []model.DisplayID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedLocked()
}

// Entries returns copies of all entries, sorted by id.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.active))
	for _, id := range r.sortedLocked() {
		entries = append(entries, *r.active[id])
	}
	return entries
}

// Count returns the number of active displays.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.active)
}

func (r *Registry) sortedLocked() []model.DisplayID {
	ids := make([]model.DisplayID, 0, len(r.active))
	for id := range r.active {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *Registry) changeLocked(id model.DisplayID, active bool, owner string) (Change, func(Change)) {
	if r.onChange == nil {
		return Change{}, nil
	}
	return Change{
		Display: id,
		Active:  active,
		Owner:   owner,
		Set:     r.sortedLocked(),
	}, r.onChange
}
