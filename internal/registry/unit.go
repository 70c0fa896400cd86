// Package registry holds compiled template units in a shared namespace keyed
// by unit name.
//
// One Registry is created per process (or per engine) and passed by reference
// to every compiler that defines units into it. Each template owns exactly one
// unit name, so concurrent Define calls never contend for the same entry.
// Entries are removed explicitly by whoever owns the template when that
// template is evicted.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/conneroisu/erbview/internal/view"
)

// Unit is a compiled, invocable template body. It writes into buf and
// returns the buffer content.
type Unit func(v view.View, locals view.Locals, buf *view.Buffer) (view.SafeString, error)

var (
	// ErrUnitExists is returned when a unit name is defined twice.
	ErrUnitExists = errors.New("unit already defined")
	// ErrUnitNotFound is returned when invoking an undefined unit.
	ErrUnitNotFound = errors.New("unit not defined")
)

// Registry maps unit names to compiled units.
type Registry struct {
	units    map[string]*UnitInfo
	mutex    sync.RWMutex
	watchers []chan UnitEvent
}

// UnitInfo holds a compiled unit and where it came from.
type UnitInfo struct {
	Name       string
	Identifier string
	Unit       Unit
	DefinedAt  time.Time
}

// UnitEvent represents a change in the registry
type UnitEvent struct {
	Type      EventType
	Name      string
	Timestamp time.Time
}

// EventType represents the type of registry event
type EventType int

const (
	EventTypeDefined EventType = iota
	EventTypeRemoved
)

// String returns the string representation of the EventType
func (e EventType) String() string {
	switch e {
	case EventTypeDefined:
		return "defined"
	case EventTypeRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		units:    make(map[string]*UnitInfo),
		watchers: make([]chan UnitEvent, 0),
	}
}

// Define registers unit under name. Defining a name twice is an error: unit
// names are unique per template instance.
func (r *Registry) Define(name, identifier string, unit Unit) error {
	if name == "" {
		return fmt.Errorf("define: empty unit name")
	}
	if unit == nil {
		return fmt.Errorf("define %s: nil unit", name)
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.units[name]; exists {
		return fmt.Errorf("define %s: %w", name, ErrUnitExists)
	}

	r.units[name] = &UnitInfo{
		Name:       name,
		Identifier: identifier,
		Unit:       unit,
		DefinedAt:  time.Now(),
	}
	r.notify(UnitEvent{Type: EventTypeDefined, Name: name, Timestamp: time.Now()})

	return nil
}

// Invoke runs the unit registered under name.
func (r *Registry) Invoke(v view.View, name string, locals view.Locals, buf *view.Buffer) (view.SafeString, error) {
	r.mutex.RLock()
	info, exists := r.units[name]
	r.mutex.RUnlock()

	if !exists {
		return "", fmt.Errorf("invoke %s: %w", name, ErrUnitNotFound)
	}

	return info.Unit(v, locals, buf)
}

// Get retrieves unit metadata by name
func (r *Registry) Get(name string) (*UnitInfo, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	info, exists := r.units[name]
	return info, exists
}

// Has reports whether name is defined.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Remove deletes the unit registered under name. It reports whether a unit
// was removed; removing an unknown name is a no-op.
func (r *Registry) Remove(name string) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.units[name]; !exists {
		return false
	}

	delete(r.units, name)
	r.notify(UnitEvent{Type: EventTypeRemoved, Name: name, Timestamp: time.Now()})

	return true
}

// Names returns the defined unit names in sorted order.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.units))
	for name := range r.units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of defined units
func (r *Registry) Count() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	return len(r.units)
}

// Watch returns a channel that receives registry events
func (r *Registry) Watch() <-chan UnitEvent {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ch := make(chan UnitEvent, 100)
	r.watchers = append(r.watchers, ch)
	return ch
}

// UnWatch removes a watcher channel and closes it
func (r *Registry) UnWatch(ch <-chan UnitEvent) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	for i, watcher := range r.watchers {
		if watcher == ch {
			close(watcher)
			r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
			break
		}
	}
}

// notify must be called with the write lock held.
func (r *Registry) notify(event UnitEvent) {
	for _, watcher := range r.watchers {
		select {
		case watcher <- event:
		default:
			// Skip if channel is full
		}
	}
}
