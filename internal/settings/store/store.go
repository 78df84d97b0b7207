// Package store holds the in-memory authoritative settings and keybindings
// and fans change events out to listeners.
package store

import (
	"sync"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/taskdeck/taskdeck/internal/settings/codec"
)

// ChangeKind identifies which managed document changed.
type ChangeKind int

const (
	// KindSettings marks a change to the settings document.
	KindSettings ChangeKind = iota
	// KindKeybindings marks a change to the keybindings list.
	KindKeybindings
)

// String returns the kind name.
func (k ChangeKind) String() string {
	switch k {
	case KindSettings:
		return "settings"
	case KindKeybindings:
		return "keybindings"
	default:
		return "unknown"
	}
}

// Origin identifies where a change came from.
type Origin int

const (
	// OriginFile marks a change detected from an external file edit.
	OriginFile Origin = iota
	// OriginApp marks a change made through the public API.
	OriginApp
	// OriginMigration marks a change produced by the legacy import.
	OriginMigration
)

// String returns the origin name.
func (o Origin) String() string {
	switch o {
	case OriginFile:
		return "file"
	case OriginApp:
		return "app"
	case OriginMigration:
		return "migration"
	default:
		return "unknown"
	}
}

// ChangeEvent describes one settings or keybindings change. Events are
// immutable snapshots; listeners must not mutate the payloads.
type ChangeEvent struct {
	Kind     ChangeKind
	Previous any
	Current  any
	Origin   Origin
}

// Listener receives change events synchronously.
type Listener func(ChangeEvent)

// Stats counts listener deliveries for observability.
type Stats struct {
	Delivered uint64
	Failed    uint64
}

// Store is the in-memory authority for settings and keybindings.
type Store struct {
	mu        sync.RWMutex
	settings  map[string]any
	bindings  []codec.Binding
	listeners map[string]Listener
	order     []string
	stats     Stats
	logger    *log.Logger
}

// New creates an empty store. A nil logger falls back to the default.
func New(logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		settings:  make(map[string]any),
		listeners: make(map[string]Listener),
		logger:    logger,
	}
}

// Settings returns a deep copy of the current settings document.
func (s *Store) Settings() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return CloneMap(s.settings)
}

// SetSettings replaces the settings document and returns the previous one.
// The store keeps no reference to the returned map; the caller owns it.
func (s *Store) SetSettings(data map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.settings
	s.settings = CloneMap(data)
	return prev
}

// Keybindings returns a copy of the current keybindings.
func (s *Store) Keybindings() []codec.Binding {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneBindings(s.bindings)
}

// SetKeybindings replaces the keybindings after normalization (entries
// missing key or command drop, duplicate keys keep the last entry). The
// previous list is returned; the store keeps no reference to it.
func (s *Store) SetKeybindings(bindings []codec.Binding) []codec.Binding {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.bindings
	s.bindings = codec.NormalizeBindings(bindings)
	return prev
}

// OnChange registers a listener and returns an unsubscribe function.
// Listeners are invoked synchronously in subscription order.
func (s *Store) OnChange(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.NewString()
	s.listeners[id] = l
	s.order = append(s.order, id)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
		for i, other := range s.order {
			if other == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

// Notify delivers an event to every listener. Delivery is best effort: a
// panicking listener is recovered and logged without blocking the rest.
func (s *Store) Notify(ev ChangeEvent) {
	s.mu.RLock()
	listeners := make([]Listener, 0, len(s.order))
	for _, id := range s.order {
		if l, ok := s.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	s.mu.RUnlock()

	for _, l := range listeners {
		s.deliver(l, ev)
	}
}

func (s *Store) deliver(l Listener, ev ChangeEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.mu.Lock()
			s.stats.Failed++
			s.mu.Unlock()
			s.logger.Warn("settings listener panicked", "kind", ev.Kind, "origin", ev.Origin, "panic", r)
		}
	}()
	l(ev)
	s.mu.Lock()
	s.stats.Delivered++
	s.mu.Unlock()
}

// Stats returns listener delivery counters.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func cloneBindings(in []codec.Binding) []codec.Binding {
	out := make([]codec.Binding, len(in))
	for i, b := range in {
		out[i] = b.Clone()
	}
	return out
}
