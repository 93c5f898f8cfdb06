// Package sensor provides sensor managers that deliver sensor events to
// subscribed listeners.
//
// A manager delivers events from a single dispatch goroutine. Closing a
// Subscription waits for an in-flight callback of that subscription and
// guarantees that no further callbacks follow.
package sensor

import (
	"cmp"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/jmylchreest/aodd/internal/model"
)

// ErrClosed is returned when subscribing to a closed manager.
var ErrClosed = errors.New("sensor manager closed")

// Listener receives sensor events.
type Listener interface {
	OnSensorEvent(ev model.SensorEvent)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev model.SensorEvent)

// OnSensorEvent calls f(ev).
func (f ListenerFunc) OnSensorEvent(ev model.SensorEvent) {
	f(ev)
}

// Manager is the capability notifiers use to register interest in a sensor type.
type Manager interface {
	Subscribe(sensorType string, listener Listener) (*Subscription, error)
}

// Subscription is an active registration of a listener.
type Subscription struct {
	hub        *Hub
	id         uint64
	sensorType string
	listener   Listener

	// Held for the duration of a callback.
	mu     sync.Mutex
	closed atomic.Bool
}

// Sensor returns the subscribed sensor type.
func (s *Subscription) Sensor() string {
	return s.sensorType
}

// Close releases the subscription. It must not be called from inside the
// subscription's own callback.
func (s *Subscription) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.hub.remove(s)

	// Wait for an in-flight delivery to finish
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil
}

func (s *Subscription) deliver(ev model.SensorEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return false
	}
	s.listener.OnSensorEvent(ev)
	return true
}

// Hub keeps track of subscriptions and fans events out to them.
// It is a Manager on its own and the building block of the other managers.
type Hub struct {
	mu     sync.RWMutex
	logger *slog.Logger

	subs   map[string]map[uint64]*Subscription
	nextID uint64
	closed bool

	// Called when the first listener of a sensor type subscribes / the last leaves.
	onFirst func(sensorType string) error
	onLast  func(sensorType string)
}

// NewHub creates an empty Hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger,
		subs:   make(map[string]map[uint64]*Subscription),
	}
}

// Subscribe registers listener for events of sensorType.
func (h *Hub) Subscribe(sensorType string, listener Listener) (*Subscription, error) {
	if listener == nil {
		return nil, errors.New("nil listener")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrClosed
	}

	byID, exists := h.subs[sensorType]
	if !exists || len(byID) == 0 {
		if h.onFirst != nil {
			if err := h.onFirst(sensorType); err != nil {
				return nil, err
			}
		}
		if !exists {
			byID = make(map[uint64]*Subscription)
			h.subs[sensorType] = byID
		}
	}

	h.nextID++
	sub := &Subscription{
		hub:        h,
		id:         h.nextID,
		sensorType: sensorType,
		listener:   listener,
	}
	byID[sub.id] = sub

	h.logger.Debug("sensor listener subscribed", "sensor", sensorType, "subscription", sub.id)
	return sub, nil
}

// Publish delivers ev to every listener of ev.Sensor and returns how many received it.
func (h *Hub) Publish(ev model.SensorEvent) int {
	h.mu.RLock()
	byID := h.subs[ev.Sensor]
	targets := make([]*Subscription, 0, len(byID))
	for _, sub := range byID {
		targets = append(targets, sub)
	}
	h.mu.RUnlock()

	// Stable delivery order
	slices.SortFunc(targets, func(a, b *Subscription) int {
		return cmp.Compare(a.id, b.id)
	})

	delivered := 0
	for _, sub := range targets {
		if sub.deliver(ev) {
			delivered++
		}
	}
	return delivered
}

// Subscribers returns the number of listeners for sensorType.
func (h *Hub) Subscribers(sensorType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[sensorType])
}

// SensorTypes returns the sensor types with at least one listener, sorted.
func (h *Hub) SensorTypes() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var types []string
	for t, byID := range h.subs {
		if len(byID) > 0 {
			types = append(types, t)
		}
	}
	slices.Sort(types)
	return types
}

// Close closes every subscription and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true

	var all []*Subscription
	for _, byID := range h.subs {
		for _, sub := range byID {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		_ = sub.Close()
	}
	return nil
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	byID, exists := h.subs[sub.sensorType]
	if !exists {
		return
	}
	if _, ok := byID[sub.id]; !ok {
		return
	}
	delete(byID, sub.id)
	h.logger.Debug("sensor listener unsubscribed", "sensor", sub.sensorType, "subscription", sub.id)

	if len(byID) == 0 {
		delete(h.subs, sub.sensorType)
		if h.onLast != nil {
			h.onLast(sub.sensorType)
		}
	}
}
