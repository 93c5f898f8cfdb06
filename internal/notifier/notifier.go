// Package notifier turns sensor events into display state changes.
//
// A SensorNotifier owns the subscription to a sensor manager and hands each
// event of its sensor type to exactly one variant. The variants are
// AodNotifier, which engages and releases Always-On-Display per display,
// and DozeBrightnessNotifier, which switches the doze brightness of the
// displays that are currently dozing.
package notifier

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

var (
	// ErrInvalidManager is returned when a notifier is built without a sensor manager.
	ErrInvalidManager = errors.New("invalid sensor manager")
	// ErrClosed is returned by a notifier after Close.
	ErrClosed = errors.New("notifier closed")
)

// variant is implemented by the notifier kinds of this package only.
type variant interface {
	sensorType() string
	notify(ev model.SensorEvent)
	release() error
}

// SensorNotifier is the lifecycle shared by all notifiers.
// The sensor manager is borrowed and never closed by the notifier.
type SensorNotifier struct {
	manager sensor.Manager
	variant variant
	logger  *slog.Logger

	mu     sync.Mutex
	sub    *sensor.Subscription
	closed bool
}

func newSensorNotifier(manager sensor.Manager, v variant, logger *slog.Logger) (*SensorNotifier, error) {
	if manager == nil {
		return nil, ErrInvalidManager
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SensorNotifier{
		manager: manager,
		variant: v,
		logger:  logger,
	}, nil
}

// Sensor returns the sensor type the notifier listens to.
func (n *SensorNotifier) Sensor() string {
	return n.variant.sensorType()
}

// Register subscribes to the sensor manager. Registering twice is a no-op.
// A closed notifier cannot be registered again.
func (n *SensorNotifier) Register() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrClosed
	}
	if n.sub != nil {
		return nil
	}

	sub, err := n.manager.Subscribe(n.variant.sensorType(), sensor.ListenerFunc(n.dispatch))
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", n.variant.sensorType(), err)
	}
	n.sub = sub

	n.logger.Debug("notifier registered", "sensor", n.variant.sensorType())
	return nil
}

// Unregister drops the subscription. Once it returns no further events
// reach the notifier.
func (n *SensorNotifier) Unregister() error {
	n.mu.Lock()
	sub := n.sub
	n.sub = nil
	n.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Close(); err != nil {
		return fmt.Errorf("failed to unsubscribe from %s: %w", n.variant.sensorType(), err)
	}

	n.logger.Debug("notifier unregistered", "sensor", n.variant.sensorType())
	return nil
}

// Registered reports whether the notifier currently holds a subscription.
func (n *SensorNotifier) Registered() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sub != nil
}

// Closed reports whether Close was called.
func (n *SensorNotifier) Closed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.closed
}

// Close unregisters and releases whatever the notifier holds. The notifier
// is unusable afterwards.
func (n *SensorNotifier) Close() error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil
	}
	n.closed = true
	n.mu.Unlock()

	err := n.Unregister()
	if rerr := n.variant.release(); rerr != nil && err == nil {
		err = rerr
	}
	return err
}

func (n *SensorNotifier) dispatch(ev model.SensorEvent) {
	if ev.Sensor != n.variant.sensorType() {
		return
	}
	n.variant.notify(ev)
}
