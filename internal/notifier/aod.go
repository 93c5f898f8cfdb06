package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmylchreest/aodd/internal/display"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

// AodNotifier engages Always-On-Display on the display an event names and
// releases it again. It keeps the display registry in step with the panels.
type AodNotifier struct {
	*SensorNotifier

	registry   *display.Registry
	controller display.Controller
	opts       options
	logger     *slog.Logger
	counters   *counters

	// Serialises check, command and registry update.
	mu       sync.Mutex
	dozeMode model.DozeMode
}

// NewAodNotifier creates an AodNotifier. It is not registered until Register is called.
func NewAodNotifier(manager sensor.Manager, registry *display.Registry, controller display.Controller, opts ...Option) (*AodNotifier, error) {
	if registry == nil {
		return nil, errors.New("nil display registry")
	}
	if controller == nil {
		return nil, errors.New("nil display controller")
	}

	o := newOptions(DefaultAodSensor, "aod", opts)
	n := &AodNotifier{
		registry:   registry,
		controller: controller,
		opts:       o,
		logger:     o.logger.With("notifier", o.owner),
		counters:   newCounters(o.metrics),
		dozeMode:   o.dozeMode,
	}

	base, err := newSensorNotifier(manager, n, n.logger)
	if err != nil {
		return nil, err
	}
	n.SensorNotifier = base
	return n, nil
}

// Owner returns the owner name used for registry entries.
func (n *AodNotifier) Owner() string {
	return n.opts.owner
}

// Stats returns the notifier counters.
func (n *AodNotifier) Stats() map[string]int64 {
	return n.counters.snapshot()
}

// DozeMode returns the fixed doze mode applied on activation, empty when none.
func (n *AodNotifier) DozeMode() model.DozeMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dozeMode
}

// SetDozeMode changes the fixed doze mode and applies it to the displays
// this notifier activated. An empty mode stops applying a fixed mode.
func (n *AodNotifier) SetDozeMode(ctx context.Context, mode model.DozeMode) error {
	if mode != "" && !mode.Valid() {
		return fmt.Errorf("invalid doze mode %q", mode)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Closed() {
		return ErrClosed
	}
	n.dozeMode = mode
	if mode == "" {
		return nil
	}

	var errs []error
	for _, entry := range n.registry.Entries() {
		if entry.Owner != n.opts.owner || entry.Mode == mode {
			continue
		}
		err := n.applyDozeModeLocked(ctx, entry.ID, mode, "config")
		if err != nil && !errors.Is(err, display.ErrNoDozeControl) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Apply performs action on display id as if a sensor event had requested it.
// Unlike sensor events, failures are returned to the caller. After Close it
// returns ErrClosed.
func (n *AodNotifier) Apply(ctx context.Context, action model.Action, id model.DisplayID, source string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	// Close marks the notifier before release takes n.mu
	if n.Closed() {
		return ErrClosed
	}

	switch action {
	case model.ActionActivate:
		return n.activateLocked(ctx, id, source)
	case model.ActionDeactivate:
		return n.deactivateLocked(ctx, id, source)
	default:
		return fmt.Errorf("unsupported action %q", action)
	}
}

func (n *AodNotifier) sensorType() string {
	return n.opts.sensor
}

func (n *AodNotifier) notify(ev model.SensorEvent) {
	n.counters.received.Inc(1)

	code, ok := ev.Code()
	var action model.Action
	switch {
	case !ok:
	case slices.Contains(n.opts.activateValues, code):
		action = model.ActionActivate
	case slices.Contains(n.opts.deactivateValues, code):
		action = model.ActionDeactivate
	}
	if action == "" {
		n.counters.ignored.Inc(1)
		n.logger.Debug("ignoring sensor event", "display", ev.Display, "values", ev.Values)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.commandTimeout)
	defer cancel()

	err := n.Apply(ctx, action, ev.Display, ev.Sensor)
	switch {
	case err == nil:
	case errors.Is(err, ErrClosed):
		n.logger.Debug("dropping sensor event after close", "display", ev.Display)
	case errors.Is(err, display.ErrUnknownDisplay):
		n.logger.Warn("sensor event for unknown display", "display", ev.Display, "action", action)
	default:
		n.logger.Error("failed to apply sensor event", "display", ev.Display, "action", action, "error", err)
	}
}

func (n *AodNotifier) activateLocked(ctx context.Context, id model.DisplayID, source string) error {
	if !n.controller.Known(id) {
		n.counters.unknown.Inc(1)
		return fmt.Errorf("display %d: %w", id, display.ErrUnknownDisplay)
	}
	if n.registry.Contains(id) {
		n.logger.Debug("display already active", "display", id)
		return nil
	}

	if err := n.controller.SetAOD(ctx, id, true); err != nil {
		n.counters.failed.Inc(1)
		return err
	}
	n.registry.Activate(id, n.opts.owner)
	n.counters.transitions.Inc(1)
	n.record(id, model.ActionActivate, "", source)
	n.logger.Info("display entered AOD", "display", id, "source", source)

	if n.dozeMode != "" {
		// Doze mode failures do not undo the activation
		if err := n.applyDozeModeLocked(ctx, id, n.dozeMode, source); err != nil && !errors.Is(err, display.ErrNoDozeControl) {
			n.logger.Warn("failed to apply doze mode", "display", id, "mode", n.dozeMode, "error", err)
		}
	}
	return nil
}

func (n *AodNotifier) deactivateLocked(ctx context.Context, id model.DisplayID, source string) error {
	if !n.registry.Contains(id) {
		if !n.controller.Known(id) {
			n.counters.unknown.Inc(1)
			return fmt.Errorf("display %d: %w", id, display.ErrUnknownDisplay)
		}
		n.logger.Debug("display already inactive", "display", id)
		return nil
	}

	if n.controller.Known(id) {
		if err := n.controller.SetAOD(ctx, id, false); err != nil {
			n.counters.failed.Inc(1)
			return err
		}
	} else {
		n.logger.Warn("display no longer configured, dropping it from the active set", "display", id)
	}

	n.registry.Deactivate(id, n.opts.owner)
	n.counters.transitions.Inc(1)
	n.record(id, model.ActionDeactivate, "", source)
	n.logger.Info("display left AOD", "display", id, "source", source)
	return nil
}

func (n *AodNotifier) applyDozeModeLocked(ctx context.Context, id model.DisplayID, mode model.DozeMode, source string) error {
	if err := n.controller.SetDozeMode(ctx, id, mode); err != nil {
		if !errors.Is(err, display.ErrNoDozeControl) {
			n.counters.failed.Inc(1)
		}
		return err
	}
	n.registry.SetMode(id, mode)
	n.record(id, model.ActionDozeMode, mode, source)
	return nil
}

func (n *AodNotifier) record(id model.DisplayID, action model.Action, mode model.DozeMode, source string) {
	if n.opts.onTransition == nil {
		return
	}
	t, err := model.NewTransition(id, action, source)
	if err != nil {
		n.logger.Warn("failed to create transition", "error", err)
		return
	}
	t.Mode = mode
	n.opts.onTransition(t)
}

// release drops the displays this notifier activated and turns their AOD off.
func (n *AodNotifier) release() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	released := n.registry.ReleaseOwner(n.opts.owner)
	if len(released) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.commandTimeout)
	defer cancel()

	var errs []error
	for _, id := range released {
		n.record(id, model.ActionDeactivate, "", "shutdown")
		if !n.controller.Known(id) {
			continue
		}
		if err := n.controller.SetAOD(ctx, id, false); err != nil {
			n.counters.failed.Inc(1)
			errs = append(errs, err)
		}
	}

	n.logger.Info("released displays", "displays", released)
	return errors.Join(errs...)
}
