package notifier

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"github.com/jmylchreest/aodd/internal/display"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

// DozeBrightnessNotifier follows the doze brightness sensor and applies the
// matching doze mode to every display in the registry.
type DozeBrightnessNotifier struct {
	*SensorNotifier

	registry   *display.Registry
	controller display.Controller
	opts       options
	logger     *slog.Logger
	counters   *counters

	mu   sync.Mutex
	last model.DozeMode
}

// NewDozeBrightnessNotifier creates a DozeBrightnessNotifier. It is not
// registered until Register is called.
func NewDozeBrightnessNotifier(manager sensor.Manager, registry *display.Registry, controller display.Controller, opts ...Option) (*DozeBrightnessNotifier, error) {
	if registry == nil {
		return nil, errors.New("nil display registry")
	}
	if controller == nil {
		return nil, errors.New("nil display controller")
	}

	o := newOptions(DefaultDozeSensor, "doze", opts)
	n := &DozeBrightnessNotifier{
		registry:   registry,
		controller: controller,
		opts:       o,
		logger:     o.logger.With("notifier", o.owner),
		counters:   newCounters(o.metrics),
	}

	base, err := newSensorNotifier(manager, n, n.logger)
	if err != nil {
		return nil, err
	}
	n.SensorNotifier = base
	return n, nil
}

// Mode returns the doze mode last requested by the sensor, empty before the first event.
func (n *DozeBrightnessNotifier) Mode() model.DozeMode {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

// Stats returns the notifier counters.
func (n *DozeBrightnessNotifier) Stats() map[string]int64 {
	return n.counters.snapshot()
}

// modeFor maps an event code to a doze mode.
func (n *DozeBrightnessNotifier) modeFor(code float64) model.DozeMode {
	switch {
	case slices.Contains(n.opts.lbmValues, code):
		return model.DozeModeLBM
	case slices.Contains(n.opts.hbmValues, code):
		return model.DozeModeHBM
	default:
		return ""
	}
}

func (n *DozeBrightnessNotifier) sensorType() string {
	return n.opts.sensor
}

func (n *DozeBrightnessNotifier) notify(ev model.SensorEvent) {
	n.counters.received.Inc(1)

	var mode model.DozeMode
	if code, ok := ev.Code(); ok {
		mode = n.modeFor(code)
	}
	if mode == "" {
		n.counters.ignored.Inc(1)
		n.logger.Debug("ignoring sensor event", "values", ev.Values)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.last = mode

	ctx, cancel := context.WithTimeout(context.Background(), n.opts.commandTimeout)
	defer cancel()

	for _, entry := range n.registry.Entries() {
		if entry.Mode == mode {
			continue
		}

		err := n.controller.SetDozeMode(ctx, entry.ID, mode)
		switch {
		case err == nil:
		case errors.Is(err, display.ErrNoDozeControl):
			n.logger.Debug("display has no doze control", "display", entry.ID)
			continue
		case errors.Is(err, display.ErrUnknownDisplay):
			n.counters.unknown.Inc(1)
			n.logger.Warn("active display is not configured", "display", entry.ID)
			continue
		default:
			n.counters.failed.Inc(1)
			n.logger.Error("failed to set doze mode", "display", entry.ID, "mode", mode, "error", err)
			continue
		}

		n.registry.SetMode(entry.ID, mode)
		n.counters.transitions.Inc(1)
		n.record(entry.ID, mode, ev.Sensor)
		n.logger.Info("doze mode changed", "display", entry.ID, "mode", mode)
	}
}

func (n *DozeBrightnessNotifier) record(id model.DisplayID, mode model.DozeMode, source string) {
	if n.opts.onTransition == nil {
		return
	}
	t, err := model.NewTransition(id, model.ActionDozeMode, source)
	if err != nil {
		n.logger.Warn("failed to create transition", "error", err)
		return
	}
	t.Mode = mode
	n.opts.onTransition(t)
}

func (n *DozeBrightnessNotifier) release() error {
	return nil
}
