package notifier

import (
	"log/slog"
	"slices"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/jmylchreest/aodd/internal/model"
)

// Default sensor types and event codes.
const (
	DefaultAodSensor  = "display.aod"
	DefaultDozeSensor = "xiaomi.sensor.aod"

	defaultCommandTimeout = 2 * time.Second
)

var (
	defaultActivateValues   = []float64{1}
	defaultDeactivateValues = []float64{0}
	defaultLBMValues        = []float64{3, 5}
	defaultHBMValues        = []float64{4}
)

// TransitionFunc is called after a notifier changed a display.
type TransitionFunc func(t *model.Transition)

// Option configures a notifier.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	sensor         string
	owner          string
	commandTimeout time.Duration
	metrics        metrics.Registry
	onTransition   TransitionFunc

	// AodNotifier
	activateValues   []float64
	deactivateValues []float64
	dozeMode         model.DozeMode

	// DozeBrightnessNotifier
	lbmValues []float64
	hbmValues []float64
}

func newOptions(sensor, owner string, opts []Option) options {
	o := options{
		logger:           slog.Default(),
		sensor:           sensor,
		owner:            owner,
		commandTimeout:   defaultCommandTimeout,
		activateValues:   defaultActivateValues,
		deactivateValues: defaultDeactivateValues,
		lbmValues:        defaultLBMValues,
		hbmValues:        defaultHBMValues,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithSensor overrides the sensor type the notifier listens to.
func WithSensor(sensorType string) Option {
	return func(o *options) {
		if sensorType != "" {
			o.sensor = sensorType
		}
	}
}

// WithOwner sets the owner recorded in the display registry.
func WithOwner(owner string) Option {
	return func(o *options) {
		if owner != "" {
			o.owner = owner
		}
	}
}

// WithCommandTimeout bounds each display command issued for a sensor event.
func WithCommandTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.commandTimeout = d
		}
	}
}

// WithMetrics registers the notifier counters in r.
func WithMetrics(r metrics.Registry) Option {
	return func(o *options) {
		o.metrics = r
	}
}

// WithTransitionFunc sets the function called after every applied change.
func WithTransitionFunc(fn TransitionFunc) Option {
	return func(o *options) {
		o.onTransition = fn
	}
}

// WithActivateValues sets the event codes that engage AOD.
func WithActivateValues(values ...float64) Option {
	return func(o *options) {
		if len(values) > 0 {
			o.activateValues = slices.Clone(values)
		}
	}
}

// WithDeactivateValues sets the event codes that release AOD.
func WithDeactivateValues(values ...float64) Option {
	return func(o *options) {
		if len(values) > 0 {
			o.deactivateValues = slices.Clone(values)
		}
	}
}

// WithDozeMode sets the fixed doze mode applied when a display is activated.
// An empty mode leaves the doze brightness untouched.
func WithDozeMode(mode model.DozeMode) Option {
	return func(o *options) {
		o.dozeMode = mode
	}
}

// WithBrightnessValues sets the event codes mapped to low and high brightness doze.
func WithBrightnessValues(lbm, hbm []float64) Option {
	return func(o *options) {
		if len(lbm) > 0 {
			o.lbmValues = slices.Clone(lbm)
		}
		if len(hbm) > 0 {
			o.hbmValues = slices.Clone(hbm)
		}
	}
}
