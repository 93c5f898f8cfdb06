package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	metrics "github.com/rcrowley/go-metrics"

	"github.com/jmylchreest/aodd/internal/config"
	"github.com/jmylchreest/aodd/internal/dbus"
	"github.com/jmylchreest/aodd/internal/display"
	"github.com/jmylchreest/aodd/internal/journal"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/notifier"
	"github.com/jmylchreest/aodd/internal/sensor"
)

// journalSyncInterval bounds how long appended transitions stay unsynced.
const journalSyncInterval = 2 * time.Second

// SensorSource is a sensor manager the daemon starts and stops.
type SensorSource interface {
	sensor.Manager
	Start(ctx context.Context) error
	Close() error
}

// Option configures a Daemon.
type Option func(*Daemon)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Daemon) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithConfigPath enables hot reload of the config file at path.
func WithConfigPath(path string) Option {
	return func(d *Daemon) {
		d.configPath = path
	}
}

// WithSensorSource replaces the sensor manager built from the configuration.
func WithSensorSource(source SensorSource) Option {
	return func(d *Daemon) {
		d.source = source
	}
}

// Daemon wires the sensor manager, the notifiers and the control surfaces
// around one display registry.
type Daemon struct {
	logger     *slog.Logger
	configPath string

	mu  sync.RWMutex
	cfg *config.Config

	registry   *display.Registry
	controller *display.SysfsController
	source     SensorSource
	aod        *notifier.AodNotifier
	doze       *notifier.DozeBrightnessNotifier
	journal    *journal.Journal
	service    *dbus.Service
	watcher    *config.Watcher
	metrics    metrics.Registry

	// Signalled after every registry change, coalesced
	changed chan struct{}
	reloads chan *config.Config
	stopCh  chan struct{}
}

// New builds a Daemon from cfg. Nothing is started until Run.
func New(cfg *config.Config, opts ...Option) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	d := &Daemon{
		logger:  slog.Default(),
		cfg:     cfg,
		changed: make(chan struct{}, 1),
		reloads: make(chan *config.Config, 1),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}

	d.registry = display.NewRegistry()
	d.registry.SetChangeCallback(d.onRegistryChange)

	d.metrics = metrics.NewRegistry()
	if err := d.metrics.Register(statDisplaysActive, metrics.NewFunctionalGauge(func() int64 {
		return int64(d.registry.Count())
	})); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	d.controller = display.NewSysfsController(panels(cfg), d.logger)

	// The active set starts empty, so no panel may be left in AOD
	resetCtx, cancel := context.WithTimeout(context.Background(), cfg.AOD.CommandTimeout.Duration()+time.Second)
	if reset, err := d.controller.ResetPanels(resetCtx); err != nil {
		d.logger.Warn("failed to reset panels", "error", err)
	} else if len(reset) > 0 {
		d.logger.Warn("switched off AOD left on by a previous run", "displays", reset)
	}
	cancel()

	if d.source == nil {
		d.source = newSensorSource(cfg, d.logger)
	}

	var err error
	d.aod, err = notifier.NewAodNotifier(d.source, d.registry, d.controller,
		notifier.WithLogger(d.logger),
		notifier.WithSensor(cfg.AOD.Sensor),
		notifier.WithActivateValues(cfg.AOD.ActivateValues...),
		notifier.WithDeactivateValues(cfg.AOD.DeactivateValues...),
		notifier.WithCommandTimeout(cfg.AOD.CommandTimeout.Duration()),
		notifier.WithDozeMode(cfg.Doze.DozeMode()),
		notifier.WithMetrics(metrics.NewPrefixedChildRegistry(d.metrics, "aod.")),
		notifier.WithTransitionFunc(d.recordTransition),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aod notifier: %w", err)
	}

	d.doze, err = notifier.NewDozeBrightnessNotifier(d.source, d.registry, d.controller,
		notifier.WithLogger(d.logger),
		notifier.WithSensor(cfg.Doze.Sensor),
		notifier.WithBrightnessValues(cfg.Doze.LBMValues, cfg.Doze.HBMValues),
		notifier.WithCommandTimeout(cfg.AOD.CommandTimeout.Duration()),
		notifier.WithMetrics(metrics.NewPrefixedChildRegistry(d.metrics, "doze.")),
		notifier.WithTransitionFunc(d.recordTransition),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create doze notifier: %w", err)
	}

	if cfg.Journal.Enabled {
		d.journal, err = journal.Open(cfg.JournalPath())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		if cfg.Journal.MaxEntries > 0 {
			if removed, err := d.journal.Prune(cfg.Journal.MaxEntries); err != nil {
				d.logger.Warn("failed to prune journal", "error", err)
			} else if removed > 0 {
				d.logger.Info("pruned journal", "removed", removed)
			}
		}
	}

	if cfg.DBus.Enabled {
		d.service = dbus.NewService(d, d.logger)
	}

	return d, nil
}

func newSensorSource(cfg *config.Config, logger *slog.Logger) SensorSource {
	if cfg.Sensor.Source == config.SourceIIOProxy {
		return sensor.NewProxyManager(model.DisplayID(cfg.Sensor.ProximityDisplay), logger)
	}
	maxBackoff := cfg.Sensor.ReconnectMax.Duration()
	if maxBackoff <= 0 {
		maxBackoff = 30 * time.Second
	}
	return sensor.NewStreamManager(cfg.Sensor.StreamPath, logger,
		sensor.WithBackoff(min(500*time.Millisecond, maxBackoff), maxBackoff))
}

func panels(cfg *config.Config) []display.Panel {
	out := make([]display.Panel, 0, len(cfg.Displays))
	for _, dc := range cfg.Displays {
		out = append(out, display.Panel{
			ID:           model.DisplayID(dc.ID),
			Name:         dc.Name,
			AODPath:      dc.AODPath,
			DozeModePath: dc.DozeModePath,
		})
	}
	return out
}

// Registry returns the display registry.
func (d *Daemon) Registry() *display.Registry {
	return d.registry
}

// Config returns the configuration currently in effect.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// ActiveDisplays returns the active display entries.
func (d *Daemon) ActiveDisplays() []display.Entry {
	return d.registry.Entries()
}

// Apply performs a manual override through the AOD notifier.
func (d *Daemon) Apply(ctx context.Context, action model.Action, id model.DisplayID, source string) error {
	return d.aod.Apply(ctx, action, id, source)
}

const statDisplaysActive = "displays.active"

// Stats returns every metric of the daemon registry: the notifier counters
// under "aod." and "doze." plus the active display count.
func (d *Daemon) Stats() map[string]int64 {
	stats := make(map[string]int64)
	d.metrics.Each(func(name string, m interface{}) {
		switch v := m.(type) {
		case metrics.Counter:
			stats[name] = v.Count()
		case metrics.Gauge:
			stats[name] = v.Value()
		}
	})
	return stats
}

// Run starts every component and blocks until ctx is done, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.aod.Register(); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to register aod notifier: %w", err)
	}
	if err := d.source.Start(ctx); err != nil {
		d.shutdown()
		return fmt.Errorf("failed to start sensor source: %w", err)
	}

	if d.service != nil {
		if err := d.service.Start(d.Config().DBus.Bus); err != nil {
			d.shutdown()
			return fmt.Errorf("failed to start D-Bus service: %w", err)
		}
	}

	if d.configPath != "" {
		w, err := config.NewWatcher(d.configPath, d.logger)
		if err != nil {
			d.logger.Warn("config hot reload disabled", "error", err)
		} else {
			w.SetReloadCallback(d.queueReload)
			if err := w.Start(d.Config()); err != nil {
				d.logger.Warn("config hot reload disabled", "error", err)
				_ = w.Stop()
			} else {
				d.watcher = w
			}
		}
	}

	d.logger.Info("aodd running",
		"source", d.Config().Sensor.Source,
		"aod_sensor", d.aod.Sensor(),
		"displays", len(d.controller.Panels()),
	)

	d.loop(ctx)
	d.shutdown()
	return nil
}

// loop serialises registry change handling and config reloads.
func (d *Daemon) loop(ctx context.Context) {
	defer close(d.stopCh)

	var syncTick <-chan time.Time
	if d.journal != nil {
		ticker := time.NewTicker(journalSyncInterval)
		defer ticker.Stop()
		syncTick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-syncTick:
			if err := d.journal.Sync(); err != nil && !errors.Is(err, journal.ErrClosed) {
				d.logger.Warn("failed to sync journal", "error", err)
			}
		case <-d.changed:
			d.syncDozeNotifier()
			d.emitActiveDisplays()
		case cfg := <-d.reloads:
			d.applyConfig(ctx, cfg)
		}
	}
}

// shutdown stops the control surfaces, then the notifiers, then the sensor manager.
func (d *Daemon) shutdown() {
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			d.logger.Warn("error stopping config watcher", "error", err)
		}
	}
	if d.service != nil {
		if err := d.service.Stop(); err != nil {
			d.logger.Warn("error stopping D-Bus service", "error", err)
		}
	}
	if err := d.doze.Close(); err != nil {
		d.logger.Warn("error closing doze notifier", "error", err)
	}
	if err := d.aod.Close(); err != nil {
		d.logger.Warn("error closing aod notifier", "error", err)
	}
	if err := d.source.Close(); err != nil {
		d.logger.Warn("error closing sensor source", "error", err)
	}
	if d.journal != nil {
		if err := d.journal.Close(); err != nil {
			d.logger.Warn("error closing journal", "error", err)
		}
	}
	d.logger.Info("aodd stopped")
}

func (d *Daemon) onRegistryChange(c display.Change) {
	d.logger.Debug("active displays changed", "display", c.Display, "active", c.Active, "set", c.Set)
	select {
	case d.changed <- struct{}{}:
	default:
	}
}

func (d *Daemon) queueReload(cfg *config.Config) {
	select {
	case d.reloads <- cfg:
	case <-d.stopCh:
	}
}

// syncDozeNotifier keeps the brightness notifier registered only while
// brightness follows the sensor and some display is dozing.
func (d *Daemon) syncDozeNotifier() {
	want := d.Config().Doze.Brightness == config.BrightnessAuto && d.registry.Count() > 0

	switch {
	case want && !d.doze.Registered():
		if err := d.doze.Register(); err != nil {
			d.logger.Warn("failed to register doze notifier", "error", err)
			return
		}
		d.logger.Debug("doze brightness notifier registered")
	case !want && d.doze.Registered():
		if err := d.doze.Unregister(); err != nil {
			d.logger.Warn("failed to unregister doze notifier", "error", err)
			return
		}
		d.logger.Debug("doze brightness notifier unregistered")
	}
}

func (d *Daemon) emitActiveDisplays() {
	if d.service == nil {
		return
	}
	if err := d.service.EmitActiveDisplaysChanged(d.registry.Active()); err != nil {
		d.logger.Warn("failed to emit ActiveDisplaysChanged", "error", err)
	}
}

// applyConfig applies the parts of a reloaded config that can change live.
func (d *Daemon) applyConfig(ctx context.Context, cfg *config.Config) {
	old := d.Config()

	if old.Sensor != cfg.Sensor || old.AOD.Sensor != cfg.AOD.Sensor ||
		!slices.Equal(old.AOD.ActivateValues, cfg.AOD.ActivateValues) ||
		!slices.Equal(old.AOD.DeactivateValues, cfg.AOD.DeactivateValues) ||
		old.Doze.Sensor != cfg.Doze.Sensor || old.DBus != cfg.DBus || old.Journal != cfg.Journal {
		d.logger.Warn("sensor, dbus and journal settings take effect after a restart")
	}

	d.controller.UpdatePanels(panels(cfg))

	if err := d.aod.SetDozeMode(ctx, cfg.Doze.DozeMode()); err != nil {
		d.logger.Warn("failed to apply doze mode", "mode", cfg.Doze.Brightness, "error", err)
	}

	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()

	d.syncDozeNotifier()
	d.logger.Info("configuration applied", "doze_brightness", cfg.Doze.Brightness, "displays", len(cfg.Displays))
}

// recordTransition appends a transition to the journal.
func (d *Daemon) recordTransition(t *model.Transition) {
	if d.journal == nil {
		return
	}
	if err := d.journal.Append(t); err != nil && !errors.Is(err, journal.ErrClosed) {
		d.logger.Error("failed to record transition", "display", t.Display, "action", t.Action, "error", err)
	}
}
