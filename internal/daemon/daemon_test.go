package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/aodd/internal/config"
	"github.com/jmylchreest/aodd/internal/journal"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/notifier"
	"github.com/jmylchreest/aodd/internal/sensor"
)

// hubSource is an in-process sensor source.
type hubSource struct {
	*sensor.Hub
	started atomic.Bool
}

func (s *hubSource) Start(context.Context) error {
	s.started.Store(true)
	return nil
}

type testEnv struct {
	cfg    *config.Config
	source *hubSource
	dir    string
}

func newTestEnv(t *testing.T, ids ...uint32) *testEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DBus.Enabled = false
	cfg.Journal.Path = filepath.Join(dir, "transitions.jsonl")
	cfg.Displays = nil
	for _, id := range ids {
		panelDir := filepath.Join(dir, model.DisplayID(id).String())
		require.NoError(t, os.MkdirAll(panelDir, 0755))
		dc := config.DisplayConfig{
			ID:           id,
			Name:         "panel",
			AODPath:      filepath.Join(panelDir, "aod"),
			DozeModePath: filepath.Join(panelDir, "doze_mode"),
		}
		require.NoError(t, os.WriteFile(dc.AODPath, []byte("0"), 0644))
		require.NoError(t, os.WriteFile(dc.DozeModePath, []byte("0"), 0644))
		cfg.Displays = append(cfg.Displays, dc)
	}

	return &testEnv{
		cfg:    cfg,
		source: &hubSource{Hub: sensor.NewHub(nil)},
		dir:    dir,
	}
}

func (e *testEnv) node(t *testing.T, id uint32, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.dir, model.DisplayID(id).String(), name))
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) publish(sensorType string, id model.DisplayID, values ...float64) int {
	return e.source.Publish(model.SensorEvent{
		Sensor:    sensorType,
		Display:   id,
		Values:    values,
		Timestamp: time.Now(),
	})
}

// run starts the daemon and returns a function that stops it.
func run(t *testing.T, d *Daemon) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	return func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("daemon did not stop")
		}
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Doze.Brightness = "max"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestDaemon_SensorEventsDriveDisplays(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)

	require.Eventually(t, env.source.started.Load, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, env.source.Subscribers(config.DefaultAODSensor))

	env.publish(config.DefaultAODSensor, 1, 1)
	assert.Equal(t, []model.DisplayID{1}, d.Registry().Active())
	assert.Equal(t, "1", env.node(t, 1, "aod"))

	// Brightness follows the sensor while a display dozes
	require.Eventually(t, func() bool {
		return env.source.Subscribers(config.DefaultDozeSensor) == 1
	}, 2*time.Second, 5*time.Millisecond)

	env.publish(config.DefaultDozeSensor, 0, 4)
	assert.Equal(t, "1", env.node(t, 1, "doze_mode"))

	env.publish(config.DefaultAODSensor, 1, 0)
	assert.Empty(t, d.Registry().Active())
	assert.Equal(t, "0", env.node(t, 1, "aod"))

	require.Eventually(t, func() bool {
		return env.source.Subscribers(config.DefaultDozeSensor) == 0
	}, 2*time.Second, 5*time.Millisecond)

	stats := d.Stats()
	assert.Equal(t, int64(2), stats["aod.transitions"])
	assert.Equal(t, int64(1), stats["doze.transitions"])
	assert.Equal(t, int64(0), stats["displays.active"])

	stop()

	transitions, err := journal.ReadFile(env.cfg.Journal.Path)
	require.NoError(t, err)
	require.Len(t, transitions, 3)
	assert.Equal(t, model.ActionActivate, transitions[0].Action)
	assert.Equal(t, model.ActionDozeMode, transitions[1].Action)
	assert.Equal(t, model.DozeModeHBM, transitions[1].Mode)
	assert.Equal(t, model.ActionDeactivate, transitions[2].Action)
}

func TestDaemon_ManualOverride(t *testing.T) {
	env := newTestEnv(t, 2)
	env.cfg.Doze.Brightness = config.BrightnessLBM
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)

	ctx := context.Background()
	require.NoError(t, d.Apply(ctx, model.ActionActivate, 2, "dbus"))
	assert.Equal(t, "1", env.node(t, 2, "aod"))
	assert.Equal(t, "0", env.node(t, 2, "doze_mode"))

	entries := d.ActiveDisplays()
	require.Len(t, entries, 1)
	assert.Equal(t, model.DozeModeLBM, entries[0].Mode)

	assert.Error(t, d.Apply(ctx, model.ActionActivate, 7, "dbus"))

	// A fixed brightness never registers the brightness notifier
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, env.source.Subscribers(config.DefaultDozeSensor))

	stop()

	// Shutdown releases the displays the daemon engaged
	assert.Equal(t, "0", env.node(t, 2, "aod"))
	assert.Empty(t, d.Registry().Active())
	assert.Equal(t, 0, env.source.Subscribers(config.DefaultAODSensor))

	// Overrides arriving after shutdown leave the panel alone
	assert.ErrorIs(t, d.Apply(ctx, model.ActionActivate, 2, "dbus"), notifier.ErrClosed)
	assert.Equal(t, "0", env.node(t, 2, "aod"))
	assert.Empty(t, d.Registry().Active())
}

func TestDaemon_UnknownDisplayIgnored(t *testing.T) {
	env := newTestEnv(t, 0)
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)
	defer stop()

	require.Eventually(t, func() bool {
		return env.source.Subscribers(config.DefaultAODSensor) == 1
	}, 2*time.Second, 5*time.Millisecond)

	env.publish(config.DefaultAODSensor, 5, 1)
	assert.Empty(t, d.Registry().Active())
	assert.Equal(t, int64(1), d.Stats()["aod.displays.unknown"])
}

func TestDaemon_ApplyConfig(t *testing.T) {
	env := newTestEnv(t, 0)
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)
	defer stop()

	require.NoError(t, d.Apply(context.Background(), model.ActionActivate, 0, "dbus"))
	require.Eventually(t, func() bool {
		return env.source.Subscribers(config.DefaultDozeSensor) == 1
	}, 2*time.Second, 5*time.Millisecond)

	next := *env.cfg
	next.Doze.Brightness = config.BrightnessHBM
	d.queueReload(&next)

	require.Eventually(t, func() bool {
		return d.Config().Doze.Brightness == config.BrightnessHBM
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "1", env.node(t, 0, "doze_mode"))
	require.Eventually(t, func() bool {
		return env.source.Subscribers(config.DefaultDozeSensor) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestDaemon_JournalDisabled(t *testing.T) {
	env := newTestEnv(t, 0)
	env.cfg.Journal.Enabled = false
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)
	require.NoError(t, d.Apply(context.Background(), model.ActionActivate, 0, "dbus"))
	stop()

	_, err = os.Stat(env.cfg.Journal.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestDaemon_ResetsStalePanels(t *testing.T) {
	env := newTestEnv(t, 0, 1)
	require.NoError(t, os.WriteFile(filepath.Join(env.dir, "1", "aod"), []byte("1"), 0644))

	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	assert.Equal(t, "0", env.node(t, 1, "aod"))
	assert.Equal(t, "0", env.node(t, 0, "aod"))
	assert.Empty(t, d.Registry().Active())
}

func TestDaemon_StatsFromOneRegistry(t *testing.T) {
	env := newTestEnv(t, 0)
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)
	defer stop()

	require.NoError(t, d.Apply(context.Background(), model.ActionActivate, 0, "dbus"))

	stats := d.Stats()
	assert.Equal(t, int64(1), stats["displays.active"])
	assert.Equal(t, int64(1), stats["aod.transitions"])
	for _, name := range []string{
		notifier.MetricEventsReceived, notifier.MetricEventsIgnored,
		notifier.MetricDisplaysUnknown, notifier.MetricCommandsFailed,
		notifier.MetricTransitions,
	} {
		assert.Contains(t, stats, "aod."+name)
		assert.Contains(t, stats, "doze."+name)
	}
}

func TestDaemon_JournalSyncedOnShutdown(t *testing.T) {
	env := newTestEnv(t, 0)
	d, err := New(env.cfg, WithSensorSource(env.source))
	require.NoError(t, err)

	stop := run(t, d)
	require.NoError(t, d.Apply(context.Background(), model.ActionActivate, 0, "dbus"))
	stop()

	transitions, err := journal.ReadFile(env.cfg.Journal.Path)
	require.NoError(t, err)
	// Activation plus the release at shutdown
	assert.Len(t, transitions, 2)
}
