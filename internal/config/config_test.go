package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/aodd/internal/model"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, SourceStream, cfg.Sensor.Source)
	assert.NotEmpty(t, cfg.Sensor.StreamPath)
	assert.Equal(t, 30*time.Second, cfg.Sensor.ReconnectMax.Duration())
	assert.Equal(t, "display.aod", cfg.AOD.Sensor)
	assert.Equal(t, []float64{1}, cfg.AOD.ActivateValues)
	assert.Equal(t, []float64{0}, cfg.AOD.DeactivateValues)
	assert.Equal(t, BrightnessAuto, cfg.Doze.Brightness)
	assert.Equal(t, "xiaomi.sensor.aod", cfg.Doze.Sensor)
	require.Len(t, cfg.Displays, 1)
	assert.Equal(t, uint32(0), cfg.Displays[0].ID)
	assert.True(t, cfg.DBus.Enabled)
	assert.Equal(t, BusSystem, cfg.DBus.Bus)
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, 10000, cfg.Journal.MaxEntries)

	require.NoError(t, cfg.Validate())
}

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/aodd.toml")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().AOD, cfg.AOD)
}

func TestLoad_ParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aodd.toml")
	content := `
[sensor]
source = "iio-proxy"
reconnect_max = "5s"
proximity_display = 1

[aod]
sensor = "proximity"
activate_values = [0]
deactivate_values = [1]
command_timeout = "500ms"

[doze]
brightness = "hbm"

[[displays]]
id = 0
name = "main"
aod_path = "/tmp/main/aod"

[[displays]]
id = 1
name = "cover"
aod_path = "/tmp/cover/aod"
doze_mode_path = "/tmp/cover/doze_mode"

[dbus]
bus = "session"

[journal]
enabled = false
path = "/tmp/transitions.jsonl"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, SourceIIOProxy, cfg.Sensor.Source)
	assert.Equal(t, 5*time.Second, cfg.Sensor.ReconnectMax.Duration())
	assert.Equal(t, uint32(1), cfg.Sensor.ProximityDisplay)
	assert.Equal(t, "proximity", cfg.AOD.Sensor)
	assert.Equal(t, []float64{0}, cfg.AOD.ActivateValues)
	assert.Equal(t, []float64{1}, cfg.AOD.DeactivateValues)
	assert.Equal(t, 500*time.Millisecond, cfg.AOD.CommandTimeout.Duration())
	assert.Equal(t, model.DozeModeHBM, cfg.Doze.DozeMode())

	require.Len(t, cfg.Displays, 2)
	assert.Equal(t, "cover", cfg.Displays[1].Name)
	assert.Equal(t, "/tmp/cover/doze_mode", cfg.Displays[1].DozeModePath)

	// Unset keys keep their defaults
	assert.True(t, cfg.DBus.Enabled)
	assert.Equal(t, BusSession, cfg.DBus.Bus)
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, "/tmp/transitions.jsonl", cfg.JournalPath())
}

func TestLoad_KeepsDefaultDisplays(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aodd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[doze]\nbrightness = \"lbm\"\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Displays, cfg.Displays)
	assert.Equal(t, model.DozeModeLBM, cfg.Doze.DozeMode())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"syntax", "[sensor\n"},
		{"source", "[sensor]\nsource = \"usb\"\n"},
		{"duration", "[sensor]\nreconnect_max = \"soon\"\n"},
		{"brightness", "[doze]\nbrightness = \"max\"\n"},
		{"bus", "[dbus]\nbus = \"user\"\n"},
		{"overlap", "[aod]\nactivate_values = [1]\ndeactivate_values = [1]\n"},
		{"duplicate display", "[[displays]]\nid = 1\naod_path = \"a\"\n[[displays]]\nid = 1\naod_path = \"b\"\n"},
		{"missing aod path", "[[displays]]\nid = 1\n"},
		{"proxy sensor", "[sensor]\nsource = \"iio-proxy\"\n"},
		{"negative max entries", "[journal]\nmax_entries = -1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "aodd.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))

			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "aodd.toml")

	cfg := DefaultConfig()
	cfg.Doze.Brightness = BrightnessHBM
	cfg.Sensor.ReconnectMax = Duration(10 * time.Second)
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, BrightnessHBM, loaded.Doze.Brightness)
	assert.Equal(t, 10*time.Second, loaded.Sensor.ReconnectMax.Duration())
	assert.Equal(t, cfg.Displays, loaded.Displays)
}

func TestDozeConfig_DozeMode(t *testing.T) {
	assert.Empty(t, DozeConfig{Brightness: BrightnessAuto}.DozeMode())
	assert.Equal(t, model.DozeModeLBM, DozeConfig{Brightness: BrightnessLBM}.DozeMode())
}

func TestPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/cfg")
	t.Setenv("XDG_DATA_HOME", "/data")
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")

	assert.Equal(t, "/cfg/aodd/aodd.toml", ConfigPath())
	assert.Equal(t, "/data/aodd", DataPath())
	assert.Equal(t, "/data/aodd/transitions.jsonl", TransitionsPath())
	assert.Equal(t, "/run/user/1000/aodd", RuntimeDir())
	assert.Equal(t, "/data/aodd/transitions.jsonl", DefaultConfig().JournalPath())
}

func TestWatcher_Reload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aodd.toml")
	require.NoError(t, os.WriteFile(path, []byte("[doze]\nbrightness = \"lbm\"\n"), 0644))

	initial, err := Load(path)
	require.NoError(t, err)

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.SetDebounce(10 * time.Millisecond)

	var mu sync.Mutex
	var reloaded []*Config
	var failures []error
	w.SetReloadCallback(func(cfg *Config) {
		mu.Lock()
		defer mu.Unlock()
		reloaded = append(reloaded, cfg)
	})
	w.SetErrorCallback(func(err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, err)
	})

	require.NoError(t, w.Start(initial))
	defer w.Stop()
	assert.Same(t, initial, w.Current())

	// Invalid content keeps the current config
	require.NoError(t, os.WriteFile(path, []byte("[doze]\nbrightness = \"max\"\n"), 0644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) > 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Same(t, initial, w.Current())

	require.NoError(t, os.WriteFile(path, []byte("[doze]\nbrightness = \"hbm\"\n"), 0644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reloaded) > 0 && reloaded[len(reloaded)-1].Doze.Brightness == BrightnessHBM
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, BrightnessHBM, w.Current().Doze.Brightness)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "aodd.toml")

	w, err := NewWatcher(path, nil)
	require.NoError(t, err)
	w.SetDebounce(5 * time.Millisecond)

	var mu sync.Mutex
	calls := 0
	w.SetReloadCallback(func(*Config) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})

	require.NoError(t, w.Start(DefaultConfig()))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0644))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, w.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, calls)
}
