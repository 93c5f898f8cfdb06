// Package config handles configuration file loading and parsing.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

// Sensor sources.
const (
	SourceStream   = "stream"
	SourceIIOProxy = "iio-proxy"
)

// Doze brightness preferences. Auto follows the doze brightness sensor.
const (
	BrightnessLBM  = string(model.DozeModeLBM)
	BrightnessHBM  = string(model.DozeModeHBM)
	BrightnessAuto = "auto"
)

// Buses the D-Bus service can be exported on.
const (
	BusSystem  = "system"
	BusSession = "session"
)

// Default configuration values.
const (
	DefaultAODSensor     = "display.aod"
	DefaultDozeSensor    = "xiaomi.sensor.aod"
	DefaultPanelAODPath  = "/sys/devices/platform/soc/soc:qcom,dsi-display-primary/doze_status"
	DefaultPanelDozePath = "/sys/devices/platform/soc/soc:qcom,dsi-display-primary/doze_mode"
)

// Duration is a time.Duration that can be unmarshaled from human-readable strings.
// Supports formats like "500ms", "5s", "1m", or integer milliseconds.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for TOML parsing.
func (d *Duration) UnmarshalText(text []byte) error {
	s := string(text)

	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}

	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: must be like '500ms', '5s', '1m' or milliseconds: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML output.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Config is the aodd configuration.
// Loaded from ~/.config/aodd/aodd.toml
type Config struct {
	Sensor   SensorConfig    `toml:"sensor"`
	AOD      AODConfig       `toml:"aod"`
	Doze     DozeConfig      `toml:"doze"`
	Displays []DisplayConfig `toml:"displays"`
	DBus     DBusConfig      `toml:"dbus"`
	Journal  JournalConfig   `toml:"journal"`
}

// SensorConfig selects where sensor events come from.
type SensorConfig struct {
	Source           string   `toml:"source"`            // "stream" or "iio-proxy"
	StreamPath       string   `toml:"stream_path"`       // FIFO, socket or file with JSON lines
	ReconnectMax     Duration `toml:"reconnect_max"`     // Upper bound of the reconnect backoff
	ProximityDisplay uint32   `toml:"proximity_display"` // Display iio-proxy readings belong to
}

// AODConfig maps sensor events to AOD transitions.
type AODConfig struct {
	Sensor           string    `toml:"sensor"`
	ActivateValues   []float64 `toml:"activate_values"`
	DeactivateValues []float64 `toml:"deactivate_values"`
	CommandTimeout   Duration  `toml:"command_timeout"`
}

// DozeConfig contains doze brightness settings.
type DozeConfig struct {
	Brightness string    `toml:"brightness"` // "lbm", "hbm" or "auto"
	Sensor     string    `toml:"sensor"`     // Used when brightness is "auto"
	LBMValues  []float64 `toml:"lbm_values"`
	HBMValues  []float64 `toml:"hbm_values"`
}

// DisplayConfig describes one panel.
type DisplayConfig struct {
	ID           uint32 `toml:"id"`
	Name         string `toml:"name"`
	AODPath      string `toml:"aod_path"`
	DozeModePath string `toml:"doze_mode_path"` // Optional
}

// DBusConfig contains the control service settings.
type DBusConfig struct {
	Enabled bool   `toml:"enabled"`
	Bus     string `toml:"bus"` // "system" or "session"
}

// JournalConfig contains transition journal settings.
type JournalConfig struct {
	Enabled    bool   `toml:"enabled"`
	Path       string `toml:"path"`        // Empty = default data path
	MaxEntries int    `toml:"max_entries"` // Pruned on startup (0 = unlimited)
}

// DozeMode returns the fixed doze mode, empty when brightness follows the sensor.
func (c DozeConfig) DozeMode() model.DozeMode {
	if c.Brightness == BrightnessAuto {
		return ""
	}
	return model.DozeMode(c.Brightness)
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Sensor: SensorConfig{
			Source:       SourceStream,
			StreamPath:   filepath.Join(RuntimeDir(), "events"),
			ReconnectMax: Duration(30 * time.Second),
		},
		AOD: AODConfig{
			Sensor:           DefaultAODSensor,
			ActivateValues:   []float64{1},
			DeactivateValues: []float64{0},
			CommandTimeout:   Duration(2 * time.Second),
		},
		Doze: DozeConfig{
			Brightness: BrightnessAuto,
			Sensor:     DefaultDozeSensor,
			LBMValues:  []float64{3, 5},
			HBMValues:  []float64{4},
		},
		Displays: []DisplayConfig{
			{
				ID:           0,
				Name:         "primary",
				AODPath:      DefaultPanelAODPath,
				DozeModePath: DefaultPanelDozePath,
			},
		},
		DBus: DBusConfig{
			Enabled: true,
			Bus:     BusSystem,
		},
		Journal: JournalConfig{
			Enabled:    true,
			MaxEntries: 10000,
		},
	}
}

// Load loads configuration from path. If path is empty, uses the default
// config path. Returns the default config if the file doesn't exist.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// A file that lists displays replaces the default panel
	cfg.Displays = nil
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.Displays == nil {
		cfg.Displays = DefaultConfig().Displays
	}
	cfg.Sensor.StreamPath = expandPath(cfg.Sensor.StreamPath)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration to path atomically.
// Creates parent directories if needed.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ConfigPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return os.Rename(tmpPath, path)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	switch c.Sensor.Source {
	case SourceStream:
		if c.Sensor.StreamPath == "" {
			return errors.New("sensor.stream_path is required for the stream source")
		}
	case SourceIIOProxy:
		if !isProxySensor(c.AOD.Sensor) {
			return fmt.Errorf("aod.sensor must be %q or %q with the iio-proxy source, got %q",
				sensor.SensorProximity, sensor.SensorLight, c.AOD.Sensor)
		}
		if c.Doze.Brightness == BrightnessAuto && !isProxySensor(c.Doze.Sensor) {
			return fmt.Errorf("doze.sensor must be %q or %q with the iio-proxy source, got %q",
				sensor.SensorProximity, sensor.SensorLight, c.Doze.Sensor)
		}
	default:
		return fmt.Errorf("invalid sensor source %q, must be one of: %s, %s", c.Sensor.Source, SourceStream, SourceIIOProxy)
	}
	if c.Sensor.ReconnectMax < 0 {
		return fmt.Errorf("sensor.reconnect_max must not be negative, got %s", c.Sensor.ReconnectMax.Duration())
	}

	if c.AOD.Sensor == "" {
		return errors.New("aod.sensor must not be empty")
	}
	for _, v := range c.AOD.ActivateValues {
		for _, w := range c.AOD.DeactivateValues {
			if v == w {
				return fmt.Errorf("value %v is both an activate and a deactivate value", v)
			}
		}
	}

	switch c.Doze.Brightness {
	case BrightnessLBM, BrightnessHBM:
	case BrightnessAuto:
		if c.Doze.Sensor == "" {
			return errors.New("doze.sensor is required when brightness is auto")
		}
	default:
		return fmt.Errorf("invalid doze brightness %q, must be one of: %s, %s, %s", c.Doze.Brightness, BrightnessLBM, BrightnessHBM, BrightnessAuto)
	}

	seen := make(map[uint32]bool, len(c.Displays))
	for _, d := range c.Displays {
		if seen[d.ID] {
			return fmt.Errorf("display %d configured more than once", d.ID)
		}
		seen[d.ID] = true
		if d.AODPath == "" {
			return fmt.Errorf("display %d: aod_path is required", d.ID)
		}
	}

	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("journal.max_entries must not be negative, got %d", c.Journal.MaxEntries)
	}

	switch c.DBus.Bus {
	case BusSystem, BusSession:
	default:
		return fmt.Errorf("invalid dbus bus %q, must be one of: %s, %s", c.DBus.Bus, BusSystem, BusSession)
	}

	return nil
}

// JournalPath returns the configured journal path or the default one.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return expandPath(c.Journal.Path)
	}
	return TransitionsPath()
}

func isProxySensor(sensorType string) bool {
	return sensorType == sensor.SensorProximity || sensorType == sensor.SensorLight
}
