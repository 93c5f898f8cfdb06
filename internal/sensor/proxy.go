package sensor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/aodd/internal/model"
)

const (
	// ProxyBusName is the bus name of iio-sensor-proxy.
	ProxyBusName = "net.hadess.SensorProxy"
	// ProxyPath is the object path of iio-sensor-proxy.
	ProxyPath = "/net/hadess/SensorProxy"
	// ProxyInterface is the sensor interface of iio-sensor-proxy.
	ProxyInterface = "net.hadess.SensorProxy"

	propertiesInterface = "org.freedesktop.DBus.Properties"
)

// Sensor types exposed by the ProxyManager.
const (
	SensorProximity = "proximity"
	SensorLight     = "light"
)

// proxyClaims maps sensor types to the iio-sensor-proxy claim method suffix.
var proxyClaims = map[string]string{
	SensorProximity: "Proximity",
	SensorLight:     "Light",
}

// ProxyManager delivers proximity and ambient light readings from
// iio-sensor-proxy on the system bus. Readings carry no display, so
// they are attributed to a configured display.
type ProxyManager struct {
	*Hub

	logger  *slog.Logger
	display model.DisplayID

	mu      sync.Mutex
	conn    *dbus.Conn
	claimed map[string]bool
	signals chan *dbus.Signal
	doneCh  chan struct{}
}

// NewProxyManager creates a ProxyManager attributing readings to display.
func NewProxyManager(display model.DisplayID, logger *slog.Logger) *ProxyManager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ProxyManager{
		Hub:     NewHub(logger),
		logger:  logger,
		display: display,
		claimed: make(map[string]bool),
	}
	m.Hub.onFirst = m.claim
	m.Hub.onLast = m.release
	return m
}

// Start connects to the system bus, claims the sensors already subscribed
// and starts forwarding property changes.
func (m *ProxyManager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.conn != nil {
		m.mu.Unlock()
		return fmt.Errorf("proxy manager already running")
	}

	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchObjectPath(ProxyPath),
		dbus.WithMatchInterface(propertiesInterface),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		conn.Close()
		m.mu.Unlock()
		return fmt.Errorf("failed to add match rule: %w", err)
	}

	m.conn = conn
	m.signals = make(chan *dbus.Signal, 16)
	m.doneCh = make(chan struct{})
	conn.Signal(m.signals)
	m.mu.Unlock()

	for _, sensorType := range m.SensorTypes() {
		if err := m.claim(sensorType); err != nil {
			m.logger.Warn("failed to claim sensor", "sensor", sensorType, "error", err)
		}
	}

	go m.processSignals(m.signals, m.doneCh)

	m.logger.Info("iio-sensor-proxy manager started", "display", m.display)
	return nil
}

// Close releases claimed sensors, closes the connection and all subscriptions.
func (m *ProxyManager) Close() error {
	// Closing the hub releases every claim through onLast
	err := m.Hub.Close()

	m.mu.Lock()
	conn := m.conn
	done := m.doneCh
	m.conn = nil
	m.mu.Unlock()

	if conn != nil {
		// Closing the connection closes the signal channel
		if cerr := conn.Close(); cerr != nil && err == nil {
			err = cerr
		}
		<-done
	}
	return err
}

// claim asks iio-sensor-proxy to start reporting sensorType.
// Before Start there is no connection and the claim happens on Start.
func (m *ProxyManager) claim(sensorType string) error {
	suffix, ok := proxyClaims[sensorType]
	if !ok {
		return fmt.Errorf("sensor %q is not provided by iio-sensor-proxy", sensorType)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || m.claimed[sensorType] {
		return nil
	}

	obj := m.conn.Object(ProxyBusName, ProxyPath)
	if err := obj.Call(ProxyInterface+".Claim"+suffix, 0).Err; err != nil {
		return fmt.Errorf("failed to claim %s: %w", sensorType, err)
	}
	m.claimed[sensorType] = true
	m.logger.Debug("claimed sensor", "sensor", sensorType)
	return nil
}

func (m *ProxyManager) release(sensorType string) {
	suffix, ok := proxyClaims[sensorType]
	if !ok {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.conn == nil || !m.claimed[sensorType] {
		return
	}
	delete(m.claimed, sensorType)

	obj := m.conn.Object(ProxyBusName, ProxyPath)
	if err := obj.Call(ProxyInterface+".Release"+suffix, 0).Err; err != nil {
		m.logger.Warn("failed to release sensor", "sensor", sensorType, "error", err)
		return
	}
	m.logger.Debug("released sensor", "sensor", sensorType)
}

// processSignals is the dispatch loop.
func (m *ProxyManager) processSignals(ch <-chan *dbus.Signal, done chan struct{}) {
	defer close(done)

	for sig := range ch {
		if sig.Path != ProxyPath || sig.Name != propertiesInterface+".PropertiesChanged" {
			continue
		}
		for _, ev := range proxyEvents(sig.Body, m.display, time.Now()) {
			m.Publish(ev)
		}
	}
}

// proxyEvents converts a PropertiesChanged body into sensor events.
func proxyEvents(body []interface{}, display model.DisplayID, now time.Time) []model.SensorEvent {
	if len(body) < 2 {
		return nil
	}
	if iface, ok := body[0].(string); !ok || iface != ProxyInterface {
		return nil
	}
	changed, ok := body[1].(map[string]dbus.Variant)
	if !ok {
		return nil
	}

	var events []model.SensorEvent
	if v, ok := changed["ProximityNear"]; ok {
		if near, ok := v.Value().(bool); ok {
			value := 0.0
			if near {
				value = 1
			}
			events = append(events, model.SensorEvent{
				Sensor:    SensorProximity,
				Display:   display,
				Values:    []float64{value},
				Timestamp: now,
			})
		}
	}
	if v, ok := changed["LightLevel"]; ok {
		if level, ok := v.Value().(float64); ok {
			events = append(events, model.SensorEvent{
				Sensor:    SensorLight,
				Display:   display,
				Values:    []float64{level},
				Timestamp: now,
			})
		}
	}
	return events
}
