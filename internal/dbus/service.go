package dbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/jmylchreest/aodd/internal/model"
)

// Service exports the aodd control interface.
type Service struct {
	conn    *dbus.Conn
	backend Backend
	logger  *slog.Logger

	// Bounds a manual override
	callTimeout time.Duration

	mu      sync.Mutex
	running bool
}

// NewService creates a Service serving backend.
func NewService(backend Backend, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:     backend,
		logger:      logger,
		callTimeout: 5 * time.Second,
	}
}

// Start connects to bus ("system" or "session"), exports the service and
// claims the bus name.
func (s *Service) Start(bus string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("service already running")
	}

	conn, err := connect(bus)
	if err != nil {
		return fmt.Errorf("failed to connect to %s bus: %w", bus, err)
	}

	if err := conn.Export(s, Path, Interface); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export object: %w", err)
	}

	node := &introspect.Node{
		Name: Path,
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			{
				Name:    Interface,
				Methods: serviceMethods(),
				Signals: serviceSignals(),
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), Path,
		"org.freedesktop.DBus.Introspectable"); err != nil {
		conn.Close()
		return fmt.Errorf("failed to export introspectable: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return fmt.Errorf("bus name %s already taken", BusName)
	}

	s.conn = conn
	s.running = true

	s.logger.Info("D-Bus service started", "bus", bus, "interface", Interface, "path", Path)
	return nil
}

// Stop releases the bus name and closes the connection.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if _, err := s.conn.ReleaseName(BusName); err != nil {
		s.logger.Warn("failed to release bus name", "error", err)
	}
	err := s.conn.Close()
	s.conn = nil

	s.logger.Info("D-Bus service stopped")
	return err
}

// ActiveDisplays returns the active display set.
// D-Bus method: ActiveDisplays() -> a(usxs)
func (s *Service) ActiveDisplays() ([]DisplayStatus, *dbus.Error) {
	s.logger.Debug("ActiveDisplays called")
	return StatusFromEntries(s.backend.ActiveDisplays()), nil
}

// Activate engages AOD on a display.
// D-Bus method: Activate(u) -> nothing
func (s *Service) Activate(id uint32) *dbus.Error {
	s.logger.Debug("Activate called", "display", id)
	return s.apply(model.ActionActivate, id)
}

// Deactivate releases AOD on a display.
// D-Bus method: Deactivate(u) -> nothing
func (s *Service) Deactivate(id uint32) *dbus.Error {
	s.logger.Debug("Deactivate called", "display", id)
	return s.apply(model.ActionDeactivate, id)
}

// Stats returns the notifier counters.
// D-Bus method: Stats() -> a{sx}
func (s *Service) Stats() (map[string]int64, *dbus.Error) {
	s.logger.Debug("Stats called")
	return s.backend.Stats(), nil
}

func (s *Service) apply(action model.Action, id uint32) *dbus.Error {
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()

	if err := s.backend.Apply(ctx, action, model.DisplayID(id), "dbus"); err != nil {
		s.logger.Warn("manual override failed", "action", action, "display", id, "error", err)
		return toDBusError(err)
	}
	return nil
}

// EmitActiveDisplaysChanged emits the ActiveDisplaysChanged signal.
func (s *Service) EmitActiveDisplaysChanged(ids []model.DisplayID) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		return errors.New("not connected to D-Bus")
	}

	raw := make([]uint32, len(ids))
	for i, id := range ids {
		raw[i] = uint32(id)
	}
	if err := conn.Emit(Path, Interface+"."+signalActiveDisplaysChanged, raw); err != nil {
		return fmt.Errorf("failed to emit %s signal: %w", signalActiveDisplaysChanged, err)
	}

	s.logger.Debug("emitted ActiveDisplaysChanged signal", "displays", raw)
	return nil
}

// serviceMethods returns the D-Bus method introspection data.
func serviceMethods() []introspect.Method {
	return []introspect.Method{
		{
			Name: "ActiveDisplays",
			Args: []introspect.Arg{
				{Name: "displays", Type: "a(usxs)", Direction: "out"},
			},
		},
		{
			Name: "Activate",
			Args: []introspect.Arg{
				{Name: "id", Type: "u", Direction: "in"},
			},
		},
		{
			Name: "Deactivate",
			Args: []introspect.Arg{
				{Name: "id", Type: "u", Direction: "in"},
			},
		},
		{
			Name: "Stats",
			Args: []introspect.Arg{
				{Name: "counters", Type: "a{sx}", Direction: "out"},
			},
		},
	}
}

// serviceSignals returns the D-Bus signal introspection data.
func serviceSignals() []introspect.Signal {
	return []introspect.Signal{
		{
			Name: signalActiveDisplaysChanged,
			Args: []introspect.Arg{
				{Name: "displays", Type: "au"},
			},
		},
	}
}
