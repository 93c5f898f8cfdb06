package dbus

import (
	"context"
	"errors"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/aodd/internal/display"
	"github.com/jmylchreest/aodd/internal/model"
)

const (
	// Interface is the aodd control interface name.
	Interface = "io.github.jmylchreest.Aodd"
	// Path is the aodd object path.
	Path = "/io/github/jmylchreest/Aodd"
	// BusName is the bus name aodd claims.
	BusName = "io.github.jmylchreest.Aodd"

	signalActiveDisplaysChanged = "ActiveDisplaysChanged"
)

// D-Bus error names returned by the service.
const (
	ErrorUnknownDisplay = Interface + ".Error.UnknownDisplay"
	ErrorFailed         = Interface + ".Error.Failed"
)

// DisplayStatus is one active display as sent over the bus, signature (usxs).
type DisplayStatus struct {
	ID          uint32
	Owner       string
	ActiveSince int64  // Unix seconds
	Mode        string // Doze mode, empty when untouched
}

// Since returns ActiveSince as a time.
func (s DisplayStatus) Since() time.Time {
	return time.Unix(s.ActiveSince, 0)
}

// StatusFromEntries converts registry entries to their bus form.
func StatusFromEntries(entries []display.Entry) []DisplayStatus {
	out := make([]DisplayStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, DisplayStatus{
			ID:          uint32(e.ID),
			Owner:       e.Owner,
			ActiveSince: e.ActiveSince.Unix(),
			Mode:        string(e.Mode),
		})
	}
	return out
}

// Backend is what the service exposes. The daemon implements it.
type Backend interface {
	ActiveDisplays() []display.Entry
	Apply(ctx context.Context, action model.Action, id model.DisplayID, source string) error
	Stats() map[string]int64
}

// toDBusError maps an apply error to a named D-Bus error.
func toDBusError(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	if errors.Is(err, display.ErrUnknownDisplay) {
		return dbus.NewError(ErrorUnknownDisplay, []interface{}{err.Error()})
	}
	return dbus.NewError(ErrorFailed, []interface{}{err.Error()})
}

// connect opens a private connection to the named bus.
func connect(bus string) (*dbus.Conn, error) {
	if bus == "session" {
		return dbus.ConnectSessionBus()
	}
	return dbus.ConnectSystemBus()
}
