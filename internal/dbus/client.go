package dbus

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"

	"github.com/jmylchreest/aodd/internal/model"
)

// Client calls the aodd control interface.
type Client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

// NewClient connects to bus ("system" or "session").
func NewClient(bus string) (*Client, error) {
	conn, err := connect(bus)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", bus, err)
	}
	return &Client{
		conn: conn,
		obj:  conn.Object(BusName, Path),
	}, nil
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// ActiveDisplays returns the active display set.
func (c *Client) ActiveDisplays(ctx context.Context) ([]DisplayStatus, error) {
	var out []DisplayStatus
	if err := c.obj.CallWithContext(ctx, Interface+".ActiveDisplays", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("ActiveDisplays: %w", err)
	}
	return out, nil
}

// Activate engages AOD on display id.
func (c *Client) Activate(ctx context.Context, id model.DisplayID) error {
	if err := c.obj.CallWithContext(ctx, Interface+".Activate", 0, uint32(id)).Err; err != nil {
		return fmt.Errorf("Activate: %w", err)
	}
	return nil
}

// Deactivate releases AOD on display id.
func (c *Client) Deactivate(ctx context.Context, id model.DisplayID) error {
	if err := c.obj.CallWithContext(ctx, Interface+".Deactivate", 0, uint32(id)).Err; err != nil {
		return fmt.Errorf("Deactivate: %w", err)
	}
	return nil
}

// Stats returns the daemon counters.
func (c *Client) Stats(ctx context.Context) (map[string]int64, error) {
	var out map[string]int64
	if err := c.obj.CallWithContext(ctx, Interface+".Stats", 0).Store(&out); err != nil {
		return nil, fmt.Errorf("Stats: %w", err)
	}
	return out, nil
}

// WatchActiveDisplays delivers the active display set every time it changes
// until ctx is done. The returned channel is closed afterwards.
func (c *Client) WatchActiveDisplays(ctx context.Context) (<-chan []model.DisplayID, error) {
	if err := c.conn.AddMatchSignal(
		dbus.WithMatchObjectPath(Path),
		dbus.WithMatchInterface(Interface),
		dbus.WithMatchMember(signalActiveDisplaysChanged),
	); err != nil {
		return nil, fmt.Errorf("failed to add match rule: %w", err)
	}

	signals := make(chan *dbus.Signal, 16)
	c.conn.Signal(signals)

	out := make(chan []model.DisplayID)
	go func() {
		defer close(out)
		defer c.conn.RemoveSignal(signals)

		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				ids, ok := parseActiveDisplaysChanged(sig)
				if !ok {
					continue
				}
				select {
				case out <- ids:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// parseActiveDisplaysChanged extracts the display set from a signal.
func parseActiveDisplaysChanged(sig *dbus.Signal) ([]model.DisplayID, bool) {
	if sig == nil || sig.Path != Path || sig.Name != Interface+"."+signalActiveDisplaysChanged {
		return nil, false
	}
	if len(sig.Body) != 1 {
		return nil, false
	}
	raw, ok := sig.Body[0].([]uint32)
	if !ok {
		return nil, false
	}
	ids := make([]model.DisplayID, len(raw))
	for i, id := range raw {
		ids[i] = model.DisplayID(id)
	}
	return ids, true
}
