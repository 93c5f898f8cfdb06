package display

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sysfs"
)

var (
	// ErrUnknownDisplay is returned for a display id the controller does not manage.
	ErrUnknownDisplay = errors.New("unknown display")
	// ErrNoDozeControl is returned when a panel has no doze mode node.
	ErrNoDozeControl = errors.New("panel has no doze mode control")
)

// Controller applies AOD commands to physical displays.
type Controller interface {
	// Known reports whether id names a display managed by the controller.
	Known(id model.DisplayID) bool
	// SetAOD switches Always-On-Display on or off.
	SetAOD(ctx context.Context, id model.DisplayID, on bool) error
	// SetDozeMode selects the doze brightness of the panel.
	SetDozeMode(ctx context.Context, id model.DisplayID, mode model.DozeMode) error
}

// Panel describes the kernel nodes of one display.
type Panel struct {
	ID           model.DisplayID
	Name         string
	AODPath      string // Receives "1" / "0"
	DozeModePath string // Receives "0" (LBM) / "1" (HBM); optional
}

// SysfsController drives panels through their sysfs nodes.
type SysfsController struct {
	mu     sync.RWMutex
	logger *slog.Logger
	panels map[model.DisplayID]Panel
}

// NewSysfsController creates a controller for the given panels.
func NewSysfsController(panels []Panel, logger *slog.Logger) *SysfsController {
	if logger == nil {
		logger = slog.Default()
	}
	c := &SysfsController{logger: logger}
	c.UpdatePanels(panels)
	return c
}

// UpdatePanels replaces the managed panel set.
func (c *SysfsController) UpdatePanels(panels []Panel) {
	m := make(map[model.DisplayID]Panel, len(panels))
	for _, p := range panels {
		m[p.ID] = p
		if !sysfs.IsWritable(p.AODPath) {
			c.logger.Warn("aod node is not writable", "display", p.ID, "path", p.AODPath)
		}
	}

	c.mu.Lock()
	c.panels = m
	c.mu.Unlock()
}

// Panels returns the managed panels sorted by id.
func (c *SysfsController) Panels() []Panel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	panels := make([]Panel, 0, len(c.panels))
	for _, p := range c.panels {
		panels = append(panels, p)
	}
	slices.SortFunc(panels, func(a, b Panel) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return panels
}

// Panel returns the panel for id.
func (c *SysfsController) Panel(id model.DisplayID) (Panel, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.panels[id]
	return p, ok
}

// Known reports whether id is a managed panel.
func (c *SysfsController) Known(id model.DisplayID) bool {
	_, ok := c.Panel(id)
	return ok
}

// SetAOD writes the AOD node of the panel.
func (c *SysfsController) SetAOD(ctx context.Context, id model.DisplayID, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, ok := c.Panel(id)
	if !ok {
		return fmt.Errorf("display %d: %w", id, ErrUnknownDisplay)
	}

	value := "0"
	if on {
		value = "1"
	}
	if err := sysfs.WriteLine(p.AODPath, value); err != nil {
		return fmt.Errorf("failed to set aod on display %d: %w", id, err)
	}

	c.logger.Debug("aod node written", "display", id, "path", p.AODPath, "value", value)
	return nil
}

// AODState reads back the AOD node of the panel.
func (c *SysfsController) AODState(id model.DisplayID) (bool, error) {
	p, ok := c.Panel(id)
	if !ok {
		return false, fmt.Errorf("display %d: %w", id, ErrUnknownDisplay)
	}
	if !sysfs.IsReadable(p.AODPath) {
		return false, fmt.Errorf("aod node of display %d is not readable", id)
	}

	value, err := sysfs.ReadOneLine(p.AODPath)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(value) == "1", nil
}

// ResetPanels switches AOD off on every panel whose node still reads "1",
// for example after an unclean exit. It returns the displays it reset.
func (c *SysfsController) ResetPanels(ctx context.Context) ([]model.DisplayID, error) {
	var reset []model.DisplayID
	var errs []error
	for _, p := range c.Panels() {
		on, err := c.AODState(p.ID)
		if err != nil {
			c.logger.Debug("cannot read aod node", "display", p.ID, "error", err)
			continue
		}
		if !on {
			continue
		}
		if err := c.SetAOD(ctx, p.ID, false); err != nil {
			errs = append(errs, err)
			continue
		}
		reset = append(reset, p.ID)
	}
	return reset, errors.Join(errs...)
}

// SetDozeMode writes the doze mode node of the panel.
func (c *SysfsController) SetDozeMode(ctx context.Context, id model.DisplayID, mode model.DozeMode) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p, ok := c.Panel(id)
	if !ok {
		return fmt.Errorf("display %d: %w", id, ErrUnknownDisplay)
	}
	if p.DozeModePath == "" {
		return fmt.Errorf("display %d: %w", id, ErrNoDozeControl)
	}
	if !mode.Valid() {
		return fmt.Errorf("display %d: invalid doze mode %q", id, mode)
	}

	if err := sysfs.WriteLine(p.DozeModePath, mode.NodeValue()); err != nil {
		return fmt.Errorf("failed to set doze mode on display %d: %w", id, err)
	}

	c.logger.Debug("doze mode written", "display", id, "mode", mode)
	return nil
}
