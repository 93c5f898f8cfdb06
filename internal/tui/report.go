package tui

import (
	"sort"
	"time"

	"github.com/jmylchreest/aodd/internal/dbus"
)

// ReportDisplay is one active display in a Report.
type ReportDisplay struct {
	ID          uint32    `json:"id" yaml:"id"`
	Owner       string    `json:"owner" yaml:"owner"`
	ActiveSince time.Time `json:"active_since" yaml:"active_since"`
	Mode        string    `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Report is the daemon status as printed by the control tool.
type Report struct {
	Displays []ReportDisplay  `json:"displays" yaml:"displays"`
	Stats    map[string]int64 `json:"stats,omitempty" yaml:"stats,omitempty"`
}

// NewReport builds a Report from the bus status, ordered by display id.
func NewReport(displays []dbus.DisplayStatus, stats map[string]int64) Report {
	r := Report{
		Displays: make([]ReportDisplay, 0, len(displays)),
		Stats:    stats,
	}
	for _, d := range displays {
		r.Displays = append(r.Displays, ReportDisplay{
			ID:          d.ID,
			Owner:       d.Owner,
			ActiveSince: d.Since(),
			Mode:        d.Mode,
		})
	}
	sort.Slice(r.Displays, func(i, j int) bool {
		return r.Displays[i].ID < r.Displays[j].ID
	})
	return r
}

// StatNames returns the stat names of r, sorted.
func (r Report) StatNames() []string {
	names := make([]string, 0, len(r.Stats))
	for name := range r.Stats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
