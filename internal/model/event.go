// Package model defines the core data structures for aodd.
package model

import (
	"crypto/rand"
	"fmt"
	"strconv"
	"time"

	"github.com/oklog/ulid/v2"
)

// DisplayID identifies a physical display output.
type DisplayID uint32

// String returns the decimal form of the id.
func (id DisplayID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseDisplayID parses a decimal display id.
func ParseDisplayID(s string) (DisplayID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid display id %q: %w", s, err)
	}
	return DisplayID(v), nil
}

// SensorEvent is a single reading delivered by a sensor manager.
// The first value carries the event code for discrete sensors.
type SensorEvent struct {
	Sensor    string    `json:"sensor"`
	Display   DisplayID `json:"display"`
	Values    []float64 `json:"values"`
	Timestamp time.Time `json:"timestamp"`
}

// Code returns the first value of the event and whether one was present.
func (e SensorEvent) Code() (float64, bool) {
	if len(e.Values) == 0 {
		return 0, false
	}
	return e.Values[0], true
}

// DozeMode is the panel brightness used while a display is dozing.
type DozeMode string

const (
	// DozeModeLBM is low-brightness doze.
	DozeModeLBM DozeMode = "lbm"
	// DozeModeHBM is high-brightness doze.
	DozeModeHBM DozeMode = "hbm"
)

// NodeValue returns the value written to the panel doze_mode node.
func (m DozeMode) NodeValue() string {
	if m == DozeModeHBM {
		return "1"
	}
	return "0"
}

// Valid reports whether m is a known doze mode.
func (m DozeMode) Valid() bool {
	return m == DozeModeLBM || m == DozeModeHBM
}

// Action is what a transition did to a display.
type Action string

const (
	ActionActivate   Action = "activate"
	ActionDeactivate Action = "deactivate"
	ActionDozeMode   Action = "doze-mode"
)

// Transition records a change applied to a display.
type Transition struct {
	ID        string    `json:"id"`
	Display   DisplayID `json:"display"`
	Action    Action    `json:"action"`
	Mode      DozeMode  `json:"mode,omitempty"`
	Source    string    `json:"source,omitempty"` // sensor type, "dbus", ...
	Reason    string    `json:"reason,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewTransition creates a transition with a fresh ULID.
func NewTransition(display DisplayID, action Action, source string) (*Transition, error) {
	now := time.Now()
	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ULID: %w", err)
	}
	return &Transition{
		ID:        id.String(),
		Display:   display,
		Action:    action,
		Source:    source,
		Timestamp: now.Unix(),
	}, nil
}

// Time returns the transition timestamp.
func (t *Transition) Time() time.Time {
	return time.Unix(t.Timestamp, 0)
}
