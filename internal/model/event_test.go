package model

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDisplayID(t *testing.T) {
	tests := []struct {
		in      string
		want    DisplayID
		wantErr bool
	}{
		{"0", 0, false},
		{"1", 1, false},
		{"4294967295", 4294967295, false},
		{"4294967296", 0, true},
		{"-1", 0, true},
		{"primary", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDisplayID(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestSensorEventCode(t *testing.T) {
	_, ok := SensorEvent{}.Code()
	assert.False(t, ok)

	code, ok := SensorEvent{Values: []float64{4, 1}}.Code()
	assert.True(t, ok)
	assert.Equal(t, 4.0, code)
}

func TestDozeMode(t *testing.T) {
	assert.Equal(t, "0", DozeModeLBM.NodeValue())
	assert.Equal(t, "1", DozeModeHBM.NodeValue())
	assert.True(t, DozeModeLBM.Valid())
	assert.True(t, DozeModeHBM.Valid())
	assert.False(t, DozeMode("auto").Valid())
}

func TestNewTransition(t *testing.T) {
	tr, err := NewTransition(2, ActionActivate, "display.aod")
	require.NoError(t, err)

	_, err = ulid.Parse(tr.ID)
	assert.NoError(t, err)
	assert.Equal(t, DisplayID(2), tr.Display)
	assert.Equal(t, ActionActivate, tr.Action)
	assert.Equal(t, "display.aod", tr.Source)
	assert.NotZero(t, tr.Timestamp)
	assert.Equal(t, tr.Timestamp, tr.Time().Unix())

	other, err := NewTransition(2, ActionActivate, "display.aod")
	require.NoError(t, err)
	assert.NotEqual(t, tr.ID, other.ID)
}
