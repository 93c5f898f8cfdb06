package notifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/aodd/internal/display"
	"github.com/jmylchreest/aodd/internal/model"
	"github.com/jmylchreest/aodd/internal/sensor"
)

func dozeEvent(values ...float64) model.SensorEvent {
	return model.SensorEvent{Sensor: DefaultDozeSensor, Values: values}
}

func TestDozeBrightnessNotifier_ModeFor(t *testing.T) {
	n, err := NewDozeBrightnessNotifier(sensor.NewHub(nil), display.NewRegistry(), newFakeController())
	require.NoError(t, err)

	tests := []struct {
		code float64
		want model.DozeMode
	}{
		{3, model.DozeModeLBM},
		{5, model.DozeModeLBM},
		{4, model.DozeModeHBM},
		{0, ""},
		{1, ""},
		{4.5, ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, n.modeFor(tt.code), "code %v", tt.code)
	}
}

func TestDozeBrightnessNotifier_AppliesToActiveDisplays(t *testing.T) {
	c := newFakeController(1, 2, 3)
	c.noDoze[3] = true
	hub := sensor.NewHub(nil)
	registry := display.NewRegistry()
	registry.Activate(1, "aod")
	registry.Activate(3, "aod")

	var transitions []*model.Transition
	n, err := NewDozeBrightnessNotifier(hub, registry, c, WithTransitionFunc(func(tr *model.Transition) {
		transitions = append(transitions, tr)
	}))
	require.NoError(t, err)
	require.NoError(t, n.Register())
	defer n.Close()

	hub.Publish(dozeEvent(4))
	assert.Equal(t, model.DozeModeHBM, n.Mode())
	assert.Equal(t, model.DozeModeHBM, c.dozeState(1))
	assert.Empty(t, c.dozeState(2))

	entry, _ := registry.Get(1)
	assert.Equal(t, model.DozeModeHBM, entry.Mode)
	require.Len(t, transitions, 1)
	assert.Equal(t, model.ActionDozeMode, transitions[0].Action)
	assert.Equal(t, model.DisplayID(1), transitions[0].Display)

	// Same mode again changes nothing
	hub.Publish(dozeEvent(4))
	assert.Len(t, transitions, 1)

	hub.Publish(dozeEvent(3))
	assert.Equal(t, model.DozeModeLBM, c.dozeState(1))
	assert.Len(t, transitions, 2)
	assert.Equal(t, int64(2), n.Stats()[MetricTransitions])
}

func TestDozeBrightnessNotifier_Ignored(t *testing.T) {
	c := newFakeController(1)
	hub := sensor.NewHub(nil)
	registry := display.NewRegistry()
	registry.Activate(1, "aod")

	n, err := NewDozeBrightnessNotifier(hub, registry, c)
	require.NoError(t, err)
	require.NoError(t, n.Register())
	defer n.Close()

	hub.Publish(dozeEvent(1))
	hub.Publish(dozeEvent())
	assert.Empty(t, n.Mode())
	assert.Empty(t, c.dozeState(1))
	assert.Equal(t, int64(2), n.Stats()[MetricEventsIgnored])
}

func TestDozeBrightnessNotifier_Failures(t *testing.T) {
	c := newFakeController(1, 2)
	c.failing[1] = true
	hub := sensor.NewHub(nil)
	registry := display.NewRegistry()
	registry.Activate(1, "aod")
	registry.Activate(2, "aod")
	registry.Activate(7, "manual")

	n, err := NewDozeBrightnessNotifier(hub, registry, c, WithBrightnessValues([]float64{10}, []float64{11}))
	require.NoError(t, err)
	require.NoError(t, n.Register())
	defer n.Close()

	hub.Publish(dozeEvent(11))
	assert.Equal(t, model.DozeModeHBM, c.dozeState(2))

	entry, _ := registry.Get(1)
	assert.Empty(t, entry.Mode)

	stats := n.Stats()
	assert.Equal(t, int64(1), stats[MetricCommandsFailed])
	assert.Equal(t, int64(1), stats[MetricDisplaysUnknown])
	assert.Equal(t, int64(1), stats[MetricTransitions])
}

func TestDozeBrightnessNotifier_CloseKeepsRegistry(t *testing.T) {
	hub := sensor.NewHub(nil)
	registry := display.NewRegistry()
	registry.Activate(1, "aod")

	n, err := NewDozeBrightnessNotifier(hub, registry, newFakeController(1))
	require.NoError(t, err)
	require.NoError(t, n.Register())
	require.NoError(t, n.Close())

	assert.Equal(t, 0, hub.Subscribers(DefaultDozeSensor))
	assert.Equal(t, []model.DisplayID{1}, registry.Active())
}
