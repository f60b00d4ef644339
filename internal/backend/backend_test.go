package backend

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

func TestFactoryBuild(t *testing.T) {
	f := Lights()
	assert.Equal(t, []string{"dummy", "shc"}, f.Types())

	l, err := f.Build(Config{Type: "dummy", ID: "L1", Location: "Table", Room: "Living Room"}, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, "L1", l.ID())
	assert.Equal(t, "Living Room", l.Room())

	_, err = f.Build(Config{Type: "tradfri", ID: "L2"}, zap.NewNop().Sugar())
	assert.True(t, kerr.Is(err, kerr.KindValidation))
	assert.Equal(t, "type", kerr.FieldOf(err))

	_, err = f.Build(Config{Type: "dummy"}, zap.NewNop().Sugar())
	assert.Equal(t, "id", kerr.FieldOf(err))

	err = f.Register("dummy", nil)
	assert.True(t, kerr.Is(err, kerr.KindDuplicateID))
}

func TestDecodeOptions(t *testing.T) {
	c := Config{Type: "dummy", ID: "L1", Options: map[string]any{"hasDimlevel": "true", "dimlevel": 40}}
	var opts DummyLightOptions
	require.NoError(t, c.DecodeOptions(&opts))
	assert.True(t, opts.HasDimlevel)
	assert.Equal(t, 40, opts.Dimlevel)

	c.Options["brightness"] = 3
	err := c.DecodeOptions(&opts)
	assert.True(t, kerr.Is(err, kerr.KindValidation))
}

func newDimmable(t *testing.T, on bool) *DummyLight {
	t.Helper()
	l, err := NewDummyLight(Config{ID: "L1", Options: map[string]any{
		"state": on, "hasDimlevel": true, "dimlevel": 60,
	}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	return l
}

func TestDummyLightRestoresDimlevel(t *testing.T) {
	l := newDimmable(t, true)
	assert.Equal(t, 60, l.Status().Dimlevel)

	off, on := false, true
	require.NoError(t, l.Apply(service.LightUpdate{On: &off}))
	assert.False(t, l.Status().On)
	assert.Equal(t, 0, l.Status().Dimlevel)

	require.NoError(t, l.Apply(service.LightUpdate{On: &on}))
	assert.True(t, l.Status().On)
	assert.Equal(t, 60, l.Status().Dimlevel)
}

func TestDummyLightDimlevelSwitches(t *testing.T) {
	l := newDimmable(t, false)

	level := 30
	require.NoError(t, l.Apply(service.LightUpdate{Dimlevel: &level}))
	assert.True(t, l.Status().On)

	level = 0
	require.NoError(t, l.Apply(service.LightUpdate{Dimlevel: &level}))
	assert.False(t, l.Status().On)

	on := true
	require.NoError(t, l.Apply(service.LightUpdate{On: &on}))
	assert.Equal(t, 30, l.Status().Dimlevel)

	level = 250
	require.NoError(t, l.Apply(service.LightUpdate{Dimlevel: &level}))
	assert.Equal(t, 100, l.Status().Dimlevel)
}

func TestDummyLightRejectsUnsupported(t *testing.T) {
	l, err := NewDummyLight(Config{ID: "L1"}, zap.NewNop().Sugar())
	require.NoError(t, err)

	color := "#ff0000"
	err = l.Apply(service.LightUpdate{Color: &color})
	assert.True(t, kerr.Is(err, kerr.KindValidation))
	assert.Equal(t, "color", kerr.FieldOf(err))
}

func TestDummyLightNotifiesChanges(t *testing.T) {
	l := newDimmable(t, false)
	changes := service.NewChanges()
	l.SetNotifier(service.NewNotifier(changes))

	on := true
	require.NoError(t, l.Apply(service.LightUpdate{On: &on}))
	assert.Equal(t, []string{"L1"}, changes.Drain())
	require.NoError(t, l.Apply(service.LightUpdate{On: &on}))
	assert.Empty(t, changes.Drain())
}

func TestDummyTemperature(t *testing.T) {
	temp, err := NewDummyTemperature(Config{ID: "T1", Location: "Garden", Options: map[string]any{"temperature": 12.5}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	changes := service.NewChanges()
	temp.SetNotifier(service.NewNotifier(changes))

	r, err := temp.Reading()
	require.NoError(t, err)
	assert.Equal(t, 12.5, r.Temperature)
	assert.Equal(t, "day-sunny", r.Condition)

	temp.Set(3, "day-snow")
	r, _ = temp.Reading()
	assert.Equal(t, 3.0, r.Temperature)
	assert.Equal(t, []string{"T1"}, changes.Drain())
}

func TestSunDaylight(t *testing.T) {
	s, err := NewSun(Config{ID: "home", Location: "Hamburg", Options: map[string]any{
		"latitude": 53.55, "longitude": 9.99,
	}}, zap.NewNop().Sugar())
	require.NoError(t, err)

	noon := time.Date(2020, 6, 21, 12, 0, 0, 0, time.UTC)
	info, err := s.Local(noon)
	require.NoError(t, err)
	assert.True(t, info.IsDaylight)
	assert.Greater(t, info.Sunset, noon.Unix())
	assert.Greater(t, info.Sunrise, info.Sunset)

	midnight := time.Date(2020, 6, 21, 23, 30, 0, 0, time.UTC)
	info, err = s.Local(midnight)
	require.NoError(t, err)
	assert.False(t, info.IsDaylight)
	assert.Less(t, info.Sunrise, info.Sunset)
	assert.Greater(t, info.Sunrise, midnight.Unix())
}

func TestSunPolarNight(t *testing.T) {
	s, err := NewSun(Config{ID: "pole", Options: map[string]any{"latitude": 89.0}}, zap.NewNop().Sugar())
	require.NoError(t, err)
	_, err = s.Local(time.Date(2020, 12, 21, 12, 0, 0, 0, time.UTC))
	assert.True(t, kerr.Is(err, kerr.KindBackend))
}

func TestSunRejectsInvalidPosition(t *testing.T) {
	_, err := NewSun(Config{ID: "x", Options: map[string]any{"latitude": 91}}, zap.NewNop().Sugar())
	assert.Equal(t, "latitude", kerr.FieldOf(err))
}
