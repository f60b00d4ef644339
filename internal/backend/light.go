package backend

import (
	"sync"

	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

// DummyLightOptions configures a DummyLight.
type DummyLightOptions struct {
	State          bool   `mapstructure:"state"`
	HasDimlevel    bool   `mapstructure:"hasDimlevel"`
	HasTemperature bool   `mapstructure:"hasTemperature"`
	HasColor       bool   `mapstructure:"hasColor"`
	Dimlevel       int    `mapstructure:"dimlevel"`
	Temperature    int    `mapstructure:"temperature"`
	Color          string `mapstructure:"color"`
	ColorCold      string `mapstructure:"colorCold"`
	ColorWarm      string `mapstructure:"colorWarm"`
}

// DummyLight is an in-memory light.
type DummyLight struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	state    service.LightState
	saved    int
	notifier service.Notifier
}

// NewDummyLight builds a DummyLight from c.
func NewDummyLight(c Config, logger *zap.SugaredLogger) (*DummyLight, error) {
	opts := DummyLightOptions{Dimlevel: 100, ColorCold: "#f5faf6", ColorWarm: "#efd275"}
	if err := c.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	l := &DummyLight{
		logger: logger,
		state: service.LightState{
			ID:             c.ID,
			Location:       c.Location,
			Room:           c.Room,
			On:             opts.State,
			HasTemperature: opts.HasTemperature,
			HasDimlevel:    opts.HasDimlevel,
			HasColor:       opts.HasColor,
			Temperature:    clamp(opts.Temperature),
			Dimlevel:       clamp(opts.Dimlevel),
			Color:          opts.Color,
			ColorCold:      opts.ColorCold,
			ColorWarm:      opts.ColorWarm,
		},
	}
	l.saved = l.state.Dimlevel
	if l.saved == 0 {
		l.saved = 100
	}
	if opts.HasDimlevel && !opts.State {
		l.state.Dimlevel = 0
	}
	return l, nil
}

func clamp(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}

// ID implements service.Service.
func (l *DummyLight) ID() string { return l.state.ID }

// Location implements service.Service.
func (l *DummyLight) Location() string { return l.state.Location }

// Room implements service.LightService.
func (l *DummyLight) Room() string { return l.state.Room }

// Status implements service.LightService.
func (l *DummyLight) Status() service.LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// SetNotifier implements service.Observable.
func (l *DummyLight) SetNotifier(n service.Notifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// Apply implements service.LightService. Switching a dimmable light off
// remembers its dim level and switching it on restores it. A dim level of
// zero switches the light off.
func (l *DummyLight) Apply(u service.LightUpdate) error {
	const op = "dummy.Apply"
	l.mu.Lock()
	st := l.state
	if u.Dimlevel != nil && !st.HasDimlevel {
		l.mu.Unlock()
		return kerr.Validation(op, "dimlevel", "light %q has no dim level", st.ID)
	}
	if u.Temperature != nil && !st.HasTemperature {
		l.mu.Unlock()
		return kerr.Validation(op, "temperature", "light %q has no color temperature", st.ID)
	}
	if u.Color != nil && !st.HasColor {
		l.mu.Unlock()
		return kerr.Validation(op, "color", "light %q has no color", st.ID)
	}

	if u.On != nil {
		st.On = *u.On
		if st.HasDimlevel {
			if st.On {
				st.Dimlevel = l.saved
			} else {
				if st.Dimlevel > 0 {
					l.saved = st.Dimlevel
				}
				st.Dimlevel = 0
			}
		}
	}
	if u.Dimlevel != nil {
		st.Dimlevel = clamp(*u.Dimlevel)
		st.On = st.Dimlevel > 0
		if st.On {
			l.saved = st.Dimlevel
		}
	}
	if u.Temperature != nil {
		st.Temperature = clamp(*u.Temperature)
	}
	if u.Color != nil {
		st.Color = *u.Color
	}

	changed := st != l.state
	l.state = st
	n := l.notifier
	l.mu.Unlock()

	if changed {
		l.logger.Debugf("Light %q changed to on=%t dimlevel=%d", st.ID, st.On, st.Dimlevel)
		n.Changed(st.ID)
	}
	return nil
}
