package backend

import (
	"sync"

	"go.uber.org/zap"

	"github.com/pearjo/knut-server/internal/service"
)

// DummyTemperatureOptions configures a DummyTemperature.
type DummyTemperatureOptions struct {
	Temperature float64 `mapstructure:"temperature"`
	Condition   string  `mapstructure:"condition"`
}

// DummyTemperature reports a fixed reading until Set changes it.
type DummyTemperature struct {
	id       string
	location string
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	value     float64
	condition string
	notifier  service.Notifier
}

// NewDummyTemperature builds a DummyTemperature from c.
func NewDummyTemperature(c Config, logger *zap.SugaredLogger) (*DummyTemperature, error) {
	opts := DummyTemperatureOptions{Temperature: 20, Condition: "day-sunny"}
	if err := c.DecodeOptions(&opts); err != nil {
		return nil, err
	}
	return &DummyTemperature{
		id:        c.ID,
		location:  c.Location,
		logger:    logger,
		value:     opts.Temperature,
		condition: opts.Condition,
	}, nil
}

func (t *DummyTemperature) ID() string       { return t.id }
func (t *DummyTemperature) Location() string { return t.location }

// Reading implements service.TemperatureService.
func (t *DummyTemperature) Reading() (service.TemperatureReading, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return service.TemperatureReading{
		ID:          t.id,
		Location:    t.location,
		Condition:   t.condition,
		Temperature: t.value,
	}, nil
}

// SetNotifier implements service.Observable.
func (t *DummyTemperature) SetNotifier(n service.Notifier) {
	t.mu.Lock()
	t.notifier = n
	t.mu.Unlock()
}

// Set changes the reading and announces the change.
func (t *DummyTemperature) Set(value float64, condition string) {
	t.mu.Lock()
	t.value, t.condition = value, condition
	n := t.notifier
	t.mu.Unlock()
	t.logger.Debugf("Temperature %q set to %.1f", t.id, value)
	n.Changed(t.id)
}
