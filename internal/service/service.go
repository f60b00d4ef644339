// Package service defines the capabilities the hub consumes from backend
// implementations, one variant per domain, and the values they exchange
// with the APIs.
package service

import (
	"sync"
	"time"
)

// Service is a unit of backend capability registered under one API.
type Service interface {
	// ID is unique within the owning API.
	ID() string
	Location() string
}

// Notifier is the handle a service uses to announce that its state
// changed. It only carries the service id; the owning API reads the fresh
// state and pushes it to connected clients. A zero Notifier discards
// every announcement.
type Notifier struct {
	changes *Changes
}

// NewNotifier returns a Notifier announcing into c.
func NewNotifier(c *Changes) Notifier {
	return Notifier{changes: c}
}

// Changed announces a change of id. It never blocks.
func (n Notifier) Changed(id string) {
	if n.changes != nil {
		n.changes.add(id)
	}
}

// Changes collects the ids announced by the services of one API. An id
// announced again before the next Drain is kept once, so announcements
// are merged but never lost.
type Changes struct {
	mu      sync.Mutex
	pending []string
	seen    map[string]struct{}
	ready   chan struct{}
}

func NewChanges() *Changes {
	return &Changes{
		seen:  make(map[string]struct{}),
		ready: make(chan struct{}, 1),
	}
}

func (c *Changes) add(id string) {
	c.mu.Lock()
	if _, ok := c.seen[id]; !ok {
		c.seen[id] = struct{}{}
		c.pending = append(c.pending, id)
	}
	c.mu.Unlock()
	select {
	case c.ready <- struct{}{}:
	default:
	}
}

// Ready signals that ids may be pending.
func (c *Changes) Ready() <-chan struct{} {
	return c.ready
}

// Drain removes and returns the pending ids in the order they were first
// announced.
func (c *Changes) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := c.pending
	c.pending = nil
	for _, id := range ids {
		delete(c.seen, id)
	}
	return ids
}

// Observable is implemented by services that announce their own changes,
// e.g. a light switched by a wall button or a sensor with a new reading.
type Observable interface {
	SetNotifier(Notifier)
}

// Closer is implemented by services holding resources such as goroutines
// or device connections.
type Closer interface {
	Close() error
}

// LightState is the complete state of a light.
type LightState struct {
	ID             string
	Location       string
	Room           string
	On             bool
	HasTemperature bool
	HasDimlevel    bool
	HasColor       bool
	// Temperature is the color temperature in percent, 0 is the coldest.
	Temperature int
	// Dimlevel is the brightness in percent.
	Dimlevel  int
	Color     string
	ColorCold string
	ColorWarm string
}

// LightUpdate is a partial light state. Nil fields are left untouched.
type LightUpdate struct {
	On          *bool
	Dimlevel    *int
	Temperature *int
	Color       *string
}

// LightService is a single controllable light.
type LightService interface {
	Service
	Room() string
	Status() LightState
	// Apply mutates only the fields present in u. Setting a field the light
	// does not support is a validation error.
	Apply(u LightUpdate) error
}

// TemperatureReading is the current value of a temperature source.
type TemperatureReading struct {
	ID       string
	Location string
	// Condition names the current weather, e.g. "day-cloudy". Empty if the
	// source has no notion of weather.
	Condition   string
	Temperature float64
}

// TemperatureService is a temperature sensor or weather source.
type TemperatureService interface {
	Service
	Reading() (TemperatureReading, error)
}

// LocalInfo describes a location and the sun's course over it.
type LocalInfo struct {
	ID         string
	Location   string
	Latitude   float64
	Longitude  float64
	Elevation  float64
	IsDaylight bool
	// Sunrise and Sunset are the next events in unix seconds.
	Sunrise int64
	Sunset  int64
}

// LocalService computes local information for a point in time.
type LocalService interface {
	Service
	Local(now time.Time) (LocalInfo, error)
}

// Task is a reminder-capable to-do item.
type Task struct {
	ID          string `json:"id"`
	Assignee    string `json:"assignee"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Title       string `json:"title"`
	// Due and Reminder are unix seconds.
	Due      int64 `json:"due"`
	Reminder int64 `json:"reminder"`
	Done     bool  `json:"done"`
}

// TaskStore persists tasks keyed by id.
type TaskStore interface {
	Load() ([]Task, error)
	Save(t Task) error
	Delete(id string) error
}
