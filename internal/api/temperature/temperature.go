// Package temperature implements the temperature API (apiId 1). It
// reports the current reading of every temperature backend and keeps a
// bounded history of samples per backend.
package temperature

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/registry"
	"github.com/pearjo/knut-server/internal/ring"
	"github.com/pearjo/knut-server/internal/service"
)

// Message ids.
const (
	StatusRequest   uint16 = 0x0001
	StatusResponse  uint16 = 0x0101
	ListRequest     uint16 = 0x0002
	ListResponse    uint16 = 0x0102
	HistoryRequest  uint16 = 0x0003
	HistoryResponse uint16 = 0x0103
)

// Unit is the unit of every reported temperature.
const Unit = "°C"

const (
	DefaultHistorySize    = 1440
	DefaultSampleInterval = time.Minute
)

// Options tune the history kept by the API.
type Options struct {
	// HistorySize is the number of samples kept per backend.
	HistorySize int
	// SampleInterval is the period of the sampler. Zero disables it.
	SampleInterval time.Duration
}

// Sample is one history entry.
type Sample struct {
	Time  time.Time
	Value float64
}

// Observer is told about every reading the API records.
type Observer interface {
	ObserveTemperature(service.TemperatureReading)
}

// API is the temperature dispatcher.
type API struct {
	backends  *registry.Registry[service.TemperatureService]
	publisher push.Publisher
	logger    *zap.SugaredLogger
	observer  Observer
	opts      Options
	changes   *service.Changes
	table     api.Table
	now       func() time.Time

	mu      sync.Mutex
	history map[string]*ring.Ring[Sample]
}

// New returns a temperature API without backends.
func New(publisher push.Publisher, logger *zap.SugaredLogger, opts Options) *API {
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	a := &API{
		backends:  registry.New[service.TemperatureService](),
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		changes:   service.NewChanges(),
		now:       time.Now,
		history:   make(map[string]*ring.Ring[Sample]),
	}
	a.table = api.Table{
		StatusRequest:  a.handleStatusRequest,
		ListRequest:    a.handleListRequest,
		HistoryRequest: a.handleHistoryRequest,
	}
	return a
}

// SetObserver installs o. Must be called before Run.
func (a *API) SetObserver(o Observer) {
	a.observer = o
}

// ID implements api.API.
func (a *API) ID() uint16 { return api.TemperatureID }

// Name implements api.API.
func (a *API) Name() string { return "temperature" }

// Handle implements api.API.
func (a *API) Handle(ctx context.Context, msgID uint16, payload json.RawMessage) (uint16, any, error) {
	return a.table.Dispatch(ctx, a.Name(), msgID, payload)
}

// AddBackend registers t with an empty history.
func (a *API) AddBackend(t service.TemperatureService) error {
	if err := a.backends.Register(t); err != nil {
		return err
	}
	a.mu.Lock()
	a.history[t.ID()] = ring.New[Sample](a.opts.HistorySize)
	a.mu.Unlock()

	if o, ok := t.(service.Observable); ok {
		o.SetNotifier(service.NewNotifier(a.changes))
	}
	a.logger.Infof("Added temperature backend %q at %q", t.ID(), t.Location())
	return nil
}

// RemoveBackend unregisters the backend with id and drops its history.
func (a *API) RemoveBackend(id string) error {
	t, err := a.backends.Unregister(id)
	if err != nil {
		return err
	}
	if o, ok := t.(service.Observable); ok {
		o.SetNotifier(service.Notifier{})
	}
	a.mu.Lock()
	delete(a.history, id)
	a.mu.Unlock()
	return nil
}

// Record appends the current reading of id to its history.
func (a *API) Record(id string) (service.TemperatureReading, error) {
	const op = "temperature.Record"
	t, err := a.backends.Get(id)
	if err != nil {
		return service.TemperatureReading{}, err
	}
	reading, err := t.Reading()
	if err != nil {
		return reading, kerr.Wrap(kerr.KindBackend, op, err)
	}

	a.mu.Lock()
	h, ok := a.history[id]
	a.mu.Unlock()
	if ok {
		h.Push(Sample{Time: a.now(), Value: reading.Temperature})
	}
	if a.observer != nil {
		a.observer.ObserveTemperature(reading)
	}
	return reading, nil
}

// History returns the samples of id, oldest first.
func (a *API) History(id string) ([]Sample, error) {
	a.mu.Lock()
	h, ok := a.history[id]
	a.mu.Unlock()
	if !ok {
		return nil, kerr.NotFound("temperature.History", id)
	}
	return h.Snapshot(), nil
}

// Run records and pushes announced changes and samples every backend
// periodically until ctx is cancelled.
func (a *API) Run(ctx context.Context) error {
	a.sampleAll()

	var tick <-chan time.Time
	if a.opts.SampleInterval > 0 {
		ticker := time.NewTicker(a.opts.SampleInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			a.sampleAll()
		case <-a.changes.Ready():
			for _, id := range a.changes.Drain() {
				a.notify(id)
			}
		}
	}
}

func (a *API) sampleAll() {
	for _, t := range a.backends.List() {
		if _, err := a.Record(t.ID()); err != nil {
			a.logger.Warnf("Sampling temperature %q failed: %v", t.ID(), err)
		}
	}
}

func (a *API) notify(id string) {
	reading, err := a.Record(id)
	if err != nil {
		a.logger.Warnf("Reading changed temperature %q failed: %v", id, err)
		return
	}
	if err := a.publisher.Push(a.ID(), StatusResponse, toStatus(reading)); err != nil {
		a.logger.Errorf("Push temperature %q: %v", id, err)
	}
}

// Status is the wire form of a reading.
type Status struct {
	ID       string `json:"id"`
	Location string `json:"location"`
	Unit     string `json:"unit"`
	// Condition is a Weather Icons code point.
	Condition   string  `json:"condition"`
	Temperature float64 `json:"temperature"`
}

func toStatus(r service.TemperatureReading) Status {
	return Status{
		ID:          r.ID,
		Location:    r.Location,
		Unit:        Unit,
		Condition:   Icon(r.Condition),
		Temperature: r.Temperature,
	}
}

type idRequest struct {
	ID string `json:"id"`
}

type list struct {
	Backends []Status `json:"backends"`
}

type history struct {
	ID          string    `json:"id"`
	Temperature []float64 `json:"temperature"`
	Time        []int64   `json:"time"`
}

func (a *API) backend(op string, payload json.RawMessage) (service.TemperatureService, error) {
	var req idRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return nil, err
	}
	if req.ID == "" {
		return nil, kerr.Validation(op, "id", "missing backend id")
	}
	t, err := a.backends.Get(req.ID)
	if err != nil {
		return nil, kerr.BackendNotFound(op, err)
	}
	return t, nil
}

func (a *API) handleStatusRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "temperature.status"
	t, err := a.backend(op, payload)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	reading, err := t.Reading()
	if err != nil {
		return envelope.MsgNull, nil, kerr.Wrap(kerr.KindBackend, op, err)
	}
	return StatusResponse, toStatus(reading), nil
}

func (a *API) handleListRequest(context.Context, json.RawMessage) (uint16, any, error) {
	backends := a.backends.List()
	resp := list{Backends: make([]Status, 0, len(backends))}
	for _, t := range backends {
		reading, err := t.Reading()
		if err != nil {
			a.logger.Warnf("Reading temperature %q failed: %v", t.ID(), err)
			reading = service.TemperatureReading{ID: t.ID(), Location: t.Location()}
		}
		resp.Backends = append(resp.Backends, toStatus(reading))
	}
	return ListResponse, resp, nil
}

func (a *API) handleHistoryRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "temperature.history"
	t, err := a.backend(op, payload)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	samples, err := a.History(t.ID())
	if err != nil {
		return envelope.MsgNull, nil, kerr.BackendNotFound(op, err)
	}
	resp := history{
		ID:          t.ID(),
		Temperature: make([]float64, 0, len(samples)),
		Time:        make([]int64, 0, len(samples)),
	}
	for _, s := range samples {
		resp.Temperature = append(resp.Temperature, s.Value)
		resp.Time = append(resp.Time, s.Time.Unix())
	}
	return HistoryResponse, resp, nil
}
