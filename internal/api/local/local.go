// Package local implements the local API (apiId 4) serving the position
// of a location and the course of the sun over it.
package local

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
	"github.com/pearjo/knut-server/internal/service"
)

// Message ids.
const (
	LocalRequest  uint16 = 0x0001
	LocalResponse uint16 = 0x0101
)

// DefaultCheckInterval is the period of the daylight check.
const DefaultCheckInterval = time.Minute

// API is the local dispatcher.
type API struct {
	locals    *registry.Registry[service.LocalService]
	publisher push.Publisher
	logger    *zap.SugaredLogger
	interval  time.Duration
	table     api.Table
	now       func() time.Time

	mu       sync.Mutex
	daylight map[string]bool
}

// New returns a local API checking for daylight changes every interval.
func New(publisher push.Publisher, logger *zap.SugaredLogger, interval time.Duration) *API {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	a := &API{
		locals:    registry.New[service.LocalService](),
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		now:       time.Now,
		daylight:  make(map[string]bool),
	}
	a.table = api.Table{
		LocalRequest:  a.handleLocalRequest,
		LocalResponse: a.handleLocalSet,
	}
	return a
}

// ID implements api.API.
func (a *API) ID() uint16 { return api.LocalID }

// Name implements api.API.
func (a *API) Name() string { return "local" }

// Handle implements api.API.
func (a *API) Handle(ctx context.Context, msgID uint16, payload json.RawMessage) (uint16, any, error) {
	return a.table.Dispatch(ctx, a.Name(), msgID, payload)
}

// AddBackend registers l. The first registered location answers requests
// without an id.
func (a *API) AddBackend(l service.LocalService) error {
	if err := a.locals.Register(l); err != nil {
		return err
	}
	a.logger.Infof("Added location %q", l.ID())
	return nil
}

// Run checks every location for a change between day and night and
// pushes the new information until ctx is cancelled.
func (a *API) Run(ctx context.Context) error {
	a.check()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.check()
		}
	}
}

func (a *API) check() {
	now := a.now()
	for _, l := range a.locals.List() {
		info, err := l.Local(now)
		if err != nil {
			a.logger.Warnf("Computing local information of %q failed: %v", l.ID(), err)
			continue
		}

		a.mu.Lock()
		prev, seen := a.daylight[info.ID]
		a.daylight[info.ID] = info.IsDaylight
		a.mu.Unlock()

		if !seen || prev == info.IsDaylight {
			continue
		}
		a.logger.Debugf("Daylight of %q changed to %t", info.ID, info.IsDaylight)
		if err := a.publisher.Push(a.ID(), LocalResponse, toResponse(info)); err != nil {
			a.logger.Errorf("Push local information of %q: %v", info.ID, err)
		}
	}
}

// Response is the wire form of service.LocalInfo.
type Response struct {
	ID         string  `json:"id"`
	Location   string  `json:"location"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Elevation  float64 `json:"elevation"`
	IsDaylight bool    `json:"isDaylight"`
	Sunrise    int64   `json:"sunrise"`
	Sunset     int64   `json:"sunset"`
}

func toResponse(info service.LocalInfo) Response {
	return Response{
		ID:         info.ID,
		Location:   info.Location,
		Latitude:   info.Latitude,
		Longitude:  info.Longitude,
		Elevation:  info.Elevation,
		IsDaylight: info.IsDaylight,
		Sunrise:    info.Sunrise,
		Sunset:     info.Sunset,
	}
}

type request struct {
	ID string `json:"id"`
}

func (a *API) handleLocalRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "local.get"
	var req request
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}

	var l service.LocalService
	if req.ID == "" {
		locals := a.locals.List()
		if len(locals) == 0 {
			return envelope.MsgNull, nil, kerr.New(kerr.KindBackendNotFound, op, "no location configured")
		}
		l = locals[0]
	} else {
		var err error
		if l, err = a.locals.Get(req.ID); err != nil {
			return envelope.MsgNull, nil, kerr.BackendNotFound(op, err)
		}
	}

	info, err := l.Local(a.now())
	if err != nil {
		return envelope.MsgNull, nil, kerr.Wrap(kerr.KindBackend, op, err)
	}
	return LocalResponse, toResponse(info), nil
}

func (a *API) handleLocalSet(context.Context, json.RawMessage) (uint16, any, error) {
	return envelope.MsgNull, nil, kerr.Validation("local.set", "", "local information is read-only")
}
