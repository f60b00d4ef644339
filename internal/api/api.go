// Package api routes decoded envelopes to the domain dispatchers.
//
// Every domain (temperature, light, task, local) is served by one API
// that owns the backend registry of its domain. An API decodes the
// payload of a message, calls the matching service and encodes the
// response. The Router converts every failure into an error envelope so
// that a bad request never takes the connection down with it.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
)

// Well-known API ids.
const (
	TemperatureID uint16 = 0x01
	LightID       uint16 = 0x02
	TaskID        uint16 = 0x03
	LocalID       uint16 = 0x04
)

// API is a domain dispatcher.
type API interface {
	ID() uint16
	Name() string
	// Handle processes the request msgID and returns the response msgID
	// and payload. A response msgID of envelope.MsgNull means that no
	// response is sent.
	Handle(ctx context.Context, msgID uint16, payload json.RawMessage) (uint16, any, error)
}

// Runner is implemented by APIs with background work such as forwarding
// service changes or sampling. Run blocks until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// HandlerFunc handles one message kind.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (uint16, any, error)

// Table maps message ids to handlers.
type Table map[uint16]HandlerFunc

// Dispatch calls the handler registered for msgID.
func (t Table) Dispatch(ctx context.Context, api string, msgID uint16, payload json.RawMessage) (uint16, any, error) {
	h, ok := t[msgID]
	if !ok {
		return envelope.MsgNull, nil, kerr.New(kerr.KindUnknownMessage, api+".Handle", "unsupported msgId 0x%04x", msgID)
	}
	return h(ctx, payload)
}

// Decode unmarshals payload into v. Mistyped fields are validation errors
// naming the field.
func Decode(op string, payload json.RawMessage, v any) error {
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		e := &kerr.Error{Kind: kerr.KindValidation, Op: op, Err: err}
		if typeErr, ok := err.(*json.UnmarshalTypeError); ok {
			e.Field = typeErr.Field
		}
		return e
	}
	return nil
}

// Observer receives the outcome of every routed request.
type Observer interface {
	ObserveRequest(apiID, msgID uint16, err error)
}

// Router maps API ids to APIs.
type Router struct {
	mu       sync.RWMutex
	apis     map[uint16]API
	logger   *zap.SugaredLogger
	observer Observer
}

// NewRouter returns an empty router.
func NewRouter(logger *zap.SugaredLogger) *Router {
	return &Router{
		apis:   make(map[uint16]API),
		logger: logger,
	}
}

// SetObserver installs o. Must be called before serving.
func (r *Router) SetObserver(o Observer) {
	r.observer = o
}

// Register adds a. Only one API per id is allowed.
func (r *Router) Register(a API) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.apis[a.ID()]; ok {
		return kerr.New(kerr.KindDuplicateID, "api.Register", "api id %d is already taken by %s", a.ID(), existing.Name())
	}
	r.apis[a.ID()] = a
	r.logger.Debugf("Registered %s API with id %d", a.Name(), a.ID())
	return nil
}

// Get returns the API registered under id.
func (r *Router) Get(id uint16) (API, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.apis[id]
	if !ok {
		return nil, &kerr.Error{Kind: kerr.KindUnknownAPI, Op: "api.Route", Field: "apiId", Message: fmt.Sprintf("no API with id %d", id)}
	}
	return a, nil
}

// APIs returns all registered APIs ordered by id.
func (r *Router) APIs() []API {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]API, 0, len(r.apis))
	for _, a := range r.apis {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Dispatch routes env and returns the response envelope. ok is false when
// the request expects no response.
func (r *Router) Dispatch(ctx context.Context, env envelope.Envelope) (resp envelope.Envelope, ok bool) {
	msgID, payload, err := r.handle(ctx, env)
	if r.observer != nil {
		r.observer.ObserveRequest(env.APIID, env.MsgID, err)
	}
	if err != nil {
		r.logger.Infof("Request api %d msg 0x%04x failed: %v", env.APIID, env.MsgID, err)
		return ErrorEnvelope(env.APIID, env.MsgID, err), true
	}
	if msgID == envelope.MsgNull {
		return envelope.Envelope{}, false
	}
	resp, err = envelope.New(env.APIID, msgID, payload)
	if err != nil {
		r.logger.Errorf("Encoding response api %d msg 0x%04x: %v", env.APIID, msgID, err)
		return ErrorEnvelope(env.APIID, env.MsgID, err), true
	}
	return resp, true
}

func (r *Router) handle(ctx context.Context, env envelope.Envelope) (msgID uint16, payload any, err error) {
	a, err := r.Get(env.APIID)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Errorf("Panic in %s API handling msg 0x%04x: %v", a.Name(), env.MsgID, p)
			msgID, payload = envelope.MsgNull, nil
			err = kerr.New(kerr.KindInternal, a.Name()+".Handle", "internal error")
		}
	}()
	r.logger.Debugf("Dispatch msg 0x%04x to %s API", env.MsgID, a.Name())
	return a.Handle(ctx, env.MsgID, env.Msg)
}

// ErrorEnvelope builds the error reply to the request (apiID, msgID).
func ErrorEnvelope(apiID, msgID uint16, err error) envelope.Envelope {
	raw, mErr := json.Marshal(kerr.ToPayload(err, msgID))
	if mErr != nil {
		raw = json.RawMessage(`{"kind":"internal","message":"unencodable error"}`)
	}
	return envelope.Envelope{APIID: apiID, MsgID: envelope.MsgError, Msg: raw}
}
