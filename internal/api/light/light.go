// Package light implements the light API (apiId 2).
//
// Besides the status of single lights the API offers two derived views:
// the aggregate of all lights and the aggregate per room. An aggregate is
// StateOn if every member light is on, StateOff if every member is off
// and StateMixed otherwise. Setting an aggregate switches every member
// light best-effort: a failing light is reported but does not stop the
// others.
//
// Supported messages:
//
//	LightStatusRequest  0x0001 {"id"}                 -> LightStatusResponse
//	LightStatusResponse 0x0101 {"id", partial state}  -> LightStatusResponse (set)
//	LightsRequest       0x0002 {}                     -> LightsResponse {"lights": [...]}
//	AllLightsRequest    0x0003 {}                     -> AllLightsResponse {"state"}
//	AllLightsResponse   0x0103 {"state": 1|-1}        -> AllLightsResponse (set)
//	RoomsListRequest    0x0004 {}                     -> RoomsListResponse {"rooms": [...]}
//	RoomRequest         0x0005 {"room"}               -> RoomResponse {"room", "state"}
//	RoomResponse        0x0105 {"room", "state": 1|-1} -> RoomResponse (set)
package light

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/registry"
	"github.com/pearjo/knut-server/internal/service"
)

// Message ids.
const (
	LightStatusRequest  uint16 = 0x0001
	LightStatusResponse uint16 = 0x0101
	LightsRequest       uint16 = 0x0002
	LightsResponse      uint16 = 0x0102
	AllLightsRequest    uint16 = 0x0003
	AllLightsResponse   uint16 = 0x0103
	RoomsListRequest    uint16 = 0x0004
	RoomsListResponse   uint16 = 0x0104
	RoomRequest         uint16 = 0x0005
	RoomResponse        uint16 = 0x0105
)

// State is the tri-state of an aggregate.
type State int

const (
	StateOff   State = -1
	StateMixed State = 0
	StateOn    State = 1
)

// Observer is told about every light state the API pushes.
type Observer interface {
	ObserveLight(service.LightState)
}

// API is the light dispatcher.
type API struct {
	lights    *registry.Registry[service.LightService]
	publisher push.Publisher
	logger    *zap.SugaredLogger
	observer  Observer
	changes   *service.Changes
	table     api.Table

	// switchMu serializes aggregate switching so that concurrent sweeps
	// apply one after another to every light.
	switchMu sync.Mutex

	aggMu     sync.Mutex
	lastAll   State
	lastRooms map[string]State
}

// New returns a light API without backends.
func New(publisher push.Publisher, logger *zap.SugaredLogger) *API {
	a := &API{
		lights:    registry.New[service.LightService](),
		publisher: publisher,
		logger:    logger,
		changes:   service.NewChanges(),
		lastRooms: make(map[string]State),
	}
	a.table = api.Table{
		LightStatusRequest:  a.handleStatusRequest,
		LightStatusResponse: a.handleStatusSet,
		LightsRequest:       a.handleLightsRequest,
		AllLightsRequest:    a.handleAllLightsRequest,
		AllLightsResponse:   a.handleAllLightsSet,
		RoomsListRequest:    a.handleRoomsListRequest,
		RoomRequest:         a.handleRoomRequest,
		RoomResponse:        a.handleRoomSet,
	}
	return a
}

// SetObserver installs o. Must be called before Run.
func (a *API) SetObserver(o Observer) {
	a.observer = o
}

// ID implements api.API.
func (a *API) ID() uint16 { return api.LightID }

// Name implements api.API.
func (a *API) Name() string { return "light" }

// Handle implements api.API.
func (a *API) Handle(ctx context.Context, msgID uint16, payload json.RawMessage) (uint16, any, error) {
	return a.table.Dispatch(ctx, a.Name(), msgID, payload)
}

// AddBackend registers l and connects its change announcements.
func (a *API) AddBackend(l service.LightService) error {
	if err := a.lights.Register(l); err != nil {
		return err
	}
	if o, ok := l.(service.Observable); ok {
		o.SetNotifier(service.NewNotifier(a.changes))
	}
	a.logger.Infof("Added light %q in room %q", l.ID(), l.Room())
	a.refreshAggregates(false)
	return nil
}

// RemoveBackend unregisters the light with id.
func (a *API) RemoveBackend(id string) error {
	l, err := a.lights.Unregister(id)
	if err != nil {
		return err
	}
	if o, ok := l.(service.Observable); ok {
		o.SetNotifier(service.Notifier{})
	}
	a.refreshAggregates(true)
	return nil
}

// Lights returns the state of every light in registration order.
func (a *API) Lights() []service.LightState {
	lights := a.lights.List()
	out := make([]service.LightState, 0, len(lights))
	for _, l := range lights {
		out = append(out, l.Status())
	}
	return out
}

// Run forwards change announcements of the lights as pushes until ctx is
// cancelled.
func (a *API) Run(ctx context.Context) error {
	for _, st := range a.Lights() {
		a.observe(st)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.changes.Ready():
			a.notify(a.changes.Drain())
		}
	}
}

func (a *API) observe(st service.LightState) {
	if a.observer != nil {
		a.observer.ObserveLight(st)
	}
}

// notify pushes the status of every light in ids followed by any
// aggregate that changed.
func (a *API) notify(ids []string) {
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		l, err := a.lights.Get(id)
		if err != nil {
			a.logger.Debugf("Change of unknown light %q ignored", id)
			continue
		}
		st := l.Status()
		a.observe(st)
		if err := a.publisher.Push(a.ID(), LightStatusResponse, toStatus(st)); err != nil {
			a.logger.Errorf("Push status of light %q: %v", id, err)
		}
	}
	a.refreshAggregates(true)
}

// refreshAggregates recomputes the room and all-lights aggregates and, if
// announce is set, pushes those that changed since the last refresh.
func (a *API) refreshAggregates(announce bool) {
	states := a.Lights()
	all := aggregate(states)
	rooms := roomStates(states)

	a.aggMu.Lock()
	allChanged := all != a.lastAll
	a.lastAll = all
	var changedRooms []roomState
	for _, r := range rooms {
		if prev, ok := a.lastRooms[r.Room]; !ok || prev != r.State {
			changedRooms = append(changedRooms, r)
		}
	}
	a.lastRooms = make(map[string]State, len(rooms))
	for _, r := range rooms {
		a.lastRooms[r.Room] = r.State
	}
	a.aggMu.Unlock()

	if !announce {
		return
	}
	for _, r := range changedRooms {
		if err := a.publisher.Push(a.ID(), RoomResponse, r); err != nil {
			a.logger.Errorf("Push state of room %q: %v", r.Room, err)
		}
	}
	if allChanged {
		if err := a.publisher.Push(a.ID(), AllLightsResponse, allLightsState{State: all}); err != nil {
			a.logger.Errorf("Push all lights state: %v", err)
		}
	}
}

// Status is the wire form of a light. Values of unsupported features are
// null.
type Status struct {
	ID             string  `json:"id"`
	Location       string  `json:"location"`
	Room           string  `json:"room"`
	State          bool    `json:"state"`
	HasTemperature bool    `json:"hasTemperature"`
	HasDimlevel    bool    `json:"hasDimlevel"`
	HasColor       bool    `json:"hasColor"`
	Temperature    *int    `json:"temperature"`
	ColorCold      *string `json:"colorCold"`
	ColorWarm      *string `json:"colorWarm"`
	Dimlevel       *int    `json:"dimlevel"`
	Color          *string `json:"color"`
}

func toStatus(st service.LightState) Status {
	s := Status{
		ID:             st.ID,
		Location:       st.Location,
		Room:           st.Room,
		State:          st.On,
		HasTemperature: st.HasTemperature,
		HasDimlevel:    st.HasDimlevel,
		HasColor:       st.HasColor,
	}
	if st.HasTemperature {
		temperature, cold, warm := st.Temperature, st.ColorCold, st.ColorWarm
		s.Temperature, s.ColorCold, s.ColorWarm = &temperature, &cold, &warm
	}
	if st.HasDimlevel {
		dimlevel := st.Dimlevel
		s.Dimlevel = &dimlevel
	}
	if st.HasColor {
		color := st.Color
		s.Color = &color
	}
	return s
}

type statusRequest struct {
	ID string `json:"id"`
}

type statusUpdate struct {
	ID          string  `json:"id"`
	State       *bool   `json:"state"`
	Dimlevel    *int    `json:"dimlevel"`
	Temperature *int    `json:"temperature"`
	Color       *string `json:"color"`
}

type allLightsState struct {
	State State `json:"state"`
	// Failed lists lights a sweep could not switch.
	Failed []failure `json:"failed,omitempty"`
}

type failure struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

type roomState struct {
	Room   string    `json:"room"`
	State  State     `json:"state"`
	Failed []failure `json:"failed,omitempty"`
}

type roomsList struct {
	Rooms []roomState `json:"rooms"`
}

type lightsList struct {
	Lights []Status `json:"lights"`
}

func (a *API) light(op, id string) (service.LightService, error) {
	if id == "" {
		return nil, kerr.Validation(op, "id", "missing light id")
	}
	l, err := a.lights.Get(id)
	if err != nil {
		return nil, kerr.BackendNotFound(op, err)
	}
	return l, nil
}

func (a *API) handleStatusRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "light.status"
	var req statusRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}
	l, err := a.light(op, req.ID)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	return LightStatusResponse, toStatus(l.Status()), nil
}

func (a *API) handleStatusSet(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "light.set"
	var req statusUpdate
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}
	l, err := a.light(op, req.ID)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	update, err := validateUpdate(op, l.Status(), req)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	if err := l.Apply(update); err != nil {
		return envelope.MsgNull, nil, classifyBackend(op, err)
	}
	return LightStatusResponse, toStatus(l.Status()), nil
}

// validateUpdate rejects fields the light does not support and clamps
// percentages into [0, 100].
func validateUpdate(op string, st service.LightState, req statusUpdate) (service.LightUpdate, error) {
	u := service.LightUpdate{On: req.State, Color: req.Color}
	if req.Dimlevel != nil {
		if !st.HasDimlevel {
			return u, kerr.Validation(op, "dimlevel", "light %q has no dim level", st.ID)
		}
		v := Clamp(*req.Dimlevel)
		u.Dimlevel = &v
	}
	if req.Temperature != nil {
		if !st.HasTemperature {
			return u, kerr.Validation(op, "temperature", "light %q has no color temperature", st.ID)
		}
		v := Clamp(*req.Temperature)
		u.Temperature = &v
	}
	if req.Color != nil && !st.HasColor {
		return u, kerr.Validation(op, "color", "light %q has no color", st.ID)
	}
	return u, nil
}

// Clamp limits a percentage to [0, 100].
func Clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func classifyBackend(op string, err error) error {
	if kerr.KindOf(err) != kerr.KindInternal {
		return err
	}
	return kerr.Wrap(kerr.KindBackend, op, err)
}

func (a *API) handleLightsRequest(context.Context, json.RawMessage) (uint16, any, error) {
	states := a.Lights()
	list := lightsList{Lights: make([]Status, 0, len(states))}
	for _, st := range states {
		list.Lights = append(list.Lights, toStatus(st))
	}
	return LightsResponse, list, nil
}

func (a *API) handleAllLightsRequest(context.Context, json.RawMessage) (uint16, any, error) {
	return AllLightsResponse, allLightsState{State: aggregate(a.Lights())}, nil
}

type switchRequest struct {
	Room  string `json:"room"`
	State *int   `json:"state"`
}

// parseSwitch validates a requested aggregate state. Only StateOn and
// StateOff can be applied.
func parseSwitch(op string, state *int) (bool, error) {
	if state == nil {
		return false, kerr.Validation(op, "state", "missing state")
	}
	switch State(*state) {
	case StateOn:
		return true, nil
	case StateOff:
		return false, nil
	case StateMixed:
		return false, kerr.Validation(op, "state", "mixed state cannot be applied")
	}
	return false, kerr.Validation(op, "state", "state %d is not one of -1, 0, 1", *state)
}

func (a *API) handleAllLightsSet(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "light.all"
	var req switchRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}
	on, err := parseSwitch(op, req.State)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	failed := a.sweep(a.lights.List(), on)
	return AllLightsResponse, allLightsState{State: aggregate(a.Lights()), Failed: failed}, nil
}

// sweep switches every light in lights. Failures are collected.
func (a *API) sweep(lights []service.LightService, on bool) []failure {
	a.switchMu.Lock()
	defer a.switchMu.Unlock()

	var failed []failure
	for _, l := range lights {
		state := on
		if err := l.Apply(service.LightUpdate{On: &state}); err != nil {
			a.logger.Warnf("Switching light %q failed: %v", l.ID(), err)
			failed = append(failed, failure{ID: l.ID(), Error: err.Error()})
		}
	}
	return failed
}

func (a *API) handleRoomsListRequest(context.Context, json.RawMessage) (uint16, any, error) {
	return RoomsListResponse, roomsList{Rooms: roomStates(a.Lights())}, nil
}

func (a *API) roomMembers(op, room string) ([]service.LightService, error) {
	if room == "" {
		return nil, kerr.Validation(op, "room", "missing room")
	}
	var members []service.LightService
	for _, l := range a.lights.List() {
		if l.Room() == room {
			members = append(members, l)
		}
	}
	if len(members) == 0 {
		return nil, &kerr.Error{Kind: kerr.KindBackendNotFound, Op: op, Field: "room", Message: "no lights in room " + room}
	}
	return members, nil
}

func (a *API) handleRoomRequest(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "light.room"
	var req switchRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}
	members, err := a.roomMembers(op, req.Room)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	return RoomResponse, roomState{Room: req.Room, State: aggregate(statesOf(members))}, nil
}

func (a *API) handleRoomSet(_ context.Context, payload json.RawMessage) (uint16, any, error) {
	const op = "light.room"
	var req switchRequest
	if err := api.Decode(op, payload, &req); err != nil {
		return envelope.MsgNull, nil, err
	}
	on, err := parseSwitch(op, req.State)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	members, err := a.roomMembers(op, req.Room)
	if err != nil {
		return envelope.MsgNull, nil, err
	}
	failed := a.sweep(members, on)
	return RoomResponse, roomState{Room: req.Room, State: aggregate(statesOf(members)), Failed: failed}, nil
}

func statesOf(lights []service.LightService) []service.LightState {
	out := make([]service.LightState, 0, len(lights))
	for _, l := range lights {
		out = append(out, l.Status())
	}
	return out
}

// aggregate computes the tri-state of states. An empty set is off.
func aggregate(states []service.LightState) State {
	on, off := 0, 0
	for _, st := range states {
		if st.On {
			on++
		} else {
			off++
		}
	}
	switch {
	case on > 0 && off == 0:
		return StateOn
	case on > 0:
		return StateMixed
	}
	return StateOff
}

// roomStates groups states by room in order of first appearance. Lights
// without a room belong to no room.
func roomStates(states []service.LightState) []roomState {
	var order []string
	members := make(map[string][]service.LightState)
	for _, st := range states {
		if st.Room == "" {
			continue
		}
		if !slices.Contains(order, st.Room) {
			order = append(order, st.Room)
		}
		members[st.Room] = append(members[st.Room], st)
	}
	out := make([]roomState, 0, len(order))
	for _, room := range order {
		out = append(out, roomState{Room: room, State: aggregate(members[room])})
	}
	return out
}
