// Package shctest provides an in-process Smart Home Controller for tests.
package shctest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pearjo/knut-server/internal/shc"
)

// PollWait is how long a long poll is held open without events.
const PollWait = 50 * time.Millisecond

// Put is a recorded state change request.
type Put struct {
	Device  string
	Service string
	State   map[string]any
}

// Controller serves the controller API from memory. A state written with
// PUT is emitted as an event like the real controller does.
type Controller struct {
	*httptest.Server

	events chan shc.DeviceEvent

	mu            sync.Mutex
	rooms         []shc.Room
	devices       []shc.Device
	states        map[string]map[string]any
	puts          []Put
	subscriptions int
	unsubscribed  int
	failPolls     int
}

// NewController starts a controller. Close it when done.
func NewController() *Controller {
	c := &Controller{
		events: make(chan shc.DeviceEvent, 64),
		states: make(map[string]map[string]any),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/remote/json-rpc", c.handleRPC)
	mux.HandleFunc("/smarthome/rooms", func(w http.ResponseWriter, _ *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		writeJSON(w, c.rooms)
	})
	mux.HandleFunc("/smarthome/devices", func(w http.ResponseWriter, _ *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		writeJSON(w, c.devices)
	})
	mux.HandleFunc("/smarthome/devices/", c.handleState)
	c.Server = httptest.NewTLSServer(mux)
	return c
}

// Client returns a client of c.
func (c *Controller) Client(logger *zap.SugaredLogger) *shc.Client {
	return shc.New(c.URL, c.Server.Client(), logger)
}

func (c *Controller) SetRooms(rooms []shc.Room, devices []shc.Device) {
	c.mu.Lock()
	c.rooms, c.devices = rooms, devices
	c.mu.Unlock()
}

// SetState sets the state of a device service without emitting an event.
func (c *Controller) SetState(device, service string, state map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states[device] == nil {
		c.states[device] = make(map[string]any)
	}
	c.states[device][service] = state
}

// Emit queues ev for the next long poll.
func (c *Controller) Emit(ev shc.DeviceEvent) {
	c.events <- ev
}

// FailPolls makes the next n long polls fail with a JSON-RPC error.
func (c *Controller) FailPolls(n int) {
	c.mu.Lock()
	c.failPolls = n
	c.mu.Unlock()
}

func (c *Controller) Puts() []Put {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Put(nil), c.puts...)
}

func (c *Controller) Subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscriptions
}

func (c *Controller) Unsubscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unsubscribed
}

func (c *Controller) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Method string `json:"method"`
		Params []any  `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch req.Method {
	case "RE/subscribe":
		c.mu.Lock()
		c.subscriptions++
		id := fmt.Sprintf("poll-%d", c.subscriptions)
		c.mu.Unlock()
		writeJSON(w, map[string]any{"jsonrpc": "2.0", "result": id})
	case "RE/unsubscribe":
		c.mu.Lock()
		c.unsubscribed++
		c.mu.Unlock()
		writeJSON(w, map[string]any{"jsonrpc": "2.0", "result": ""})
	case "RE/longPoll":
		c.mu.Lock()
		fail := c.failPolls > 0
		if fail {
			c.failPolls--
		}
		c.mu.Unlock()
		if fail {
			writeJSON(w, map[string]any{"jsonrpc": "2.0", "error": map[string]any{"code": -32001, "message": "no subscription"}})
			return
		}
		c.longPoll(w, r)
	default:
		http.Error(w, "unknown method "+req.Method, http.StatusBadRequest)
	}
}

func (c *Controller) longPoll(w http.ResponseWriter, r *http.Request) {
	events := []shc.DeviceEvent{}
	select {
	case ev := <-c.events:
		events = append(events, ev)
	case <-time.After(PollWait):
	case <-r.Context().Done():
		return
	}
	for more := true; more; {
		select {
		case ev := <-c.events:
			events = append(events, ev)
		default:
			more = false
		}
	}
	writeJSON(w, map[string]any{"jsonrpc": "2.0", "result": events})
}

// handleState serves /smarthome/devices/{device}/services/{service}/state.
func (c *Controller) handleState(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/smarthome/devices/"), "/")
	if len(parts) != 4 || parts[1] != "services" || parts[3] != "state" {
		http.NotFound(w, r)
		return
	}
	device, service := parts[0], parts[2]

	switch r.Method {
	case http.MethodGet:
		c.mu.Lock()
		state, ok := c.states[device][service]
		c.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, state)
	case http.MethodPut:
		var state map[string]any
		if err := json.NewDecoder(r.Body).Decode(&state); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		c.SetState(device, service, state)
		c.mu.Lock()
		c.puts = append(c.puts, Put{Device: device, Service: service, State: state})
		c.mu.Unlock()
		c.Emit(shc.DeviceEvent{Type: "DeviceServiceData", ID: service, DeviceID: device, State: state})
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
