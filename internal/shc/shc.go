// Package shc talks to a Bosch Smart Home Controller over its local REST
// and JSON-RPC long polling API.
package shc

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const (
	// Port is the port of the controller's local API.
	Port = 8444

	DefaultPollTimeout = 30 * time.Second
	defaultRetryDelay  = 5 * time.Second
)

// Service ids of device services.
const (
	PowerSwitch      = "PowerSwitch"
	TemperatureLevel = "TemperatureLevel"
)

type Room struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Device struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Services    []string `json:"deviceServiceIds"`
	Room        string   `json:"roomId"`
	DeviceModel string   `json:"deviceModel"`
}

// DeviceEvent is a state change of one device service. ID is the service
// id, e.g. PowerSwitch.
type DeviceEvent struct {
	Type     string         `json:"@type"`
	ID       string         `json:"id"`
	State    map[string]any `json:"state"`
	DeviceID string         `json:"deviceId"`
}

type PowerSwitchState struct {
	Type        string `json:"@type"`
	SwitchState string `json:"switchState"`
}

func (s PowerSwitchState) On() bool { return s.SwitchState == "ON" }

// NewPowerSwitchState returns the state that switches a device on or off.
func NewPowerSwitchState(on bool) PowerSwitchState {
	s := PowerSwitchState{Type: "powerSwitchState", SwitchState: "OFF"}
	if on {
		s.SwitchState = "ON"
	}
	return s
}

type TemperatureLevelState struct {
	Type        string  `json:"@type"`
	Temperature float64 `json:"temperature"`
}

type rpcRequest struct {
	Jsonrpc string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResult struct {
	Jsonrpc string   `json:"jsonrpc"`
	Result  string   `json:"result"`
	Error   rpcError `json:"error,omitempty"`
}

type pollResult struct {
	Jsonrpc string        `json:"jsonrpc"`
	Result  []DeviceEvent `json:"result"`
	Error   rpcError      `json:"error,omitempty"`
}

// BaseURL returns the API address of the controller at host.
func BaseURL(host string) string {
	return "https://" + net.JoinHostPort(host, strconv.Itoa(Port))
}

// NewTLSClient returns an HTTP client authenticating with the client
// certificate crt and key. The controller uses a self-signed certificate
// which is not verified.
func NewTLSClient(crt, key []byte, pollTimeout time.Duration) (*http.Client, error) {
	cert, err := tls.X509KeyPair(crt, key)
	if err != nil {
		return nil, fmt.Errorf("load client certificate: %w", err)
	}
	return &http.Client{
		Timeout: pollTimeout + 5*time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				Certificates:       []tls.Certificate{cert},
				InsecureSkipVerify: true,
			},
			TLSHandshakeTimeout: 10 * time.Second,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
		},
	}, nil
}

type Client struct {
	apiURL  string
	pollURL string
	client  *http.Client
	logger  *zap.SugaredLogger

	pollTimeout time.Duration
	retryDelay  time.Duration

	mu        sync.Mutex
	pollingID string
}

// New returns a client for the controller at baseURL, see BaseURL.
func New(baseURL string, client *http.Client, logger *zap.SugaredLogger) *Client {
	return &Client{
		apiURL:      baseURL + "/smarthome",
		pollURL:     baseURL + "/remote/json-rpc",
		client:      client,
		logger:      logger,
		pollTimeout: DefaultPollTimeout,
		retryDelay:  defaultRetryDelay,
	}
}

// SetPollTimeout sets how long the controller holds a long poll open.
func (c *Client) SetPollTimeout(timeout time.Duration) {
	c.pollTimeout = timeout
}

// SetRetryDelay sets the pause after a failed poll.
func (c *Client) SetRetryDelay(d time.Duration) {
	c.retryDelay = d
}

func (c *Client) do(req *http.Request, out any) error {
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("read response of %s %s: %w", req.Method, req.URL.Path, err)
	}
	if res.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("%s %s: %s: %s", req.Method, req.URL.Path, res.Status, bytes.TrimSpace(body))
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response of %s %s: %w", req.Method, req.URL.Path, err)
	}
	return nil
}

func (c *Client) resource(ctx context.Context, method string, body any, out any, path ...string) error {
	u, err := url.JoinPath(c.apiURL, path...)
	if err != nil {
		return err
	}
	var r io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.do(req, out)
}

func (c *Client) Rooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.resource(ctx, http.MethodGet, nil, &rooms, "rooms"); err != nil {
		return nil, err
	}
	c.logger.Debugf("Got %d rooms", len(rooms))
	return rooms, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var devices []Device
	if err := c.resource(ctx, http.MethodGet, nil, &devices, "devices"); err != nil {
		return nil, err
	}
	c.logger.Debugf("Got %d devices", len(devices))
	return devices, nil
}

// State reads the state of a device service into out.
func (c *Client) State(ctx context.Context, deviceID, serviceID string, out any) error {
	return c.resource(ctx, http.MethodGet, nil, out, "devices", deviceID, "services", serviceID, "state")
}

// SetState writes the state of a device service.
func (c *Client) SetState(ctx context.Context, deviceID, serviceID string, state any) error {
	return c.resource(ctx, http.MethodPut, state, nil, "devices", deviceID, "services", serviceID, "state")
}

func (c *Client) rpc(ctx context.Context, method string, params []any, out any) error {
	payload, err := json.Marshal(rpcRequest{Jsonrpc: "2.0", Method: method, Params: params})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.pollURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// PollingID is the id of the current subscription, empty if there is none.
func (c *Client) PollingID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pollingID
}

func (c *Client) setPollingID(id string) {
	c.mu.Lock()
	c.pollingID = id
	c.mu.Unlock()
}

// Subscribe opens a subscription for long polling.
func (c *Client) Subscribe(ctx context.Context) error {
	var res rpcResult
	if err := c.rpc(ctx, "RE/subscribe", []any{"com/bosch/sh/remote/*", nil}, &res); err != nil {
		return err
	}
	if res.Error.Code != 0 {
		return fmt.Errorf("subscribe: %s (%d)", res.Error.Message, res.Error.Code)
	}
	c.setPollingID(res.Result)
	c.logger.Infof("Subscription polling id %s", res.Result)
	return nil
}

// Unsubscribe closes the current subscription.
func (c *Client) Unsubscribe(ctx context.Context) error {
	id := c.PollingID()
	if id == "" {
		return nil
	}
	c.setPollingID("")
	var res rpcResult
	if err := c.rpc(ctx, "RE/unsubscribe", []any{id}, &res); err != nil {
		return err
	}
	if res.Error.Code != 0 {
		return fmt.Errorf("unsubscribe: %s (%d)", res.Error.Message, res.Error.Code)
	}
	return nil
}

// Poll long polls the controller and calls f for every event until ctx is
// cancelled. It subscribes if needed and resubscribes when the controller
// rejects the subscription.
func (c *Client) Poll(ctx context.Context, f func(DeviceEvent)) {
	c.logger.Info("Starting long polling")
	for ctx.Err() == nil {
		if c.PollingID() == "" {
			if err := c.Subscribe(ctx); err != nil {
				c.logger.Errorf("Subscribing failed: %v", err)
				c.wait(ctx)
				continue
			}
		}

		var res pollResult
		err := c.rpc(ctx, "RE/longPoll", []any{c.PollingID(), int(c.pollTimeout / time.Second)}, &res)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			c.logger.Errorf("Polling failed: %v", err)
			c.wait(ctx)
			continue
		}
		if res.Error.Code != 0 {
			c.logger.Errorf("Polling failed: %s (%d). Will resubscribe", res.Error.Message, res.Error.Code)
			c.setPollingID("")
			c.wait(ctx)
			continue
		}
		// An empty result means the poll timed out without events.
		for _, ev := range res.Result {
			f(ev)
		}
	}
	c.logger.Info("Stopped long polling")
}

func (c *Client) wait(ctx context.Context) {
	t := time.NewTimer(c.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// RoomNames maps device ids to the name of their room. Devices without a
// known room are left out.
func RoomNames(rooms []Room, devices []Device) map[string]string {
	mapping := make(map[string]string)
	for _, d := range devices {
		idx := slices.IndexFunc(rooms, func(r Room) bool { return r.ID == d.Room })
		if idx != -1 {
			mapping[d.ID] = rooms[idx].Name
		}
	}
	return mapping
}
