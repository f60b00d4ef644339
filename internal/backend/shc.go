package backend

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
	"github.com/pearjo/knut-server/internal/shc"
)

const shcRequestTimeout = 10 * time.Second

// SHCOptions configures a device of a Bosch Smart Home Controller.
type SHCOptions struct {
	Host        string        `mapstructure:"host"`
	Cert        string        `mapstructure:"cert"`
	Key         string        `mapstructure:"key"`
	Device      string        `mapstructure:"device"`
	PollTimeout time.Duration `mapstructure:"pollTimeout"`
}

func decodeSHCOptions(c Config) (SHCOptions, error) {
	opts := SHCOptions{Cert: "client-cert.pem", Key: "client-key.pem", PollTimeout: shc.DefaultPollTimeout}
	if err := c.DecodeOptions(&opts); err != nil {
		return opts, err
	}
	if opts.Host == "" {
		return opts, kerr.Validation("shc.Options", "host", "backend %q has no controller host", c.ID)
	}
	if opts.Device == "" {
		return opts, kerr.Validation("shc.Options", "device", "backend %q has no device id", c.ID)
	}
	return opts, nil
}

// shcConn is one controller connection shared by all backends of a host.
// It long polls until the last backend releases it.
type shcConn struct {
	key    string
	client *shc.Client
	events *shc.Events
	logger *zap.SugaredLogger
	cancel context.CancelFunc
	done   chan struct{}
	refs   int
}

var shcPool = struct {
	sync.Mutex
	conns map[string]*shcConn
}{conns: make(map[string]*shcConn)}

func acquireSHC(o SHCOptions, logger *zap.SugaredLogger) (*shcConn, error) {
	shcPool.Lock()
	defer shcPool.Unlock()
	if c, ok := shcPool.conns[o.Host]; ok {
		c.refs++
		return c, nil
	}

	crt, err := os.ReadFile(o.Cert)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	key, err := os.ReadFile(o.Key)
	if err != nil {
		return nil, fmt.Errorf("read key: %w", err)
	}
	httpClient, err := shc.NewTLSClient(crt, key, o.PollTimeout)
	if err != nil {
		return nil, err
	}
	client := shc.New(shc.BaseURL(o.Host), httpClient, logger.With("shc", o.Host))
	client.SetPollTimeout(o.PollTimeout)

	c := startSHC(client, logger)
	c.key = o.Host
	shcPool.conns[o.Host] = c
	return c, nil
}

func startSHC(client *shc.Client, logger *zap.SugaredLogger) *shcConn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &shcConn{
		client: client,
		events: shc.NewEvents(),
		logger: logger,
		cancel: cancel,
		done:   make(chan struct{}),
		refs:   1,
	}
	go func() {
		defer close(c.done)
		client.Poll(ctx, c.events.Dispatch)
	}()
	return c
}

// release stops polling and unsubscribes once the last user is gone.
func (c *shcConn) release() error {
	shcPool.Lock()
	c.refs--
	last := c.refs == 0
	if last && c.key != "" {
		delete(shcPool.conns, c.key)
	}
	shcPool.Unlock()
	if !last {
		return nil
	}

	c.logger.Info("Closing controller connection")
	c.cancel()
	<-c.done
	ctx, cancel := context.WithTimeout(context.Background(), shcRequestTimeout)
	defer cancel()
	return c.client.Unsubscribe(ctx)
}

// SHCLight is a power switch of a Bosch Smart Home Controller, e.g. a
// smart plug with a lamp attached.
type SHCLight struct {
	id       string
	location string
	room     string
	device   string
	conn     *shcConn
	stop     func()
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	on       bool
	notifier service.Notifier
}

// NewSHCLight builds an SHCLight from c.
func NewSHCLight(c Config, logger *zap.SugaredLogger) (*SHCLight, error) {
	opts, err := decodeSHCOptions(c)
	if err != nil {
		return nil, err
	}
	conn, err := acquireSHC(opts, logger)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindBackend, "shc.NewLight", err)
	}
	return newSHCLight(c, opts.Device, conn, logger), nil
}

func newSHCLight(c Config, device string, conn *shcConn, logger *zap.SugaredLogger) *SHCLight {
	l := &SHCLight{
		id:       c.ID,
		location: c.Location,
		room:     c.Room,
		device:   device,
		conn:     conn,
		logger:   logger,
	}
	ctx, cancel := context.WithTimeout(context.Background(), shcRequestTimeout)
	defer cancel()

	var st shc.PowerSwitchState
	if err := conn.client.State(ctx, device, shc.PowerSwitch, &st); err != nil {
		logger.Warnf("Reading switch state of %s failed: %v", device, err)
	} else {
		l.on = st.On()
	}
	if l.room == "" {
		l.room = shcRoom(ctx, conn.client, device, logger)
	}
	l.stop = conn.events.Watch(device, l.handle)
	return l
}

// shcRoom looks up the name of the room the controller assigns device to.
func shcRoom(ctx context.Context, client *shc.Client, device string, logger *zap.SugaredLogger) string {
	rooms, err := client.Rooms(ctx)
	if err != nil {
		logger.Warnf("Reading rooms failed: %v", err)
		return ""
	}
	devices, err := client.Devices(ctx)
	if err != nil {
		logger.Warnf("Reading devices failed: %v", err)
		return ""
	}
	return shc.RoomNames(rooms, devices)[device]
}

func (l *SHCLight) ID() string       { return l.id }
func (l *SHCLight) Location() string { return l.location }
func (l *SHCLight) Room() string     { return l.room }

// Status implements service.LightService.
func (l *SHCLight) Status() service.LightState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return service.LightState{ID: l.id, Location: l.location, Room: l.room, On: l.on}
}

// SetNotifier implements service.Observable.
func (l *SHCLight) SetNotifier(n service.Notifier) {
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()
}

// Apply implements service.LightService. A power switch can only be
// switched on and off.
func (l *SHCLight) Apply(u service.LightUpdate) error {
	const op = "shc.Apply"
	switch {
	case u.Dimlevel != nil:
		return kerr.Validation(op, "dimlevel", "light %q has no dim level", l.id)
	case u.Temperature != nil:
		return kerr.Validation(op, "temperature", "light %q has no color temperature", l.id)
	case u.Color != nil:
		return kerr.Validation(op, "color", "light %q has no color", l.id)
	case u.On == nil:
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shcRequestTimeout)
	defer cancel()
	if err := l.conn.client.SetState(ctx, l.device, shc.PowerSwitch, shc.NewPowerSwitchState(*u.On)); err != nil {
		return kerr.Wrap(kerr.KindBackend, op, err)
	}
	l.set(*u.On)
	return nil
}

func (l *SHCLight) handle(ev shc.DeviceEvent) {
	if ev.ID != shc.PowerSwitch {
		return
	}
	s, ok := ev.State["switchState"].(string)
	if !ok {
		return
	}
	l.set(s == "ON")
}

func (l *SHCLight) set(on bool) {
	l.mu.Lock()
	changed := l.on != on
	l.on = on
	n := l.notifier
	l.mu.Unlock()
	if changed {
		l.logger.Debugf("Light %q switched to on=%t", l.id, on)
		n.Changed(l.id)
	}
}

// Close implements service.Closer.
func (l *SHCLight) Close() error {
	l.stop()
	return l.conn.release()
}

// SHCTemperature is a thermostat or room climate sensor of a Bosch Smart
// Home Controller.
type SHCTemperature struct {
	id       string
	location string
	device   string
	conn     *shcConn
	stop     func()
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	value    float64
	known    bool
	notifier service.Notifier
}

// NewSHCTemperature builds an SHCTemperature from c.
func NewSHCTemperature(c Config, logger *zap.SugaredLogger) (*SHCTemperature, error) {
	opts, err := decodeSHCOptions(c)
	if err != nil {
		return nil, err
	}
	conn, err := acquireSHC(opts, logger)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindBackend, "shc.NewTemperature", err)
	}
	return newSHCTemperature(c, opts.Device, conn, logger), nil
}

func newSHCTemperature(c Config, device string, conn *shcConn, logger *zap.SugaredLogger) *SHCTemperature {
	t := &SHCTemperature{
		id:       c.ID,
		location: c.Location,
		device:   device,
		conn:     conn,
		logger:   logger,
	}
	t.stop = conn.events.Watch(device, t.handle)
	return t
}

func (t *SHCTemperature) ID() string       { return t.id }
func (t *SHCTemperature) Location() string { return t.location }

// Reading implements service.TemperatureService. The controller is only
// asked until the first event arrives.
func (t *SHCTemperature) Reading() (service.TemperatureReading, error) {
	t.mu.Lock()
	value, known := t.value, t.known
	t.mu.Unlock()

	if !known {
		ctx, cancel := context.WithTimeout(context.Background(), shcRequestTimeout)
		defer cancel()
		var st shc.TemperatureLevelState
		if err := t.conn.client.State(ctx, t.device, shc.TemperatureLevel, &st); err != nil {
			return service.TemperatureReading{}, kerr.Wrap(kerr.KindBackend, "shc.Reading", err)
		}
		value = st.Temperature
	}
	return service.TemperatureReading{ID: t.id, Location: t.location, Temperature: value}, nil
}

// SetNotifier implements service.Observable.
func (t *SHCTemperature) SetNotifier(n service.Notifier) {
	t.mu.Lock()
	t.notifier = n
	t.mu.Unlock()
}

func (t *SHCTemperature) handle(ev shc.DeviceEvent) {
	if ev.ID != shc.TemperatureLevel {
		return
	}
	value, ok := ev.State["temperature"].(float64)
	if !ok {
		return
	}
	t.mu.Lock()
	t.value, t.known = value, true
	n := t.notifier
	t.mu.Unlock()
	t.logger.Debugf("Temperature %q is %.1f", t.id, value)
	n.Changed(t.id)
}

// Close implements service.Closer.
func (t *SHCTemperature) Close() error {
	t.stop()
	return t.conn.release()
}
