package server

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/api/light"
	"github.com/pearjo/knut-server/internal/backend"
	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
)

type counter struct {
	opened, closed atomic.Int32
}

func (c *counter) ConnectionOpened() { c.opened.Add(1) }
func (c *counter) ConnectionClosed() { c.closed.Add(1) }

type harness struct {
	srv  *Server
	bus  *push.Bus
	ctx  context.Context
	addr string
}

// start serves a router with one dummy light L1 in "Living Room". setup
// runs before the server accepts connections.
func start(t *testing.T, opts Options, setup ...func(*Server)) *harness {
	t.Helper()
	logger := zap.NewNop().Sugar()
	bus := push.NewBus(logger)

	lights := light.New(bus, logger)
	l, err := backend.NewDummyLight(backend.Config{ID: "L1", Location: "Table", Room: "Living Room"}, logger)
	require.NoError(t, err)
	require.NoError(t, lights.AddBackend(l))
	router := api.NewRouter(logger)
	require.NoError(t, router.Register(lights))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := New(opts, router, bus, logger)
	for _, f := range setup {
		f(srv)
	}
	done := make(chan struct{})
	go lights.Run(ctx)
	go func() {
		srv.Serve(ctx, ln)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return &harness{srv: srv, bus: bus, ctx: ctx, addr: ln.Addr().String()}
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (h *harness) dial(t *testing.T) *client {
	t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(apiID, msgID uint16, payload any) {
	c.t.Helper()
	frame, err := envelope.Encode(apiID, msgID, payload)
	require.NoError(c.t, err)
	_, err = c.conn.Write(frame)
	require.NoError(c.t, err)
}

func (c *client) sendRaw(body string) {
	c.t.Helper()
	frame := make([]byte, 4, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	_, err := c.conn.Write(append(frame, body...))
	require.NoError(c.t, err)
}

func (c *client) recv() envelope.Envelope {
	c.t.Helper()
	env, err := envelope.Decode(c.r, 0)
	require.NoError(c.t, err)
	return env
}

// recvMsg skips envelopes until one with msgID arrives.
func (c *client) recvMsg(msgID uint16) envelope.Envelope {
	c.t.Helper()
	for {
		if env := c.recv(); env.MsgID == msgID {
			return env
		}
	}
}

func errorPayload(t *testing.T, env envelope.Envelope) kerr.Payload {
	t.Helper()
	require.Equal(t, envelope.MsgError, env.MsgID)
	var p kerr.Payload
	require.NoError(t, json.Unmarshal(env.Msg, &p))
	return p
}

func TestStatusRequest(t *testing.T) {
	h := start(t, Options{})
	c := h.dial(t)

	c.send(api.LightID, light.LightStatusRequest, map[string]string{"id": "L1"})
	env := c.recv()
	assert.Equal(t, api.LightID, env.APIID)
	assert.Equal(t, light.LightStatusResponse, env.MsgID)

	var st light.Status
	require.NoError(t, json.Unmarshal(env.Msg, &st))
	assert.Equal(t, "L1", st.ID)
	assert.False(t, st.State)
}

func TestUnknownAPIKeepsConnection(t *testing.T) {
	h := start(t, Options{})
	c := h.dial(t)

	c.send(99, 0x0001, map[string]string{})
	env := c.recv()
	assert.Equal(t, uint16(99), env.APIID)
	p := errorPayload(t, env)
	assert.Equal(t, "unknown_api", p.Kind)
	assert.Equal(t, uint16(0x0001), p.MsgID)

	c.send(api.LightID, light.LightStatusRequest, map[string]string{"id": "L1"})
	assert.Equal(t, light.LightStatusResponse, c.recv().MsgID)
}

func TestSchemaErrorKeepsConnection(t *testing.T) {
	h := start(t, Options{})
	c := h.dial(t)

	c.sendRaw(`{"apiId":2,"msgId":1}`)
	p := errorPayload(t, c.recv())
	assert.Equal(t, "schema", p.Kind)
	assert.Equal(t, "msg", p.Field)

	c.send(api.LightID, light.LightsRequest, map[string]string{})
	assert.Equal(t, light.LightsResponse, c.recv().MsgID)
}

func TestFramingErrorClosesConnection(t *testing.T) {
	h := start(t, Options{MaxMessageSize: 1024})
	c := h.dial(t)

	_, err := c.conn.Write([]byte{0xff, 0xff, 0xff, 0xff})
	require.NoError(t, err)
	p := errorPayload(t, c.recv())
	assert.Equal(t, "framing", p.Kind)

	_, err = envelope.Decode(c.r, 0)
	assert.True(t, kerr.IsClosed(err), "got %v", err)
}

func TestPushReachesAllClients(t *testing.T) {
	h := start(t, Options{})
	a, b := h.dial(t), h.dial(t)

	// A round trip makes sure b is subscribed.
	b.send(api.LightID, light.LightsRequest, map[string]string{})
	b.recvMsg(light.LightsResponse)

	a.send(api.LightID, light.LightStatusResponse, map[string]any{"id": "L1", "state": true})

	for _, c := range []*client{a, b} {
		var st light.Status
		require.NoError(t, json.Unmarshal(c.recvMsg(light.LightStatusResponse).Msg, &st))
		assert.True(t, st.State)

		var all struct {
			State int `json:"state"`
		}
		require.NoError(t, json.Unmarshal(c.recvMsg(light.AllLightsResponse).Msg, &all))
		assert.Equal(t, 1, all.State)
	}
}

func TestHeartbeat(t *testing.T) {
	h := start(t, Options{Heartbeat: 10 * time.Millisecond})
	c := h.dial(t)

	frame := make([]byte, 4)
	_, err := io.ReadFull(c.r, frame)
	require.NoError(t, err)
	assert.Equal(t, envelope.Heartbeat, frame)
}

func TestIdleTimeout(t *testing.T) {
	h := start(t, Options{IdleTimeout: 50 * time.Millisecond})
	c := h.dial(t)

	_, err := envelope.Decode(c.r, 0)
	assert.True(t, kerr.IsClosed(err), "got %v", err)
}

func TestObserverCountsConnections(t *testing.T) {
	obs := &counter{}
	h := start(t, Options{}, func(s *Server) { s.SetObserver(obs) })

	c := h.dial(t)
	c.send(api.LightID, light.LightsRequest, map[string]string{})
	c.recv()
	assert.Equal(t, int32(1), obs.opened.Load())

	c.conn.Close()
	assert.Eventually(t, func() bool { return obs.closed.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestWriteTimeoutIsBackpressure(t *testing.T) {
	s := &session{}
	err := s.writeError(os.ErrDeadlineExceeded)
	assert.True(t, kerr.Is(err, kerr.KindBackpressure))
	assert.True(t, kerr.IsFatal(err))
}

func TestStalledClientIsClosedWithBackpressure(t *testing.T) {
	obs := &counter{}
	core, logs := observer.New(zapcore.InfoLevel)
	h := start(t, Options{WriteTimeout: 50 * time.Millisecond, PushQueueSize: 4}, func(s *Server) {
		s.SetObserver(obs)
		s.logger = zap.New(core).Sugar()
	})
	stalled, healthy := h.dial(t), h.dial(t)
	require.NoError(t, healthy.conn.SetDeadline(time.Now().Add(10*time.Second)))
	require.NoError(t, stalled.conn.(*net.TCPConn).SetReadBuffer(4096))

	// Subscribed once a request was answered.
	for _, c := range []*client{stalled, healthy} {
		c.send(api.LightID, light.LightsRequest, map[string]string{})
		c.recvMsg(light.LightsResponse)
	}

	var pushes atomic.Int32
	answered := make(chan struct{})
	go func() {
		for {
			env, err := envelope.Decode(healthy.r, 0)
			if err != nil {
				return
			}
			switch env.MsgID {
			case light.LightsResponse:
				pushes.Add(1)
			case light.LightStatusResponse:
				close(answered)
			}
		}
	}()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		payload := map[string]string{"filler": strings.Repeat("x", 16<<10)}
		for {
			select {
			case <-stop:
				return
			default:
			}
			_ = h.bus.Push(api.LightID, light.LightsResponse, payload)
			time.Sleep(time.Millisecond)
		}
	}()

	require.Eventually(t, func() bool { return obs.closed.Load() == 1 }, 8*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), obs.opened.Load())
	assert.NotZero(t, h.bus.Dropped())
	assert.Equal(t, 1, logs.FilterMessageSnippet("backpressure").Len())

	seen := pushes.Load()
	assert.Eventually(t, func() bool { return pushes.Load() > seen }, 2*time.Second, 5*time.Millisecond)
	healthy.send(api.LightID, light.LightStatusRequest, map[string]string{"id": "L1"})
	select {
	case <-answered:
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client got no response")
	}
	assert.Equal(t, int32(1), obs.closed.Load())
}

func TestWebSocket(t *testing.T) {
	h := start(t, Options{})
	ctx, cancel := context.WithCancel(h.ctx)
	ts := httptest.NewServer(h.srv.WebSocketHandler(ctx))
	t.Cleanup(ts.Close)
	t.Cleanup(cancel)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	require.NoError(t, conn.WriteJSON(envelope.Envelope{
		APIID: api.LightID,
		MsgID: light.LightStatusRequest,
		Msg:   json.RawMessage(`{"id":"L1"}`),
	}))
	var env envelope.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, light.LightStatusResponse, env.MsgID)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"apiId":2`)))
	require.NoError(t, conn.ReadJSON(&env))
	p := errorPayload(t, env)
	assert.Equal(t, "framing", p.Kind)
}
