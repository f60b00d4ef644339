// Package server accepts client connections and multiplexes requests,
// responses and pushes over them.
//
// Each connection runs a reader that dispatches requests in arrival order
// and a writer that owns the socket. Responses are written ahead of queued
// pushes. A connection is closed on framing errors, when the client stays
// silent for longer than the idle timeout, or when a write cannot be
// flushed within the write timeout.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/pearjo/knut-server/internal/api"
	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
)

const responseBuffer = 16

type Options struct {
	Address        string
	Port           int
	MaxMessageSize uint32
	// IdleTimeout closes connections that send nothing for this long.
	// Zero disables it.
	IdleTimeout time.Duration
	// WriteTimeout bounds every write. A write that does not finish in
	// time closes the connection.
	WriteTimeout time.Duration
	// Heartbeat is the interval of keep-alive frames. Zero disables them.
	Heartbeat     time.Duration
	PushQueueSize int
}

// Observer is told about opened and closed connections.
type Observer interface {
	ConnectionOpened()
	ConnectionClosed()
}

type Server struct {
	opts     Options
	router   *api.Router
	bus      *push.Bus
	logger   *zap.SugaredLogger
	observer Observer
}

func New(opts Options, router *api.Router, bus *push.Bus, logger *zap.SugaredLogger) *Server {
	if opts.MaxMessageSize == 0 {
		opts.MaxMessageSize = envelope.DefaultMaxSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.PushQueueSize <= 0 {
		opts.PushQueueSize = 256
	}
	return &Server{opts: opts, router: router, bus: bus, logger: logger}
}

func (s *Server) SetObserver(o Observer) {
	s.observer = o
}

// Addr is the TCP address the server listens on.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.opts.Address, strconv.Itoa(s.opts.Port))
}

// ListenAndServe listens on Addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. It closes ln and
// waits for the open connections to finish before returning.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.logger.Infof("Listening on %s", ln.Addr())

	var active sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Errorf("Accept failed: %v", err)
			continue
		}
		active.Add(1)
		go func() {
			defer active.Done()
			s.serveTransport(ctx, newTCPTransport(conn, s.opts.MaxMessageSize))
		}()
	}
	active.Wait()
	return nil
}

// WebSocketHandler upgrades HTTP requests and serves them like TCP
// connections until ctx is cancelled.
func (s *Server) WebSocketHandler(ctx context.Context) http.Handler {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(*http.Request) bool { return true },
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warnf("WebSocket upgrade from %s failed: %v", r.RemoteAddr, err)
			return
		}
		conn.SetReadLimit(int64(s.opts.MaxMessageSize))
		s.serveTransport(ctx, &wsTransport{conn: conn})
	})
}

func (s *Server) serveTransport(ctx context.Context, t transport) {
	logger := s.logger.With("remote", t.RemoteAddr())
	sub := s.bus.Subscribe(s.opts.PushQueueSize)
	defer sub.Close()
	if s.observer != nil {
		s.observer.ConnectionOpened()
		defer s.observer.ConnectionClosed()
	}
	logger.Infof("Client connected")

	sess := &session{
		t:         t,
		router:    s.router,
		sub:       sub,
		opts:      s.opts,
		logger:    logger,
		responses: make(chan envelope.Envelope, responseBuffer),
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sess.read(gctx) })
	g.Go(func() error { return sess.write(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		t.Close()
		return nil
	})
	err := g.Wait()

	switch {
	case err == nil, kerr.IsClosed(err), errors.Is(err, context.Canceled):
		logger.Infof("Client disconnected")
	default:
		logger.Warnf("Connection closed: %v", err)
	}
	if n := sub.Dropped(); n > 0 {
		logger.Infof("Dropped %d pushes", n)
	}
}

// session is one client connection. The reader is the only sender on
// responses and closes it when it stops; the writer then flushes what is
// left and ends the session.
type session struct {
	t         transport
	router    *api.Router
	sub       *push.Subscription
	opts      Options
	logger    *zap.SugaredLogger
	responses chan envelope.Envelope
	readErr   error
}

func (s *session) read(ctx context.Context) error {
	defer close(s.responses)
	for {
		if s.opts.IdleTimeout > 0 {
			if err := s.t.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout)); err != nil {
				s.readErr = err
				return nil
			}
		}
		env, err := s.t.ReadEnvelope()
		switch {
		case err == nil:
		case kerr.Is(err, kerr.KindSchema):
			s.logger.Infof("Invalid envelope: %v", err)
			if !s.respond(ctx, api.ErrorEnvelope(env.APIID, env.MsgID, err)) {
				return nil
			}
			continue
		case kerr.IsFatal(err):
			s.logger.Warnf("Closing connection: %v", err)
			s.respond(ctx, api.ErrorEnvelope(env.APIID, env.MsgID, err))
			s.readErr = err
			return nil
		case isTimeout(err):
			s.logger.Infof("Idle timeout")
			s.readErr = kerr.ErrConnectionClosed
			return nil
		default:
			s.readErr = err
			return nil
		}

		resp, ok := s.router.Dispatch(ctx, env)
		if ok && !s.respond(ctx, resp) {
			return nil
		}
	}
}

func (s *session) respond(ctx context.Context, env envelope.Envelope) bool {
	select {
	case s.responses <- env:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *session) write(ctx context.Context) error {
	var heartbeat <-chan time.Time
	if s.opts.Heartbeat > 0 {
		ticker := time.NewTicker(s.opts.Heartbeat)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	for {
		select {
		case resp, ok := <-s.responses:
			if err := s.deliver(resp, ok); err != nil {
				return err
			}
			continue
		default:
		}

		if ev, ok := s.sub.Next(); ok {
			if err := s.send(envelope.Envelope{APIID: ev.APIID, MsgID: ev.MsgID, Msg: ev.Payload}); err != nil {
				return err
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case resp, ok := <-s.responses:
			if err := s.deliver(resp, ok); err != nil {
				return err
			}
		case <-s.sub.Ready():
		case <-heartbeat:
			if err := s.t.WriteHeartbeat(time.Now().Add(s.opts.WriteTimeout)); err != nil {
				return s.writeError(err)
			}
		}
	}
}

// deliver writes a response. A closed responses channel ends the session
// with the reader's error.
func (s *session) deliver(resp envelope.Envelope, ok bool) error {
	if !ok {
		if s.readErr != nil {
			return s.readErr
		}
		return kerr.ErrConnectionClosed
	}
	return s.send(resp)
}

func (s *session) send(env envelope.Envelope) error {
	if err := s.t.WriteEnvelope(env, time.Now().Add(s.opts.WriteTimeout)); err != nil {
		return s.writeError(err)
	}
	return nil
}

func (s *session) writeError(err error) error {
	if isTimeout(err) {
		return kerr.Wrap(kerr.KindBackpressure, "server.write", err)
	}
	return err
}
