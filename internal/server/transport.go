package server

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pearjo/knut-server/internal/envelope"
	kerr "github.com/pearjo/knut-server/internal/errors"
)

// transport moves envelopes over one client connection. Reads and writes
// may run concurrently, but never two reads or two writes.
type transport interface {
	// ReadEnvelope returns the next envelope, skipping heartbeats.
	ReadEnvelope() (envelope.Envelope, error)
	WriteEnvelope(env envelope.Envelope, deadline time.Time) error
	WriteHeartbeat(deadline time.Time) error
	SetReadDeadline(t time.Time) error
	RemoteAddr() string
	Close() error
}

// tcpTransport frames envelopes with a length prefix.
type tcpTransport struct {
	conn    net.Conn
	r       *bufio.Reader
	maxSize uint32
}

func newTCPTransport(conn net.Conn, maxSize uint32) *tcpTransport {
	return &tcpTransport{conn: conn, r: bufio.NewReader(conn), maxSize: maxSize}
}

func (t *tcpTransport) ReadEnvelope() (envelope.Envelope, error) {
	return envelope.Decode(t.r, t.maxSize)
}

func (t *tcpTransport) WriteEnvelope(env envelope.Envelope, deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return envelope.Write(t.conn, env)
}

func (t *tcpTransport) WriteHeartbeat(deadline time.Time) error {
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := t.conn.Write(envelope.Heartbeat)
	return err
}

func (t *tcpTransport) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *tcpTransport) RemoteAddr() string                { return t.conn.RemoteAddr().String() }
func (t *tcpTransport) Close() error                      { return t.conn.Close() }

// wsTransport sends one envelope per text message. Heartbeats are pings.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadEnvelope() (envelope.Envelope, error) {
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			switch {
			case errors.As(err, &closeErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
				return envelope.Envelope{}, kerr.ErrConnectionClosed
			case errors.Is(err, websocket.ErrReadLimit):
				return envelope.Envelope{}, kerr.Wrap(kerr.KindFraming, "websocket.Read", err)
			}
			return envelope.Envelope{}, err
		}
		if len(data) == 0 {
			continue
		}
		return envelope.Unmarshal(data)
	}
}

func (t *wsTransport) WriteEnvelope(env envelope.Envelope, deadline time.Time) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WriteHeartbeat(deadline time.Time) error {
	return t.conn.WriteControl(websocket.PingMessage, nil, deadline)
}

func (t *wsTransport) SetReadDeadline(d time.Time) error { return t.conn.SetReadDeadline(d) }
func (t *wsTransport) RemoteAddr() string                { return t.conn.RemoteAddr().String() }
func (t *wsTransport) Close() error                      { return t.conn.Close() }

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
