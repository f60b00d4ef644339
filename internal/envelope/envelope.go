// Package envelope implements the knut wire format shared by the server
// and its clients.
//
// Every message on a TCP connection is a frame:
//
//	[4 bytes big-endian body length][UTF-8 JSON body]
//
// and the body is an envelope object:
//
//	{"apiId": 2, "msgId": 1, "msg": {"id": "L1"}}
//
// A frame with a zero length carries no envelope. It is a heartbeat and
// is skipped by Decode.
package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	kerr "github.com/pearjo/knut-server/internal/errors"
)

// Reserved message ids shared by every API.
const (
	// MsgNull marks "no response".
	MsgNull uint16 = 0x0000
	// MsgError is the msgId of an error envelope.
	MsgError uint16 = 0xFFFF
)

// prefixLength is the size of the length prefix.
const prefixLength = 4

// DefaultMaxSize bounds the body length accepted by Decode when the caller
// does not configure one.
const DefaultMaxSize = 1024 * 1024

// Heartbeat is the frame written to keep idle connections alive.
var Heartbeat = []byte{0, 0, 0, 0}

// Envelope is the routed unit of communication.
type Envelope struct {
	APIID uint16          `json:"apiId"`
	MsgID uint16          `json:"msgId"`
	Msg   json.RawMessage `json:"msg"`
}

// wireEnvelope detects absent keys.
type wireEnvelope struct {
	APIID *uint16         `json:"apiId"`
	MsgID *uint16         `json:"msgId"`
	Msg   json.RawMessage `json:"msg"`
}

// New builds an envelope by marshaling payload.
func New(apiID, msgID uint16, payload any) (Envelope, error) {
	msg, err := marshalPayload(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{APIID: apiID, MsgID: msgID, Msg: msg}, nil
}

// Marshal returns the JSON body of the envelope without a length prefix.
func Marshal(apiID, msgID uint16, payload any) ([]byte, error) {
	env, err := New(apiID, msgID, payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Encode returns the complete frame for the envelope.
func Encode(apiID, msgID uint16, payload any) ([]byte, error) {
	body, err := Marshal(apiID, msgID, payload)
	if err != nil {
		return nil, err
	}
	return frame(body), nil
}

// EncodeEnvelope returns the complete frame for env.
func EncodeEnvelope(env Envelope) ([]byte, error) {
	if len(env.Msg) == 0 {
		env.Msg = json.RawMessage("{}")
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return frame(body), nil
}

func frame(body []byte) []byte {
	out := make([]byte, prefixLength+len(body))
	binary.BigEndian.PutUint32(out[:prefixLength], uint32(len(body)))
	copy(out[prefixLength:], body)
	return out
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(p) == 0 {
			return json.RawMessage("{}"), nil
		}
		return p, nil
	}
	msg, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return msg, nil
}

// ReadFrame reads one frame body from r. A heartbeat yields an empty body.
// End of stream before or inside the length prefix is ErrConnectionClosed.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	if maxSize == 0 {
		maxSize = DefaultMaxSize
	}
	var prefix [prefixLength]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, kerr.ErrConnectionClosed
		}
		return nil, fmt.Errorf("read length prefix: %w", err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length == 0 {
		return []byte{}, nil
	}
	if length > maxSize {
		return nil, kerr.New(kerr.KindFraming, "envelope.ReadFrame", "body length %d exceeds maximum %d", length, maxSize)
	}
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, kerr.Wrap(kerr.KindFraming, "envelope.ReadFrame", fmt.Errorf("truncated body: %w", err))
		}
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// Unmarshal parses an envelope body. Malformed JSON is a framing error;
// absent or mistyped envelope keys are schema errors.
func Unmarshal(body []byte) (Envelope, error) {
	if !json.Valid(body) {
		return Envelope{}, kerr.New(kerr.KindFraming, "envelope.Unmarshal", "malformed JSON body")
	}
	var wire wireEnvelope
	if err := json.Unmarshal(body, &wire); err != nil {
		return Envelope{}, kerr.Wrap(kerr.KindSchema, "envelope.Unmarshal", err)
	}
	switch {
	case wire.APIID == nil:
		return Envelope{}, &kerr.Error{Kind: kerr.KindSchema, Op: "envelope.Unmarshal", Field: "apiId", Message: "missing key apiId"}
	case wire.MsgID == nil:
		return Envelope{}, &kerr.Error{Kind: kerr.KindSchema, Op: "envelope.Unmarshal", Field: "msgId", Message: "missing key msgId"}
	case len(wire.Msg) == 0:
		return Envelope{}, &kerr.Error{Kind: kerr.KindSchema, Op: "envelope.Unmarshal", Field: "msg", Message: "missing key msg"}
	}
	msg := bytes.TrimSpace(wire.Msg)
	if len(msg) == 0 || msg[0] != '{' {
		return Envelope{APIID: *wire.APIID, MsgID: *wire.MsgID}, &kerr.Error{Kind: kerr.KindSchema, Op: "envelope.Unmarshal", Field: "msg", Message: "msg must be a JSON object"}
	}
	return Envelope{APIID: *wire.APIID, MsgID: *wire.MsgID, Msg: msg}, nil
}

// Decode reads the next envelope from r, skipping heartbeats.
func Decode(r io.Reader, maxSize uint32) (Envelope, error) {
	for {
		body, err := ReadFrame(r, maxSize)
		if err != nil {
			return Envelope{}, err
		}
		if len(body) == 0 {
			continue
		}
		return Unmarshal(body)
	}
}

// Write frames env and writes it to w.
func Write(w io.Writer, env Envelope) error {
	frame, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}
