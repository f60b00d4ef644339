// Package errors classifies the failures of the knut hub so that the
// transport layer can decide whether a connection survives a failed
// request and what the client is told about it.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for handling purposes.
type Kind int

const (
	// KindInternal is an unclassified failure.
	KindInternal Kind = iota
	// KindFraming is a malformed length prefix or JSON body. Connection-fatal.
	KindFraming
	// KindSchema is a well-formed body missing mandatory envelope keys.
	KindSchema
	// KindUnknownAPI is an envelope addressed to an unregistered apiId.
	KindUnknownAPI
	// KindUnknownMessage is a msgId the addressed API does not handle.
	KindUnknownMessage
	// KindValidation is a structurally valid but semantically invalid payload.
	KindValidation
	// KindNotFound is a registry lookup miss.
	KindNotFound
	// KindBackendNotFound is a registry miss surfaced by an API.
	KindBackendNotFound
	// KindDuplicateID is a registration with an id that is already taken.
	KindDuplicateID
	// KindBackpressure is a connection whose responses could not be flushed.
	KindBackpressure
	// KindBackend is a failing backend call, e.g. an unreachable device.
	KindBackend
)

var kindNames = map[Kind]string{
	KindInternal:        "internal",
	KindFraming:         "framing",
	KindSchema:          "schema",
	KindUnknownAPI:      "unknown_api",
	KindUnknownMessage:  "unknown_message",
	KindValidation:      "validation",
	KindNotFound:        "not_found",
	KindBackendNotFound: "backend_not_found",
	KindDuplicateID:     "duplicate_id",
	KindBackpressure:    "backpressure",
	KindBackend:         "backend",
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ErrConnectionClosed signals a normal end of a connection. It is not a
// failure and is never reported to a client.
var ErrConnectionClosed = errors.New("connection closed")

// Error is a classified error.
type Error struct {
	Kind Kind
	// Op names the operation that failed, e.g. "envelope.Decode".
	Op string
	// Field names the offending payload field for validation errors.
	Field   string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// New returns a classified error with a formatted message.
func New(kind Kind, op string, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation returns a validation error for the payload field.
func Validation(op, field string, format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Op: op, Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFound returns a registry miss for id.
func NotFound(op, id string) *Error {
	return &Error{Kind: KindNotFound, Op: op, Field: "id", Message: fmt.Sprintf("no backend with id %q", id)}
}

// DuplicateID returns a registration conflict for id.
func DuplicateID(op, id string) *Error {
	return &Error{Kind: KindDuplicateID, Op: op, Field: "id", Message: fmt.Sprintf("id %q is already registered", id)}
}

// BackendNotFound reclassifies a registry miss at the API boundary. The
// registry error stays reachable through Unwrap.
func BackendNotFound(op string, err error) error {
	if err == nil {
		return nil
	}
	e := &Error{Kind: KindBackendNotFound, Op: op, Field: "id", Err: err}
	var inner *Error
	if errors.As(err, &inner) {
		e.Message = inner.Message
		e.Err = inner
	}
	return e
}

// KindOf returns the kind of err, KindInternal for unclassified errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FieldOf returns the offending field of a classified error, if any.
func FieldOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Field
	}
	return ""
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// IsFatal reports whether err must close the connection it occurred on.
func IsFatal(err error) bool {
	switch KindOf(err) {
	case KindFraming, KindBackpressure:
		return true
	}
	return false
}

// IsClosed reports whether err marks a normal end of a connection.
func IsClosed(err error) bool {
	return errors.Is(err, ErrConnectionClosed)
}

// Payload is the body of an error envelope.
type Payload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	MsgID   uint16 `json:"msgId"`
}

// ToPayload builds the client facing description of err for the request
// msgID.
func ToPayload(err error, msgID uint16) Payload {
	var e *Error
	if errors.As(err, &e) {
		msg := e.Message
		if msg == "" && e.Err != nil {
			msg = e.Err.Error()
		}
		return Payload{Kind: e.Kind.String(), Message: msg, Field: e.Field, MsgID: msgID}
	}
	return Payload{Kind: KindInternal.String(), Message: err.Error(), MsgID: msgID}
}
