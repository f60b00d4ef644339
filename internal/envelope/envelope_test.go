package envelope

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerr "github.com/pearjo/knut-server/internal/errors"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payloads := []any{
		map[string]any{"id": "L1"},
		map[string]any{},
		map[string]any{"state": true, "dimlevel": float64(42), "color": "#ff1122"},
		map[string]any{"nested": map[string]any{"list": []any{"a", float64(1), nil}}, "unicode": "°C "},
	}
	for _, payload := range payloads {
		frame, err := Encode(2, 0x0101, payload)
		require.NoError(t, err)

		env, err := Decode(bytes.NewReader(frame), 0)
		require.NoError(t, err)
		assert.Equal(t, uint16(2), env.APIID)
		assert.Equal(t, uint16(0x0101), env.MsgID)

		var decoded map[string]any
		require.NoError(t, json.Unmarshal(env.Msg, &decoded))
		assert.Equal(t, payload, decoded)
	}
}

func TestEncodeLengthPrefix(t *testing.T) {
	frame, err := Encode(1, 2, map[string]string{})
	require.NoError(t, err)

	body := `{"apiId":1,"msgId":2,"msg":{}}`
	assert.Equal(t, uint32(len(body)), binary.BigEndian.Uint32(frame[:4]))
	assert.Equal(t, body, string(frame[4:]))
}

func TestDecodeSkipsHeartbeat(t *testing.T) {
	frame, err := Encode(4, 1, nil)
	require.NoError(t, err)

	stream := append(append([]byte{}, Heartbeat...), frame...)
	env, err := Decode(bytes.NewReader(stream), 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(4), env.APIID)
	assert.JSONEq(t, `{}`, string(env.Msg))
}

func TestDecodeConnectionClosed(t *testing.T) {
	_, err := Decode(bytes.NewReader(nil), 0)
	assert.True(t, kerr.IsClosed(err))

	// peer half-closed inside the length prefix
	_, err = Decode(bytes.NewReader([]byte{0, 0}), 0)
	assert.True(t, kerr.IsClosed(err))
}

func TestDecodeFramingErrors(t *testing.T) {
	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], 2048)
	_, err := Decode(bytes.NewReader(prefix[:]), 1024)
	assert.Equal(t, kerr.KindFraming, kerr.KindOf(err))

	body := []byte(`{"apiId":1,`)
	binary.BigEndian.PutUint32(prefix[:], uint32(len(body)))
	_, err = Decode(bytes.NewReader(append(prefix[:], body...)), 0)
	assert.Equal(t, kerr.KindFraming, kerr.KindOf(err))

	binary.BigEndian.PutUint32(prefix[:], 100)
	_, err = Decode(bytes.NewReader(append(prefix[:], []byte("{}")...)), 0)
	assert.Equal(t, kerr.KindFraming, kerr.KindOf(err))
}

func TestUnmarshalSchemaErrors(t *testing.T) {
	tests := []struct {
		body  string
		field string
	}{
		{`{"msgId":1,"msg":{}}`, "apiId"},
		{`{"apiId":1,"msg":{}}`, "msgId"},
		{`{"apiId":1,"msgId":1}`, "msg"},
		{`{"apiId":1,"msgId":1,"msg":[1]}`, "msg"},
		{`{"apiId":1,"msgId":1,"msg":null}`, "msg"},
	}
	for _, tt := range tests {
		_, err := Unmarshal([]byte(tt.body))
		require.Error(t, err, tt.body)
		assert.Equal(t, kerr.KindSchema, kerr.KindOf(err), tt.body)
		assert.Equal(t, tt.field, kerr.FieldOf(err), tt.body)
	}

	_, err := Unmarshal([]byte(`{"apiId":-1,"msgId":1,"msg":{}}`))
	assert.Equal(t, kerr.KindSchema, kerr.KindOf(err))
}

func TestWrite(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, Envelope{APIID: 3, MsgID: 0x0103}))

	env, err := Decode(&buf, 0)
	require.NoError(t, err)
	assert.Equal(t, Envelope{APIID: 3, MsgID: 0x0103, Msg: json.RawMessage("{}")}, env)

	_, err = Decode(&buf, 0)
	assert.ErrorIs(t, err, kerr.ErrConnectionClosed)
	assert.NotErrorIs(t, err, io.EOF)
}
