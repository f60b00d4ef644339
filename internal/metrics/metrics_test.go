package metrics

import (
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/service"
)

func TestObserve(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)

	m.ConnectionOpened()
	m.ConnectionOpened()
	m.ConnectionClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))

	m.ObserveRequest(2, 0x0001, nil)
	m.ObserveRequest(2, 0x0001, kerr.Validation("light.set", "state", "bad"))
	m.ObserveRequest(99, 0x0001, errors.New("boom"))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("2", "0x0001")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.errors.WithLabelValues("internal")))

	m.PushDropped(push.Event{})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.droppedPushes))

	m.ObserveLight(service.LightState{ID: "L1", Room: "X", On: true, HasDimlevel: true, Dimlevel: 40})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lightState.WithLabelValues("L1", "X")))
	assert.Equal(t, 40.0, testutil.ToFloat64(m.lightDimlevel.WithLabelValues("L1", "X")))

	m.ObserveTemperature(service.TemperatureReading{ID: "garden", Location: "Garden", Temperature: 12.5})
	assert.Equal(t, 12.5, testutil.ToFloat64(m.temperature.WithLabelValues("garden", "Garden")))
}

func TestUnroutableRequestsShareLabels(t *testing.T) {
	m := New(NewRegistry())

	for id := uint16(100); id < 110; id++ {
		m.ObserveRequest(id, id, kerr.New(kerr.KindUnknownAPI, "api.Route", "no API"))
		m.ObserveRequest(2, 0x0f00+id, kerr.New(kerr.KindUnknownMessage, "light.Handle", "unsupported"))
	}
	assert.Equal(t, 10.0, testutil.ToFloat64(m.requests.WithLabelValues("unknown", "unknown")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.requests.WithLabelValues("2", "unknown")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.requests))
}

func TestHandler(t *testing.T) {
	reg := NewRegistry()
	m := New(reg)
	m.ConnectionOpened()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "knut_connections 1")
}
