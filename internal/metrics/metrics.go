// Package metrics exposes the state of the hub to Prometheus.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/push"
	"github.com/pearjo/knut-server/internal/service"
)

type Metrics struct {
	connections   prometheus.Gauge
	requests      *prometheus.CounterVec
	errors        *prometheus.CounterVec
	droppedPushes prometheus.Counter
	lightState    *prometheus.GaugeVec
	lightDimlevel *prometheus.GaugeVec
	temperature   *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "knut",
				Name:      "connections",
				Help:      "Number of connected clients.",
			}),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knut",
				Name:      "requests_total",
				Help:      "Routed requests by API and message id.",
			},
			[]string{"api", "msg"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "knut",
				Name:      "request_errors_total",
				Help:      "Error replies by error kind.",
			},
			[]string{"kind"},
		),
		droppedPushes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "knut",
				Name:      "dropped_pushes_total",
				Help:      "Pushes evicted from the queue of a slow client.",
			}),
		lightState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "knut",
				Name:      "light_state",
				Help:      "Current state of light, 1 is on.",
			},
			[]string{"id", "room"},
		),
		lightDimlevel: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "knut",
				Name:      "light_dimlevel",
				Help:      "Current dim level of light in percent.",
			},
			[]string{"id", "room"},
		),
		temperature: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "knut",
				Name:      "temperature",
				Help:      "Current temperature in degree celsius.",
			},
			[]string{"id", "location"},
		),
	}
	reg.MustRegister(m.connections)
	reg.MustRegister(m.requests)
	reg.MustRegister(m.errors)
	reg.MustRegister(m.droppedPushes)
	reg.MustRegister(m.lightState)
	reg.MustRegister(m.lightDimlevel)
	reg.MustRegister(m.temperature)
	return m
}

// NewRegistry returns a registry with the build info and Go runtime
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewBuildInfoCollector())
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// Handler serves the metrics of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

func (m *Metrics) ConnectionOpened() { m.connections.Inc() }
func (m *Metrics) ConnectionClosed() { m.connections.Dec() }

// PushDropped counts an evicted push.
func (m *Metrics) PushDropped(push.Event) { m.droppedPushes.Inc() }

// unknownLabel replaces ids that no API or handler serves so that clients
// cannot grow the label set.
const unknownLabel = "unknown"

// ObserveRequest implements api.Observer.
func (m *Metrics) ObserveRequest(apiID, msgID uint16, err error) {
	api, msg := strconv.Itoa(int(apiID)), fmt.Sprintf("0x%04x", msgID)
	switch {
	case kerr.Is(err, kerr.KindUnknownAPI):
		api, msg = unknownLabel, unknownLabel
	case kerr.Is(err, kerr.KindUnknownMessage):
		msg = unknownLabel
	}
	m.requests.WithLabelValues(api, msg).Inc()
	if err != nil {
		m.errors.WithLabelValues(kerr.KindOf(err).String()).Inc()
	}
}

// ObserveLight implements light.Observer.
func (m *Metrics) ObserveLight(st service.LightState) {
	if st.On {
		m.lightState.WithLabelValues(st.ID, st.Room).Set(1)
	} else {
		m.lightState.WithLabelValues(st.ID, st.Room).Set(0)
	}
	if st.HasDimlevel {
		m.lightDimlevel.WithLabelValues(st.ID, st.Room).Set(float64(st.Dimlevel))
	}
}

// ObserveTemperature implements temperature.Observer.
func (m *Metrics) ObserveTemperature(r service.TemperatureReading) {
	m.temperature.WithLabelValues(r.ID, r.Location).Set(r.Temperature)
}
