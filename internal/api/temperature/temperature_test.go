package temperature

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerr "github.com/pearjo/knut-server/internal/errors"
	"github.com/pearjo/knut-server/internal/service"
)

type fakeSensor struct {
	id       string
	mu       sync.Mutex
	value    float64
	fail     error
	notifier service.Notifier
}

func (s *fakeSensor) ID() string       { return s.id }
func (s *fakeSensor) Location() string { return "Garden" }

func (s *fakeSensor) Reading() (service.TemperatureReading, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return service.TemperatureReading{}, s.fail
	}
	return service.TemperatureReading{ID: s.id, Location: "Garden", Condition: "day-cloudy", Temperature: s.value}, nil
}

func (s *fakeSensor) SetNotifier(n service.Notifier) {
	s.mu.Lock()
	s.notifier = n
	s.mu.Unlock()
}

func (s *fakeSensor) set(v float64) {
	s.mu.Lock()
	s.value = v
	n := s.notifier
	s.mu.Unlock()
	n.Changed(s.id)
}

type recordingPublisher struct {
	mu     sync.Mutex
	pushes []json.RawMessage
}

func (p *recordingPublisher) Push(_, msgID uint16, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pushes = append(p.pushes, raw)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pushes)
}

func request(t *testing.T, a *API, msgID uint16, payload string) (uint16, string, error) {
	t.Helper()
	respID, resp, err := a.Handle(context.Background(), msgID, json.RawMessage(payload))
	if err != nil {
		return respID, "", err
	}
	raw, mErr := json.Marshal(resp)
	require.NoError(t, mErr)
	return respID, string(raw), nil
}

func TestStatusRequest(t *testing.T) {
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{})
	require.NoError(t, a.AddBackend(&fakeSensor{id: "dummy", value: 10.2}))

	respID, resp, err := request(t, a, StatusRequest, `{"id":"dummy"}`)
	require.NoError(t, err)
	assert.Equal(t, StatusResponse, respID)
	assert.JSONEq(t, `{"id":"dummy","location":"Garden","unit":"°C","condition":"\uf002","temperature":10.2}`, resp)

	_, _, err = request(t, a, StatusRequest, `{"id":"nope"}`)
	assert.True(t, kerr.Is(err, kerr.KindBackendNotFound))
}

func TestStatusRequestBackendFailure(t *testing.T) {
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{})
	require.NoError(t, a.AddBackend(&fakeSensor{id: "dummy", fail: errors.New("timeout")}))

	_, _, err := request(t, a, StatusRequest, `{"id":"dummy"}`)
	assert.True(t, kerr.Is(err, kerr.KindBackend))
}

func TestListInRegistrationOrder(t *testing.T) {
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{})
	require.NoError(t, a.AddBackend(&fakeSensor{id: "b"}))
	require.NoError(t, a.AddBackend(&fakeSensor{id: "a"}))
	assert.True(t, kerr.Is(a.AddBackend(&fakeSensor{id: "a"}), kerr.KindDuplicateID))

	respID, resp, err := request(t, a, ListRequest, `{}`)
	require.NoError(t, err)
	assert.Equal(t, ListResponse, respID)
	var l list
	require.NoError(t, json.Unmarshal([]byte(resp), &l))
	require.Len(t, l.Backends, 2)
	assert.Equal(t, "b", l.Backends[0].ID)
	assert.Equal(t, "a", l.Backends[1].ID)
}

func TestHistoryEvictsOldest(t *testing.T) {
	const size = 3
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{HistorySize: size})
	clock := time.Unix(1000, 0)
	a.now = func() time.Time { return clock }
	s := &fakeSensor{id: "dummy"}
	require.NoError(t, a.AddBackend(s))

	for i := 0; i <= size; i++ {
		s.set(float64(i))
		clock = clock.Add(time.Minute)
		_, err := a.Record("dummy")
		require.NoError(t, err)
	}

	respID, resp, err := request(t, a, HistoryRequest, `{"id":"dummy"}`)
	require.NoError(t, err)
	assert.Equal(t, HistoryResponse, respID)
	assert.JSONEq(t, `{"id":"dummy","temperature":[1,2,3],"time":[1120,1180,1240]}`, resp)
}

func TestHistoryUnknownBackend(t *testing.T) {
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{})
	_, _, err := request(t, a, HistoryRequest, `{"id":"dummy"}`)
	assert.True(t, kerr.Is(err, kerr.KindBackendNotFound))

	_, _, err = request(t, a, HistoryRequest, `{"id":7}`)
	assert.True(t, kerr.Is(err, kerr.KindValidation))
	assert.Equal(t, "id", kerr.FieldOf(err))
}

func TestRunRecordsAndPushesChanges(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, zap.NewNop().Sugar(), Options{})
	s := &fakeSensor{id: "dummy", value: 4}
	require.NoError(t, a.AddBackend(s))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	s.set(5.5)
	assert.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	samples, err := a.History("dummy")
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 5.5, samples[1].Value)
}

func TestRunPushesEveryAnnouncedSensor(t *testing.T) {
	pub := &recordingPublisher{}
	a := New(pub, zap.NewNop().Sugar(), Options{})
	sensors := make([]*fakeSensor, 200)
	for i := range sensors {
		sensors[i] = &fakeSensor{id: fmt.Sprintf("T%d", i)}
		require.NoError(t, a.AddBackend(sensors[i]))
	}
	for _, s := range sensors {
		s.set(1)
		s.set(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	assert.Eventually(t, func() bool { return pub.count() == len(sensors) }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ids := make(map[string]bool)
	pub.mu.Lock()
	for _, raw := range pub.pushes {
		var st Status
		require.NoError(t, json.Unmarshal(raw, &st))
		assert.Equal(t, 2.0, st.Temperature)
		ids[st.ID] = true
	}
	pub.mu.Unlock()
	assert.Len(t, ids, len(sensors))
}

func TestRunSamplesPeriodically(t *testing.T) {
	a := New(&recordingPublisher{}, zap.NewNop().Sugar(), Options{SampleInterval: 5 * time.Millisecond})
	require.NoError(t, a.AddBackend(&fakeSensor{id: "dummy"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = a.Run(ctx) }()

	assert.Eventually(t, func() bool {
		samples, _ := a.History("dummy")
		return len(samples) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestIcon(t *testing.T) {
	assert.Equal(t, "\uf00d", Icon("day-sunny"))
	assert.Equal(t, "", Icon("no-such-weather"))
	assert.Equal(t, "", Icon(""))
}
