package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kerr "github.com/pearjo/knut-server/internal/errors"
)

type fakeService struct {
	id       string
	location string
}

func (f *fakeService) ID() string       { return f.id }
func (f *fakeService) Location() string { return f.location }

func TestRegisterGet(t *testing.T) {
	r := New[*fakeService]()
	a := &fakeService{id: "a", location: "kitchen"}
	require.NoError(t, r.Register(a))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, a, got)
}

func TestRegisterDuplicateKeepsPrior(t *testing.T) {
	r := New[*fakeService]()
	first := &fakeService{id: "a", location: "first"}
	require.NoError(t, r.Register(first))

	err := r.Register(&fakeService{id: "a", location: "second"})
	require.Error(t, err)
	assert.True(t, kerr.Is(err, kerr.KindDuplicateID))

	got, err := r.Get("a")
	require.NoError(t, err)
	assert.Same(t, first, got)
	assert.Equal(t, 1, r.Len())
}

func TestGetNotFound(t *testing.T) {
	r := New[*fakeService]()
	_, err := r.Get("missing")
	assert.True(t, kerr.Is(err, kerr.KindNotFound))
}

func TestListRegistrationOrder(t *testing.T) {
	r := New[*fakeService]()
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(&fakeService{id: id}))
	}

	var ids []string
	for _, s := range r.List() {
		ids = append(ids, s.ID())
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

func TestUnregister(t *testing.T) {
	r := New[*fakeService]()
	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, r.Register(&fakeService{id: id}))
	}

	removed, err := r.Unregister("b")
	require.NoError(t, err)
	assert.Equal(t, "b", removed.ID())

	_, err = r.Get("b")
	assert.True(t, kerr.Is(err, kerr.KindNotFound))
	assert.Len(t, r.List(), 2)

	_, err = r.Unregister("b")
	assert.True(t, kerr.Is(err, kerr.KindNotFound))

	// the id is free again
	require.NoError(t, r.Register(&fakeService{id: "b"}))
	assert.Equal(t, "b", r.List()[2].ID())
}

func TestConcurrentAccess(t *testing.T) {
	r := New[*fakeService]()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("%d-%d", w, i)
				assert.NoError(t, r.Register(&fakeService{id: id}))
				_, err := r.Get(id)
				assert.NoError(t, err)
				_ = r.List()
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 200, r.Len())
}
