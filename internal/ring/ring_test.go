package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushEvictsOldest(t *testing.T) {
	const n = 5
	r := New[int](n)

	var evicted []int
	r.OnDrop(func(v int) { evicted = append(evicted, v) })

	for i := 0; i < n; i++ {
		assert.False(t, r.Push(i))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.Snapshot())

	assert.True(t, r.Push(n))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, r.Snapshot())
	assert.Equal(t, []int{0}, evicted)
	assert.Equal(t, uint64(1), r.Dropped())
	assert.Equal(t, n, r.Len())
}

func TestPopOrder(t *testing.T) {
	r := New[string](3)
	r.Push("a")
	r.Push("b")
	r.Push("c")
	r.Push("d")

	for _, want := range []string{"b", "c", "d"} {
		got, ok := r.Pop()
		require.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := r.Pop()
	assert.False(t, ok)

	r.Push("e")
	assert.Equal(t, []string{"e"}, r.Snapshot())
}

func TestMinimumCapacity(t *testing.T) {
	r := New[int](0)
	assert.Equal(t, 1, r.Cap())
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Snapshot())
}

func TestClear(t *testing.T) {
	r := New[int](2)
	r.Push(1)
	r.Push(2)
	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Snapshot())
}

func TestConcurrentPush(t *testing.T) {
	r := New[int](64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.Push(i)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 64, r.Len())
	assert.Equal(t, uint64(800-64), r.Dropped())
}
