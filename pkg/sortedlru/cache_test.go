package sortedlru

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New[uint64, string](3)
	c.Insert(1, "a")
	c.Insert(2, "b")
	c.Insert(3, "c")

	h, ok := c.Find(1)
	require.True(t, ok)
	require.Equal(t, "a", h.Value())
	require.True(t, c.Acquire(h))

	c.Insert(4, "d")
	require.Equal(t, []uint64{1, 3, 4}, c.Keys())

	_, ok = c.Find(2)
	require.False(t, ok)
}

func TestCache_FindDoesNotPromote(t *testing.T) {
	c := New[uint64, string](3)
	c.Insert(1, "a")
	c.Insert(2, "b")
	c.Insert(3, "c")

	_, ok := c.Find(1)
	require.True(t, ok)

	c.Insert(4, "d")
	require.Equal(t, []uint64{2, 3, 4}, c.Keys())
}

func TestCache_ReinsertUpdatesAndPromotes(t *testing.T) {
	c := New[string, int](2)
	c.Insert("x", 1)
	c.Insert("y", 2)
	c.Insert("x", 10)

	oldest, ok := c.Oldest()
	require.True(t, ok)
	require.Equal(t, "y", oldest)

	c.Insert("z", 3)
	v, ok := c.Get("x")
	require.True(t, ok)
	require.Equal(t, 10, v)
	_, ok = c.Get("y")
	require.False(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestCache_StaleHandle(t *testing.T) {
	c := New[int, int](1)
	c.Insert(1, 1)
	h, ok := c.Find(1)
	require.True(t, ok)

	c.Insert(2, 2)
	require.False(t, c.Acquire(h))
	require.Equal(t, 1, h.Value())

	require.False(t, c.Acquire(Handle[int, int]{}))
}

func TestCache_RemoveAndPurge(t *testing.T) {
	c := New[int, int](4)
	for i := 0; i < 4; i++ {
		c.Insert(i, i*i)
	}
	h, _ := c.Find(3)
	require.True(t, c.Remove(3))
	require.False(t, c.Remove(3))
	require.False(t, c.Acquire(h))
	require.Equal(t, []int{0, 1, 2}, c.Keys())

	c.Purge()
	require.Equal(t, 0, c.Len())
	_, ok := c.Oldest()
	require.False(t, ok)
}

func TestCache_ZeroCapacity(t *testing.T) {
	c := New[int, int](0)
	require.Equal(t, 1, c.Capacity())
	c.Insert(1, 1)
	c.Insert(2, 2)
	require.Equal(t, []int{2}, c.Keys())
}

func TestCache_Concurrent(t *testing.T) {
	c := New[int, int](64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				k := (w*1000 + i) % 128
				c.Insert(k, i)
				if h, ok := c.Find(k); ok {
					c.Acquire(h)
				}
			}
		}(w)
	}
	wg.Wait()
	require.LessOrEqual(t, c.Len(), 64)
}
