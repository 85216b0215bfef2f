package symbolsource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegativeCache(t *testing.T) {
	c := NewNegativeCache(0x2000)
	require.False(t, c.IsMarked(0x1500))

	c.Mark(0x1500)
	c.Mark(0x1fff)
	c.Mark(0x2000)
	c.Mark(0xffffffff)
	require.True(t, c.IsMarked(0x1500))
	require.True(t, c.IsMarked(0x1fff))
	require.False(t, c.IsMarked(0x1501))
	require.False(t, c.IsMarked(0x2000))
	require.Equal(t, uint64(2), c.Count())

	c.Reset()
	require.False(t, c.IsMarked(0x1500))
	require.Equal(t, uint64(0), c.Count())
}

func TestNegativeCache_ZeroSize(t *testing.T) {
	c := NewNegativeCache(0)
	c.Mark(0)
	require.False(t, c.IsMarked(0))
}
