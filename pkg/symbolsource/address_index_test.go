package symbolsource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddressIndex_InsertPriority(t *testing.T) {
	tests := []struct {
		name       string
		first      SymbolEntry
		second     SymbolEntry
		wantResult InsertResult
		wantName   string
	}{
		{
			name:       "non-public replaces public",
			first:      SymbolEntry{Address: 0x1000, DecoratedName: "_foo", Public: true},
			second:     SymbolEntry{Address: 0x1000, DecoratedName: "foo"},
			wantResult: Replaced,
			wantName:   "foo",
		},
		{
			name:       "public does not replace non-public",
			first:      SymbolEntry{Address: 0x1000, DecoratedName: "foo"},
			second:     SymbolEntry{Address: 0x1000, DecoratedName: "_foo", Public: true},
			wantResult: Kept,
			wantName:   "foo",
		},
		{
			name:       "public does not replace public",
			first:      SymbolEntry{Address: 0x1000, DecoratedName: "_a", Public: true},
			second:     SymbolEntry{Address: 0x1000, DecoratedName: "_b", Public: true},
			wantResult: Kept,
			wantName:   "_a",
		},
		{
			name:       "first non-public wins",
			first:      SymbolEntry{Address: 0x1000, DecoratedName: "a"},
			second:     SymbolEntry{Address: 0x1000, DecoratedName: "b"},
			wantResult: Kept,
			wantName:   "a",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x := NewAddressIndex()
			first, second := tt.first, tt.second
			require.Equal(t, Inserted, x.Insert(&first))
			require.Equal(t, tt.wantResult, x.Insert(&second))
			require.Equal(t, 1, x.Len())
			e, ok := x.FindExact(0x1000)
			require.True(t, ok)
			require.Equal(t, tt.wantName, e.DecoratedName)
		})
	}
}

func TestAddressIndex_FindExactOrLower(t *testing.T) {
	x := NewAddressIndex()
	_, _, ok := x.FindExactOrLower(0x1000)
	require.False(t, ok)

	x.Insert(&SymbolEntry{Address: 0x1000, DecoratedName: "a"})
	x.Insert(&SymbolEntry{Address: 0x2000, DecoratedName: "b"})

	tests := []struct {
		addr     uint64
		found    bool
		wantName string
		wantDisp int64
	}{
		{0x0fff, false, "", 0},
		{0x1000, true, "a", 0},
		{0x1500, true, "a", 0x500},
		{0x1fff, true, "a", 0xfff},
		{0x2000, true, "b", 0},
		{0xffffffff, true, "b", 0xffffffff - 0x2000},
	}
	for _, tt := range tests {
		e, disp, ok := x.FindExactOrLower(tt.addr)
		require.Equal(t, tt.found, ok, "addr %#x", tt.addr)
		if !tt.found {
			continue
		}
		require.Equal(t, tt.wantName, e.DecoratedName)
		require.Equal(t, tt.wantDisp, disp)
	}

	_, ok = x.FindExact(0x1500)
	require.False(t, ok)
}

func TestAddressIndex_Iterator(t *testing.T) {
	x := NewAddressIndex()
	const n = iteratorBatchSize*2 + 10
	for i := n - 1; i >= 0; i-- {
		x.Insert(&SymbolEntry{Address: uint64(0x1000 + i*0x10)})
	}

	it := x.Iterator()
	var got []uint64
	for it.Next() {
		got = append(got, it.At().Address)
	}
	require.NoError(t, it.Err())
	require.Len(t, got, n)
	for i := 1; i < len(got); i++ {
		require.Less(t, got[i-1], got[i])
	}

	it.Reset()
	require.True(t, it.Next())
	require.Equal(t, uint64(0x1000), it.At().Address)
	require.NoError(t, it.Close())
	require.False(t, it.Next())
}

func TestAddressIndex_IteratorObservesLaterInserts(t *testing.T) {
	x := NewAddressIndex()
	x.Insert(&SymbolEntry{Address: 0x2000})
	x.Insert(&SymbolEntry{Address: 0x3000})

	it := x.Iterator()
	require.True(t, it.Next())
	require.Equal(t, uint64(0x2000), it.At().Address)

	// Behind the cursor: skipped. Ahead of the cursor: observed once the
	// current batch is drained.
	x.Insert(&SymbolEntry{Address: 0x1000})
	x.Insert(&SymbolEntry{Address: 0x4000})

	var rest []uint64
	for it.Next() {
		rest = append(rest, it.At().Address)
	}
	require.Equal(t, []uint64{0x3000, 0x4000}, rest)
}
