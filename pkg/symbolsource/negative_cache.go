package symbolsource

import "github.com/bits-and-blooms/bitset"

// NegativeCache remembers image addresses known to have no symbol, one bit
// per address of the image. It is not synchronised.
type NegativeCache struct {
	size uint64
	bits *bitset.BitSet
}

// NewNegativeCache sizes the cache for an image of size bytes. A zero size
// yields a cache that never marks anything.
func NewNegativeCache(size uint64) *NegativeCache {
	return &NegativeCache{size: size, bits: bitset.New(uint(size))}
}

// Mark records addr as having no symbol. Addresses outside the image are
// ignored.
func (c *NegativeCache) Mark(addr uint64) {
	if addr >= c.size {
		return
	}
	c.bits.Set(uint(addr))
}

// IsMarked reports whether addr was marked.
func (c *NegativeCache) IsMarked(addr uint64) bool {
	if addr >= c.size {
		return false
	}
	return c.bits.Test(uint(addr))
}

// Count returns the number of marked addresses.
func (c *NegativeCache) Count() uint64 { return uint64(c.bits.Count()) }

// Reset clears every mark.
func (c *NegativeCache) Reset() { c.bits.ClearAll() }
