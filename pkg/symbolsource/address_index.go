package symbolsource

import (
	"sync"

	"github.com/google/btree"
)

const (
	addressIndexDegree = 32
	iteratorBatchSize  = 256
)

func lessEntry(a, b *SymbolEntry) bool { return a.Address < b.Address }

// AddressIndex orders symbol entries by address with at most one entry per
// address. AddressIndex is not synchronised; Source guards it with its
// symbol lock.
type AddressIndex struct {
	tree *btree.BTreeG[*SymbolEntry]
}

// NewAddressIndex returns an empty index.
func NewAddressIndex() *AddressIndex {
	return &AddressIndex{tree: btree.NewG[*SymbolEntry](addressIndexDegree, lessEntry)}
}

// Len returns the number of entries.
func (x *AddressIndex) Len() int { return x.tree.Len() }

// Insert adds e. If an entry already exists at e.Address it is replaced only
// when the stored entry is public and e is not.
func (x *AddressIndex) Insert(e *SymbolEntry) InsertResult {
	stored, ok := x.tree.Get(e)
	if !ok {
		x.tree.ReplaceOrInsert(e)
		return Inserted
	}
	if stored.Public && !e.Public {
		x.tree.ReplaceOrInsert(e)
		return Replaced
	}
	return Kept
}

// FindExact returns the entry stored at addr.
func (x *AddressIndex) FindExact(addr uint64) (*SymbolEntry, bool) {
	return x.tree.Get(&SymbolEntry{Address: addr})
}

// FindExactOrLower returns the entry with the greatest address not above addr
// and the distance from that address to addr.
func (x *AddressIndex) FindExactOrLower(addr uint64) (*SymbolEntry, int64, bool) {
	var found *SymbolEntry
	x.tree.DescendLessOrEqual(&SymbolEntry{Address: addr}, func(e *SymbolEntry) bool {
		found = e
		return false
	})
	if found == nil {
		return nil, 0, false
	}
	return found, int64(addr - found.Address), true
}

// Ascend calls fn for every entry with an address of at least from, in
// address order, until fn returns false.
func (x *AddressIndex) Ascend(from uint64, fn func(*SymbolEntry) bool) {
	x.tree.AscendGreaterOrEqual(&SymbolEntry{Address: from}, fn)
}

// Iterator returns an address-order iterator over the index. The index must
// not be modified concurrently; use Source.Symbols for a locked iterator.
func (x *AddressIndex) Iterator() *SymbolIterator {
	return newSymbolIterator(x, nil)
}

// SymbolIterator walks an AddressIndex in address order. It reads the index
// in batches, so entries inserted behind the cursor are skipped and entries
// inserted ahead of it are observed.
type SymbolIterator struct {
	index *AddressIndex
	mu    *sync.RWMutex

	batch []SymbolEntry
	pos   int
	next  uint64
	done  bool
	cur   SymbolEntry
}

func newSymbolIterator(x *AddressIndex, mu *sync.RWMutex) *SymbolIterator {
	return &SymbolIterator{index: x, mu: mu}
}

// Next advances to the next entry.
func (it *SymbolIterator) Next() bool {
	if it.pos >= len(it.batch) {
		if it.done || !it.fill() {
			return false
		}
	}
	it.cur = it.batch[it.pos]
	it.pos++
	return true
}

// At returns the current entry.
func (it *SymbolIterator) At() SymbolEntry { return it.cur }

// Err always returns nil; the iterator has no failure mode.
func (it *SymbolIterator) Err() error { return nil }

// Close releases the buffered batch.
func (it *SymbolIterator) Close() error {
	it.batch = nil
	it.done = true
	return nil
}

// Reset rewinds the iterator to the lowest address.
func (it *SymbolIterator) Reset() {
	it.batch = it.batch[:0]
	it.pos = 0
	it.next = 0
	it.done = false
}

func (it *SymbolIterator) fill() bool {
	if it.mu != nil {
		it.mu.RLock()
		defer it.mu.RUnlock()
	}
	it.batch = it.batch[:0]
	it.pos = 0
	it.index.Ascend(it.next, func(e *SymbolEntry) bool {
		it.batch = append(it.batch, *e)
		return len(it.batch) < iteratorBatchSize
	})
	if len(it.batch) == 0 {
		it.done = true
		return false
	}
	last := it.batch[len(it.batch)-1].Address
	if last == ^uint64(0) {
		it.done = true
	}
	it.next = last + 1
	return true
}
