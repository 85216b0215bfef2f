package symbolsource

import (
	"slices"
	"strings"
)

type nameItem struct {
	folded string
	entry  *SymbolEntry
}

// NameIndex is an immutable, case-insensitively ordered index over decorated
// names. Names equal under ASCII folding are ordered case-sensitively.
type NameIndex struct {
	items []nameItem
}

// BuildNameIndex sorts entries into a NameIndex. Entries without a decorated
// name are left out.
func BuildNameIndex(entries []*SymbolEntry) *NameIndex {
	items := make([]nameItem, 0, len(entries))
	for _, e := range entries {
		if e.DecoratedName == "" {
			continue
		}
		items = append(items, nameItem{folded: foldASCII(e.DecoratedName), entry: e})
	}
	slices.SortStableFunc(items, compareNameItems)
	return &NameIndex{items: items}
}

func compareNameItems(a, b nameItem) int {
	if c := strings.Compare(a.folded, b.folded); c != 0 {
		return c
	}
	return strings.Compare(a.entry.DecoratedName, b.entry.DecoratedName)
}

// Len returns the number of indexed names.
func (n *NameIndex) Len() int {
	if n == nil {
		return 0
	}
	return len(n.items)
}

// lowerBound returns the first position whose folded name is not below key.
func (n *NameIndex) lowerBound(key string) int {
	i, _ := slices.BinarySearchFunc(n.items, key, func(it nameItem, k string) int {
		return strings.Compare(it.folded, k)
	})
	return i
}

// FindExact returns an entry whose decorated name equals name. Without
// caseSensitive the first entry equal under ASCII folding is returned.
func (n *NameIndex) FindExact(name string, caseSensitive bool) (*SymbolEntry, bool) {
	if n == nil {
		return nil, false
	}
	key := foldASCII(name)
	for i := n.lowerBound(key); i < len(n.items) && n.items[i].folded == key; i++ {
		e := n.items[i].entry
		if !caseSensitive || e.DecoratedName == name {
			return e, true
		}
	}
	return nil, false
}

// FindByPrefix calls visit for each entry whose decorated name starts with
// prefix, in index order, until visit returns false.
func (n *NameIndex) FindByPrefix(prefix string, caseSensitive bool, visit func(SymbolEntry) bool) {
	if n == nil {
		return
	}
	key := foldASCII(prefix)
	for i := n.lowerBound(key); i < len(n.items); i++ {
		it := n.items[i]
		if !strings.HasPrefix(it.folded, key) {
			return
		}
		if caseSensitive && !strings.HasPrefix(it.entry.DecoratedName, prefix) {
			continue
		}
		if !visit(*it.entry) {
			return
		}
	}
}

// foldASCII lowercases ASCII letters only, so folding never changes the byte
// length of a name.
func foldASCII(s string) string {
	for i := 0; i < len(s); i++ {
		if c := s[i]; 'A' <= c && c <= 'Z' {
			b := []byte(s)
			for j := i; j < len(b); j++ {
				if 'A' <= b[j] && b[j] <= 'Z' {
					b[j] += 'a' - 'A'
				}
			}
			return string(b)
		}
	}
	return s
}
