// Package partition implements the replicated PartitionTable named in spec
// §3: per-process last-global-index, first-descendant and last-descendant
// Morton arrays, and owner lookups by global index or Morton key.
package partition

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/starwar9527/bitpit/morton"
)

// Table is the replicated partition table. Every process holds an identical
// copy; it is rebuilt after every adapt (for the global-count bookkeeping)
// and load-balance.
type Table struct {
	NProc int

	// LastGlobalIdx[p] is the global index of the last octant owned by
	// process p (cumulative count minus one). -1 means process p owns no
	// octants; it still carries propagated FirstDesc/LastDesc entries per
	// the empty-partition convention in spec §3.
	LastGlobalIdx []int64

	FirstDesc []morton.Key
	LastDesc  []morton.Key
}

// Build constructs a Table from the per-process owned-octant counts and
// Morton endpoints (first/last descendant of the process's own, possibly
// empty, range). Empty processes have their FirstDesc/LastDesc entries
// propagated from the next non-empty process's first-descendant, per the
// convention named in spec §3.
func Build(counts []uint64, firstDesc, lastDesc []morton.Key) (*Table, error) {
	n := len(counts)
	if len(firstDesc) != n || len(lastDesc) != n {
		return nil, errors.Errorf("error partition table input length mismatch: counts=%d firstDesc=%d lastDesc=%d", n, len(firstDesc), len(lastDesc))
	}

	t := &Table{
		NProc:         n,
		LastGlobalIdx: make([]int64, n),
		FirstDesc:     append([]morton.Key(nil), firstDesc...),
		LastDesc:      append([]morton.Key(nil), lastDesc...),
	}

	var cum int64 = -1
	for p := 0; p < n; p++ {
		if counts[p] == 0 {
			t.LastGlobalIdx[p] = cum
			continue
		}
		cum += int64(counts[p])
		t.LastGlobalIdx[p] = cum
	}

	// Propagate empty partitions' descendant endpoints from the next
	// non-empty process, scanning from the right.
	var nextFirst morton.Key
	haveNext := false
	for p := n - 1; p >= 0; p-- {
		if counts[p] == 0 {
			if haveNext {
				t.FirstDesc[p] = nextFirst
				t.LastDesc[p] = nextFirst
			}
			continue
		}
		nextFirst = t.FirstDesc[p]
		haveNext = true
	}

	return t, nil
}

// GlobalCount returns the total number of octants across all processes.
func (t *Table) GlobalCount() uint64 {
	if t.NProc == 0 {
		return 0
	}
	last := t.LastGlobalIdx[t.NProc-1]
	if last < 0 {
		return 0
	}
	return uint64(last) + 1
}

// OwnerRank returns the rank owning global index idx, or -1 if idx is past
// the end of the global octant count (spec §7 lookup sentinel).
func (t *Table) OwnerRank(idx uint64) int {
	target := int64(idx)
	p := sort.Search(t.NProc, func(p int) bool { return t.LastGlobalIdx[p] >= target })
	if p == t.NProc {
		return -1
	}
	return p
}

// OwnerRankByMorton returns the rank whose range contains Morton key m. It
// is undefined (returns the nearest preceding rank) for keys that fall in a
// coverage gap; callers that need certainty about occupancy should confirm
// against the returned rank's own octant list.
func (t *Table) OwnerRankByMorton(m morton.Key) int {
	p := sort.Search(t.NProc, func(p int) bool { return t.FirstDesc[p] > m }) - 1
	if p < 0 {
		p = 0
	}
	if p >= t.NProc {
		p = t.NProc - 1
	}
	return p
}

// Validate checks invariant 3 of spec §8: last_desc[p] < first_desc[p+1]
// for every non-empty-boundary pair.
func (t *Table) Validate() error {
	for p := 0; p < t.NProc-1; p++ {
		if t.LastGlobalIdx[p] < 0 {
			continue // empty partition, propagated endpoints exempted
		}
		if t.LastDesc[p] >= t.FirstDesc[p+1] {
			return errors.Errorf("error partition table ordering violated at rank %d: last_desc=%d >= first_desc[%d]=%d", p, t.LastDesc[p], p+1, t.FirstDesc[p+1])
		}
	}
	return nil
}
