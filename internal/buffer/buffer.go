// Package buffer holds records that are waiting for their pairing partner.
//
// A Buffer is an immutable value: Merge returns a new buffer and leaves the
// receiver untouched, so a failed cycle can simply keep using the old one.
// Slots live in a copy-on-write B-tree ordered by (shard, position).
package buffer

import (
	"cmp"
	"slices"

	"github.com/google/btree"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

const degree = 32

// slot is the pairing group of one (shard, position).
type slot struct {
	shard    string
	position int64
	records  []change.Record
}

func lessSlot(a, b slot) bool {
	if a.shard != b.shard {
		return a.shard < b.shard
	}
	return a.position < b.position
}

// Buffer maps shard and position to the records that arrived for them.
type Buffer struct {
	tree   *btree.BTreeG[slot]
	size   int
	shards map[string]int
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{
		tree:   btree.NewG(degree, lessSlot),
		shards: map[string]int{},
	}
}

// Merge appends records to their (shard, position) slots in arrival order.
func (b *Buffer) Merge(records ...change.Record) *Buffer {
	if len(records) == 0 {
		return b
	}

	next := &Buffer{
		tree:   b.tree.Clone(),
		size:   b.size,
		shards: make(map[string]int, len(b.shards)+1),
	}
	for k, v := range b.shards {
		next.shards[k] = v
	}

	for _, rec := range records {
		key := slot{shard: rec.ShardKey, position: rec.Position}
		existing, _ := next.tree.Get(key)

		grown := make([]change.Record, 0, len(existing.records)+1)
		grown = append(grown, existing.records...)
		grown = append(grown, rec)
		key.records = grown

		next.tree.ReplaceOrInsert(key)
		next.size++
		next.shards[rec.ShardKey]++
	}
	return next
}

// ForEachShard calls fn for every shard in lexical order with the shard's
// records sorted by (transaction id, sequence).
func (b *Buffer) ForEachShard(fn func(shard string, records []change.Record)) {
	var (
		current string
		records []change.Record
		started bool
	)
	flush := func() {
		if !started {
			return
		}
		slices.SortStableFunc(records, byArrival)
		fn(current, records)
	}

	b.tree.Ascend(func(s slot) bool {
		if !started || s.shard != current {
			flush()
			current = s.shard
			records = make([]change.Record, 0, b.shards[s.shard])
			started = true
		}
		records = append(records, s.records...)
		return true
	})
	flush()
}

// RecordsAt returns the pairing group for shard and position.
func (b *Buffer) RecordsAt(shard string, position int64) []change.Record {
	s, ok := b.tree.Get(slot{shard: shard, position: position})
	if !ok {
		return nil
	}
	return slices.Clone(s.records)
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	return b.size
}

// ShardLen returns the number of buffered records for shard.
func (b *Buffer) ShardLen(shard string) int {
	return b.shards[shard]
}

// Shards returns the shard keys holding records, sorted.
func (b *Buffer) Shards() []string {
	out := make([]string, 0, len(b.shards))
	for k := range b.shards {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

func byArrival(a, b change.Record) int {
	if c := cmp.Compare(a.TransactionID, b.TransactionID); c != 0 {
		return c
	}
	return cmp.Compare(a.Sequence, b.Sequence)
}
