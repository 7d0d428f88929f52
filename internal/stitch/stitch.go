// Package stitch pairs mutations with the annotations carrying their context
// and computes how far the broker may be acknowledged.
package stitch

import (
	"github.com/syntrixbase/cdc-stitcher/internal/buffer"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
)

// Result is the outcome of one stitching pass.
type Result struct {
	// Resolved holds the mutations ready to persist, in shard then arrival order.
	Resolved []change.Record
	// Buffer holds the records still waiting for a partner.
	Buffer *buffer.Buffer
	// AckSequence is the highest sequence safe to acknowledge; zero means none.
	AckSequence uint64
}

// shardProgress tracks one shard during a pass.
type shardProgress struct {
	safe    uint64 // max of resolved and heartbeat sequences
	pending uint64 // sequence of the deferred record, if any
}

// bound returns the highest sequence of this shard that may be acknowledged.
func (p shardProgress) bound() (uint64, bool) {
	if p.pending == 0 {
		return p.safe, p.safe > 0
	}
	limit := p.pending - 1
	if p.safe > 0 && p.safe < limit {
		limit = p.safe
	}
	return limit, true
}

// Stitch resolves what it can from buf. It never fails and never modifies buf.
func Stitch(buf *buffer.Buffer) Result {
	var (
		resolved []change.Record
		carried  []change.Record
		maxSeen  uint64
		progress []shardProgress
	)

	buf.ForEachShard(func(shard string, records []change.Record) {
		var p shardProgress
		last := len(records) - 1

		for i, rec := range records {
			maxSeen = max(maxSeen, rec.Sequence)

			if rec.Heartbeat {
				p.safe = max(p.safe, rec.Sequence)
				continue
			}

			group := partners(buf.RecordsAt(shard, rec.Position))
			if i == last && len(group) == 1 {
				carried = append(carried, rec)
				p.pending = rec.Sequence
				continue
			}

			switch rec.Kind {
			case change.KindAnnotation, change.KindUnknown:
				continue
			case change.KindCreate, change.KindUpdate, change.KindDelete, change.KindTruncate:
				out := rec
				if ann, ok := contextFor(group); ok {
					out = rec.WithContext(ann.Context)
				}
				resolved = append(resolved, out)
				p.safe = max(p.safe, rec.Sequence)
			}
		}
		progress = append(progress, p)
	})

	next := buffer.New().Merge(carried...)
	return Result{
		Resolved:    resolved,
		Buffer:      next,
		AckSequence: ackSequence(next, progress, maxSeen),
	}
}

// ackSequence acknowledges everything observed when nothing is pending.
// Otherwise no shard may be acknowledged past its pending record.
func ackSequence(next *buffer.Buffer, progress []shardProgress, maxSeen uint64) uint64 {
	if next.Len() == 0 {
		return maxSeen
	}

	var (
		ack   uint64
		bound bool
	)
	for _, p := range progress {
		b, ok := p.bound()
		if !ok {
			continue
		}
		if !bound || b < ack {
			ack = b
			bound = true
		}
	}
	return ack
}

// partners drops heartbeats, which never pair with anything.
func partners(group []change.Record) []change.Record {
	out := group[:0]
	for _, r := range group {
		if !r.Heartbeat {
			out = append(out, r)
		}
	}
	return out
}

func contextFor(group []change.Record) (change.Record, bool) {
	for _, r := range group {
		if r.IsContextAnnotation() {
			return r, true
		}
	}
	return change.Record{}, false
}
