package logging

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// maxTracked bounds the number of distinct records remembered before
// expired entries are pruned.
const maxTracked = 1024

// RepeatFilter drops a record when an identical one (same level, message,
// attributes and logger scope) was emitted less than window ago. The next
// emitted copy carries a "repeated" attribute with the number dropped.
//
// The ingestion loop retries a failing stage every cycle; this keeps a
// broker or sink outage from flooding the output with one line per cycle.
type RepeatFilter struct {
	handler slog.Handler
	scope   uint64
	state   *repeatState
}

type repeatState struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time
	seen   map[uint64]*repeatEntry
}

type repeatEntry struct {
	emitted    time.Time
	suppressed int
}

func NewRepeatFilter(handler slog.Handler, window time.Duration) *RepeatFilter {
	return &RepeatFilter{
		handler: handler,
		state: &repeatState{
			window: window,
			now:    time.Now,
			seen:   make(map[uint64]*repeatEntry),
		},
	}
}

func (h *RepeatFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *RepeatFilter) Handle(ctx context.Context, r slog.Record) error {
	key := h.hashRecord(r)

	suppressed, emit := h.state.admit(key)
	if !emit {
		return nil
	}
	if suppressed > 0 {
		r = r.Clone()
		r.AddAttrs(slog.Int("repeated", suppressed))
	}
	return h.handler.Handle(ctx, r)
}

func (h *RepeatFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	d := xxhash.New()
	writeUint(d, h.scope)
	for _, a := range attrs {
		writeAttr(d, a)
	}
	return &RepeatFilter{handler: h.handler.WithAttrs(attrs), scope: d.Sum64(), state: h.state}
}

func (h *RepeatFilter) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	d := xxhash.New()
	writeUint(d, h.scope)
	_, _ = d.WriteString("group:" + name)
	return &RepeatFilter{handler: h.handler.WithGroup(name), scope: d.Sum64(), state: h.state}
}

// hashRecord digests everything but the timestamp and source.
func (h *RepeatFilter) hashRecord(r slog.Record) uint64 {
	d := xxhash.New()
	writeUint(d, h.scope)
	_, _ = d.WriteString(r.Level.String())
	_, _ = d.WriteString("|")
	_, _ = d.WriteString(r.Message)
	_, _ = d.WriteString("|")
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(d, a)
		return true
	})
	return d.Sum64()
}

// admit records an occurrence of key and reports whether it should be
// emitted, along with how many copies were dropped since the last one.
func (s *repeatState) admit(key uint64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if entry, ok := s.seen[key]; ok {
		if now.Sub(entry.emitted) < s.window {
			entry.suppressed++
			return 0, false
		}
		suppressed := entry.suppressed
		entry.emitted = now
		entry.suppressed = 0
		return suppressed, true
	}

	if len(s.seen) >= maxTracked {
		s.prune(now)
	}
	s.seen[key] = &repeatEntry{emitted: now}
	return 0, true
}

// prune forgets entries whose window has passed. Their suppressed counts
// are lost.
func (s *repeatState) prune(now time.Time) {
	for key, entry := range s.seen {
		if now.Sub(entry.emitted) >= s.window {
			delete(s.seen, key)
		}
	}
}

func writeAttr(d *xxhash.Digest, a slog.Attr) {
	_, _ = d.WriteString(a.Key)
	_, _ = d.WriteString("=")
	_, _ = d.WriteString(a.Value.Resolve().String())
	_, _ = d.WriteString("|")
}

func writeUint(d *xxhash.Digest, v uint64) {
	_, _ = d.WriteString(strconv.FormatUint(v, 16))
	_, _ = d.WriteString("|")
}
