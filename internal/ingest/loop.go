// Package ingest runs the fetch, stitch, persist and acknowledge cycle.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/syntrixbase/cdc-stitcher/internal/broker"
	"github.com/syntrixbase/cdc-stitcher/internal/buffer"
	"github.com/syntrixbase/cdc-stitcher/internal/change"
	"github.com/syntrixbase/cdc-stitcher/internal/config"
	"github.com/syntrixbase/cdc-stitcher/internal/decoder"
	"github.com/syntrixbase/cdc-stitcher/internal/filter"
	"github.com/syntrixbase/cdc-stitcher/internal/health"
	"github.com/syntrixbase/cdc-stitcher/internal/metrics"
	"github.com/syntrixbase/cdc-stitcher/internal/sink"
	"github.com/syntrixbase/cdc-stitcher/internal/stitch"
)

// Options holds the loop's collaborators. Filter, Logger, Health and
// Metrics may be nil; Metrics defaults to the globally registered recorder.
type Options struct {
	Consumer broker.Consumer
	Sink     sink.Sink
	Decoder  *decoder.Decoder
	Filter   *filter.Filter
	Config   config.IngestConfig
	Logger   *slog.Logger
	Health   *health.Checker
	Metrics  *metrics.Recorder
}

// CycleStats describes what one cycle did.
type CycleStats struct {
	Fetched    int
	Duplicates int
	Foreign    int
	Decoded    int
	Resolved   int
	Filtered   int
	Persisted  int
	Buffered   int
	// Pending is the broker's remaining-message hint from the last message.
	Pending     uint64
	AckSequence uint64
}

// Loop owns the consumer, the sink and the carried buffer. It is not safe
// for concurrent use.
type Loop struct {
	consumer broker.Consumer
	sink     sink.Sink
	decoder  *decoder.Decoder
	filter   *filter.Filter
	cfg      config.IngestConfig
	logger   *slog.Logger
	health   *health.Checker
	metrics  *metrics.Recorder

	buffer  *buffer.Buffer
	lastSeq uint64

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a loop with an empty buffer.
func New(opts Options) (*Loop, error) {
	if opts.Consumer == nil {
		return nil, errors.New("ingest: consumer is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("ingest: sink is required")
	}
	if opts.Decoder == nil {
		opts.Decoder = decoder.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default()
	}

	cfg := opts.Config
	cfg.ApplyDefaults()

	return &Loop{
		consumer: opts.Consumer,
		sink:     opts.Sink,
		decoder:  opts.Decoder,
		filter:   opts.Filter,
		cfg:      cfg,
		logger:   logger.With("component", "ingest"),
		health:   opts.Health,
		metrics:  opts.Metrics,
		buffer:   buffer.New(),
		sleep:    sleepContext,
	}, nil
}

// Run repeats cycles until ctx is cancelled, which returns nil, or a cycle
// fails, which returns the cycle's error.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("Ingestion loop started",
		"fetch_batch_size", l.cfg.FetchBatchSize,
		"insert_batch_size", l.cfg.InsertBatchSize,
		"filter", l.filter.String())

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Ingestion loop stopped", "buffered", l.buffer.Len())
			return nil
		default:
		}

		if _, err := l.Cycle(ctx); err != nil {
			if ctx.Err() != nil {
				l.logger.Info("Ingestion loop stopped mid-cycle", "buffered", l.buffer.Len())
				return nil
			}
			l.logger.Error("Ingestion cycle failed", "error", err)
			return err
		}
	}
}

// Buffered returns the number of records carried to the next cycle.
func (l *Loop) Buffered() int {
	return l.buffer.Len()
}

// Cycle runs one fetch to pace pass. The carried buffer and the sequence
// high-water mark change only when every step succeeds.
func (l *Loop) Cycle(ctx context.Context) (CycleStats, error) {
	var stats CycleStats

	msgs, err := l.consumer.Fetch(ctx, l.cfg.FetchBatchSize, l.cfg.FetchExpires)
	if err != nil {
		if !errors.Is(err, broker.ErrFetchFailed) {
			err = fmt.Errorf("%w: %w", broker.ErrFetchFailed, err)
		}
		return stats, l.fail(metrics.StageFetch, health.ComponentBroker, err)
	}
	l.recordSuccess(health.ComponentBroker)
	stats.Fetched = len(msgs)
	l.metrics.MessagesFetched.Add(float64(len(msgs)))

	records, highest, err := l.decode(msgs, &stats)
	if err != nil {
		return stats, l.fail(metrics.StageDecode, "", err)
	}

	merged := l.buffer.Merge(records...)
	result := stitch.Stitch(merged)
	stats.Resolved = len(result.Resolved)
	stats.Buffered = result.Buffer.Len()
	stats.AckSequence = result.AckSequence

	kept, err := l.applyFilter(result.Resolved)
	if err != nil {
		return stats, l.fail(metrics.StageFilter, "", err)
	}
	stats.Filtered = len(result.Resolved) - len(kept)

	if err := l.persist(ctx, kept); err != nil {
		return stats, l.fail(metrics.StagePersist, health.ComponentSink, err)
	}
	stats.Persisted = len(kept)

	if result.AckSequence > 0 {
		if err := l.consumer.Ack(ctx, result.AckSequence); err != nil {
			if !errors.Is(err, broker.ErrAckFailed) {
				err = fmt.Errorf("%w: %w", broker.ErrAckFailed, err)
			}
			return stats, l.fail(metrics.StageAck, health.ComponentBroker, err)
		}
		l.metrics.AckSequence.Set(float64(result.AckSequence))
	}

	l.buffer = result.Buffer
	l.lastSeq = highest

	l.metrics.BufferedRecords.Set(float64(stats.Buffered))
	if stats.Fetched > 0 {
		l.metrics.PendingMessages.Set(float64(stats.Pending))
	}
	if l.health != nil {
		l.health.RecordCycle(stats.Buffered, stats.AckSequence)
	}

	l.logCycle(stats)

	if stats.Persisted > 0 && l.cfg.PaceInterval > 0 {
		// Interrupted pacing is not a failure; Run notices the cancellation.
		_ = l.sleep(ctx, l.cfg.PaceInterval)
	}
	return stats, nil
}

// decode drops messages at or below the high-water mark and envelopes that
// are not ours, and returns the decoded records with the new mark.
func (l *Loop) decode(msgs []broker.Message, stats *CycleStats) ([]change.Record, uint64, error) {
	highest := l.lastSeq
	records := make([]change.Record, 0, len(msgs))

	for _, msg := range msgs {
		if msg.Sequence <= highest {
			stats.Duplicates++
			l.metrics.MessagesDropped.WithLabelValues(metrics.DropDuplicate).Inc()
			continue
		}
		highest = msg.Sequence
		stats.Pending = msg.Pending

		rec, err := l.decoder.Decode(msg)
		if err != nil {
			return nil, 0, err
		}
		if rec == nil {
			stats.Foreign++
			l.metrics.MessagesDropped.WithLabelValues(metrics.DropForeign).Inc()
			continue
		}
		records = append(records, *rec)
	}

	stats.Decoded = len(records)
	return records, highest, nil
}

func (l *Loop) applyFilter(resolved []change.Record) ([]change.Record, error) {
	if l.filter == nil {
		return resolved, nil
	}

	kept := make([]change.Record, 0, len(resolved))
	for _, rec := range resolved {
		ok, err := l.filter.Match(rec)
		if err != nil {
			return nil, fmt.Errorf("filter %s.%s sequence %d: %w", rec.Schema, rec.Table, rec.Sequence, err)
		}
		if !ok {
			l.metrics.MessagesDropped.WithLabelValues(metrics.DropFiltered).Inc()
			continue
		}
		kept = append(kept, rec)
	}
	return kept, nil
}

func (l *Loop) persist(ctx context.Context, records []change.Record) error {
	if len(records) == 0 {
		return nil
	}

	changes := make([]change.Change, len(records))
	for i, rec := range records {
		changes[i] = change.NewChange(rec)
	}

	start := time.Now()
	for _, batch := range sink.Chunk(changes, l.cfg.InsertBatchSize) {
		if err := l.sink.Insert(ctx, batch); err != nil {
			if !errors.Is(err, sink.ErrWriteFailed) {
				err = fmt.Errorf("%w: %w", sink.ErrWriteFailed, err)
			}
			return err
		}
	}
	l.metrics.PersistLatency.Observe(time.Since(start).Seconds())
	l.metrics.ChangesPersisted.Add(float64(len(changes)))
	l.recordSuccess(health.ComponentSink)

	l.logger.Info("Persisted changes", "count", len(changes))
	return nil
}

func (l *Loop) fail(stage, component string, err error) error {
	l.metrics.CycleErrors.WithLabelValues(stage).Inc()
	if l.health != nil && component != "" {
		l.health.RecordError(component, err)
	}
	return err
}

func (l *Loop) recordSuccess(component string) {
	if l.health != nil {
		l.health.RecordSuccess(component)
	}
}

func (l *Loop) logCycle(stats CycleStats) {
	if stats.Fetched == 0 {
		return
	}
	l.logger.Debug("Cycle completed",
		"fetched", stats.Fetched,
		"duplicates", stats.Duplicates,
		"foreign", stats.Foreign,
		"resolved", stats.Resolved,
		"filtered", stats.Filtered,
		"persisted", stats.Persisted,
		"buffered", stats.Buffered,
		"pending", stats.Pending,
		"ack", stats.AckSequence)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
