package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/syntrixbase/cdc-stitcher/internal/broker"
)

// ConsumerOptions names the durable consumer to bind.
type ConsumerOptions struct {
	Stream        string
	Durable       string
	FilterSubject string
}

// Consumer is a durable JetStream pull consumer. Every fetched message is
// held until a cumulative ack covers it.
type Consumer struct {
	consumer jetstream.Consumer
	logger   *slog.Logger

	inflight map[uint64]jetstream.Msg
	acked    uint64
}

var _ broker.Consumer = (*Consumer)(nil)

// NewConsumer creates the durable consumer, or updates it when its
// configuration drifted. The stream itself must already exist.
func NewConsumer(ctx context.Context, js JetStream, opts ConsumerOptions, logger *slog.Logger) (*Consumer, error) {
	if js == nil {
		return nil, fmt.Errorf("jetstream cannot be nil")
	}
	if opts.Stream == "" {
		return nil, fmt.Errorf("stream name is required")
	}
	if opts.Durable == "" {
		return nil, fmt.Errorf("durable name is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, opts.Stream, jetstream.ConsumerConfig{
		Durable:       opts.Durable,
		FilterSubject: opts.FilterSubject,
		AckPolicy:     jetstream.AckAllPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s on %s: %w", opts.Durable, opts.Stream, err)
	}

	logger.Info("Bound durable consumer",
		"stream", opts.Stream,
		"durable", opts.Durable,
		"filter_subject", opts.FilterSubject)

	return &Consumer{
		consumer: cons,
		logger:   logger,
		inflight: make(map[uint64]jetstream.Msg),
	}, nil
}

// Fetch pulls up to max messages, waiting at most expires.
func (c *Consumer) Fetch(ctx context.Context, max int, expires time.Duration) ([]broker.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch, err := c.consumer.Fetch(max, jetstream.FetchMaxWait(expires))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", broker.ErrFetchFailed, err)
	}

	var out []broker.Message
	for msg := range batch.Messages() {
		md, err := msg.Metadata()
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read metadata: %w", broker.ErrFetchFailed, err)
		}
		seq := md.Sequence.Stream
		c.inflight[seq] = msg
		out = append(out, broker.Message{
			Subject:  msg.Subject(),
			Sequence: seq,
			Pending:  md.NumPending,
			Data:     msg.Data(),
		})
	}

	if err := batch.Error(); err != nil && !isFetchTimeout(err) {
		return nil, fmt.Errorf("%w: %w", broker.ErrFetchFailed, err)
	}
	return out, nil
}

// Ack acknowledges the highest held message at or below seq. With the
// AckAll policy this covers every earlier delivery too.
func (c *Consumer) Ack(ctx context.Context, seq uint64) error {
	if seq <= c.acked {
		return nil
	}

	var target uint64
	var msg jetstream.Msg
	for s, m := range c.inflight {
		if s <= seq && s > target {
			target, msg = s, m
		}
	}
	if msg == nil {
		return nil
	}

	if err := msg.DoubleAck(ctx); err != nil {
		return fmt.Errorf("%w: sequence %d: %w", broker.ErrAckFailed, target, err)
	}

	for s := range c.inflight {
		if s <= target {
			delete(c.inflight, s)
		}
	}
	c.acked = target
	c.logger.Debug("Acknowledged", "sequence", target, "requested", seq)
	return nil
}

// Inflight returns the number of fetched messages not yet acknowledged.
func (c *Consumer) Inflight() int {
	return len(c.inflight)
}

func isFetchTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
