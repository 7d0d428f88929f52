// Package broker defines the consumer port the ingestion loop pulls change
// envelopes through.
package broker

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrFetchFailed wraps failures to pull messages from the broker.
	ErrFetchFailed = errors.New("broker fetch failed")
	// ErrAckFailed wraps failures to acknowledge a sequence on the broker.
	ErrAckFailed = errors.New("broker ack failed")
)

// Message is one delivered envelope.
type Message struct {
	// Subject is the broker subject, used as the shard key.
	Subject string
	// Sequence is the stream sequence assigned by the broker.
	Sequence uint64
	// Pending is the consumer's reported count of messages still waiting.
	Pending uint64
	Data    []byte
}

// Consumer pulls messages from a durable consumer and acknowledges them
// cumulatively.
type Consumer interface {
	// Fetch returns up to max messages, waiting at most expires for them.
	// An empty result is not an error.
	Fetch(ctx context.Context, max int, expires time.Duration) ([]Message, error)

	// Ack acknowledges every delivered message with a sequence at or below seq.
	Ack(ctx context.Context, seq uint64) error
}
