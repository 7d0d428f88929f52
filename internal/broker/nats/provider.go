// Package nats implements the broker consumer port on top of a NATS
// JetStream durable pull consumer.
package nats

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream is the subset of jetstream.JetStream the provider relies on.
type JetStream interface {
	CreateOrUpdateConsumer(ctx context.Context, stream string, cfg jetstream.ConsumerConfig) (jetstream.Consumer, error)
}

// natsConnection abstracts the nats.Conn for testing purposes
type natsConnection interface {
	Close()
}

// natsConnectFunc is a function type for connecting to NATS (injectable for testing)
type natsConnectFunc func(url string, opts ...nats.Option) (natsConnection, error)

// jetStreamFactory is a function type for creating JetStream (injectable for testing)
type jetStreamFactory func(nc natsConnection) (JetStream, error)

var defaultNatsConnect natsConnectFunc = func(url string, opts ...nats.Option) (natsConnection, error) {
	return nats.Connect(url, opts...)
}

var defaultJetStreamFactory jetStreamFactory = func(nc natsConnection) (JetStream, error) {
	conn, ok := nc.(*nats.Conn)
	if !ok {
		return nil, fmt.Errorf("unexpected connection type %T", nc)
	}
	return jetstream.New(conn)
}

// Provider owns the NATS connection and hands out durable consumers.
type Provider struct {
	url    string
	name   string
	logger *slog.Logger

	nc natsConnection
	js JetStream

	natsConnect      natsConnectFunc
	jetStreamFactory jetStreamFactory
}

// NewProvider creates a provider for the server at url. Connect must be
// called before NewConsumer.
func NewProvider(url, name string, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		url:              url,
		name:             name,
		logger:           logger.With("component", "nats"),
		natsConnect:      defaultNatsConnect,
		jetStreamFactory: defaultJetStreamFactory,
	}
}

// Connect establishes the NATS connection and initializes JetStream.
func (p *Provider) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	opts := []nats.Option{}
	if p.name != "" {
		opts = append(opts, nats.Name(p.name))
	}

	nc, err := p.natsConnect(p.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS at %s: %w", p.url, err)
	}

	js, err := p.jetStreamFactory(nc)
	if err != nil {
		nc.Close()
		return fmt.Errorf("failed to create JetStream: %w", err)
	}

	p.nc = nc
	p.js = js
	p.logger.Info("Connected to NATS", "url", p.url)
	return nil
}

// NewConsumer binds the durable pull consumer described by opts.
func (p *Provider) NewConsumer(ctx context.Context, opts ConsumerOptions) (*Consumer, error) {
	if p.js == nil {
		return nil, fmt.Errorf("NATS not connected, call Connect first")
	}
	return NewConsumer(ctx, p.js, opts, p.logger)
}

// Close closes the NATS connection.
func (p *Provider) Close() error {
	if p.nc != nil {
		p.logger.Info("Closing NATS connection...")
		p.nc.Close()
		p.nc = nil
		p.js = nil
	}
	return nil
}
