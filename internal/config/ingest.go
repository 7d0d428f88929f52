package config

import "time"

// IngestConfig tunes the ingestion loop.
type IngestConfig struct {
	// FetchBatchSize is the max number of messages pulled per cycle.
	FetchBatchSize int `yaml:"fetch_batch_size" validate:"gt=0"`

	// FetchExpires bounds how long a fetch waits for messages.
	FetchExpires time.Duration `yaml:"fetch_expires" validate:"gt=0"`

	// InsertBatchSize is the max number of changes per sink insert.
	InsertBatchSize int `yaml:"insert_batch_size" validate:"gt=0"`

	// PaceInterval is slept after a cycle that persisted anything.
	PaceInterval time.Duration `yaml:"pace_interval" validate:"gte=0"`

	// Filter is an optional CEL expression over `change`; resolved changes
	// for which it evaluates to false are acknowledged but not persisted.
	Filter string `yaml:"filter"`
}

func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		FetchBatchSize:  100,
		FetchExpires:    5 * time.Second,
		InsertBatchSize: 1000,
		PaceInterval:    time.Second,
	}
}

func (c *IngestConfig) ApplyDefaults() {
	d := DefaultIngestConfig()
	if c.FetchBatchSize == 0 {
		c.FetchBatchSize = d.FetchBatchSize
	}
	if c.FetchExpires == 0 {
		c.FetchExpires = d.FetchExpires
	}
	if c.InsertBatchSize == 0 {
		c.InsertBatchSize = d.InsertBatchSize
	}
}

func (c *IngestConfig) ApplyEnvOverrides() {
	envInt("FETCH_BATCH_SIZE", &c.FetchBatchSize)
	envDuration("FETCH_EXPIRES", &c.FetchExpires)
	envInt("INSERT_BATCH_SIZE", &c.InsertBatchSize)
	envDuration("PACE_INTERVAL", &c.PaceInterval)
	envString("INGEST_FILTER", &c.Filter)
}

func (c *IngestConfig) ResolvePaths(configDir string) {}

func (c *IngestConfig) Validate() error {
	return validateStruct("ingest", c)
}
