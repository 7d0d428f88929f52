package config

import (
	"fmt"
	"time"
)

// Sink backends.
const (
	SinkPostgres = "postgres"
	SinkMongo    = "mongo"
	SinkPebble   = "pebble"
)

// SinkConfig selects and configures the store changes are written to.
type SinkConfig struct {
	Backend  string         `yaml:"backend"`
	Postgres PostgresConfig `yaml:"postgres"`
	Mongo    MongoConfig    `yaml:"mongo"`
	Pebble   PebbleConfig   `yaml:"pebble"`
}

// PostgresConfig configures the PostgreSQL sink.
type PostgresConfig struct {
	Host           string        `yaml:"host" validate:"required"`
	Port           int           `yaml:"port" validate:"gt=0,lte=65535"`
	Name           string        `yaml:"name" validate:"required"`
	User           string        `yaml:"user" validate:"required"`
	Password       string        `yaml:"password"`
	SSLMode        string        `yaml:"sslmode" validate:"omitempty,oneof=disable allow prefer require verify-ca verify-full"`
	Table          string        `yaml:"table" validate:"required"`
	MaxOpenConns   int           `yaml:"max_open_conns" validate:"gt=0"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

// MongoConfig configures the MongoDB sink.
type MongoConfig struct {
	URI            string        `yaml:"uri" validate:"required"`
	Database       string        `yaml:"database" validate:"required"`
	Collection     string        `yaml:"collection" validate:"required"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" validate:"gt=0"`
}

// PebbleConfig configures the embedded sink.
type PebbleConfig struct {
	Path           string `yaml:"path" validate:"required"`
	BlockCacheSize int64  `yaml:"block_cache_size" validate:"gt=0"`
}

func DefaultSinkConfig() SinkConfig {
	return SinkConfig{
		Backend: SinkPostgres,
		Postgres: PostgresConfig{
			Host:           "127.0.0.1",
			Port:           5432,
			Name:           "bemi_dev",
			User:           "postgres",
			SSLMode:        "disable",
			Table:          "changes",
			MaxOpenConns:   4,
			ConnectTimeout: 10 * time.Second,
		},
		Mongo: MongoConfig{
			URI:            "mongodb://localhost:27017",
			Database:       "bemi",
			Collection:     "changes",
			ConnectTimeout: 10 * time.Second,
		},
		Pebble: PebbleConfig{
			Path:           "data/changes",
			BlockCacheSize: 64 * 1024 * 1024,
		},
	}
}

func (c *SinkConfig) ApplyDefaults() {
	d := DefaultSinkConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}

	if c.Postgres.Port == 0 {
		c.Postgres.Port = d.Postgres.Port
	}
	if c.Postgres.Table == "" {
		c.Postgres.Table = d.Postgres.Table
	}
	if c.Postgres.MaxOpenConns == 0 {
		c.Postgres.MaxOpenConns = d.Postgres.MaxOpenConns
	}
	if c.Postgres.ConnectTimeout == 0 {
		c.Postgres.ConnectTimeout = d.Postgres.ConnectTimeout
	}

	if c.Mongo.Collection == "" {
		c.Mongo.Collection = d.Mongo.Collection
	}
	if c.Mongo.ConnectTimeout == 0 {
		c.Mongo.ConnectTimeout = d.Mongo.ConnectTimeout
	}

	if c.Pebble.Path == "" {
		c.Pebble.Path = d.Pebble.Path
	}
	if c.Pebble.BlockCacheSize == 0 {
		c.Pebble.BlockCacheSize = d.Pebble.BlockCacheSize
	}
}

func (c *SinkConfig) ApplyEnvOverrides() {
	envString("SINK_BACKEND", &c.Backend)

	envString("DB_HOST", &c.Postgres.Host)
	envInt("DB_PORT", &c.Postgres.Port)
	envString("DB_NAME", &c.Postgres.Name)
	envString("DB_USER", &c.Postgres.User)
	envString("DB_PASSWORD", &c.Postgres.Password)
	envString("DB_SSLMODE", &c.Postgres.SSLMode)

	envString("MONGO_URI", &c.Mongo.URI)
	envString("MONGO_DATABASE", &c.Mongo.Database)

	envString("PEBBLE_PATH", &c.Pebble.Path)
}

func (c *SinkConfig) ResolvePaths(configDir string) {
	c.Pebble.Path = resolvePath(configDir, c.Pebble.Path)
}

// Validate checks the backend name and only the settings of that backend.
func (c *SinkConfig) Validate() error {
	switch c.Backend {
	case SinkPostgres:
		return validateStruct("sink.postgres", &c.Postgres)
	case SinkMongo:
		return validateStruct("sink.mongo", &c.Mongo)
	case SinkPebble:
		return validateStruct("sink.pebble", &c.Pebble)
	default:
		return fmt.Errorf("sink.backend must be one of [postgres mongo pebble], got %q", c.Backend)
	}
}
