package config

// BrokerConfig configures the JetStream durable consumer.
type BrokerConfig struct {
	URL           string `yaml:"url" validate:"required"`
	Stream        string `yaml:"stream" validate:"required"`
	Durable       string `yaml:"durable" validate:"required"`
	FilterSubject string `yaml:"filter_subject"`
	ClientName    string `yaml:"client_name"`
}

// DefaultBrokerConfig returns the defaults matching the Debezium server setup.
// The URL has no default and must come from config or NATS_URL.
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		Stream:        "DebeziumStream",
		Durable:       "bemi-worker",
		FilterSubject: "bemi",
		ClientName:    "cdc-stitcher",
	}
}

func (c *BrokerConfig) ApplyDefaults() {
	defaults := DefaultBrokerConfig()
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.Durable == "" {
		c.Durable = defaults.Durable
	}
	if c.ClientName == "" {
		c.ClientName = defaults.ClientName
	}
}

func (c *BrokerConfig) ApplyEnvOverrides() {
	envString("NATS_URL", &c.URL)
	envString("NATS_STREAM", &c.Stream)
	envString("NATS_DURABLE", &c.Durable)
	envString("NATS_FILTER_SUBJECT", &c.FilterSubject)
}

func (c *BrokerConfig) ResolvePaths(configDir string) {}

func (c *BrokerConfig) Validate() error {
	return validateStruct("broker", c)
}
