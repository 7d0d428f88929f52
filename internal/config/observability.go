package config

// HealthConfig configures the health HTTP endpoint.
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"gt=0,lte=65535"`
	Path    string `yaml:"path" validate:"required,startswith=/"`
}

func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Enabled: true,
		Port:    4005,
		Path:    "/health",
	}
}

func (c *HealthConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 4005
	}
	if c.Path == "" {
		c.Path = "/health"
	}
}

func (c *HealthConfig) ApplyEnvOverrides() {
	envInt("PORT", &c.Port)
}

func (c *HealthConfig) ResolvePaths(configDir string) {}

func (c *HealthConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validateStruct("health", c)
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port" validate:"gt=0,lte=65535"`
	Path    string `yaml:"path" validate:"required,startswith=/"`
}

func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled: true,
		Port:    9464,
		Path:    "/metrics",
	}
}

func (c *MetricsConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 9464
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

func (c *MetricsConfig) ApplyEnvOverrides() {
	envInt("METRICS_PORT", &c.Port)
}

func (c *MetricsConfig) ResolvePaths(configDir string) {}

func (c *MetricsConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validateStruct("metrics", c)
}
