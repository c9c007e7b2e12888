package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/PiRogueToolSuite/threatr/pkg/modules"
)

// Config is the full service configuration, loaded from a YAML file with
// environment variable overrides on top.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Spool     SpoolConfig     `yaml:"spool"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Credentials seeds the vendor credential store at startup.
	Credentials []CredentialSeed `yaml:"credentials"`

	// Modules declares the generic HTTP vendor endpoints to install.
	Modules []modules.HTTPModuleConfig `yaml:"modules"`
}

type ServerConfig struct {
	ListenAddr      string        `yaml:"listen_addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Empty selects the
	// in-memory store.
	URL string `yaml:"url"`
}

type SchedulerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

type SpoolConfig struct {
	// Dir is where compressed raw vendor payloads are kept. Empty
	// disables spooling.
	Dir string `yaml:"dir"`
}

type AuthConfig struct {
	// APIKeyHashes holds bcrypt hashes of accepted API keys. Empty
	// disables authentication.
	APIKeyHashes []string `yaml:"api_key_hashes"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// CredentialSeed is one vendor credential set declared in configuration.
type CredentialSeed struct {
	Vendor  string            `yaml:"vendor"`
	Secrets map[string]string `yaml:"secrets"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:      ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (optional), fills defaults, applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	c.Server.ListenAddr = DefaultOr(c.Server.ListenAddr, d.Server.ListenAddr)
	c.Server.ReadTimeout = DefaultOr(c.Server.ReadTimeout, d.Server.ReadTimeout)
	c.Server.WriteTimeout = DefaultOr(c.Server.WriteTimeout, d.Server.WriteTimeout)
	c.Server.ShutdownTimeout = DefaultOr(c.Server.ShutdownTimeout, d.Server.ShutdownTimeout)
	c.Scheduler.Workers = DefaultOr(c.Scheduler.Workers, d.Scheduler.Workers)
	c.Scheduler.QueueSize = DefaultOr(c.Scheduler.QueueSize, d.Scheduler.QueueSize)
	c.Logging.Level = DefaultOr(c.Logging.Level, d.Logging.Level)
}

// applyEnv layers environment overrides on top of file values. Only the
// operational knobs are overridable; module declarations stay in the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("THREATR_LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("THREATR_DATABASE_URL"); v != "" {
		c.Database.URL = v
	}
	if v := os.Getenv("THREATR_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Scheduler.Workers = n
		}
	}
	if v := os.Getenv("THREATR_SPOOL_DIR"); v != "" {
		c.Spool.Dir = v
	}
	if v := os.Getenv("THREATR_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("THREATR_API_KEY_HASH"); v != "" {
		c.Auth.APIKeyHashes = append(c.Auth.APIKeyHashes, v)
	}
}

// Validate checks the whole configuration, reporting every problem found.
func (c *Config) Validate() error {
	v := NewValidator("config").
		Required("server.listen_addr", c.Server.ListenAddr).
		MinDuration("server.shutdown_timeout", c.Server.ShutdownTimeout, time.Second).
		RangeInt("scheduler.workers", c.Scheduler.Workers, 1, 256).
		Positive("scheduler.queue_size", c.Scheduler.QueueSize).
		OneOf("logging.level", c.Logging.Level, []string{"debug", "info", "warn", "error"})

	for i, seed := range c.Credentials {
		v.Required(fmt.Sprintf("credentials[%d].vendor", i), seed.Vendor).
			Custom(fmt.Sprintf("credentials[%d].secrets", i), func() error {
				if len(seed.Secrets) == 0 {
					return fmt.Errorf("no secrets declared")
				}
				return nil
			})
	}
	for i, m := range c.Modules {
		v.Required(fmt.Sprintf("modules[%d].identifier", i), m.Identifier).
			Required(fmt.Sprintf("modules[%d].vendor", i), m.Vendor).
			Required(fmt.Sprintf("modules[%d].base_url", i), m.BaseURL).
			Custom(fmt.Sprintf("modules[%d].paths", i), func() error {
				if len(m.Paths) == 0 {
					return fmt.Errorf("no endpoint paths declared")
				}
				return nil
			}).
			Custom(fmt.Sprintf("modules[%d].supported", i), func() error {
				if len(m.Supported) == 0 {
					return fmt.Errorf("no supported types declared")
				}
				return nil
			})
	}

	return v.Validate()
}
