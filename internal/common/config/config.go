package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	WebSocket struct {
		Port int
	}
	RabbitMQ struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
	}
	Database struct {
		Enabled  bool
		Host     string
		Port     int
		User     string
		Password string
		Name     string // YAML key: "database"
	}
	JWT struct {
		SecretKey string
	}
	Tracking struct {
		RetentionPolicy string        // "evict" or "ttl"
		RetentionTTL    time.Duration // YAML key: "retention_ttl_seconds"
		ObserverBuffer  int           // outbound queue slots per observer
	}
}

const (
	RetentionEvict = "evict"
	RetentionTTL   = "ttl"
)

// LoadFromFile loads config from a YAML file, applies defaults, and validates required fields.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := parseYAML(file, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns a config with defaults applied and no external services enabled.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	return &cfg
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	if cfg.WebSocket.Port == 0 {
		cfg.WebSocket.Port = 8080
	}

	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}

	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}

	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}

	if cfg.Tracking.RetentionPolicy == "" {
		cfg.Tracking.RetentionPolicy = RetentionEvict
	}
	if cfg.Tracking.RetentionTTL == 0 {
		cfg.Tracking.RetentionTTL = 5 * time.Minute
	}
	if cfg.Tracking.ObserverBuffer == 0 {
		cfg.Tracking.ObserverBuffer = 64
	}
}

// validate checks required fields and basic ranges.
func (c *Config) validate() error {
	var problems []string

	if c.WebSocket.Port <= 0 || c.WebSocket.Port > 65535 {
		problems = append(problems, "websocket.port must be in 1..65535")
	}

	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.Port <= 0 || c.RabbitMQ.Port > 65535 {
			problems = append(problems, "rabbitmq.port must be in 1..65535")
		}
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	if c.Database.Enabled {
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			problems = append(problems, "database.port must be in 1..65535")
		}
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}

	switch c.Tracking.RetentionPolicy {
	case RetentionEvict, RetentionTTL:
	default:
		problems = append(problems, "tracking.retention_policy must be \"evict\" or \"ttl\"")
	}
	if c.Tracking.RetentionTTL < 0 {
		problems = append(problems, "tracking.retention_ttl_seconds must be >= 0")
	}
	if c.Tracking.ObserverBuffer < 1 {
		problems = append(problems, "tracking.observer_buffer must be >= 1")
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
