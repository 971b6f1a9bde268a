package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// RedisConfig locates the Redis server shared by the redis apply store and
// the redis stream events backend. URL, when set, replaces Host and Port.
type RedisConfig struct {
	URL        string `envconfig:"URL" yaml:"url"`
	Host       string `envconfig:"HOST" yaml:"host"`
	Port       string `envconfig:"PORT" yaml:"port"`
	Password   string `envconfig:"PASSWORD" yaml:"password"`
	DB         int    `envconfig:"DB" yaml:"db" default:"0" validate:"min=0,max=15"`
	TLSEnabled bool   `envconfig:"TLS_ENABLED" yaml:"tls_enabled" default:"false"`

	PoolSize        int           `envconfig:"POOL_SIZE" yaml:"pool_size" default:"50" validate:"min=1"`
	MinIdleConns    int           `envconfig:"MIN_IDLE_CONNS" yaml:"min_idle_conns" default:"10" validate:"min=0"`
	DialTimeout     time.Duration `envconfig:"DIAL_TIMEOUT" yaml:"dial_timeout" default:"5s"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" yaml:"read_timeout" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" yaml:"write_timeout" default:"3s"`
	PoolTimeout     time.Duration `envconfig:"POOL_TIMEOUT" yaml:"pool_timeout" default:"4s"`
	MaxRetries      int           `envconfig:"MAX_RETRIES" yaml:"max_retries" default:"3" validate:"min=0"`
	MinRetryBackoff time.Duration `envconfig:"MIN_RETRY_BACKOFF" yaml:"min_retry_backoff" default:"8ms"`
	MaxRetryBackoff time.Duration `envconfig:"MAX_RETRY_BACKOFF" yaml:"max_retry_backoff" default:"512ms"`

	// PingMaxRetries and PingBackoff bound the start-up connection check.
	PingMaxRetries int           `envconfig:"PING_MAX_RETRIES" yaml:"ping_max_retries" default:"5" validate:"min=1"`
	PingBackoff    time.Duration `envconfig:"PING_BACKOFF" yaml:"ping_backoff" default:"2s"`
}

// Address returns host:port, or "" when the connection is given as a URL.
func (c *RedisConfig) Address() string {
	if c.URL != "" {
		return ""
	}
	return net.JoinHostPort(c.Host, c.Port)
}

// Validate checks either the URL or the components. Production additionally
// requires a strong password and TLS.
func (c *RedisConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validateRedisURL(c.URL); err != nil {
			return fmt.Errorf("invalid redis URL: %w", err)
		}
	} else {
		if err := validateHost(c.Host, "redis"); err != nil {
			return err
		}
		if err := validatePort(c.Port, "redis"); err != nil {
			return err
		}
		if environment == EnvironmentProduction {
			if err := requireProductionPassword(c.Password, "redis"); err != nil {
				return err
			}
			if !c.TLSEnabled {
				return fmt.Errorf("redis TLS must be enabled in production environment")
			}
		}
	}

	if c.MinIdleConns > c.PoolSize {
		return fmt.Errorf("min_idle_conns (%d) cannot be greater than pool_size (%d)", c.MinIdleConns, c.PoolSize)
	}
	return nil
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *RedisConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "")
}

// validateRedisURL accepts redis:// and rediss:// with an optional /<db> in 0..15.
func validateRedisURL(redisURL string) error {
	parsed, err := parseAndValidateURL(redisURL, []string{"redis", "rediss"})
	if err != nil {
		return err
	}

	db := strings.TrimPrefix(parsed.Path, "/")
	if db == "" {
		return nil
	}
	n, err := strconv.Atoi(db)
	if err != nil {
		return fmt.Errorf("database number must be a valid integer: %s", db)
	}
	if n < 0 || n > 15 {
		return fmt.Errorf("database number must be between 0 and 15, got %d", n)
	}
	return nil
}
