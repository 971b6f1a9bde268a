package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DatabaseConfig locates the PostgreSQL event warehouse used by the
// postgres events backend. URL, when set, replaces the component fields.
type DatabaseConfig struct {
	URL      string `envconfig:"URL" yaml:"url"`
	Host     string `envconfig:"HOST" yaml:"host"`
	Port     string `envconfig:"PORT" yaml:"port"`
	Name     string `envconfig:"NAME" yaml:"name"`
	User     string `envconfig:"USER" yaml:"user"`
	Password string `envconfig:"PASSWORD" yaml:"password"`
	SSLMode  string `envconfig:"SSL_MODE" yaml:"ssl_mode" default:"prefer" validate:"oneof=disable allow prefer require verify-ca verify-full"`

	MaxConns        int           `envconfig:"MAX_CONNS" yaml:"max_conns" default:"25" validate:"min=1"`
	MinConns        int           `envconfig:"MIN_CONNS" yaml:"min_conns" default:"2" validate:"min=0"`
	MaxConnLifetime time.Duration `envconfig:"MAX_CONN_LIFETIME" yaml:"max_conn_lifetime" default:"1h"`
	MaxConnIdleTime time.Duration `envconfig:"MAX_CONN_IDLE_TIME" yaml:"max_conn_idle_time" default:"30m"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" yaml:"connect_timeout" default:"5s"`

	// ApplicationName tags the agent's sessions in pg_stat_activity.
	ApplicationName string `envconfig:"APPLICATION_NAME" yaml:"application_name" default:"heimdall-agent"`
}

// ConnectionString returns URL as is, or a postgres:// URL built from the components.
func (c *DatabaseConfig) ConnectionString() string {
	if c.URL != "" {
		return c.URL
	}

	params := url.Values{"sslmode": {c.SSLMode}}
	if c.ApplicationName != "" {
		params.Set("application_name", c.ApplicationName)
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Name,
		RawQuery: params.Encode(),
	}
	return u.String()
}

// Validate checks either the URL or the components. Production additionally
// requires a strong password and a verifying SSL mode.
func (c *DatabaseConfig) Validate(environment string) error {
	if c.URL != "" {
		if err := validatePostgresURL(c.URL); err != nil {
			return fmt.Errorf("invalid database URL: %w", err)
		}
	} else {
		checks := []error{
			validateHost(c.Host, "database"),
			validatePort(c.Port, "database"),
			validateNoWhitespace(c.Name, "database name"),
			validateNoWhitespace(c.User, "database user"),
		}
		if err := errors.Join(checks...); err != nil {
			return err
		}
		if len(c.Name) > 63 {
			return fmt.Errorf("database name cannot exceed 63 characters")
		}
		if environment == EnvironmentProduction {
			if err := requireProductionPassword(c.Password, "database"); err != nil {
				return err
			}
			if !isSecureSSLMode(c.SSLMode) {
				return fmt.Errorf("database SSL mode must be 'require', 'verify-ca', or 'verify-full' in production environment")
			}
		}
	}

	if c.MinConns > c.MaxConns {
		return fmt.Errorf("min_conns (%d) cannot be greater than max_conns (%d)", c.MinConns, c.MaxConns)
	}
	return nil
}

// IsConfigured reports whether enough is set to attempt a connection.
func (c *DatabaseConfig) IsConfigured() bool {
	return c.URL != "" || (c.Host != "" && c.Port != "" && c.Name != "" && c.User != "")
}

func validatePostgresURL(dbURL string) error {
	parsed, err := parseAndValidateURL(dbURL, []string{"postgres", "postgresql"})
	if err != nil {
		return err
	}
	if parsed.User == nil || parsed.User.Username() == "" {
		return fmt.Errorf("user is required in URL")
	}
	if strings.TrimPrefix(parsed.Path, "/") == "" {
		return fmt.Errorf("database name is required in URL path")
	}
	return nil
}
