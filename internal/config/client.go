package config

import (
	"fmt"
	"time"
)

// ClientConfig holds the credentials and endpoint of the flag backend.
type ClientConfig struct {
	Secret string `envconfig:"SECRET" yaml:"secret"`
	// Region selects a hosted endpoint; BaseURL overrides it.
	Region         string        `envconfig:"REGION" yaml:"region" default:"GLOBAL" validate:"oneof=GLOBAL EUROPE USA"`
	BaseURL        string        `envconfig:"BASE_URL" yaml:"base_url"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" yaml:"request_timeout" default:"10s" validate:"min=100ms"`
	SDKID          string        `envconfig:"SDK_ID" yaml:"sdk_id" default:"SDK_ID_GO_HEIMDALL"`
	SDKVersion     string        `envconfig:"SDK_VERSION" yaml:"sdk_version" default:"dev"`
}

// Validate checks the client secret and the optional base URL.
func (c *ClientConfig) Validate(environment string) error {
	if err := validateNoWhitespace(c.Secret, "client secret"); err != nil {
		return err
	}

	if c.BaseURL != "" {
		schemes := []string{"http", "https"}
		if environment == EnvironmentProduction {
			schemes = []string{"https"}
		}
		if _, err := parseAndValidateURL(c.BaseURL, schemes); err != nil {
			return fmt.Errorf("invalid client base URL: %w", err)
		}
	}

	return nil
}
