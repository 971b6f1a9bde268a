package config

import (
	"fmt"
	"time"
)

// AgentConfig configures the local HTTP API and the gRPC health endpoint.
type AgentConfig struct {
	Port              string        `envconfig:"PORT" yaml:"port" default:"8080"`
	Host              string        `envconfig:"HOST" yaml:"host" default:"127.0.0.1"`
	GRPCPort          string        `envconfig:"GRPC_PORT" yaml:"grpc_port" default:"50051"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" yaml:"read_timeout" default:"10s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" yaml:"write_timeout" default:"10s"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" yaml:"read_header_timeout" default:"5s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" yaml:"idle_timeout" default:"60s"`
	MaxHeaderBytes    int           `envconfig:"MAX_HEADER_BYTES" yaml:"max_header_bytes" default:"524288" validate:"min=1"` // 512KB
	// MaxBodyBytes caps request bodies of the agent API.
	MaxBodyBytes int64 `envconfig:"MAX_BODY_BYTES" yaml:"max_body_bytes" default:"1048576" validate:"min=1"`
}

// Validate performs validation on the AgentConfig.
func (c *AgentConfig) Validate() error {
	if err := validatePort(c.Port, "agent"); err != nil {
		return err
	}

	if err := validateHost(c.Host, "agent"); err != nil {
		return err
	}

	if err := validatePort(c.GRPCPort, "agent grpc"); err != nil {
		return err
	}

	if c.Port == c.GRPCPort {
		return fmt.Errorf("agent HTTP and gRPC ports must differ, both are %s", c.Port)
	}

	return nil
}
