package config

import (
	"fmt"
	"strings"
	"time"
)

// ObservabilityConfig configures the admin server that serves probes and metrics.
type ObservabilityConfig struct {
	Port string `envconfig:"PORT" yaml:"port" default:"9090"`

	// Timeout bounds reads, writes and each readiness run.
	Timeout time.Duration `envconfig:"TIMEOUT" yaml:"timeout" default:"5s" validate:"min=1s"`

	LivenessPath  string `envconfig:"LIVENESS_PATH" yaml:"liveness_path" default:"/healthz"`
	ReadinessPath string `envconfig:"READINESS_PATH" yaml:"readiness_path" default:"/readyz"`
	MetricsPath   string `envconfig:"METRICS_PATH" yaml:"metrics_path" default:"/metrics"`
}

// Validate checks the port and that the three paths are absolute and distinct.
func (o *ObservabilityConfig) Validate() error {
	if err := validatePort(o.Port, "observability"); err != nil {
		return err
	}

	seen := make(map[string]string, 3)
	for name, path := range map[string]string{
		"liveness":  o.LivenessPath,
		"readiness": o.ReadinessPath,
		"metrics":   o.MetricsPath,
	} {
		if !strings.HasPrefix(path, "/") {
			return fmt.Errorf("observability %s path must start with '/', got %q", name, path)
		}
		if other, dup := seen[path]; dup {
			return fmt.Errorf("observability %s and %s paths are both %q", other, name, path)
		}
		seen[path] = name
	}
	return nil
}
