package config

import (
	"github.com/tegendraads/registry/pkg/database"
	"github.com/tegendraads/registry/pkg/events"
	"github.com/tegendraads/registry/pkg/logger"
	"github.com/tegendraads/registry/pkg/resilience"
	"github.com/tegendraads/registry/pkg/telemetry"
)

func (c LoggerConfig) ToLoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Level,
		Format:     c.Format,
		Output:     c.Output,
		AddCaller:  c.AddCaller,
		Stacktrace: c.Stacktrace,
	}
}

func (c DatabaseConfig) ToDatabaseConfig() database.Config {
	return database.Config{
		Driver:             c.Driver,
		Path:               c.Path,
		Host:               c.Host,
		Port:               c.Port,
		User:               c.User,
		Password:           c.Password,
		Name:               c.Name,
		SSLMode:            c.SSLMode,
		MaxOpenConns:       c.MaxOpenConns,
		MaxIdleConns:       c.MaxIdleConns,
		SlowQueryThreshold: c.SlowQueryThreshold,
	}
}

func (c KafkaConfig) ToKafkaConfig() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers: c.Brokers,
		Topic:   c.Topic,
	}
}

func (c TelemetryConfig) ToTelemetryConfig() telemetry.Config {
	return telemetry.Config{
		Enabled:      c.Enabled,
		JaegerURL:    c.JaegerURL,
		ServiceName:  c.ServiceName,
		SamplingRate: c.SamplingRate,
	}
}

// ToCircuitBreakerConfig starts from the resilience defaults and applies
// the configured thresholds.
func (c BreakerConfig) ToCircuitBreakerConfig(name string) resilience.CircuitBreakerConfig {
	cfg := resilience.DefaultCircuitBreakerConfig(name)
	if c.FailureRatio > 0 {
		cfg.FailureRatio = c.FailureRatio
	}
	if c.MinRequests > 0 {
		cfg.MinRequests = c.MinRequests
	}
	if c.OpenTimeout > 0 {
		cfg.Timeout = c.OpenTimeout
	}
	return cfg
}
