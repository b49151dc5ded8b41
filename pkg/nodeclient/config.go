// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// BackoffConfig specifies request retry policy.
type BackoffConfig struct {
	WaitMin    time.Duration `yaml:"wait_min"`
	WaitMax    time.Duration `yaml:"wait_max"`
	MaxRetries uint64        `yaml:"max_retries"`
	Multiplier float64       `yaml:"multiplier"`
}

// Config specifies the Scylla REST API client.
type Config struct {
	// Port specifies the default Scylla REST API port.
	Port string `yaml:"port"`
	// Timeout specifies time to complete a single request.
	Timeout time.Duration `yaml:"timeout"`
	// StatusPollInterval specifies how often repair job status is checked.
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
	Backoff            BackoffConfig `yaml:"backoff"`
}

// DefaultConfig returns a Config initialized with default values.
func DefaultConfig() Config {
	return Config{
		Port:               "10000",
		Timeout:            15 * time.Second,
		StatusPollInterval: time.Second,
		Backoff: BackoffConfig{
			WaitMin:    time.Second,
			WaitMax:    10 * time.Second,
			MaxRetries: 3,
			Multiplier: 2,
		},
	}
}

// Validate checks if all the fields are properly set.
func (c Config) Validate() error {
	var err error
	if c.Port == "" {
		err = multierr.Append(err, errors.New("missing port"))
	}
	if c.Timeout <= 0 {
		err = multierr.Append(err, errors.New("invalid timeout, must be > 0"))
	}
	if c.StatusPollInterval <= 0 {
		err = multierr.Append(err, errors.New("invalid status_poll_interval, must be > 0"))
	}
	if c.Backoff.Multiplier < 1 {
		err = multierr.Append(err, errors.New("invalid backoff.multiplier, must be >= 1"))
	}
	return err
}
