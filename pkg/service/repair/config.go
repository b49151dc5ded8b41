// Copyright (C) 2017 ScyllaDB

package repair

import (
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/service"
	"go.uber.org/multierr"
)

// Config specifies the repair service configuration.
type Config struct {
	HangingRepairTimeout  time.Duration `yaml:"hanging_repair_timeout"`
	RepairLoopInterval    time.Duration `yaml:"repair_loop_interval"`
	SchedulerTickInterval time.Duration `yaml:"scheduler_tick_interval"`
	MaxSegmentFailures    int           `yaml:"max_segment_failures"`
	MaxParallelRuns       int           `yaml:"max_parallel_runs"`
	ConnectTimeout        time.Duration `yaml:"connect_timeout"`
	ConnectBackoff        BackoffConfig `yaml:"connect_backoff"`
	DefaultIntensity      float64       `yaml:"default_intensity"`
}

// BackoffConfig specifies the wait time of a lane after its segment could not
// be started.
type BackoffConfig struct {
	WaitMin time.Duration `yaml:"wait_min"`
	WaitMax time.Duration `yaml:"wait_max"`
}

// DefaultConfig returns a Config initialized with default values.
func DefaultConfig() Config {
	return Config{
		HangingRepairTimeout:  30 * time.Minute,
		RepairLoopInterval:    10 * time.Second,
		SchedulerTickInterval: 30 * time.Second,
		MaxSegmentFailures:    10,
		MaxParallelRuns:       10,
		ConnectTimeout:        30 * time.Second,
		ConnectBackoff: BackoffConfig{
			WaitMin: 10 * time.Second,
			WaitMax: 5 * time.Minute,
		},
		DefaultIntensity: 0.9,
	}
}

// Validate checks if all the fields are properly set.
func (c *Config) Validate() error {
	if c == nil {
		return service.ErrNilPtr
	}

	var err error
	if c.HangingRepairTimeout <= 0 {
		err = multierr.Append(err, errors.New("invalid hanging_repair_timeout, must be > 0"))
	}
	if c.RepairLoopInterval <= 0 {
		err = multierr.Append(err, errors.New("invalid repair_loop_interval, must be > 0"))
	}
	if c.SchedulerTickInterval <= 0 {
		err = multierr.Append(err, errors.New("invalid scheduler_tick_interval, must be > 0"))
	}
	if c.MaxSegmentFailures <= 0 {
		err = multierr.Append(err, errors.New("invalid max_segment_failures, must be > 0"))
	}
	if c.MaxParallelRuns <= 0 {
		err = multierr.Append(err, errors.New("invalid max_parallel_runs, must be > 0"))
	}
	if c.ConnectTimeout <= 0 {
		err = multierr.Append(err, errors.New("invalid connect_timeout, must be > 0"))
	}
	if c.ConnectBackoff.WaitMin <= 0 || c.ConnectBackoff.WaitMax < c.ConnectBackoff.WaitMin {
		err = multierr.Append(err, errors.New("invalid connect_backoff, wait_min must be > 0 and <= wait_max"))
	}
	if c.DefaultIntensity <= 0 || c.DefaultIntensity > 1 {
		err = multierr.Append(err, errors.New("invalid default_intensity, must be in (0, 1]"))
	}

	return err
}
