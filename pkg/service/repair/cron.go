// Copyright (C) 2017 ScyllaDB

package repair

import (
	"time"

	"github.com/gocql/gocql"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// maxMissedActivations caps the count returned by Cron.Missed.
const maxMissedActivations = 1000

// Cron tells when a repair schedule activates. It's a five field cron
// expression or a descriptor such as @daily or @every 12h. Activation times
// are computed in the location of the time passed to Next.
type Cron struct {
	expr  string
	sched cron.Schedule
}

// ParseCron parses a cron expression, empty expression gives zero Cron.
func ParseCron(expr string) (Cron, error) {
	if expr == "" {
		return Cron{}, nil
	}
	s, err := cron.ParseStandard(expr)
	if err != nil {
		return Cron{}, errors.Wrapf(err, "parse cron %q", expr)
	}
	return Cron{expr: expr, sched: s}, nil
}

// Next returns the first activation time after now.
func (c Cron) Next(now time.Time) time.Time {
	if c.sched == nil {
		return time.Time{}
	}
	return c.sched.Next(now)
}

// Missed returns the number of activations after due and before now.
func (c Cron) Missed(due, now time.Time) int {
	if c.sched == nil || due.IsZero() || !due.Before(now) {
		return 0
	}
	n := 0
	for t := c.sched.Next(due); t.Before(now) && n < maxMissedActivations; t = c.sched.Next(t) {
		n++
	}
	return n
}

func (c Cron) IsZero() bool {
	return c.sched == nil
}

func (c Cron) String() string {
	return c.expr
}

func (c Cron) MarshalText() ([]byte, error) {
	return []byte(c.expr), nil
}

func (c *Cron) UnmarshalText(text []byte) error {
	v, err := ParseCron(string(text))
	if err != nil {
		return err
	}
	*c = v
	return nil
}

func (c Cron) MarshalCQL(gocql.TypeInfo) ([]byte, error) {
	return c.MarshalText()
}

func (c *Cron) UnmarshalCQL(_ gocql.TypeInfo, data []byte) error {
	return c.UnmarshalText(data)
}
