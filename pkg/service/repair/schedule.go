// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/service"
	"github.com/scylladb/ringrepair/pkg/util/timeutc"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
	"go.uber.org/multierr"
)

// RepairSchedule creates runs of a unit periodically.
type RepairSchedule struct {
	ID             uuid.UUID   `json:"id"`
	UnitID         uuid.UUID   `json:"unit_id"`
	Cron           Cron        `json:"cron"`
	Enabled        bool        `json:"enabled"`
	Intensity      float64     `json:"intensity"`
	SegmentCount   int         `json:"segment_count"`
	Parallelism    Parallelism `json:"parallelism"`
	Owner          string      `json:"owner"`
	NextActivation time.Time   `json:"next_activation"`
	LastRunID      uuid.UUID   `json:"last_run_id"`
}

// NewRepairSchedule returns an enabled schedule of the unit, the first
// activation is the first cron time after now.
func NewRepairSchedule(unitID uuid.UUID, c Cron, p RunParams, now time.Time) (RepairSchedule, error) {
	var err error
	if unitID == uuid.Nil {
		err = multierr.Append(err, errors.New("missing unit ID"))
	}
	if c.IsZero() {
		err = multierr.Append(err, errors.New("missing cron"))
	}
	err = multierr.Append(err, p.Validate())
	if err != nil {
		return RepairSchedule{}, service.ErrValidate(err)
	}

	return RepairSchedule{
		ID:             uuid.MustRandom(),
		UnitID:         unitID,
		Cron:           c,
		Enabled:        true,
		Intensity:      p.Intensity,
		SegmentCount:   p.SegmentCount,
		Parallelism:    p.Parallelism,
		Owner:          p.Owner,
		NextActivation: c.Next(now),
	}, nil
}

// RunParams returns parameters of runs created by the schedule.
func (rs RepairSchedule) RunParams() RunParams {
	return RunParams{
		Intensity:    rs.Intensity,
		SegmentCount: rs.SegmentCount,
		Parallelism:  rs.Parallelism,
		Cause:        "scheduled run",
		Owner:        rs.Owner,
	}
}

// AddRepairSchedule stores a schedule of a known unit.
func (s *Service) AddRepairSchedule(ctx context.Context, unitID uuid.UUID, c Cron, p RunParams) (RepairSchedule, error) {
	rs, err := NewRepairSchedule(unitID, c, p, timeutc.Now())
	if err != nil {
		return RepairSchedule{}, err
	}
	if _, err := s.store.GetRepairUnit(ctx, unitID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RepairSchedule{}, service.ErrValidate(errors.Errorf("unknown unit %s", unitID))
		}
		return RepairSchedule{}, errors.Wrap(err, "get unit")
	}
	if err := s.store.PutRepairSchedule(ctx, rs); err != nil {
		return RepairSchedule{}, errors.Wrap(err, "put schedule")
	}
	s.logger.Info(ctx, "Added repair schedule", "schedule_id", rs.ID, "unit_id", unitID, "cron", c, "next_activation", rs.NextActivation)
	return rs, nil
}

// SetRepairScheduleEnabled enables or disables the schedule, an enabled
// schedule is activated at the next cron time.
func (s *Service) SetRepairScheduleEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	rs, err := s.store.GetRepairSchedule(ctx, id)
	if err != nil {
		return errors.Wrap(err, "get schedule")
	}
	if rs.Enabled == enabled {
		return nil
	}
	rs.Enabled = enabled
	if enabled {
		rs.NextActivation = rs.Cron.Next(timeutc.Now())
	}
	return errors.Wrap(s.store.PutRepairSchedule(ctx, rs), "put schedule")
}

// GetRepairSchedules returns all schedules.
func (s *Service) GetRepairSchedules(ctx context.Context) ([]RepairSchedule, error) {
	return s.store.GetRepairSchedules(ctx)
}

// ActivateDueRepairSchedules creates and starts runs of enabled schedules
// with activation time in the past. Activation is skipped if the previous
// run of the schedule is not finished.
func (s *Service) ActivateDueRepairSchedules(ctx context.Context) error {
	s.schedMu.Lock()
	defer s.schedMu.Unlock()

	schedules, err := s.store.GetRepairSchedules(ctx)
	if err != nil {
		return errors.Wrap(err, "get schedules")
	}

	now := timeutc.Now()
	var errs error
	for _, rs := range schedules {
		if !rs.Enabled || now.Before(rs.NextActivation) {
			continue
		}
		errs = multierr.Append(errs, errors.Wrapf(s.activate(ctx, rs, now), "schedule %s", rs.ID))
	}
	return errs
}

func (s *Service) activate(ctx context.Context, rs RepairSchedule, now time.Time) error {
	if n := rs.Cron.Missed(rs.NextActivation, now); n > 0 {
		s.logger.Info(ctx, "Repair schedule missed activations", "schedule_id", rs.ID, "due", rs.NextActivation, "missed", n)
	}
	rs.NextActivation = rs.Cron.Next(now)

	if rs.LastRunID != uuid.Nil {
		last, err := s.store.GetRepairRun(ctx, rs.LastRunID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return errors.Wrap(err, "get last run")
		}
		if err == nil && !last.State.IsTerminal() {
			s.logger.Info(ctx, "Previous run not finished, skipping activation",
				"schedule_id", rs.ID,
				"run_id", last.ID,
				"state", last.State,
				"next_activation", rs.NextActivation,
			)
			return errors.Wrap(s.store.PutRepairSchedule(ctx, rs), "put schedule")
		}
	}

	run, err := s.CreateRepairRun(ctx, rs.UnitID, rs.RunParams())
	if err != nil {
		return multierr.Append(err, errors.Wrap(s.store.PutRepairSchedule(ctx, rs), "put schedule"))
	}
	rs.LastRunID = run.ID
	if err := s.store.PutRepairSchedule(ctx, rs); err != nil {
		return errors.Wrap(err, "put schedule")
	}
	s.logger.Info(ctx, "Activated repair schedule", "schedule_id", rs.ID, "run_id", run.ID, "next_activation", rs.NextActivation)
	return s.StartRepairRun(ctx, run.ID)
}
