// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"

	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

// Store persists clusters, repair units, schedules, runs and segments.
// Updates are atomic per row only. Getters return ErrNotFound if a row
// does not exist.
type Store interface {
	PutCluster(ctx context.Context, c Cluster) error
	GetCluster(ctx context.Context, name string) (Cluster, error)

	PutRepairUnit(ctx context.Context, u RepairUnit) error
	GetRepairUnit(ctx context.Context, id uuid.UUID) (RepairUnit, error)

	PutRepairSchedule(ctx context.Context, rs RepairSchedule) error
	GetRepairSchedule(ctx context.Context, id uuid.UUID) (RepairSchedule, error)
	GetRepairSchedules(ctx context.Context) ([]RepairSchedule, error)

	PutRepairRun(ctx context.Context, r RepairRun) error
	GetRepairRun(ctx context.Context, id uuid.UUID) (RepairRun, error)
	GetRepairRunsWithState(ctx context.Context, state RunState) ([]RepairRun, error)

	// PutRepairSegments adds all segments of a run.
	PutRepairSegments(ctx context.Context, segments []RepairSegment) error
	UpdateRepairSegment(ctx context.Context, s RepairSegment) error
	GetRepairSegment(ctx context.Context, runID, id uuid.UUID) (RepairSegment, error)
	// GetRepairSegments returns segments of a run in ring order.
	GetRepairSegments(ctx context.Context, runID uuid.UUID) ([]RepairSegment, error)
	// GetNextFreeSegmentInRange returns the first NOT_STARTED segment, in
	// ring order, whose base range start lies in lane.
	GetNextFreeSegmentInRange(ctx context.Context, runID uuid.UUID, lane dht.RingRange) (RepairSegment, error)
}
