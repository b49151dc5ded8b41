// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/scylladb/gocqlx/v2"
	"github.com/scylladb/gocqlx/v2/qb"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/schema/table"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CQLStore is a Store backed by Scylla tables, see schema package.
type CQLStore struct {
	session gocqlx.Session
}

var _ Store = &CQLStore{}

// NewCQLStore returns CQLStore using session, the session keyspace must
// contain the repair tables.
func NewCQLStore(session gocqlx.Session) (*CQLStore, error) {
	if session.Session == nil || session.Closed() {
		return nil, errors.New("invalid session")
	}
	return &CQLStore{session: session}, nil
}

func (s *CQLStore) PutCluster(ctx context.Context, c Cluster) error {
	return table.Cluster.InsertQueryContext(ctx, s.session).BindStruct(c).ExecRelease()
}

func (s *CQLStore) GetCluster(ctx context.Context, name string) (Cluster, error) {
	var c Cluster
	q := table.Cluster.GetQueryContext(ctx, s.session).BindMap(qb.M{"name": name})
	return c, q.GetRelease(&c)
}

func (s *CQLStore) PutRepairUnit(ctx context.Context, u RepairUnit) error {
	return table.RepairUnit.InsertQueryContext(ctx, s.session).BindStruct(u).ExecRelease()
}

func (s *CQLStore) GetRepairUnit(ctx context.Context, id uuid.UUID) (RepairUnit, error) {
	var u RepairUnit
	q := table.RepairUnit.GetQueryContext(ctx, s.session).BindMap(qb.M{"id": id})
	return u, q.GetRelease(&u)
}

func (s *CQLStore) PutRepairSchedule(ctx context.Context, rs RepairSchedule) error {
	return table.RepairSchedule.InsertQueryContext(ctx, s.session).BindStruct(rs).ExecRelease()
}

func (s *CQLStore) GetRepairSchedule(ctx context.Context, id uuid.UUID) (RepairSchedule, error) {
	var rs RepairSchedule
	q := table.RepairSchedule.GetQueryContext(ctx, s.session).BindMap(qb.M{"id": id})
	return rs, q.GetRelease(&rs)
}

func (s *CQLStore) GetRepairSchedules(ctx context.Context) ([]RepairSchedule, error) {
	stmt, names := qb.Select(table.RepairSchedule.Name()).
		Columns(table.RepairSchedule.Metadata().Columns...).
		ToCql()

	var out []RepairSchedule
	return out, s.session.ContextQuery(ctx, stmt, names).SelectRelease(&out)
}

func (s *CQLStore) PutRepairRun(ctx context.Context, r RepairRun) error {
	return table.RepairRun.InsertQueryContext(ctx, s.session).BindStruct(r).ExecRelease()
}

func (s *CQLStore) GetRepairRun(ctx context.Context, id uuid.UUID) (RepairRun, error) {
	var r RepairRun
	q := table.RepairRun.GetQueryContext(ctx, s.session).BindMap(qb.M{"id": id})
	return r, q.GetRelease(&r)
}

func (s *CQLStore) GetRepairRunsWithState(ctx context.Context, state RunState) ([]RepairRun, error) {
	stmt, names := qb.Select(table.RepairRun.Name()).
		Columns(table.RepairRun.Metadata().Columns...).
		Where(qb.Eq("state")).
		ToCql()

	var out []RepairRun
	q := s.session.ContextQuery(ctx, stmt, names).BindMap(qb.M{"state": state})
	return out, q.SelectRelease(&out)
}

// segmentRow is RepairSegment as stored in the repair_segment table.
type segmentRow struct {
	RunID           uuid.UUID
	StartToken      int64
	ID              uuid.UUID
	UnitID          uuid.UUID
	TokenRanges     string
	Replicas        []string
	State           SegmentState
	FailCount       int
	CoordinatorHost string
	StartTime       time.Time
	EndTime         time.Time
}

func newSegmentRow(s RepairSegment) (segmentRow, error) {
	b, err := json.Marshal(s.Ranges)
	if err != nil {
		return segmentRow{}, errors.Wrap(err, "marshal token ranges")
	}
	return segmentRow{
		RunID:           s.RunID,
		StartToken:      s.BaseRange().Start,
		ID:              s.ID,
		UnitID:          s.UnitID,
		TokenRanges:     string(b),
		Replicas:        s.Replicas,
		State:           s.State,
		FailCount:       s.FailCount,
		CoordinatorHost: s.CoordinatorHost,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
	}, nil
}

func (r segmentRow) segment() (RepairSegment, error) {
	var ranges []dht.RingRange
	if err := json.Unmarshal([]byte(r.TokenRanges), &ranges); err != nil {
		return RepairSegment{}, errors.Wrapf(err, "segment %s: unmarshal token ranges", r.ID)
	}
	return RepairSegment{
		ID:              r.ID,
		RunID:           r.RunID,
		UnitID:          r.UnitID,
		Ranges:          ranges,
		Replicas:        r.Replicas,
		State:           r.State,
		FailCount:       r.FailCount,
		CoordinatorHost: r.CoordinatorHost,
		StartTime:       r.StartTime,
		EndTime:         r.EndTime,
	}, nil
}

func (s *CQLStore) PutRepairSegments(ctx context.Context, segments []RepairSegment) error {
	q := table.RepairSegment.InsertQueryContext(ctx, s.session)
	defer q.Release()

	for _, seg := range segments {
		row, err := newSegmentRow(seg)
		if err != nil {
			return err
		}
		if err := q.BindStruct(row).Exec(); err != nil {
			return errors.Wrapf(err, "put segment %s", seg.ID)
		}
	}
	return nil
}

func (s *CQLStore) UpdateRepairSegment(ctx context.Context, seg RepairSegment) error {
	row, err := newSegmentRow(seg)
	if err != nil {
		return err
	}
	return table.RepairSegment.InsertQueryContext(ctx, s.session).BindStruct(row).ExecRelease()
}

func (s *CQLStore) GetRepairSegment(ctx context.Context, runID, id uuid.UUID) (RepairSegment, error) {
	segments, err := s.GetRepairSegments(ctx, runID)
	if err != nil {
		return RepairSegment{}, err
	}
	for _, seg := range segments {
		if seg.ID == id {
			return seg, nil
		}
	}
	return RepairSegment{}, ErrNotFound
}

func (s *CQLStore) GetRepairSegments(ctx context.Context, runID uuid.UUID) ([]RepairSegment, error) {
	var out []RepairSegment
	err := s.forEachSegment(ctx, runID, func(seg RepairSegment) bool {
		out = append(out, seg)
		return true
	})
	return out, err
}

func (s *CQLStore) GetNextFreeSegmentInRange(ctx context.Context, runID uuid.UUID, lane dht.RingRange) (RepairSegment, error) {
	var (
		out   RepairSegment
		found bool
	)
	err := s.forEachSegment(ctx, runID, func(seg RepairSegment) bool {
		if seg.State == SegmentStateNotStarted && lane.Contains(seg.BaseRange().Start) {
			out, found = seg, true
			return false
		}
		return true
	})
	if err != nil {
		return RepairSegment{}, err
	}
	if !found {
		return RepairSegment{}, ErrNotFound
	}
	return out, nil
}

// forEachSegment calls f for segments of a run in ring order until f
// returns false.
func (s *CQLStore) forEachSegment(ctx context.Context, runID uuid.UUID, f func(seg RepairSegment) bool) error {
	q := table.RepairSegment.SelectQueryContext(ctx, s.session).BindMap(qb.M{"run_id": runID})
	defer q.Release()

	iter := q.Iter()
	var row segmentRow
	for iter.StructScan(&row) {
		seg, err := row.segment()
		if err != nil {
			iter.Close()
			return err
		}
		if !f(seg) {
			break
		}
		row = segmentRow{}
	}
	return iter.Close()
}
