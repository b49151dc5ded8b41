// Copyright (C) 2017 ScyllaDB

package repair

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/service"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
	"go.uber.org/multierr"
)

// RunState specifies the state of a repair run.
type RunState string

// RunState enumeration.
const (
	RunStateNotStarted RunState = "NOT_STARTED"
	RunStateRunning    RunState = "RUNNING"
	RunStatePaused     RunState = "PAUSED"
	RunStateDone       RunState = "DONE"
	RunStateError      RunState = "ERROR"
	RunStateAborted    RunState = "ABORTED"
)

func (s RunState) String() string {
	return string(s)
}

// MarshalText implements encoding.TextMarshaler.
func (s RunState) MarshalText() ([]byte, error) {
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *RunState) UnmarshalText(text []byte) error {
	switch v := RunState(text); v {
	case RunStateNotStarted, RunStateRunning, RunStatePaused, RunStateDone, RunStateError, RunStateAborted:
		*s = v
		return nil
	default:
		return fmt.Errorf("unrecognized RunState %q", text)
	}
}

// IsTerminal returns true if no further transition is possible.
func (s RunState) IsTerminal() bool {
	return s == RunStateDone || s == RunStateError || s == RunStateAborted
}

var runTransitions = map[RunState][]RunState{
	RunStateNotStarted: {RunStateRunning, RunStateAborted},
	RunStateRunning:    {RunStatePaused, RunStateDone, RunStateError, RunStateAborted},
	RunStatePaused:     {RunStateRunning, RunStateAborted},
}

// CanTransitionTo returns true if a run can go from s to t.
func (s RunState) CanTransitionTo(t RunState) bool {
	for _, v := range runTransitions[s] {
		if v == t {
			return true
		}
	}
	return false
}

// SegmentState specifies the state of a repair segment.
type SegmentState string

// SegmentState enumeration.
const (
	SegmentStateNotStarted SegmentState = "NOT_STARTED"
	SegmentStateRunning    SegmentState = "RUNNING"
	SegmentStateDone       SegmentState = "DONE"
)

func (s SegmentState) String() string {
	return string(s)
}

// Parallelism specifies how replicas of a segment are repaired.
type Parallelism string

// Parallelism enumeration.
const (
	ParallelismSequential      Parallelism = "SEQUENTIAL"
	ParallelismParallel        Parallelism = "PARALLEL"
	ParallelismDatacenterAware Parallelism = "DATACENTER_AWARE"
)

// MarshalText implements encoding.TextMarshaler.
func (p Parallelism) MarshalText() ([]byte, error) {
	return []byte(p), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Parallelism) UnmarshalText(text []byte) error {
	switch v := Parallelism(text); v {
	case ParallelismSequential, ParallelismParallel, ParallelismDatacenterAware:
		*p = v
		return nil
	default:
		return fmt.Errorf("unrecognized Parallelism %q", text)
	}
}

func (p Parallelism) node() nodeclient.Parallelism {
	switch p {
	case ParallelismSequential:
		return nodeclient.ParallelismSequential
	case ParallelismDatacenterAware:
		return nodeclient.ParallelismDatacenterAware
	default:
		return nodeclient.ParallelismParallel
	}
}

// Cluster is a cluster repairs are run against.
type Cluster struct {
	Name        string   `json:"name"`
	SeedHosts   []string `json:"seed_hosts"`
	Partitioner string   `json:"partitioner"`
}

// Validate checks if all the fields are properly set.
func (c Cluster) Validate() error {
	var err error
	if c.Name == "" {
		err = multierr.Append(err, errors.New("missing name"))
	}
	if len(c.SeedHosts) == 0 {
		err = multierr.Append(err, errors.New("missing seed hosts"))
	}
	return service.ErrValidate(err)
}

// RepairUnit specifies what to repair.
// Nodes and Datacenters, if set, limit the nodes taking part in repair.
type RepairUnit struct {
	ID             uuid.UUID `json:"id"`
	ClusterName    string    `json:"cluster_name"`
	Keyspace       string    `json:"keyspace" db:"keyspace_name"`
	Tables         []string  `json:"tables"`
	ExcludedTables []string  `json:"excluded_tables"`
	Nodes          []string  `json:"nodes"`
	Datacenters    []string  `json:"datacenters"`
	Incremental    bool      `json:"incremental"`
	ThreadCount    int       `json:"thread_count"`
}

// NewRepairUnit returns a validated copy of u with a new ID.
func NewRepairUnit(u RepairUnit) (RepairUnit, error) {
	var err error
	if u.ClusterName == "" {
		err = multierr.Append(err, errors.New("missing cluster name"))
	}
	if u.Keyspace == "" {
		err = multierr.Append(err, errors.New("missing keyspace"))
	}
	if len(u.Tables) > 0 && len(u.ExcludedTables) > 0 {
		if strset.New(u.Tables...).HasAny(u.ExcludedTables...) {
			err = multierr.Append(err, errors.New("tables can not be both included and excluded"))
		}
	}
	if u.ThreadCount < 0 {
		err = multierr.Append(err, errors.New("invalid thread count, must be >= 0"))
	}
	if err != nil {
		return RepairUnit{}, service.ErrValidate(err)
	}

	u.ID = uuid.MustRandom()
	u.Tables = cloneStrings(u.Tables)
	u.ExcludedTables = cloneStrings(u.ExcludedTables)
	u.Nodes = cloneStrings(u.Nodes)
	u.Datacenters = cloneStrings(u.Datacenters)
	return u, nil
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}

// RunParams specifies how a repair run is executed.
type RunParams struct {
	// Intensity is the fraction of time spent repairing, in (0, 1].
	Intensity float64 `json:"intensity"`
	// SegmentCount is the requested number of segments.
	SegmentCount int         `json:"segment_count"`
	Parallelism  Parallelism `json:"parallelism"`
	Cause        string      `json:"cause"`
	Owner        string      `json:"owner"`
}

// DefaultRunParams returns RunParams initialized with default values.
func DefaultRunParams() RunParams {
	return RunParams{
		Intensity:    0.9,
		SegmentCount: 100,
		Parallelism:  ParallelismParallel,
	}
}

// Validate checks if all the fields are properly set.
func (p RunParams) Validate() error {
	var err error
	if p.Intensity <= 0 || p.Intensity > 1 {
		err = multierr.Append(err, errors.New("invalid intensity, must be in (0, 1]"))
	}
	if p.SegmentCount <= 0 {
		err = multierr.Append(err, errors.New("invalid segment count, must be > 0"))
	}
	if e := new(Parallelism).UnmarshalText([]byte(p.Parallelism)); e != nil {
		err = multierr.Append(err, e)
	}
	return service.ErrValidate(err)
}

// RepairRun is a single repair of a RepairUnit.
type RepairRun struct {
	ID           uuid.UUID   `json:"id"`
	ClusterName  string      `json:"cluster_name"`
	UnitID       uuid.UUID   `json:"unit_id"`
	State        RunState    `json:"state"`
	Intensity    float64     `json:"intensity"`
	SegmentCount int         `json:"segment_count"`
	Parallelism  Parallelism `json:"parallelism"`
	Cause        string      `json:"cause"`
	Owner        string      `json:"owner"`
	CreationTime time.Time   `json:"creation_time"`
	StartTime    time.Time   `json:"start_time"`
	EndTime      time.Time   `json:"end_time"`
	PauseTime    time.Time   `json:"pause_time"`
}

// NewRepairRun returns a run of the unit in NOT_STARTED state.
func NewRepairRun(u RepairUnit, p RunParams, now time.Time) (RepairRun, error) {
	if err := p.Validate(); err != nil {
		return RepairRun{}, err
	}
	return RepairRun{
		ID:           uuid.NewTime(),
		ClusterName:  u.ClusterName,
		UnitID:       u.ID,
		State:        RunStateNotStarted,
		Intensity:    p.Intensity,
		SegmentCount: p.SegmentCount,
		Parallelism:  p.Parallelism,
		Cause:        p.Cause,
		Owner:        p.Owner,
		CreationTime: now,
	}, nil
}

// WithState returns copy of r in state s with times updated.
// It fails if the transition is not allowed.
func (r RepairRun) WithState(s RunState, now time.Time) (RepairRun, error) {
	if !r.State.CanTransitionTo(s) {
		return r, errors.Errorf("run %s: invalid transition from %s to %s", r.ID, r.State, s)
	}

	r.State = s
	switch s {
	case RunStateRunning:
		if r.StartTime.IsZero() {
			r.StartTime = now
		}
		r.PauseTime = time.Time{}
	case RunStatePaused:
		r.PauseTime = now
	case RunStateDone, RunStateError, RunStateAborted:
		r.EndTime = now
	}
	return r, nil
}

// RepairSegment is a persisted dht.Segment of a run.
type RepairSegment struct {
	ID              uuid.UUID       `json:"id"`
	RunID           uuid.UUID       `json:"run_id"`
	UnitID          uuid.UUID       `json:"unit_id"`
	Ranges          []dht.RingRange `json:"ranges"`
	Replicas        []string        `json:"replicas"`
	State           SegmentState    `json:"state"`
	FailCount       int             `json:"fail_count"`
	CoordinatorHost string          `json:"coordinator_host"`
	StartTime       time.Time       `json:"start_time"`
	EndTime         time.Time       `json:"end_time"`
}

// NewRepairSegments returns NOT_STARTED segments of the run.
func NewRepairSegments(run RepairRun, segments []dht.Segment) []RepairSegment {
	out := make([]RepairSegment, len(segments))
	for i, s := range segments {
		out[i] = RepairSegment{
			ID:       uuid.MustRandom(),
			RunID:    run.ID,
			UnitID:   run.UnitID,
			Ranges:   s.Ranges,
			Replicas: s.Replicas,
			State:    SegmentStateNotStarted,
		}
	}
	return out
}

// BaseRange returns the range from the first range start to the last range end.
func (s RepairSegment) BaseRange() dht.RingRange {
	return dht.Segment{Ranges: s.Ranges}.BaseRange()
}

// Started returns copy of s in RUNNING state coordinated by host.
func (s RepairSegment) Started(host string, now time.Time) RepairSegment {
	s.State = SegmentStateRunning
	s.CoordinatorHost = host
	s.StartTime = now
	s.EndTime = time.Time{}
	return s
}

// Done returns copy of s in DONE state.
func (s RepairSegment) Done(now time.Time) RepairSegment {
	s.State = SegmentStateDone
	s.EndTime = now
	return s
}

// Reset returns copy of s in NOT_STARTED state, if failed fail count is
// incremented.
func (s RepairSegment) Reset(failed bool) RepairSegment {
	s.State = SegmentStateNotStarted
	s.CoordinatorHost = ""
	s.StartTime = time.Time{}
	s.EndTime = time.Time{}
	if failed {
		s.FailCount++
	}
	return s
}

// Progress summarizes segments of a run.
type Progress struct {
	RunID           uuid.UUID `json:"run_id"`
	State           RunState  `json:"state"`
	SegmentsTotal   int       `json:"segments_total"`
	SegmentsDone    int       `json:"segments_done"`
	SegmentsRunning int       `json:"segments_running"`
	Failures        int       `json:"failures"`
	PercentComplete int       `json:"percent_complete"`
}

func newProgress(run RepairRun, segments []RepairSegment) Progress {
	p := Progress{
		RunID:         run.ID,
		State:         run.State,
		SegmentsTotal: len(segments),
	}
	for _, s := range segments {
		switch s.State {
		case SegmentStateDone:
			p.SegmentsDone++
		case SegmentStateRunning:
			p.SegmentsRunning++
		}
		p.Failures += s.FailCount
	}
	if p.SegmentsTotal > 0 {
		p.PercentComplete = 100 * p.SegmentsDone / p.SegmentsTotal
	}
	return p
}
