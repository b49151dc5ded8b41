// Copyright (C) 2017 ScyllaDB

package repair

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/service"
)

func TestRunStateTransitions(t *testing.T) {
	t.Parallel()

	table := []struct {
		From RunState
		To   RunState
		OK   bool
	}{
		{RunStateNotStarted, RunStateRunning, true},
		{RunStateNotStarted, RunStatePaused, false},
		{RunStateRunning, RunStatePaused, true},
		{RunStateRunning, RunStateDone, true},
		{RunStateRunning, RunStateError, true},
		{RunStatePaused, RunStateRunning, true},
		{RunStatePaused, RunStateAborted, true},
		{RunStatePaused, RunStateDone, false},
		{RunStateDone, RunStateRunning, false},
		{RunStateError, RunStateRunning, false},
		{RunStateAborted, RunStateRunning, false},
	}

	for i := range table {
		test := table[i]
		t.Run(string(test.From)+"->"+string(test.To), func(t *testing.T) {
			t.Parallel()
			if ok := test.From.CanTransitionTo(test.To); ok != test.OK {
				t.Fatalf("CanTransitionTo() = %v, expected %v", ok, test.OK)
			}
		})
	}
}

func TestRunStateUnmarshalText(t *testing.T) {
	t.Parallel()

	var s RunState
	if err := s.UnmarshalText([]byte("PAUSED")); err != nil {
		t.Fatal(err)
	}
	if s != RunStatePaused {
		t.Fatalf("UnmarshalText() = %s, expected PAUSED", s)
	}
	if err := s.UnmarshalText([]byte("FOO")); err == nil {
		t.Fatal("UnmarshalText() expected error")
	}
}

func TestRepairRunWithState(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t1.Add(time.Minute)
	t3 := t2.Add(time.Minute)

	run, err := NewRepairRun(RepairUnit{ClusterName: "c"}, DefaultRunParams(), t0)
	if err != nil {
		t.Fatal(err)
	}

	running, err := run.WithState(RunStateRunning, t1)
	if err != nil {
		t.Fatal(err)
	}
	if run.State != RunStateNotStarted {
		t.Fatal("WithState() modified receiver")
	}
	paused, err := running.WithState(RunStatePaused, t2)
	if err != nil {
		t.Fatal(err)
	}
	resumed, err := paused.WithState(RunStateRunning, t3)
	if err != nil {
		t.Fatal(err)
	}
	done, err := resumed.WithState(RunStateDone, t3)
	if err != nil {
		t.Fatal(err)
	}

	if !paused.PauseTime.Equal(t2) {
		t.Errorf("PauseTime = %s, expected %s", paused.PauseTime, t2)
	}
	if !resumed.PauseTime.IsZero() {
		t.Errorf("PauseTime = %s, expected zero", resumed.PauseTime)
	}
	if !done.StartTime.Equal(t1) {
		t.Errorf("StartTime = %s, expected %s", done.StartTime, t1)
	}
	if !done.EndTime.Equal(t3) {
		t.Errorf("EndTime = %s, expected %s", done.EndTime, t3)
	}

	if _, err := done.WithState(RunStateRunning, t3); err == nil {
		t.Fatal("WithState() expected error")
	}
}

func TestNewRepairUnit(t *testing.T) {
	t.Parallel()

	table := []struct {
		Name  string
		Unit  RepairUnit
		Error bool
	}{
		{
			Name: "valid",
			Unit: RepairUnit{ClusterName: "c", Keyspace: "ks", Tables: []string{"t1"}, ExcludedTables: []string{"t2"}},
		},
		{
			Name:  "missing keyspace",
			Unit:  RepairUnit{ClusterName: "c"},
			Error: true,
		},
		{
			Name:  "missing cluster",
			Unit:  RepairUnit{Keyspace: "ks"},
			Error: true,
		},
		{
			Name:  "included and excluded",
			Unit:  RepairUnit{ClusterName: "c", Keyspace: "ks", Tables: []string{"t1"}, ExcludedTables: []string{"t1"}},
			Error: true,
		},
		{
			Name:  "negative thread count",
			Unit:  RepairUnit{ClusterName: "c", Keyspace: "ks", ThreadCount: -1},
			Error: true,
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			u, err := NewRepairUnit(test.Unit)
			if test.Error {
				if !service.IsErrValidate(err) {
					t.Fatalf("NewRepairUnit() error %v, expected validation error", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if u.ID == test.Unit.ID {
				t.Fatal("NewRepairUnit() expected new ID")
			}
		})
	}
}

func TestNewRepairUnitCopiesSlices(t *testing.T) {
	t.Parallel()

	nodes := []string{"a1", "a2"}
	u, err := NewRepairUnit(RepairUnit{ClusterName: "c", Keyspace: "ks", Nodes: nodes})
	if err != nil {
		t.Fatal(err)
	}
	nodes[0] = "x"
	if u.Nodes[0] != "a1" {
		t.Fatal("NewRepairUnit() shares slice with input")
	}
}

func TestRunParamsValidate(t *testing.T) {
	t.Parallel()

	table := []struct {
		Name   string
		Params func(p *RunParams)
		Error  bool
	}{
		{Name: "default", Params: func(p *RunParams) {}},
		{Name: "intensity 1", Params: func(p *RunParams) { p.Intensity = 1 }},
		{Name: "intensity 0", Params: func(p *RunParams) { p.Intensity = 0 }, Error: true},
		{Name: "intensity above 1", Params: func(p *RunParams) { p.Intensity = 1.5 }, Error: true},
		{Name: "no segments", Params: func(p *RunParams) { p.SegmentCount = 0 }, Error: true},
		{Name: "bad parallelism", Params: func(p *RunParams) { p.Parallelism = "FOO" }, Error: true},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			p := DefaultRunParams()
			test.Params(&p)
			err := p.Validate()
			if test.Error && err == nil {
				t.Fatal("Validate() expected error")
			}
			if !test.Error && err != nil {
				t.Fatalf("Validate() error %s", err)
			}
		})
	}
}

func TestRepairSegmentLifecycle(t *testing.T) {
	t.Parallel()

	now := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := RepairSegment{
		Ranges: []dht.RingRange{{Start: 0, End: 25}, {Start: 25, End: 50}},
		State:  SegmentStateNotStarted,
	}

	if diff := cmp.Diff(s.BaseRange(), dht.RingRange{Start: 0, End: 50}); diff != "" {
		t.Fatal(diff)
	}

	running := s.Started("a1", now)
	if running.State != SegmentStateRunning || running.CoordinatorHost != "a1" || !running.StartTime.Equal(now) {
		t.Fatalf("Started() = %+v", running)
	}

	failed := running.Reset(true)
	if failed.State != SegmentStateNotStarted || failed.FailCount != 1 || failed.CoordinatorHost != "" {
		t.Fatalf("Reset(true) = %+v", failed)
	}
	reset := failed.Started("a2", now).Reset(false)
	if reset.FailCount != 1 {
		t.Fatalf("Reset(false) FailCount = %d, expected 1", reset.FailCount)
	}

	done := reset.Started("a2", now).Done(now.Add(time.Second))
	if done.State != SegmentStateDone || !done.EndTime.Equal(now.Add(time.Second)) {
		t.Fatalf("Done() = %+v", done)
	}
}

func TestNewProgress(t *testing.T) {
	t.Parallel()

	run := RepairRun{State: RunStateRunning}
	segments := []RepairSegment{
		{State: SegmentStateDone},
		{State: SegmentStateDone, FailCount: 2},
		{State: SegmentStateRunning},
		{State: SegmentStateNotStarted, FailCount: 1},
	}

	golden := Progress{
		State:           RunStateRunning,
		SegmentsTotal:   4,
		SegmentsDone:    2,
		SegmentsRunning: 1,
		Failures:        3,
		PercentComplete: 50,
	}
	if diff := cmp.Diff(newProgress(run, segments), golden); diff != "" {
		t.Fatal(diff)
	}
}

func TestIntensityDelay(t *testing.T) {
	t.Parallel()

	table := []struct {
		Intensity float64
		Duration  time.Duration
		Delay     time.Duration
	}{
		{1, time.Minute, 0},
		{0.5, time.Minute, time.Minute},
		{0.25, time.Minute, 3 * time.Minute},
		{0.75, 3 * time.Minute, time.Minute},
	}

	for _, test := range table {
		if d := intensityDelay(test.Intensity, test.Duration); d != test.Delay {
			t.Errorf("intensityDelay(%v, %s) = %s, expected %s", test.Intensity, test.Duration, d, test.Delay)
		}
	}
}
