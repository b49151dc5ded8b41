// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/google/go-cmp/cmp"
	"github.com/scylladb/go-log"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/metrics"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/nodeclient/nodeclientmock"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

func testRunnerConfig() Config {
	c := DefaultConfig()
	c.HangingRepairTimeout = 5 * time.Second
	c.ConnectTimeout = time.Second
	return c
}

type runnerFixture struct {
	runner *segmentRunner
	store  *MemoryStore
	guard  *Guard
	task   segmentTask
}

func newRunnerFixture(t *testing.T, config Config, provider nodeclient.ProviderFunc) runnerFixture {
	t.Helper()

	store := NewMemoryStore()
	guard := NewGuard()
	r := newSegmentRunner(config, store, guard, provider, metrics.NewRepairMetrics(), log.NewDevelopment())
	t.Cleanup(r.close)

	run := RepairRun{
		ID:          uuid.NewTime(),
		ClusterName: "c",
		State:       RunStateRunning,
		Intensity:   1,
		Parallelism: ParallelismParallel,
	}
	unit := RepairUnit{ID: uuid.MustRandom(), ClusterName: "c", Keyspace: "ks"}
	seg := RepairSegment{
		ID:       uuid.MustRandom(),
		RunID:    run.ID,
		UnitID:   unit.ID,
		Ranges:   []dht.RingRange{{Start: 0, End: 50}},
		Replicas: []string{"a1", "a2", "a3"},
		State:    SegmentStateNotStarted,
	}
	if err := store.PutRepairSegments(context.Background(), []RepairSegment{seg}); err != nil {
		t.Fatal(err)
	}

	return runnerFixture{
		runner: r,
		store:  store,
		guard:  guard,
		task: segmentTask{
			Run:     run,
			Unit:    unit,
			Segment: seg,
			DC:      map[string]string{"a1": "dc1", "a2": "dc1", "a3": "dc2"},
		},
	}
}

func (f runnerFixture) segment(t *testing.T) RepairSegment {
	t.Helper()
	s, err := f.store.GetRepairSegment(context.Background(), f.task.Run.ID, f.task.Segment.ID)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func modernStatus(s nodeclient.ProgressEventType) *nodeclient.ProgressEventType {
	return &s
}

type rawEvent struct {
	CommandID int32
	Modern    *nodeclient.ProgressEventType
}

func TestSegmentRunnerNotifications(t *testing.T) {
	t.Parallel()

	const commandID = 7

	table := []struct {
		Name      string
		Events    []rawEvent
		Outcome   outcome
		State     SegmentState
		FailCount int
		Cancel    bool
		Err       error
		ErrMsg    string
	}{
		{
			Name: "success",
			Events: []rawEvent{
				{commandID, modernStatus(nodeclient.ProgressStart)},
				{commandID, modernStatus(nodeclient.ProgressSuccess)},
				{commandID, modernStatus(nodeclient.ProgressComplete)},
			},
			Outcome: outcomeDone,
			State:   SegmentStateDone,
		},
		{
			Name: "other command ignored",
			Events: []rawEvent{
				{commandID + 1, modernStatus(nodeclient.ProgressError)},
				{commandID, modernStatus(nodeclient.ProgressProgress)},
				{commandID, modernStatus(nodeclient.ProgressSuccess)},
			},
			Outcome: outcomeDone,
			State:   SegmentStateDone,
		},
		{
			Name: "error",
			Events: []rawEvent{
				{commandID, modernStatus(nodeclient.ProgressStart)},
				{commandID, modernStatus(nodeclient.ProgressError)},
				{commandID, modernStatus(nodeclient.ProgressComplete)},
			},
			Outcome:   outcomeFailed,
			State:     SegmentStateNotStarted,
			FailCount: 1,
			Cancel:    true,
			ErrMsg:    "repair job 7 failed",
		},
		{
			Name: "complete without success",
			Events: []rawEvent{
				{commandID, modernStatus(nodeclient.ProgressStart)},
				{commandID, modernStatus(nodeclient.ProgressComplete)},
			},
			Outcome:   outcomeFailed,
			State:     SegmentStateNotStarted,
			FailCount: 1,
			Cancel:    true,
			ErrMsg:    "repair job 7 ended without success",
		},
		{
			Name: "no status",
			Events: []rawEvent{
				{commandID, nil},
			},
			Outcome:   outcomeFailed,
			State:     SegmentStateNotStarted,
			FailCount: 1,
			Cancel:    true,
			Err:       ErrProtocol,
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			var wg sync.WaitGroup
			defer wg.Wait()

			c := nodeclientmock.NewMockClient(ctrl)
			c.EXPECT().Host().Return("a1").AnyTimes()
			c.EXPECT().Capabilities().Return(nodeclient.Capabilities{Cancel: true}).AnyTimes()
			c.EXPECT().Close().Return(nil)
			c.EXPECT().TriggerRepair(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, req nodeclient.RepairRequest, h nodeclient.RawStatusHandler) (int32, error) {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for _, e := range test.Events {
							h(e.CommandID, nil, e.Modern, "", c)
						}
					}()
					return commandID, nil
				})
			if test.Cancel {
				c.EXPECT().CancelRepair(gomock.Any(), int32(commandID)).Return(nil)
			}

			f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
				return c, nil
			})

			res := f.runner.Run(context.Background(), f.task)
			if res.Outcome != test.Outcome {
				t.Fatalf("Run() outcome %s, expected %s, error %v", res.Outcome, test.Outcome, res.Err)
			}
			if test.Err != nil && !errors.Is(res.Err, test.Err) {
				t.Fatalf("Run() error %v, expected %v", res.Err, test.Err)
			}
			if test.ErrMsg != "" && !strings.HasPrefix(fmt.Sprint(res.Err), test.ErrMsg) {
				t.Fatalf("Run() error %v, expected %q", res.Err, test.ErrMsg)
			}

			s := f.segment(t)
			if s.State != test.State || s.FailCount != test.FailCount {
				t.Fatalf("segment state %s fail count %d, expected %s %d", s.State, s.FailCount, test.State, test.FailCount)
			}
			if len(f.guard.held()) != 0 {
				t.Fatalf("guard holds %v after attempt", f.guard.held())
			}
			if f.runner.inFlightRun(f.task.Run.ID) != 0 {
				t.Fatal("attempt still registered")
			}
		})
	}
}

func TestSegmentRunnerTimeout(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := nodeclientmock.NewMockClient(ctrl)
	c.EXPECT().Host().Return("a1").AnyTimes()
	c.EXPECT().Capabilities().Return(nodeclient.Capabilities{Cancel: false}).AnyTimes()
	c.EXPECT().Close().Return(nil)
	c.EXPECT().TriggerRepair(gomock.Any(), gomock.Any(), gomock.Any()).Return(int32(1), nil)

	config := testRunnerConfig()
	config.HangingRepairTimeout = 50 * time.Millisecond
	f := newRunnerFixture(t, config, func(context.Context, string, time.Duration) (nodeclient.Client, error) {
		return c, nil
	})

	res := f.runner.Run(context.Background(), f.task)
	if res.Outcome != outcomeFailed || !errors.Is(res.Err, ErrTimeout) {
		t.Fatalf("Run() = %s %v, expected failed with timeout", res.Outcome, res.Err)
	}
	if s := f.segment(t); s.FailCount != 1 {
		t.Fatalf("FailCount = %d, expected 1", s.FailCount)
	}
}

func TestSegmentRunnerTriggerError(t *testing.T) {
	t.Parallel()

	table := []struct {
		Name      string
		Err       error
		Outcome   outcome
		FailCount int
	}{
		{
			Name:    "connection error",
			Err:     nodeclient.ConnectionError{Host: "a1", Cause: errors.New("refused")},
			Outcome: outcomeNotStarted,
		},
		{
			Name:      "rejected by node",
			Err:       errors.New("agent [HTTP 400] keyspace ks does not exist"),
			Outcome:   outcomeFailed,
			FailCount: 1,
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			c := nodeclientmock.NewMockClient(ctrl)
			c.EXPECT().Close().Return(nil)
			c.EXPECT().TriggerRepair(gomock.Any(), gomock.Any(), gomock.Any()).Return(int32(0), test.Err)

			f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
				return c, nil
			})

			res := f.runner.Run(context.Background(), f.task)
			if res.Outcome != test.Outcome || !errors.Is(res.Err, test.Err) {
				t.Fatalf("Run() = %s %v, expected %s %v", res.Outcome, res.Err, test.Outcome, test.Err)
			}
			s := f.segment(t)
			if s.State != SegmentStateNotStarted || s.FailCount != test.FailCount {
				t.Fatalf("segment state %s fail count %d, expected NOT_STARTED %d", s.State, s.FailCount, test.FailCount)
			}
			if len(f.guard.held()) != 0 {
				t.Fatalf("guard holds %v after attempt", f.guard.held())
			}
			if f.runner.inFlightRun(f.task.Run.ID) != 0 {
				t.Fatal("attempt still registered")
			}
		})
	}
}

// recordingStore records states of updated segments.
type recordingStore struct {
	*MemoryStore

	mu     sync.Mutex
	states []SegmentState
}

func (s *recordingStore) UpdateRepairSegment(ctx context.Context, seg RepairSegment) error {
	s.mu.Lock()
	s.states = append(s.states, seg.State)
	s.mu.Unlock()
	return s.MemoryStore.UpdateRepairSegment(ctx, seg)
}

func (s *recordingStore) States() []SegmentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SegmentState(nil), s.states...)
}

func legacyStatus(s nodeclient.LegacyStatus) *nodeclient.LegacyStatus {
	return &s
}

func TestSegmentRunnerSegmentStates(t *testing.T) {
	t.Parallel()

	const commandID = 5

	type event struct {
		Legacy *nodeclient.LegacyStatus
		Modern *nodeclient.ProgressEventType
	}

	table := []struct {
		Name   string
		Events []event
	}{
		{
			Name: "legacy",
			Events: []event{
				{Legacy: legacyStatus(nodeclient.LegacyStarted)},
				{Legacy: legacyStatus(nodeclient.LegacySessionSuccess)},
				{Legacy: legacyStatus(nodeclient.LegacyFinished)},
			},
		},
		{
			Name: "modern",
			Events: []event{
				{Modern: modernStatus(nodeclient.ProgressStart)},
				{Modern: modernStatus(nodeclient.ProgressProgress)},
				{Modern: modernStatus(nodeclient.ProgressSuccess)},
				{Modern: modernStatus(nodeclient.ProgressComplete)},
			},
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			var wg sync.WaitGroup
			defer wg.Wait()

			c := nodeclientmock.NewMockClient(ctrl)
			c.EXPECT().Host().Return("a1").AnyTimes()
			c.EXPECT().Capabilities().Return(nodeclient.Capabilities{}).AnyTimes()
			c.EXPECT().Close().Return(nil)
			c.EXPECT().TriggerRepair(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
				func(_ context.Context, _ nodeclient.RepairRequest, h nodeclient.RawStatusHandler) (int32, error) {
					wg.Add(1)
					go func() {
						defer wg.Done()
						for _, e := range test.Events {
							h(commandID, e.Legacy, e.Modern, "", c)
						}
					}()
					return commandID, nil
				})

			f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
				return c, nil
			})
			rec := &recordingStore{MemoryStore: f.store}
			f.runner.store = rec

			res := f.runner.Run(context.Background(), f.task)
			if res.Outcome != outcomeDone {
				t.Fatalf("Run() outcome %s, expected done, error %v", res.Outcome, res.Err)
			}
			golden := []SegmentState{SegmentStateRunning, SegmentStateDone}
			if diff := cmp.Diff(rec.States(), golden); diff != "" {
				t.Fatal(diff)
			}
			if s := f.segment(t); s.CoordinatorHost == "" || s.StartTime.IsZero() || s.EndTime.IsZero() {
				t.Fatalf("segment %+v, expected coordinator and times set", s)
			}
		})
	}
}

func TestSegmentRunnerDeferredOnBusyNode(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
		t.Fatal("provider called")
		return nil, nil
	})

	other := uuid.MustRandom()
	f.guard.TryAcquire(other, NodeKeys("c", []string{"a3"}))

	res := f.runner.Run(context.Background(), f.task)
	if res.Outcome != outcomeDeferred {
		t.Fatalf("Run() outcome %s, expected deferred", res.Outcome)
	}
	if diff := cmp.Diff(f.guard.held(), []string{"c/a3"}); diff != "" {
		t.Fatal(diff)
	}
	if s := f.segment(t); s.State != SegmentStateNotStarted {
		t.Fatalf("segment state %s, expected NOT_STARTED", s.State)
	}
}

func TestSegmentRunnerNoParticipants(t *testing.T) {
	t.Parallel()

	f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
		t.Fatal("provider called")
		return nil, nil
	})
	f.task.Unit.Nodes = []string{"b1"}

	res := f.runner.Run(context.Background(), f.task)
	if res.Outcome != outcomeDone {
		t.Fatalf("Run() outcome %s, expected done", res.Outcome)
	}
	if s := f.segment(t); s.State != SegmentStateDone {
		t.Fatalf("segment state %s, expected DONE", s.State)
	}
}

func TestSegmentRunnerCancelRun(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	c := nodeclientmock.NewMockClient(ctrl)
	c.EXPECT().Host().Return("a1").AnyTimes()
	c.EXPECT().Capabilities().Return(nodeclient.Capabilities{Cancel: true}).AnyTimes()
	c.EXPECT().Close().Return(nil)
	c.EXPECT().TriggerRepair(gomock.Any(), gomock.Any(), gomock.Any()).Return(int32(3), nil)
	c.EXPECT().CancelRepair(gomock.Any(), int32(3)).Return(nil)

	f := newRunnerFixture(t, testRunnerConfig(), func(context.Context, string, time.Duration) (nodeclient.Client, error) {
		return c, nil
	})

	done := make(chan segmentResult)
	go func() {
		done <- f.runner.Run(context.Background(), f.task)
	}()

	for f.runner.inFlightRun(f.task.Run.ID) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	f.runner.cancelRun(context.Background(), f.task.Run.ID)

	res := <-done
	if res.Outcome != outcomeCanceled {
		t.Fatalf("Run() outcome %s, expected canceled", res.Outcome)
	}
	s := f.segment(t)
	if s.State != SegmentStateNotStarted || s.FailCount != 0 {
		t.Fatalf("segment state %s fail count %d, expected reset without failure", s.State, s.FailCount)
	}
}

func TestParticipants(t *testing.T) {
	t.Parallel()

	dc := map[string]string{"a1": "dc1", "a2": "dc1", "a3": "dc2"}
	table := []struct {
		Name        string
		Nodes       []string
		DCs         []string
		Parallelism Parallelism
		Golden      []string
	}{
		{
			Name:        "all replicas",
			Parallelism: ParallelismParallel,
			Golden:      []string{"a1", "a2", "a3"},
		},
		{
			Name:        "nodes filter",
			Nodes:       []string{"a3", "a1", "b1"},
			Parallelism: ParallelismParallel,
			Golden:      []string{"a1", "a3"},
		},
		{
			Name:        "datacenters ignored when not dc aware",
			DCs:         []string{"dc2"},
			Parallelism: ParallelismParallel,
			Golden:      []string{"a1", "a2", "a3"},
		},
		{
			Name:        "datacenters filter",
			DCs:         []string{"dc2"},
			Parallelism: ParallelismDatacenterAware,
			Golden:      []string{"a3"},
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			t.Parallel()

			task := segmentTask{
				Run:     RepairRun{Parallelism: test.Parallelism},
				Unit:    RepairUnit{Nodes: test.Nodes, Datacenters: test.DCs},
				Segment: RepairSegment{Replicas: []string{"a3", "a2", "a1"}},
				DC:      dc,
			}
			if diff := cmp.Diff(participants(task), test.Golden); diff != "" {
				t.Fatal(diff)
			}
		})
	}
}
