// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"testing"
	"time"

	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/nodeclient/nodeclienttest"
	"github.com/scylladb/ringrepair/pkg/service"
	"github.com/scylladb/ringrepair/pkg/util/timeutc"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

func (f serviceFixture) addDueSchedule(t *testing.T) RepairSchedule {
	t.Helper()

	ctx := context.Background()
	u, err := f.service.AddRepairUnit(ctx, RepairUnit{ClusterName: "c", Keyspace: "ks"})
	if err != nil {
		t.Fatal(err)
	}
	rs, err := f.service.AddRepairSchedule(ctx, u.ID, mustCron("@every 1h"), testRunParams())
	if err != nil {
		t.Fatal(err)
	}
	rs.NextActivation = timeutc.Now().Add(-time.Minute)
	if err := f.store.PutRepairSchedule(ctx, rs); err != nil {
		t.Fatal(err)
	}
	return rs
}

func (f serviceFixture) schedule(t *testing.T, id uuid.UUID) RepairSchedule {
	t.Helper()

	rs, err := f.store.GetRepairSchedule(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return rs
}

func TestServiceActivateDueRepairSchedules(t *testing.T) {
	t.Parallel()

	c := nodeclienttest.NewCluster(threeNodeOwnership())
	f := newServiceFixture(t, c, testServiceConfig())
	ctx := context.Background()

	rs := f.addDueSchedule(t)
	if err := f.service.ActivateDueRepairSchedules(ctx); err != nil {
		t.Fatal(err)
	}

	got := f.schedule(t, rs.ID)
	if got.LastRunID == uuid.Nil {
		t.Fatal("expected run to be created")
	}
	if !got.NextActivation.After(timeutc.Now().Add(59 * time.Minute)) {
		t.Fatalf("NextActivation = %s, expected in an hour", got.NextActivation)
	}

	run := f.waitForRunState(t, got.LastRunID, RunStateDone)
	if run.Cause != "scheduled run" || run.UnitID != rs.UnitID {
		t.Fatalf("run %+v", run)
	}
	f.waitForCoordinatorExit(t, run.ID)

	// Not due anymore
	if err := f.service.ActivateDueRepairSchedules(ctx); err != nil {
		t.Fatal(err)
	}
	if id := f.schedule(t, rs.ID).LastRunID; id != run.ID {
		t.Fatalf("LastRunID = %s, expected %s", id, run.ID)
	}
}

func TestServiceActivateSkipsUnfinishedRun(t *testing.T) {
	t.Parallel()

	c := nodeclienttest.NewCluster(threeNodeOwnership())
	c.Behave = func(int, nodeclient.RepairRequest) nodeclienttest.Behavior {
		return nodeclienttest.Hang
	}
	f := newServiceFixture(t, c, testServiceConfig())
	ctx := context.Background()

	rs := f.addDueSchedule(t)
	if err := f.service.ActivateDueRepairSchedules(ctx); err != nil {
		t.Fatal(err)
	}
	first := f.schedule(t, rs.ID)
	f.waitForRunState(t, first.LastRunID, RunStateRunning)

	first.NextActivation = timeutc.Now().Add(-time.Minute)
	if err := f.store.PutRepairSchedule(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := f.service.ActivateDueRepairSchedules(ctx); err != nil {
		t.Fatal(err)
	}

	got := f.schedule(t, rs.ID)
	if got.LastRunID != first.LastRunID {
		t.Fatalf("LastRunID = %s, expected %s", got.LastRunID, first.LastRunID)
	}
	if !got.NextActivation.After(timeutc.Now()) {
		t.Fatalf("NextActivation = %s, expected to be postponed", got.NextActivation)
	}

	f.waitForTriggers(t, 1)
	for f.service.runner.inFlightRun(first.LastRunID) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if err := f.service.AbortRepairRun(ctx, first.LastRunID); err != nil {
		t.Fatal(err)
	}
	f.waitForCoordinatorExit(t, first.LastRunID)
}

func TestServiceDisabledRepairSchedule(t *testing.T) {
	t.Parallel()

	c := nodeclienttest.NewCluster(threeNodeOwnership())
	f := newServiceFixture(t, c, testServiceConfig())
	ctx := context.Background()

	rs := f.addDueSchedule(t)
	if err := f.service.SetRepairScheduleEnabled(ctx, rs.ID, false); err != nil {
		t.Fatal(err)
	}
	if err := f.service.ActivateDueRepairSchedules(ctx); err != nil {
		t.Fatal(err)
	}
	if id := f.schedule(t, rs.ID).LastRunID; id != uuid.Nil {
		t.Fatalf("LastRunID = %s, expected no run", id)
	}

	if err := f.service.SetRepairScheduleEnabled(ctx, rs.ID, true); err != nil {
		t.Fatal(err)
	}
	got := f.schedule(t, rs.ID)
	if !got.Enabled || !got.NextActivation.After(timeutc.Now()) {
		t.Fatalf("schedule %+v, expected enabled with future activation", got)
	}

	all, err := f.service.GetRepairSchedules(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != rs.ID {
		t.Fatalf("GetRepairSchedules() = %+v", all)
	}
}

func TestServiceAddRepairScheduleValidation(t *testing.T) {
	t.Parallel()

	c := nodeclienttest.NewCluster(threeNodeOwnership())
	f := newServiceFixture(t, c, testServiceConfig())
	ctx := context.Background()

	u, err := f.service.AddRepairUnit(ctx, RepairUnit{ClusterName: "c", Keyspace: "ks"})
	if err != nil {
		t.Fatal(err)
	}

	table := []struct {
		Name   string
		UnitID uuid.UUID
		Cron   Cron
		Params func(p *RunParams)
	}{
		{
			Name:   "unknown unit",
			UnitID: uuid.MustRandom(),
			Cron:   mustCron("@daily"),
		},
		{
			Name:   "missing cron",
			UnitID: u.ID,
		},
		{
			Name:   "invalid intensity",
			UnitID: u.ID,
			Cron:   mustCron("@daily"),
			Params: func(p *RunParams) { p.Intensity = 2 },
		},
	}

	for i := range table {
		test := table[i]
		t.Run(test.Name, func(t *testing.T) {
			p := testRunParams()
			if test.Params != nil {
				test.Params(&p)
			}
			if _, err := f.service.AddRepairSchedule(ctx, test.UnitID, test.Cron, p); !service.IsErrValidate(err) {
				t.Fatalf("AddRepairSchedule() error %v, expected validation error", err)
			}
		})
	}
}
