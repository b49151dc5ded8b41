// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/metrics"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/util/timeutc"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
	"github.com/scylladb/ringrepair/pkg/util/workerpool"
	"go.uber.org/multierr"
)

// lane is a contiguous part of the ring repaired by a single worker.
type lane struct {
	rng       dht.RingRange
	busy      bool
	notBefore time.Time
	backoff   backoff.BackOff
}

// runCoordinator drives a single repair run until it is done, fails,
// is paused or aborted.
type runCoordinator struct {
	config   Config
	store    Store
	runner   *segmentRunner
	provider nodeclient.ProviderFunc
	metrics  metrics.RepairMetrics
	logger   log.Logger
	runID    uuid.UUID
}

func (c *runCoordinator) newBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.config.ConnectBackoff.WaitMin
	b.MaxInterval = c.config.ConnectBackoff.WaitMax
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// intensityDelay returns the pause after an attempt that took d so that
// repair takes intensity fraction of the time.
func intensityDelay(intensity float64, d time.Duration) time.Duration {
	if intensity <= 0 || intensity >= 1 {
		return 0
	}
	return time.Duration(float64(d) * (1 - intensity) / intensity)
}

// Run coordinates the run, it returns when the run is no longer RUNNING or
// ctx is canceled.
func (c *runCoordinator) Run(ctx context.Context) error {
	run, err := c.store.GetRepairRun(ctx, c.runID)
	if err != nil {
		return errors.Wrap(err, "get run")
	}
	if run.State != RunStateRunning {
		c.logger.Info(ctx, "Run not running, nothing to do", "state", run.State)
		return nil
	}
	unit, err := c.store.GetRepairUnit(ctx, run.UnitID)
	if err != nil {
		return errors.Wrap(err, "get unit")
	}
	cluster, err := c.store.GetCluster(ctx, run.ClusterName)
	if err != nil {
		return errors.Wrap(err, "get cluster")
	}

	aborted := false
	defer func() {
		if aborted {
			c.metrics.DeleteRunMetrics(c.runID.String())
		}
	}()
	c.metrics.BeginRun(run.ClusterName, run.ID.String())
	defer c.metrics.EndRun(run.ClusterName, run.ID.String())

	segments, err := c.resetRunningSegments(ctx)
	if err != nil {
		return err
	}
	if len(segments) == 0 {
		return c.setState(ctx, run, RunStateDone)
	}

	dc, degree, err := c.topology(ctx, cluster, unit)
	if err != nil {
		return errors.Wrap(err, "read topology")
	}

	ranges := make([]dht.RingRange, len(segments))
	for i := range segments {
		ranges[i] = segments[i].BaseRange()
	}
	laneRanges, err := dht.ParallelLanes(degree, ranges)
	if err != nil {
		return errors.Wrap(err, "split ring")
	}
	lanes := make([]*lane, len(laneRanges))
	for i := range laneRanges {
		lanes[i] = &lane{rng: laneRanges[i], backoff: c.newBackoff()}
	}

	c.logger.Info(ctx, "Repairing run",
		"cluster", run.ClusterName,
		"keyspace", unit.Keyspace,
		"segments", len(segments),
		"parallel", len(lanes),
	)

	poolCtx, cancelPool := context.WithCancel(ctx)
	defer cancelPool()
	pool := workerpool.New[segmentTask, segmentResult](poolCtx, len(lanes), c.runner.Run)

	stop := func() {
		cancelPool()
		c.drain(ctx, pool)
	}

	ticker := time.NewTicker(c.config.RepairLoopInterval)
	defer ticker.Stop()

	for {
		run, err = c.store.GetRepairRun(ctx, c.runID)
		if err != nil {
			stop()
			return errors.Wrap(err, "get run")
		}

		dispatch := false
		switch run.State {
		case RunStateRunning:
			dispatch = true
		case RunStatePaused:
			if busyLanes(lanes) == 0 {
				c.drain(ctx, pool)
				c.logger.Info(ctx, "Run paused")
				return nil
			}
		case RunStateAborted:
			c.runner.cancelRun(ctx, run.ID)
			stop()
			aborted = true
			c.logger.Info(ctx, "Run aborted")
			return nil
		default:
			stop()
			return nil
		}

		if dispatch {
			segments, err := c.store.GetRepairSegments(ctx, c.runID)
			if err != nil {
				stop()
				return errors.Wrap(err, "get segments")
			}
			p := newProgress(run, segments)
			c.metrics.SetSegments(run.ClusterName, unit.Keyspace, run.ID.String(), p.SegmentsTotal, p.SegmentsDone)

			if p.SegmentsDone == p.SegmentsTotal {
				stop()
				c.logger.Info(ctx, "Run done", "segments", p.SegmentsTotal, "failures", p.Failures)
				return c.setState(ctx, run, RunStateDone)
			}
			if s, ok := exhausted(segments, c.config.MaxSegmentFailures); ok {
				stop()
				if err := c.setState(ctx, run, RunStateError); err != nil {
					return err
				}
				return errors.Wrapf(ErrRetryBudgetExceeded, "segment %s failed %d times", s.BaseRange(), s.FailCount)
			}

			if err := c.dispatch(ctx, pool, lanes, run, unit, dc); err != nil {
				stop()
				return err
			}
		}

		select {
		case res := <-pool.Results():
			if res.StoreErr != nil {
				stop()
				return res.StoreErr
			}
			c.onResult(ctx, lanes[res.Lane], run, res)
		case <-ticker.C:
		case <-ctx.Done():
			stop()
			return ctx.Err()
		}
	}
}

// resetRunningSegments moves RUNNING segments without a live attempt back
// to NOT_STARTED and returns all segments of the run.
func (c *runCoordinator) resetRunningSegments(ctx context.Context) ([]RepairSegment, error) {
	segments, err := c.store.GetRepairSegments(ctx, c.runID)
	if err != nil {
		return nil, errors.Wrap(err, "get segments")
	}
	for i, s := range segments {
		if s.State != SegmentStateRunning || c.runner.inFlight(s.ID) {
			continue
		}
		c.logger.Info(ctx, "Resetting orphaned segment", "segment_id", s.ID, "host", s.CoordinatorHost)
		segments[i] = s.Reset(false)
		if err := c.store.UpdateRepairSegment(ctx, segments[i]); err != nil {
			return nil, errors.Wrap(err, "update segment")
		}
	}
	return segments, nil
}

// topology returns datacenters of the nodes and the possible parallel degree.
func (c *runCoordinator) topology(ctx context.Context, cluster Cluster, unit RepairUnit) (map[string]string, int, error) {
	client, err := connectAny(ctx, c.provider, cluster.SeedHosts, c.config.ConnectTimeout)
	if err != nil {
		return nil, 0, err
	}
	defer client.Close()

	live, err := client.LiveNodes(ctx)
	if err != nil {
		return nil, 0, errors.Wrap(err, "get live nodes")
	}
	ownership, err := client.ReplicaOwnership(ctx, unit.Keyspace)
	if err != nil {
		return nil, 0, errors.Wrap(err, "get replica ownership")
	}
	endpoints := ownership.Endpoints()
	if down := strset.Difference(strset.New(endpoints...), strset.New(live...)); !down.IsEmpty() {
		c.logger.Info(ctx, "Some nodes are down, their segments will fail until they are back", "hosts", down.List())
	}
	dc, err := nodeclient.DatacenterMap(ctx, client, endpoints)
	if err != nil {
		return nil, 0, err
	}
	return dc, dht.PossibleParallelDegree(ownership, dc), nil
}

// connectAny returns client of the first reachable host.
func connectAny(ctx context.Context, provider nodeclient.ProviderFunc, hosts []string, timeout time.Duration) (nodeclient.Client, error) {
	var errs error
	for _, h := range hosts {
		client, err := provider(ctx, h, timeout)
		if err == nil {
			return client, nil
		}
		errs = multierr.Append(errs, err)
	}
	return nil, errors.Wrap(errs, "connect to any seed host")
}

func (c *runCoordinator) dispatch(ctx context.Context, pool *workerpool.Pool[segmentTask, segmentResult],
	lanes []*lane, run RepairRun, unit RepairUnit, dc map[string]string,
) error {
	now := timeutc.Now()
	for i, l := range lanes {
		if l.busy || now.Before(l.notBefore) {
			continue
		}
		s, err := c.store.GetNextFreeSegmentInRange(ctx, run.ID, l.rng)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return errors.Wrap(err, "get next segment")
		}
		l.busy = true
		pool.Submit(segmentTask{
			Lane:    i,
			Run:     run,
			Unit:    unit,
			Segment: s,
			DC:      dc,
		})
	}
	return nil
}

func (c *runCoordinator) onResult(ctx context.Context, l *lane, run RepairRun, res segmentResult) {
	l.busy = false
	now := timeutc.Now()

	switch res.Outcome {
	case outcomeDone:
		l.backoff.Reset()
		l.notBefore = now.Add(intensityDelay(run.Intensity, res.Duration))
	case outcomeFailed:
		l.notBefore = now.Add(intensityDelay(run.Intensity, res.Duration))
	case outcomeDeferred:
		l.notBefore = now.Add(c.config.RepairLoopInterval)
	case outcomeNotStarted:
		d := l.backoff.NextBackOff()
		if d == backoff.Stop {
			d = c.config.ConnectBackoff.WaitMax
		}
		l.notBefore = now.Add(d)
		c.logger.Info(ctx, "Segment not started, backing off",
			"segment_id", res.Segment.ID,
			"wait", d,
			"error", res.Err,
		)
	}
}

// drain stops the pool and waits for running attempts.
func (c *runCoordinator) drain(ctx context.Context, pool *workerpool.Pool[segmentTask, segmentResult]) {
	pool.Close()
	exited := make(chan struct{})
	go func() {
		pool.Wait()
		close(exited)
	}()
	for {
		select {
		case res := <-pool.Results():
			if res.StoreErr != nil {
				c.logger.Error(ctx, "Failed to persist segment", "segment_id", res.Segment.ID, "error", res.StoreErr)
			}
		case <-exited:
			return
		}
	}
}

func (c *runCoordinator) setState(ctx context.Context, run RepairRun, state RunState) error {
	run, err := run.WithState(state, timeutc.Now())
	if err != nil {
		return err
	}
	return errors.Wrap(c.store.PutRepairRun(context.WithoutCancel(ctx), run), "put run")
}

func busyLanes(lanes []*lane) int {
	n := 0
	for _, l := range lanes {
		if l.busy {
			n++
		}
	}
	return n
}

// exhausted returns a segment that reached failure limit.
func exhausted(segments []RepairSegment, limit int) (RepairSegment, bool) {
	for _, s := range segments {
		if s.State != SegmentStateDone && s.FailCount >= limit {
			return s, true
		}
	}
	return RepairSegment{}, false
}
