// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hailocab/go-hostpool"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/metrics"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/util/timeutc"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

// outcome is the result of a single segment repair attempt.
type outcome int

const (
	// outcomeDone means the segment is repaired.
	outcomeDone outcome = iota
	// outcomeFailed means the job failed or timed out, fail count was increased.
	outcomeFailed
	// outcomeDeferred means some participating node is busy.
	outcomeDeferred
	// outcomeNotStarted means the job could not be triggered.
	outcomeNotStarted
	// outcomeCanceled means the attempt was stopped by context or abort.
	outcomeCanceled
)

func (o outcome) String() string {
	switch o {
	case outcomeDone:
		return "done"
	case outcomeFailed:
		return "failed"
	case outcomeDeferred:
		return "deferred"
	case outcomeNotStarted:
		return "not_started"
	case outcomeCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// segmentTask is a request to repair a segment.
type segmentTask struct {
	Lane    int
	Run     RepairRun
	Unit    RepairUnit
	Segment RepairSegment
	// DC maps nodes to datacenters.
	DC map[string]string
}

// segmentResult reports what happened to a segmentTask.
type segmentResult struct {
	Lane     int
	Segment  RepairSegment
	Outcome  outcome
	Duration time.Duration
	// Err is the attempt error, it is informational unless StoreErr is set.
	Err error
	// StoreErr is set when the segment state could not be persisted.
	StoreErr error
}

// attempt is a segment repair job in progress.
type attempt struct {
	id        uuid.UUID
	runID     uuid.UUID
	cluster   string
	segment   RepairSegment
	keys      []string
	client    nodeclient.Client
	commandID int32
	started   time.Time

	events chan nodeclient.Notification
	stop   chan struct{}
	once   sync.Once
	result segmentResult
}

const attemptEventsBuffer = 64

func (a *attempt) notify(n nodeclient.Notification) {
	select {
	case a.events <- n:
	case <-a.stop:
	}
}

// segmentRunner executes repair of single segments. It is shared by all
// runs and holds the attempts in flight.
type segmentRunner struct {
	config   Config
	store    Store
	guard    *Guard
	provider nodeclient.ProviderFunc
	metrics  metrics.RepairMetrics
	logger   log.Logger

	mu       sync.Mutex
	inflight map[uuid.UUID]*attempt
	pools    map[uint64]hostpool.HostPool
}

func newSegmentRunner(config Config, store Store, guard *Guard, provider nodeclient.ProviderFunc,
	m metrics.RepairMetrics, logger log.Logger,
) *segmentRunner {
	return &segmentRunner{
		config:   config,
		store:    store,
		guard:    guard,
		provider: provider,
		metrics:  m,
		logger:   logger,
		inflight: make(map[uuid.UUID]*attempt),
		pools:    make(map[uint64]hostpool.HostPool),
	}
}

// participants returns sorted nodes repairing the segment.
func participants(t segmentTask) []string {
	s := strset.New(t.Segment.Replicas...)
	if len(t.Unit.Nodes) > 0 {
		s = strset.Intersection(s, strset.New(t.Unit.Nodes...))
	}
	if t.Run.Parallelism == ParallelismDatacenterAware && len(t.Unit.Datacenters) > 0 {
		dcs := strset.New(t.Unit.Datacenters...)
		s.Each(func(h string) bool {
			if !dcs.Has(t.DC[h]) {
				s.Remove(h)
			}
			return true
		})
	}
	out := s.List()
	sort.Strings(out)
	return out
}

// hostPool returns host pool of the nodes, pools are cached so that
// connection failures are remembered across attempts.
func (r *segmentRunner) hostPool(hosts []string) hostpool.HostPool {
	k := xxhash.Sum64String(dht.ReplicaKey(hosts))

	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[k]
	if !ok {
		p = hostpool.NewEpsilonGreedy(hosts, 0, &hostpool.LinearEpsilonValueCalculator{})
		r.pools[k] = p
	}
	return p
}

// Run repairs a segment and blocks until the job ends, times out,
// or the attempt is stopped.
func (r *segmentRunner) Run(ctx context.Context, t segmentTask) segmentResult {
	start := timeutc.Now()
	res := r.run(ctx, t)
	res.Lane = t.Lane
	res.Duration = timeutc.Since(start)
	r.metrics.ObserveAttempt(t.Run.ClusterName, res.Outcome.String())
	return res
}

func (r *segmentRunner) run(ctx context.Context, t segmentTask) segmentResult {
	seg := t.Segment
	logger := r.logger.With("run_id", t.Run.ID, "segment_id", seg.ID, "range", seg.BaseRange())

	hosts := participants(t)
	if len(hosts) == 0 {
		logger.Info(ctx, "No nodes to repair segment, skipping")
		seg = seg.Done(timeutc.Now())
		if err := r.store.UpdateRepairSegment(ctx, seg); err != nil {
			return segmentResult{Segment: seg, StoreErr: errors.Wrap(err, "update segment")}
		}
		return segmentResult{Segment: seg, Outcome: outcomeDone}
	}

	a := &attempt{
		id:      uuid.MustRandom(),
		runID:   t.Run.ID,
		cluster: t.Run.ClusterName,
		segment: seg,
		keys:    NodeKeys(t.Run.ClusterName, hosts),
		events:  make(chan nodeclient.Notification, attemptEventsBuffer),
		stop:    make(chan struct{}),
	}
	if !r.guard.TryAcquire(a.id, a.keys) {
		logger.Debug(ctx, "Nodes busy, deferring segment", "hosts", hosts, "busy", r.guard.held())
		return segmentResult{Segment: seg, Outcome: outcomeDeferred}
	}

	hpr := r.hostPool(hosts).Get()
	host := hpr.Host()

	c, err := r.provider(ctx, host, r.config.ConnectTimeout)
	if err != nil {
		hpr.Mark(err)
		r.guard.Release(a.id, a.keys)
		logger.Info(ctx, "Failed to connect to coordinator host", "host", host, "error", err)
		return segmentResult{Segment: seg, Outcome: outcomeNotStarted, Err: err}
	}

	req := nodeclient.RepairRequest{
		Keyspace:       t.Unit.Keyspace,
		Tables:         t.Unit.Tables,
		ExcludedTables: t.Unit.ExcludedTables,
		Ranges:         seg.Ranges,
		Parallelism:    t.Run.Parallelism.node(),
		Datacenters:    t.Unit.Datacenters,
		Hosts:          hosts,
		Incremental:    t.Unit.Incremental,
		ThreadCount:    t.Unit.ThreadCount,
	}
	id, err := c.TriggerRepair(ctx, req, nodeclient.NewStatusAdapter(a.notify))
	if err != nil {
		close(a.stop)
		c.Close()
		r.guard.Release(a.id, a.keys)
		return r.triggerFailed(ctx, seg, host, hpr, err)
	}
	hpr.Mark(nil)

	a.client = c
	a.commandID = id
	a.started = timeutc.Now()
	a.segment = seg.Started(host, a.started)
	r.metrics.AddJob(t.Run.ClusterName, host)
	if err := r.store.UpdateRepairSegment(ctx, a.segment); err != nil {
		res := r.finalize(context.WithoutCancel(ctx), a, outcomeCanceled, nil)
		res.StoreErr = errors.Wrap(err, "update segment")
		return res
	}
	r.register(a)

	logger.Info(ctx, "Repairing segment", "host", host, "command_id", id, "hosts", hosts)
	return r.wait(ctx, a)
}

// triggerFailed handles a job the node did not start. Unreachable nodes
// leave the segment untouched, a rejected request counts as a failed attempt.
func (r *segmentRunner) triggerFailed(ctx context.Context, seg RepairSegment, host string, hpr hostpool.HostPoolResponse, err error) segmentResult {
	logger := r.logger.With("segment_id", seg.ID, "host", host)

	if nodeclient.IsConnectionError(err) || ctx.Err() != nil {
		hpr.Mark(err)
		logger.Info(ctx, "Failed to trigger repair", "error", err)
		return segmentResult{Segment: seg, Outcome: outcomeNotStarted, Err: err}
	}
	hpr.Mark(nil)

	seg = seg.Reset(true)
	res := segmentResult{Segment: seg, Outcome: outcomeFailed, Err: errors.Wrap(err, "trigger repair")}
	if err := r.store.UpdateRepairSegment(ctx, seg); err != nil {
		res.StoreErr = errors.Wrap(err, "update segment")
	}
	logger.Info(ctx, "Node rejected repair", "fail_count", seg.FailCount, "error", err)
	return res
}

func (r *segmentRunner) wait(ctx context.Context, a *attempt) segmentResult {
	timer := time.NewTimer(r.config.HangingRepairTimeout)
	defer timer.Stop()

	for {
		select {
		case n := <-a.events:
			if n.CommandID != a.commandID {
				continue
			}
			switch n.Kind {
			case nodeclient.Started, nodeclient.Progress:
				continue
			case nodeclient.Succeeded:
				return r.finalize(ctx, a, outcomeDone, nil)
			case nodeclient.Ended:
				if n.Failed {
					return r.finalize(ctx, a, outcomeFailed, errors.Errorf("repair job %d failed: %s", a.commandID, n.Message))
				}
				return r.finalize(ctx, a, outcomeFailed, errors.Errorf("repair job %d ended without success", a.commandID))
			default:
				return r.finalize(ctx, a, outcomeFailed, errors.Wrapf(ErrProtocol, "%s", n))
			}
		case <-timer.C:
			return r.finalize(ctx, a, outcomeFailed, ErrTimeout)
		case <-a.stop:
			return a.result
		case <-ctx.Done():
			return r.finalize(context.WithoutCancel(ctx), a, outcomeCanceled, ctx.Err())
		}
	}
}

// finalize ends the attempt, only the first call has an effect, later calls
// return the first result.
func (r *segmentRunner) finalize(ctx context.Context, a *attempt, o outcome, cause error) segmentResult {
	a.once.Do(func() {
		now := timeutc.Now()
		logger := r.logger.With("run_id", a.runID, "segment_id", a.segment.ID, "command_id", a.commandID)

		seg := a.segment
		switch o {
		case outcomeDone:
			seg = seg.Done(now)
		case outcomeFailed:
			r.cancelJob(ctx, a)
			seg = seg.Reset(true)
		default:
			r.cancelJob(ctx, a)
			seg = seg.Reset(false)
		}

		res := segmentResult{Segment: seg, Outcome: o, Err: cause}
		if err := r.store.UpdateRepairSegment(ctx, seg); err != nil {
			res.StoreErr = errors.Wrap(err, "update segment")
		}

		r.guard.Release(a.id, a.keys)
		r.unregister(a)
		if err := a.client.Close(); err != nil {
			logger.Debug(ctx, "Failed to close client", "error", err)
		}
		r.metrics.SubJob(a.cluster, a.client.Host())

		if o == outcomeDone {
			logger.Info(ctx, "Segment repaired", "duration", now.Sub(a.started))
		} else {
			logger.Info(ctx, "Segment repair attempt ended", "outcome", o, "fail_count", seg.FailCount, "error", cause)
		}

		a.result = res
		close(a.stop)
	})
	<-a.stop
	return a.result
}

// cancelJob stops the job on the node if it supports that, errors are only
// logged.
func (r *segmentRunner) cancelJob(ctx context.Context, a *attempt) {
	if !a.client.Capabilities().Cancel {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, r.config.ConnectTimeout)
	defer cancel()
	if err := a.client.CancelRepair(ctx, a.commandID); err != nil {
		r.logger.Info(ctx, "Failed to cancel repair job",
			"host", a.client.Host(),
			"command_id", a.commandID,
			"error", err,
		)
	}
}

func (r *segmentRunner) register(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inflight[a.id] = a
}

func (r *segmentRunner) unregister(a *attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, a.id)
}

func (r *segmentRunner) attempts(match func(a *attempt) bool) []*attempt {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*attempt
	for _, a := range r.inflight {
		if match(a) {
			out = append(out, a)
		}
	}
	return out
}

// inFlight returns true if the segment is being repaired.
func (r *segmentRunner) inFlight(segmentID uuid.UUID) bool {
	return len(r.attempts(func(a *attempt) bool { return a.segment.ID == segmentID })) > 0
}

// inFlightRun returns number of attempts of the run.
func (r *segmentRunner) inFlightRun(runID uuid.UUID) int {
	return len(r.attempts(func(a *attempt) bool { return a.runID == runID }))
}

// close releases host pools.
func (r *segmentRunner) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, p := range r.pools {
		p.Close()
		delete(r.pools, k)
	}
}

// resetStale fails attempts started before olderThan ago, it returns the
// number of reset attempts.
func (r *segmentRunner) resetStale(ctx context.Context, olderThan time.Duration) int {
	deadline := timeutc.Now().Add(-olderThan)
	stale := r.attempts(func(a *attempt) bool { return a.started.Before(deadline) })
	for _, a := range stale {
		r.logger.Info(ctx, "Resetting hanging repair job",
			"run_id", a.runID,
			"segment_id", a.segment.ID,
			"started", a.started,
		)
		r.finalize(ctx, a, outcomeFailed, ErrTimeout)
	}
	return len(stale)
}

// cancelRun stops all attempts of the run without failing the segments.
func (r *segmentRunner) cancelRun(ctx context.Context, runID uuid.UUID) {
	for _, a := range r.attempts(func(a *attempt) bool { return a.runID == runID }) {
		r.finalize(ctx, a, outcomeCanceled, errors.New("run aborted"))
	}
}
