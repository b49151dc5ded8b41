// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/metrics"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
	"github.com/scylladb/ringrepair/pkg/service"
	"github.com/scylladb/ringrepair/pkg/util/tickrun"
	"github.com/scylladb/ringrepair/pkg/util/timeutc"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Murmur3Partitioner is the only supported partitioner.
const Murmur3Partitioner = "org.apache.cassandra.dht.Murmur3Partitioner"

// Service schedules and executes repair runs.
type Service struct {
	config   Config
	store    Store
	provider nodeclient.ProviderFunc
	metrics  metrics.RepairMetrics
	logger   log.Logger

	runner *segmentRunner
	sem    *semaphore.Weighted
	ticks  *atomic.Int64

	ctx    context.Context // nolint: containedctx
	cancel context.CancelFunc

	schedMu sync.Mutex

	mu           sync.Mutex
	coordinators map[uuid.UUID]struct{}
	closed       bool
	stopTicker   func()
	wg           sync.WaitGroup
}

// NewService creates a new service instance, guard is shared with other
// services repairing the same clusters.
func NewService(config Config, store Store, guard *Guard, provider nodeclient.ProviderFunc,
	m metrics.RepairMetrics, logger log.Logger,
) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	if store == nil {
		return nil, errors.New("missing store")
	}
	if guard == nil {
		return nil, errors.New("missing guard")
	}
	if provider == nil {
		return nil, errors.New("missing node client provider")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		config:       config,
		store:        store,
		provider:     provider,
		metrics:      m,
		logger:       logger,
		runner:       newSegmentRunner(config, store, guard, provider, m, logger.Named("segment")),
		sem:          semaphore.NewWeighted(int64(config.MaxParallelRuns)),
		ticks:        atomic.NewInt64(0),
		ctx:          ctx,
		cancel:       cancel,
		coordinators: make(map[uuid.UUID]struct{}),
	}, nil
}

// Start resumes RUNNING runs and starts the periodic tick that resumes
// runs without a coordinator and resets hanging repair jobs.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("service closed")
	}
	if s.stopTicker != nil {
		return nil
	}

	s.logger.Info(ctx, "Starting repair scheduler", "tick", s.config.SchedulerTickInterval)
	s.stopTicker = tickrun.NewTicker(s.config.SchedulerTickInterval, func() {
		s.tick(log.WithNewTraceID(s.ctx))
	})
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(log.WithNewTraceID(s.ctx))
	}()
	return nil
}

func (s *Service) tick(ctx context.Context) {
	defer s.ticks.Inc()
	if err := s.ResumeRunningRepairRuns(ctx); err != nil {
		s.logger.Error(ctx, "Failed to resume runs", "error", err)
	}
	if err := s.ActivateDueRepairSchedules(ctx); err != nil {
		s.logger.Error(ctx, "Failed to activate schedules", "error", err)
	}
	if n := s.runner.resetStale(ctx, s.config.HangingRepairTimeout); n > 0 {
		s.logger.Info(ctx, "Reset hanging repair jobs", "count", n)
	}
}

// AddCluster stores the cluster.
func (s *Service) AddCluster(ctx context.Context, c Cluster) error {
	if c.Partitioner == "" {
		c.Partitioner = Murmur3Partitioner
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if !strings.HasSuffix(c.Partitioner, "Murmur3Partitioner") {
		return service.ErrValidate(errors.Errorf("unsupported partitioner %s", c.Partitioner))
	}
	return s.store.PutCluster(ctx, c)
}

// AddRepairUnit validates and stores a repair unit of a known cluster.
func (s *Service) AddRepairUnit(ctx context.Context, u RepairUnit) (RepairUnit, error) {
	u, err := NewRepairUnit(u)
	if err != nil {
		return RepairUnit{}, err
	}
	if _, err := s.store.GetCluster(ctx, u.ClusterName); err != nil {
		if errors.Is(err, ErrNotFound) {
			return RepairUnit{}, service.ErrValidate(errors.Errorf("unknown cluster %s", u.ClusterName))
		}
		return RepairUnit{}, errors.Wrap(err, "get cluster")
	}
	if err := s.store.PutRepairUnit(ctx, u); err != nil {
		return RepairUnit{}, errors.Wrap(err, "put unit")
	}
	return u, nil
}

// CreateRepairRun splits the ring of the unit cluster into segments and
// stores a NOT_STARTED run with its segments.
func (s *Service) CreateRepairRun(ctx context.Context, unitID uuid.UUID, p RunParams) (RepairRun, error) {
	if err := p.Validate(); err != nil {
		return RepairRun{}, err
	}
	unit, err := s.store.GetRepairUnit(ctx, unitID)
	if err != nil {
		return RepairRun{}, errors.Wrap(err, "get unit")
	}
	cluster, err := s.store.GetCluster(ctx, unit.ClusterName)
	if err != nil {
		return RepairRun{}, errors.Wrap(err, "get cluster")
	}

	client, err := connectAny(ctx, s.provider, cluster.SeedHosts, s.config.ConnectTimeout)
	if err != nil {
		return RepairRun{}, err
	}
	defer client.Close()

	var (
		tokens    []int64
		ownership dht.Ownership
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		tokens, err = client.Tokens(gCtx)
		return errors.Wrap(err, "get tokens")
	})
	g.Go(func() (err error) {
		ownership, err = client.ReplicaOwnership(gCtx, unit.Keyspace)
		return errors.Wrap(err, "get replica ownership")
	})
	if err := g.Wait(); err != nil {
		return RepairRun{}, err
	}

	merge := client.Capabilities().RangeMerging
	segments, err := dht.NewSegmentGenerator(dht.Murmur3Ring()).Generate(p.SegmentCount, tokens, ownership, merge)
	if err != nil {
		return RepairRun{}, errors.Wrap(err, "generate segments")
	}

	run, err := NewRepairRun(unit, p, timeutc.Now())
	if err != nil {
		return RepairRun{}, err
	}
	if err := s.store.PutRepairSegments(ctx, NewRepairSegments(run, segments)); err != nil {
		return RepairRun{}, errors.Wrap(err, "put segments")
	}
	if err := s.store.PutRepairRun(ctx, run); err != nil {
		return RepairRun{}, errors.Wrap(err, "put run")
	}

	s.logger.Info(ctx, "Created repair run",
		"run_id", run.ID,
		"cluster", run.ClusterName,
		"keyspace", unit.Keyspace,
		"segments", len(segments),
		"range_merging", merge,
	)
	return run, nil
}

// StartRepairRun moves the run to RUNNING and starts its coordinator.
// Calling it for a RUNNING run with a live coordinator is a no-op.
func (s *Service) StartRepairRun(ctx context.Context, runID uuid.UUID) error {
	run, err := s.store.GetRepairRun(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "get run")
	}

	switch run.State {
	case RunStateRunning:
	case RunStateNotStarted, RunStatePaused:
		run, err = run.WithState(RunStateRunning, timeutc.Now())
		if err != nil {
			return err
		}
		if err := s.store.PutRepairRun(ctx, run); err != nil {
			return errors.Wrap(err, "put run")
		}
	default:
		return service.ErrValidate(errors.Errorf("run %s is %s", runID, run.State))
	}

	return s.startCoordinator(ctx, run)
}

// ResumeRunningRepairRuns starts coordinators of RUNNING runs that do not
// have one.
func (s *Service) ResumeRunningRepairRuns(ctx context.Context) error {
	runs, err := s.store.GetRepairRunsWithState(ctx, RunStateRunning)
	if err != nil {
		return errors.Wrap(err, "get running runs")
	}
	var errs error
	for _, run := range runs {
		errs = multierr.Append(errs, s.startCoordinator(ctx, run))
	}
	return errs
}

func (s *Service) startCoordinator(ctx context.Context, run RepairRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("service closed")
	}
	if _, ok := s.coordinators[run.ID]; ok {
		return nil
	}
	s.coordinators[run.ID] = struct{}{}
	s.wg.Add(1)

	s.logger.Info(ctx, "Starting run coordinator", "run_id", run.ID, "cluster", run.ClusterName)

	c := &runCoordinator{
		config:   s.config,
		store:    s.store,
		runner:   s.runner,
		provider: s.provider,
		metrics:  s.metrics,
		logger:   s.logger.Named("coordinator").With("run_id", run.ID),
		runID:    run.ID,
	}
	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.coordinators, run.ID)
			s.mu.Unlock()
			s.wg.Done()
		}()

		runCtx := log.WithNewTraceID(s.ctx)
		if err := s.sem.Acquire(runCtx, 1); err != nil {
			return
		}
		defer s.sem.Release(1)

		if err := c.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error(runCtx, "Run coordinator failed", "run_id", run.ID, "error", err)
		}
	}()

	return nil
}

// PauseRepairRun stops dispatching segments of a RUNNING run, jobs in flight
// are allowed to finish.
func (s *Service) PauseRepairRun(ctx context.Context, runID uuid.UUID) error {
	return s.transition(ctx, runID, RunStatePaused)
}

// AbortRepairRun stops the run for good, jobs in flight are canceled.
func (s *Service) AbortRepairRun(ctx context.Context, runID uuid.UUID) error {
	if err := s.transition(ctx, runID, RunStateAborted); err != nil {
		return err
	}
	s.runner.cancelRun(ctx, runID)
	return nil
}

func (s *Service) transition(ctx context.Context, runID uuid.UUID, state RunState) error {
	run, err := s.store.GetRepairRun(ctx, runID)
	if err != nil {
		return errors.Wrap(err, "get run")
	}
	run, err = run.WithState(state, timeutc.Now())
	if err != nil {
		return service.ErrValidate(err)
	}
	if err := s.store.PutRepairRun(ctx, run); err != nil {
		return errors.Wrap(err, "put run")
	}
	s.logger.Info(ctx, "Run state changed", "run_id", runID, "state", state)
	return nil
}

// GetRepairRun returns run of the given ID.
func (s *Service) GetRepairRun(ctx context.Context, runID uuid.UUID) (RepairRun, error) {
	return s.store.GetRepairRun(ctx, runID)
}

// GetRepairSegments returns segments of the run in ring order.
func (s *Service) GetRepairSegments(ctx context.Context, runID uuid.UUID) ([]RepairSegment, error) {
	return s.store.GetRepairSegments(ctx, runID)
}

// GetProgress returns progress of the run.
func (s *Service) GetProgress(ctx context.Context, runID uuid.UUID) (Progress, error) {
	run, err := s.store.GetRepairRun(ctx, runID)
	if err != nil {
		return Progress{}, errors.Wrap(err, "get run")
	}
	segments, err := s.store.GetRepairSegments(ctx, runID)
	if err != nil {
		return Progress{}, errors.Wrap(err, "get segments")
	}
	return newProgress(run, segments), nil
}

// Close stops the tick and all coordinators, jobs in flight are canceled and
// their segments reset without increasing fail count.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.stopTicker
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
	s.cancel()
	s.wg.Wait()
	s.runner.close()
}
