// Copyright (C) 2017 ScyllaDB

package repair

import (
	"context"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

// MemoryStore is a Store keeping data in memory, values are copied on
// every read and write.
type MemoryStore struct {
	mu       sync.RWMutex
	clusters map[string]Cluster
	units    map[uuid.UUID]RepairUnit
	scheds   map[uuid.UUID]RepairSchedule
	runs     map[uuid.UUID]RepairRun
	segments map[uuid.UUID][]RepairSegment
}

var _ Store = &MemoryStore{}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clusters: make(map[string]Cluster),
		units:    make(map[uuid.UUID]RepairUnit),
		scheds:   make(map[uuid.UUID]RepairSchedule),
		runs:     make(map[uuid.UUID]RepairRun),
		segments: make(map[uuid.UUID][]RepairSegment),
	}
}

func (m *MemoryStore) PutCluster(_ context.Context, c Cluster) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.SeedHosts = cloneStrings(c.SeedHosts)
	m.clusters[c.Name] = c
	return nil
}

func (m *MemoryStore) GetCluster(_ context.Context, name string) (Cluster, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clusters[name]
	if !ok {
		return Cluster{}, ErrNotFound
	}
	c.SeedHosts = cloneStrings(c.SeedHosts)
	return c, nil
}

func (m *MemoryStore) PutRepairUnit(_ context.Context, u RepairUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.units[u.ID] = cloneUnit(u)
	return nil
}

func (m *MemoryStore) GetRepairUnit(_ context.Context, id uuid.UUID) (RepairUnit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.units[id]
	if !ok {
		return RepairUnit{}, ErrNotFound
	}
	return cloneUnit(u), nil
}

func cloneUnit(u RepairUnit) RepairUnit {
	u.Tables = cloneStrings(u.Tables)
	u.ExcludedTables = cloneStrings(u.ExcludedTables)
	u.Nodes = cloneStrings(u.Nodes)
	u.Datacenters = cloneStrings(u.Datacenters)
	return u
}

func (m *MemoryStore) PutRepairSchedule(_ context.Context, rs RepairSchedule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scheds[rs.ID] = rs
	return nil
}

func (m *MemoryStore) GetRepairSchedule(_ context.Context, id uuid.UUID) (RepairSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rs, ok := m.scheds[id]
	if !ok {
		return RepairSchedule{}, ErrNotFound
	}
	return rs, nil
}

func (m *MemoryStore) GetRepairSchedules(_ context.Context) ([]RepairSchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RepairSchedule, 0, len(m.scheds))
	for _, rs := range m.scheds {
		out = append(out, rs)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].NextActivation.Before(out[j].NextActivation)
	})
	return out, nil
}

func (m *MemoryStore) PutRepairRun(_ context.Context, r RepairRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = r
	return nil
}

func (m *MemoryStore) GetRepairRun(_ context.Context, id uuid.UUID) (RepairRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return RepairRun{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) GetRepairRunsWithState(_ context.Context, state RunState) ([]RepairRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RepairRun
	for _, r := range m.runs {
		if r.State == state {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreationTime.Before(out[j].CreationTime)
	})
	return out, nil
}

func (m *MemoryStore) PutRepairSegments(_ context.Context, segments []RepairSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range segments {
		m.segments[s.RunID] = append(m.segments[s.RunID], cloneSegment(s))
	}
	for runID := range m.segments {
		sortSegments(m.segments[runID])
	}
	return nil
}

func (m *MemoryStore) UpdateRepairSegment(_ context.Context, s RepairSegment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	segments := m.segments[s.RunID]
	for i := range segments {
		if segments[i].ID == s.ID {
			segments[i] = cloneSegment(s)
			return nil
		}
	}
	return errors.Wrapf(ErrNotFound, "segment %s", s.ID)
}

func (m *MemoryStore) GetRepairSegment(_ context.Context, runID, id uuid.UUID) (RepairSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.segments[runID] {
		if s.ID == id {
			return cloneSegment(s), nil
		}
	}
	return RepairSegment{}, ErrNotFound
}

func (m *MemoryStore) GetRepairSegments(_ context.Context, runID uuid.UUID) ([]RepairSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	segments := m.segments[runID]
	out := make([]RepairSegment, len(segments))
	for i := range segments {
		out[i] = cloneSegment(segments[i])
	}
	return out, nil
}

func (m *MemoryStore) GetNextFreeSegmentInRange(_ context.Context, runID uuid.UUID, lane dht.RingRange) (RepairSegment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.segments[runID] {
		if s.State == SegmentStateNotStarted && lane.Contains(s.BaseRange().Start) {
			return cloneSegment(s), nil
		}
	}
	return RepairSegment{}, ErrNotFound
}

func cloneSegment(s RepairSegment) RepairSegment {
	s.Ranges = append([]dht.RingRange(nil), s.Ranges...)
	s.Replicas = cloneStrings(s.Replicas)
	return s
}

func sortSegments(s []RepairSegment) {
	sort.SliceStable(s, func(i, j int) bool {
		return s[i].BaseRange().Start < s[j].BaseRange().Start
	})
}
