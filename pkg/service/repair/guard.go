// Copyright (C) 2017 ScyllaDB

package repair

import (
	"sort"
	"sync"

	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
)

// Guard makes sure that a node takes part in at most one repair job at a
// time. It is shared by all runs of a process.
type Guard struct {
	mu   sync.Mutex
	busy map[string]uuid.UUID
}

// NewGuard returns an empty Guard.
func NewGuard() *Guard {
	return &Guard{
		busy: make(map[string]uuid.UUID),
	}
}

// NodeKeys returns guard keys of nodes of a cluster.
func NodeKeys(cluster string, nodes []string) []string {
	keys := make([]string, len(nodes))
	for i, n := range nodes {
		keys[i] = cluster + "/" + n
	}
	return keys
}

// TryAcquire marks all keys as busy by owner. Nothing is acquired and false
// is returned if any of the keys is busy.
func (g *Guard) TryAcquire(owner uuid.UUID, keys []string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range keys {
		if _, ok := g.busy[k]; ok {
			return false
		}
	}
	for _, k := range keys {
		g.busy[k] = owner
	}
	return true
}

// Release frees keys held by owner, keys held by others are left intact.
func (g *Guard) Release(owner uuid.UUID, keys []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, k := range keys {
		if o, ok := g.busy[k]; ok && o == owner {
			delete(g.busy, k)
		}
	}
}

// held returns sorted busy keys.
func (g *Guard) held() []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := strset.NewWithSize(len(g.busy))
	for k := range g.busy {
		s.Add(k)
	}
	out := s.List()
	sort.Strings(out)
	return out
}
