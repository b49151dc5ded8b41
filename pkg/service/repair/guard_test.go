// Copyright (C) 2017 ScyllaDB

package repair

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/scylladb/ringrepair/pkg/util/uuid"
	"go.uber.org/atomic"
)

func TestGuardTryAcquire(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	o1 := uuid.MustRandom()
	o2 := uuid.MustRandom()

	if !g.TryAcquire(o1, NodeKeys("c", []string{"a1", "a2", "a3"})) {
		t.Fatal("TryAcquire() failed on empty guard")
	}
	if g.TryAcquire(o2, NodeKeys("c", []string{"a3", "a4", "a5"})) {
		t.Fatal("TryAcquire() succeeded on busy node")
	}
	if diff := cmp.Diff(g.held(), []string{"c/a1", "c/a2", "c/a3"}); diff != "" {
		t.Fatalf("held() diff %s", diff)
	}
	if !g.TryAcquire(o2, NodeKeys("other", []string{"a3"})) {
		t.Fatal("TryAcquire() failed on node of other cluster")
	}
}

func TestGuardRelease(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	o1 := uuid.MustRandom()
	o2 := uuid.MustRandom()
	keys := NodeKeys("c", []string{"a1", "a2"})

	g.TryAcquire(o1, keys)
	g.Release(o2, keys)
	if len(g.held()) != 2 {
		t.Fatal("Release() freed keys of other owner")
	}

	g.Release(o1, keys)
	g.Release(o1, keys)
	if len(g.held()) != 0 {
		t.Fatalf("held() = %v, expected empty", g.held())
	}
	if !g.TryAcquire(o2, keys) {
		t.Fatal("TryAcquire() failed after release")
	}
}

func TestGuardConcurrentAcquire(t *testing.T) {
	t.Parallel()

	g := NewGuard()
	keys := NodeKeys("c", []string{"a1", "a2", "a3"})

	var (
		wg  sync.WaitGroup
		won atomic.Int64
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.TryAcquire(uuid.MustRandom(), keys) {
				won.Inc()
			}
		}()
	}
	wg.Wait()

	if won.Load() != 1 {
		t.Fatalf("TryAcquire() succeeded %d times, expected 1", won.Load())
	}
}
