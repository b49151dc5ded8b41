// Copyright (C) 2017 ScyllaDB

package dht

import (
	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
)

// PossibleParallelDegree returns how many segments may be repaired at the
// same time without any node being a replica of two of them.
// The degree is the number of nodes divided by the replication factor,
// at least 1. Topologies where replica sets differ in size or datacenters
// differ in node count get 1.
func PossibleParallelDegree(ownership Ownership, endpointDC map[string]string) int {
	rf := 0
	for _, replicas := range ownership {
		n := strset.New(replicas...).Size()
		if rf == 0 {
			rf = n
		} else if rf != n {
			return 1
		}
	}
	if rf == 0 {
		return 1
	}

	dcNodes := make(map[string]int)
	for _, dc := range endpointDC {
		dcNodes[dc]++
	}
	nodes := -1
	for _, n := range dcNodes {
		if nodes != -1 && nodes != n {
			return 1
		}
		nodes = n
	}

	if d := len(endpointDC) / rf; d > 1 {
		return d
	}
	return 1
}

// ParallelLanes splits ring ordered ranges into degree contiguous lanes.
// Lanes hold an equal number of ranges, the remainder goes to the last lane.
// Each lane is a single range from the start of its first range to the end
// of its last range. The degree is clamped to [1, len(ranges)].
func ParallelLanes(degree int, ranges []RingRange) ([]RingRange, error) {
	if len(ranges) == 0 {
		return nil, errors.New("no ranges")
	}
	for i := 1; i < len(ranges); i++ {
		if ranges[i-1].End != ranges[i].Start {
			return nil, errors.Errorf("ranges %s and %s are not contiguous", ranges[i-1], ranges[i])
		}
	}

	if degree < 1 {
		degree = 1
	}
	if degree > len(ranges) {
		degree = len(ranges)
	}

	size := len(ranges) / degree
	out := make([]RingRange, degree)
	for i := 0; i < degree; i++ {
		first := i * size
		last := first + size - 1
		if i == degree-1 {
			last = len(ranges) - 1
		}
		out[i] = RingRange{Start: ranges[first].Start, End: ranges[last].End}
	}
	return out, nil
}
