// Copyright (C) 2017 ScyllaDB

package dht

import (
	"sort"

	"github.com/pkg/errors"
)

// SegmentGenerator splits a token ring into repair segments.
type SegmentGenerator struct {
	ring Ring
}

// NewSegmentGenerator returns a SegmentGenerator for the ring.
func NewSegmentGenerator(ring Ring) SegmentGenerator {
	return SegmentGenerator{ring: ring}
}

// BaseRanges returns the minimal ranges between consecutive boundaries
// including the range wrapping around the ring origin.
// Boundaries are sorted and duplicates are dropped.
func BaseRanges(boundaries []int64) []RingRange {
	tokens := make([]int64, len(boundaries))
	copy(tokens, boundaries)
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })

	uniq := tokens[:0]
	for i, t := range tokens {
		if i == 0 || t != tokens[i-1] {
			uniq = append(uniq, t)
		}
	}

	out := make([]RingRange, len(uniq))
	for i := range uniq {
		out[i] = RingRange{
			Start: uniq[i],
			End:   uniq[(i+1)%len(uniq)],
		}
	}
	return out
}

// Generate returns ring ordered segments covering the whole ring exactly once.
//
// Every base range built from boundaries is assigned to the replicas owning
// an enclosing range in ownership. When merge is false target is ignored and
// every base range becomes a segment. When merge is true consecutive base
// ranges owned by the same replicas form a group, target is distributed
// across groups and ranges within a group are coalesced into the group's
// share of segments.
func (g SegmentGenerator) Generate(target int, boundaries []int64, ownership Ownership, merge bool) ([]Segment, error) {
	base := BaseRanges(boundaries)
	if len(base) == 0 {
		return []Segment{{
			Ranges:   []RingRange{g.ring.WholeRing()},
			Replicas: ownership.Endpoints(),
		}}, nil
	}

	owned := ownership.sortedRanges()
	replicas := make([][]string, len(base))
	for i, r := range base {
		for _, o := range owned {
			if o.Encloses(r) {
				replicas[i] = ownership[o]
				break
			}
		}
		if replicas[i] == nil {
			return nil, errors.Errorf("no replicas own range %s", r)
		}
	}

	if !merge {
		out := make([]Segment, len(base))
		for i := range base {
			out[i] = Segment{
				Ranges:   []RingRange{base[i]},
				Replicas: replicas[i],
			}
		}
		return out, nil
	}

	groups := groupByReplicas(base, replicas)
	if len(groups) == 1 {
		return []Segment{groups[0].coalesce(1)[0]}, nil
	}

	var out []Segment
	for i, gr := range groups {
		q := target / len(groups)
		if i < target%len(groups) {
			q++
		}
		out = append(out, gr.coalesce(q)...)
	}
	return out, nil
}

type replicaGroup struct {
	replicas []string
	ranges   []RingRange
}

func groupByReplicas(base []RingRange, replicas [][]string) []replicaGroup {
	var (
		out     []replicaGroup
		lastKey string
	)
	for i, r := range base {
		k := ReplicaKey(replicas[i])
		if len(out) == 0 || k != lastKey {
			out = append(out, replicaGroup{replicas: replicas[i]})
			lastKey = k
		}
		last := &out[len(out)-1]
		last.ranges = append(last.ranges, r)
	}
	return out
}

// coalesce merges consecutive ranges of the group into n segments of
// near-equal range count, n is clamped to [1, len(ranges)].
func (gr replicaGroup) coalesce(n int) []Segment {
	if n < 1 {
		n = 1
	}
	if n > len(gr.ranges) {
		n = len(gr.ranges)
	}

	out := make([]Segment, 0, n)
	size, extra := len(gr.ranges)/n, len(gr.ranges)%n
	pos := 0
	for i := 0; i < n; i++ {
		l := size
		if i < extra {
			l++
		}
		chunk := gr.ranges[pos : pos+l]
		pos += l

		out = append(out, Segment{
			Ranges:   coalesceRanges(chunk),
			Replicas: gr.replicas,
		})
	}
	return out
}

// coalesceRanges joins adjacent ranges, ranges must be ring ordered.
func coalesceRanges(ranges []RingRange) []RingRange {
	out := []RingRange{ranges[0]}
	for _, r := range ranges[1:] {
		last := &out[len(out)-1]
		if last.End == r.Start {
			last.End = r.End
		} else {
			out = append(out, r)
		}
	}
	return out
}
