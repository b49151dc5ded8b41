// Copyright (C) 2017 ScyllaDB

package dht

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/scylladb/go-set/strset"
)

// Full Murmur3 token range.
const (
	Murmur3MinToken = int64(math.MinInt64)
	Murmur3MaxToken = int64(math.MaxInt64)
)

// Ring describes the bounds of a token space, both ends inclusive.
type Ring struct {
	Min int64
	Max int64
}

// Murmur3Ring returns the token space of the Murmur3 partitioner.
func Murmur3Ring() Ring {
	return Ring{Min: Murmur3MinToken, Max: Murmur3MaxToken}
}

// WholeRing returns a range covering the whole ring.
func (r Ring) WholeRing() RingRange {
	return RingRange{Start: r.Min, End: r.Min}
}

// RingRange is a half-open range of tokens [Start, End) walked clockwise.
// If End equals Start the range covers the whole ring, if End is lower than
// Start the range wraps around the ring origin.
type RingRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func (r RingRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.Start, r.End)
}

// IsWholeRing returns true if r covers every token.
func (r RingRange) IsWholeRing() bool {
	return r.Start == r.End
}

// Wraps returns true if r crosses the ring origin.
func (r RingRange) Wraps() bool {
	return r.End < r.Start
}

// width returns the number of tokens in r modulo 2^64, whole ring is 0.
func (r RingRange) width() uint64 {
	return uint64(r.End) - uint64(r.Start)
}

// distance returns the clockwise distance from a to b.
func distance(a, b int64) uint64 {
	return uint64(b) - uint64(a)
}

// Contains returns true if token belongs to r.
func (r RingRange) Contains(token int64) bool {
	if r.IsWholeRing() {
		return true
	}
	return distance(r.Start, token) < r.width()
}

// Encloses returns true if every token of o belongs to r.
func (r RingRange) Encloses(o RingRange) bool {
	if r.IsWholeRing() {
		return true
	}
	if o.IsWholeRing() {
		return false
	}
	d := distance(r.Start, o.Start)
	w := r.width()
	return d < w && o.width() <= w-d
}

// Segment is a unit of repair work, one or more ring ordered ranges owned by
// the same replicas.
type Segment struct {
	Ranges   []RingRange `json:"ranges"`
	Replicas []string    `json:"replicas"`
}

// BaseRange returns the range spanning from the first range start to the
// last range end.
func (s Segment) BaseRange() RingRange {
	if len(s.Ranges) == 0 {
		return RingRange{}
	}
	return RingRange{
		Start: s.Ranges[0].Start,
		End:   s.Ranges[len(s.Ranges)-1].End,
	}
}

// ReplicaKey returns a canonical representation of a replica set,
// independent of the order of hosts.
func ReplicaKey(replicas []string) string {
	s := make([]string, len(replicas))
	copy(s, replicas)
	sort.Strings(s)
	return strings.Join(s, ",")
}

// Ownership maps token ranges to the replicas that own them.
type Ownership map[RingRange][]string

// Endpoints returns the sorted distinct set of replicas in o.
func (o Ownership) Endpoints() []string {
	s := strset.New()
	for _, replicas := range o {
		s.Add(replicas...)
	}
	out := s.List()
	sort.Strings(out)
	return out
}

// sortedRanges returns ranges of o ordered by start token.
func (o Ownership) sortedRanges() []RingRange {
	out := make([]RingRange, 0, len(o))
	for r := range o {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}
