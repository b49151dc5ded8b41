// Copyright (C) 2017 ScyllaDB

package nodeclienttest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/dht"
	"github.com/scylladb/ringrepair/pkg/nodeclient"
)

// Behavior tells how a repair job triggered on Cluster behaves.
type Behavior int

// Behavior enumeration.
const (
	// Succeed sends started, success and finished notifications.
	Succeed Behavior = iota
	// Fail sends started, failed and finished notifications.
	Fail
	// Hang sends started notification only.
	Hang
	// Refuse fails the trigger call with ConnectionError.
	Refuse
	// Reject fails the trigger call as a node answering with a client error.
	Reject
)

// ErrRejected is returned by trigger calls of Reject jobs.
var ErrRejected = errors.New("agent [HTTP 400] keyspace does not exist")

// Cluster is an in-memory cluster with scripted repair jobs.
type Cluster struct {
	Ownership  dht.Ownership
	Boundaries []int64
	DC         map[string]string
	Version    string
	// Legacy selects the notification vocabulary of older nodes.
	Legacy    bool
	CanCancel bool
	// EventDelay is the pause before every notification.
	EventDelay time.Duration
	// Behave returns behavior of the n-th (0 based) triggered job.
	Behave func(n int, req nodeclient.RepairRequest) Behavior

	mu         sync.Mutex
	down       *strset.Set
	triggers   []nodeclient.RepairRequest
	cancels    int
	nextID     int32
	active     map[int32][]string
	activeHost map[string]int
	overlap    bool
	maxActive  int
	wg         sync.WaitGroup
}

// NewCluster returns Cluster owning ranges as given by ownership, all hosts
// are in dc1 and jobs succeed.
func NewCluster(ownership dht.Ownership) *Cluster {
	var boundaries []int64
	for r := range ownership {
		boundaries = append(boundaries, r.Start)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i] < boundaries[j] })

	dc := make(map[string]string)
	for _, h := range ownership.Endpoints() {
		dc[h] = "dc1"
	}

	return &Cluster{
		Ownership:  ownership,
		Boundaries: boundaries,
		DC:         dc,
		Version:    "3.11.4",
		CanCancel:  true,
		down:       strset.New(),
		active:     make(map[int32][]string),
		activeHost: make(map[string]int),
	}
}

// SetDown marks host unreachable.
func (c *Cluster) SetDown(host string, down bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if down {
		c.down.Add(host)
	} else {
		c.down.Remove(host)
	}
}

// Triggers returns requests of all triggered jobs.
func (c *Cluster) Triggers() []nodeclient.RepairRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]nodeclient.RepairRequest, len(c.triggers))
	copy(out, c.triggers)
	return out
}

// Cancels returns number of CancelRepair calls.
func (c *Cluster) Cancels() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

// Overlap returns true if two jobs sharing a host were running at the same
// time. Hanging jobs are not tracked.
func (c *Cluster) Overlap() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overlap
}

// MaxActive returns the highest number of jobs running at the same time.
func (c *Cluster) MaxActive() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxActive
}

// Wait blocks until all notifications are delivered.
func (c *Cluster) Wait() {
	c.wg.Wait()
}

// Provider returns ProviderFunc connecting to hosts of the cluster.
func (c *Cluster) Provider() nodeclient.ProviderFunc {
	return func(ctx context.Context, host string, timeout time.Duration) (nodeclient.Client, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.down.Has(host) {
			return nil, nodeclient.ConnectionError{Host: host, Cause: errors.New("host down")}
		}
		return &client{cluster: c, host: host}, nil
	}
}

func (c *Cluster) startJob(req nodeclient.RepairRequest) (int32, Behavior) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := Succeed
	if c.Behave != nil {
		b = c.Behave(len(c.triggers), req)
	}
	c.triggers = append(c.triggers, req)
	if b == Refuse || b == Reject {
		return 0, b
	}

	c.nextID++
	id := c.nextID
	if b != Hang {
		for _, h := range req.Hosts {
			if c.activeHost[h] > 0 {
				c.overlap = true
			}
			c.activeHost[h]++
		}
		c.active[id] = req.Hosts
		if len(c.active) > c.maxActive {
			c.maxActive = len(c.active)
		}
	}
	return id, b
}

func (c *Cluster) endJob(id int32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.active[id] {
		c.activeHost[h]--
	}
	delete(c.active, id)
}

type client struct {
	cluster *Cluster
	host    string
}

var _ nodeclient.Client = &client{}

func (cl *client) Host() string {
	return cl.host
}

func (cl *client) TriggerRepair(ctx context.Context, req nodeclient.RepairRequest, h nodeclient.RawStatusHandler) (int32, error) {
	c := cl.cluster
	id, b := c.startJob(req)
	switch b {
	case Refuse:
		return 0, nodeclient.ConnectionError{Host: cl.host, Cause: errors.New("refused")}
	case Reject:
		return 0, ErrRejected
	}

	var events []string
	switch b {
	case Succeed:
		events = []string{"started", "success", "finished"}
	case Fail:
		events = []string{"started", "failed", "finished"}
	case Hang:
		events = []string{"started"}
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for _, e := range events {
			time.Sleep(c.EventDelay)
			if e == "success" || e == "failed" {
				c.endJob(id)
			}
			cl.notify(h, id, e)
		}
	}()

	return id, nil
}

func (cl *client) notify(h nodeclient.RawStatusHandler, id int32, event string) {
	if cl.cluster.Legacy {
		s := map[string]nodeclient.LegacyStatus{
			"started":  nodeclient.LegacyStarted,
			"success":  nodeclient.LegacySessionSuccess,
			"failed":   nodeclient.LegacySessionFailed,
			"finished": nodeclient.LegacyFinished,
		}[event]
		h(id, &s, nil, event, cl)
		return
	}
	s := map[string]nodeclient.ProgressEventType{
		"started":  nodeclient.ProgressStart,
		"success":  nodeclient.ProgressSuccess,
		"failed":   nodeclient.ProgressError,
		"finished": nodeclient.ProgressComplete,
	}[event]
	h(id, nil, &s, event, cl)
}

func (cl *client) CancelRepair(ctx context.Context, commandID int32) error {
	c := cl.cluster
	if !c.CanCancel {
		return errors.New("cancel not supported")
	}
	c.mu.Lock()
	c.cancels++
	c.mu.Unlock()
	c.endJob(commandID)
	return nil
}

func (cl *client) LiveNodes(ctx context.Context) ([]string, error) {
	c := cl.cluster
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []string
	for _, h := range c.Ownership.Endpoints() {
		if !c.down.Has(h) {
			out = append(out, h)
		}
	}
	return out, nil
}

func (cl *client) ReplicaOwnership(ctx context.Context, keyspace string) (dht.Ownership, error) {
	return cl.cluster.Ownership, nil
}

func (cl *client) Datacenter(ctx context.Context, host string) (string, error) {
	dc, ok := cl.cluster.DC[host]
	if !ok {
		return "", errors.Errorf("unknown host %s", host)
	}
	return dc, nil
}

func (cl *client) Tokens(ctx context.Context) ([]int64, error) {
	return cl.cluster.Boundaries, nil
}

func (cl *client) Version(ctx context.Context) (string, error) {
	return cl.cluster.Version, nil
}

func (cl *client) Capabilities() nodeclient.Capabilities {
	return nodeclient.Capabilities{
		Cancel:       cl.cluster.CanCancel,
		RangeMerging: nodeclient.SupportsRangeMerging(cl.cluster.Version),
	}
}

func (cl *client) Close() error {
	return nil
}
