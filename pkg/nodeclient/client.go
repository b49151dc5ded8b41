// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/scylladb/ringrepair/pkg/dht"
)

//go:generate mockgen -destination nodeclientmock/mock_client.go -mock_names Client=MockClient -package nodeclientmock github.com/scylladb/ringrepair/pkg/nodeclient Client

// Parallelism tells a node how to repair replicas of a range.
type Parallelism string

// Parallelism enumeration.
const (
	ParallelismSequential      Parallelism = "sequential"
	ParallelismParallel        Parallelism = "parallel"
	ParallelismDatacenterAware Parallelism = "dc_parallel"
)

// RepairRequest describes a single repair job.
type RepairRequest struct {
	Keyspace       string
	Tables         []string
	ExcludedTables []string
	Ranges         []dht.RingRange
	Parallelism    Parallelism
	Datacenters    []string
	Hosts          []string
	Incremental    bool
	ThreadCount    int
}

// LegacyStatus is the repair status vocabulary of older node versions.
type LegacyStatus string

// LegacyStatus enumeration.
const (
	LegacyStarted        LegacyStatus = "STARTED"
	LegacySessionSuccess LegacyStatus = "SESSION_SUCCESS"
	LegacySessionFailed  LegacyStatus = "SESSION_FAILED"
	LegacyFinished       LegacyStatus = "FINISHED"
)

// ProgressEventType is the repair status vocabulary of newer node versions.
type ProgressEventType string

// ProgressEventType enumeration.
const (
	ProgressStart        ProgressEventType = "START"
	ProgressSuccess      ProgressEventType = "SUCCESS"
	ProgressError        ProgressEventType = "ERROR"
	ProgressAbort        ProgressEventType = "ABORT"
	ProgressComplete     ProgressEventType = "COMPLETE"
	ProgressProgress     ProgressEventType = "PROGRESS"
	ProgressNotification ProgressEventType = "NOTIFICATION"
)

// RawStatusHandler receives repair notifications as sent by a node.
// Exactly one of legacy and modern is set, depending on the node version.
// It may be called from any goroutine.
type RawStatusHandler func(commandID int32, legacy *LegacyStatus, modern *ProgressEventType, message string, c Client)

// Capabilities lists optional operations supported by a node.
type Capabilities struct {
	// Cancel is set if CancelRepair can be called.
	Cancel bool
	// RangeMerging is set if a single repair job may cover many ranges.
	RangeMerging bool
}

// Client is a connection to a single node of a cluster.
type Client interface {
	// Host returns the node the client is connected to.
	Host() string
	// TriggerRepair starts an asynchronous repair job and returns its
	// command ID. Progress is reported to h.
	TriggerRepair(ctx context.Context, req RepairRequest, h RawStatusHandler) (int32, error)
	// CancelRepair stops a running repair job, it requires Capabilities().Cancel.
	CancelRepair(ctx context.Context, commandID int32) error
	// LiveNodes returns sorted nodes that are up according to the node.
	LiveNodes(ctx context.Context) ([]string, error)
	// ReplicaOwnership returns replicas of every token range of a keyspace.
	ReplicaOwnership(ctx context.Context, keyspace string) (dht.Ownership, error)
	// Datacenter returns datacenter of a node.
	Datacenter(ctx context.Context, host string) (string, error)
	// Tokens returns sorted tokens of all nodes in the ring.
	Tokens(ctx context.Context) ([]int64, error)
	// Version returns the node release version.
	Version(ctx context.Context) (string, error)
	// Capabilities returns optional operations supported by the node.
	Capabilities() Capabilities
	// Close releases resources and stops delivering notifications.
	Close() error
}

// ProviderFunc connects to a node.
type ProviderFunc func(ctx context.Context, host string, timeout time.Duration) (Client, error)

// ConnectionError is returned when a node can not be reached.
type ConnectionError struct {
	Host  string
	Cause error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("connect %s: %s", e.Host, e.Cause)
}

// Unwrap returns the underlying error.
func (e ConnectionError) Unwrap() error {
	return e.Cause
}

// IsConnectionError returns true if err is caused by ConnectionError.
func IsConnectionError(err error) bool {
	var ce ConnectionError
	return errors.As(err, &ce)
}

// DatacenterMap returns datacenters of the given hosts.
func DatacenterMap(ctx context.Context, c Client, hosts []string) (map[string]string, error) {
	out := make(map[string]string, len(hosts))
	for _, h := range hosts {
		dc, err := c.Datacenter(ctx, h)
		if err != nil {
			return nil, errors.Wrapf(err, "datacenter of %s", h)
		}
		out[h] = dc
	}
	return out, nil
}
