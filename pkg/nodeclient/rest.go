// Copyright (C) 2017 ScyllaDB

package nodeclient

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	api "github.com/go-openapi/runtime/client"
	"github.com/go-openapi/strfmt"
	"github.com/pkg/errors"
	"github.com/scylladb/go-log"
	"github.com/scylladb/go-set/strset"
	"github.com/scylladb/ringrepair/pkg/dht"
	scyllaClient "github.com/scylladb/scylla-manager/v3/swagger/gen/scylla/v1/client"
	"github.com/scylladb/scylla-manager/v3/swagger/gen/scylla/v1/client/operations"
)

// Repair job statuses reported by Scylla REST API.
const (
	commandRunning    = "RUNNING"
	commandSuccessful = "SUCCESSFUL"
	commandFailed     = "FAILED"
)

var initOnce sync.Once

// NewProvider returns ProviderFunc connecting to Scylla REST API.
func NewProvider(config Config, logger log.Logger) ProviderFunc {
	return func(ctx context.Context, host string, timeout time.Duration) (Client, error) {
		return Connect(ctx, host, timeout, config, logger)
	}
}

// Connect returns Client of Scylla REST API of the host. The connection is
// checked by reading the node version, on failure ConnectionError is returned.
func Connect(ctx context.Context, host string, timeout time.Duration, config Config, logger log.Logger) (Client, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	c := newRESTClient(host, config, logger)

	tctx, tcancel := context.WithTimeout(ctx, timeout)
	defer tcancel()
	v, err := c.Version(tctx)
	if err != nil {
		c.Close() // nolint: errcheck
		return nil, ConnectionError{Host: host, Cause: err}
	}
	c.caps = Capabilities{
		Cancel:       true,
		RangeMerging: SupportsRangeMerging(v),
	}
	return c, nil
}

func newRESTClient(host string, config Config, logger log.Logger) *restClient {
	initOnce.Do(func() {
		// Timeout is defined in http client that we provide in api.NewWithClient.
		// If Context is provided to operation, which is always the case here,
		// this value has no meaning since OpenAPI runtime ignores it.
		api.DefaultTimeout = 0
	})

	logger = logger.Named("node").With("host", host)

	httpTransport := http.DefaultTransport.(*http.Transport).Clone()
	var transport http.RoundTripper = httpTransport
	transport = timeout(transport, config.Timeout)
	transport = fixContentType(transport)

	r := api.NewWithClient(
		withPort(host, config.Port), scyllaClient.DefaultBasePath, scyllaClient.DefaultSchemes,
		&http.Client{Transport: transport},
	)
	// debug can be turned on by SWAGGER_DEBUG or DEBUG env variable
	r.Debug = false

	ctx, cancel := context.WithCancel(context.Background())
	return &restClient{
		host:      host,
		config:    config,
		scyllaOps: operations.New(retryable(r, config.Backoff, logger), strfmt.Default),
		transport: httpTransport,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		dcCache:   make(map[string]string),
	}
}

func withPort(host, port string) string {
	if _, p, err := net.SplitHostPort(host); err == nil && p != "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

type restClient struct {
	host      string
	config    Config
	scyllaOps operations.ClientService
	transport *http.Transport
	logger    log.Logger
	caps      Capabilities

	// ctx is canceled on Close, it stops status watchers.
	ctx    context.Context // nolint: containedctx
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	dcCache map[string]string
}

var _ Client = &restClient{}

func (c *restClient) Host() string {
	return c.host
}

func (c *restClient) Capabilities() Capabilities {
	return c.caps
}

func (c *restClient) TriggerRepair(ctx context.Context, req RepairRequest, h RawStatusHandler) (int32, error) {
	tables, err := c.repairTables(ctx, req)
	if err != nil {
		return 0, c.requestError(ctx, err)
	}

	p := operations.StorageServiceRepairAsyncByKeyspacePostParams{
		Context:  noRetry(ctx),
		Keyspace: req.Keyspace,
	}
	if r := dumpRanges(req.Ranges); r != "" {
		p.Ranges = &r
	}
	if len(tables) > 0 {
		cf := strings.Join(tables, ",")
		p.ColumnFamilies = &cf
	}
	// Single node cluster repair fails with hosts param
	if len(req.Hosts) > 1 {
		hosts := strings.Join(req.Hosts, ",")
		p.Hosts = &hosts
	}
	if len(req.Datacenters) > 0 {
		dcs := strings.Join(req.Datacenters, ",")
		p.DataCenters = &dcs
	}
	if req.Parallelism != "" {
		v := string(req.Parallelism)
		p.Parallelism = &v
	}
	if req.Incremental {
		v := "true"
		p.Incremental = &v
	}
	if req.ThreadCount > 0 {
		v := strconv.Itoa(req.ThreadCount)
		p.JobThreads = &v
	}

	resp, err := c.scyllaOps.StorageServiceRepairAsyncByKeyspacePost(&p)
	if err != nil {
		return 0, c.requestError(ctx, errors.Wrap(err, "trigger repair"))
	}
	id := resp.Payload

	c.wg.Add(1)
	go c.watchRepair(req.Keyspace, id, h)

	return id, nil
}

// requestError marks errors of requests that did not reach the node as
// ConnectionError, responses of the node are returned as they are.
func (c *restClient) requestError(ctx context.Context, err error) error {
	if ctx.Err() == nil && StatusCodeOf(err) == 0 && isTransportError(err) {
		return ConnectionError{Host: c.host, Cause: err}
	}
	return err
}

func isTransportError(err error) bool {
	var ne net.Error
	return errors.As(err, &ne)
}

// watchRepair polls status of a repair job and reports it to h as progress
// events until the job is over or the client is closed.
func (c *restClient) watchRepair(keyspace string, id int32, h RawStatusHandler) {
	defer c.wg.Done()

	notify := func(e ProgressEventType, msg string) {
		h(id, nil, &e, msg, c)
	}
	notify(ProgressStart, "")

	t := time.NewTicker(c.config.StatusPollInterval)
	defer t.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-t.C:
		}

		resp, err := c.scyllaOps.StorageServiceRepairAsyncByKeyspaceGet(&operations.StorageServiceRepairAsyncByKeyspaceGetParams{
			Context:  c.ctx,
			Keyspace: keyspace,
			ID:       id,
		})
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Info(c.ctx, "Failed to get repair status", "command_id", id, "error", err)
			continue
		}

		switch status := string(resp.Payload); status {
		case commandRunning:
		case commandSuccessful:
			notify(ProgressSuccess, "")
			notify(ProgressComplete, "")
			return
		case commandFailed:
			notify(ProgressError, "repair failed")
			notify(ProgressComplete, "")
			return
		default:
			c.logger.Info(c.ctx, "Unknown repair status", "command_id", id, "status", status)
		}
	}
}

// repairTables returns tables to repair, excluded tables are removed from
// the list of all tables of the keyspace.
func (c *restClient) repairTables(ctx context.Context, req RepairRequest) ([]string, error) {
	if len(req.ExcludedTables) == 0 {
		return req.Tables, nil
	}

	tables := req.Tables
	if len(tables) == 0 {
		resp, err := c.scyllaOps.ColumnFamilyNameGet(&operations.ColumnFamilyNameGetParams{Context: ctx})
		if err != nil {
			return nil, errors.Wrap(err, "list tables")
		}
		prefix := req.Keyspace + ":"
		for _, v := range resp.Payload {
			if strings.HasPrefix(v, prefix) {
				tables = append(tables, v[len(prefix):])
			}
		}
	}

	s := strset.New(tables...)
	s.Remove(req.ExcludedTables...)
	out := s.List()
	sort.Strings(out)
	if len(out) == 0 {
		return nil, errors.New("all tables are excluded")
	}
	return out, nil
}

// dumpRanges formats ranges as expected by the repair API, a range wrapping
// around the end of the ring is split in two.
func dumpRanges(ranges []dht.RingRange) string {
	var buf bytes.Buffer
	write := func(start, end int64) {
		if buf.Len() > 0 {
			_ = buf.WriteByte(',')
		}
		_, _ = fmt.Fprintf(&buf, "%d:%d", start, end)
	}
	for _, r := range ranges {
		if r.IsWholeRing() {
			return ""
		}
		if !r.Wraps() {
			write(r.Start, r.End)
			continue
		}
		if r.Start != dht.Murmur3MaxToken {
			write(r.Start, dht.Murmur3MaxToken)
		}
		if r.End != dht.Murmur3MinToken {
			write(dht.Murmur3MinToken, r.End)
		}
	}
	return buf.String()
}

// CancelRepair terminates all repairs running on the node, the operation is
// not retried to avoid side effects of a deferred kill.
func (c *restClient) CancelRepair(ctx context.Context, commandID int32) error {
	c.logger.Info(ctx, "Terminating repairs", "command_id", commandID)
	_, err := c.scyllaOps.StorageServiceForceTerminateRepairPost(&operations.StorageServiceForceTerminateRepairPostParams{
		Context: noRetry(ctx),
	})
	return errors.Wrap(err, "terminate repair")
}

func (c *restClient) LiveNodes(ctx context.Context) ([]string, error) {
	resp, err := c.scyllaOps.GossiperEndpointLiveGet(&operations.GossiperEndpointLiveGetParams{Context: ctx})
	if err != nil {
		return nil, errors.Wrap(err, "live nodes")
	}
	live := append([]string(nil), resp.Payload...)
	sort.Strings(live)
	return live, nil
}

func (c *restClient) ReplicaOwnership(ctx context.Context, keyspace string) (dht.Ownership, error) {
	resp, err := c.scyllaOps.StorageServiceDescribeRingByKeyspaceGet(&operations.StorageServiceDescribeRingByKeyspaceGetParams{
		Context:  ctx,
		Keyspace: keyspace,
	})
	if err != nil {
		return nil, errors.Wrap(err, "describe ring")
	}
	if len(resp.Payload) == 0 {
		return nil, errors.New("received empty token range list")
	}

	out := make(dht.Ownership, len(resp.Payload))
	for _, p := range resp.Payload {
		start, err := strconv.ParseInt(p.StartToken, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse StartToken")
		}
		end, err := strconv.ParseInt(p.EndToken, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, "parse EndToken")
		}
		out[dht.RingRange{Start: start, End: end}] = p.Endpoints
	}
	return out, nil
}

func (c *restClient) Datacenter(ctx context.Context, host string) (string, error) {
	// Try reading from cache
	c.mu.RLock()
	dc, ok := c.dcCache[host]
	c.mu.RUnlock()
	if ok {
		return dc, nil
	}

	resp, err := c.scyllaOps.SnitchDatacenterGet(&operations.SnitchDatacenterGetParams{
		Context: ctx,
		Host:    &host,
	})
	if err != nil {
		return "", errors.Wrapf(err, "datacenter of %s", host)
	}
	dc = resp.Payload

	// Update cache
	c.mu.Lock()
	c.dcCache[host] = dc
	c.mu.Unlock()

	return dc, nil
}

func (c *restClient) Tokens(ctx context.Context) ([]int64, error) {
	resp, err := c.scyllaOps.StorageServiceTokensEndpointGet(&operations.StorageServiceTokensEndpointGetParams{Context: ctx})
	if err != nil {
		return nil, errors.Wrap(err, "tokens")
	}

	tokens := make([]int64, len(resp.Payload))
	for i, p := range resp.Payload {
		v, err := strconv.ParseInt(p.Key, 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing error at pos %d", i)
		}
		tokens[i] = v
	}
	sort.Slice(tokens, func(i, j int) bool { return tokens[i] < tokens[j] })
	return tokens, nil
}

func (c *restClient) Version(ctx context.Context) (string, error) {
	resp, err := c.scyllaOps.StorageServiceScyllaReleaseVersionGet(&operations.StorageServiceScyllaReleaseVersionGetParams{Context: ctx})
	if err != nil {
		return "", errors.Wrap(err, "version")
	}
	return resp.Payload, nil
}

func (c *restClient) Close() error {
	c.cancel()
	c.wg.Wait()
	c.transport.CloseIdleConnections()
	return nil
}
