package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/metrics"
	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/store"
)

const (
	livenessDeadline  = 1 * time.Second
	discoveryDeadline = 1 * time.Second
	phaseDeadline     = 5 * time.Second
	forwardDeadline   = 5 * time.Second
)

// fixedProposeID is the proposal id every fresh round starts at. Safe
// under a stable coordinator, not live under split brain. This store
// does not attempt a round-robin or retry-counted scheme.
const fixedProposeID = 1

// ClientOp is the (key, operation) pair a coordinator drives through
// one Paxos round. Callers (the front-end, the election path) translate
// their typed request into a ClientOp before calling RunPaxos.
type ClientOp struct {
	Key string
	Op  rpcapi.Operation
}

// Coordinator drives Multi-Paxos rounds as the distinguished proposer.
// It shares an Acceptor's store and registry but never mutates them
// directly; all state change flows back through its own Inform calls,
// same as every other peer's.
type Coordinator struct {
	self     string
	store    *store.Store
	registry *registry.Registry
	logger   log.Logger

	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics bundle in after construction.
func (c *Coordinator) SetMetrics(m *metrics.Metrics) { c.metrics = m }

// NewCoordinator builds a Coordinator. self is this replica's own
// address. The coordinator's own stub is included in fan-out like any
// other peer because the registry's stub map contains a self-stub.
func NewCoordinator(self string, s *store.Store, r *registry.Registry, logger log.Logger) *Coordinator {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Coordinator{self: self, store: s, registry: r, logger: logger}
}

// livePeers pings every known peer with a short deadline and returns
// the subset that answered.
func (c *Coordinator) livePeers(ctx context.Context) map[string]registry.Stub {
	all := c.registry.GetPaxosStubs()
	live := make(map[string]registry.Stub, len(all))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for addr, stub := range all {
		addr, stub := addr, stub
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, livenessDeadline)
			defer cancel()
			if err := stub.Ping(pctx); err == nil {
				mu.Lock()
				live[addr] = stub
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return live
}

func majorityThreshold(liveCount int) int {
	return liveCount / 2
}

// RunPaxos drives one full Multi-Paxos round for op against the
// current set of live replicas, returning once the Inform fan-out has
// been dispatched.
func (c *Coordinator) RunPaxos(ctx context.Context, op ClientOp) error {
	live := c.livePeers(ctx)
	if len(live) == 0 {
		c.recordRound("no_live_peers")
		return rpcapi.New(rpcapi.Unavailable, "no live peers")
	}

	round := c.store.LatestRound(op.Key) + 1
	proposeID := uint64(fixedProposeID)

	carried, err := c.preparePhase(ctx, live, op.Key, round, proposeID)
	if err != nil {
		c.recordRound("quorum_failed")
		if c.metrics != nil {
			c.metrics.QuorumFailures.Inc()
		}
		return err
	}

	chosen := op.Op
	if carried != nil {
		chosen = *carried
	}

	if err := c.proposePhase(ctx, live, op.Key, round, proposeID, chosen); err != nil {
		c.recordRound("consensus_failed")
		if c.metrics != nil {
			c.metrics.QuorumFailures.Inc()
		}
		return err
	}

	c.informPhase(ctx, live, op.Key, rpcapi.Acceptance{Round: round, ProposeID: proposeID, Op: chosen})
	c.recordRound("ok")
	return nil
}

func (c *Coordinator) recordRound(outcome string) {
	if c.metrics != nil {
		c.metrics.PaxosRounds.WithLabelValues(outcome).Inc()
	}
}

// preparePhase fans Prepare out to every live peer and tallies
// promises. It returns the (type, value) carried by the highest
// accepted_id observed among promises, or nil if none piggy-backed an
// acceptance.
func (c *Coordinator) preparePhase(ctx context.Context, live map[string]registry.Stub, key string, round, proposeID uint64) (*rpcapi.Operation, error) {
	type result struct {
		promised   bool
		acceptedID uint64
		op         rpcapi.Operation
	}
	results := make(chan result, len(live))
	var wg sync.WaitGroup
	for _, stub := range live {
		stub := stub
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, phaseDeadline)
			defer cancel()
			resp, err := stub.Prepare(pctx, &rpcapi.PrepareRequest{Key: key, Round: round, ProposeID: proposeID})
			if err != nil || resp == nil || resp.Status.AsError() != nil {
				results <- result{}
				return
			}
			results <- result{promised: true, acceptedID: resp.AcceptedID, op: resp.Accepted}
		}()
	}
	wg.Wait()
	close(results)

	var promises int
	var best result
	for r := range results {
		if !r.promised {
			continue
		}
		promises++
		if r.acceptedID > best.acceptedID {
			best = r
		}
	}

	if promises <= majorityThreshold(len(live)) {
		return nil, rpcapi.New(rpcapi.Aborted, "failed quorum")
	}
	if best.acceptedID > 0 {
		op := best.op
		return &op, nil
	}
	return nil, nil
}

// proposePhase fans Propose out to every live peer and requires a
// strict majority of acceptances.
func (c *Coordinator) proposePhase(ctx context.Context, live map[string]registry.Stub, key string, round, proposeID uint64, op rpcapi.Operation) error {
	var mu sync.Mutex
	var wg sync.WaitGroup
	var accepted int
	for _, stub := range live {
		stub := stub
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, phaseDeadline)
			defer cancel()
			resp, err := stub.Propose(pctx, &rpcapi.ProposeRequest{Key: key, Round: round, ProposeID: proposeID, Op: op})
			if err != nil || resp == nil || resp.Status.AsError() != nil {
				return
			}
			mu.Lock()
			accepted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if accepted <= majorityThreshold(len(live)) {
		return rpcapi.New(rpcapi.Aborted, "failed consensus")
	}
	return nil
}

// informPhase fans Inform out to every live peer. Individual failures
// are logged, not propagated: the decision is already durable by
// majority acceptance.
func (c *Coordinator) informPhase(ctx context.Context, live map[string]registry.Stub, key string, acc rpcapi.Acceptance) {
	var wg sync.WaitGroup
	for addr, stub := range live {
		addr, stub := addr, stub
		wg.Add(1)
		go func() {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, phaseDeadline)
			defer cancel()
			resp, err := stub.Inform(pctx, &rpcapi.InformRequest{Key: key, Acceptance: acc})
			if err != nil || (resp != nil && resp.Status.AsError() != nil) {
				c.logger.Log("msg", "inform failed", "peer", addr, "key", key, "err", fmt.Sprint(err))
			}
		}()
	}
	wg.Wait()
}
