// Package replication implements the Replication Service: the Paxos
// acceptor/learner roles, the coordinator's proposer role, coordinator
// discovery and election, and the recovery snapshot exchange. Grounded
// structurally on Rain168-server/paxos/acceptor.go's promise/accept
// bookkeeping, generalized from GoshawkDB's per-transaction-variable
// vote counting down to this store's simpler per-key Paxos log.
package replication

import (
	"context"
	"math/rand"
	"sync"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/metrics"
	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/store"
)

// Acceptor implements the acceptor and learner roles against one
// replica's Key-Value Store and Peer Registry. A fresh, per-replica
// seeded PRNG drives fault injection so test runs are reproducible
// without any process-wide shared generator.
type Acceptor struct {
	store    *store.Store
	registry *registry.Registry
	logger   log.Logger

	failRate float64
	rngMu    sync.Mutex
	rng      *rand.Rand

	metrics *metrics.Metrics
}

// SetMetrics wires a Metrics bundle in after construction.
func (a *Acceptor) SetMetrics(m *metrics.Metrics) { a.metrics = m }

// NewAcceptor builds an Acceptor. seed should differ per replica so
// concurrent replicas in the same test process do not share a fault
// pattern.
func NewAcceptor(s *store.Store, r *registry.Registry, failRate float64, seed int64, logger log.Logger) *Acceptor {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Acceptor{
		store:    s,
		registry: r,
		logger:   logger,
		failRate: failRate,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// shouldRandomFail simulates acceptor faults at failRate, except for
// the reserved coordinator key: election must make progress under
// induced failure, so it is never subject to random rejection.
func (a *Acceptor) shouldRandomFail(key string) bool {
	if key == rpcapi.ReservedCoordinatorKey || a.failRate <= 0 {
		return false
	}
	a.rngMu.Lock()
	defer a.rngMu.Unlock()
	return a.rng.Float64() < a.failRate
}

// Prepare is the acceptor's phase-1 handler.
func (a *Acceptor) Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "prepare deadline already passed")
	}
	if a.shouldRandomFail(req.Key) {
		return &rpcapi.PrepareResponse{Status: rpcapi.New(rpcapi.Aborted, "simulated acceptor failure")}, nil
	}

	slot := a.store.GetLog(req.Key, req.Round)
	if req.ProposeID <= slot.PromisedID {
		return &rpcapi.PrepareResponse{Status: rpcapi.New(rpcapi.Aborted, "proposal id too low")}, nil
	}

	a.store.SetPromised(req.Key, req.Round, req.ProposeID)

	resp := &rpcapi.PrepareResponse{Round: req.Round, ProposeID: req.ProposeID}
	if slot.AcceptedID > 0 {
		resp.AcceptedID = slot.AcceptedID
		resp.Accepted = rpcapi.Operation{Type: slot.AcceptedType, Value: slot.AcceptedValue}
	}
	return resp, nil
}

// Propose is the acceptor's phase-2 handler.
func (a *Acceptor) Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "propose deadline already passed")
	}
	if a.shouldRandomFail(req.Key) {
		return &rpcapi.ProposeResponse{Status: rpcapi.New(rpcapi.Aborted, "simulated acceptor failure")}, nil
	}

	slot := a.store.GetLog(req.Key, req.Round)
	if req.ProposeID < slot.PromisedID {
		return &rpcapi.ProposeResponse{Status: rpcapi.New(rpcapi.Aborted, "proposal id too low")}, nil
	}

	a.store.SetAccepted(req.Key, req.Round, req.ProposeID, req.Op.Type, req.Op.Value)

	return &rpcapi.ProposeResponse{Round: req.Round, ProposeID: req.ProposeID, Op: req.Op}, nil
}

// Inform is the learner's third-phase handler. Apart from the recovery
// pull (GetRecovery), it is the only path that mutates the key/value
// map (or, for SET_COORDINATOR, the Peer Registry's coordinator slot).
func (a *Acceptor) Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "inform deadline already passed")
	}

	acc := req.Acceptance

	slot := a.store.GetLog(req.Key, acc.Round)
	promised := slot.PromisedID
	if acc.ProposeID > promised {
		promised = acc.ProposeID
	}
	a.store.SetFull(req.Key, acc.Round, store.LogSlot{
		PromisedID:    promised,
		AcceptedID:    acc.ProposeID,
		AcceptedType:  acc.Op.Type,
		AcceptedValue: acc.Op.Value,
	})

	if acc.Round < a.store.LatestRound(req.Key) {
		return &rpcapi.InformResponse{Status: rpcapi.New(rpcapi.Aborted, "overwritten")}, nil
	}

	a.apply(req.Key, acc.Op)
	return &rpcapi.InformResponse{}, nil
}

func (a *Acceptor) apply(key string, op rpcapi.Operation) {
	switch op.Type {
	case rpcapi.Set:
		a.store.Set(key, op.Value)
	case rpcapi.Delete:
		a.store.Delete(key)
	case rpcapi.SetCoordinator:
		changed := a.registry.GetCoordinator() != op.Value
		a.registry.SetCoordinator(op.Value)
		if changed && a.metrics != nil {
			a.metrics.CoordinatorSwaps.Inc()
		}
	case rpcapi.NotSet:
		// sentinel: nothing to apply.
	default:
		a.logger.Log("msg", "learner saw unrecognised operation type, treating as no-op", "key", key, "type", op.Type)
	}
	if a.metrics != nil && op.Type != rpcapi.SetCoordinator {
		a.metrics.KeysStored.Set(float64(len(a.store.DataSnapshot())))
	}
}
