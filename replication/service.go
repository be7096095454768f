package replication

import (
	"context"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/metrics"
	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/store"
)

// Service bundles the acceptor/learner role, the coordinator role, and
// the discovery/election/recovery paths into the single Replication
// Service a replica exposes to its peers. It is the receiver behind
// the "Replication" net/rpc service name.
type Service struct {
	self        string
	store       *store.Store
	registry    *registry.Registry
	acceptor    *Acceptor
	coordinator *Coordinator
	logger      log.Logger
}

// Config bundles Service construction parameters.
type Config struct {
	Self     string
	Store    *store.Store
	Registry *registry.Registry
	FailRate float64
	Seed     int64
	Logger   log.Logger
}

// NewService builds a Replication Service for one replica.
func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Service{
		self:        cfg.Self,
		store:       cfg.Store,
		registry:    cfg.Registry,
		acceptor:    NewAcceptor(cfg.Store, cfg.Registry, cfg.FailRate, cfg.Seed, logger),
		coordinator: NewCoordinator(cfg.Self, cfg.Store, cfg.Registry, logger),
		logger:      logger,
	}
}

// Ping answers a liveness probe.
func (s *Service) Ping(ctx context.Context, req *rpcapi.PingRequest) (*rpcapi.PingResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "ping deadline already passed")
	}
	return &rpcapi.PingResponse{}, nil
}

// Prepare, Propose and Inform delegate directly to the acceptor.
func (s *Service) Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error) {
	return s.acceptor.Prepare(ctx, req)
}

func (s *Service) Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error) {
	return s.acceptor.Propose(ctx, req)
}

func (s *Service) Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error) {
	return s.acceptor.Inform(ctx, req)
}

// Get serves a client GET directly from local state without going
// through Paxos (the store's explicit non-linearizable read policy).
func (s *Service) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "get deadline already passed")
	}
	if req.Key == rpcapi.ReservedCoordinatorKey {
		return &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.Aborted, "Illegal keyword")}, nil
	}
	value, ok := s.store.Get(req.Key)
	if !ok {
		return &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.NotFound, "key %q not found", req.Key)}, nil
	}
	return &rpcapi.GetResponse{Value: value}, nil
}

// Put drives a SET through one Paxos round.
func (s *Service) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "put deadline already passed")
	}
	if req.Key == rpcapi.ReservedCoordinatorKey {
		return &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.Aborted, "Illegal keyword")}, nil
	}
	op := ClientOp{Key: req.Key, Op: rpcapi.Operation{Type: rpcapi.Set, Value: req.Value}}
	if err := s.coordinator.RunPaxos(ctx, op); err != nil {
		return &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}, nil
	}
	return &rpcapi.PutResponse{}, nil
}

// Delete drives a DELETE through one Paxos round.
func (s *Service) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "delete deadline already passed")
	}
	if req.Key == rpcapi.ReservedCoordinatorKey {
		return &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.Aborted, "Illegal keyword")}, nil
	}
	op := ClientOp{Key: req.Key, Op: rpcapi.Operation{Type: rpcapi.Delete}}
	if err := s.coordinator.RunPaxos(ctx, op); err != nil {
		return &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}, nil
	}
	return &rpcapi.DeleteResponse{}, nil
}

// Registry exposes the underlying Peer Registry, used by tests.
func (s *Service) Registry() *registry.Registry { return s.registry }

// Store exposes the underlying Key-Value Store, used by tests.
func (s *Service) Store() *store.Store { return s.store }

// Self returns this replica's own address.
func (s *Service) Self() string { return s.self }

// SetMetrics wires a Metrics bundle into the acceptor and coordinator
// roles after construction, mirroring ConnectionManager.SetMetrics's
// late-bound gauge injection: metric collection is optional and a
// Service built without a call to SetMetrics works exactly as before.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.acceptor.SetMetrics(m)
	s.coordinator.SetMetrics(m)
}
