package replication

import (
	"context"
	"sync"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

// GetCoordinator answers a peer's discovery query with the Peer
// Registry's believed coordinator, or NOT_FOUND if unset.
func (s *Service) GetCoordinator(ctx context.Context, req *rpcapi.PingRequest) (*rpcapi.GetCoordinatorResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "getcoordinator deadline already passed")
	}
	coord := s.registry.GetCoordinator()
	if coord == "" {
		return &rpcapi.GetCoordinatorResponse{Status: rpcapi.New(rpcapi.NotFound, "no coordinator set")}, nil
	}
	return &rpcapi.GetCoordinatorResponse{Coordinator: coord}, nil
}

// ElectCoordinator is the wire entry point for electing a new
// coordinator; key must be the reserved coordinator key. It drives the
// assignment through the normal Paxos path so that even two replicas
// racing to elect converge on one winner per round.
func (s *Service) ElectCoordinator(ctx context.Context, req *rpcapi.ElectCoordinatorRequest) (*rpcapi.ElectCoordinatorResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "electcoordinator deadline already passed")
	}
	if req.Key != rpcapi.ReservedCoordinatorKey {
		return &rpcapi.ElectCoordinatorResponse{Status: rpcapi.New(rpcapi.Aborted, "key must be %q", rpcapi.ReservedCoordinatorKey)}, nil
	}
	op := ClientOp{Key: rpcapi.ReservedCoordinatorKey, Op: rpcapi.Operation{Type: rpcapi.SetCoordinator, Value: req.Coordinator}}
	if err := s.coordinator.RunPaxos(ctx, op); err != nil {
		return &rpcapi.ElectCoordinatorResponse{Status: rpcapi.New(rpcapi.Aborted, "%v", err)}, nil
	}
	return &rpcapi.ElectCoordinatorResponse{}, nil
}

// ElectNewCoordinator proposes this replica itself as coordinator. It
// is called both from Initialize (cold start, no coordinator found)
// and from the front-end's forwarding retry path (coordinator
// unreachable).
func (s *Service) ElectNewCoordinator(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, phaseDeadline)
	defer cancel()
	resp, err := s.ElectCoordinator(pctx, &rpcapi.ElectCoordinatorRequest{Key: rpcapi.ReservedCoordinatorKey, Coordinator: s.self})
	if err != nil {
		return err
	}
	return resp.Status.AsError()
}

// Initialize runs the cold-start discovery sequence: query every peer
// for its believed coordinator, adopt it if exactly one reachable
// answer exists, otherwise elect this replica, then pull a recovery
// snapshot from whichever coordinator ends up set.
func (s *Service) Initialize(ctx context.Context) error {
	if err := s.discoverCoordinator(ctx); err != nil {
		if err := s.ElectNewCoordinator(ctx); err != nil {
			return err
		}
	}
	return s.GetRecovery(ctx)
}

// discoverCoordinator implements step 1 of Initialize: it returns nil
// only if exactly one distinct, reachable coordinator answer is found.
func (s *Service) discoverCoordinator(ctx context.Context) error {
	stubs := s.registry.GetPaxosStubs()

	type answer struct {
		addr string
		coord string
	}
	answers := make(chan answer, len(stubs))
	var wg sync.WaitGroup
	for addr, stub := range stubs {
		addr, stub := addr, stub
		wg.Add(1)
		go func() {
			defer wg.Done()
			dctx, cancel := context.WithTimeout(ctx, discoveryDeadline)
			defer cancel()
			resp, err := stub.GetCoordinator(dctx)
			if err != nil || resp == nil || resp.Coordinator == "" {
				return
			}
			answers <- answer{addr: addr, coord: resp.Coordinator}
		}()
	}
	wg.Wait()
	close(answers)

	distinct := make(map[string]bool)
	reachable := make(map[string]bool)
	for a := range answers {
		distinct[a.coord] = true
		reachable[a.addr] = true
	}

	if len(distinct) != 1 {
		return rpcapi.New(rpcapi.NotFound, "no single coordinator answer")
	}
	var coord string
	for c := range distinct {
		coord = c
	}
	if !reachable[coord] {
		return rpcapi.New(rpcapi.Unavailable, "reported coordinator unreachable")
	}
	s.registry.SetCoordinator(coord)
	return nil
}
