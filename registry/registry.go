// Package registry implements the Peer Registry: the immutable set of
// RPC stubs for the replica set plus the one mutable piece of state,
// the currently believed coordinator address. Grounded on the
// address->connection bookkeeping in Rain168-server/network's
// ConnectionManager, simplified to a fixed-membership case (no dynamic
// join/leave, no topology versioning).
package registry

import (
	"context"
	"sync"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

// Stub is the RPC client handle for one peer. transport provides the
// concrete implementation; tests may supply fakes.
type Stub interface {
	Address() string
	Ping(ctx context.Context) error
	GetCoordinator(ctx context.Context) (*rpcapi.GetCoordinatorResponse, error)
	ElectCoordinator(ctx context.Context, req *rpcapi.ElectCoordinatorRequest) (*rpcapi.ElectCoordinatorResponse, error)
	Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error)
	Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error)
	Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error)
	Recover(ctx context.Context) (*rpcapi.RecoverResponse, error)
	Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error)
	Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error)
	Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error)
	Close() error
}

// Registry holds the immutable stub map and the mutable coordinator
// address behind independent locks. No operation holds both at once, and
// no lock is ever held across an RPC.
type Registry struct {
	stubsMu sync.RWMutex
	stubs   map[string]Stub

	coordMu     sync.RWMutex
	coordinator string
}

// New builds a Registry over a fixed stub set. The set is not mutated
// after construction: membership is set once and held for the life of
// the process.
func New(stubs map[string]Stub) *Registry {
	cp := make(map[string]Stub, len(stubs))
	for addr, s := range stubs {
		cp[addr] = s
	}
	return &Registry{stubs: cp}
}

// GetCoordinator returns the currently believed coordinator address, or
// "" if unset.
func (r *Registry) GetCoordinator() string {
	r.coordMu.RLock()
	defer r.coordMu.RUnlock()
	return r.coordinator
}

// SetCoordinator updates the believed coordinator. Called only from the
// learner path (a SET_COORDINATOR decision) or initial discovery.
func (r *Registry) SetCoordinator(addr string) {
	r.coordMu.Lock()
	defer r.coordMu.Unlock()
	r.coordinator = addr
}

// GetCoordinatorStub returns the stub for the current coordinator, or nil
// if no coordinator is set or its address is not in the stub map.
func (r *Registry) GetCoordinatorStub() Stub {
	addr := r.GetCoordinator()
	if addr == "" {
		return nil
	}
	return r.GetStub(addr)
}

// GetStub returns the stub for a specific address, or nil if unknown.
func (r *Registry) GetStub(addr string) Stub {
	r.stubsMu.RLock()
	defer r.stubsMu.RUnlock()
	return r.stubs[addr]
}

// GetPaxosStubs returns a snapshot of the full address->stub map, used for
// phase fan-out.
func (r *Registry) GetPaxosStubs() map[string]Stub {
	r.stubsMu.RLock()
	defer r.stubsMu.RUnlock()
	out := make(map[string]Stub, len(r.stubs))
	for addr, s := range r.stubs {
		out[addr] = s
	}
	return out
}

// Addresses returns every peer address known to the registry, including
// this replica's own (the stub map contains a self-stub so fan-out and
// quorum math never special-case the local replica).
func (r *Registry) Addresses() []string {
	r.stubsMu.RLock()
	defer r.stubsMu.RUnlock()
	out := make([]string, 0, len(r.stubs))
	for addr := range r.stubs {
		out = append(out, addr)
	}
	return out
}
