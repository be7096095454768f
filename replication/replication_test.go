package replication_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/replication"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/store"
)

// localStub is an in-process registry.Stub that calls straight into a
// peer's Service, skipping the wire. It mirrors transport.Client's
// error-folding behaviour exactly (Ping/GetCoordinator/ElectCoordinator
// /Recover fold a Status into the returned error; the Paxos phase RPCs
// return the response with Status left for the caller to inspect) so
// the Paxos logic under test behaves identically to its networked
// counterpart.
type localStub struct {
	addr string
	svc  *replication.Service
	down int32
}

func (s *localStub) setDown(v bool) {
	if v {
		atomic.StoreInt32(&s.down, 1)
	} else {
		atomic.StoreInt32(&s.down, 0)
	}
}

func (s *localStub) isDown() bool { return atomic.LoadInt32(&s.down) == 1 }

func (s *localStub) Address() string { return s.addr }

func (s *localStub) Close() error { return nil }

func (s *localStub) Ping(ctx context.Context) error {
	if s.isDown() {
		return rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	resp, err := s.svc.Ping(ctx, &rpcapi.PingRequest{})
	if err != nil {
		return err
	}
	return resp.Status.AsError()
}

func (s *localStub) GetCoordinator(ctx context.Context) (*rpcapi.GetCoordinatorResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	resp, err := s.svc.GetCoordinator(ctx, &rpcapi.PingRequest{})
	if err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

func (s *localStub) ElectCoordinator(ctx context.Context, req *rpcapi.ElectCoordinatorRequest) (*rpcapi.ElectCoordinatorResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	resp, err := s.svc.ElectCoordinator(ctx, req)
	if err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

func (s *localStub) Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Prepare(ctx, req)
}

func (s *localStub) Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Propose(ctx, req)
}

func (s *localStub) Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Inform(ctx, req)
}

func (s *localStub) Recover(ctx context.Context) (*rpcapi.RecoverResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	resp, err := s.svc.Recover(ctx, &rpcapi.RecoverRequest{})
	if err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

func (s *localStub) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Get(ctx, req)
}

func (s *localStub) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Put(ctx, req)
}

func (s *localStub) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	if s.isDown() {
		return nil, rpcapi.New(rpcapi.Unavailable, "down").AsError()
	}
	return s.svc.Delete(ctx, req)
}

var _ registry.Stub = (*localStub)(nil)

// replicaSet wires n replicas together, each with full knowledge of
// every other's stub (including its own), as Initialize expects.
type replicaSet struct {
	addrs []string
	svcs  map[string]*replication.Service
	stubs map[string]*localStub
}

// newReplicaSet wires n replicas. Construction has to break a cycle
// (a registry's stub map is immutable once built, but each stub needs
// to reach a service whose registry is that very map): stubs are
// created with their svc field empty, registries are built over those
// stub pointers, services are built over those registries, and only
// then are the stubs pointed at their services.
func newReplicaSet(t *testing.T, n int, failRates map[int]float64) *replicaSet {
	t.Helper()
	rs := &replicaSet{svcs: map[string]*replication.Service{}, stubs: map[string]*localStub{}}
	for i := 0; i < n; i++ {
		rs.addrs = append(rs.addrs, addrFor(i))
	}

	for _, addr := range rs.addrs {
		rs.stubs[addr] = &localStub{addr: addr}
	}

	regs := make(map[string]*registry.Registry, n)
	for _, addr := range rs.addrs {
		full := make(map[string]registry.Stub, n)
		for _, peer := range rs.addrs {
			full[peer] = rs.stubs[peer]
		}
		regs[addr] = registry.New(full)
	}

	for i, addr := range rs.addrs {
		rs.svcs[addr] = replication.NewService(replication.Config{
			Self:     addr,
			Store:    store.New(),
			Registry: regs[addr],
			FailRate: failRates[i],
			Seed:     int64(1000 + i),
		})
	}

	for _, addr := range rs.addrs {
		rs.stubs[addr].svc = rs.svcs[addr]
	}
	return rs
}

func (rs *replicaSet) stubFor(addr string) *localStub { return rs.stubs[addr] }

func addrFor(i int) string {
	return []string{"r1:1", "r2:2", "r3:3", "r4:4", "r5:5"}[i]
}

func TestSingleReplicaPutGetDelete(t *testing.T) {
	rs := newReplicaSet(t, 1, nil)
	r1 := rs.svcs["r1:1"]
	ctx := context.Background()

	putResp, err := r1.Put(ctx, &rpcapi.PutRequest{Key: "apple", Value: "red"})
	require.NoError(t, err)
	require.Nil(t, putResp.Status)

	getResp, err := r1.Get(ctx, &rpcapi.GetRequest{Key: "apple"})
	require.NoError(t, err)
	assert.Nil(t, getResp.Status)
	assert.Equal(t, "red", getResp.Value)

	delResp, err := r1.Delete(ctx, &rpcapi.DeleteRequest{Key: "apple"})
	require.NoError(t, err)
	assert.Nil(t, delResp.Status)

	getResp, err = r1.Get(ctx, &rpcapi.GetRequest{Key: "apple"})
	require.NoError(t, err)
	assert.Equal(t, rpcapi.NotFound, rpcapi.CodeOf(getResp.Status.AsError()))
}

// TestThreeReplicaConsensusUnderOneAcceptorFailure covers one acceptor
// failing Prepare/Propose. fail_rate only gates the acceptor's Prepare
// and Propose handlers; Inform is the learner path and is never gated,
// so R3 still ends up applying the decision once the coordinator's
// Inform fan-out reaches it — it just never got to vote on it. Quorum
// is reached on R1+R2 alone.
func TestThreeReplicaConsensusUnderOneAcceptorFailure(t *testing.T) {
	rs := newReplicaSet(t, 3, map[int]float64{2: 1.0}) // r3 always random-fails
	ctx := context.Background()

	putResp, err := rs.svcs["r1:1"].Put(ctx, &rpcapi.PutRequest{Key: "lemon", Value: "yellow"})
	require.NoError(t, err)
	require.Nil(t, putResp.Status)

	r2Slot := rs.svcs["r2:2"].Store().GetLog("lemon", 1)
	assert.Equal(t, uint64(1), r2Slot.AcceptedID)
	assert.Equal(t, rpcapi.Set, r2Slot.AcceptedType)
	assert.Equal(t, "yellow", r2Slot.AcceptedValue)

	// R3 never promised or accepted on its own — the quorum was R1+R2 —
	// but it still learns the chosen value through the unconditional
	// Inform fan-out.
	r3Slot := rs.svcs["r3:3"].Store().GetLog("lemon", 1)
	assert.Equal(t, uint64(1), r3Slot.AcceptedID)
	assert.Equal(t, "yellow", r3Slot.AcceptedValue)

	getResp, err := rs.svcs["r3:3"].Get(ctx, &rpcapi.GetRequest{Key: "lemon"})
	require.NoError(t, err)
	assert.Nil(t, getResp.Status)
	assert.Equal(t, "yellow", getResp.Value)
}

func TestElectionUnderCoordinatorFailure(t *testing.T) {
	rs := newReplicaSet(t, 3, nil)
	ctx := context.Background()

	for _, addr := range rs.addrs {
		rs.svcs[addr].Registry().SetCoordinator("r1:1")
	}
	rs.stubFor("r1:1").setDown(true)

	err := rs.svcs["r2:2"].ElectNewCoordinator(ctx)
	require.NoError(t, err)

	assert.Equal(t, "r2:2", rs.svcs["r2:2"].Registry().GetCoordinator())
	assert.Equal(t, "r2:2", rs.svcs["r3:3"].Registry().GetCoordinator())
}

func TestStaleInformRejected(t *testing.T) {
	rs := newReplicaSet(t, 1, nil)
	svc := rs.svcs["r1:1"]
	ctx := context.Background()

	_, err := svc.Inform(ctx, &rpcapi.InformRequest{Key: "x", Acceptance: rpcapi.Acceptance{Round: 1, ProposeID: 1, Op: rpcapi.Operation{Type: rpcapi.Set, Value: "first"}}})
	require.NoError(t, err)
	_, err = svc.Inform(ctx, &rpcapi.InformRequest{Key: "x", Acceptance: rpcapi.Acceptance{Round: 2, ProposeID: 1, Op: rpcapi.Operation{Type: rpcapi.Set, Value: "second"}}})
	require.NoError(t, err)

	resp, err := svc.Inform(ctx, &rpcapi.InformRequest{Key: "x", Acceptance: rpcapi.Acceptance{Round: 1, ProposeID: 1, Op: rpcapi.Operation{Type: rpcapi.Set, Value: "stale"}}})
	require.NoError(t, err)
	require.NotNil(t, resp.Status)
	assert.Equal(t, rpcapi.Aborted, resp.Status.Code)

	value, _ := svc.Store().Get("x")
	assert.Equal(t, "second", value)
}

func TestRecoverySnapshot(t *testing.T) {
	rs := newReplicaSet(t, 1, nil)
	ctx := context.Background()
	coord := rs.svcs["r1:1"]
	_, err := coord.Put(ctx, &rpcapi.PutRequest{Key: "apple", Value: "red"})
	require.NoError(t, err)
	_, err = coord.Put(ctx, &rpcapi.PutRequest{Key: "lemon", Value: "yellow"})
	require.NoError(t, err)

	newReplicaReg := registry.New(map[string]registry.Stub{
		"r1:1": rs.stubFor("r1:1"),
	})
	newReplicaReg.SetCoordinator("r1:1")
	newReplica := replication.NewService(replication.Config{
		Self:     "r4:4",
		Store:    store.New(),
		Registry: newReplicaReg,
		Seed:     9999,
	})

	require.NoError(t, newReplica.GetRecovery(ctx))

	v, ok := newReplica.Store().Get("apple")
	require.True(t, ok)
	assert.Equal(t, "red", v)
	v, ok = newReplica.Store().Get("lemon")
	require.True(t, ok)
	assert.Equal(t, "yellow", v)
	assert.Equal(t, coord.Store().LatestRound("apple"), newReplica.Store().LatestRound("apple"))
	assert.Equal(t, coord.Store().LatestRound("lemon"), newReplica.Store().LatestRound("lemon"))
}

func TestReservedCoordinatorKeyIsIllegal(t *testing.T) {
	rs := newReplicaSet(t, 1, nil)
	svc := rs.svcs["r1:1"]
	ctx := context.Background()

	getResp, err := svc.Get(ctx, &rpcapi.GetRequest{Key: "coordinator"})
	require.NoError(t, err)
	require.NotNil(t, getResp.Status)
	assert.Equal(t, rpcapi.Aborted, getResp.Status.Code)

	putResp, err := svc.Put(ctx, &rpcapi.PutRequest{Key: "coordinator", Value: "anything"})
	require.NoError(t, err)
	require.NotNil(t, putResp.Status)
	assert.Equal(t, rpcapi.Aborted, putResp.Status.Code)

	electResp, err := svc.ElectCoordinator(ctx, &rpcapi.ElectCoordinatorRequest{Key: "not-coordinator", Coordinator: "r1:1"})
	require.NoError(t, err)
	require.NotNil(t, electResp.Status)
	assert.Equal(t, rpcapi.Aborted, electResp.Status.Code)
}
