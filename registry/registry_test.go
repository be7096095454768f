package registry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

type fakeStub struct{ addr string }

func (f *fakeStub) Address() string { return f.addr }
func (f *fakeStub) Ping(ctx context.Context) error { return nil }
func (f *fakeStub) GetCoordinator(ctx context.Context) (*rpcapi.GetCoordinatorResponse, error) {
	return nil, nil
}
func (f *fakeStub) ElectCoordinator(ctx context.Context, req *rpcapi.ElectCoordinatorRequest) (*rpcapi.ElectCoordinatorResponse, error) {
	return nil, nil
}
func (f *fakeStub) Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error) {
	return nil, nil
}
func (f *fakeStub) Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error) {
	return nil, nil
}
func (f *fakeStub) Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error) {
	return nil, nil
}
func (f *fakeStub) Recover(ctx context.Context) (*rpcapi.RecoverResponse, error) { return nil, nil }
func (f *fakeStub) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	return nil, nil
}
func (f *fakeStub) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	return nil, nil
}
func (f *fakeStub) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	return nil, nil
}
func (f *fakeStub) Close() error { return nil }

func TestCoordinatorUnsetByDefault(t *testing.T) {
	r := registry.New(map[string]registry.Stub{"a": &fakeStub{addr: "a"}})
	assert.Equal(t, "", r.GetCoordinator())
	assert.Nil(t, r.GetCoordinatorStub())
}

func TestSetCoordinatorUpdatesStubLookup(t *testing.T) {
	a := &fakeStub{addr: "a"}
	b := &fakeStub{addr: "b"}
	r := registry.New(map[string]registry.Stub{"a": a, "b": b})

	r.SetCoordinator("b")
	assert.Equal(t, "b", r.GetCoordinator())
	assert.Same(t, registry.Stub(b), r.GetCoordinatorStub())
}

func TestGetStubUnknownAddressIsNil(t *testing.T) {
	r := registry.New(map[string]registry.Stub{"a": &fakeStub{addr: "a"}})
	assert.Nil(t, r.GetStub("ghost"))
}

func TestStubsAreImmutableAfterConstruction(t *testing.T) {
	base := map[string]registry.Stub{"a": &fakeStub{addr: "a"}}
	r := registry.New(base)
	base["b"] = &fakeStub{addr: "b"}

	assert.Nil(t, r.GetStub("b"))
	assert.Len(t, r.GetPaxosStubs(), 1)
}
