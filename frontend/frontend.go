// Package frontend implements the KV Front-End: the client-facing
// Get/Put/Delete surface that forwards mutating and read traffic alike
// to the currently believed coordinator, re-electing and retrying once
// if the forward comes back UNAVAILABLE or DEADLINE_EXCEEDED. Grounded
// on the request-dispatch shape of Rain168-server/client's Conn, with
// the capnproto client-txn submission protocol replaced by the plain
// request/response forward this store's simpler model calls for.
package frontend

import (
	"context"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/metrics"
	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

const forwardDeadline = 5 * time.Second

// Electioner is the subset of replication.Service the front-end needs:
// the ability to trigger an election when the believed coordinator
// turns out to be unreachable. Expressed as an interface so frontend
// never imports replication directly, avoiding a dependency cycle
// between the two services that share only the registry.
type Electioner interface {
	ElectNewCoordinator(ctx context.Context) error
}

// Frontend is the receiver behind the "Frontend" net/rpc service name.
type Frontend struct {
	registry *registry.Registry
	election Electioner
	logger   log.Logger
	metrics  *metrics.Metrics
}

// New builds a Frontend over the given Peer Registry and election
// trigger.
func New(r *registry.Registry, election Electioner, logger log.Logger) *Frontend {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Frontend{registry: r, election: election, logger: logger}
}

// SetMetrics wires a Metrics bundle in after construction.
func (f *Frontend) SetMetrics(m *metrics.Metrics) { f.metrics = m }

func (f *Frontend) recordOp(op string, status *rpcapi.Status) {
	if f.metrics == nil {
		return
	}
	outcome := "ok"
	if status != nil {
		outcome = status.Code.String()
	}
	f.metrics.OpsServed.WithLabelValues(op, outcome).Inc()
}

func (f *Frontend) coordinatorStub() (registry.Stub, error) {
	stub := f.registry.GetCoordinatorStub()
	if stub == nil {
		return nil, rpcapi.New(rpcapi.Aborted, "Coordinator is not set")
	}
	return stub, nil
}

func isRetriable(err error) bool {
	code := rpcapi.CodeOf(err)
	return code == rpcapi.DeadlineExceeded || code == rpcapi.Unavailable
}

// Get forwards a GET to the coordinator, served there directly from
// local state (no Paxos) per the store's non-linearizable read policy.
func (f *Frontend) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	stub, err := f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	resp, err := f.forwardGet(ctx, stub, req)
	if err == nil {
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	if !isRetriable(err) {
		resp := &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.Internal, "%v", err)}
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	if f.metrics != nil {
		f.metrics.ForwardRetries.Inc()
	}
	if elErr := f.election.ElectNewCoordinator(ctx); elErr != nil {
		resp := &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed and re-election failed: %v", elErr)}
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	stub, err = f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	resp, err = f.forwardGet(ctx, stub, req)
	if err != nil {
		resp := &rpcapi.GetResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed after re-election: %v", err)}
		f.recordOp("get", resp.Status)
		return resp, nil
	}
	f.recordOp("get", resp.Status)
	return resp, nil
}

func (f *Frontend) forwardGet(ctx context.Context, stub registry.Stub, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	fctx, cancel := context.WithTimeout(ctx, forwardDeadline)
	defer cancel()
	resp, err := stub.Get(fctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != nil && (resp.Status.Code == rpcapi.DeadlineExceeded || resp.Status.Code == rpcapi.Unavailable) {
		return nil, resp.Status.AsError()
	}
	return resp, nil
}

// Put forwards a PUT to the coordinator, which drives it through Paxos.
func (f *Frontend) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	stub, err := f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	resp, err := f.forwardPut(ctx, stub, req)
	if err == nil {
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	if !isRetriable(err) {
		resp := &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.Internal, "%v", err)}
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	if f.metrics != nil {
		f.metrics.ForwardRetries.Inc()
	}
	if elErr := f.election.ElectNewCoordinator(ctx); elErr != nil {
		resp := &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed and re-election failed: %v", elErr)}
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	stub, err = f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	resp, err = f.forwardPut(ctx, stub, req)
	if err != nil {
		resp := &rpcapi.PutResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed after re-election: %v", err)}
		f.recordOp("put", resp.Status)
		return resp, nil
	}
	f.recordOp("put", resp.Status)
	return resp, nil
}

func (f *Frontend) forwardPut(ctx context.Context, stub registry.Stub, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	fctx, cancel := context.WithTimeout(ctx, forwardDeadline)
	defer cancel()
	resp, err := stub.Put(fctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != nil && (resp.Status.Code == rpcapi.DeadlineExceeded || resp.Status.Code == rpcapi.Unavailable) {
		return nil, resp.Status.AsError()
	}
	return resp, nil
}

// Delete forwards a DELETE to the coordinator, which drives it through
// Paxos.
func (f *Frontend) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	stub, err := f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	resp, err := f.forwardDelete(ctx, stub, req)
	if err == nil {
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	if !isRetriable(err) {
		resp := &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.Internal, "%v", err)}
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	if f.metrics != nil {
		f.metrics.ForwardRetries.Inc()
	}
	if elErr := f.election.ElectNewCoordinator(ctx); elErr != nil {
		resp := &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed and re-election failed: %v", elErr)}
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	stub, err = f.coordinatorStub()
	if err != nil {
		resp := &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.CodeOf(err), "%v", err)}
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	resp, err = f.forwardDelete(ctx, stub, req)
	if err != nil {
		resp := &rpcapi.DeleteResponse{Status: rpcapi.New(rpcapi.Internal, "forward failed after re-election: %v", err)}
		f.recordOp("delete", resp.Status)
		return resp, nil
	}
	f.recordOp("delete", resp.Status)
	return resp, nil
}

func (f *Frontend) forwardDelete(ctx context.Context, stub registry.Stub, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	fctx, cancel := context.WithTimeout(ctx, forwardDeadline)
	defer cancel()
	resp, err := stub.Delete(fctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Status != nil && (resp.Status.Code == rpcapi.DeadlineExceeded || resp.Status.Code == rpcapi.Unavailable) {
		return nil, resp.Status.AsError()
	}
	return resp, nil
}
