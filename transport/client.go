// Package transport is the synchronous RPC transport the core plugs into:
// any request/response transport with per-call deadlines and
// cancellation would do, so this implementation grounds that interface
// on net/rpc, the same stdlib transport the wjw19940424-Paxos and
// wkid-neu-PSMR Paxos libraries use for an equivalent replicated-log RPC
// surface.
package transport

import (
	"context"
	"fmt"
	"net/rpc"
	"time"

	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

// Client is a registry.Stub backed by a net/rpc connection. Calls race the
// context deadline against the RPC's completion so a wedged peer never
// blocks a Paxos phase past its deadline.
type Client struct {
	addr   string
	client *rpc.Client
}

// Dial connects to a peer's RPC listener. Every method call on the
// returned Client is prefixed with the "Replication" service name,
// matching how that listener registers its receiver (see
// transport/server.go).
func Dial(addr string) (*Client, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{addr: addr, client: c}, nil
}

func (c *Client) Address() string { return c.addr }

func (c *Client) Close() error { return c.client.Close() }

// call issues one net/rpc method call and enforces ctx's deadline,
// translating a client-observed timeout or connection failure into the
// Unavailable/DeadlineExceeded vocabulary the front-end's retry logic
// inspects.
func call(ctx context.Context, c *rpc.Client, method string, args, reply interface{}) error {
	if deadline, ok := ctx.Deadline(); ok {
		if time.Now().After(deadline) {
			return rpcapi.New(rpcapi.DeadlineExceeded, "deadline already passed")
		}
	}

	done := make(chan error, 1)
	call := c.Go(method, args, reply, make(chan *rpc.Call, 1))
	go func() {
		<-call.Done
		done <- call.Error
	}()

	select {
	case err := <-done:
		if err == nil {
			return nil
		}
		return rpcapi.New(rpcapi.Unavailable, "rpc %s: %v", method, err)
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return rpcapi.New(rpcapi.DeadlineExceeded, "rpc %s timed out", method)
		}
		return rpcapi.New(rpcapi.Cancelled, "rpc %s cancelled", method)
	}
}

func withDeadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Time{}
}

func (c *Client) Ping(ctx context.Context) error {
	req := &rpcapi.PingRequest{Call: rpcapi.Call{Deadline: withDeadline(ctx)}}
	resp := &rpcapi.PingResponse{}
	if err := call(ctx, c.client, "Replication.Ping", req, resp); err != nil {
		return err
	}
	return resp.Status.AsError()
}

func (c *Client) GetCoordinator(ctx context.Context) (*rpcapi.GetCoordinatorResponse, error) {
	req := &rpcapi.PingRequest{Call: rpcapi.Call{Deadline: withDeadline(ctx)}}
	resp := &rpcapi.GetCoordinatorResponse{}
	if err := call(ctx, c.client, "Replication.GetCoordinator", req, resp); err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

func (c *Client) ElectCoordinator(ctx context.Context, req *rpcapi.ElectCoordinatorRequest) (*rpcapi.ElectCoordinatorResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.ElectCoordinatorResponse{}
	if err := call(ctx, c.client, "Replication.ElectCoordinator", req, resp); err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

func (c *Client) Prepare(ctx context.Context, req *rpcapi.PrepareRequest) (*rpcapi.PrepareResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.PrepareResponse{}
	if err := call(ctx, c.client, "Replication.Prepare", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Propose(ctx context.Context, req *rpcapi.ProposeRequest) (*rpcapi.ProposeResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.ProposeResponse{}
	if err := call(ctx, c.client, "Replication.Propose", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Inform(ctx context.Context, req *rpcapi.InformRequest) (*rpcapi.InformResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.InformResponse{}
	if err := call(ctx, c.client, "Replication.Inform", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Recover(ctx context.Context) (*rpcapi.RecoverResponse, error) {
	req := &rpcapi.RecoverRequest{Call: rpcapi.Call{Deadline: withDeadline(ctx)}}
	resp := &rpcapi.RecoverResponse{}
	if err := call(ctx, c.client, "Replication.Recover", req, resp); err != nil {
		return nil, err
	}
	return resp, resp.Status.AsError()
}

// Get/Put/Delete target the peer's Replication Service, not its
// Frontend listener: forwarding a client request means asking the
// believed coordinator's Replication Service to serve (Get, served
// from local state) or drive (Put/Delete, through Paxos) the
// operation. See FrontendClient for the externally-facing surface a
// shell or other caller dials.
func (c *Client) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.GetResponse{}
	if err := call(ctx, c.client, "Replication.Get", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.PutResponse{}
	if err := call(ctx, c.client, "Replication.Put", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.DeleteResponse{}
	if err := call(ctx, c.client, "Replication.Delete", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

var _ registry.Stub = (*Client)(nil)

// FrontendClient dials a replica's client-facing Frontend listener.
// This is the handle an external caller (the interactive shell, or a
// test harness standing in for one) uses; it is distinct from Client,
// which peers use to talk to each other's Replication Service.
type FrontendClient struct {
	addr   string
	client *rpc.Client
}

// DialFrontend connects to a replica's Frontend listener.
func DialFrontend(addr string) (*FrontendClient, error) {
	c, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &FrontendClient{addr: addr, client: c}, nil
}

func (c *FrontendClient) Close() error { return c.client.Close() }

func (c *FrontendClient) Get(ctx context.Context, req *rpcapi.GetRequest) (*rpcapi.GetResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.GetResponse{}
	if err := call(ctx, c.client, "Frontend.Get", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *FrontendClient) Put(ctx context.Context, req *rpcapi.PutRequest) (*rpcapi.PutResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.PutResponse{}
	if err := call(ctx, c.client, "Frontend.Put", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *FrontendClient) Delete(ctx context.Context, req *rpcapi.DeleteRequest) (*rpcapi.DeleteResponse, error) {
	req.Deadline = withDeadline(ctx)
	resp := &rpcapi.DeleteResponse{}
	if err := call(ctx, c.client, "Frontend.Delete", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// DialAll connects to every address, rolling back already-opened
// connections if any dial fails, so the caller never ends up with a
// half-populated registry.
func DialAll(addrs []string) (map[string]registry.Stub, error) {
	stubs := make(map[string]registry.Stub, len(addrs))
	for _, addr := range addrs {
		c, err := Dial(addr)
		if err != nil {
			for _, s := range stubs {
				s.Close()
			}
			return nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		stubs[addr] = c
	}
	return stubs, nil
}
