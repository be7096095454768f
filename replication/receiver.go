package replication

import (
	"context"
	"time"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

// Receiver adapts Service to net/rpc's required method shape
// (func(args, reply *T) error). Every request embeds rpcapi.Call, whose
// Deadline becomes the context.Context every Service method expects;
// net/rpc itself has no notion of a call deadline.
type Receiver struct {
	svc *Service
}

// NewReceiver wraps svc for net/rpc registration under the
// "Replication" service name.
func NewReceiver(svc *Service) *Receiver { return &Receiver{svc: svc} }

func ctxFor(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

func (r *Receiver) Ping(req *rpcapi.PingRequest, resp *rpcapi.PingResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Ping(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) GetCoordinator(req *rpcapi.PingRequest, resp *rpcapi.GetCoordinatorResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.GetCoordinator(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) ElectCoordinator(req *rpcapi.ElectCoordinatorRequest, resp *rpcapi.ElectCoordinatorResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.ElectCoordinator(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Prepare(req *rpcapi.PrepareRequest, resp *rpcapi.PrepareResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Prepare(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Propose(req *rpcapi.ProposeRequest, resp *rpcapi.ProposeResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Propose(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Inform(req *rpcapi.InformRequest, resp *rpcapi.InformResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Inform(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Recover(req *rpcapi.RecoverRequest, resp *rpcapi.RecoverResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Recover(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Get(req *rpcapi.GetRequest, resp *rpcapi.GetResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Get(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Put(req *rpcapi.PutRequest, resp *rpcapi.PutResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Put(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Delete(req *rpcapi.DeleteRequest, resp *rpcapi.DeleteResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.svc.Delete(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}
