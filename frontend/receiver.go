package frontend

import (
	"context"
	"time"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
)

// Receiver adapts Frontend to net/rpc's required method shape, for
// registration under the "Frontend" service name.
type Receiver struct {
	fe *Frontend
}

// NewReceiver wraps fe for net/rpc registration.
func NewReceiver(fe *Frontend) *Receiver { return &Receiver{fe: fe} }

func ctxFor(deadline time.Time) (context.Context, context.CancelFunc) {
	if deadline.IsZero() {
		return context.WithCancel(context.Background())
	}
	return context.WithDeadline(context.Background(), deadline)
}

func (r *Receiver) Get(req *rpcapi.GetRequest, resp *rpcapi.GetResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.fe.Get(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Put(req *rpcapi.PutRequest, resp *rpcapi.PutResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.fe.Put(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}

func (r *Receiver) Delete(req *rpcapi.DeleteRequest, resp *rpcapi.DeleteResponse) error {
	ctx, cancel := ctxFor(req.Deadline)
	defer cancel()
	out, err := r.fe.Delete(ctx, req)
	if err != nil {
		return err
	}
	*resp = *out
	return nil
}
