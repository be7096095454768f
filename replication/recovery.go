package replication

import (
	"context"

	"github.com/gsoosk/PaxosKVStore/rpcapi"
	"github.com/gsoosk/PaxosKVStore/store"
)

// Recover answers a snapshot request with the full key→value mapping
// and the full per-key Paxos log. It never blocks on in-flight
// proposals; a snapshot taken mid-round is not guaranteed to be a
// prefix of every other replica's log, and the learner path is relied
// on to converge the new replica under majority-acceptance.
func (s *Service) Recover(ctx context.Context, req *rpcapi.RecoverRequest) (*rpcapi.RecoverResponse, error) {
	if req.Expired() {
		return nil, rpcapi.New(rpcapi.Cancelled, "recover deadline already passed")
	}

	kv := s.store.DataSnapshot()
	logs := s.store.LogSnapshot()

	wireLogs := make(map[string][]rpcapi.LogSlotSnapshot, len(logs))
	for key, perKey := range logs {
		slots := make([]rpcapi.LogSlotSnapshot, 0, len(perKey))
		for round, slot := range perKey {
			slots = append(slots, rpcapi.LogSlotSnapshot{
				Round:         round,
				PromisedID:    slot.PromisedID,
				AcceptedID:    slot.AcceptedID,
				AcceptedType:  slot.AcceptedType,
				AcceptedValue: slot.AcceptedValue,
			})
		}
		wireLogs[key] = slots
	}

	return &rpcapi.RecoverResponse{KV: kv, PaxosLog: wireLogs}, nil
}

// GetRecovery is invoked at the end of Initialize against whichever
// coordinator it settled on, and once more by node.Start when the
// configuration sets recover. It overwrites local state slot-wise with the
// snapshot; applying it twice produces the same final state as
// applying it once (recovery idempotence).
func (s *Service) GetRecovery(ctx context.Context) error {
	stub := s.registry.GetCoordinatorStub()
	if stub == nil {
		return rpcapi.New(rpcapi.Aborted, "coordinator is not set")
	}

	rctx, cancel := context.WithTimeout(ctx, phaseDeadline)
	defer cancel()
	resp, err := stub.Recover(rctx)
	if err != nil {
		return err
	}

	for key, value := range resp.KV {
		s.store.Set(key, value)
	}
	for key, slots := range resp.PaxosLog {
		for _, slot := range slots {
			s.store.SetFull(key, slot.Round, store.LogSlot{
				PromisedID:    slot.PromisedID,
				AcceptedID:    slot.AcceptedID,
				AcceptedType:  slot.AcceptedType,
				AcceptedValue: slot.AcceptedValue,
			})
		}
	}
	return nil
}
