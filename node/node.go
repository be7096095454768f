// Package node wires a Key-Value Store, Peer Registry, Replication
// Service and KV Front-End into the two net/rpc listeners one running
// replica exposes. Grounded on the construction sequence in
// Rain168-server/cmd/goshawkdb's newServer/start split (build the
// stateful pieces, open listeners, wire shutdown), generalized from
// GoshawkDB's single capnproto listener down to this store's pair of
// "Replication" and "Frontend" net/rpc listeners.
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/config"
	"github.com/gsoosk/PaxosKVStore/frontend"
	"github.com/gsoosk/PaxosKVStore/metrics"
	"github.com/gsoosk/PaxosKVStore/registry"
	"github.com/gsoosk/PaxosKVStore/replication"
	"github.com/gsoosk/PaxosKVStore/store"
	"github.com/gsoosk/PaxosKVStore/transport"
	"github.com/gsoosk/PaxosKVStore/util"
)

const initializeDeadline = 10 * time.Second

// Node bundles one replica's running state: its two listeners, the
// Replication Service and KV Front-End built over a shared Store and
// Registry, and the Metrics bundle published by both.
type Node struct {
	cfg *config.Configuration

	store    *store.Store
	registry *registry.Registry
	service  *replication.Service
	frontend *frontend.Frontend
	metrics  *metrics.Metrics

	paxosServer    *transport.Server
	frontendServer *transport.Server

	logger log.Logger

	lock       sync.Mutex
	onShutdown []func()
}

// Start builds and brings up a replica from a parsed Configuration.
// It opens both listeners, dials every peer (including a stub for this
// replica's own address, per the Peer Registry's self-inclusion
// invariant), and runs Initialize to discover or elect a coordinator
// before returning.
func Start(cfg *config.Configuration, logger log.Logger) (*Node, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	n := &Node{cfg: cfg, logger: logger}

	paxosServer, err := transport.Listen(cfg.MyPaxos, logger)
	if err != nil {
		return nil, fmt.Errorf("node: listen on my_paxos %s: %w", cfg.MyPaxos, err)
	}
	n.paxosServer = paxosServer
	n.addOnShutdown(func() { util.CheckWarn(paxosServer.Close(), logger) })
	go paxosServer.Serve()

	self := cfg.MyPaxos
	if _, port, err := net.SplitHostPort(self); err == nil && port == "0" {
		self = paxosServer.Addr()
	}

	addrs := dialSet(self, cfg.Replica)
	stubs, err := transport.DialAll(addrs)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("node: dialing peers: %w", err)
	}
	n.addOnShutdown(func() {
		for _, s := range stubs {
			util.CheckWarn(s.Close(), logger)
		}
	})

	n.registry = registry.New(stubs)
	n.store = store.New()
	n.metrics = metrics.New()

	seed := time.Now().UnixNano() ^ int64(addrSeed(self))
	n.service = replication.NewService(replication.Config{
		Self:     self,
		Store:    n.store,
		Registry: n.registry,
		FailRate: cfg.FailRate,
		Seed:     seed,
		Logger:   log.With(logger, "component", "replication", "addr", self),
	})
	n.service.SetMetrics(n.metrics)
	if err := paxosServer.Register("Replication", replication.NewReceiver(n.service)); err != nil {
		n.Close()
		return nil, fmt.Errorf("node: registering Replication service: %w", err)
	}

	frontendServer, err := transport.Listen(cfg.MyAddr, logger)
	if err != nil {
		n.Close()
		return nil, fmt.Errorf("node: listen on my_addr %s: %w", cfg.MyAddr, err)
	}
	n.frontendServer = frontendServer
	n.addOnShutdown(func() { util.CheckWarn(frontendServer.Close(), logger) })

	n.frontend = frontend.New(n.registry, n.service, log.With(logger, "component", "frontend", "addr", cfg.MyAddr))
	n.frontend.SetMetrics(n.metrics)
	if err := frontendServer.Register("Frontend", frontend.NewReceiver(n.frontend)); err != nil {
		n.Close()
		return nil, fmt.Errorf("node: registering Frontend service: %w", err)
	}
	go frontendServer.Serve()

	ctx, cancel := context.WithTimeout(context.Background(), initializeDeadline)
	defer cancel()
	if err := n.service.Initialize(ctx); err != nil {
		logger.Log("msg", "initialize did not settle a coordinator, continuing without one", "err", err)
	}
	if cfg.Recover {
		if err := n.service.GetRecovery(ctx); err != nil {
			logger.Log("msg", "forced recovery pull failed", "err", err)
		}
	}

	return n, nil
}

// dialSet is the union of self and the configured replica list, since
// the Peer Registry includes a self-stub so fan-out never special-cases
// the local replica.
func dialSet(self string, replicas []string) []string {
	seen := map[string]bool{self: true}
	out := []string{self}
	for _, addr := range replicas {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, addr)
	}
	return out
}

// addrSeed derives a small per-address integer so replicas started in
// the same process (tests) or the same instant (wall-clock collisions
// under container orchestration) still seed distinct PRNGs.
func addrSeed(addr string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(addr); i++ {
		h ^= uint32(addr[i])
		h *= 16777619
	}
	return h
}

func (n *Node) addOnShutdown(f func()) {
	n.lock.Lock()
	defer n.lock.Unlock()
	n.onShutdown = append(n.onShutdown, f)
}

// Metrics exposes the Metrics bundle, used to mount the /metrics HTTP
// handler.
func (n *Node) Metrics() *metrics.Metrics { return n.metrics }

// Service exposes the underlying Replication Service, used by tests.
func (n *Node) Service() *replication.Service { return n.service }

// PaxosAddr reports the bound Replication listener address, resolving
// an ephemeral port if the configuration requested one.
func (n *Node) PaxosAddr() string { return n.paxosServer.Addr() }

// FrontendAddr reports the bound Frontend listener address.
func (n *Node) FrontendAddr() string { return n.frontendServer.Addr() }

// Close shuts the node down in reverse registration order, same
// pattern as Rain168-server/cmd/goshawkdb's server.shutdown.
func (n *Node) Close() {
	n.lock.Lock()
	defer n.lock.Unlock()
	for i := len(n.onShutdown) - 1; i >= 0; i-- {
		n.onShutdown[i]()
	}
	n.onShutdown = nil
}
