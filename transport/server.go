package transport

import (
	"net"
	"net/rpc"
	"sync"

	"github.com/go-kit/kit/log"
)

// Server listens for net/rpc connections and serves whatever receivers
// are registered on it, named "Replication" and "Frontend" respectively
// so Client's method names resolve. Grounded on the listener loop in
// Rain168-server/network's ConnectionManager, stripped of the capnproto
// framing it used and of topology-change-triggered re-listening (this
// store's membership is fixed for the process lifetime).
type Server struct {
	addr     string
	listener net.Listener
	rpc      *rpc.Server
	logger   log.Logger

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}
}

// Listen opens a TCP listener at addr ("host:port", or ":0" for an
// ephemeral port) and returns a Server ready to have receivers
// registered on it.
func Listen(addr string, logger log.Logger) (*Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Server{
		addr:     addr,
		listener: ln,
		rpc:      rpc.NewServer(),
		logger:   logger,
		conns:    make(map[net.Conn]struct{}),
	}, nil
}

// Register exposes rcvr's exported methods under the given service name
// ("Replication" or "Frontend"), matching the prefixes Client dials.
func (s *Server) Register(name string, rcvr interface{}) error {
	return s.rpc.RegisterName(name, rcvr)
}

// Addr reports the bound address, resolving an ephemeral port to its
// actual value.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve accepts connections until the listener is closed. It blocks the
// calling goroutine; callers run it with `go srv.Serve()`.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.logger.Log("msg", "listener stopped accepting", "err", err)
			return
		}
		s.trackConn(conn)
		go func() {
			defer s.untrackConn(conn)
			s.rpc.ServeConn(conn)
		}()
	}
}

func (s *Server) trackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	s.conns[conn] = struct{}{}
}

func (s *Server) untrackConn(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// Close stops accepting new connections and severs every connection
// already accepted, so a replica simulated as "down" in a test stops
// answering in-flight RPCs rather than quietly continuing to serve
// requests over sockets opened before the Close call.
func (s *Server) Close() error {
	err := s.listener.Close()
	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	return err
}
