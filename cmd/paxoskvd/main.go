package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-kit/kit/log"

	"github.com/gsoosk/PaxosKVStore/config"
	"github.com/gsoosk/PaxosKVStore/node"
)

func main() {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)

	logger.Log("product", "paxoskvd", "args", fmt.Sprint(os.Args))

	s, err := newServer(logger)
	if err != nil {
		fmt.Printf("\n%v\n\n", err)
		flag.Usage()
		os.Exit(1)
	}
	s.start()
}

type server struct {
	logger   log.Logger
	cfg      *config.Configuration
	promPort int
	nd       *node.Node
	shutdown chan struct{}
}

func newServer(logger log.Logger) (*server, error) {
	var configStr string
	var promPort int

	flag.StringVar(&configStr, "config", "", "`key:value` configuration string (my_addr, my_paxos, fail_rate, one or more replica, log_level, recover). Required.")
	flag.IntVar(&promPort, "prometheusPort", 9090, "Port to serve Prometheus /metrics on. Set to 0 to disable.")
	flag.Parse()

	if configStr == "" {
		return nil, fmt.Errorf("missing -config (required)")
	}

	cfg, err := config.Parse(configStr)
	if err != nil {
		return nil, err
	}

	return &server{
		logger:   logger,
		cfg:      cfg,
		promPort: promPort,
		shutdown: make(chan struct{}),
	}, nil
}

func (s *server) start() {
	nd, err := node.Start(s.cfg, s.logger)
	if err != nil {
		s.logger.Log("msg", "failed to start node", "err", err)
		os.Exit(1)
	}
	s.nd = nd

	s.logger.Log("msg", "listening", "replication", nd.PaxosAddr(), "frontend", nd.FrontendAddr())

	if s.promPort != 0 {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", nd.Metrics().Handler())
			addr := fmt.Sprintf(":%d", s.promPort)
			s.logger.Log("msg", "serving prometheus metrics", "addr", addr)
			if err := http.ListenAndServe(addr, mux); err != nil {
				s.logger.Log("msg", "prometheus listener stopped", "err", err)
			}
		}()
	}

	go s.signalHandler()

	<-s.shutdown
	nd.Close()
	s.logger.Log("msg", "shutdown complete")
}

func (s *server) signalHandler() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	for sig := range sigs {
		switch sig {
		case syscall.SIGTERM, syscall.SIGINT:
			s.logger.Log("msg", "shutdown requested")
			close(s.shutdown)
			return
		case syscall.SIGHUP:
			s.logger.Log("msg", "SIGHUP received; this process takes its configuration from a single command-line string and cannot reload in place, restart to pick up changes")
		}
	}
}
