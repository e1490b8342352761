package config

import (
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/simfuzz/simfuzz/pkg/simlog"
)

// Server is the optional metrics/status HTTP server, wrapped in
// handlers.CombinedLoggingHandler the same way any mux serving an access
// log would be. cmd/simfuzz-host starts it whenever MetricsAddr is set;
// CoverageReporting is not consulted.
type Server struct {
	ln     net.Listener
	server *http.Server
}

// NewServer builds a Server exposing /metrics (Prometheus) on addr.
func NewServer(addr string, reg *prometheus.Registry, logf simlog.Func) (*Server, error) {
	if logf == nil {
		logf = simlog.Discard
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	logged := handlers.CombinedLoggingHandler(logWriter{logf}, mux)
	return &Server{
		ln:     ln,
		server: &http.Server{Handler: logged},
	}, nil
}

// Addr returns the bound address, useful when addr was ":0".
func (s *Server) Addr() string { return s.ln.Addr().String() }

// Serve blocks, serving until the listener is closed.
func (s *Server) Serve() error {
	return s.server.Serve(s.ln)
}

// Close shuts the server down.
func (s *Server) Close() error {
	return s.server.Close()
}

// logWriter adapts a simlog.Func to io.Writer for
// handlers.CombinedLoggingHandler, which wants a plain writer for its
// Apache-style access log lines.
type logWriter struct {
	logf simlog.Func
}

func (w logWriter) Write(p []byte) (int, error) {
	w.logf(2, "%s", string(p))
	return len(p), nil
}
