// Package server exposes agent control and the persisted action log over
// HTTP, plus a websocket stream of supervisor signals.
package server

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"time"

	"github.com/linanwx/supportbot/logger"
)

// Server wraps an HTTP server with supportbot routing.
type Server struct {
	httpServer *http.Server
}

// NewServer creates a Server bound to listenAddr.
func NewServer(h *Handler, listenAddr string) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              listenAddr,
			Handler:           h.Routes(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Routes returns the handler's mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)

	// Agent control.
	mux.HandleFunc("POST /threads/{threadID}/agent/start", h.StartAgent)
	mux.HandleFunc("POST /threads/{threadID}/agent/stop", h.StopAgent)
	mux.HandleFunc("POST /threads/{threadID}/agent/force-stop", h.ForceStopAgent)
	mux.HandleFunc("POST /threads/{threadID}/agent/generate", h.Generate)

	// Persisted log.
	mux.HandleFunc("GET /threads", h.ListThreads)
	mux.HandleFunc("GET /threads/{threadID}/actions", h.ListActions)
	mux.HandleFunc("GET /threads/{threadID}/agent", h.AgentStatus)
	mux.HandleFunc("GET /drafts/{draftID}", h.GetDraft)

	// Signal stream.
	mux.HandleFunc("GET /threads/{threadID}/signals", h.StreamSignals)
	mux.HandleFunc("GET /signals", h.StreamSignals)

	return logRequests(mux)
}

// Start begins listening. Blocks until the server stops.
func (s *Server) Start() error {
	logger.Info("http server listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is required for the websocket upgrade.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	r.status = http.StatusSwitchingProtocols
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "latencyMs", time.Since(start).Milliseconds())
	})
}
