package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/internal/health"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/store"
	"github.com/linanwx/supportbot/supervisor"
)

// ActionStore is the read side of the action log. *store.Store satisfies it.
type ActionStore interface {
	ListActions(ctx context.Context, threadID string) ([]store.AgentAction, error)
	ListThreads(ctx context.Context) ([]string, error)
	LatestDraft(ctx context.Context, threadID string) (*store.DraftResponse, error)
	GetDraft(ctx context.Context, id string) (*store.DraftResponse, error)
}

// Handler holds the dependencies for the HTTP handlers.
type Handler struct {
	Pool      *supervisor.Pool
	Store     ActionStore
	StorePath string
}

// StartRequest is the body for POST /threads/{threadID}/agent/start and
// /generate. Without events the worker is seeded from the persisted log.
type StartRequest struct {
	Events []event.Event `json:"events,omitempty"`
}

// StopRequest is the body for POST /threads/{threadID}/agent/stop.
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}

// StatusResponse acknowledges a control request.
type StatusResponse struct {
	ThreadID string `json:"thread_id"`
	Status   string `json:"status"`
}

// GenerateResponse is the result of a completed run.
type GenerateResponse struct {
	ThreadID string               `json:"thread_id"`
	Events   int                  `json:"events"`
	Actions  []store.AgentAction  `json:"actions"`
	Draft    *store.DraftResponse `json:"draft,omitempty"`
}

// AgentStatusResponse reports a thread's supervisor state.
type AgentStatusResponse struct {
	ThreadID   string     `json:"thread_id"`
	Running    bool       `json:"running"`
	Restarts   int        `json:"restarts"`
	LastActive *time.Time `json:"last_active,omitempty"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Health handles GET /healthz.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	stats := h.Pool.Stats()
	writeJSON(w, http.StatusOK, health.Collect(health.Options{
		Agents: &health.AgentInfo{
			Tracked:           stats.Tracked,
			Running:           stats.Running,
			StateReadFailures: stats.StateReadFailures,
		},
		StorePath: h.StorePath,
	}))
}

// StartAgent handles POST /threads/{threadID}/agent/start.
func (h *Handler) StartAgent(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	var req StartRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	var initial []event.Event
	if len(req.Events) > 0 {
		initial = req.Events
	}
	if err := h.Pool.Start(r.Context(), threadID, initial); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, StatusResponse{ThreadID: threadID, Status: "started"})
}

// StopAgent handles POST /threads/{threadID}/agent/stop.
func (h *Handler) StopAgent(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	var req StopRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	if req.Reason == "" {
		req.Reason = "stop requested"
	}
	if err := h.Pool.Stop(r.Context(), threadID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ThreadID: threadID, Status: "stopped"})
}

// ForceStopAgent handles POST /threads/{threadID}/agent/force-stop.
func (h *Handler) ForceStopAgent(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	if err := h.Pool.ForceStop(threadID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{ThreadID: threadID, Status: "killed"})
}

// Generate handles POST /threads/{threadID}/agent/generate. It blocks until
// the run completes, fails or times out. A run already in progress is left
// alone and the request gets 409.
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	var req StartRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	events, err := h.Pool.Generate(r.Context(), threadID, req.Events)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := GenerateResponse{ThreadID: threadID, Events: len(events)}
	if resp.Actions, err = h.Store.ListActions(r.Context(), threadID); err != nil {
		writeError(w, err)
		return
	}
	draft, err := h.Store.LatestDraft(r.Context(), threadID)
	switch {
	case err == nil:
		resp.Draft = draft
	case !errors.Is(err, store.ErrNotFound):
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// AgentStatus handles GET /threads/{threadID}/agent. An untracked thread
// reports as not running.
func (h *Handler) AgentStatus(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	resp := AgentStatusResponse{ThreadID: threadID}
	if sup, ok := h.Pool.Lookup(threadID); ok {
		last := sup.LastActive()
		resp.Running = sup.Running()
		resp.Restarts = sup.Restarts()
		resp.LastActive = &last
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetDraft handles GET /drafts/{draftID}.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	d, err := h.Store.GetDraft(r.Context(), r.PathValue("draftID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ListThreads handles GET /threads.
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	ids, err := h.Store.ListThreads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// ListActions handles GET /threads/{threadID}/actions.
func (h *Handler) ListActions(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")
	list, err := h.Store.ListActions(r.Context(), threadID)
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []store.AgentAction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// StreamSignals handles GET /threads/{threadID}/signals and GET /signals by
// upgrading to a websocket and forwarding supervisor signals as JSON.
func (h *Handler) StreamSignals(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("threadID")

	// Subscribe before the upgrade completes so no signal is missed by a
	// client that starts the agent right after connecting.
	sigs, unsubscribe := h.Pool.Subscribe(threadID)
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		logger.Warn("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Nothing is read from clients; CloseRead handles control frames and
	// cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	logger.Info("signal stream opened", "threadID", threadID)

	for {
		select {
		case <-ctx.Done():
			logger.Info("signal stream closed", "threadID", threadID)
			return
		case sig := <-sigs:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, sig)
			cancel()
			if err != nil {
				logger.Warn("signal stream write failed", "threadID", threadID, "err", err)
				return
			}
		}
	}
}

// decodeOptional decodes a JSON body if present. An empty body is allowed.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, APIError{Code: http.StatusBadRequest, Message: "invalid request body"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("write response failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, supervisor.ErrAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, supervisor.ErrStopTimeout), errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, supervisor.ErrRunStopped):
		status = http.StatusConflict
	}
	writeJSON(w, status, APIError{Code: status, Message: err.Error()})
}
