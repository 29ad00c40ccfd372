// Package worker is the process side of a supervised agent run. It reads
// protocol messages from the supervisor, runs the agent loop, and persists
// every event through correlated requests before continuing.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linanwx/supportbot/agent"
	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/protocol"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/tools"
)

const defaultRequestTimeout = 30 * time.Second

// Config wires a worker.
type Config struct {
	ThreadID string
	// NewGateway builds the gateway. apiKey is the start message's
	// providerApiKey and may be empty.
	NewGateway     func(apiKey string) (provider.Gateway, error)
	NewTools       func() *tools.Registry
	Context        agent.ContextGenerator
	Workspace      string
	TerminalTool   string
	MaxIterations  int
	RequestTimeout time.Duration
}

// Worker runs one agent loop for one thread.
type Worker struct {
	cfg Config
	enc *protocol.Encoder
	dec *protocol.Decoder

	mu      sync.Mutex
	pending map[string]chan protocol.Message
	metrics agent.ExecMetrics

	inbox   chan protocol.Message
	closed  chan struct{}
	readErr error
}

// New creates a worker speaking the protocol over in/out.
func New(cfg Config, in io.Reader, out io.Writer) *Worker {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if cfg.NewTools == nil {
		cfg.NewTools = func() *tools.Registry { return tools.NewSupportRegistry(nil) }
	}
	return &Worker{
		cfg:     cfg,
		enc:     protocol.NewEncoder(out),
		dec:     protocol.NewDecoder(in),
		pending: make(map[string]chan protocol.Message),
		inbox:   make(chan protocol.Message, 16),
		closed:  make(chan struct{}),
	}
}

type runResult struct {
	events []event.Event
	err    error
}

// Run waits for start, runs the loop and reports the outcome. It returns nil
// after a completed run or a stop request, and an error after a fatal loop
// error, which the supervisor treats as a crash.
func (w *Worker) Run(ctx context.Context) error {
	go w.readLoop()

	start, err := w.awaitStart(ctx)
	if err != nil || start == nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan runResult, 1)
	go func() {
		events, err := w.runAgent(runCtx, start)
		done <- runResult{events: events, err: err}
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			return nil

		case <-w.closed:
			cancel()
			<-done
			return fmt.Errorf("supervisor connection lost: %w", w.readErr)

		case msg := <-w.inbox:
			if msg.Type == protocol.MsgStop {
				reason := ""
				if msg.Stop != nil {
					reason = msg.Stop.Reason
				}
				logger.Info("worker stopping", "threadID", w.cfg.ThreadID, "reason", reason)
				cancel()
				<-done
				return nil
			}
			w.ignore(msg)

		case res := <-done:
			if res.err != nil {
				logger.Error("worker run failed", "threadID", w.cfg.ThreadID, "err", res.err)
				if err := w.enc.Encode(protocol.NewWorkerError(res.err)); err != nil {
					logger.Warn("report worker error failed", "err", err)
				}
				return res.err
			}
			m := w.metrics.Snapshot()
			failed := 0
			for _, c := range m.ToolCalls {
				if c.Error {
					failed++
				}
			}
			logger.Info("worker completed", "threadID", w.cfg.ThreadID,
				"iterations", m.Iterations, "toolCalls", m.TotalToolCalls, "failed", failed,
				"elapsed", time.Since(m.RunStart).Round(time.Millisecond))
			msg := fmt.Sprintf("finalized after %d events (%d iterations, %d tool calls, %d failed)",
				len(res.events), m.Iterations, m.TotalToolCalls, failed)
			if err := w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusCompleted, msg)); err != nil {
				return fmt.Errorf("report completion: %w", err)
			}
			return nil
		}
	}
}

func (w *Worker) awaitStart(ctx context.Context) (*protocol.StartPayload, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, nil
		case <-w.closed:
			return nil, fmt.Errorf("supervisor closed before start: %w", w.readErr)
		case msg := <-w.inbox:
			switch msg.Type {
			case protocol.MsgStart:
				if msg.Start == nil {
					return &protocol.StartPayload{}, nil
				}
				return msg.Start, nil
			case protocol.MsgStop:
				logger.Info("worker stopped before start", "threadID", w.cfg.ThreadID)
				return nil, nil
			default:
				w.ignore(msg)
			}
		}
	}
}

func (w *Worker) runAgent(ctx context.Context, start *protocol.StartPayload) ([]event.Event, error) {
	log := start.InitialEventLog
	if len(log) == 0 {
		fetched, err := w.GetEventState(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch event state: %w", err)
		}
		log = fetched
	}
	if dups := event.DuplicateIDs(log); len(dups) > 0 {
		logger.Warn("event log has duplicate ids", "threadID", w.cfg.ThreadID, "ids", dups)
	}

	if w.cfg.NewGateway == nil {
		return nil, errors.New("worker: no gateway configured")
	}
	gw, err := w.cfg.NewGateway(start.ProviderAPIKey)
	if err != nil {
		return nil, fmt.Errorf("build gateway: %w", err)
	}
	reg := w.cfg.NewTools()

	runner, err := agent.NewRunner(agent.Config{
		Gateway: gw,
		Tools:   reg,
		Context: w.cfg.Context,
		SystemPrompt: agent.BuildSystemPrompt(reg, agent.PromptOptions{
			Workspace:    w.cfg.Workspace,
			TerminalTool: w.cfg.TerminalTool,
		}),
		TerminalTool:  w.cfg.TerminalTool,
		MaxIterations: w.cfg.MaxIterations,
		Sink:          w.persist,
		Metrics:       &w.metrics,
		OnState: func(s agent.State) {
			logger.Debug("agent state", "threadID", w.cfg.ThreadID, "state", s)
		},
	})
	if err != nil {
		return nil, err
	}

	msg := fmt.Sprintf("running with %d events", len(log))
	if err := w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusRunning, msg)); err != nil {
		return nil, fmt.Errorf("report running: %w", err)
	}
	logger.Info("worker running", "threadID", w.cfg.ThreadID, "events", len(log), "tools", reg.Len())

	return runner.Run(ctx, log)
}

// GetEventState asks the supervisor for the persisted event log.
func (w *Worker) GetEventState(ctx context.Context) ([]event.Event, error) {
	resp, err := w.request(ctx, protocol.NewGetEventStateRequest(uuid.NewString()))
	if err != nil {
		return nil, err
	}
	if resp.GetEventStateResponse == nil {
		return nil, fmt.Errorf("unexpected response %s", resp.Type)
	}
	return resp.GetEventStateResponse.EventLog, nil
}

// persist is the loop's event sink: the event is durable once this returns.
func (w *Worker) persist(ctx context.Context, e event.Event) error {
	resp, err := w.request(ctx, protocol.NewUpdateEventStateRequest(uuid.NewString(), e))
	if err != nil {
		return err
	}
	ack := resp.UpdateEventStateResponse
	if ack == nil {
		return fmt.Errorf("unexpected response %s", resp.Type)
	}
	if !ack.Success {
		return &protocol.RemoteError{Op: protocol.MsgUpdateEventStateRequest, Message: ack.Error}
	}
	return nil
}

// request sends msg and waits for the response carrying the same id.
func (w *Worker) request(ctx context.Context, msg protocol.Message) (protocol.Message, error) {
	ch := make(chan protocol.Message, 1)
	w.mu.Lock()
	w.pending[msg.ID] = ch
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		delete(w.pending, msg.ID)
		w.mu.Unlock()
	}()

	if err := w.enc.Encode(msg); err != nil {
		return protocol.Message{}, err
	}

	timer := time.NewTimer(w.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return protocol.Message{}, fmt.Errorf("%w: %s %s", protocol.ErrRequestTimeout, msg.Type, msg.ID)
	case <-w.closed:
		return protocol.Message{}, protocol.ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// readLoop decodes messages until the supervisor closes the pipe. Responses
// go straight to their waiting request; everything else goes to the inbox.
func (w *Worker) readLoop() {
	for {
		msg, err := w.dec.Decode()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				logger.Warn("skipping malformed message", "threadID", w.cfg.ThreadID, "err", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				err = protocol.ErrClosed
			}
			w.readErr = err
			close(w.closed)
			return
		}

		switch msg.Type {
		case protocol.MsgGetEventStateResponse, protocol.MsgUpdateEventStateResponse:
			w.deliver(msg)
		default:
			select {
			case w.inbox <- msg:
			case <-time.After(time.Second):
				logger.Warn("worker inbox full, dropping message", "type", msg.Type)
			}
		}
	}
}

func (w *Worker) deliver(msg protocol.Message) {
	id := msg.CorrelationID()
	w.mu.Lock()
	ch, ok := w.pending[id]
	w.mu.Unlock()
	if !ok {
		logger.Warn("response for unknown request", "type", msg.Type, "id", id)
		return
	}
	select {
	case ch <- msg:
	default:
		logger.Warn("duplicate response dropped", "type", msg.Type, "id", id)
	}
}

func (w *Worker) ignore(msg protocol.Message) {
	logger.Debug("worker ignoring message", "threadID", w.cfg.ThreadID, "type", msg.Type)
}
