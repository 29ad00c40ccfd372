package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/tools"
)

var (
	// ErrUnknownTool means the model named a tool the registry does not hold.
	// No event is recorded for it.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrRecord means the event sink refused an event.
	ErrRecord = errors.New("record event")
	// ErrIterationLimit means the run hit MaxIterations without finalizing.
	ErrIterationLimit = errors.New("iteration limit reached")
)

// State is a loop phase.
type State string

const (
	StateAwaitingDecision State = "awaiting_decision"
	StateExecutingTool    State = "executing_tool"
	StateRecording        State = "recording"
	StateTerminated       State = "terminated"
)

// EventSink receives each event as soon as it is appended. An error stops
// the run.
type EventSink func(ctx context.Context, e event.Event) error

// Config wires a Runner.
type Config struct {
	Gateway       provider.Gateway
	Tools         *tools.Registry
	Context       ContextGenerator // defaults to TranscriptContext
	SystemPrompt  string           // defaults to BuildSystemPrompt(Tools)
	TerminalTool  string           // defaults to "finalize"
	MaxIterations int              // 0 means unbounded
	Sink          EventSink
	OnState       func(State)
	Metrics       *ExecMetrics // optional
}

// Runner executes the agent loop over one event log.
type Runner struct {
	cfg Config
}

// NewRunner creates a new Runner.
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Gateway == nil {
		return nil, errors.New("agent: gateway is required")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: tool registry is required")
	}
	if cfg.TerminalTool == "" {
		cfg.TerminalTool = tools.Finalize
	}
	if _, ok := cfg.Tools.Get(cfg.TerminalTool); !ok {
		return nil, fmt.Errorf("agent: terminal tool %q is not registered", cfg.TerminalTool)
	}
	if cfg.Context == nil {
		cfg.Context = TranscriptContext{}
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = BuildSystemPrompt(cfg.Tools, PromptOptions{TerminalTool: cfg.TerminalTool})
	}
	if cfg.MaxIterations < 0 {
		cfg.MaxIterations = 0
	}
	return &Runner{cfg: cfg}, nil
}

// Run loops until the terminal tool succeeds and returns the full event log,
// the input events followed by one event per executed tool. The input slice
// is not modified.
func (r *Runner) Run(ctx context.Context, events []event.Event) ([]event.Event, error) {
	log := event.CloneAll(events)
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.start()
	}
	defer r.setState(StateTerminated)

	for i := 0; r.cfg.MaxIterations == 0 || i < r.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return log, err
		}
		r.cfg.Metrics.iterate()
		r.setState(StateAwaitingDecision)

		transcript := r.cfg.Context.Generate(log)
		decision, err := r.cfg.Gateway.NextToolCall(ctx, r.cfg.SystemPrompt, transcript)
		if err != nil {
			return log, fmt.Errorf("gateway error: %w", err)
		}
		call := decision.ToolCall

		tool, ok := r.cfg.Tools.Get(call.Name)
		if !ok {
			logger.Error("model chose unknown tool", "tool", call.Name, "iteration", i+1)
			return log, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
		}

		r.setState(StateExecutingTool)
		r.cfg.Metrics.setCurrent(call.Name)
		start := time.Now()

		var e event.Event
		result, runErr := r.execute(ctx, tool, call.Args)
		if runErr != nil {
			logger.Warn("tool error", "tool", call.Name, "iteration", i+1, "err", runErr)
			e, err = event.NewToolError(call.Name, call.Args, runErr)
		} else {
			e, err = event.NewToolResult(call.Name, call.Args, result)
		}
		if err != nil {
			return log, fmt.Errorf("%w: %w", ErrRecord, err)
		}
		r.cfg.Metrics.record(call.Name, time.Since(start), runErr != nil)

		r.setState(StateRecording)
		if r.cfg.Sink != nil {
			if err := r.cfg.Sink(ctx, e); err != nil {
				return log, fmt.Errorf("%w: %w", ErrRecord, err)
			}
		}
		log = append(log, e)

		if call.Name == r.cfg.TerminalTool && runErr == nil {
			logger.Info("agent finalized", "iterations", i+1, "events", len(log))
			return log, nil
		}
	}

	logger.Warn("agent iteration limit reached", "maxIterations", r.cfg.MaxIterations)
	return log, fmt.Errorf("%w (%d)", ErrIterationLimit, r.cfg.MaxIterations)
}

// execute validates args and runs the tool. Validation failures surface as
// tool errors so the model can correct itself.
func (r *Runner) execute(ctx context.Context, tool tools.Tool, args map[string]any) (result any, err error) {
	if err := tools.ValidateArgs(tool.Def().Args, args); err != nil {
		return nil, err
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("tool panicked: %v", p)
		}
	}()
	return tool.Run(ctx, args)
}

func (r *Runner) setState(s State) {
	if r.cfg.OnState != nil {
		r.cfg.OnState(s)
	}
}

// ToolCallRecord captures one executed tool call.
type ToolCallRecord struct {
	Name       string `json:"name"`
	DurationMs int64  `json:"duration_ms"`
	Error      bool   `json:"error"`
}

// ExecMetrics tracks real-time execution metrics for a run. A nil
// *ExecMetrics is valid and records nothing.
type ExecMetrics struct {
	mu             sync.Mutex
	RunStart       time.Time
	Iterations     int
	TotalToolCalls int
	CurrentTool    string // empty when not executing a tool
	ToolCalls      []ToolCallRecord
}

// MetricsSnapshot is a point-in-time copy of ExecMetrics.
type MetricsSnapshot struct {
	RunStart       time.Time        `json:"run_start"`
	Iterations     int              `json:"iterations"`
	TotalToolCalls int              `json:"total_tool_calls"`
	CurrentTool    string           `json:"current_tool,omitempty"`
	ToolCalls      []ToolCallRecord `json:"tool_calls"`
}

// Snapshot returns a copy safe to read while the run continues.
func (m *ExecMetrics) Snapshot() MetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MetricsSnapshot{
		RunStart:       m.RunStart,
		Iterations:     m.Iterations,
		TotalToolCalls: m.TotalToolCalls,
		CurrentTool:    m.CurrentTool,
		ToolCalls:      append([]ToolCallRecord(nil), m.ToolCalls...),
	}
}

func (m *ExecMetrics) start() {
	m.mu.Lock()
	m.RunStart = time.Now()
	m.mu.Unlock()
}

func (m *ExecMetrics) iterate() {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.Iterations++
	m.CurrentTool = ""
	m.mu.Unlock()
}

func (m *ExecMetrics) setCurrent(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.CurrentTool = name
	m.mu.Unlock()
}

func (m *ExecMetrics) record(name string, d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.TotalToolCalls++
	m.ToolCalls = append(m.ToolCalls, ToolCallRecord{
		Name:       name,
		DurationMs: d.Milliseconds(),
		Error:      failed,
	})
	m.CurrentTool = ""
	m.mu.Unlock()
}
