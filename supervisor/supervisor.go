// Package supervisor owns worker lifecycles: at most one worker per thread,
// persistence on the worker's behalf, and bounded restarts from the
// persisted event log after a crash.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
	"github.com/linanwx/supportbot/protocol"
	"github.com/linanwx/supportbot/store"
)

var (
	// ErrAlreadyRunning is returned by Start while a run is in progress.
	ErrAlreadyRunning = errors.New("agent already running for thread")
	// ErrStopTimeout is returned by Stop when the worker did not exit in time.
	ErrStopTimeout = errors.New("worker did not stop in time")
	// ErrRetired is returned by Start on a supervisor the pool has evicted.
	ErrRetired = errors.New("supervisor retired")
)

const storeOpTimeout = 10 * time.Second

// EventStore is the persistence the supervisor performs for its worker.
// *store.Store satisfies it.
type EventStore interface {
	ListEvents(ctx context.Context, threadID string) ([]event.Event, error)
	AppendAction(ctx context.Context, threadID string, e event.Event) (*store.AgentAction, error)
}

// Config controls restart and stop behaviour.
type Config struct {
	RestartOnError bool
	MaxRestarts    int
	RestartDelay   time.Duration
	StopTimeout    time.Duration
	// ProviderAPIKey is forwarded to the worker in the start message.
	ProviderAPIKey string
}

// DefaultConfig returns the restart policy used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		RestartOnError: true,
		MaxRestarts:    3,
		RestartDelay:   time.Second,
		StopTimeout:    5 * time.Second,
	}
}

type instance struct {
	proc      Process
	enc       *protocol.Encoder
	stopping  bool
	completed bool
}

// Supervisor manages the worker for one thread.
type Supervisor struct {
	threadID string
	cfg      Config
	spawner  Spawner
	store    EventStore
	notify   func(Signal)

	stateReadFailures atomic.Int64

	mu         sync.Mutex
	active     bool
	cur        *instance
	restarts   int
	done       chan struct{}
	stopCh     chan struct{}
	stopOnce   *sync.Once
	lastActive time.Time
	retired    bool
}

// New creates an idle supervisor. notify may be nil.
func New(threadID string, cfg Config, spawner Spawner, st EventStore, notify func(Signal)) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultConfig().StopTimeout
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}
	if notify == nil {
		notify = func(Signal) {}
	}
	return &Supervisor{
		threadID:   threadID,
		cfg:        cfg,
		spawner:    spawner,
		store:      st,
		notify:     notify,
		lastActive: time.Now(),
	}
}

// ThreadID returns the supervised thread.
func (s *Supervisor) ThreadID() string { return s.threadID }

// Running reports whether a run is in progress, including a pending restart.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// LastActive is the time the supervisor last started or finished a run.
func (s *Supervisor) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Restarts is the number of restarts performed by the current or last run.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// retireIfIdle marks the supervisor retired when it is not running and has
// been idle for at least ttl. A retired supervisor never starts again.
func (s *Supervisor) retireIfIdle(now time.Time, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active || now.Sub(s.lastActive) < ttl {
		return false
	}
	s.retired = true
	return true
}

// StateReadFailures counts event-log reads that failed and were answered
// with an empty log.
func (s *Supervisor) StateReadFailures() int64 {
	return s.stateReadFailures.Load()
}

// Done returns a channel closed when the most recent run ends, or nil if no
// run was ever started.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Start spawns a worker seeded with initialEvents.
func (s *Supervisor) Start(ctx context.Context, initialEvents []event.Event) error {
	s.mu.Lock()
	if s.retired {
		s.mu.Unlock()
		return ErrRetired
	}
	if s.active {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	inst, err := s.spawnLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.active = true
	s.restarts = 0
	s.done = make(chan struct{})
	s.stopCh = make(chan struct{})
	s.stopOnce = &sync.Once{}
	s.lastActive = time.Now()
	s.mu.Unlock()

	s.emit(Signal{Type: SignalStarted, Message: fmt.Sprintf("%d initial events", len(initialEvents))})
	s.sendStart(inst, initialEvents)
	return nil
}

// Stop asks the worker to exit and waits up to the stop timeout. It is a
// no-op when nothing is running.
func (s *Supervisor) Stop(ctx context.Context, reason string) error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	inst, done := s.requestStopLocked()
	s.mu.Unlock()

	if inst != nil {
		if err := inst.enc.Encode(protocol.NewStop(reason)); err != nil {
			logger.Warn("send stop failed", "threadID", s.threadID, "err", err)
		}
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		logger.Warn("worker stop timed out", "threadID", s.threadID, "timeout", s.cfg.StopTimeout)
		return ErrStopTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ForceStop kills the worker without waiting for it to cooperate.
func (s *Supervisor) ForceStop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	inst, _ := s.requestStopLocked()
	s.mu.Unlock()

	if inst == nil {
		return nil
	}
	logger.Warn("force stopping worker", "threadID", s.threadID)
	return inst.proc.Kill()
}

func (s *Supervisor) requestStopLocked() (*instance, chan struct{}) {
	stopCh := s.stopCh
	s.stopOnce.Do(func() { close(stopCh) })
	if s.cur != nil {
		s.cur.stopping = true
	}
	return s.cur, s.done
}

func (s *Supervisor) spawnLocked(ctx context.Context) (*instance, error) {
	proc, err := s.spawner.Spawn(ctx, s.threadID)
	if err != nil {
		return nil, fmt.Errorf("spawn worker: %w", err)
	}
	inst := &instance{proc: proc, enc: protocol.NewEncoder(proc.Stdin())}
	s.cur = inst
	go s.serve(inst)
	return inst, nil
}

func (s *Supervisor) sendStart(inst *instance, events []event.Event) {
	if err := inst.enc.Encode(protocol.NewStart(events, s.cfg.ProviderAPIKey)); err != nil {
		logger.Error("send start failed", "threadID", s.threadID, "err", err)
	}
}

// serve reads the worker's messages until its stdout closes, then reaps it.
func (s *Supervisor) serve(inst *instance) {
	dec := protocol.NewDecoder(inst.proc.Stdout())
	for {
		msg, err := dec.Decode()
		if err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				logger.Warn("skipping malformed worker message", "threadID", s.threadID, "err", err)
				continue
			}
			break
		}
		s.handleMessage(inst, msg)
	}
	s.onExit(inst, inst.proc.Wait())
}

func (s *Supervisor) handleMessage(inst *instance, msg protocol.Message) {
	switch msg.Type {
	case protocol.MsgWorkerStatus:
		st := msg.WorkerStatus
		if st == nil {
			return
		}
		s.emit(Signal{Type: SignalStatus, Status: st.Status, Message: st.Message})
		switch st.Status {
		case protocol.StatusRunning:
			s.emit(Signal{Type: SignalRunning, Message: st.Message})
		case protocol.StatusCompleted:
			s.mu.Lock()
			inst.completed = true
			s.mu.Unlock()
		}

	case protocol.MsgWorkerError:
		text := ""
		if msg.WorkerError != nil {
			text = msg.WorkerError.Error
		}
		s.emit(Signal{Type: SignalError, Error: text})

	case protocol.MsgGetEventStateRequest:
		events := s.readState()
		s.reply(inst, protocol.NewGetEventStateResponse(msg.ID, events))

	case protocol.MsgUpdateEventStateRequest:
		var err error
		if msg.UpdateEventStateRequest == nil {
			err = fmt.Errorf("update request without event")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
			_, err = s.store.AppendAction(ctx, s.threadID, msg.UpdateEventStateRequest.Event)
			cancel()
		}
		if err != nil {
			logger.Error("persist event failed", "threadID", s.threadID, "err", err)
		}
		s.reply(inst, protocol.NewUpdateEventStateResponse(msg.ID, err))

	default:
		logger.Debug("supervisor ignoring message", "threadID", s.threadID, "type", msg.Type)
	}
}

// readState loads the persisted log. A failed read is answered with an empty
// log so the worker can proceed.
func (s *Supervisor) readState() []event.Event {
	ctx, cancel := context.WithTimeout(context.Background(), storeOpTimeout)
	defer cancel()
	events, err := s.store.ListEvents(ctx, s.threadID)
	if err != nil {
		n := s.stateReadFailures.Add(1)
		logger.Warn("event state read failed, using empty log", "threadID", s.threadID, "failures", n, "err", err)
		return []event.Event{}
	}
	return events
}

func (s *Supervisor) reply(inst *instance, msg protocol.Message) {
	if err := inst.enc.Encode(msg); err != nil {
		logger.Warn("reply to worker failed", "threadID", s.threadID, "type", msg.Type, "err", err)
	}
}

func (s *Supervisor) onExit(inst *instance, exitErr error) {
	s.mu.Lock()
	if s.cur != inst {
		s.mu.Unlock()
		return
	}
	s.cur = nil

	switch {
	case inst.stopping:
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalStopped, Message: "stopped"})
		return
	case exitErr == nil && inst.completed:
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalCompleted})
		return
	case exitErr == nil:
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalStopped, Message: "worker exited before completing"})
		return
	}

	logger.Error("worker crashed", "threadID", s.threadID, "restarts", s.restarts, "err", exitErr)
	if !s.cfg.RestartOnError || s.restarts >= s.cfg.MaxRestarts {
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalFailed, Error: exitErr.Error()})
		return
	}
	s.restarts++
	attempt := s.restarts
	stopCh := s.stopCh
	s.mu.Unlock()

	s.emit(Signal{Type: SignalRestarting, Attempt: attempt, Error: exitErr.Error()})
	s.restart(stopCh, attempt)
}

// restart waits the restart delay, then reseeds a fresh worker from the
// persisted log. Pre-crash in-memory state is never reused.
func (s *Supervisor) restart(stopCh chan struct{}, attempt int) {
	if s.cfg.RestartDelay > 0 {
		timer := time.NewTimer(s.cfg.RestartDelay)
		select {
		case <-timer.C:
		case <-stopCh:
			timer.Stop()
		}
	}

	events := s.readState()

	s.mu.Lock()
	select {
	case <-stopCh:
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalStopped, Message: "stopped during restart"})
		return
	default:
	}
	inst, err := s.spawnLocked(context.Background())
	if err != nil {
		s.finishLocked()
		s.mu.Unlock()
		s.emit(Signal{Type: SignalFailed, Error: err.Error()})
		return
	}
	s.mu.Unlock()

	logger.Info("worker restarted", "threadID", s.threadID, "attempt", attempt, "events", len(events))
	s.sendStart(inst, events)
}

func (s *Supervisor) finishLocked() {
	s.active = false
	s.lastActive = time.Now()
	close(s.done)
}

func (s *Supervisor) emit(sig Signal) {
	sig.ThreadID = s.threadID
	sig.Time = time.Now()
	logger.Info("agent signal", "threadID", s.threadID, "type", sig.Type, "status", sig.Status, "error", sig.Error)
	s.notify(sig)
}
