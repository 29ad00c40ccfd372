package supervisor

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/protocol"
	"github.com/linanwx/supportbot/provider"
	"github.com/linanwx/supportbot/store"
	"github.com/linanwx/supportbot/worker"
)

type memStore struct {
	mu        sync.Mutex
	events    map[string][]event.Event
	listErr   error
	appendErr error
}

func newMemStore() *memStore {
	return &memStore{events: make(map[string][]event.Event)}
}

func (m *memStore) ListEvents(_ context.Context, threadID string) ([]event.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return event.CloneAll(m.events[threadID]), nil
}

func (m *memStore) AppendAction(_ context.Context, threadID string, e event.Event) (*store.AgentAction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return nil, m.appendErr
	}
	m.events[threadID] = append(m.events[threadID], e.Clone())
	return &store.AgentAction{ThreadID: threadID, Seq: int64(len(m.events[threadID]))}, nil
}

func (m *memStore) CountActions(_ context.Context, threadID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events[threadID]), nil
}

func (m *memStore) types(threadID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events[threadID] {
		out = append(out, e.Type)
	}
	return out
}

func mustEvent(e event.Event, err error) event.Event {
	if err != nil {
		panic(err)
	}
	return e
}

func startedEvent() event.Event {
	return mustEvent(event.New(event.TypeThreadStarted, event.ActorCustomer, event.ThreadStarted{Subject: "Login", Body: "login fails"}))
}

type recorder struct {
	ch chan Signal
}

func newRecorder() *recorder { return &recorder{ch: make(chan Signal, 128)} }

func (r *recorder) notify(s Signal) { r.ch <- s }

// waitFor returns the signals seen up to and including the first of type want.
func (r *recorder) waitFor(t *testing.T, want SignalType) []SignalType {
	t.Helper()
	var seen []SignalType
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-r.ch:
			seen = append(seen, s.Type)
			if s.Type == want {
				return seen
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s, saw %v", want, seen)
		}
	}
}

// fakeWorker is a scripted protocol peer.
type fakeWorker struct {
	dec *protocol.Decoder
	enc *protocol.Encoder
}

func newFakeWorker(in io.Reader, out io.Writer) *fakeWorker {
	return &fakeWorker{dec: protocol.NewDecoder(in), enc: protocol.NewEncoder(out)}
}

func (w *fakeWorker) awaitStart() (*protocol.StartPayload, error) {
	for {
		msg, err := w.dec.Decode()
		if err != nil {
			return nil, err
		}
		if msg.Type == protocol.MsgStart {
			return msg.Start, nil
		}
	}
}

func (w *fakeWorker) persist(e event.Event) (*protocol.UpdateEventStateResponsePayload, error) {
	if err := w.enc.Encode(protocol.NewUpdateEventStateRequest("req-"+e.ID, e)); err != nil {
		return nil, err
	}
	msg, err := w.dec.Decode()
	if err != nil {
		return nil, err
	}
	return msg.UpdateEventStateResponse, nil
}

// drain reads until stop or a closed pipe.
func (w *fakeWorker) drain() {
	for {
		msg, err := w.dec.Decode()
		if err != nil || msg.Type == protocol.MsgStop {
			return
		}
	}
}

func completeWorker(_ context.Context, _ string, in io.Reader, out io.Writer) error {
	w := newFakeWorker(in, out)
	if _, err := w.awaitStart(); err != nil {
		return nil
	}
	return w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusCompleted, "done"))
}

func blockingWorker(_ context.Context, _ string, in io.Reader, out io.Writer) error {
	w := newFakeWorker(in, out)
	if _, err := w.awaitStart(); err != nil {
		return nil
	}
	_ = w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusRunning, "working"))
	w.drain()
	return nil
}

func testConfig() Config {
	return Config{RestartOnError: true, MaxRestarts: 3, StopTimeout: time.Second}
}

func TestStartRejectsSecondRun(t *testing.T) {
	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: blockingWorker}, newMemStore(), rec.notify)

	if err := sup.Start(context.Background(), []event.Event{startedEvent()}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	rec.waitFor(t, SignalRunning)

	if err := sup.Start(context.Background(), nil); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("second Start err = %v, want ErrAlreadyRunning", err)
	}

	if err := sup.Stop(context.Background(), "test"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	rec.waitFor(t, SignalStopped)
	if sup.Running() {
		t.Fatal("supervisor still running after stop")
	}

	// A stopped supervisor can start again.
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	if err := sup.ForceStop(); err != nil {
		t.Fatalf("ForceStop: %v", err)
	}
	rec.waitFor(t, SignalStopped)
}

func TestStopWhenIdleIsNoOp(t *testing.T) {
	sup := New("idle", testConfig(), &InProcessSpawner{Run: blockingWorker}, newMemStore(), nil)
	if err := sup.Stop(context.Background(), "nothing"); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := sup.ForceStop(); err != nil {
		t.Fatalf("ForceStop: %v", err)
	}
	if sup.Done() != nil {
		t.Fatal("idle supervisor has a done channel")
	}
}

func TestStopTimeout(t *testing.T) {
	stubborn := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		w := newFakeWorker(in, out)
		if _, err := w.awaitStart(); err != nil {
			return nil
		}
		for {
			if _, err := w.dec.Decode(); err != nil {
				return nil
			}
		}
	}
	rec := newRecorder()
	cfg := testConfig()
	cfg.StopTimeout = 50 * time.Millisecond
	sup := New("t1", cfg, &InProcessSpawner{Run: stubborn}, newMemStore(), rec.notify)

	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if err := sup.Stop(context.Background(), "please"); !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("Stop err = %v, want ErrStopTimeout", err)
	}
	if err := sup.ForceStop(); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, SignalStopped)
}

func TestCompletedSignal(t *testing.T) {
	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: completeWorker}, newMemStore(), rec.notify)
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	seen := rec.waitFor(t, SignalCompleted)
	if seen[0] != SignalStarted {
		t.Errorf("first signal = %s, want started", seen[0])
	}
	select {
	case <-sup.Done():
	case <-time.After(time.Second):
		t.Fatal("done channel not closed")
	}
}

func TestCrashRestartsFromPersistedLog(t *testing.T) {
	st := newMemStore()
	seed := []event.Event{startedEvent()}
	for _, e := range seed {
		if _, err := st.AppendAction(context.Background(), "t1", e); err != nil {
			t.Fatal(err)
		}
	}

	var attempts atomic.Int32
	var mu sync.Mutex
	var secondLog []event.Event
	run := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		w := newFakeWorker(in, out)
		start, err := w.awaitStart()
		if err != nil {
			return nil
		}
		if attempts.Add(1) == 1 {
			note := mustEvent(event.NewToolResult("add_note", map[string]any{"body": "x"}, map[string]any{"note": "x"}))
			if ack, err := w.persist(note); err != nil || !ack.Success {
				return errors.New("persist failed")
			}
			_ = w.enc.Encode(protocol.NewWorkerError(errors.New("boom")))
			return errors.New("boom")
		}
		mu.Lock()
		secondLog = start.InitialEventLog
		mu.Unlock()
		return w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusCompleted, "done"))
	}

	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: run}, st, rec.notify)
	if err := sup.Start(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	seen := rec.waitFor(t, SignalCompleted)

	var names []string
	for _, s := range seen {
		names = append(names, string(s))
	}
	joined := strings.Join(names, ",")
	if !strings.Contains(joined, "error,restarting") {
		t.Errorf("signals = %s, want error then restarting", joined)
	}
	if sup.Restarts() != 1 {
		t.Errorf("restarts = %d, want 1", sup.Restarts())
	}

	persisted, _ := st.ListEvents(context.Background(), "t1")
	mu.Lock()
	defer mu.Unlock()
	if len(secondLog) != len(persisted) {
		t.Fatalf("restart log has %d events, persisted %d", len(secondLog), len(persisted))
	}
	for i := range persisted {
		if secondLog[i].ID != persisted[i].ID || string(secondLog[i].Data) != string(persisted[i].Data) {
			t.Errorf("event %d differs after restart", i)
		}
	}
}

func TestRestartBudgetExhausted(t *testing.T) {
	var spawns atomic.Int32
	crash := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		spawns.Add(1)
		if _, err := newFakeWorker(in, out).awaitStart(); err != nil {
			return nil
		}
		return errors.New("crash")
	}
	cfg := testConfig()
	cfg.MaxRestarts = 2
	rec := newRecorder()
	sup := New("t1", cfg, &InProcessSpawner{Run: crash}, newMemStore(), rec.notify)
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	seen := rec.waitFor(t, SignalFailed)

	restarting := 0
	for _, s := range seen {
		if s == SignalRestarting {
			restarting++
		}
	}
	if restarting != 2 {
		t.Errorf("restarting signals = %d, want 2", restarting)
	}
	if got := spawns.Load(); got != 3 {
		t.Errorf("spawns = %d, want 3", got)
	}
}

func TestNoRestartWhenDisabled(t *testing.T) {
	crash := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		if _, err := newFakeWorker(in, out).awaitStart(); err != nil {
			return nil
		}
		panic("worker bug")
	}
	cfg := testConfig()
	cfg.RestartOnError = false
	rec := newRecorder()
	sup := New("t1", cfg, &InProcessSpawner{Run: crash}, newMemStore(), rec.notify)
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	for _, s := range rec.waitFor(t, SignalFailed) {
		if s == SignalRestarting {
			t.Fatal("restarted with restarts disabled")
		}
	}
}

func TestStateReadFailureDegradesToEmptyLog(t *testing.T) {
	st := newMemStore()
	st.listErr = errors.New("disk on fire")

	got := make(chan []event.Event, 1)
	run := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		w := newFakeWorker(in, out)
		if _, err := w.awaitStart(); err != nil {
			return nil
		}
		if err := w.enc.Encode(protocol.NewGetEventStateRequest("r1")); err != nil {
			return err
		}
		msg, err := w.dec.Decode()
		if err != nil {
			return err
		}
		got <- msg.GetEventStateResponse.EventLog
		return w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusCompleted, ""))
	}

	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: run}, st, rec.notify)
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, SignalCompleted)

	if log := <-got; len(log) != 0 {
		t.Errorf("log = %v, want empty", log)
	}
	if n := sup.StateReadFailures(); n != 1 {
		t.Errorf("StateReadFailures = %d, want 1", n)
	}
}

func TestPersistFailureIsReportedToWorker(t *testing.T) {
	st := newMemStore()
	st.appendErr = errors.New("constraint failed")

	acks := make(chan *protocol.UpdateEventStateResponsePayload, 1)
	run := func(_ context.Context, _ string, in io.Reader, out io.Writer) error {
		w := newFakeWorker(in, out)
		if _, err := w.awaitStart(); err != nil {
			return nil
		}
		ack, err := w.persist(startedEvent())
		if err != nil {
			return err
		}
		acks <- ack
		return w.enc.Encode(protocol.NewWorkerStatus(protocol.StatusCompleted, ""))
	}

	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: run}, st, rec.notify)
	if err := sup.Start(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, SignalCompleted)

	ack := <-acks
	if ack.Success || !strings.Contains(ack.Error, "constraint failed") {
		t.Errorf("ack = %+v, want failure", ack)
	}
}

func TestSupervisorDrivesWorker(t *testing.T) {
	st := newMemStore()
	run := func(ctx context.Context, threadID string, in io.Reader, out io.Writer) error {
		calls := []provider.ToolCall{
			{Name: "add_note", Args: map[string]any{"body": "checked the auth logs"}},
			{Name: "finalize", Args: map[string]any{"summary": "resolved"}},
		}
		var mu sync.Mutex
		w := worker.New(worker.Config{
			ThreadID: threadID,
			NewGateway: func(string) (provider.Gateway, error) {
				return provider.GatewayFunc(func(context.Context, string, string) (*provider.Decision, error) {
					mu.Lock()
					defer mu.Unlock()
					if len(calls) == 0 {
						return nil, errors.New("script exhausted")
					}
					c := calls[0]
					calls = calls[1:]
					return &provider.Decision{ToolCall: c}, nil
				}), nil
			},
		}, in, out)
		return w.Run(ctx)
	}

	rec := newRecorder()
	sup := New("t1", testConfig(), &InProcessSpawner{Run: run}, st, rec.notify)
	if err := sup.Start(context.Background(), []event.Event{startedEvent()}); err != nil {
		t.Fatal(err)
	}
	rec.waitFor(t, SignalCompleted)

	if got := strings.Join(st.types("t1"), ","); got != "add_note,finalize" {
		t.Errorf("persisted = %s", got)
	}
}
