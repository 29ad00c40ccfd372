package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/linanwx/supportbot/event"
	"github.com/linanwx/supportbot/logger"
)

// ErrRunStopped is returned by Generate when the run was stopped before it
// completed.
var ErrRunStopped = errors.New("agent run stopped before completion")

const subscriberBuffer = 64

// Store is what the pool needs beyond EventStore.
type Store interface {
	EventStore
	CountActions(ctx context.Context, threadID string) (int, error)
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Supervisor      Config
	GenerateTimeout time.Duration
	// JanitorSpec is a cron spec for evicting idle supervisors; empty
	// disables the janitor.
	JanitorSpec string
	// IdleTTL is how long an idle supervisor is kept.
	IdleTTL time.Duration
}

// Pool holds one supervisor per thread and fans their signals out to
// subscribers.
type Pool struct {
	cfg     PoolConfig
	spawner Spawner
	store   Store

	mu   sync.Mutex
	sups map[string]*Supervisor
	subs map[string]map[chan Signal]struct{}

	cron *cron.Cron
}

// NewPool creates a pool. Call StartJanitor to enable idle eviction.
func NewPool(cfg PoolConfig, spawner Spawner, st Store) *Pool {
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = 2 * time.Minute
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 10 * time.Minute
	}
	return &Pool{
		cfg:     cfg,
		spawner: spawner,
		store:   st,
		sups:    make(map[string]*Supervisor),
		subs:    make(map[string]map[chan Signal]struct{}),
	}
}

// Supervisor returns the supervisor for threadID, creating it if needed.
func (p *Pool) Supervisor(threadID string) *Supervisor {
	p.mu.Lock()
	defer p.mu.Unlock()
	sup, ok := p.sups[threadID]
	if !ok {
		sup = New(threadID, p.cfg.Supervisor, p.spawner, p.store, p.broadcast)
		p.sups[threadID] = sup
	}
	return sup
}

// Lookup returns the tracked supervisor for threadID without creating one.
func (p *Pool) Lookup(threadID string) (*Supervisor, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sup, ok := p.sups[threadID]
	return sup, ok
}

// Stats summarizes the pool for health reporting.
type Stats struct {
	Tracked           int
	Running           int
	StateReadFailures int64
}

// Stats returns the current pool counters. StateReadFailures only covers
// supervisors still tracked.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	sups := make([]*Supervisor, 0, len(p.sups))
	for _, sup := range p.sups {
		sups = append(sups, sup)
	}
	p.mu.Unlock()

	st := Stats{Tracked: len(sups)}
	for _, sup := range sups {
		if sup.Running() {
			st.Running++
		}
		st.StateReadFailures += sup.StateReadFailures()
	}
	return st
}

// Len returns the number of tracked supervisors.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sups)
}

// Start starts the thread's agent. A nil initialEvents seeds the worker with
// the persisted log.
func (p *Pool) Start(ctx context.Context, threadID string, initialEvents []event.Event) error {
	if initialEvents == nil {
		events, err := p.store.ListEvents(ctx, threadID)
		if err != nil {
			return fmt.Errorf("load events for thread %s: %w", threadID, err)
		}
		initialEvents = events
	}
	for {
		err := p.Supervisor(threadID).Start(ctx, initialEvents)
		if !errors.Is(err, ErrRetired) {
			return err
		}
		// Evicted between lookup and start; the next lookup creates a fresh one.
	}
}

// Stop asks the thread's agent to stop.
func (p *Pool) Stop(ctx context.Context, threadID, reason string) error {
	return p.Supervisor(threadID).Stop(ctx, reason)
}

// ForceStop kills the thread's agent.
func (p *Pool) ForceStop(threadID string) error {
	return p.Supervisor(threadID).ForceStop()
}

// Subscribe returns a channel receiving the thread's signals and a cancel
// func. An empty threadID subscribes to every thread. Slow subscribers miss
// signals rather than block the supervisor.
func (p *Pool) Subscribe(threadID string) (<-chan Signal, func()) {
	ch := make(chan Signal, subscriberBuffer)
	p.mu.Lock()
	set, ok := p.subs[threadID]
	if !ok {
		set = make(map[chan Signal]struct{})
		p.subs[threadID] = set
	}
	set[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs[threadID], ch)
			if len(p.subs[threadID]) == 0 {
				delete(p.subs, threadID)
			}
			p.mu.Unlock()
		})
	}
}

func (p *Pool) broadcast(sig Signal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, key := range []string{sig.ThreadID, ""} {
		for ch := range p.subs[key] {
			select {
			case ch <- sig:
			default:
				logger.Warn("signal subscriber full, dropping", "threadID", sig.ThreadID, "type", sig.Type)
			}
		}
	}
}

// Generate runs the agent to completion for threadID and returns the
// persisted event log. A thread with no persisted actions is first seeded
// with seed. The run is force-stopped if it outlives the generate timeout.
func (p *Pool) Generate(ctx context.Context, threadID string, seed []event.Event) ([]event.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	if err := p.seed(ctx, threadID, seed); err != nil {
		return nil, err
	}

	sigs, unsubscribe := p.Subscribe(threadID)
	defer unsubscribe()

	if err := p.Start(ctx, threadID, nil); err != nil {
		return nil, err
	}

	for {
		select {
		case sig := <-sigs:
			if !sig.Type.Terminal() {
				continue
			}
			switch sig.Type {
			case SignalCompleted:
				events, err := p.store.ListEvents(ctx, threadID)
				if err != nil {
					return nil, fmt.Errorf("load events for thread %s: %w", threadID, err)
				}
				return events, nil
			case SignalFailed:
				return nil, fmt.Errorf("agent failed: %s", sig.Error)
			case SignalStopped:
				return nil, ErrRunStopped
			}
		case <-ctx.Done():
			if err := p.ForceStop(threadID); err != nil {
				logger.Warn("force stop after generate timeout failed", "threadID", threadID, "err", err)
			}
			return nil, fmt.Errorf("generate thread %s: %w", threadID, ctx.Err())
		}
	}
}

func (p *Pool) seed(ctx context.Context, threadID string, seed []event.Event) error {
	if len(seed) == 0 {
		return nil
	}
	n, err := p.store.CountActions(ctx, threadID)
	if err != nil {
		return fmt.Errorf("count actions for thread %s: %w", threadID, err)
	}
	if n > 0 {
		return nil
	}
	for _, e := range seed {
		if _, err := p.store.AppendAction(ctx, threadID, e); err != nil {
			return fmt.Errorf("seed thread %s: %w", threadID, err)
		}
	}
	logger.Info("thread seeded", "threadID", threadID, "events", len(seed))
	return nil
}

// StartJanitor schedules idle supervisor eviction on JanitorSpec.
func (p *Pool) StartJanitor() error {
	if p.cfg.JanitorSpec == "" {
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(p.cfg.JanitorSpec, func() { p.EvictIdle(time.Now()) }); err != nil {
		return fmt.Errorf("invalid janitor spec %q: %w", p.cfg.JanitorSpec, err)
	}
	c.Start()
	p.mu.Lock()
	p.cron = c
	p.mu.Unlock()
	logger.Info("supervisor janitor started", "spec", p.cfg.JanitorSpec, "idleTTL", p.cfg.IdleTTL)
	return nil
}

// EvictIdle drops supervisors that are not running and have been idle longer
// than IdleTTL. Evicted supervisors are retired so a caller still holding one
// cannot start a worker the pool no longer tracks. It returns the number
// evicted.
func (p *Pool) EvictIdle(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	evicted := 0
	for id, sup := range p.sups {
		if !sup.retireIfIdle(now, p.cfg.IdleTTL) {
			continue
		}
		delete(p.sups, id)
		evicted++
	}
	if evicted > 0 {
		logger.Info("evicted idle supervisors", "count", evicted, "remaining", len(p.sups))
	}
	return evicted
}

// Close stops the janitor and shuts every worker down. Workers get a stop
// message first and are killed if they do not exit within the stop timeout.
func (p *Pool) Close() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	sups := make([]*Supervisor, 0, len(p.sups))
	for _, sup := range p.sups {
		sups = append(sups, sup)
	}
	p.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	var wg sync.WaitGroup
	for _, sup := range sups {
		if !sup.Running() {
			continue
		}
		wg.Add(1)
		go func(sup *Supervisor) {
			defer wg.Done()
			if err := sup.Stop(context.Background(), "pool closing"); err == nil {
				return
			}
			if err := sup.ForceStop(); err != nil {
				logger.Warn("force stop on close failed", "threadID", sup.ThreadID(), "err", err)
			}
		}(sup)
	}
	wg.Wait()
}
