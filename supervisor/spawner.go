package supervisor

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"

	"github.com/linanwx/supportbot/logger"
)

// Process is a running worker. Stdin carries supervisor messages, Stdout
// carries worker messages.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	// Wait blocks until the worker exits. A non-nil error is a crash.
	Wait() error
	// Kill terminates the worker immediately.
	Kill() error
}

// Spawner starts workers.
type Spawner interface {
	Spawn(ctx context.Context, threadID string) (Process, error)
}

// ProcessSpawner runs each worker as a child process, re-executing the
// current binary as `<exe> worker --thread <id>`. Each worker gets its own
// process group so Kill reaches any descendants.
type ProcessSpawner struct {
	// Executable defaults to os.Executable().
	Executable string
	// ExtraArgs are appended after the worker subcommand, e.g. --config-dir.
	ExtraArgs []string
	// Stderr receives worker logs; defaults to os.Stderr.
	Stderr io.Writer
	// Env is added to the inherited environment.
	Env []string

	// cmdFactory builds the exec.Cmd for a thread. Tests override it.
	cmdFactory func(threadID string) *exec.Cmd
}

// NewProcessSpawner creates a spawner that re-executes the running binary.
func NewProcessSpawner(extraArgs ...string) *ProcessSpawner {
	return &ProcessSpawner{ExtraArgs: extraArgs}
}

func (ps *ProcessSpawner) command(threadID string) (*exec.Cmd, error) {
	if ps.cmdFactory != nil {
		return ps.cmdFactory(threadID), nil
	}
	exe := ps.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		exe = self
	}
	args := append([]string{"worker", "--thread", threadID}, ps.ExtraArgs...)
	//nolint:gosec // intentionally spawning worker subprocess
	return exec.Command(exe, args...), nil
}

// Spawn starts a worker process for threadID.
func (ps *ProcessSpawner) Spawn(_ context.Context, threadID string) (Process, error) {
	cmd, err := ps.command(threadID)
	if err != nil {
		return nil, err
	}
	setProcessGroup(cmd)
	if len(ps.Env) > 0 {
		cmd.Env = append(os.Environ(), ps.Env...)
	}
	cmd.Stderr = ps.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("worker stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("spawn worker for thread %s: %w", threadID, err)
	}
	logger.Info("worker process started", "threadID", threadID, "pid", cmd.Process.Pid)

	return &childProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: stdout,
		exited: make(chan struct{}),
	}, nil
}

type childProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	waitOnce sync.Once
	waitErr  error
	exited   chan struct{}
}

func (p *childProcess) Stdin() io.WriteCloser { return p.stdin }
func (p *childProcess) Stdout() io.Reader     { return p.stdout }

// Wait must be called only after Stdout has been read to EOF.
func (p *childProcess) Wait() error {
	p.waitOnce.Do(func() {
		p.waitErr = p.cmd.Wait()
		close(p.exited)
	})
	<-p.exited
	return p.waitErr
}

// Kill sends SIGKILL to the worker's process group. The worker gets no
// chance to unwind; cooperative shutdown goes through the stop message.
func (p *childProcess) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	select {
	case <-p.exited:
		return nil
	default:
	}
	if err := killGroup(p.cmd.Process); err != nil {
		logger.Debug("kill worker group failed", "pid", p.cmd.Process.Pid, "err", err)
	}
	return nil
}

// RunFunc is a worker body: it speaks the protocol over in/out until done.
type RunFunc func(ctx context.Context, threadID string, in io.Reader, out io.Writer) error

// InProcessSpawner runs workers as goroutines connected by pipes. A panic in
// the worker is reported as a crash.
type InProcessSpawner struct {
	Run RunFunc
}

// Spawn starts a goroutine worker for threadID.
func (s *InProcessSpawner) Spawn(_ context.Context, threadID string) (Process, error) {
	if s.Run == nil {
		return nil, fmt.Errorf("in-process spawner has no run function")
	}
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	p := &goroutineProcess{
		inR:    inR,
		inW:    inW,
		outR:   outR,
		cancel: cancel,
		exited: make(chan struct{}),
	}

	go func() {
		defer close(p.exited)
		defer outW.Close()
		defer func() {
			if r := recover(); r != nil {
				p.err = fmt.Errorf("worker panicked: %v", r)
			}
		}()
		p.err = s.Run(ctx, threadID, inR, outW)
	}()

	return p, nil
}

type goroutineProcess struct {
	inR    *io.PipeReader
	inW    *io.PipeWriter
	outR   *io.PipeReader
	cancel context.CancelFunc

	err    error
	exited chan struct{}
}

func (p *goroutineProcess) Stdin() io.WriteCloser { return p.inW }
func (p *goroutineProcess) Stdout() io.Reader     { return p.outR }

func (p *goroutineProcess) Wait() error {
	<-p.exited
	p.cancel()
	p.inR.Close()
	return p.err
}

func (p *goroutineProcess) Kill() error {
	p.cancel()
	p.inR.CloseWithError(io.ErrClosedPipe)
	return nil
}
