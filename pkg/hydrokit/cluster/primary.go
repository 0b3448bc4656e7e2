package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/randalmurphal/hydrokit/pkg/hydrokit"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/config"
	hkerrors "github.com/randalmurphal/hydrokit/pkg/hydrokit/errors"
	"github.com/randalmurphal/hydrokit/pkg/hydrokit/taskqueue"
)

// Environment passed to worker processes.
const (
	EnvWorkerID  = "HYDRO_WORKER_ID"
	EnvPoolSize  = "HYDRO_POOL_SIZE"
	EnvQueuePath = "HYDRO_QUEUE_PATH"
	EnvListenFD  = "HYDRO_LISTEN_FD"
)

// listenFD is the descriptor of the inherited listener: the first entry of
// ExtraFiles after stdin, stdout and stderr.
const listenFD = 3

// DefaultStopTimeout bounds how long stopping workers may take before they
// are killed.
const DefaultStopTimeout = 10 * time.Second

// Primary expands packages once, binds the listening socket and keeps a
// pool of worker processes running on it.
type Primary struct {
	Settings config.Settings
	Env      config.Env
	Logger   *slog.Logger

	// Executable is re-executed for every worker. Defaults to os.Executable().
	Executable string

	// Args are passed to every worker. Defaults to ["worker"].
	Args []string

	// Restart paces restarts of a worker that exited on its own.
	Restart hkerrors.RetryConfig

	// StopTimeout bounds shutdown before workers are killed.
	StopTimeout time.Duration

	// Watch restarts the pool when a package root changes. It is set for
	// the development environment.
	Watch bool

	// OnExit is called after every worker exit, for diagnostics.
	OnExit func(id int, err error)

	mu       sync.Mutex
	procs    map[int]*exec.Cmd
	reloads  map[int]bool
	listener *os.File
}

func (p *Primary) defaults() error {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cluster: locate executable: %w", err)
		}
		p.Executable = exe
	}
	if p.Args == nil {
		p.Args = []string{"worker"}
	}
	if p.Restart.InitialBackoff == 0 {
		p.Restart = hkerrors.RestartBackoff
	}
	if p.StopTimeout == 0 {
		p.StopTimeout = DefaultStopTimeout
	}
	p.procs = make(map[int]*exec.Cmd)
	p.reloads = make(map[int]bool)
	return nil
}

// PoolSize returns the configured number of workers, one per CPU when unset.
func (p *Primary) PoolSize() int {
	if p.Settings.Workers > 0 {
		return p.Settings.Workers
	}
	return runtime.NumCPU()
}

// Run expands packages, starts the pool and supervises it until ctx ends.
// On return every worker has exited.
func (p *Primary) Run(ctx context.Context) error {
	if err := p.defaults(); err != nil {
		return err
	}

	if _, err := hydrokit.Expand(ctx, p.Settings, p.Logger); err != nil {
		return err
	}
	if err := p.prepareQueue(); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", p.Settings.Listen)
	if err != nil {
		return fmt.Errorf("cluster: listen %s: %w", p.Settings.Listen, err)
	}
	file, err := ln.(*net.TCPListener).File()
	ln.Close()
	if err != nil {
		return fmt.Errorf("cluster: listener file: %w", err)
	}
	p.listener = file
	defer file.Close()

	size := p.PoolSize()
	p.Logger.Info("primary started",
		"listen", p.Settings.Listen,
		"workers", size,
		"pid", os.Getpid())

	if p.Watch {
		w, err := newWatcher(p.Settings.PackageRoots, p.Logger, func() {
			p.reload(ctx)
		})
		if err != nil {
			p.Logger.Warn("package watch disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	var wg sync.WaitGroup
	for id := 0; id < size; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.supervise(ctx, id, size)
		}(id)
	}

	<-ctx.Done()
	p.stopAll()
	wg.Wait()
	p.Logger.Info("primary stopped")
	return nil
}

// prepareQueue creates the queue database before workers contend for it.
func (p *Primary) prepareQueue() error {
	if p.Settings.QueuePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.Settings.QueuePath), 0o755); err != nil {
		return fmt.Errorf("cluster: create queue dir: %w", err)
	}
	q, err := taskqueue.NewSQLiteQueue(p.Settings.QueuePath)
	if err != nil {
		return fmt.Errorf("cluster: open queue: %w", err)
	}
	return q.Close()
}

// supervise keeps worker id running until ctx ends. A worker that exits on
// its own is restarted with the same id after a growing delay; one stopped
// for a reload is restarted at once.
func (p *Primary) supervise(ctx context.Context, id, size int) {
	attempt := 0
	for {
		started := time.Now()
		err := p.runWorker(ctx, id, size)
		if p.OnExit != nil {
			p.OnExit(id, err)
		}
		if ctx.Err() != nil {
			return
		}

		if p.takeReload(id) {
			attempt = 0
			continue
		}
		p.Logger.Warn("worker exited", "worker_id", id, "error", err)

		// A worker that ran for a while starts over with the shortest delay.
		if time.Since(started) > p.Restart.MaxBackoff {
			attempt = 0
		}
		delay := p.Restart.Delay(attempt)
		attempt++
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (p *Primary) command(id, size int) *exec.Cmd {
	cmd := exec.Command(p.Executable, p.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{p.listener}
	cmd.Env = append(os.Environ(),
		EnvWorkerID+"="+strconv.Itoa(id),
		EnvPoolSize+"="+strconv.Itoa(size),
		EnvQueuePath+"="+p.Settings.QueuePath,
		EnvListenFD+"="+strconv.Itoa(listenFD),
		"HYDRO_SCRATCH_DIR="+p.Settings.ScratchDir,
	)
	if p.Env.Environment != "" {
		cmd.Env = append(cmd.Env, "HYDRO_ENV="+p.Env.Environment)
	}
	return cmd
}

func (p *Primary) runWorker(ctx context.Context, id, size int) error {
	cmd := p.command(id, size)

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return ctx.Err()
	}
	if err := cmd.Start(); err != nil {
		p.mu.Unlock()
		return fmt.Errorf("cluster: start worker %d: %w", id, err)
	}
	p.procs[id] = cmd
	p.mu.Unlock()

	p.Logger.Info("worker online", "worker_id", id, "pid", cmd.Process.Pid)
	err := cmd.Wait()

	p.mu.Lock()
	delete(p.procs, id)
	p.mu.Unlock()
	return err
}

func (p *Primary) takeReload(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := p.reloads[id]
	delete(p.reloads, id)
	return r
}

// reload re-expands packages and asks every worker to exit so it restarts
// on the new tree.
func (p *Primary) reload(ctx context.Context) {
	if _, err := hydrokit.Expand(ctx, p.Settings, p.Logger); err != nil {
		p.Logger.Error("re-expand packages", "error", err)
		return
	}
	p.Logger.Info("packages changed, restarting workers")

	p.mu.Lock()
	defer p.mu.Unlock()
	for id, cmd := range p.procs {
		p.reloads[id] = true
		_ = cmd.Process.Signal(syscall.SIGTERM)
	}
}

// stopAll forwards SIGTERM to every worker and kills the ones still
// running after StopTimeout.
func (p *Primary) stopAll() {
	p.mu.Lock()
	procs := make([]*exec.Cmd, 0, len(p.procs))
	for _, cmd := range p.procs {
		procs = append(procs, cmd)
	}
	p.mu.Unlock()

	for _, cmd := range procs {
		if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.Logger.Warn("signal worker", "pid", cmd.Process.Pid, "error", err)
		}
	}

	deadline := time.Now().Add(p.StopTimeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		n := len(p.procs)
		p.mu.Unlock()
		if n == 0 {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cmd := range p.procs {
		_ = cmd.Process.Kill()
	}
}
