package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Status represents the current state of a supervised daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// ErrAlreadyRunning is returned by Start while the daemon is up.
var ErrAlreadyRunning = errors.New("process: already running")

const (
	defaultRestartDelay    = 5 * time.Second
	defaultMaxRestartDelay = 5 * time.Minute
	defaultGracefulTimeout = 10 * time.Second
	defaultProbeInterval   = 30 * time.Second
	defaultProbeTimeout    = 5 * time.Second
	defaultProbeFailures   = 3
	killWaitTimeout        = 5 * time.Second
	maxOutputLineBytes     = 16 * 1024
)

// Config describes a daemon to supervise.
type Config struct {
	// Name labels log lines.
	Name string

	Binary string
	Args   []string

	// RestartOnFailure restarts the daemon after an unexpected exit.
	RestartOnFailure bool

	// RestartDelay is the first delay before a restart. Later delays grow
	// exponentially up to MaxRestartDelay.
	RestartDelay    time.Duration
	MaxRestartDelay time.Duration

	// MaxRestartAttempts bounds consecutive restarts. 0 means unlimited.
	MaxRestartAttempts int

	// StableThreshold is how long the daemon must stay up for the restart
	// counter and delay schedule to reset. 0 disables resetting.
	StableThreshold time.Duration

	// GracefulTimeout is how long Stop waits after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// Probe reports whether the running daemon responds. After
	// ProbeFailures consecutive failures the daemon is killed and handled
	// like a crash. nil disables probing.
	Probe         func(ctx context.Context) error
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	ProbeFailures int

	// OnStart runs after every successful (re)start with the new PID.
	OnStart func(pid int)

	// OnExit runs whenever the daemon exits; err is nil for a requested stop.
	OnExit func(err error)
}

// Logger defines the logging interface for the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager runs one daemon in its own process group, restarts it on
// failure and stops it with SIGTERM followed by SIGKILL.
type Manager struct {
	cfg    Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restarts      int
	lastErr       error
	startedAt     time.Time
	stopRequested bool
	stop          chan struct{}
	done          chan struct{}
}

// NewManager applies defaults to cfg and returns a stopped manager.
func NewManager(cfg Config) *Manager {
	if cfg.Name == "" {
		cfg.Name = cfg.Binary
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = defaultRestartDelay
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = defaultMaxRestartDelay
		if cfg.MaxRestartDelay < cfg.RestartDelay {
			cfg.MaxRestartDelay = cfg.RestartDelay
		}
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = defaultGracefulTimeout
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = defaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = defaultProbeTimeout
	}
	if cfg.ProbeFailures <= 0 {
		cfg.ProbeFailures = defaultProbeFailures
	}

	return &Manager{
		cfg:    cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger. Call before Start.
func (m *Manager) SetLogger(logger Logger) {
	if logger != nil {
		m.logger = logger
	}
}

// Start launches the daemon and supervises it until ctx is cancelled or
// Stop is called. It returns once the first launch succeeded or failed.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, m.cfg.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	m.restarts = 0
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	cmd, err := m.launch(ctx)
	if err != nil {
		m.mu.Lock()
		m.status = StatusFailed
		m.lastErr = err
		m.mu.Unlock()
		close(done)
		return err
	}

	go m.supervise(ctx, cmd, stop, done)
	return nil
}

// launch starts one instance of the daemon.
func (m *Manager) launch(ctx context.Context) (*exec.Cmd, error) {
	cmd := exec.CommandContext(ctx, m.cfg.Binary, m.cfg.Args...) //nolint:gosec // binary comes from validated config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting %s: %w", m.cfg.Name, err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.status = StatusRunning
	m.startedAt = time.Now()
	m.mu.Unlock()

	go m.logLines("stdout", stdout)
	go m.logLines("stderr", stderr)

	pid := cmd.Process.Pid
	m.logger.Info("daemon started", "name", m.cfg.Name, "pid", pid, "args", m.cfg.Args)
	if m.cfg.OnStart != nil {
		m.cfg.OnStart(pid)
	}
	return cmd, nil
}

// logLines forwards daemon output line by line at debug level.
func (m *Manager) logLines(stream string, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxOutputLineBytes)
	for sc.Scan() {
		m.logger.Debug("daemon output", "name", m.cfg.Name, "stream", stream, "line", sc.Text())
	}
}

// newRestartBackOff returns the delay schedule between restarts.
func (m *Manager) newRestartBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.cfg.RestartDelay
	b.MaxInterval = m.cfg.MaxRestartDelay
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()
	return b
}

// supervise waits on the running daemon and restarts it as configured.
func (m *Manager) supervise(ctx context.Context, cmd *exec.Cmd, stop <-chan struct{}, done chan struct{}) {
	defer close(done)

	schedule := m.newRestartBackOff()

	for {
		err := m.watch(ctx, cmd)

		m.mu.Lock()
		stopping := m.stopRequested
		uptime := time.Since(m.startedAt)
		m.mu.Unlock()

		if stopping {
			m.setStatus(StatusStopped, nil)
			m.logger.Info("daemon stopped", "name", m.cfg.Name)
			if m.cfg.OnExit != nil {
				m.cfg.OnExit(nil)
			}
			return
		}
		if ctx.Err() != nil {
			m.setStatus(StatusStopped, ctx.Err())
			if m.cfg.OnExit != nil {
				m.cfg.OnExit(ctx.Err())
			}
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.logger.Warn("daemon exited unexpectedly", "name", m.cfg.Name, "error", err, "uptime", uptime.String())
		m.setStatus(StatusFailed, err)
		if m.cfg.OnExit != nil {
			m.cfg.OnExit(err)
		}

		if !m.cfg.RestartOnFailure {
			return
		}

		m.mu.Lock()
		if m.cfg.StableThreshold > 0 && uptime >= m.cfg.StableThreshold {
			m.restarts = 0
			schedule.Reset()
		}
		m.restarts++
		attempt := m.restarts
		m.mu.Unlock()

		if m.cfg.MaxRestartAttempts > 0 && attempt > m.cfg.MaxRestartAttempts {
			m.logger.Error("daemon restart limit reached", "name", m.cfg.Name, "attempts", attempt-1)
			return
		}

		delay := schedule.NextBackOff()
		m.logger.Info("restarting daemon", "name", m.cfg.Name, "attempt", attempt, "delay", delay.String())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.setStatus(StatusStopped, ctx.Err())
			return
		case <-stop:
			timer.Stop()
			m.setStatus(StatusStopped, nil)
			return
		case <-timer.C:
		}

		// A failed launch is handled like an immediate exit.
		cmd, err = m.launch(ctx)
		if err != nil {
			m.logger.Error("daemon restart failed", "name", m.cfg.Name, "error", err)
			m.setStatus(StatusFailed, err)
		}
	}
}

// watch blocks until cmd exits, ctx is cancelled, or the probe declares
// the daemon hung. A nil cmd stands for a launch that never happened.
func (m *Manager) watch(ctx context.Context, cmd *exec.Cmd) error {
	if cmd == nil {
		m.mu.RLock()
		err := m.lastErr
		m.mu.RUnlock()
		return err
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	if m.cfg.Probe == nil {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		}
	}

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exited:
			return err
		case <-ctx.Done():
			return <-exited
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
			err := m.cfg.Probe(probeCtx)
			cancel()

			if err == nil {
				if failures > 0 {
					m.logger.Info("daemon probe recovered", "name", m.cfg.Name, "previous_failures", failures)
				}
				failures = 0
				continue
			}

			failures++
			m.logger.Warn("daemon probe failed", "name", m.cfg.Name, "error", err, "consecutive_failures", failures)
			if failures < m.cfg.ProbeFailures {
				continue
			}

			m.logger.Error("daemon unresponsive, killing", "name", m.cfg.Name, "failures", failures)
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL) //nolint:errcheck // exit is observed below

			select {
			case <-exited:
			case <-time.After(killWaitTimeout):
			}
			return fmt.Errorf("killed after %d failed probes: %w", failures, err)
		}
	}
}

// Stop sends SIGTERM to the daemon's process group, escalating to SIGKILL
// after the graceful timeout, and waits for supervision to end.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.status != StatusRunning && m.status != StatusStarting && m.status != StatusFailed {
		m.mu.Unlock()
		return nil
	}
	if m.stopRequested {
		done := m.done
		m.mu.Unlock()
		<-done
		return nil
	}
	m.stopRequested = true
	close(m.stop)
	running := m.status == StatusRunning
	cmd := m.cmd
	done := m.done
	m.mu.Unlock()

	if running && cmd != nil && cmd.Process != nil {
		pid := cmd.Process.Pid
		m.logger.Info("stopping daemon", "name", m.cfg.Name, "pid", pid)
		if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			m.logger.Warn("SIGTERM failed", "name", m.cfg.Name, "error", err)
		}

		select {
		case <-done:
			return nil
		case <-time.After(m.cfg.GracefulTimeout):
			m.logger.Warn("graceful stop timed out, sending SIGKILL", "name", m.cfg.Name)
		}

		if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
			return fmt.Errorf("killing %s: %w", m.cfg.Name, err)
		}
	}

	<-done
	return nil
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	m.status = s
	if err != nil {
		m.lastErr = err
	}
	m.mu.Unlock()
}

// Status returns the current status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning reports whether the daemon is up.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// Done is closed when supervision ends. It is nil before the first Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// LastError returns the error behind the most recent exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// PID returns the daemon's process ID, or 0 if it is not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a snapshot of the supervised daemon.
type Stats struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	PID       int           `json:"pid,omitempty"`
	Uptime    time.Duration `json:"uptime,omitempty"`
	Restarts  int           `json:"restarts"`
	LastError string        `json:"last_error,omitempty"`
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Stats{
		Name:     m.cfg.Name,
		Status:   m.status,
		Restarts: m.restarts,
	}
	if m.status == StatusRunning {
		s.Uptime = time.Since(m.startedAt)
		if m.cmd != nil && m.cmd.Process != nil {
			s.PID = m.cmd.Process.Pid
		}
	}
	if m.lastErr != nil {
		s.LastError = m.lastErr.Error()
	}
	return s
}
