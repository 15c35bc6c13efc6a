package wpa

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/process"
)

const (
	readyTimeout      = 10 * time.Second
	readyPollInterval = 200 * time.Millisecond
	probeInterval     = 30 * time.Second
)

// interfacePattern matches Linux network interface names.
var interfacePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

// Logger defines the logging interface for the package.
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

// DaemonConfig describes how wpa_supplicant is run.
type DaemonConfig struct {
	// Managed runs wpa_supplicant as a child process. When false an
	// already running supplicant is only checked for reachability.
	Managed bool

	Binary     string
	Interface  string
	ConfigPath string
	Driver     string

	RestartOnFailure   bool
	RestartDelay       time.Duration
	MaxRestartAttempts int
}

// Validate checks the daemon configuration.
func (c DaemonConfig) Validate() error {
	var errs []error
	if err := validateInterface(c.Interface); err != nil {
		errs = append(errs, err)
	}
	if c.Managed {
		if !filepath.IsAbs(c.Binary) {
			errs = append(errs, fmt.Errorf("binary must be an absolute path: %q", c.Binary))
		}
		if c.ConfigPath != "" && !filepath.IsAbs(c.ConfigPath) {
			errs = append(errs, fmt.Errorf("config path must be absolute: %q", c.ConfigPath))
		}
		if c.Driver != "" && !interfacePattern.MatchString(c.Driver) {
			errs = append(errs, fmt.Errorf("invalid driver name: %q", c.Driver))
		}
	}
	return errors.Join(errs...)
}

// BuildArgs returns the wpa_supplicant command line. The daemon runs in
// the foreground so the supervisor observes its exit.
func (c DaemonConfig) BuildArgs() []string {
	args := []string{"-i", c.Interface}
	if c.Driver != "" {
		args = append(args, "-D", c.Driver)
	}
	if c.ConfigPath != "" {
		args = append(args, "-c", c.ConfigPath)
	}
	return args
}

func validateInterface(name string) error {
	if !interfacePattern.MatchString(name) {
		return fmt.Errorf("invalid interface name: %q", name)
	}
	return nil
}

// Supplicant runs (or attaches to) wpa_supplicant and keeps it alive.
type Supplicant struct {
	cfg     DaemonConfig
	runner  Runner
	logger  Logger
	process *process.Manager
}

// NewSupplicant validates cfg. runner is used for readiness and liveness
// checks.
func NewSupplicant(cfg DaemonConfig, runner Runner) (*Supplicant, error) {
	if cfg.Binary == "" {
		cfg.Binary = "/usr/sbin/wpa_supplicant"
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid supplicant config: %w", err)
	}
	if runner == nil {
		return nil, errors.New("wpa: runner is required")
	}
	return &Supplicant{cfg: cfg, runner: runner, logger: noopLogger{}}, nil
}

// SetLogger sets the logger. Call before Start.
func (s *Supplicant) SetLogger(logger Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// Start launches wpa_supplicant when managed and blocks until its control
// interface answers.
func (s *Supplicant) Start(ctx context.Context) error {
	if !s.cfg.Managed {
		s.logger.Info("wpa_supplicant management disabled, expecting external supplicant")
		return s.waitForReady(ctx)
	}

	args := s.cfg.BuildArgs()
	s.logger.Info("starting wpa_supplicant", "binary", s.cfg.Binary, "args", args)

	s.process = process.NewManager(process.Config{
		Name:               "wpa_supplicant",
		Binary:             s.cfg.Binary,
		Args:               args,
		RestartOnFailure:   s.cfg.RestartOnFailure,
		RestartDelay:       s.cfg.RestartDelay,
		MaxRestartAttempts: s.cfg.MaxRestartAttempts,
		StableThreshold:    2 * time.Minute,
		Probe:              s.Ping,
		ProbeInterval:      probeInterval,
		OnStart: func(pid int) {
			s.logger.Info("wpa_supplicant process started", "pid", pid)
		},
		OnExit: func(err error) {
			if err != nil {
				s.logger.Warn("wpa_supplicant process stopped", "error", err)
			}
		},
	})
	s.process.SetLogger(s.logger)

	if err := s.process.Start(ctx); err != nil {
		return fmt.Errorf("starting wpa_supplicant: %w", err)
	}

	if err := s.waitForReady(ctx); err != nil {
		if stopErr := s.process.Stop(); stopErr != nil {
			s.logger.Warn("error stopping wpa_supplicant after failed readiness check", "error", stopErr)
		}
		return fmt.Errorf("wpa_supplicant failed to become ready: %w", err)
	}

	s.logger.Info("wpa_supplicant ready", "interface", s.cfg.Interface)
	return nil
}

// waitForReady polls ping until the control interface answers.
func (s *Supplicant) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)

	for {
		pingErr := s.Ping(ctx)
		if pingErr == nil {
			return nil
		}

		if s.process != nil && !s.process.IsRunning() {
			if err := s.process.LastError(); err != nil {
				return fmt.Errorf("wpa_supplicant exited: %w", err)
			}
			return errors.New("wpa_supplicant exited unexpectedly")
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout after %v: %w", readyTimeout, pingErr)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(readyPollInterval):
		}
	}
}

// Ping checks that the control interface answers PONG.
func (s *Supplicant) Ping(ctx context.Context) error {
	reply, err := s.runner.Run(ctx, "ping")
	if err != nil {
		return err
	}
	if reply != "PONG" {
		return fmt.Errorf("%w: ping answered %q", ErrUnexpectedReply, reply)
	}
	return nil
}

// Stop stops a managed wpa_supplicant.
func (s *Supplicant) Stop() error {
	if !s.cfg.Managed || s.process == nil {
		return nil
	}
	s.logger.Info("stopping wpa_supplicant")
	return s.process.Stop()
}

// IsManaged reports whether the tracker runs wpa_supplicant itself.
func (s *Supplicant) IsManaged() bool {
	return s.cfg.Managed
}

// Stats returns daemon statistics. An unmanaged supplicant reports a
// zero value apart from its name.
func (s *Supplicant) Stats() process.Stats {
	if s.process == nil {
		return process.Stats{Name: "wpa_supplicant", Status: process.StatusStopped}
	}
	return s.process.Stats()
}
