package journal

import (
	"context"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
)

const writeTimeout = 2 * time.Second

// Logger defines the logging interface for the journal.
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

// Recorder writes every delivery outcome to a Repository. Write failures
// are logged and never reach the delivery worker.
type Recorder struct {
	repo   Repository
	logger Logger
}

// NewRecorder creates a recorder. A nil logger discards log output.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger}
}

// Record implements delivery.Recorder.
func (r *Recorder) Record(ctx context.Context, o delivery.Outcome) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	e := EntryFromOutcome(o)
	if err := r.repo.Create(ctx, &e); err != nil {
		r.logger.Warn("journal write failed", "seq", o.Seq, "result", o.Result, "error", err)
	}
}

// Retain prunes entries older than keep every interval until ctx is
// cancelled. It prunes once immediately. A non-positive keep disables
// pruning and returns at once.
func Retain(ctx context.Context, repo Repository, keep, interval time.Duration, logger Logger) error {
	if keep <= 0 {
		return nil
	}
	if logger == nil {
		logger = noopLogger{}
	}
	if interval <= 0 {
		interval = time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		n, err := repo.Prune(ctx, time.Now().Add(-keep))
		switch {
		case err != nil && ctx.Err() == nil:
			logger.Warn("journal prune failed", "error", err)
		case n > 0:
			logger.Info("journal pruned", "removed", n, "retention", keep.String())
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

var _ delivery.Recorder = (*Recorder)(nil)
