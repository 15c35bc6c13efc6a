package journal

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
	"github.com/aungkhantmaw64/gps-tracker/internal/infrastructure/database"
	"github.com/aungkhantmaw64/gps-tracker/migrations"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()

	db, err := database.Open(database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

var base = time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)

func seed(t *testing.T, repo *SQLiteRepository, results ...delivery.Result) {
	t.Helper()
	for i, res := range results {
		e := Entry{
			Seq:        uint64(i + 1),
			Topic:      "/egress/24:0A:C4:12:34:56",
			Size:       70,
			Result:     string(res),
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
			CreatedAt:  base.Add(time.Duration(i)*time.Second + 10*time.Millisecond),
		}
		if res == delivery.ResultFailed {
			e.Error = "publish timed out"
		}
		if err := repo.Create(context.Background(), &e); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}
}

func TestCreateAndList(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	e := Entry{
		Seq:        42,
		Topic:      "/egress/ESP_01",
		Size:       71,
		Result:     string(delivery.ResultFailed),
		Error:      "not connected",
		EnqueuedAt: base,
		CreatedAt:  base.Add(25 * time.Millisecond),
	}
	if err := repo.Create(ctx, &e); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" {
		t.Fatal("Create() did not assign an ID")
	}

	got, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Total != 1 || len(got.Entries) != 1 {
		t.Fatalf("List() total = %d, entries = %d, want 1", got.Total, len(got.Entries))
	}

	stored := got.Entries[0]
	if stored.ID != e.ID || stored.Seq != 42 || stored.Topic != "/egress/ESP_01" || stored.Size != 71 {
		t.Errorf("stored = %+v", stored)
	}
	if stored.Result != "failed" || stored.Error != "not connected" {
		t.Errorf("result = %q, error = %q", stored.Result, stored.Error)
	}
	if !stored.EnqueuedAt.Equal(e.EnqueuedAt) || !stored.CreatedAt.Equal(e.CreatedAt) {
		t.Errorf("times = %v, %v, want %v, %v", stored.EnqueuedAt, stored.CreatedAt, e.EnqueuedAt, e.CreatedAt)
	}
}

func TestCreate_RejectsUnknownResult(t *testing.T) {
	repo := newTestRepo(t)

	for _, result := range []string{"", "lost"} {
		e := Entry{Topic: "/egress/x", Result: result}
		if err := repo.Create(context.Background(), &e); !errors.Is(err, ErrInvalidResult) {
			t.Errorf("Create(result=%q) error = %v, want ErrInvalidResult", result, err)
		}
	}
}

func TestList_Filters(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo,
		delivery.ResultDropped,
		delivery.ResultDropped,
		delivery.ResultPublished,
		delivery.ResultFailed,
		delivery.ResultPublished,
	)

	tests := []struct {
		name      string
		filter    Filter
		wantTotal int
		wantSeqs  []uint64
		wantLimit int
	}{
		{"all newest first", Filter{}, 5, []uint64{5, 4, 3, 2, 1}, defaultLimit},
		{"by result", Filter{Result: "published"}, 2, []uint64{5, 3}, defaultLimit},
		{"paged", Filter{Limit: 2, Offset: 1}, 5, []uint64{4, 3}, 2},
		{"since", Filter{Since: base.Add(3 * time.Second)}, 2, []uint64{5, 4}, defaultLimit},
		{"limit clamped", Filter{Limit: 1000}, 5, []uint64{5, 4, 3, 2, 1}, maxLimit},
		{"negative offset", Filter{Offset: -3, Result: "failed"}, 1, []uint64{4}, defaultLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.List(context.Background(), tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if got.Total != tt.wantTotal {
				t.Errorf("Total = %d, want %d", got.Total, tt.wantTotal)
			}
			if got.Limit != tt.wantLimit {
				t.Errorf("Limit = %d, want %d", got.Limit, tt.wantLimit)
			}
			if len(got.Entries) != len(tt.wantSeqs) {
				t.Fatalf("entries = %d, want %d", len(got.Entries), len(tt.wantSeqs))
			}
			for i, seq := range tt.wantSeqs {
				if got.Entries[i].Seq != seq {
					t.Errorf("entry %d seq = %d, want %d", i, got.Entries[i].Seq, seq)
				}
			}
		})
	}
}

func TestList_InvalidResult(t *testing.T) {
	repo := newTestRepo(t)

	if _, err := repo.List(context.Background(), Filter{Result: "bogus"}); !errors.Is(err, ErrInvalidResult) {
		t.Errorf("List() error = %v, want ErrInvalidResult", err)
	}
}

func TestList_EmptyIsNotNil(t *testing.T) {
	repo := newTestRepo(t)

	got, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if got.Entries == nil {
		t.Error("Entries = nil, want empty slice")
	}
}

func TestSummary(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo,
		delivery.ResultDropped,
		delivery.ResultPublished,
		delivery.ResultPublished,
		delivery.ResultFailed,
	)

	got, err := repo.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	want := Summary{Published: 2, Dropped: 1, Failed: 1, Total: 4}
	if got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
}

func TestPrune(t *testing.T) {
	repo := newTestRepo(t)
	seed(t, repo, delivery.ResultDropped, delivery.ResultDropped, delivery.ResultPublished)

	n, err := repo.Prune(context.Background(), base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Prune() removed %d, want 2", n)
	}

	got, _ := repo.List(context.Background(), Filter{})
	if got.Total != 1 || got.Entries[0].Seq != 3 {
		t.Errorf("remaining = %+v", got.Entries)
	}
}

// ============================================================================
// Recorder
// ============================================================================

type failingRepo struct {
	Repository
}

func (failingRepo) Create(context.Context, *Entry) error {
	return errors.New("disk full")
}

type captureLogger struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *captureLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestRecorder_WritesOutcome(t *testing.T) {
	repo := newTestRepo(t)
	rec := NewRecorder(repo, nil)

	rec.Record(context.Background(), delivery.Outcome{
		Seq:         7,
		Topic:       "/egress/ESP_01",
		Size:        70,
		Result:      delivery.ResultFailed,
		Err:         errors.New("broker refused"),
		EnqueuedAt:  base,
		CompletedAt: base.Add(time.Second),
	})

	got, err := repo.List(context.Background(), Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got.Entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(got.Entries))
	}
	e := got.Entries[0]
	if e.Seq != 7 || e.Result != "failed" || e.Error != "broker refused" {
		t.Errorf("entry = %+v", e)
	}
	if !e.CreatedAt.Equal(base.Add(time.Second)) {
		t.Errorf("CreatedAt = %v, want completion time", e.CreatedAt)
	}
}

func TestRecorder_LogsWriteFailure(t *testing.T) {
	logger := &captureLogger{}
	rec := NewRecorder(failingRepo{}, logger)

	rec.Record(context.Background(), delivery.Outcome{Seq: 1, Result: delivery.ResultDropped})

	if len(logger.warns) != 1 {
		t.Errorf("warnings = %v, want one", logger.warns)
	}
}

// ============================================================================
// Retention
// ============================================================================

type pruneCounter struct {
	Repository
	mu      sync.Mutex
	cutoffs []time.Time
}

func (p *pruneCounter) Prune(_ context.Context, before time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cutoffs = append(p.cutoffs, before)
	return 1, nil
}

func (p *pruneCounter) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.cutoffs)
}

func TestRetain(t *testing.T) {
	repo := &pruneCounter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	start := time.Now()
	go func() { done <- Retain(ctx, repo, 24*time.Hour, 10*time.Millisecond, nil) }()

	deadline := time.Now().Add(2 * time.Second)
	for repo.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Retain() error = %v", err)
	}
	if repo.count() < 3 {
		t.Fatalf("prunes = %d, want at least 3", repo.count())
	}

	repo.mu.Lock()
	first := repo.cutoffs[0]
	repo.mu.Unlock()
	if first.After(start.Add(-24 * time.Hour).Add(time.Second)) {
		t.Errorf("cutoff = %v, want about 24h before %v", first, start)
	}
}

func TestRetain_Disabled(t *testing.T) {
	repo := &pruneCounter{}

	if err := Retain(context.Background(), repo, 0, time.Millisecond, nil); err != nil {
		t.Errorf("Retain() error = %v", err)
	}
	if repo.count() != 0 {
		t.Errorf("prunes = %d, want 0", repo.count())
	}
}
