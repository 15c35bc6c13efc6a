// Package journal keeps a SQLite record of what happened to every message
// taken off the delivery queue.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aungkhantmaw64/gps-tracker/internal/delivery"
)

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed width so stored timestamps sort as text.
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00"
)

// ErrInvalidResult is returned when a filter names an unknown result.
var ErrInvalidResult = errors.New("journal: invalid result filter")

// Entry is one journalled delivery outcome.
type Entry struct {
	ID         string    `json:"id"`
	Seq        uint64    `json:"seq"`
	Topic      string    `json:"topic"`
	Size       int       `json:"size"`
	Result     string    `json:"result"`
	Error      string    `json:"error,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// EntryFromOutcome converts a worker outcome into a journal entry.
func EntryFromOutcome(o delivery.Outcome) Entry {
	e := Entry{
		Seq:        o.Seq,
		Topic:      o.Topic,
		Size:       o.Size,
		Result:     string(o.Result),
		EnqueuedAt: o.EnqueuedAt,
		CreatedAt:  o.CompletedAt,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	return e
}

// Filter controls which entries List returns.
type Filter struct {
	Result string    // optional: published, dropped or failed
	Since  time.Time // optional: only entries created at or after Since
	Limit  int       // default 50, max 200
	Offset int       // pagination offset
}

// ListResult contains a page of entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Summary counts journalled outcomes by result.
type Summary struct {
	Published int `json:"published"`
	Dropped   int `json:"dropped"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// Repository defines the journal operations.
type Repository interface {
	Create(ctx context.Context, e *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
	Summary(ctx context.Context) (Summary, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// SQLiteRepository stores the journal in the delivery_journal table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository over an open, migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Create inserts an entry. ID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, e *Entry) error {
	if e.Result == "" {
		return fmt.Errorf("%w: result is required", ErrInvalidResult)
	}
	if err := validResult(e.Result); err != nil {
		return err
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO delivery_journal (id, seq, topic, size, result, error, enqueued_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, int64(e.Seq), e.Topic, e.Size, e.Result, //nolint:gosec // sequence numbers stay far below 2^63
		nullableString(e.Error),
		formatTime(e.EnqueuedAt), formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if err := validResult(filter.Result); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, filter.Result)
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, formatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM delivery_journal " + where
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, seq, topic, size, result, error, enqueued_at, created_at FROM delivery_journal " +
		where + " ORDER BY created_at DESC, seq DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var e Entry
	var seq int64
	var errText sql.NullString
	var enqueuedAt, createdAt string

	if err := rows.Scan(&e.ID, &seq, &e.Topic, &e.Size, &e.Result, &errText, &enqueuedAt, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}
	e.Seq = uint64(seq) //nolint:gosec // stored from a uint64
	e.Error = errText.String

	var err error
	if e.EnqueuedAt, err = time.Parse(timeLayout, enqueuedAt); err != nil {
		return Entry{}, fmt.Errorf("parsing enqueued_at %q: %w", enqueuedAt, err)
	}
	if e.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return Entry{}, fmt.Errorf("parsing created_at %q: %w", createdAt, err)
	}
	return e, nil
}

// Summary counts all entries by result.
func (r *SQLiteRepository) Summary(ctx context.Context) (Summary, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT result, COUNT(*) FROM delivery_journal GROUP BY result")
	if err != nil {
		return Summary{}, fmt.Errorf("summarising journal: %w", err)
	}
	defer rows.Close()

	var s Summary
	for rows.Next() {
		var result string
		var n int
		if err := rows.Scan(&result, &n); err != nil {
			return Summary{}, fmt.Errorf("scanning journal summary: %w", err)
		}
		switch delivery.Result(result) {
		case delivery.ResultPublished:
			s.Published = n
		case delivery.ResultDropped:
			s.Dropped = n
		case delivery.ResultFailed:
			s.Failed = n
		}
		s.Total += n
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterating journal summary: %w", err)
	}
	return s, nil
}

// Prune deletes entries created before the cutoff and reports how many
// were removed.
func (r *SQLiteRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM delivery_journal WHERE created_at < ?", formatTime(before))
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("pruning journal: %w", err)
	}
	return n, nil
}

func validResult(result string) error {
	switch delivery.Result(result) {
	case "", delivery.ResultPublished, delivery.ResultDropped, delivery.ResultFailed:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidResult, result)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullableString maps an empty string to NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Repository = (*SQLiteRepository)(nil)
