package db

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const journalLogPrefix = "db:journal"

// Failure is one dispatch that did not complete.
type Failure struct {
	ID           int64     `json:"id"`
	ConnectionID string    `json:"connectionId"`
	EventType    string    `json:"eventType"`
	RequestID    string    `json:"requestId,omitempty"`
	Code         string    `json:"code"`
	Filter       string    `json:"filter,omitempty"`
	Message      string    `json:"message"`
	Payload      []byte    `json:"-"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// FailureJournal records dispatch failures for later inspection.
type FailureJournal interface {
	Record(ctx context.Context, f *Failure) error
	ListRecent(ctx context.Context, limit int) ([]Failure, error)
}

// NoOpJournal discards every failure.
type NoOpJournal struct{}

func (NoOpJournal) Record(context.Context, *Failure) error { return nil }

func (NoOpJournal) ListRecent(context.Context, int) ([]Failure, error) { return nil, nil }

// MemoryJournal keeps the most recent failures in memory.
type MemoryJournal struct {
	mu       sync.Mutex
	failures []Failure
	next     int64
	capacity int
}

// NewMemoryJournal creates a MemoryJournal holding at most capacity entries.
func NewMemoryJournal(capacity int) *MemoryJournal {
	if capacity <= 0 {
		capacity = 256
	}
	return &MemoryJournal{capacity: capacity}
}

func (j *MemoryJournal) Record(_ context.Context, f *Failure) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.next++
	entry := *f
	entry.ID = j.next
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = time.Now().UTC()
	}
	j.failures = append(j.failures, entry)
	if over := len(j.failures) - j.capacity; over > 0 {
		j.failures = append(j.failures[:0:0], j.failures[over:]...)
	}
	return nil
}

// ListRecent returns up to limit failures, newest first.
func (j *MemoryJournal) ListRecent(_ context.Context, limit int) ([]Failure, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 || limit > len(j.failures) {
		limit = len(j.failures)
	}
	out := make([]Failure, 0, limit)
	for i := len(j.failures) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.failures[i])
	}
	return out, nil
}

// PostgresJournal stores failures in the dispatch_failures table.
type PostgresJournal struct {
	pool *pgxpool.Pool
}

// NewPostgresJournal creates a PostgresJournal over pool.
func NewPostgresJournal(pool *pgxpool.Pool) *PostgresJournal {
	return &PostgresJournal{pool: pool}
}

func (j *PostgresJournal) Record(ctx context.Context, f *Failure) error {
	occurred := f.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	err := j.pool.QueryRow(ctx,
		`INSERT INTO dispatch_failures
		   (connection_id, event_type, request_id, code, filter, message, payload, occurred_at)
		 VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $8)
		 RETURNING id`,
		f.ConnectionID, f.EventType, f.RequestID, f.Code, f.Filter, f.Message, f.Payload, occurred).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("%s - insert failure: %w", journalLogPrefix, err)
	}
	f.OccurredAt = occurred
	slog.Debug(fmt.Sprintf("%s - Recorded failure id=%d code=%s", journalLogPrefix, f.ID, f.Code))
	return nil
}

// ListRecent returns up to limit failures, newest first.
func (j *PostgresJournal) ListRecent(ctx context.Context, limit int) ([]Failure, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.pool.Query(ctx,
		`SELECT id, connection_id, event_type, COALESCE(request_id, ''), code,
		        COALESCE(filter, ''), message, payload, occurred_at
		 FROM dispatch_failures
		 ORDER BY occurred_at DESC, id DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("%s - list failures: %w", journalLogPrefix, err)
	}
	defer rows.Close()

	var out []Failure
	for rows.Next() {
		var f Failure
		if err := rows.Scan(&f.ID, &f.ConnectionID, &f.EventType, &f.RequestID, &f.Code,
			&f.Filter, &f.Message, &f.Payload, &f.OccurredAt); err != nil {
			return nil, fmt.Errorf("%s - scan failure: %w", journalLogPrefix, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
