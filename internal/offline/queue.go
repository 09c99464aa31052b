package offline

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/septivank/water-billing/internal/apperr"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Kind names the write an entry replays
type Kind string

const (
	KindReadingInsert Kind = "meter_reading.insert"
	KindReadingUpdate Kind = "meter_reading.update"
	KindReadingDelete Kind = "meter_reading.delete"
	KindHouseCreate   Kind = "house.create"
	KindHouseUpdate   Kind = "house.update"
	KindHouseDelete   Kind = "house.delete"
	KindRateSet       Kind = "water_rate.set"
)

// State of a queue entry
type State string

const (
	StatePending State = "pending"
	StateSynced  State = "synced"
	StateDead    State = "dead"
)

// Entry is one deferred write
type Entry struct {
	ID         uuid.UUID       `json:"id"`
	Seq        int64           `json:"seq"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	State      State           `json:"state"`
	Attempts   int             `json:"attempts"`
	LastError  string          `json:"last_error,omitempty"`
	SyncedAt   *time.Time      `json:"synced_at,omitempty"`
}

// Stats counts entries per state
type Stats struct {
	Pending int `json:"pending"`
	Synced  int `json:"synced"`
	Dead    int `json:"dead"`
}

// Queue is the durable local store for writes made while the database is
// unreachable. All access goes through one mutex and one SQLite connection.
type Queue struct {
	mu  sync.Mutex
	db  *sql.DB
	now func() time.Time
}

// Open creates or opens the queue database at path
func Open(path string) (*Queue, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperr.Storage("failed to open offline queue", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, apperr.Storage("failed to open offline queue", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, apperr.Storage("failed to configure offline queue", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, apperr.Storage("failed to apply offline queue schema", err)
	}

	return &Queue{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.db == nil {
		return nil
	}
	err := q.db.Close()
	q.db = nil
	return err
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Enqueue stores a write for later replay and returns its id
func (q *Queue) Enqueue(ctx context.Context, kind Kind, payload any) (uuid.UUID, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, apperr.Storage("failed to encode offline entry", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	id := uuid.New()
	_, err = q.db.ExecContext(ctx, `
		INSERT INTO entries (id, kind, payload, enqueued_at, state)
		VALUES (?, ?, ?, ?, ?)
	`, id.String(), string(kind), string(body), q.now().UnixNano(), string(StatePending))
	if err != nil {
		return uuid.Nil, apperr.Storage("failed to enqueue offline entry", err)
	}
	return id, nil
}

// ListUnsynced returns pending entries in the order they were enqueued
func (q *Queue) ListUnsynced(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, StatePending)
}

// ListDead returns dead-lettered entries
func (q *Queue) ListDead(ctx context.Context) ([]Entry, error) {
	return q.list(ctx, StateDead)
}

// Get returns one entry
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	row := q.db.QueryRowContext(ctx, `
		SELECT seq, id, kind, payload, enqueued_at, state, attempts, last_error, synced_at
		FROM entries WHERE id = ?
	`, id.String())
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, apperr.NotFound("offline entry", id.String())
	}
	if err != nil {
		return Entry{}, apperr.Storage("failed to read offline entry", err)
	}
	return e, nil
}

func (q *Queue) list(ctx context.Context, state State) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx, `
		SELECT seq, id, kind, payload, enqueued_at, state, attempts, last_error, synced_at
		FROM entries
		WHERE state = ?
		ORDER BY enqueued_at ASC, seq ASC
	`, string(state))
	if err != nil {
		return nil, apperr.Storage("failed to list offline entries", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, apperr.Storage("failed to read offline entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("failed to list offline entries", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e          Entry
		id         string
		kind       string
		payload    string
		state      string
		enqueuedAt int64
		syncedAt   sql.NullInt64
	)
	if err := row.Scan(&e.Seq, &id, &kind, &payload, &enqueuedAt, &state, &e.Attempts, &e.LastError, &syncedAt); err != nil {
		return Entry{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Entry{}, fmt.Errorf("invalid entry id %q: %w", id, err)
	}
	e.ID = parsed
	e.Kind = Kind(kind)
	e.Payload = json.RawMessage(payload)
	e.State = State(state)
	e.EnqueuedAt = time.Unix(0, enqueuedAt).UTC()
	if syncedAt.Valid {
		t := time.Unix(0, syncedAt.Int64).UTC()
		e.SyncedAt = &t
	}
	return e, nil
}

// MarkSynced marks an entry as replayed. Unknown ids are ignored.
func (q *Queue) MarkSynced(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `
		UPDATE entries
		SET state = ?, synced_at = ?, last_error = ''
		WHERE id = ? AND state != ?
	`, string(StateSynced), q.now().UnixNano(), id.String(), string(StateSynced))
	if err != nil {
		return apperr.Storage("failed to mark offline entry synced", err)
	}
	return nil
}

// MarkFailed records a failed replay attempt. Once attempts reaches
// maxAttempts the entry is dead-lettered; 0 retries forever.
// It reports whether the entry was dead-lettered.
func (q *Queue) MarkFailed(ctx context.Context, id uuid.UUID, cause error, maxAttempts int) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperr.Storage("failed to record offline failure", err)
	}
	defer tx.Rollback()

	var attempts int
	err = tx.QueryRowContext(ctx, `SELECT attempts FROM entries WHERE id = ? AND state = ?`,
		id.String(), string(StatePending)).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("failed to record offline failure", err)
	}

	attempts++
	state := StatePending
	if maxAttempts > 0 && attempts >= maxAttempts {
		state = StateDead
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE entries SET attempts = ?, last_error = ?, state = ? WHERE id = ?
	`, attempts, errorText(cause), string(state), id.String()); err != nil {
		return false, apperr.Storage("failed to record offline failure", err)
	}
	if err := tx.Commit(); err != nil {
		return false, apperr.Storage("failed to record offline failure", err)
	}
	return state == StateDead, nil
}

// MarkDead dead-letters an entry that can never succeed
func (q *Queue) MarkDead(ctx context.Context, id uuid.UUID, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	_, err := q.db.ExecContext(ctx, `
		UPDATE entries SET state = ?, attempts = attempts + 1, last_error = ?
		WHERE id = ? AND state = ?
	`, string(StateDead), errorText(cause), id.String(), string(StatePending))
	if err != nil {
		return apperr.Storage("failed to dead-letter offline entry", err)
	}
	return nil
}

// Requeue moves a dead entry back to pending with a fresh attempt count
func (q *Queue) Requeue(ctx context.Context, id uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	res, err := q.db.ExecContext(ctx, `
		UPDATE entries SET state = ?, attempts = 0, last_error = ''
		WHERE id = ? AND state = ?
	`, string(StatePending), id.String(), string(StateDead))
	if err != nil {
		return apperr.Storage("failed to requeue offline entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage("failed to requeue offline entry", err)
	}
	if n == 0 {
		return apperr.NotFound("dead offline entry", id.String())
	}
	return nil
}

// Stats counts entries per state
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	rows, err := q.db.QueryContext(ctx, `SELECT state, count(*) FROM entries GROUP BY state`)
	if err != nil {
		return Stats{}, apperr.Storage("failed to count offline entries", err)
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var state string
		var count int
		if err := rows.Scan(&state, &count); err != nil {
			return Stats{}, apperr.Storage("failed to count offline entries", err)
		}
		switch State(state) {
		case StatePending:
			stats.Pending = count
		case StateSynced:
			stats.Synced = count
		case StateDead:
			stats.Dead = count
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, apperr.Storage("failed to count offline entries", err)
	}
	return stats, nil
}

// PutCache stores value as JSON under key
func (q *Queue) PutCache(ctx context.Context, key string, value any) error {
	body, err := json.Marshal(value)
	if err != nil {
		return apperr.Storage("failed to encode cached value", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	_, err = q.db.ExecContext(ctx, `
		INSERT INTO cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(body), q.now().UnixNano())
	if err != nil {
		return apperr.Storage("failed to write cache", err)
	}
	return nil
}

// GetCache decodes the value under key into dst. It reports false when the
// key is absent.
func (q *Queue) GetCache(ctx context.Context, key string, dst any) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var body string
	err := q.db.QueryRowContext(ctx, `SELECT value FROM cache WHERE key = ?`, key).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Storage("failed to read cache", err)
	}
	if err := json.Unmarshal([]byte(body), dst); err != nil {
		return false, apperr.Storage("failed to decode cached value", err)
	}
	return true, nil
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
