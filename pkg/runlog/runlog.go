// Package runlog stores one row per export run in Postgres.
package runlog

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound = errors.New("run not found")
	// ErrDuplicate is returned when a successful run already holds the idempotency key.
	ErrDuplicate = errors.New("idempotency key already used by a successful run")
)

const Schema = `CREATE TABLE IF NOT EXISTS export_runs (
	run_id          UUID PRIMARY KEY,
	idempotency_key TEXT NOT NULL DEFAULT '',
	environment     TEXT NOT NULL,
	period_from     TEXT NOT NULL,
	period_to       TEXT NOT NULL,
	status          TEXT NOT NULL,
	items           INTEGER NOT NULL DEFAULT 0,
	pages           INTEGER NOT NULL DEFAULT 0,
	object_key      TEXT NOT NULL DEFAULT '',
	error           TEXT NOT NULL DEFAULT '',
	result          JSONB NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS export_runs_idempotency_ok
	ON export_runs(idempotency_key) WHERE idempotency_key <> '' AND status = 'Success'`

type Entry struct {
	RunID          string          `json:"run_id"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Environment    string          `json:"environment"`
	PeriodFrom     string          `json:"period_from"`
	PeriodTo       string          `json:"period_to"`
	Status         string          `json:"status"`
	Items          int             `json:"items"`
	Pages          int             `json:"pages"`
	ObjectKey      string          `json:"object_key,omitempty"`
	Error          string          `json:"error,omitempty"`
	Result         json.RawMessage `json:"result"`
	StartedAt      time.Time       `json:"started_at"`
	FinishedAt     time.Time       `json:"finished_at"`
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(Schema, ";\n") {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Record(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := e.Result
	if len(result) == 0 {
		result = json.RawMessage(`{}`)
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO export_runs(run_id, idempotency_key, environment, period_from, period_to,
		status, items, pages, object_key, error, result, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.RunID, e.IdempotencyKey, e.Environment, e.PeriodFrom, e.PeriodTo,
		e.Status, e.Items, e.Pages, e.ObjectKey, e.Error, []byte(result), e.StartedAt, e.FinishedAt)
	if err != nil {
		if isUniqueViolation(err) && e.IdempotencyKey != "" {
			return ErrDuplicate
		}
		return err
	}
	return nil
}

const selectColumns = `SELECT run_id::text, idempotency_key, environment, period_from, period_to, status,
	items, pages, object_key, error, result, started_at, finished_at FROM export_runs`

// FindSuccessful returns the successful run recorded under an idempotency key.
func (s *Store) FindSuccessful(ctx context.Context, idempotencyKey string) (Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	row := s.pool.QueryRow(ctx, selectColumns+` WHERE idempotency_key=$1 AND status='Success'
		ORDER BY finished_at DESC LIMIT 1`, idempotencyKey)
	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, selectColumns+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var result []byte
	err := row.Scan(&e.RunID, &e.IdempotencyKey, &e.Environment, &e.PeriodFrom, &e.PeriodTo, &e.Status,
		&e.Items, &e.Pages, &e.ObjectKey, &e.Error, &result, &e.StartedAt, &e.FinishedAt)
	if err != nil {
		return Entry{}, err
	}
	e.Result = result
	return e, nil
}

// isUniqueViolation: код 23505, строковая проверка как запасной вариант.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
