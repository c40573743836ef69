package vod

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/onnwee/chatlens/db"
)

// SQLJobStore persists job records in the jobs table of a migrated database.
type SQLJobStore struct {
	db      *sql.DB
	dialect db.Dialect
}

// NewSQLJobStore wraps an open, migrated database.
func NewSQLJobStore(database *sql.DB, dialect db.Dialect) *SQLJobStore {
	return &SQLJobStore{db: database, dialect: dialect}
}

const jobColumns = `id, kind, broadcast_id, state, input, result, error, error_kind, attempt, created_at, updated_at`

func (s *SQLJobStore) q(query string) string { return db.Rebind(s.dialect, query) }

func (s *SQLJobStore) Create(ctx context.Context, rec *JobRecord) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, string(rec.Kind), rec.BroadcastID, string(rec.State),
		string(rec.Input), string(rec.Result), rec.Error, rec.ErrorKind, rec.Attempt,
		rec.CreatedAt.UnixMilli(), rec.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", rec.ID, err)
	}
	return nil
}

func (s *SQLJobStore) Get(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`), id)
	rec, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return rec, err
}

func (s *SQLJobStore) Transition(ctx context.Context, id string, from, to State, u Update) error {
	query := `UPDATE jobs SET state = ?, error = ?, error_kind = ?, updated_at = ? WHERE id = ? AND state = ?`
	args := []any{string(to), u.Error, u.ErrorKind, u.At.UnixMilli(), id, string(from)}
	if u.Result != nil {
		query = `UPDATE jobs SET state = ?, error = ?, error_kind = ?, updated_at = ?, result = ? WHERE id = ? AND state = ?`
		args = []any{string(to), u.Error, u.ErrorKind, u.At.UnixMilli(), string(u.Result), id, string(from)}
	}
	res, err := s.db.ExecContext(ctx, s.q(query), args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

func (s *SQLJobStore) ListByState(ctx context.Context, states ...State) ([]*JobRecord, error) {
	if len(states) == 0 {
		return nil, nil
	}
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(states)), ", ")
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+jobColumns+` FROM jobs WHERE state IN (`+placeholders+`) ORDER BY created_at, id`), args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var out []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLJobStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM jobs WHERE state IN (?, ?) AND updated_at < ?`),
		string(StateSucceeded), string(StateFailed), before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(r rowScanner) (*JobRecord, error) {
	var (
		rec                  JobRecord
		kind, state          string
		input, result        string
		createdAt, updatedAt int64
	)
	if err := r.Scan(&rec.ID, &kind, &rec.BroadcastID, &state, &input, &result,
		&rec.Error, &rec.ErrorKind, &rec.Attempt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	rec.Kind = JobKind(kind)
	rec.State = State(state)
	if input != "" {
		rec.Input = []byte(input)
	}
	if result != "" {
		rec.Result = []byte(result)
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &rec, nil
}
