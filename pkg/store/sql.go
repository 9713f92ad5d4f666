package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const schema = `CREATE TABLE IF NOT EXISTS nis_records (
    key        TEXT PRIMARY KEY,
    kind       TEXT NOT NULL,
    payload    JSONB NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS nis_records_kind_idx ON nis_records (kind)`

// SQLStore keeps records in the PostgreSQL table nis_records.
type SQLStore struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db, now: time.Now}
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	s := NewSQLStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate creates the records table if needed.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to migrate nis_records: %w", err)
	}

	return nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	var r Record

	err := s.db.GetContext(ctx, &r,
		`SELECT key, kind, payload, updated_at FROM nis_records WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", key, err)
	}

	return &r, nil
}

func (s *SQLStore) Put(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}

	rec.UpdatedAt = s.now().UTC()

	_, err := s.db.NamedExecContext(ctx, `INSERT INTO nis_records (key, kind, payload, updated_at)
        VALUES (:key, :kind, :payload, :updated_at)
        ON CONFLICT (key) DO UPDATE SET kind = EXCLUDED.kind, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`, rec)
	if err != nil {
		return fmt.Errorf("failed to put record %s: %w", rec.Key, err)
	}

	return nil
}

func (s *SQLStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM nis_records WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}

	return nil
}

func (s *SQLStore) Query(ctx context.Context, p Predicate) ([]Record, error) {
	query, args := buildQuery(p)

	out := make([]Record, 0)
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	return out, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func buildQuery(p Predicate) (string, []any) {
	var (
		where []string
		args  []any
	)

	if len(p.Kinds) > 0 {
		args = append(args, pq.Array(p.Kinds))
		where = append(where, fmt.Sprintf("kind = ANY($%d)", len(args)))
	}

	if p.KeyPrefix != "" {
		args = append(args, likeEscape(p.KeyPrefix)+"%")
		where = append(where, fmt.Sprintf("key LIKE $%d", len(args)))
	}

	if !p.UpdatedAfter.IsZero() {
		args = append(args, p.UpdatedAfter)
		where = append(where, fmt.Sprintf("updated_at > $%d", len(args)))
	}

	q := `SELECT key, kind, payload, updated_at FROM nis_records`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}

	return q + " ORDER BY key", args
}

var likeReplacer = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likeEscape(s string) string {
	return likeReplacer.Replace(s)
}
