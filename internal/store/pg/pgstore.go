// Package pg persists the access-control core in PostgreSQL. Registry
// entries are stored as one JSONB document per principal so every mutation
// of the hierarchy is a single-row write: readers always observe a complete
// aggregate.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/decode-soumyadipta/KhananNetra-backend/internal/registry"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// querier is satisfied by both *sql.DB and *sql.Tx so store methods run
// unchanged inside or outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the Postgres-backed registry store.
type Store struct {
	db *sql.DB
	q  querier
}

var _ registry.Store = (*Store)(nil)

// Open connects to Postgres with pooled defaults.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, q: db}, nil
}

// NewWithDB wraps an existing connection (used by tests with sqlmock).
func NewWithDB(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// Close releases the connection pool.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying pool for health probes and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// WithinTx opens a serializable transaction and runs fn against a
// transaction-scoped store. A store already inside a transaction joins it;
// the outer owner commits.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx registry.Store) error) error {
	if _, joined := s.q.(*sql.Tx); joined {
		return fn(ctx, s)
	}
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &Store{db: s.db, q: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) CreatePrincipal(ctx context.Context, p *registry.Principal, e *registry.Entry) error {
	doc, err := marshalEntry(e)
	if err != nil {
		return err
	}
	run := func(ctx context.Context, q querier) error {
		if _, err := q.ExecContext(ctx, `
			insert into principals (id, email, password_hash, active, locked_until, failed_logins, mfa_secret, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, p.ID, strings.ToLower(p.Email), p.PasswordHash, p.Active, p.LockedUntil, p.FailedLogins, p.MFASecret, p.CreatedAt, p.UpdatedAt); err != nil {
			return mapPgError(err)
		}
		if _, err := q.ExecContext(ctx, `
			insert into registry_entries (principal_id, doc, created_at, updated_at)
			values ($1, $2, $3, $4)
		`, p.ID, doc, e.CreatedAt, e.UpdatedAt); err != nil {
			return mapPgError(err)
		}
		return nil
	}

	if _, joined := s.q.(*sql.Tx); joined {
		return run(ctx, s.q)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := run(ctx, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) Principal(ctx context.Context, id string) (*registry.Principal, error) {
	return s.scanPrincipal(s.q.QueryRowContext(ctx, `
		select id, email, password_hash, active, locked_until, failed_logins, mfa_secret, created_at, updated_at
		from principals where id = $1
	`, id))
}

func (s *Store) PrincipalByEmail(ctx context.Context, email string) (*registry.Principal, error) {
	return s.scanPrincipal(s.q.QueryRowContext(ctx, `
		select id, email, password_hash, active, locked_until, failed_logins, mfa_secret, created_at, updated_at
		from principals where email = $1
	`, strings.ToLower(email)))
}

func (s *Store) scanPrincipal(row *sql.Row) (*registry.Principal, error) {
	var p registry.Principal
	var locked sql.NullTime
	err := row.Scan(&p.ID, &p.Email, &p.PasswordHash, &p.Active, &locked, &p.FailedLogins, &p.MFASecret, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if locked.Valid {
		t := locked.Time
		p.LockedUntil = &t
	}
	return &p, nil
}

func (s *Store) SavePrincipal(ctx context.Context, p *registry.Principal) error {
	res, err := s.q.ExecContext(ctx, `
		update principals
		set email = $2, password_hash = $3, active = $4, locked_until = $5,
		    failed_logins = $6, mfa_secret = $7, updated_at = now()
		where id = $1
	`, p.ID, strings.ToLower(p.Email), p.PasswordHash, p.Active, p.LockedUntil, p.FailedLogins, p.MFASecret)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func (s *Store) Entry(ctx context.Context, principalID string) (*registry.Entry, error) {
	var doc []byte
	err := s.q.QueryRowContext(ctx, `
		select doc from registry_entries where principal_id = $1
	`, principalID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, registry.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var e registry.Entry
	if err := json.Unmarshal(doc, &e); err != nil {
		return nil, fmt.Errorf("decode registry entry: %w", err)
	}
	return &e, nil
}

func (s *Store) SaveEntry(ctx context.Context, e *registry.Entry) error {
	e.UpdatedAt = time.Now().UTC()
	doc, err := marshalEntry(e)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx, `
		update registry_entries set doc = $2, updated_at = $3 where principal_id = $1
	`, e.PrincipalID, doc, e.UpdatedAt)
	if err != nil {
		return mapPgError(err)
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return registry.ErrNotFound
	}
	return nil
}

func marshalEntry(e *registry.Entry) ([]byte, error) {
	doc, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode registry entry: %w", err)
	}
	return doc, nil
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return registry.ErrConflict
		case pgErrForeignKeyViolation:
			return registry.ErrNotFound
		}
	}
	return err
}
