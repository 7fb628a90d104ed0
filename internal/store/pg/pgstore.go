// Package pg is the PostgreSQL persistence layer. One Store serves the
// credential, fleet and action tables.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/BunaTech-G/Dash-Fleet/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

type Store struct {
	db *sql.DB
}

var _ auth.Store = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing connection. Used by tests with sqlmock.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Organizations(ctx context.Context) auth.OrganizationStore { return orgStore{s.db} }
func (s *Store) APIKeys(ctx context.Context) auth.APIKeyStore             { return keyStore{s.db} }
func (s *Store) Sessions(ctx context.Context) auth.SessionStore           { return sessionStore{s.db} }

type orgStore struct{ db *sql.DB }

func (o orgStore) Create(ctx context.Context, org *auth.Organization) error {
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	_, err := o.db.ExecContext(ctx, `
		insert into organizations (id, name, role, created_at)
		values ($1, $2, $3, $4)
	`, org.ID, org.Name, string(org.Role), org.CreatedAt)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (o orgStore) Find(ctx context.Context, id string) (*auth.Organization, error) {
	var org auth.Organization
	var role string
	err := o.db.QueryRowContext(ctx, `
		select id, name, role, created_at from organizations where id=$1
	`, id).Scan(&org.ID, &org.Name, &role, &org.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	org.Role = auth.Role(role)
	return &org, nil
}

func (o orgStore) List(ctx context.Context) ([]*auth.Organization, error) {
	rows, err := o.db.QueryContext(ctx, `
		select id, name, role, created_at from organizations order by created_at asc
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.Organization
	for rows.Next() {
		var org auth.Organization
		var role string
		if err := rows.Scan(&org.ID, &org.Name, &role, &org.CreatedAt); err != nil {
			return nil, err
		}
		org.Role = auth.Role(role)
		out = append(out, &org)
	}
	return out, rows.Err()
}

type keyStore struct{ db *sql.DB }

func (k keyStore) Create(ctx context.Context, key *auth.APIKey) error {
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := k.db.ExecContext(ctx, `
		insert into api_keys (key, org_id, created_at, revoked)
		values ($1, $2, $3, $4)
	`, key.Key, key.OrgID, key.CreatedAt, key.Revoked)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return auth.ErrAlreadyExists
	}
	return err
}

func (k keyStore) Find(ctx context.Context, key string) (*auth.APIKey, error) {
	var rec auth.APIKey
	err := k.db.QueryRowContext(ctx, `
		select key, org_id, created_at, revoked from api_keys where key=$1
	`, key).Scan(&rec.Key, &rec.OrgID, &rec.CreatedAt, &rec.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (k keyStore) Revoke(ctx context.Context, key string) error {
	res, err := k.db.ExecContext(ctx, `update api_keys set revoked=true where key=$1`, key)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (k keyStore) ListByOrg(ctx context.Context, orgID string) ([]*auth.APIKey, error) {
	rows, err := k.db.QueryContext(ctx, `
		select key, org_id, created_at, revoked from api_keys
		where org_id=$1 order by created_at asc
	`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*auth.APIKey
	for rows.Next() {
		var rec auth.APIKey
		if err := rows.Scan(&rec.Key, &rec.OrgID, &rec.CreatedAt, &rec.Revoked); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

type sessionStore struct{ db *sql.DB }

func (s sessionStore) Create(ctx context.Context, sess *auth.Session) error {
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (id, org_id, created_at, expires_at)
		values ($1, $2, $3, $4)
	`, sess.ID, sess.OrgID, sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (s sessionStore) Find(ctx context.Context, id string) (*auth.Session, error) {
	var sess auth.Session
	err := s.db.QueryRowContext(ctx, `
		select id, org_id, created_at, expires_at from sessions where id=$1
	`, id).Scan(&sess.ID, &sess.OrgID, &sess.CreatedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s sessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where id=$1`, id)
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
