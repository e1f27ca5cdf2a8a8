package licensestore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultPostgresTable = "mflow_licenses"

// validIdentifier matches safe PostgreSQL identifiers (letters, digits, underscores).
var validIdentifier = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresOption configures a Postgres store.
type PostgresOption func(*Postgres)

// WithTableName sets the PostgreSQL table name. Default: "mflow_licenses".
func WithTableName(name string) PostgresOption {
	return func(s *Postgres) {
		s.tableName = name
	}
}

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgres creates a new PostgreSQL-backed license store.
// It auto-creates the table on initialization.
func NewPostgres(ctx context.Context, pool *pgxpool.Pool, opts ...PostgresOption) (*Postgres, error) {
	s := &Postgres{
		pool:      pool,
		tableName: defaultPostgresTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	if !validIdentifier.MatchString(s.tableName) {
		return nil, fmt.Errorf("invalid table name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", s.tableName)
	}
	if err := s.ensureTable(ctx); err != nil {
		return nil, fmt.Errorf("create table: %w", err)
	}
	return s, nil
}

func (s *Postgres) ensureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			email       TEXT PRIMARY KEY,
			license_key TEXT NOT NULL,
			plan        TEXT NOT NULL,
			device_id   TEXT NOT NULL DEFAULT '%s',
			issued_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			expires_at  TIMESTAMPTZ,
			status      TEXT NOT NULL DEFAULT 'active'
		)
	`, s.tableName, DeviceUnbound)
	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *Postgres) Get(ctx context.Context, email string) (*Record, error) {
	query := fmt.Sprintf(`
		SELECT email, license_key, plan, device_id, issued_at, expires_at, status
		FROM %s WHERE email = $1
	`, s.tableName)

	var rec Record
	err := s.pool.QueryRow(ctx, query, email).Scan(
		&rec.Email, &rec.LicenseKey, &rec.Plan, &rec.DeviceID,
		&rec.IssuedAt, &rec.ExpiresAt, &rec.Status,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get license: %v", ErrUnavailable, err)
	}
	return &rec, nil
}

func (s *Postgres) Put(ctx context.Context, rec Record) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (email, license_key, plan, device_id, issued_at, expires_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (email) DO UPDATE SET
			license_key = EXCLUDED.license_key,
			plan = EXCLUDED.plan,
			device_id = EXCLUDED.device_id,
			expires_at = EXCLUDED.expires_at,
			status = EXCLUDED.status
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query,
		rec.Email, rec.LicenseKey, rec.Plan, rec.DeviceID,
		rec.IssuedAt, rec.ExpiresAt, rec.Status,
	)
	if err != nil {
		return fmt.Errorf("%w: put license: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *Postgres) Delete(ctx context.Context, email string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE email = $1`, s.tableName)
	if _, err := s.pool.Exec(ctx, query, email); err != nil {
		return fmt.Errorf("%w: delete license: %v", ErrUnavailable, err)
	}
	return nil
}

// BindDevice performs the conditional first-activation write. The WHERE
// clause on device_id makes the update a compare-and-set: a concurrent
// binder that commits first leaves zero rows for the loser to update.
func (s *Postgres) BindDevice(ctx context.Context, email, deviceID, licenseKey string) error {
	query := fmt.Sprintf(`
		UPDATE %s SET device_id = $2, license_key = $3
		WHERE email = $1 AND device_id = $4
	`, s.tableName)

	tag, err := s.pool.Exec(ctx, query, email, deviceID, licenseKey, DeviceUnbound)
	if err != nil {
		return fmt.Errorf("%w: bind device: %v", ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing record from a lost race.
		if _, err := s.Get(ctx, email); err != nil {
			return err
		}
		return ErrAlreadyBound
	}
	return nil
}

func (s *Postgres) Close(_ context.Context) error {
	return nil // user manages the pgxpool.Pool lifecycle
}
