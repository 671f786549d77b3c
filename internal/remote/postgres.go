package remote

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

// pgForeignKeyViolation is the SQLSTATE for a foreign key violation.
const pgForeignKeyViolation = "23503"

// Postgres stores each entity in its own table. Progress rows reference
// their document and are removed with it.
type Postgres struct {
	db          *sql.DB
	schemaReady atomic.Bool
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
  owner_id        TEXT NOT NULL,
  id              TEXT NOT NULL,
  schema_version  INTEGER NOT NULL,
  payload         JSONB NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (owner_id, id)
);

CREATE TABLE IF NOT EXISTS generation_progress (
  owner_id        TEXT NOT NULL,
  document_id     TEXT NOT NULL,
  schema_version  INTEGER NOT NULL,
  payload         JSONB NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (owner_id, document_id),
  FOREIGN KEY (owner_id, document_id) REFERENCES documents(owner_id, id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS session_prefs (
  owner_id        TEXT PRIMARY KEY,
  schema_version  INTEGER NOT NULL,
  payload         JSONB NOT NULL,
  updated_at      TIMESTAMPTZ NOT NULL
);
`

// OpenPostgres creates a store for databaseURL without connecting. The
// schema is created on the first call that reaches the server.
func OpenPostgres(databaseURL string) (*Postgres, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(8)
	return &Postgres{db: db}, nil
}

// NewPostgres opens databaseURL with the pgx driver, verifies the connection
// and ensures the schema exists.
func NewPostgres(ctx context.Context, databaseURL string) (*Postgres, error) {
	s, err := OpenPostgres(databaseURL)
	if err != nil {
		return nil, err
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		s.db.Close()
		return nil, err
	}
	return s, nil
}

// EnsureSchema creates the entity tables if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	s.schemaReady.Store(true)
	return nil
}

func (s *Postgres) ready(ctx context.Context) error {
	if s.schemaReady.Load() {
		return nil
	}
	if err := s.EnsureSchema(ctx); err != nil {
		return errors.NewRemoteUnavailable(err)
	}
	return nil
}

// Put upserts the entity at rec.Key.
func (s *Postgres) Put(ctx context.Context, owner string, rec document.Record) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var query string
	args := []any{owner, rec.SchemaVersion, []byte(rec.Payload), rec.UpdatedAt}

	switch rec.Collection {
	case document.CollectionDocuments:
		query = `
			INSERT INTO documents (owner_id, schema_version, payload, updated_at, id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_id, id) DO UPDATE SET
				schema_version = EXCLUDED.schema_version,
				payload = EXCLUDED.payload,
				updated_at = EXCLUDED.updated_at`
		args = append(args, rec.ID)
	case document.CollectionProgress:
		query = `
			INSERT INTO generation_progress (owner_id, schema_version, payload, updated_at, document_id)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (owner_id, document_id) DO UPDATE SET
				schema_version = EXCLUDED.schema_version,
				payload = EXCLUDED.payload,
				updated_at = EXCLUDED.updated_at`
		args = append(args, rec.ID)
	case document.CollectionSession:
		query = `
			INSERT INTO session_prefs (owner_id, schema_version, payload, updated_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (owner_id) DO UPDATE SET
				schema_version = EXCLUDED.schema_version,
				payload = EXCLUDED.payload,
				updated_at = EXCLUDED.updated_at`
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown collection %q", rec.Collection))
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pgErr *pgconn.PgError
		if stderrors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return errors.NewNotFound(string(document.CollectionDocuments), rec.ID)
		}
		return classify(err)
	}
	return nil
}

// Get returns the entity at key.
func (s *Postgres) Get(ctx context.Context, owner string, key document.Key) (document.Record, error) {
	if err := s.ready(ctx); err != nil {
		return document.Record{}, err
	}
	var row *sql.Row
	switch key.Collection {
	case document.CollectionDocuments:
		row = s.db.QueryRowContext(ctx,
			`SELECT schema_version, payload, updated_at FROM documents WHERE owner_id = $1 AND id = $2`,
			owner, key.ID)
	case document.CollectionProgress:
		row = s.db.QueryRowContext(ctx,
			`SELECT schema_version, payload, updated_at FROM generation_progress WHERE owner_id = $1 AND document_id = $2`,
			owner, key.ID)
	case document.CollectionSession:
		row = s.db.QueryRowContext(ctx,
			`SELECT schema_version, payload, updated_at FROM session_prefs WHERE owner_id = $1`,
			owner)
	default:
		return document.Record{}, errors.NewInvalidRequest(fmt.Sprintf("unknown collection %q", key.Collection))
	}

	rec := document.Record{Key: key}
	var payload []byte
	err := row.Scan(&rec.SchemaVersion, &payload, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return document.Record{}, errors.NewNotFound(string(key.Collection), key.ID)
	}
	if err != nil {
		return document.Record{}, classify(err)
	}
	rec.Payload = payload
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// Delete removes the entity at key. Progress rows cascade with their document.
func (s *Postgres) Delete(ctx context.Context, owner string, key document.Key) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	var err error
	switch key.Collection {
	case document.CollectionDocuments:
		_, err = s.db.ExecContext(ctx, `DELETE FROM documents WHERE owner_id = $1 AND id = $2`, owner, key.ID)
	case document.CollectionProgress:
		_, err = s.db.ExecContext(ctx, `DELETE FROM generation_progress WHERE owner_id = $1 AND document_id = $2`, owner, key.ID)
	case document.CollectionSession:
		_, err = s.db.ExecContext(ctx, `DELETE FROM session_prefs WHERE owner_id = $1`, owner)
	default:
		return errors.NewInvalidRequest(fmt.Sprintf("unknown collection %q", key.Collection))
	}
	if err != nil {
		return classify(err)
	}
	return nil
}

// classify maps a driver error. A SQLSTATE error means the server answered,
// so only connection-level failures count as unavailability.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) {
		return errors.NewInternal(fmt.Errorf("postgres %s: %w", pgErr.Code, err))
	}
	return errors.NewRemoteUnavailable(err)
}

// Ping checks if Postgres is reachable.
func (s *Postgres) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.NewRemoteUnavailable(err)
	}
	return s.ready(ctx)
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}
