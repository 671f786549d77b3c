package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

// PutRecord upserts one record envelope for owner. The whole payload is
// replaced. When maxBytes > 0 the write is refused with QUOTA_EXCEEDED if the
// owner's total payload bytes would exceed it; the existing row is left as is.
func PutRecord(ctx context.Context, db *sql.DB, owner string, rec document.Record, maxBytes int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	size := int64(len(rec.Payload))

	if maxBytes > 0 {
		var others int64
		err := tx.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(payload_bytes), 0) FROM records
			WHERE owner_id = ? AND NOT (collection = ? AND id = ?)
		`, owner, string(rec.Collection), rec.ID).Scan(&others)
		if err != nil {
			return errors.NewInternal(err)
		}
		if others+size > maxBytes {
			return errors.NewQuotaExceeded(maxBytes, others+size)
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO records (owner_id, collection, id, schema_version, payload, payload_bytes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			schema_version = excluded.schema_version,
			payload = excluded.payload,
			payload_bytes = excluded.payload_bytes,
			updated_at = excluded.updated_at
	`, owner, string(rec.Collection), rec.ID, rec.SchemaVersion, []byte(rec.Payload), size, rec.UpdatedAt.UnixNano())
	if err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// GetRecord retrieves one record envelope. The payload is returned undecoded.
func GetRecord(ctx context.Context, db *sql.DB, owner string, key document.Key) (document.Record, error) {
	row := db.QueryRowContext(ctx, `
		SELECT collection, id, schema_version, payload, updated_at
		FROM records
		WHERE owner_id = ? AND collection = ? AND id = ?
	`, owner, string(key.Collection), key.ID)

	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return document.Record{}, errors.NewNotFound(string(key.Collection), key.ID)
	}
	if err != nil {
		return document.Record{}, errors.NewInternal(err)
	}
	return rec, nil
}

// DeleteRecord removes one record and its pending-sync marker.
// Deleting a missing record is not an error.
func DeleteRecord(ctx context.Context, db *sql.DB, owner string, key document.Key) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewInternal(err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE owner_id = ? AND collection = ? AND id = ?`,
		owner, string(key.Collection), key.ID,
	); err != nil {
		return errors.NewInternal(err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_sync WHERE owner_id = ? AND collection = ? AND id = ? AND op = ?`,
		owner, string(key.Collection), key.ID, OpPut,
	); err != nil {
		return errors.NewInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ListRecords returns an owner's records in a collection, newest first.
func ListRecords(ctx context.Context, db *sql.DB, owner string, collection document.Collection) ([]document.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT collection, id, schema_version, payload, updated_at
		FROM records
		WHERE owner_id = ? AND collection = ?
		ORDER BY updated_at DESC, id DESC
	`, owner, string(collection))
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectRecords(rows)
}

// ListStale returns an owner's records written with a schema version below version.
func ListStale(ctx context.Context, db *sql.DB, owner string, version int) ([]document.Record, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT collection, id, schema_version, payload, updated_at
		FROM records
		WHERE owner_id = ? AND schema_version < ?
		ORDER BY collection, id
	`, owner, version)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return collectRecords(rows)
}

// UsedBytes returns the total payload bytes stored for owner.
func UsedBytes(ctx context.Context, db *sql.DB, owner string) (int64, error) {
	var used int64
	err := db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(payload_bytes), 0) FROM records WHERE owner_id = ?`, owner,
	).Scan(&used)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return used, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRecord scans a single row into a Record.
func scanRecord(row rowScanner) (document.Record, error) {
	var (
		rec        document.Record
		collection string
		payload    []byte
		updatedAt  int64
	)
	if err := row.Scan(&collection, &rec.ID, &rec.SchemaVersion, &payload, &updatedAt); err != nil {
		return document.Record{}, err
	}
	rec.Collection = document.Collection(collection)
	rec.Payload = payload
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]document.Record, error) {
	defer rows.Close()

	var out []document.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.NewInternal(err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}
