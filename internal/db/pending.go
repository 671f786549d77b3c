package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

// Pending operations awaiting a push to the remote store.
const (
	OpPut    = "put"
	OpDelete = "delete"
)

// Pending is one entry of the pending-sync set.
type Pending struct {
	document.Key
	Op       string
	MarkedAt time.Time
}

// MarkPending records that key must be pushed to the remote store with op.
// A later mark for the same key replaces the earlier one.
func MarkPending(ctx context.Context, db *sql.DB, owner string, key document.Key, op string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO pending_sync (owner_id, collection, id, op, marked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner_id, collection, id) DO UPDATE SET
			op = excluded.op,
			marked_at = excluded.marked_at
	`, owner, string(key.Collection), key.ID, op, time.Now().UnixNano())
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// ClearPending removes key from the pending-sync set.
func ClearPending(ctx context.Context, db *sql.DB, owner string, key document.Key) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM pending_sync WHERE owner_id = ? AND collection = ? AND id = ?`,
		owner, string(key.Collection), key.ID,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// IsPending reports whether key is in the pending-sync set with op "put".
func IsPending(ctx context.Context, db *sql.DB, owner string, key document.Key) (bool, error) {
	var exists int
	err := db.QueryRowContext(ctx, `
		SELECT 1 FROM pending_sync
		WHERE owner_id = ? AND collection = ? AND id = ? AND op = ?
		LIMIT 1
	`, owner, string(key.Collection), key.ID, OpPut).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, errors.NewInternal(err)
	}
	return true, nil
}

// ListPending returns the owner's pending-sync set, oldest mark first.
func ListPending(ctx context.Context, db *sql.DB, owner string) ([]Pending, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT collection, id, op, marked_at
		FROM pending_sync
		WHERE owner_id = ?
		ORDER BY marked_at ASC
	`, owner)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Pending
	for rows.Next() {
		var (
			p          Pending
			collection string
			markedAt   int64
		)
		if err := rows.Scan(&collection, &p.ID, &p.Op, &markedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		p.Collection = document.Collection(collection)
		p.MarkedAt = time.Unix(0, markedAt).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// CountPending returns the size of the owner's pending-sync set.
func CountPending(ctx context.Context, db *sql.DB, owner string) (int, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_sync WHERE owner_id = ?`, owner,
	).Scan(&n)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}
