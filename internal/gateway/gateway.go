// Package gateway is the durable store gateway: a uniform record interface
// over the local sqlite cache and an optional remote store.
//
// Writes go to the remote store first and are always mirrored locally. When
// the remote write fails the record is written directly to the local layer
// and marked pending; pending records are pushed on the next successful write
// or connectivity check. Reads prefer the newer of the remote and local copy,
// except that a pending local record always wins until it has been pushed.
package gateway

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/db"
	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/identity"
	"github.com/hpungsan/inkwell/internal/logging"
	"github.com/hpungsan/inkwell/internal/remote"
)

// Location reports which path an operation took.
type Location string

const (
	// LocationRemote means the remote store served the operation (and the local mirror was updated).
	LocationRemote Location = "remote"
	// LocationLocalFallback means the remote store failed or was bypassed and the local layer was used.
	LocationLocalFallback Location = "local_fallback"
	// LocationLocalOnly means no remote store is configured.
	LocationLocalOnly Location = "local_only"
	// LocationFailed means the local layer failed too.
	LocationFailed Location = "failed"
)

// Result describes the path an operation took.
type Result struct {
	Location Location `json:"location"`

	// RemoteErr is the remote failure that caused a fallback, if any.
	RemoteErr error `json:"-"`

	// Corrupt is set when a stored record could not be decoded and the
	// empty sentinel was returned instead.
	Corrupt bool `json:"corrupt,omitempty"`
}

// Options configures a Gateway.
type Options struct {
	DB *sql.DB

	// Remote is optional; nil means local-only.
	Remote remote.Store

	// MaxBytes caps the local cache per owner. 0 means unlimited.
	MaxBytes int64

	Logger *zap.Logger

	// Now overrides the clock used to stamp records.
	Now func() time.Time
}

// Gateway implements the two-backend record store.
type Gateway struct {
	db       *sql.DB
	remote   remote.Store
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time

	healthy atomic.Bool

	// flushMu serializes pending-set flushes.
	flushMu sync.Mutex
}

// New creates a Gateway.
func New(opts Options) *Gateway {
	g := &Gateway{
		db:       opts.DB,
		remote:   opts.Remote,
		maxBytes: opts.MaxBytes,
		logger:   logging.OrNop(opts.Logger).Named("gateway"),
		now:      opts.Now,
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.healthy.Store(opts.Remote != nil)
	return g
}

// HasRemote reports whether a remote store is configured.
func (g *Gateway) HasRemote() bool {
	return g.remote != nil
}

// Healthy reports whether the last remote interaction succeeded.
// Always false without a remote store.
func (g *Gateway) Healthy() bool {
	return g.remote != nil && g.healthy.Load()
}

// Now returns the gateway clock.
func (g *Gateway) Now() time.Time {
	return g.now()
}

// Save writes rec. The returned error is non-nil only when the local layer
// failed (or identity is missing); remote failures are reported in Result.
func (g *Gateway) Save(ctx context.Context, rec document.Record) (Result, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return Result{Location: LocationFailed}, err
	}

	if g.remote == nil {
		if err := db.PutRecord(ctx, g.db, owner, rec, g.maxBytes); err != nil {
			g.logger.Warn("local write failed", zap.String("key", rec.Key.String()), zap.Error(err))
			return Result{Location: LocationFailed}, err
		}
		return Result{Location: LocationLocalOnly}, nil
	}

	remoteErr := g.remote.Put(ctx, owner, rec)
	if remoteErr == nil {
		g.markHealthy(true)

		if err := db.PutRecord(ctx, g.db, owner, rec, g.maxBytes); err != nil {
			g.logger.Warn("local mirror write failed", zap.String("key", rec.Key.String()), zap.Error(err))
			return Result{Location: LocationRemote}, err
		}
		if err := db.ClearPending(ctx, g.db, owner, rec.Key); err != nil {
			g.logger.Warn("clear pending failed", zap.String("key", rec.Key.String()), zap.Error(err))
		}
		if _, err := g.flushPending(ctx, owner); err != nil {
			g.logger.Debug("pending flush incomplete", zap.Error(err))
		}
		return Result{Location: LocationRemote}, nil
	}

	if errors.Is(remoteErr, errors.ErrRemoteUnavailable) {
		g.markHealthy(false)
	}

	// Fallback writes go straight to the local representation.
	if err := db.PutRecord(ctx, g.db, owner, rec, g.maxBytes); err != nil {
		g.logger.Error("fallback write failed",
			zap.String("key", rec.Key.String()),
			zap.NamedError("remote_error", remoteErr),
			zap.Error(err),
		)
		return Result{Location: LocationFailed, RemoteErr: remoteErr}, err
	}
	if err := db.MarkPending(ctx, g.db, owner, rec.Key, db.OpPut); err != nil {
		g.logger.Error("mark pending failed", zap.String("key", rec.Key.String()), zap.Error(err))
		return Result{Location: LocationFailed, RemoteErr: remoteErr}, err
	}

	g.logger.Info("fallback write", zap.String("key", rec.Key.String()), zap.NamedError("remote_error", remoteErr))
	return Result{Location: LocationLocalFallback, RemoteErr: remoteErr}, nil
}

// Load reads the record at key. It returns NOT_FOUND when neither layer
// holds it. A corrupt record yields the zero Record with Result.Corrupt set
// and a nil error.
func (g *Gateway) Load(ctx context.Context, key document.Key) (document.Record, Result, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return document.Record{}, Result{Location: LocationFailed}, err
	}

	local, hasLocal := g.readLocal(ctx, owner, key)

	if g.remote == nil {
		return g.pick(key, local, hasLocal, Result{Location: LocationLocalOnly})
	}

	pending, err := db.IsPending(ctx, g.db, owner, key)
	if err != nil {
		g.logger.Warn("pending lookup failed", zap.String("key", key.String()), zap.Error(err))
	}
	if pending {
		return g.pick(key, local, hasLocal, Result{Location: LocationLocalFallback})
	}

	remoteRec, remoteErr := g.remote.Get(ctx, owner, key)
	switch {
	case remoteErr == nil:
		g.markHealthy(true)
	case errors.Is(remoteErr, errors.ErrNotFound):
		g.markHealthy(true)
		return g.pick(key, local, hasLocal, Result{Location: LocationLocalFallback})
	case errors.IsCorrupt(remoteErr):
		g.markHealthy(true)
		g.logger.Warn("corrupt remote record", zap.String("key", key.String()), zap.Error(remoteErr))
		if hasLocal {
			return g.pick(key, local, true, Result{Location: LocationLocalFallback, RemoteErr: remoteErr})
		}
		return document.Record{}, Result{Location: LocationRemote, Corrupt: true}, nil
	default:
		if errors.Is(remoteErr, errors.ErrRemoteUnavailable) {
			g.markHealthy(false)
		}
		return g.pick(key, local, hasLocal, Result{Location: LocationLocalFallback, RemoteErr: remoteErr})
	}

	// Last write wins; remote on tie.
	if hasLocal && local.UpdatedAt.After(remoteRec.UpdatedAt) {
		return g.pick(key, local, true, Result{Location: LocationLocalFallback})
	}

	if _, err := decodable(remoteRec); err != nil {
		g.logger.Warn("corrupt remote record", zap.String("key", key.String()), zap.Error(err))
		if hasLocal {
			return g.pick(key, local, true, Result{Location: LocationLocalFallback, RemoteErr: err})
		}
		return document.Record{}, Result{Location: LocationRemote, Corrupt: true}, nil
	}

	// Refresh the local mirror so the record stays readable offline.
	if !hasLocal || !local.UpdatedAt.Equal(remoteRec.UpdatedAt) {
		if err := db.PutRecord(ctx, g.db, owner, remoteRec, g.maxBytes); err != nil {
			g.logger.Warn("local mirror refresh failed", zap.String("key", key.String()), zap.Error(err))
		}
	}
	return remoteRec, Result{Location: LocationRemote}, nil
}

// LoadLocal reads key from the local layer only. Used by hydration.
func (g *Gateway) LoadLocal(ctx context.Context, key document.Key) (document.Record, Result, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return document.Record{}, Result{Location: LocationFailed}, err
	}
	local, hasLocal := g.readLocal(ctx, owner, key)
	return g.pick(key, local, hasLocal, Result{Location: LocationLocalOnly})
}

// Delete removes key from both layers. A failed remote delete is queued
// as a pending delete.
func (g *Gateway) Delete(ctx context.Context, key document.Key) (Result, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return Result{Location: LocationFailed}, err
	}

	if err := db.DeleteRecord(ctx, g.db, owner, key); err != nil {
		return Result{Location: LocationFailed}, err
	}

	if g.remote == nil {
		return Result{Location: LocationLocalOnly}, nil
	}

	if remoteErr := g.remote.Delete(ctx, owner, key); remoteErr != nil {
		if errors.Is(remoteErr, errors.ErrRemoteUnavailable) {
			g.markHealthy(false)
		}
		if err := db.MarkPending(ctx, g.db, owner, key, db.OpDelete); err != nil {
			return Result{Location: LocationFailed, RemoteErr: remoteErr}, err
		}
		g.logger.Info("fallback delete", zap.String("key", key.String()), zap.NamedError("remote_error", remoteErr))
		return Result{Location: LocationLocalFallback, RemoteErr: remoteErr}, nil
	}

	g.markHealthy(true)
	if err := db.ClearPending(ctx, g.db, owner, key); err != nil {
		g.logger.Warn("clear pending failed", zap.String("key", key.String()), zap.Error(err))
	}
	return Result{Location: LocationRemote}, nil
}

// PendingCount returns the number of records awaiting a push.
func (g *Gateway) PendingCount(ctx context.Context) (int, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return 0, err
	}
	return db.CountPending(ctx, g.db, owner)
}

// UsedBytes returns the local cache usage for the current owner.
func (g *Gateway) UsedBytes(ctx context.Context) (int64, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return 0, err
	}
	return db.UsedBytes(ctx, g.db, owner)
}

// ListLocal returns the current owner's local records in collection.
// Corrupt records are skipped and logged.
func (g *Gateway) ListLocal(ctx context.Context, collection document.Collection) ([]document.Record, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := db.ListRecords(ctx, g.db, owner, collection)
	if err != nil {
		return nil, err
	}
	out := recs[:0]
	for _, rec := range recs {
		migrated, err := decodable(rec)
		if err != nil {
			g.logger.Warn("corrupt local record", zap.String("key", rec.Key.String()), zap.Error(err))
			continue
		}
		out = append(out, migrated)
	}
	return out, nil
}

// readLocal returns the local record at key, if any. Read failures are
// logged and treated as absent.
func (g *Gateway) readLocal(ctx context.Context, owner string, key document.Key) (document.Record, bool) {
	rec, err := db.GetRecord(ctx, g.db, owner, key)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			g.logger.Warn("local read failed", zap.String("key", key.String()), zap.Error(err))
		}
		return document.Record{}, false
	}
	return rec, true
}

// pick returns the local record, or NOT_FOUND, or the corrupt sentinel.
func (g *Gateway) pick(key document.Key, local document.Record, hasLocal bool, res Result) (document.Record, Result, error) {
	if !hasLocal {
		return document.Record{}, res, errors.NewNotFound(string(key.Collection), key.ID)
	}
	migrated, err := decodable(local)
	if err != nil {
		g.logger.Warn("corrupt local record", zap.String("key", local.Key.String()), zap.Error(err))
		res.Corrupt = true
		return document.Record{}, res, nil
	}
	return migrated, res, nil
}

// decodable migrates rec and checks that its payload is well-formed JSON.
func decodable(rec document.Record) (document.Record, error) {
	migrated, err := document.Migrate(rec)
	if err != nil {
		return rec, err
	}
	if !json.Valid(migrated.Payload) {
		return rec, fmt.Errorf("record %s: payload is not valid JSON", rec.Key)
	}
	return migrated, nil
}

func (g *Gateway) markHealthy(ok bool) {
	if g.remote == nil {
		return
	}
	if was := g.healthy.Swap(ok); was != ok {
		if ok {
			g.logger.Info("remote store reachable")
		} else {
			g.logger.Warn("remote store unreachable")
		}
	}
}

// collectionOrder pushes documents before the records that reference them.
var collectionOrder = map[document.Collection]int{
	document.CollectionDocuments: 0,
	document.CollectionSession:   1,
	document.CollectionProgress:  2,
}

// flushPending pushes the owner's pending set to the remote store. It stops
// at the first unavailable error and returns the number of entries pushed.
func (g *Gateway) flushPending(ctx context.Context, owner string) (int, error) {
	if g.remote == nil {
		return 0, nil
	}

	g.flushMu.Lock()
	defer g.flushMu.Unlock()

	pending, err := db.ListPending(ctx, g.db, owner)
	if err != nil {
		return 0, err
	}
	sort.SliceStable(pending, func(i, j int) bool {
		oi, oj := pending[i].Op == db.OpDelete, pending[j].Op == db.OpDelete
		if oi != oj {
			// Deletes after puts so a re-created document is not removed.
			return !oi
		}
		return collectionOrder[pending[i].Collection] < collectionOrder[pending[j].Collection]
	})

	pushed := 0
	for _, p := range pending {
		var pushErr error
		switch p.Op {
		case db.OpDelete:
			pushErr = g.remote.Delete(ctx, owner, p.Key)
		default:
			rec, err := db.GetRecord(ctx, g.db, owner, p.Key)
			if errors.Is(err, errors.ErrNotFound) {
				// Deleted locally since it was marked.
				_ = db.ClearPending(ctx, g.db, owner, p.Key)
				continue
			}
			if err != nil {
				return pushed, err
			}
			pushErr = g.remote.Put(ctx, owner, rec)
		}

		if pushErr != nil {
			if errors.Is(pushErr, errors.ErrRemoteUnavailable) {
				g.markHealthy(false)
				return pushed, pushErr
			}
			g.logger.Warn("pending push rejected", zap.String("key", p.Key.String()), zap.String("op", p.Op), zap.Error(pushErr))
			continue
		}

		if err := db.ClearPending(ctx, g.db, owner, p.Key); err != nil {
			return pushed, err
		}
		pushed++
	}

	if pushed > 0 {
		g.logger.Info("pending records pushed", zap.Int("count", pushed))
	}
	return pushed, nil
}
