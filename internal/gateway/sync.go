package gateway

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/db"
	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/identity"
)

// ReconcileReport summarizes one connectivity check.
type ReconcileReport struct {
	Healthy   bool `json:"healthy"`
	Pushed    int  `json:"pushed"`
	Remaining int  `json:"remaining"`
}

// Reconcile checks remote connectivity and, when reachable, pushes the
// pending set. Without a remote store it only reports the pending count.
func (g *Gateway) Reconcile(ctx context.Context) (ReconcileReport, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return ReconcileReport{}, err
	}

	var report ReconcileReport
	if g.remote != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		pingErr := g.remote.Ping(pingCtx)
		cancel()

		g.markHealthy(pingErr == nil)
		if pingErr == nil {
			pushed, err := g.flushPending(ctx, owner)
			report.Pushed = pushed
			if err != nil && !errors.Is(err, errors.ErrRemoteUnavailable) {
				return report, err
			}
		}
	}

	report.Healthy = g.Healthy()
	remaining, err := db.CountPending(ctx, g.db, owner)
	if err != nil {
		return report, err
	}
	report.Remaining = remaining
	return report, nil
}

// Watch runs Reconcile every interval until ctx is done. ctx must carry the
// user identity. onReport, if non-nil, receives every report.
func (g *Gateway) Watch(ctx context.Context, interval time.Duration, onReport func(ReconcileReport)) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := g.Reconcile(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				g.logger.Warn("reconcile failed", zap.Error(err))
				continue
			}
			if onReport != nil {
				onReport(report)
			}
		}
	}
}

// MigrateLocal rewrites every local record below the current payload schema
// version. Records that cannot be migrated are logged and left untouched.
// It returns the number of records rewritten.
func (g *Gateway) MigrateLocal(ctx context.Context) (int, error) {
	owner, err := identity.UserID(ctx)
	if err != nil {
		return 0, err
	}

	stale, err := db.ListStale(ctx, g.db, owner, document.CurrentSchemaVersion)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, rec := range stale {
		upgraded, err := document.Migrate(rec)
		if err != nil {
			g.logger.Warn("record migration failed",
				zap.String("key", rec.Key.String()),
				zap.Int("schema_version", rec.SchemaVersion),
				zap.Error(err),
			)
			continue
		}
		if err := db.PutRecord(ctx, g.db, owner, upgraded, 0); err != nil {
			return migrated, err
		}
		migrated++
	}

	if migrated > 0 {
		g.logger.Info("local records migrated", zap.Int("count", migrated), zap.Int("schema_version", document.CurrentSchemaVersion))
	}
	return migrated, nil
}
