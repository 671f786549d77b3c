// Package workspace wires the editing session together: local cache, remote
// store, hydration gate, session store, editor, autosave, selection tracking
// and template generation.
package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/autosave"
	"github.com/hpungsan/inkwell/internal/config"
	"github.com/hpungsan/inkwell/internal/db"
	"github.com/hpungsan/inkwell/internal/editor"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/gateway"
	"github.com/hpungsan/inkwell/internal/generation"
	"github.com/hpungsan/inkwell/internal/hydration"
	"github.com/hpungsan/inkwell/internal/identity"
	"github.com/hpungsan/inkwell/internal/logging"
	"github.com/hpungsan/inkwell/internal/progress"
	"github.com/hpungsan/inkwell/internal/remote"
	"github.com/hpungsan/inkwell/internal/selection"
	"github.com/hpungsan/inkwell/internal/session"
	"github.com/hpungsan/inkwell/internal/template"
)

// Options configures Open.
type Options struct {
	Config  *config.Config
	BaseDir string

	// Generator overrides the generator built from Config.
	Generator generation.Generator

	// Remote overrides the backend selected by Config. The workspace closes it.
	Remote remote.Store

	Logger *zap.Logger
	Now    func() time.Time
}

// Workspace is one user's editing session.
type Workspace struct {
	cfg    *config.Config
	userID string
	logger *zap.Logger
	now    func() time.Time

	db        *sql.DB
	remote    remote.Store
	gw        *gateway.Gateway
	hydration *hydration.Controller
	session   *session.Store
	editor    *editor.Buffer
	tracker   *selection.Tracker
	autosave  *autosave.Scheduler
	catalog   *template.Catalog
	gen       generation.Generator
	machine   *progress.Machine

	// baseCtx carries the user identity for background work.
	baseCtx context.Context
	cancel  context.CancelFunc
	watchWG sync.WaitGroup

	// loading suppresses editor change events while a document is loaded
	// into the editor.
	loading atomic.Bool

	// switchMu serializes operations that change the active document.
	switchMu sync.Mutex

	closeOnce sync.Once
}

// Open builds a workspace and starts hydration from the local cache.
// Persisted reads are refused until Wait returns.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	if cfg.UserID == "" {
		return nil, errors.NewUnauthenticated()
	}
	logger := logging.OrNop(opts.Logger)
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	catalog, err := template.Load(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	database, err := db.Init(opts.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("open local cache: %w", err)
	}
	db.ConfigurePool(database, cfg)

	store := opts.Remote
	if store == nil {
		store, err = remote.Open(ctx, cfg)
		if err != nil {
			database.Close()
			return nil, errors.NewInvalidRequest(fmt.Sprintf("remote store: %v", err))
		}
	}

	baseCtx, cancel := context.WithCancel(identity.WithUser(context.Background(), cfg.UserID))

	w := &Workspace{
		cfg:       cfg,
		userID:    cfg.UserID,
		logger:    logger.Named("workspace"),
		now:       now,
		db:        database,
		remote:    store,
		catalog:   catalog,
		hydration: hydration.New(logger),
		editor:    editor.NewBuffer(""),
		baseCtx:   baseCtx,
		cancel:    cancel,
	}

	gwOpts := gateway.Options{DB: database, MaxBytes: cfg.LocalMaxBytes, Logger: logger, Now: now}
	if store != nil {
		gwOpts.Remote = store
	}
	w.gw = gateway.New(gwOpts)

	w.session = session.New(w.hydration, logger)
	w.tracker = selection.New(w.editor, w.session, logger)
	w.autosave = autosave.New(autosave.Options{
		Delay:   cfg.AutosaveDelay(),
		Saver:   w.gw,
		Session: w.session,
		Source:  w.editor.Content,
		Context: baseCtx,
		Logger:  logger,
		Now:     now,
	})
	w.editor.OnChange(func(content string) {
		if w.loading.Load() {
			return
		}
		w.autosave.NotifyContentChanged(content)
	})

	w.gen = opts.Generator
	if w.gen == nil {
		w.gen = generation.FromConfig(cfg, logger)
	}
	w.machine = progress.New(progress.Options{
		Store:     w.gw,
		Session:   w.session,
		Catalog:   catalog,
		Generator: w.gen,
		Timeout:   cfg.GenerationTimeout(),
		OnPersist: w.observe,
		Logger:    logger,
		Now:       now,
	})

	w.hydration.OnHydrated(func(state hydration.State, err error) {
		w.session.NotifyHydrated()
		w.logger.Info("session hydrated", zap.String("state", string(state)), zap.Error(err))
	})
	if err := w.hydration.Start(baseCtx, w.hydrate); err != nil {
		w.Close(ctx)
		return nil, err
	}

	if w.gw.HasRemote() {
		w.watchWG.Add(1)
		go func() {
			defer w.watchWG.Done()
			w.gw.Watch(baseCtx, cfg.ConnectivityInterval(), func(r gateway.ReconcileReport) {
				w.session.SetPendingSync(r.Remaining > 0)
			})
		}()
	}
	return w, nil
}

// hydrate restores prefs, the active document and its progress from the
// local cache, after upgrading stale records. Unreadable records are
// replaced by defaults and reported as an error once the session is
// restored, so the gate opens in StateHydratedWithError.
func (w *Workspace) hydrate(ctx context.Context) error {
	var unreadable []string

	if _, err := w.gw.MigrateLocal(ctx); err != nil {
		return fmt.Errorf("migrate local records: %w", err)
	}

	prefs, res, err := w.gw.LoadLocalPrefs(ctx)
	if err != nil {
		return fmt.Errorf("load prefs: %w", err)
	}
	if res.Corrupt {
		w.logger.Warn("session prefs unreadable; using defaults")
		unreadable = append(unreadable, "session prefs")
	}
	snap := session.Snapshot{Prefs: prefs}

	if id := prefs.ActiveDocumentID; id != "" {
		d, res, err := w.gw.LoadLocalDocument(ctx, id)
		switch {
		case errors.Is(err, errors.ErrNotFound):
			w.logger.Info("last active document no longer exists", zap.String("document_id", id))
		case err != nil:
			return fmt.Errorf("load document %s: %w", id, err)
		case res.Corrupt:
			w.logger.Warn("last active document unreadable", zap.String("document_id", id))
			unreadable = append(unreadable, "document "+id)
		default:
			snap.ActiveDocument = d
		}

		if snap.ActiveDocument != nil {
			p, res, err := w.gw.LoadLocalProgress(ctx, id)
			if err != nil && !errors.Is(err, errors.ErrNotFound) {
				return fmt.Errorf("load progress %s: %w", id, err)
			}
			if res.Corrupt {
				unreadable = append(unreadable, "progress "+id)
			}
			snap.Progress = p
		}
	}

	pending, err := w.gw.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("count pending: %w", err)
	}
	snap.PendingSync = pending > 0

	if err := w.session.Restore(snap); err != nil {
		return err
	}
	if snap.ActiveDocument != nil {
		w.loadEditor(snap.ActiveDocument.Content)
	}
	if len(unreadable) > 0 {
		return fmt.Errorf("unreadable local records: %s", strings.Join(unreadable, ", "))
	}
	return nil
}

// Wait blocks until hydration finished.
func (w *Workspace) Wait(ctx context.Context) error {
	return w.hydration.Wait(ctx)
}

// Hydration exposes the hydration gate.
func (w *Workspace) Hydration() *hydration.Controller { return w.hydration }

// Session exposes the session store read models.
func (w *Workspace) Session() *session.Store { return w.session }

// Editor exposes the editing component.
func (w *Workspace) Editor() *editor.Buffer { return w.editor }

// Catalog returns the template and tool catalog.
func (w *Workspace) Catalog() *template.Catalog { return w.catalog }

// Gateway returns the durable store gateway.
func (w *Workspace) Gateway() *gateway.Gateway { return w.gw }

// Context returns ctx carrying the workspace user.
func (w *Workspace) Context(ctx context.Context) context.Context {
	return identity.WithUser(ctx, w.userID)
}

// Flush writes unsaved editor changes now.
func (w *Workspace) Flush(ctx context.Context) error {
	if !w.hydration.IsHydrated() {
		return nil
	}
	return w.autosave.Flush(w.Context(ctx))
}

// Reconcile checks the remote store and pushes pending writes.
func (w *Workspace) Reconcile(ctx context.Context) (gateway.ReconcileReport, error) {
	report, err := w.gw.Reconcile(w.Context(ctx))
	if err != nil {
		return report, err
	}
	w.session.SetPendingSync(report.Remaining > 0)
	return report, nil
}

// Close flushes unsaved changes and releases every resource.
func (w *Workspace) Close(ctx context.Context) error {
	var flushErr error
	w.closeOnce.Do(func() {
		if w.hydration.IsHydrated() {
			flushErr = w.autosave.Flush(w.Context(ctx))
		}
		w.autosave.Stop()
		w.cancel()
		w.watchWG.Wait()

		// Hydration runs on baseCtx; wait for it before closing the database.
		if w.hydration.State() != hydration.StateUninitialized {
			_ = w.hydration.Wait(ctx)
		}

		if err := w.session.Close(); err != nil {
			w.logger.Warn("close session", zap.Error(err))
		}
		if w.remote != nil {
			if err := w.remote.Close(); err != nil {
				w.logger.Warn("close remote store", zap.Error(err))
			}
		}
		if err := w.db.Close(); err != nil {
			w.logger.Warn("close local cache", zap.Error(err))
		}
	})
	return flushErr
}

// observe maps a gateway write result onto the session flags.
func (w *Workspace) observe(res gateway.Result, err error) {
	if err != nil {
		if errors.Is(err, errors.ErrQuotaExceeded) {
			w.session.SetStorageFull(true)
		}
		return
	}
	w.session.SetStorageFull(false)
	if res.Location == gateway.LocationLocalFallback {
		w.session.SetPendingSync(true)
	}
}

func (w *Workspace) loadEditor(content string) {
	w.loading.Store(true)
	defer w.loading.Store(false)
	w.editor.SetContent(content)
}
