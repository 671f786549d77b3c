package gateway

import (
	"context"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
)

// SaveDocument writes d as a whole record stamped with the gateway clock.
func (g *Gateway) SaveDocument(ctx context.Context, d *document.Document) (Result, error) {
	if d == nil || d.ID == "" {
		return Result{Location: LocationFailed}, errors.NewInvalidRequest("document id is required")
	}
	rec, err := document.NewRecord(document.DocumentKey(d.ID), d, g.now())
	if err != nil {
		return Result{Location: LocationFailed}, errors.NewInternal(err)
	}
	return g.Save(ctx, rec)
}

// LoadDocument reads document id. A corrupt record yields (nil, Result{Corrupt: true}, nil).
func (g *Gateway) LoadDocument(ctx context.Context, id string) (*document.Document, Result, error) {
	var d document.Document
	ok, res, err := g.loadInto(ctx, document.DocumentKey(id), &d, false)
	if err != nil || !ok {
		return nil, res, err
	}
	return &d, res, nil
}

// SaveProgress writes p as a whole record.
func (g *Gateway) SaveProgress(ctx context.Context, p *document.GenerationProgress) (Result, error) {
	if p == nil || p.DocumentID == "" {
		return Result{Location: LocationFailed}, errors.NewInvalidRequest("progress document id is required")
	}
	now := g.now()
	p.UpdatedAt = now
	rec, err := document.NewRecord(document.ProgressKey(p.DocumentID), p, now)
	if err != nil {
		return Result{Location: LocationFailed}, errors.NewInternal(err)
	}
	return g.Save(ctx, rec)
}

// LoadProgress reads the progress of documentID.
func (g *Gateway) LoadProgress(ctx context.Context, documentID string) (*document.GenerationProgress, Result, error) {
	var p document.GenerationProgress
	ok, res, err := g.loadInto(ctx, document.ProgressKey(documentID), &p, false)
	if err != nil || !ok {
		return nil, res, err
	}
	if p.SectionData == nil {
		p.SectionData = make(map[string]*document.SectionRecord)
	}
	return &p, res, nil
}

// SavePrefs writes the persisted session subset.
func (g *Gateway) SavePrefs(ctx context.Context, prefs document.Prefs) (Result, error) {
	rec, err := document.NewRecord(document.SessionKey(), prefs, g.now())
	if err != nil {
		return Result{Location: LocationFailed}, errors.NewInternal(err)
	}
	return g.Save(ctx, rec)
}

// LoadPrefs reads the persisted session subset. Missing or corrupt prefs
// yield the zero Prefs.
func (g *Gateway) LoadPrefs(ctx context.Context) (document.Prefs, Result, error) {
	var prefs document.Prefs
	_, res, err := g.loadInto(ctx, document.SessionKey(), &prefs, false)
	if errors.Is(err, errors.ErrNotFound) {
		return document.Prefs{}, res, nil
	}
	return prefs, res, err
}

// LoadLocalDocument, LoadLocalProgress and LoadLocalPrefs read the local layer only.

func (g *Gateway) LoadLocalDocument(ctx context.Context, id string) (*document.Document, Result, error) {
	var d document.Document
	ok, res, err := g.loadInto(ctx, document.DocumentKey(id), &d, true)
	if err != nil || !ok {
		return nil, res, err
	}
	return &d, res, nil
}

func (g *Gateway) LoadLocalProgress(ctx context.Context, documentID string) (*document.GenerationProgress, Result, error) {
	var p document.GenerationProgress
	ok, res, err := g.loadInto(ctx, document.ProgressKey(documentID), &p, true)
	if err != nil || !ok {
		return nil, res, err
	}
	if p.SectionData == nil {
		p.SectionData = make(map[string]*document.SectionRecord)
	}
	return &p, res, nil
}

func (g *Gateway) LoadLocalPrefs(ctx context.Context) (document.Prefs, Result, error) {
	var prefs document.Prefs
	_, res, err := g.loadInto(ctx, document.SessionKey(), &prefs, true)
	if errors.Is(err, errors.ErrNotFound) {
		return document.Prefs{}, res, nil
	}
	return prefs, res, err
}

// DeleteDocument removes a document and its generation progress from both layers.
func (g *Gateway) DeleteDocument(ctx context.Context, id string) (Result, error) {
	if _, err := g.Delete(ctx, document.ProgressKey(id)); err != nil {
		return Result{Location: LocationFailed}, err
	}
	return g.Delete(ctx, document.DocumentKey(id))
}

// loadInto loads key and decodes it into v. It reports false with a nil
// error for the corrupt sentinel.
func (g *Gateway) loadInto(ctx context.Context, key document.Key, v any, localOnly bool) (bool, Result, error) {
	var (
		rec document.Record
		res Result
		err error
	)
	if localOnly {
		rec, res, err = g.LoadLocal(ctx, key)
	} else {
		rec, res, err = g.Load(ctx, key)
	}
	if err != nil {
		return false, res, err
	}
	if res.Corrupt {
		return false, res, nil
	}
	if err := rec.Decode(v); err != nil {
		g.logger.Warn("corrupt record payload", zap.String("key", key.String()), zap.Error(err))
		res.Corrupt = true
		return false, res, nil
	}
	return true, res, nil
}
