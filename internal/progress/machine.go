// Package progress drives multi-section template generation for a document.
//
// Every step is a read-modify-write of the whole GenerationProgress record:
// the record is reloaded after generation returns, exactly one section is
// replaced, and the result is saved as one write.
package progress

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/gateway"
	"github.com/hpungsan/inkwell/internal/generation"
	"github.com/hpungsan/inkwell/internal/logging"
	"github.com/hpungsan/inkwell/internal/session"
	"github.com/hpungsan/inkwell/internal/template"
)

// DefaultTimeout bounds one generation call when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Store persists progress records.
type Store interface {
	LoadProgress(ctx context.Context, documentID string) (*document.GenerationProgress, gateway.Result, error)
	SaveProgress(ctx context.Context, p *document.GenerationProgress) (gateway.Result, error)
}

// Session is the subset of the session store the machine reads and updates.
type Session interface {
	ActiveToken() (session.Token, error)
	IsCurrent(t session.Token) bool
	SetProgress(p *document.GenerationProgress) error
}

// Options configures a Machine.
type Options struct {
	Store     Store
	Session   Session
	Catalog   *template.Catalog
	Generator generation.Generator

	// Timeout bounds each generation call.
	Timeout time.Duration

	// OnPersist observes every progress write result.
	OnPersist func(gateway.Result, error)

	Logger *zap.Logger
	Now    func() time.Time
}

// Machine runs the generation workflow.
type Machine struct {
	store     Store
	session   Session
	catalog   *template.Catalog
	gen       generation.Generator
	timeout   time.Duration
	onPersist func(gateway.Result, error)
	logger    *zap.Logger
	now       func() time.Time

	// inflight holds one entry per (document, section) call outstanding.
	// Entries expire after the generation timeout so a lost release cannot
	// lock a section forever.
	inflight *cache.Cache
}

// New creates a Machine.
func New(opts Options) *Machine {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		store:     opts.Store,
		session:   opts.Session,
		catalog:   opts.Catalog,
		gen:       opts.Generator,
		timeout:   timeout,
		onPersist: opts.OnPersist,
		logger:    logging.OrNop(opts.Logger).Named("progress"),
		now:       now,
		inflight:  cache.New(timeout, 2*timeout),
	}
}

// AdvanceResult is the outcome of a successful Advance or Regenerate.
type AdvanceResult struct {
	Progress  *document.GenerationProgress `json:"progress"`
	SectionID string                       `json:"section_id"`
	Content   string                       `json:"content"`
}

// Start begins a workflow for documentID. An active workflow for the same
// template is returned unchanged; anything else is replaced.
func (m *Machine) Start(ctx context.Context, documentID, templateID string) (*document.GenerationProgress, error) {
	if documentID == "" {
		return nil, errors.NewInvalidRequest("document_id is required")
	}
	tmpl, err := m.catalog.Template(templateID)
	if err != nil {
		return nil, err
	}

	existing, err := m.load(ctx, documentID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}
	if existing != nil && existing.Status == document.StatusActive && existing.TemplateID == templateID {
		return existing, nil
	}

	p := document.NewProgress(documentID, tmpl.ID, len(tmpl.Sections), m.now())
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("generation started",
		zap.String("document_id", documentID),
		zap.String("template_id", templateID),
		zap.Int("sections", p.TotalSections),
	)
	return p, nil
}

// SaveDraft stores formData for section idx without generating.
func (m *Machine) SaveDraft(ctx context.Context, documentID string, idx int, formData map[string]string) (*document.GenerationProgress, error) {
	return m.update(ctx, documentID, func(p *document.GenerationProgress, tmpl *template.Template) error {
		s, err := m.section(p, tmpl, idx)
		if err != nil {
			return err
		}
		rec := p.Section(s.ID).Clone()
		if rec == nil {
			rec = &document.SectionRecord{}
		}
		rec.FormData = cloneForm(formData)
		p.SectionData[s.ID] = rec
		return nil
	})
}

// Advance generates section idx from formData and the context sections it
// names, stores the section record and moves to the next section. On failure
// the form data of an incomplete section is kept as a draft and nothing else
// changes.
func (m *Machine) Advance(ctx context.Context, documentID string, idx int, formData map[string]string) (*AdvanceResult, error) {
	release, err := m.acquire(documentID, idx)
	if err != nil {
		return nil, err
	}
	defer release()

	token, err := m.activeToken(documentID)
	if err != nil {
		return nil, err
	}

	p, tmpl, err := m.loadWithTemplate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s, err := m.section(p, tmpl, idx)
	if err != nil {
		return nil, err
	}
	prompt, err := tmpl.Compose(idx, formData, priorContent(p, s.ID))
	if err != nil {
		return nil, err
	}

	// Keep what the user typed even if generation fails, unless the section
	// is already complete: a failed re-advance leaves its record untouched.
	if rec := p.Section(s.ID); rec == nil || rec.CompletedAt == nil {
		if _, err := m.SaveDraft(ctx, documentID, idx, formData); err != nil {
			return nil, err
		}
	}

	content, err := m.generate(ctx, token, generation.Request{
		Kind:       generation.KindSection,
		TemplateID: tmpl.ID,
		SectionID:  s.ID,
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	out, err := m.update(ctx, documentID, func(p *document.GenerationProgress, tmpl *template.Template) error {
		now := m.now()
		p.SectionData[s.ID] = &document.SectionRecord{
			FormData:         cloneForm(formData),
			GeneratedContent: &content,
			CompletedAt:      &now,
		}
		moveNext(p, tmpl, idx)
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("section generated",
		zap.String("document_id", documentID),
		zap.String("section_id", s.ID),
		zap.Int("section_index", idx),
		zap.String("status", string(out.Status)),
	)
	return &AdvanceResult{Progress: out, SectionID: s.ID, Content: content}, nil
}

// Regenerate re-runs section idx from its stored form data and replaces
// only that section's record. The current index does not move.
func (m *Machine) Regenerate(ctx context.Context, documentID string, idx int) (*AdvanceResult, error) {
	release, err := m.acquire(documentID, idx)
	if err != nil {
		return nil, err
	}
	defer release()

	token, err := m.activeToken(documentID)
	if err != nil {
		return nil, err
	}

	p, tmpl, err := m.loadWithTemplate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	s, err := m.section(p, tmpl, idx)
	if err != nil {
		return nil, err
	}
	stored := p.Section(s.ID)
	if stored == nil || stored.FormData == nil {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("section %q has no stored form data", s.ID))
	}
	prompt, err := tmpl.Compose(idx, stored.FormData, priorContent(p, s.ID))
	if err != nil {
		return nil, err
	}

	content, err := m.generate(ctx, token, generation.Request{
		Kind:       generation.KindSection,
		TemplateID: tmpl.ID,
		SectionID:  s.ID,
		Prompt:     prompt,
	})
	if err != nil {
		return nil, err
	}

	out, err := m.update(ctx, documentID, func(p *document.GenerationProgress, _ *template.Template) error {
		rec := p.Section(s.ID).Clone()
		if rec == nil {
			return errors.NewNotFound("section record", s.ID)
		}
		now := m.now()
		rec.GeneratedContent = &content
		rec.CompletedAt = &now
		rec.WasModified = false
		rec.Skipped = false
		p.SectionData[s.ID] = rec
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("section regenerated",
		zap.String("document_id", documentID),
		zap.String("section_id", s.ID),
		zap.Int("section_index", idx),
	)
	return &AdvanceResult{Progress: out, SectionID: s.ID, Content: content}, nil
}

// Skip marks section idx complete without content and moves on. It does not
// call the generator.
func (m *Machine) Skip(ctx context.Context, documentID string, idx int) (*document.GenerationProgress, error) {
	release, err := m.acquire(documentID, idx)
	if err != nil {
		return nil, err
	}
	defer release()

	return m.update(ctx, documentID, func(p *document.GenerationProgress, tmpl *template.Template) error {
		s, err := m.section(p, tmpl, idx)
		if err != nil {
			return err
		}
		rec := p.Section(s.ID).Clone()
		if rec == nil {
			rec = &document.SectionRecord{}
		}
		now := m.now()
		rec.GeneratedContent = nil
		rec.CompletedAt = &now
		rec.WasModified = false
		rec.Skipped = true
		p.SectionData[s.ID] = rec
		moveNext(p, tmpl, idx)
		return nil
	})
}

// Resume loads the document's progress and restores its current section.
// It is refused until the session is hydrated.
func (m *Machine) Resume(ctx context.Context, documentID string) (*Form, error) {
	if _, err := m.session.ActiveToken(); err != nil {
		return nil, err
	}
	p, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := m.session.SetProgress(p); err != nil {
		return nil, err
	}
	return m.Restore(p, p.CurrentSectionIndex)
}

// Navigate returns the form for section idx from freshly loaded progress.
// It does not move the current index.
func (m *Machine) Navigate(ctx context.Context, documentID string, idx int) (*Form, error) {
	p, err := m.load(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return m.Restore(p, idx)
}

// MarkModified records that the user edited section idx's generated output.
func (m *Machine) MarkModified(ctx context.Context, documentID string, idx int) (*document.GenerationProgress, error) {
	return m.update(ctx, documentID, func(p *document.GenerationProgress, tmpl *template.Template) error {
		s, err := m.section(p, tmpl, idx)
		if err != nil {
			return err
		}
		rec := p.Section(s.ID).Clone()
		if !rec.Generated() {
			return errors.NewInvalidRequest(fmt.Sprintf("section %q has no generated content", s.ID))
		}
		rec.WasModified = true
		p.SectionData[s.ID] = rec
		return nil
	})
}

// Abandon ends the workflow without completing it.
func (m *Machine) Abandon(ctx context.Context, documentID string) (*document.GenerationProgress, error) {
	return m.update(ctx, documentID, func(p *document.GenerationProgress, _ *template.Template) error {
		p.Status = document.StatusAbandoned
		return nil
	})
}

// Overview summarizes a workflow.
type Overview struct {
	Progress *document.GenerationProgress `json:"progress"`
	Sections []SectionStatus              `json:"sections"`
}

// SectionStatus is the state of one section.
type SectionStatus struct {
	Index int          `json:"index"`
	ID    string       `json:"id"`
	Title string       `json:"title"`
	State SectionState `json:"state"`
}

// Status loads the workflow of documentID with per-section states.
func (m *Machine) Status(ctx context.Context, documentID string) (*Overview, error) {
	p, tmpl, err := m.loadWithTemplate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := &Overview{Progress: p}
	for i, s := range tmpl.Sections {
		out.Sections = append(out.Sections, SectionStatus{
			Index: i,
			ID:    s.ID,
			Title: s.Title,
			State: m.SectionState(p, i),
		})
	}
	return out, nil
}

// generate calls the generator under the timeout and discards the result
// when the caller went away or the active document changed meanwhile.
func (m *Machine) generate(ctx context.Context, token session.Token, req generation.Request) (string, error) {
	genCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	content, err := m.gen.Generate(genCtx, req)
	if err != nil {
		m.logger.Warn("section generation failed",
			zap.String("document_id", token.DocumentID),
			zap.String("section_id", req.SectionID),
			zap.Error(err),
		)
		if errors.Is(err, errors.ErrGenerationFailure) {
			return "", err
		}
		return "", errors.NewGenerationFailure(err)
	}
	if ctx.Err() != nil {
		return "", errors.NewResultDiscarded(token.DocumentID, "request cancelled")
	}
	if !m.session.IsCurrent(token) {
		m.logger.Info("discarding generation result",
			zap.String("document_id", token.DocumentID),
			zap.String("section_id", req.SectionID),
		)
		return "", errors.NewResultDiscarded(token.DocumentID, "active document changed")
	}
	return content, nil
}

func (m *Machine) acquire(documentID string, idx int) (func(), error) {
	key := fmt.Sprintf("%s:%d", documentID, idx)
	if err := m.inflight.Add(key, struct{}{}, m.timeout); err != nil {
		return nil, errors.NewInFlight(documentID, idx)
	}
	return func() { m.inflight.Delete(key) }, nil
}

func (m *Machine) inFlight(documentID string, idx int) bool {
	_, ok := m.inflight.Get(fmt.Sprintf("%s:%d", documentID, idx))
	return ok
}

func (m *Machine) activeToken(documentID string) (session.Token, error) {
	token, err := m.session.ActiveToken()
	if err != nil {
		return session.Token{}, err
	}
	if token.DocumentID != documentID {
		return session.Token{}, errors.NewInvalidRequest(fmt.Sprintf("document %s is not the active document", documentID))
	}
	return token, nil
}

// update reloads progress, applies fn and saves the whole record.
func (m *Machine) update(ctx context.Context, documentID string, fn func(*document.GenerationProgress, *template.Template) error) (*document.GenerationProgress, error) {
	p, tmpl, err := m.loadWithTemplate(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if err := fn(p, tmpl); err != nil {
		return nil, err
	}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (m *Machine) load(ctx context.Context, documentID string) (*document.GenerationProgress, error) {
	p, res, err := m.store.LoadProgress(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		if res.Corrupt {
			m.logger.Warn("progress record unreadable", zap.String("document_id", documentID))
		}
		return nil, errors.NewNotFound("progress", documentID)
	}
	return p, nil
}

func (m *Machine) loadWithTemplate(ctx context.Context, documentID string) (*document.GenerationProgress, *template.Template, error) {
	p, err := m.load(ctx, documentID)
	if err != nil {
		return nil, nil, err
	}
	tmpl, err := m.catalog.Template(p.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	return p, tmpl, nil
}

func (m *Machine) save(ctx context.Context, p *document.GenerationProgress) error {
	res, err := m.store.SaveProgress(ctx, p)
	if m.onPersist != nil {
		m.onPersist(res, err)
	}
	if err != nil {
		m.logger.Warn("progress write failed", zap.String("document_id", p.DocumentID), zap.Error(err))
		return err
	}
	if err := m.session.SetProgress(p); err != nil {
		m.logger.Debug("session progress not updated", zap.Error(err))
	}
	return nil
}

func (m *Machine) section(p *document.GenerationProgress, tmpl *template.Template, idx int) (*template.Section, error) {
	if p.Status == document.StatusAbandoned {
		return nil, errors.NewInvalidRequest("generation was abandoned")
	}
	if !p.InRange(idx) {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("section index %d out of range [0,%d)", idx, p.TotalSections))
	}
	return tmpl.Section(idx)
}

// moveNext positions p after section idx. The index never moves back past
// sections already reached and stays on the last section once the end is
// reached; the workflow completes when every section is generated or skipped.
func moveNext(p *document.GenerationProgress, tmpl *template.Template, idx int) {
	next := max(p.CurrentSectionIndex, idx+1)
	if next >= p.TotalSections {
		next = p.TotalSections - 1
	}
	p.CurrentSectionIndex = next

	for _, s := range tmpl.Sections {
		rec := p.Section(s.ID)
		if !rec.Generated() && (rec == nil || !rec.Skipped) {
			return
		}
	}
	p.Status = document.StatusCompleted
}

// priorContent maps section id to generated content for every section but exclude.
func priorContent(p *document.GenerationProgress, exclude string) map[string]string {
	out := make(map[string]string, len(p.SectionData))
	for id, rec := range p.SectionData {
		if id == exclude || !rec.Generated() {
			continue
		}
		out[id] = *rec.GeneratedContent
	}
	return out
}

func cloneForm(formData map[string]string) map[string]string {
	if formData == nil {
		return map[string]string{}
	}
	return maps.Clone(formData)
}
