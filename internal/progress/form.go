package progress

import (
	"maps"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/template"
)

// SectionState is the lifecycle of one section.
type SectionState string

const (
	StateNotStarted   SectionState = "not_started"
	StateDrafted      SectionState = "drafted"
	StateGenerated    SectionState = "generated"
	StateModified     SectionState = "modified"
	StateRegenerating SectionState = "regenerating"
	StateSkipped      SectionState = "skipped"
)

// Form is the editable surface of one section, pre-populated from progress.
type Form struct {
	DocumentID       string            `json:"document_id"`
	TemplateID       string            `json:"template_id"`
	SectionIndex     int               `json:"section_index"`
	SectionID        string            `json:"section_id"`
	Title            string            `json:"title"`
	Fields           []*template.Field `json:"fields"`
	FormData         map[string]string `json:"form_data"`
	GeneratedContent *string           `json:"generated_content,omitempty"`
	State            SectionState      `json:"state"`
	Status           document.Status   `json:"status"`
}

// Restore builds the form for section idx from p. It reads only p, never
// state captured elsewhere, so callers must pass the progress they just loaded.
func (m *Machine) Restore(p *document.GenerationProgress, idx int) (*Form, error) {
	if p == nil {
		return nil, errors.NewInvalidRequest("progress is required")
	}
	tmpl, err := m.catalog.Template(p.TemplateID)
	if err != nil {
		return nil, err
	}
	if !p.InRange(idx) {
		return nil, errors.NewInvalidRequest("section index out of range")
	}
	s, err := tmpl.Section(idx)
	if err != nil {
		return nil, err
	}

	f := &Form{
		DocumentID:   p.DocumentID,
		TemplateID:   p.TemplateID,
		SectionIndex: idx,
		SectionID:    s.ID,
		Title:        s.Title,
		Fields:       s.Fields,
		FormData:     map[string]string{},
		State:        m.SectionState(p, idx),
		Status:       p.Status,
	}
	if rec := p.Section(s.ID); rec != nil {
		if rec.FormData != nil {
			f.FormData = maps.Clone(rec.FormData)
		}
		if rec.GeneratedContent != nil {
			c := *rec.GeneratedContent
			f.GeneratedContent = &c
		}
	}
	return f, nil
}

// SectionState derives the state of section idx from p. A generated section
// with a call outstanding reports regenerating.
func (m *Machine) SectionState(p *document.GenerationProgress, idx int) SectionState {
	tmpl, err := m.catalog.Template(p.TemplateID)
	if err != nil || !p.InRange(idx) || idx >= len(tmpl.Sections) {
		return StateNotStarted
	}
	rec := p.Section(tmpl.Sections[idx].ID)
	state := stateOf(rec)
	if (state == StateGenerated || state == StateModified) && m.inFlight(p.DocumentID, idx) {
		return StateRegenerating
	}
	return state
}

func stateOf(rec *document.SectionRecord) SectionState {
	switch {
	case rec == nil:
		return StateNotStarted
	case rec.Skipped:
		return StateSkipped
	case rec.Generated() && rec.WasModified:
		return StateModified
	case rec.Generated():
		return StateGenerated
	case rec.FormData != nil:
		return StateDrafted
	default:
		return StateNotStarted
	}
}
