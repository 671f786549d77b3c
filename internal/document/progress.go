package document

import (
	"maps"
	"time"
)

// Status is the lifecycle of a multi-section generation workflow.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusAbandoned Status = "abandoned"
)

// GenerationProgress is the persisted state of a template-driven generation
// workflow for one document. Section order comes from the template, not from here.
type GenerationProgress struct {
	DocumentID          string                    `json:"document_id"`
	TemplateID          string                    `json:"template_id"`
	TotalSections       int                       `json:"total_sections"`
	CurrentSectionIndex int                       `json:"current_section_index"`
	Status              Status                    `json:"status"`
	SectionData         map[string]*SectionRecord `json:"section_data"`
	UpdatedAt           time.Time                 `json:"updated_at"`
}

// SectionRecord is the persisted unit of progress for one section.
type SectionRecord struct {
	FormData         map[string]string `json:"form_data"`
	GeneratedContent *string           `json:"generated_content"`
	CompletedAt      *time.Time        `json:"completed_at"`
	WasModified      bool              `json:"was_modified"`
	Skipped          bool              `json:"skipped,omitempty"`
}

// NewProgress creates an active workflow positioned on the first section.
func NewProgress(documentID, templateID string, totalSections int, now time.Time) *GenerationProgress {
	return &GenerationProgress{
		DocumentID:    documentID,
		TemplateID:    templateID,
		TotalSections: totalSections,
		Status:        StatusActive,
		SectionData:   make(map[string]*SectionRecord),
		UpdatedAt:     now,
	}
}

// Section returns the record for sectionID, or nil.
func (p *GenerationProgress) Section(sectionID string) *SectionRecord {
	if p == nil || p.SectionData == nil {
		return nil
	}
	return p.SectionData[sectionID]
}

// InRange reports whether idx addresses a section of this workflow.
func (p *GenerationProgress) InRange(idx int) bool {
	return idx >= 0 && idx < p.TotalSections
}

// Clone returns a deep copy.
func (p *GenerationProgress) Clone() *GenerationProgress {
	if p == nil {
		return nil
	}
	c := *p
	c.SectionData = make(map[string]*SectionRecord, len(p.SectionData))
	for id, rec := range p.SectionData {
		c.SectionData[id] = rec.Clone()
	}
	return &c
}

// Clone returns a deep copy.
func (r *SectionRecord) Clone() *SectionRecord {
	if r == nil {
		return nil
	}
	c := *r
	c.FormData = maps.Clone(r.FormData)
	if r.GeneratedContent != nil {
		s := *r.GeneratedContent
		c.GeneratedContent = &s
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Generated reports whether the section holds generated output.
func (r *SectionRecord) Generated() bool {
	return r != nil && r.GeneratedContent != nil && r.CompletedAt != nil
}
