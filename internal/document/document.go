package document

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// Document is one rich-text document owned by a project.
type Document struct {
	// ID is a ULID that uniquely identifies this document
	ID string `json:"id"`

	// ProjectID is the owning project
	ProjectID string `json:"project_id,omitempty"`

	Title string `json:"title"`

	// Content is the markdown payload produced by the editing component
	Content string `json:"content"`

	Metadata Metadata `json:"metadata"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata holds derived text metrics.
type Metadata struct {
	WordCount int `json:"word_count"`
	CharCount int `json:"char_count"`
}

// New creates a document with a fresh ULID and computed metrics.
func New(projectID, title, content string, now time.Time) (*Document, error) {
	id, err := NewID(now)
	if err != nil {
		return nil, err
	}
	return &Document{
		ID:        id,
		ProjectID: projectID,
		Title:     title,
		Content:   content,
		Metadata:  Measure(content),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// SetContent replaces the content and recomputes metrics.
func (d *Document) SetContent(content string, now time.Time) {
	d.Content = content
	d.Metadata = Measure(content)
	d.UpdatedAt = now
}

// Clone returns a copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// NewID generates a new ULID.
func NewID(now time.Time) (string, error) {
	entropy := ulid.Monotonic(rand.Reader, 0)
	id, err := ulid.New(ulid.Timestamp(now), entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
