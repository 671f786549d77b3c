package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	d, err := New("proj-1", "Draft", "Hello there", now)
	require.NoError(t, err)

	assert.Len(t, d.ID, 26, "ULID length")
	assert.Equal(t, "proj-1", d.ProjectID)
	assert.Equal(t, 2, d.Metadata.WordCount)
	assert.Equal(t, now, d.CreatedAt)
}

func TestSetContent_RecomputesMetadata(t *testing.T) {
	d := &Document{ID: "d1"}
	later := time.Now()
	d.SetContent("one two three", later)

	assert.Equal(t, 3, d.Metadata.WordCount)
	assert.Equal(t, 13, d.Metadata.CharCount)
	assert.Equal(t, later, d.UpdatedAt)
}

func TestMeasure_Markdown(t *testing.T) {
	cases := []struct {
		name  string
		in    string
		words int
		chars int
	}{
		{"empty", "", 0, 0},
		{"heading and emphasis", "# Title\n\nHello **world**", 3, 16},
		{"link text only", "See [the docs](https://example.com/very/long).", 3, 13},
		{"code block counted", "```\nx := 1\n```", 3, 6},
		{"multibyte", "héllo wörld", 2, 11},
		{"soft break", "line one\nline two", 4, 17},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := Measure(tc.in)
			assert.Equal(t, tc.words, m.WordCount, "words of %q (plain %q)", tc.in, PlainText(tc.in))
			assert.Equal(t, tc.chars, m.CharCount, "chars of %q (plain %q)", tc.in, PlainText(tc.in))
		})
	}
}

func TestProgressClone_Deep(t *testing.T) {
	content := "generated"
	done := time.Now()
	p := NewProgress("d1", "blog", 3, done)
	p.SectionData["intro"] = &SectionRecord{
		FormData:         map[string]string{"topic": "Go"},
		GeneratedContent: &content,
		CompletedAt:      &done,
	}

	c := p.Clone()
	c.SectionData["intro"].FormData["topic"] = "Rust"
	*c.SectionData["intro"].GeneratedContent = "changed"

	assert.Equal(t, "Go", p.SectionData["intro"].FormData["topic"])
	assert.Equal(t, "generated", *p.SectionData["intro"].GeneratedContent)
	assert.True(t, p.SectionData["intro"].Generated())
}

func TestProgressInRange(t *testing.T) {
	p := NewProgress("d1", "blog", 2, time.Now())
	assert.True(t, p.InRange(0))
	assert.True(t, p.InRange(1))
	assert.False(t, p.InRange(2))
	assert.False(t, p.InRange(-1))
}

func TestRecord_RoundTrip(t *testing.T) {
	d := &Document{ID: "d1", Title: "T", Content: "Hello", Metadata: Measure("Hello")}
	rec, err := NewRecord(DocumentKey("d1"), d, time.Now())
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, rec.SchemaVersion)

	var out Document
	require.NoError(t, rec.Decode(&out))
	assert.Equal(t, d.Content, out.Content)
	assert.Equal(t, d.Metadata, out.Metadata)
}

func TestMigrate_V1Document(t *testing.T) {
	rec := Record{
		Key:           DocumentKey("d1"),
		SchemaVersion: 1,
		Payload:       json.RawMessage(`{"id":"d1","title":"Old","content":"three little words"}`),
	}

	var out Document
	require.NoError(t, rec.Decode(&out))
	assert.Equal(t, 3, out.Metadata.WordCount)

	migrated, err := Migrate(rec)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, migrated.SchemaVersion)
}

func TestMigrate_V1Progress(t *testing.T) {
	rec := Record{
		Key:           ProgressKey("d1"),
		SchemaVersion: 1,
		Payload:       json.RawMessage(`{"document_id":"d1","template_id":"blog","total_sections":2}`),
	}

	var out GenerationProgress
	require.NoError(t, rec.Decode(&out))
	assert.Equal(t, StatusActive, out.Status)
	assert.NotNil(t, out.SectionData)
}

func TestMigrate_FutureVersionRejected(t *testing.T) {
	rec := Record{Key: DocumentKey("d1"), SchemaVersion: CurrentSchemaVersion + 1, Payload: json.RawMessage(`{}`)}
	_, err := Migrate(rec)
	assert.Error(t, err)
}

func TestRecord_DecodeCorrupt(t *testing.T) {
	rec := Record{Key: DocumentKey("d1"), SchemaVersion: CurrentSchemaVersion, Payload: json.RawMessage(`{not json`)}
	var out Document
	assert.Error(t, rec.Decode(&out))
}
