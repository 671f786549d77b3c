package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/editor"
	"github.com/hpungsan/inkwell/internal/errors"
)

type recordingPublisher struct {
	last  *document.Selection
	calls int
}

func (p *recordingPublisher) SetSelection(sel *document.Selection) {
	p.last = sel
	p.calls++
}

func TestTracker_CapturesSelection(t *testing.T) {
	buf := editor.NewBuffer("Make this shorter please")
	pub := &recordingPublisher{}
	tr := New(buf, pub, nil)

	require.NoError(t, buf.Select(5, 9))

	sel := tr.Current()
	require.NotNil(t, sel)
	assert.Equal(t, "this", sel.Text)
	assert.Equal(t, document.Range{From: 5, To: 9}, sel.Range)
	assert.Equal(t, 24, sel.ContentLength)
	assert.Equal(t, sel, pub.last)
}

func TestTracker_CollapsedIsNil(t *testing.T) {
	buf := editor.NewBuffer("abc")
	tr := New(buf, nil, nil)

	require.NoError(t, buf.Select(0, 2))
	require.NotNil(t, tr.Current())

	require.NoError(t, buf.Select(1, 1))
	assert.Nil(t, tr.Current())
}

func TestReplaceSelection(t *testing.T) {
	buf := editor.NewBuffer("The quick brown fox")
	tr := New(buf, nil, nil)

	var changes int
	buf.OnChange(func(string) { changes++ })

	require.NoError(t, buf.Select(4, 9))
	sel := tr.Current()

	require.NoError(t, tr.ReplaceSelection(sel, "sleepy"))
	assert.Equal(t, "The sleepy brown fox", buf.Content())
	assert.Equal(t, 2, changes, "delete and insert both notify listeners")
}

func TestReplaceSelection_StaleAfterEdit(t *testing.T) {
	buf := editor.NewBuffer("The quick brown fox")
	tr := New(buf, nil, nil)

	require.NoError(t, buf.Select(4, 9))
	sel := tr.Current()

	// Intervening edit shifts the text.
	buf.SetContent("A The quick brown fox")
	before := buf.Content()

	err := tr.ReplaceSelection(sel, "slow")
	assert.True(t, errors.Is(err, errors.ErrSelectionStale), "got %v", err)
	assert.Equal(t, before, buf.Content(), "stale replace must not mutate content")
}

func TestReplaceSelection_StaleSameLengthDifferentText(t *testing.T) {
	buf := editor.NewBuffer("abcdef")
	tr := New(buf, nil, nil)

	require.NoError(t, buf.Select(1, 3))
	sel := tr.Current()

	buf.SetContent("aXYdef")
	err := tr.ReplaceSelection(sel, "zz")
	assert.True(t, errors.Is(err, errors.ErrSelectionStale))
	assert.Equal(t, "aXYdef", buf.Content())
}

func TestReplaceSelection_OutOfBounds(t *testing.T) {
	buf := editor.NewBuffer("abcdef")
	tr := New(buf, nil, nil)

	sel := &document.Selection{Text: "ef", Range: document.Range{From: 4, To: 6}, ContentLength: 6}
	buf.SetContent("abc")

	err := tr.ReplaceSelection(sel, "x")
	assert.True(t, errors.Is(err, errors.ErrSelectionStale))
}

func TestReplaceSelection_Empty(t *testing.T) {
	tr := New(editor.NewBuffer("abc"), nil, nil)
	err := tr.ReplaceSelection(nil, "x")
	assert.True(t, errors.Is(err, errors.ErrInvalidRequest))
}
