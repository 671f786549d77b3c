package editor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuffer_SelectDeleteInsert(t *testing.T) {
	b := NewBuffer("The quick brown fox")

	var changes []string
	b.OnChange(func(c string) { changes = append(changes, c) })

	require.NoError(t, b.Select(4, 9))
	text, from, to := b.Selection()
	assert.Equal(t, "quick", text)
	assert.Equal(t, 4, from)
	assert.Equal(t, 9, to)

	b.DeleteSelection()
	b.InsertText("slow")

	assert.Equal(t, "The slow brown fox", b.Content())
	assert.Equal(t, []string{"The  brown fox", "The slow brown fox"}, changes)

	_, from, to = b.Selection()
	assert.Equal(t, 8, from, "caret after inserted text")
	assert.Equal(t, 8, to)
}

func TestBuffer_RuneOffsets(t *testing.T) {
	b := NewBuffer("héllo wörld")
	assert.Equal(t, 11, b.Len())

	require.NoError(t, b.Select(6, 11))
	text, _, _ := b.Selection()
	assert.Equal(t, "wörld", text)
}

func TestBuffer_SelectOutOfBounds(t *testing.T) {
	b := NewBuffer("abc")
	assert.Error(t, b.Select(2, 5))
	assert.Error(t, b.Select(-1, 1))
	assert.Error(t, b.Select(2, 1))
}

func TestBuffer_InsertReplacesSelection(t *testing.T) {
	b := NewBuffer("abc")
	require.NoError(t, b.Select(1, 2))
	b.InsertText("XY")
	assert.Equal(t, "aXYc", b.Content())
}

func TestBuffer_EmptyDeleteDoesNotFire(t *testing.T) {
	b := NewBuffer("abc")
	fired := 0
	b.OnChange(func(string) { fired++ })
	b.DeleteSelection()
	assert.Equal(t, 0, fired)
}

func TestBuffer_SelectionListener(t *testing.T) {
	b := NewBuffer("hello world")

	var got []string
	b.OnSelectionChange(func(text string, from, to int) { got = append(got, text) })

	require.NoError(t, b.Select(0, 5))
	b.SetContent("new")
	assert.Equal(t, []string{"hello", ""}, got)
}

func TestBuffer_Type(t *testing.T) {
	b := NewBuffer("")
	b.Type("Hel")
	b.Type("lo")
	assert.Equal(t, "Hello", b.Content())
}
