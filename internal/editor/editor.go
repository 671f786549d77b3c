// Package editor defines the editing component the session drives, and a
// rune-based Buffer implementing it.
package editor

import (
	"fmt"
	"sync"
)

// Component is the rich-text editing component. Offsets are rune offsets.
//
// Every mutation fires the change listeners. Range replacement goes through
// the selection model (Select, DeleteSelection, InsertText) so listeners
// always observe it.
type Component interface {
	Content() string
	SetContent(content string)
	Len() int

	// Select sets the selection to [from, to).
	Select(from, to int) error
	// Selection returns the selected text and range.
	Selection() (text string, from, to int)
	// DeleteSelection removes the selected text and collapses the selection.
	DeleteSelection()
	// InsertText inserts text at the caret, replacing any selection.
	InsertText(text string)

	OnChange(fn func(content string))
	OnSelectionChange(fn func(text string, from, to int))
}

// Buffer is an in-memory Component.
type Buffer struct {
	mu       sync.Mutex
	text     []rune
	from, to int

	listenersMu        sync.Mutex
	changeListeners    []func(string)
	selectionListeners []func(string, int, int)
}

var _ Component = (*Buffer)(nil)

// NewBuffer creates a buffer holding content with the caret at the end.
func NewBuffer(content string) *Buffer {
	b := &Buffer{text: []rune(content)}
	b.from, b.to = len(b.text), len(b.text)
	return b
}

func (b *Buffer) Content() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text)
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.text)
}

// SetContent replaces the whole content and moves the caret to the end.
func (b *Buffer) SetContent(content string) {
	b.mu.Lock()
	b.text = []rune(content)
	b.from, b.to = len(b.text), len(b.text)
	b.mu.Unlock()

	b.fireChange()
	b.fireSelection()
}

func (b *Buffer) Select(from, to int) error {
	b.mu.Lock()
	if from < 0 || to < from || to > len(b.text) {
		n := len(b.text)
		b.mu.Unlock()
		return fmt.Errorf("selection [%d,%d) out of bounds for length %d", from, to, n)
	}
	b.from, b.to = from, to
	b.mu.Unlock()

	b.fireSelection()
	return nil
}

func (b *Buffer) Selection() (string, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.text[b.from:b.to]), b.from, b.to
}

func (b *Buffer) DeleteSelection() {
	b.mu.Lock()
	if b.from == b.to {
		b.mu.Unlock()
		return
	}
	b.text = append(b.text[:b.from:b.from], b.text[b.to:]...)
	b.to = b.from
	b.mu.Unlock()

	b.fireChange()
	b.fireSelection()
}

func (b *Buffer) InsertText(text string) {
	ins := []rune(text)

	b.mu.Lock()
	next := make([]rune, 0, len(b.text)-(b.to-b.from)+len(ins))
	next = append(next, b.text[:b.from]...)
	next = append(next, ins...)
	next = append(next, b.text[b.to:]...)
	b.text = next
	b.from += len(ins)
	b.to = b.from
	b.mu.Unlock()

	b.fireChange()
	b.fireSelection()
}

// Type appends text at the end, as if typed with the caret there.
func (b *Buffer) Type(text string) {
	b.mu.Lock()
	b.from, b.to = len(b.text), len(b.text)
	b.mu.Unlock()
	b.InsertText(text)
}

func (b *Buffer) OnChange(fn func(string)) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.changeListeners = append(b.changeListeners, fn)
}

func (b *Buffer) OnSelectionChange(fn func(string, int, int)) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	b.selectionListeners = append(b.selectionListeners, fn)
}

func (b *Buffer) fireChange() {
	content := b.Content()
	b.listenersMu.Lock()
	listeners := append([]func(string){}, b.changeListeners...)
	b.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(content)
	}
}

func (b *Buffer) fireSelection() {
	text, from, to := b.Selection()
	b.listenersMu.Lock()
	listeners := append([]func(string, int, int){}, b.selectionListeners...)
	b.listenersMu.Unlock()
	for _, fn := range listeners {
		fn(text, from, to)
	}
}
