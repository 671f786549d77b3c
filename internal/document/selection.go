package document

// Range is a [From, To) pair of rune offsets into document content.
type Range struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// Empty reports whether the range is collapsed.
func (r Range) Empty() bool {
	return r.To <= r.From
}

// Selection is the text spanned by a range at capture time.
// A nil *Selection means nothing is selected.
type Selection struct {
	Text  string `json:"text"`
	Range Range  `json:"range"`

	// ContentLength is the rune length of the whole document when captured.
	ContentLength int `json:"content_length"`
}

// Prefs is the whitelisted subset of session state that survives a reload.
type Prefs struct {
	ActiveDocumentID string `json:"active_document_id,omitempty"`
	PanelLayout      Layout `json:"panel_layout"`
	ActiveToolID     string `json:"active_tool_id,omitempty"`
}

// Layout describes which side panels are open.
type Layout struct {
	Sidebar        bool `json:"sidebar"`
	ToolPanel      bool `json:"tool_panel"`
	ToolPanelWidth int  `json:"tool_panel_width,omitempty"`
}
