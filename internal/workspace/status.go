package workspace

import (
	"context"

	"github.com/hpungsan/inkwell/internal/hydration"
)

// Status is a snapshot of the session for display.
type Status struct {
	Hydration        hydration.State `json:"hydration"`
	HydrationError   string          `json:"hydration_error,omitempty"`
	ActiveDocumentID string          `json:"active_document_id,omitempty"`
	Title            string          `json:"title,omitempty"`
	WordCount        int             `json:"word_count"`
	CharCount        int             `json:"char_count"`
	Unsaved          bool            `json:"unsaved"`
	PendingSync      bool            `json:"pending_sync"`
	PendingRecords   int             `json:"pending_records"`
	StorageFull      bool            `json:"storage_full"`
	UsedBytes        int64           `json:"used_bytes"`
	MaxBytes         int64           `json:"max_bytes"`
	Remote           bool            `json:"remote"`
	RemoteHealthy    bool            `json:"remote_healthy"`
}

// Status reports the session state. Before hydration only the hydration
// and sync fields are filled.
func (w *Workspace) Status(ctx context.Context) (*Status, error) {
	st := &Status{
		Hydration:     w.hydration.State(),
		PendingSync:   w.session.PendingSync(),
		StorageFull:   w.session.StorageFull(),
		MaxBytes:      w.cfg.LocalMaxBytes,
		Remote:        w.gw.HasRemote(),
		RemoteHealthy: w.gw.Healthy(),
	}
	if err := w.hydration.Err(); err != nil {
		st.HydrationError = err.Error()
	}
	if !st.Hydration.Done() {
		return st, nil
	}

	ctx = w.Context(ctx)
	var err error
	if st.PendingRecords, err = w.gw.PendingCount(ctx); err != nil {
		return nil, err
	}
	if st.UsedBytes, err = w.gw.UsedBytes(ctx); err != nil {
		return nil, err
	}

	d, err := w.ActiveDocument()
	if err != nil {
		return nil, err
	}
	if d != nil {
		st.ActiveDocumentID = d.ID
		st.Title = d.Title
		st.WordCount = d.Metadata.WordCount
		st.CharCount = d.Metadata.CharCount
		st.Unsaved = w.autosave.Dirty()
	}
	return st, nil
}
