// Package session is the in-memory source of truth for the editing session.
//
// Persisted fields (active document, progress, prefs) are unknown until the
// hydration gate opens: reads return NOT_HYDRATED rather than an empty value,
// and writes other than Restore are refused. Consumers subscribe to change
// events instead of polling.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/logging"
)

const topic = "session.events"

// EventType names a session change.
type EventType string

const (
	EventHydrated              EventType = "hydrated"
	EventActiveDocumentChanged EventType = "active_document_changed"
	EventContentChanged        EventType = "content_changed"
	EventSelectionChanged      EventType = "selection_changed"
	EventProgressChanged       EventType = "progress_changed"
	EventPrefsChanged          EventType = "prefs_changed"
	EventSyncStateChanged      EventType = "sync_state_changed"
	EventStorageFull           EventType = "storage_full"
)

// Event is a change notification. Events are hints: read the store for
// current values. Delivery order between events is not guaranteed.
type Event struct {
	Type       EventType `json:"type"`
	DocumentID string    `json:"document_id,omitempty"`
}

// Gate reports whether persisted state has been loaded.
type Gate interface {
	IsHydrated() bool
}

// Snapshot is the persisted subset restored at hydration.
type Snapshot struct {
	ActiveDocument *document.Document
	Progress       *document.GenerationProgress
	Prefs          document.Prefs
	PendingSync    bool
}

// Token identifies the active document at a point in time. It changes on
// every SetActiveDocument, even when the same id is re-activated.
type Token struct {
	DocumentID string
	Epoch      uint64
}

// Store is the session state container.
type Store struct {
	gate   Gate
	logger *zap.Logger
	pubsub *gochannel.GoChannel

	mu          sync.RWMutex
	active      *document.Document
	progress    *document.GenerationProgress
	selection   *document.Selection
	prefs       document.Prefs
	pendingSync bool
	storageFull bool
	epoch       uint64
	closed      bool
}

// New creates an empty store gated by gate.
func New(gate Gate, logger *zap.Logger) *Store {
	logger = logging.OrNop(logger).Named("session")
	return &Store{
		gate:   gate,
		logger: logger,
		pubsub: gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 64}, logging.Watermill(logger)),
	}
}

// Restore installs the hydrated snapshot. It is refused once the gate is open.
func (s *Store) Restore(snap Snapshot) error {
	if s.gate.IsHydrated() {
		return errors.NewInvalidRequest("session already hydrated")
	}

	s.mu.Lock()
	s.active = snap.ActiveDocument.Clone()
	s.progress = snap.Progress.Clone()
	s.prefs = snap.Prefs
	// Prefs never name a document that did not survive hydration.
	s.prefs.ActiveDocumentID = ""
	if s.active != nil {
		s.prefs.ActiveDocumentID = s.active.ID
	}
	s.pendingSync = snap.PendingSync
	s.epoch++
	s.mu.Unlock()
	return nil
}

// NotifyHydrated publishes EventHydrated. Called by the hydration gate's subscriber.
func (s *Store) NotifyHydrated() {
	s.publish(Event{Type: EventHydrated, DocumentID: s.activeID()})
}

// ActiveDocument returns a copy of the active document, nil when there is
// none, or NOT_HYDRATED before hydration.
func (s *Store) ActiveDocument() (*document.Document, error) {
	if !s.gate.IsHydrated() {
		return nil, errors.NewNotHydrated()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active.Clone(), nil
}

// ActiveToken returns the identity of the active document and its epoch.
func (s *Store) ActiveToken() (Token, error) {
	if !s.gate.IsHydrated() {
		return Token{}, errors.NewNotHydrated()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := Token{Epoch: s.epoch}
	if s.active != nil {
		t.DocumentID = s.active.ID
	}
	return t, nil
}

// IsCurrent reports whether t still names the active document.
func (s *Store) IsCurrent(t Token) bool {
	cur, err := s.ActiveToken()
	return err == nil && cur == t
}

// Progress returns a copy of the active document's generation progress, or nil.
func (s *Store) Progress() (*document.GenerationProgress, error) {
	if !s.gate.IsHydrated() {
		return nil, errors.NewNotHydrated()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progress.Clone(), nil
}

// Selection returns the last captured selection, or nil when collapsed.
// Selection is derived state and is readable before hydration.
func (s *Store) Selection() *document.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selection == nil {
		return nil
	}
	sel := *s.selection
	return &sel
}

// Prefs returns the persisted session subset.
func (s *Store) Prefs() (document.Prefs, error) {
	if !s.gate.IsHydrated() {
		return document.Prefs{}, errors.NewNotHydrated()
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.prefs, nil
}

// PendingSync reports whether writes are waiting for the remote store.
func (s *Store) PendingSync() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingSync
}

// StorageFull reports whether the local cache refused a write.
func (s *Store) StorageFull() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storageFull
}

// SetActiveDocument makes d (or nothing, when nil) the active document and
// clears the selection and progress.
func (s *Store) SetActiveDocument(d *document.Document, progress *document.GenerationProgress) error {
	if !s.gate.IsHydrated() {
		return errors.NewNotHydrated()
	}

	s.mu.Lock()
	s.active = d.Clone()
	s.progress = progress.Clone()
	s.selection = nil
	s.prefs.ActiveDocumentID = ""
	if d != nil {
		s.prefs.ActiveDocumentID = d.ID
	}
	s.epoch++
	id := s.prefs.ActiveDocumentID
	s.mu.Unlock()

	s.publish(Event{Type: EventActiveDocumentChanged, DocumentID: id})
	return nil
}

// UpdateActiveContent replaces the active document's content. It returns
// the updated copy.
func (s *Store) UpdateActiveContent(content string, now time.Time) (*document.Document, error) {
	if !s.gate.IsHydrated() {
		return nil, errors.NewNotHydrated()
	}

	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return nil, errors.NewInvalidRequest("no active document")
	}
	s.active.SetContent(content, now)
	d := s.active.Clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventContentChanged, DocumentID: d.ID})
	return d, nil
}

// SetProgress replaces the active document's progress snapshot. A progress
// for another document is ignored.
func (s *Store) SetProgress(p *document.GenerationProgress) error {
	if !s.gate.IsHydrated() {
		return errors.NewNotHydrated()
	}

	s.mu.Lock()
	if s.active == nil || p == nil || p.DocumentID != s.active.ID {
		s.mu.Unlock()
		return nil
	}
	s.progress = p.Clone()
	s.mu.Unlock()

	s.publish(Event{Type: EventProgressChanged, DocumentID: p.DocumentID})
	return nil
}

// SetSelection publishes the captured selection (nil when collapsed).
func (s *Store) SetSelection(sel *document.Selection) {
	s.mu.Lock()
	if sel != nil {
		c := *sel
		sel = &c
	}
	s.selection = sel
	id := ""
	if s.active != nil {
		id = s.active.ID
	}
	s.mu.Unlock()

	s.publish(Event{Type: EventSelectionChanged, DocumentID: id})
}

// SetPanelLayout updates the persisted panel layout.
func (s *Store) SetPanelLayout(layout document.Layout) error {
	return s.updatePrefs(func(p *document.Prefs) { p.PanelLayout = layout })
}

// SetActiveTool updates the persisted active tool id.
func (s *Store) SetActiveTool(toolID string) error {
	return s.updatePrefs(func(p *document.Prefs) { p.ActiveToolID = toolID })
}

func (s *Store) updatePrefs(fn func(*document.Prefs)) error {
	if !s.gate.IsHydrated() {
		return errors.NewNotHydrated()
	}
	s.mu.Lock()
	fn(&s.prefs)
	s.mu.Unlock()

	s.publish(Event{Type: EventPrefsChanged})
	return nil
}

// SetPendingSync sets the pending-sync flag. An event fires only on change.
func (s *Store) SetPendingSync(pending bool) {
	s.mu.Lock()
	changed := s.pendingSync != pending
	s.pendingSync = pending
	s.mu.Unlock()

	if changed {
		s.publish(Event{Type: EventSyncStateChanged})
	}
}

// SetStorageFull sets the storage-full flag. An event fires only when it becomes set.
func (s *Store) SetStorageFull(full bool) {
	s.mu.Lock()
	changed := s.storageFull != full
	s.storageFull = full
	s.mu.Unlock()

	if changed && full {
		s.publish(Event{Type: EventStorageFull})
	}
}

// Subscribe returns a channel of change events until ctx is done or the
// store is closed.
func (s *Store) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := s.pubsub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range messages {
			var evt Event
			if err := json.Unmarshal(msg.Payload, &evt); err != nil {
				s.logger.Warn("dropping malformed session event", zap.Error(err))
				msg.Ack()
				continue
			}
			msg.Ack()
			select {
			case out <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops event delivery.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.pubsub.Close()
}

func (s *Store) activeID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return ""
	}
	return s.active.ID
}

func (s *Store) publish(evt Event) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		s.logger.Error("encode session event", zap.Error(err))
		return
	}
	if err := s.pubsub.Publish(topic, message.NewMessage(watermill.NewUUID(), payload)); err != nil {
		s.logger.Warn("publish session event", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}
