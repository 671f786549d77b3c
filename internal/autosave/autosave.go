// Package autosave debounces document content changes into whole-document
// writes through the gateway.
//
// Each notification cancels the pending write and schedules a new one.
// Content is read when the write fires, not when it is scheduled. Writes are
// serialized and stamped by a logical clock; a write older than the last
// completed one is skipped.
package autosave

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hpungsan/inkwell/internal/document"
	"github.com/hpungsan/inkwell/internal/errors"
	"github.com/hpungsan/inkwell/internal/gateway"
	"github.com/hpungsan/inkwell/internal/logging"
)

// DefaultDelay is the debounce delay when none is configured.
const DefaultDelay = 500 * time.Millisecond

// Saver persists a whole document and reports records still waiting to
// reach the remote store.
type Saver interface {
	SaveDocument(ctx context.Context, d *document.Document) (gateway.Result, error)
	PendingCount(ctx context.Context) (int, error)
}

// Session is the part of the session store the scheduler writes to.
type Session interface {
	UpdateActiveContent(content string, now time.Time) (*document.Document, error)
	SetPendingSync(bool)
	SetStorageFull(bool)
}

// ContentSource returns the editor's current content.
type ContentSource func() string

// Options configures a Scheduler.
type Options struct {
	Delay   time.Duration
	Saver   Saver
	Session Session

	// Source is read at fire time. When nil the last notified content is used.
	Source ContentSource

	// Context is the base context for writes; it must carry the user identity.
	Context context.Context

	Logger *zap.Logger
	Now    func() time.Time
}

// Scheduler is the debounced autosave task.
type Scheduler struct {
	delay   time.Duration
	saver   Saver
	session Session
	source  ContentSource
	baseCtx context.Context
	logger  *zap.Logger
	now     func() time.Time
	clock   Clock

	mu          sync.Mutex
	timer       *time.Timer
	latest      string
	latestSeq   int64
	lastWritten int64
	stopped     bool

	// writeMu serializes writes.
	writeMu sync.Mutex
}

// New creates a Scheduler.
func New(opts Options) *Scheduler {
	s := &Scheduler{
		delay:   opts.Delay,
		saver:   opts.Saver,
		session: opts.Session,
		source:  opts.Source,
		baseCtx: opts.Context,
		logger:  logging.OrNop(opts.Logger).Named("autosave"),
		now:     opts.Now,
	}
	if s.delay <= 0 {
		s.delay = DefaultDelay
	}
	if s.baseCtx == nil {
		s.baseCtx = context.Background()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// NotifyContentChanged cancels any pending write and schedules a new one.
func (s *Scheduler) NotifyContentChanged(content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	s.latest = content
	s.latestSeq = s.clock.Next()

	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.delay, func() {
		if err := s.write(s.baseCtx); err != nil {
			s.logger.Debug("autosave write failed", zap.Error(err))
		}
	})
}

// Flush cancels the pending timer and writes immediately if there are
// unwritten changes.
func (s *Scheduler) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	return s.write(ctx)
}

// Stop cancels the pending write and ignores further notifications.
// Call Flush first to keep unwritten changes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// Discard cancels the pending write and drops unwritten changes. Used when
// the active document is deleted.
func (s *Scheduler) Discard() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.lastWritten = s.latestSeq
}

// LastSeq returns the sequence number of the last completed write.
func (s *Scheduler) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWritten
}

// Dirty reports whether changes are waiting to be written.
func (s *Scheduler) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latestSeq > s.lastWritten
}

func (s *Scheduler) write(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	seq := s.latestSeq
	content := s.latest
	if seq <= s.lastWritten {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if s.source != nil {
		content = s.source()
	}

	d, err := s.session.UpdateActiveContent(content, s.now())
	if err != nil {
		s.logger.Warn("autosave skipped", zap.Int64("seq", seq), zap.Error(err))
		return err
	}

	res, err := s.saver.SaveDocument(ctx, d)
	if err != nil {
		if errors.Is(err, errors.ErrQuotaExceeded) {
			s.session.SetStorageFull(true)
		}
		s.logger.Error("autosave failed; content kept in session",
			zap.String("document_id", d.ID),
			zap.Int64("seq", seq),
			zap.String("location", string(res.Location)),
			zap.Error(err),
		)
		return err
	}

	s.session.SetStorageFull(false)
	switch res.Location {
	case gateway.LocationLocalFallback:
		s.session.SetPendingSync(true)
	case gateway.LocationRemote:
		// Other records may still be waiting even though this one landed.
		pending, err := s.saver.PendingCount(ctx)
		if err != nil {
			s.logger.Warn("count pending records", zap.Error(err))
			break
		}
		s.session.SetPendingSync(pending > 0)
	}

	s.mu.Lock()
	if seq > s.lastWritten {
		s.lastWritten = seq
	}
	s.mu.Unlock()

	s.logger.Debug("autosaved",
		zap.String("document_id", d.ID),
		zap.Int64("seq", seq),
		zap.String("location", string(res.Location)),
	)
	return nil
}
