package channel

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"proofcanvas/domain/collab"
	appErrors "proofcanvas/pkg/errors"
)

// DefaultSyncDelay is how long after the last local edit the full content
// of a file is re-sent
const DefaultSyncDelay = 500 * time.Millisecond

// DocumentSender publishes document traffic. *Channel implements it.
type DocumentSender interface {
	SendDocumentEdit(edit collab.DocumentEdit) error
	SendDocumentSync(path, content string) error
}

// DocumentSyncer tracks the local content of open files. Local edits go out
// immediately as document_edit, followed by one debounced document_sync per
// burst of edits so peers converge even if an edit was lost.
type DocumentSyncer struct {
	mu       sync.Mutex
	sender   DocumentSender
	delay    time.Duration
	logger   *zap.Logger
	contents map[string]string
	timers   map[string]*time.Timer
	closed   bool
}

// NewDocumentSyncer creates a syncer. A non-positive delay uses DefaultSyncDelay.
func NewDocumentSyncer(sender DocumentSender, delay time.Duration, logger *zap.Logger) *DocumentSyncer {
	if delay <= 0 {
		delay = DefaultSyncDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentSyncer{
		sender:   sender,
		delay:    delay,
		logger:   logger,
		contents: make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// Open sets the known content of a file without publishing anything
func (d *DocumentSyncer) Open(path, content string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contents[path] = content
}

// Content returns the current content of a file
func (d *DocumentSyncer) Content(path string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.contents[path]
	return c, ok
}

// Edit applies a local edit, publishes it and (re)arms the full sync timer
func (d *DocumentSyncer) Edit(edit collab.DocumentEdit) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return appErrors.NewClosedError("document syncer")
	}
	next, err := edit.Apply(d.contents[edit.Path])
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.contents[edit.Path] = next
	d.armLocked(edit.Path)
	d.mu.Unlock()

	return d.sender.SendDocumentEdit(edit)
}

// ApplyRemote applies a peer's edit to the local copy without publishing
func (d *DocumentSyncer) ApplyRemote(edit collab.DocumentEdit) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next, err := edit.Apply(d.contents[edit.Path])
	if err != nil {
		return err
	}
	d.contents[edit.Path] = next
	return nil
}

// ApplySync replaces the local copy with a peer's full content
func (d *DocumentSyncer) ApplySync(doc collab.DocumentSync) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.contents[doc.Path] = doc.Content
}

// Pending reports whether a full sync is scheduled for path
func (d *DocumentSyncer) Pending(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.timers[path]
	return ok
}

// Flush sends every scheduled full sync now
func (d *DocumentSyncer) Flush() {
	d.mu.Lock()
	paths := make([]string, 0, len(d.timers))
	for path, t := range d.timers {
		t.Stop()
		paths = append(paths, path)
	}
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, path := range paths {
		d.sync(path)
	}
}

// Close cancels scheduled syncs. Idempotent.
func (d *DocumentSyncer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, t := range d.timers {
		t.Stop()
	}
	d.timers = make(map[string]*time.Timer)
}

func (d *DocumentSyncer) armLocked(path string) {
	if t, ok := d.timers[path]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		d.mu.Lock()
		if d.closed || d.timers[path] != t {
			d.mu.Unlock()
			return
		}
		delete(d.timers, path)
		d.mu.Unlock()
		d.sync(path)
	})
	d.timers[path] = t
}

func (d *DocumentSyncer) sync(path string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	content := d.contents[path]
	d.mu.Unlock()

	if err := d.sender.SendDocumentSync(path, content); err != nil {
		d.logger.Warn("Document sync failed", zap.String("path", path), zap.Error(err))
	}
}
