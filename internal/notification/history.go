// Package notification keeps the in-process notification history and mirrors
// it to an optional external archive.
package notification

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"github.com/pscheid92/stockrelay/internal/platform/correlation"
)

const (
	archiveQueueSize = 256
	archiveTimeout   = 5 * time.Second
)

type archiveJob struct {
	ctx    context.Context
	env    *domain.Envelope
	readID string
	userID string
	at     time.Time
}

// History is an append-only list of dispatched notifications. With a
// positive limit the oldest entries are evicted once the limit is exceeded.
type History struct {
	mu    sync.RWMutex
	items []*domain.Notification
	byID  map[string]*domain.Notification
	limit int
	clock clockwork.Clock

	archive   domain.NotificationArchive
	jobs      chan archiveJob
	wg        sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewHistory creates a history. archive may be nil.
func NewHistory(limit int, clock clockwork.Clock, archive domain.NotificationArchive) *History {
	h := &History{
		byID:    make(map[string]*domain.Notification),
		limit:   limit,
		clock:   clock,
		archive: archive,
		closed:  make(chan struct{}),
	}
	if archive != nil {
		h.jobs = make(chan archiveJob, archiveQueueSize)
		h.wg.Add(1)
		go h.runArchiver()
	}
	return h
}

// Add appends n. Adding an ID that is already present is a no-op, so a
// notification relayed back to its origin instance is stored once.
func (h *History) Add(ctx context.Context, n *domain.Notification) bool {
	h.mu.Lock()
	if _, ok := h.byID[n.ID()]; ok {
		h.mu.Unlock()
		return false
	}
	h.items = append(h.items, n)
	h.byID[n.ID()] = n

	evicted := 0
	if h.limit > 0 && len(h.items) > h.limit {
		evicted = len(h.items) - h.limit
		for _, old := range h.items[:evicted] {
			delete(h.byID, old.ID())
		}
		h.items = slices.Clone(h.items[evicted:])
	}
	size := len(h.items)
	h.mu.Unlock()

	metrics.NotificationHistorySize.Set(float64(size))
	if evicted > 0 {
		metrics.NotificationHistoryEvictions.Add(float64(evicted))
	}

	env := n.Envelope()
	h.enqueue(archiveJob{ctx: correlation.Detach(ctx), env: &env})
	return true
}

func (h *History) Get(id string) (*domain.Notification, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n, ok := h.byID[id]
	return n, ok
}

// ListFor returns the notifications visible to v, newest first. limit <= 0
// returns all of them.
func (h *History) ListFor(v domain.Viewer, limit int) []*domain.Notification {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []*domain.Notification
	for i := len(h.items) - 1; i >= 0; i-- {
		if !h.items[i].VisibleTo(v) {
			continue
		}
		out = append(out, h.items[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// UnreadCount counts notifications visible to v that v has not read.
func (h *History) UnreadCount(v domain.Viewer) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	count := 0
	for _, n := range h.items {
		if n.VisibleTo(v) && !n.IsRead(v.UserID) {
			count++
		}
	}
	return count
}

// MarkRead records userID as having read notification id. It reports false
// when the notification is unknown (never stored, or evicted). Marking twice
// is not an error.
func (h *History) MarkRead(ctx context.Context, id, userID string) bool {
	n, ok := h.Get(id)
	if !ok {
		return false
	}
	at := h.clock.Now()
	if n.MarkRead(userID, at) {
		h.enqueue(archiveJob{ctx: correlation.Detach(ctx), readID: id, userID: userID, at: at})
	}
	return true
}

func (h *History) IsRead(id, userID string) bool {
	n, ok := h.Get(id)
	return ok && n.IsRead(userID)
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.items)
}

// Close stops the archive worker after it has drained queued jobs, or when
// ctx expires.
func (h *History) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		close(h.closed)
	})

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *History) enqueue(job archiveJob) {
	if h.jobs == nil {
		return
	}
	select {
	case <-h.closed:
		return
	default:
	}

	select {
	case h.jobs <- job:
	default:
		metrics.ArchiveQueueDropped.Inc()
		slog.WarnContext(job.ctx, "Archive queue full, dropping job", "notification_id", job.notificationID())
	}
}

func (h *History) runArchiver() {
	defer h.wg.Done()
	for {
		select {
		case job := <-h.jobs:
			h.archiveOne(job)
		case <-h.closed:
			for {
				select {
				case job := <-h.jobs:
					h.archiveOne(job)
				default:
					return
				}
			}
		}
	}
}

func (h *History) archiveOne(job archiveJob) {
	ctx, cancel := context.WithTimeout(job.ctx, archiveTimeout)
	defer cancel()

	operation := "archive"
	var err error
	if job.env != nil {
		err = h.archive.Archive(ctx, *job.env)
	} else {
		operation = "mark_read"
		err = h.archive.MarkRead(ctx, job.readID, job.userID, job.at)
	}

	if err != nil {
		metrics.ArchiveOpsTotal.WithLabelValues(operation, "error").Inc()
		slog.ErrorContext(ctx, "Notification archive write failed",
			"operation", operation,
			"notification_id", job.notificationID(),
			"error", err)
		return
	}
	metrics.ArchiveOpsTotal.WithLabelValues(operation, "success").Inc()
}

func (j archiveJob) notificationID() string {
	if j.env != nil {
		return j.env.ID
	}
	return j.readID
}
