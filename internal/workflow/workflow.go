package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/metrics"
	"github.com/pscheid92/stockrelay/internal/platform/correlation"
)

const (
	transitionCreate  = "create"
	transitionApprove = "approve"
	transitionShip    = "ship"
	transitionReceive = "receive"
	transitionReject  = "reject"
	transitionCancel  = "cancel"
)

type CreateInput struct {
	Requester  domain.Actor
	BranchID   string
	BranchName string
	Items      []domain.StockRequestItem
	Priority   domain.RequestPriority
	Notes      string
}

// Workflow owns the in-memory stock request table.
type Workflow struct {
	mu       sync.RWMutex
	requests map[string]*domain.StockRequest

	notifier   domain.Notifier
	clock      clockwork.Clock
	dispatches sync.WaitGroup
}

func New(notifier domain.Notifier, clock clockwork.Clock) *Workflow {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Workflow{
		requests: make(map[string]*domain.StockRequest),
		notifier: notifier,
		clock:    clock,
	}
}

// Create stores a new pending request and announces it to inventory clerks,
// managers and admins. Only presence of the requester, branch and items is
// checked; stock availability belongs to the inventory service.
func (w *Workflow) Create(ctx context.Context, in CreateInput) (string, error) {
	if in.Requester.UserID == "" || in.BranchID == "" {
		metrics.WorkflowTransitions.WithLabelValues(transitionCreate, "invalid").Inc()
		return "", domain.ErrMissingRequester
	}
	if len(in.Items) == 0 {
		metrics.WorkflowTransitions.WithLabelValues(transitionCreate, "invalid").Inc()
		return "", domain.ErrEmptyItems
	}
	priority, err := domain.ParseRequestPriority(string(in.Priority))
	if err != nil {
		metrics.WorkflowTransitions.WithLabelValues(transitionCreate, "invalid").Inc()
		return "", err
	}

	now := w.clock.Now().UTC()
	items := slices.Clone(in.Items)
	for i := range items {
		items[i].ApprovedQuantity = nil
		items[i].ReceivedQuantity = nil
	}

	r := &domain.StockRequest{
		ID:            uuid.NewString(),
		RequesterID:   in.Requester.UserID,
		RequesterName: in.Requester.DisplayName(),
		BranchID:      in.BranchID,
		BranchName:    in.BranchName,
		Priority:      priority,
		Status:        domain.StatusPending,
		Notes:         in.Notes,
		Items:         items,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	w.mu.Lock()
	w.requests[r.ID] = r
	spec := createdNotification(r)
	w.mu.Unlock()

	metrics.WorkflowTransitions.WithLabelValues(transitionCreate, "applied").Inc()
	metrics.WorkflowRequestsCurrent.WithLabelValues(string(domain.StatusPending)).Inc()
	slog.InfoContext(ctx, "Stock request created",
		"request_id", r.ID,
		"requester_id", r.RequesterID,
		"branch_id", r.BranchID,
		"priority", r.Priority,
		"items", len(r.Items))

	w.dispatch(ctx, transitionCreate, r.ID, spec)
	return r.ID, nil
}

// Approve marks the request approved and sets the approved quantity of every
// item whose product ID appears in approved. Items not mentioned keep a nil
// approved quantity, meaning undecided. Quantities are taken as given.
func (w *Workflow) Approve(ctx context.Context, id string, approver domain.Actor, approved map[string]int) bool {
	return w.transition(ctx, transitionApprove, id, func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error) {
		r.Status = domain.StatusApproved
		r.ApprovedBy = approver.UserID
		r.ApprovedAt = &now
		for i := range r.Items {
			if qty, ok := approved[r.Items[i].ProductID]; ok {
				r.Items[i].ApprovedQuantity = &qty
			}
		}
		return approvedNotification(r, approver), nil
	})
}

func (w *Workflow) Ship(ctx context.Context, id string, shipper domain.Actor, trackingNumber string) bool {
	return w.transition(ctx, transitionShip, id, func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error) {
		r.Status = domain.StatusShipped
		r.ShippedBy = shipper.UserID
		r.ShippedAt = &now
		r.TrackingNumber = trackingNumber
		return shippedNotification(r, shipper), nil
	})
}

// Receive records receipt. Received quantities are stored per item as
// reported and are not reconciled against approved or requested quantities.
func (w *Workflow) Receive(ctx context.Context, id string, receiver domain.Actor, received map[string]int) bool {
	return w.transition(ctx, transitionReceive, id, func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error) {
		r.Status = domain.StatusReceived
		r.ReceivedBy = receiver.UserID
		r.ReceivedAt = &now
		for i := range r.Items {
			if qty, ok := received[r.Items[i].ProductID]; ok {
				r.Items[i].ReceivedQuantity = &qty
			}
		}
		return receivedNotification(r, receiver), nil
	})
}

// Reject appends reason to the request's own notes and tells the requester.
func (w *Workflow) Reject(ctx context.Context, id string, rejector domain.Actor, reason string) bool {
	return w.transition(ctx, transitionReject, id, func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error) {
		r.Status = domain.StatusRejected
		r.RejectedBy = rejector.UserID
		r.RejectedAt = &now
		r.Notes = appendNote(r.Notes, "Rejection reason: "+reason)
		return rejectedNotification(r, rejector, reason), nil
	})
}

// Cancel withdraws a request that has not shipped yet. It returns
// ErrStockRequestNotFound or ErrInvalidTransition when nothing changed.
func (w *Workflow) Cancel(ctx context.Context, id string, canceller domain.Actor, reason string) error {
	var rejected error
	ok := w.transition(ctx, transitionCancel, id, func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error) {
		if r.Status != domain.StatusPending && r.Status != domain.StatusApproved {
			rejected = fmt.Errorf("%w: cannot cancel %s request", domain.ErrInvalidTransition, r.Status)
			return domain.NotificationSpec{}, rejected
		}
		r.Status = domain.StatusCancelled
		r.CancelledBy = canceller.UserID
		r.CancelledAt = &now
		if reason != "" {
			r.Notes = appendNote(r.Notes, "Cancellation reason: "+reason)
		}
		return cancelledNotification(r, canceller, reason), nil
	})
	if rejected != nil {
		return rejected
	}
	if !ok {
		return domain.ErrStockRequestNotFound
	}
	return nil
}

type mutation func(r *domain.StockRequest, now time.Time) (domain.NotificationSpec, error)

// transition applies mutate atomically with respect to readers and then
// dispatches the resulting notification. Unknown IDs return false without
// notifying anyone.
func (w *Workflow) transition(ctx context.Context, name, id string, mutate mutation) bool {
	w.mu.Lock()
	r, ok := w.requests[id]
	if !ok {
		w.mu.Unlock()
		metrics.WorkflowTransitions.WithLabelValues(name, "not_found").Inc()
		slog.DebugContext(ctx, "Transition on unknown stock request", "transition", name, "request_id", id)
		return false
	}

	from := r.Status
	now := w.clock.Now().UTC()
	spec, err := mutate(r, now)
	if err != nil {
		w.mu.Unlock()
		metrics.WorkflowTransitions.WithLabelValues(name, "invalid_state").Inc()
		slog.InfoContext(ctx, "Stock request transition refused",
			"transition", name,
			"request_id", id,
			"status", from,
			"error", err)
		return false
	}
	r.UpdatedAt = now
	to := r.Status
	w.mu.Unlock()

	metrics.WorkflowTransitions.WithLabelValues(name, "applied").Inc()
	metrics.WorkflowRequestsCurrent.WithLabelValues(string(from)).Dec()
	metrics.WorkflowRequestsCurrent.WithLabelValues(string(to)).Inc()
	slog.InfoContext(ctx, "Stock request transitioned",
		"transition", name,
		"request_id", id,
		"from", from,
		"to", to)

	w.dispatch(ctx, name, id, spec)
	return true
}

// dispatch builds the notification and hands it to the notifier on a
// goroutine tracked by Drain. Errors and panics stop here.
func (w *Workflow) dispatch(ctx context.Context, transition, requestID string, spec domain.NotificationSpec) {
	n, err := domain.NewNotification(uuid.NewString(), spec, w.clock.Now())
	if err != nil {
		metrics.WorkflowDispatchFailures.WithLabelValues("error").Inc()
		slog.ErrorContext(ctx, "Failed to build notification",
			"transition", transition,
			"request_id", requestID,
			"error", err)
		return
	}

	dctx := correlation.Detach(ctx)
	w.dispatches.Add(1)
	go func() {
		defer w.dispatches.Done()
		defer func() {
			if p := recover(); p != nil {
				metrics.WorkflowDispatchFailures.WithLabelValues("panic").Inc()
				slog.ErrorContext(dctx, "Notification dispatch panic recovered",
					"transition", transition,
					"request_id", requestID,
					"notification_id", n.ID(),
					"panic", p)
			}
		}()

		report, err := w.notifier.Dispatch(dctx, n)
		if err != nil {
			metrics.WorkflowDispatchFailures.WithLabelValues("error").Inc()
			slog.WarnContext(dctx, "Notification dispatch failed",
				"transition", transition,
				"request_id", requestID,
				"notification_id", n.ID(),
				"error", err)
			return
		}
		slog.DebugContext(dctx, "Workflow notification delivered",
			"transition", transition,
			"request_id", requestID,
			"notification_id", n.ID(),
			"delivered", report.Delivered,
			"failed", len(report.Failed),
			"relayed", report.Relayed)
	}()
}

// Drain blocks until every in-flight dispatch has returned.
func (w *Workflow) Drain() {
	w.dispatches.Wait()
}

// Shutdown drains in-flight dispatches or gives up when ctx expires.
func (w *Workflow) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.Drain()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workflow drain: %w", ctx.Err())
	}
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}
