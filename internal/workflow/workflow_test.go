package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []*domain.Notification
	err   error
	panic bool
	block chan struct{}
}

func (r *recordingNotifier) Dispatch(_ context.Context, n *domain.Notification) (domain.DeliveryReport, error) {
	if r.block != nil {
		<-r.block
	}
	if r.panic {
		panic("socket layer exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return domain.DeliveryReport{Delivered: 1}, r.err
}

func (r *recordingNotifier) notifications() []*domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.Notification(nil), r.sent...)
}

var (
	requester = domain.Actor{UserID: "cashier-1", Name: "Carla", Role: domain.RoleCashier, Branch: "b1"}
	manager   = domain.Actor{UserID: "manager-1", Name: "Max", Role: domain.RoleManager, Branch: "hq"}
	clerk     = domain.Actor{UserID: "clerk-1", Name: "Cleo", Role: domain.RoleInventoryClerk, Branch: "b1"}
)

func newTestWorkflow(t *testing.T) (*Workflow, *recordingNotifier, *clockwork.FakeClock) {
	t.Helper()
	notifier := &recordingNotifier{}
	clock := clockwork.NewFakeClock()
	return New(notifier, clock), notifier, clock
}

func twoItemInput(priority domain.RequestPriority) CreateInput {
	return CreateInput{
		Requester:  requester,
		BranchID:   "b1",
		BranchName: "Downtown",
		Priority:   priority,
		Notes:      "weekend promo",
		Items: []domain.StockRequestItem{
			{ProductID: "productA", ProductName: "Rice 5kg", RequestedQuantity: 10, CurrentStock: 1, Reason: "promo"},
			{ProductID: "productB", ProductName: "Oil 1L", RequestedQuantity: 4, CurrentStock: 0},
		},
	}
}

func TestWorkflow_HappyPath(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()

	id, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	r, ok := w.Get(id)
	require.True(t, ok)
	assert.Equal(t, domain.StatusPending, r.Status)

	require.True(t, w.Approve(ctx, id, manager, map[string]int{"productA": 5}))
	r, _ = w.Get(id)
	assert.Equal(t, domain.StatusApproved, r.Status)
	assert.Equal(t, "manager-1", r.ApprovedBy)
	require.NotNil(t, r.Item("productA").ApprovedQuantity)
	assert.Equal(t, 5, *r.Item("productA").ApprovedQuantity)
	assert.Nil(t, r.Item("productB").ApprovedQuantity, "unmentioned items stay undecided")

	require.True(t, w.Ship(ctx, id, clerk, "TRK1"))
	r, _ = w.Get(id)
	assert.Equal(t, domain.StatusShipped, r.Status)
	assert.Equal(t, "TRK1", r.TrackingNumber)
	assert.NotNil(t, r.ShippedAt)

	require.True(t, w.Receive(ctx, id, requester, map[string]int{"productA": 4}))
	r, _ = w.Get(id)
	assert.Equal(t, domain.StatusReceived, r.Status)
	assert.Equal(t, 4, *r.Item("productA").ReceivedQuantity)
	assert.Equal(t, 5, *r.Item("productA").ApprovedQuantity, "receipt does not reconcile quantities")

	w.Drain()
	types := make([]domain.NotificationType, 0, 4)
	for _, n := range notifier.notifications() {
		types = append(types, n.Type())
	}
	assert.ElementsMatch(t, []domain.NotificationType{
		domain.NotificationStockRequestCreated,
		domain.NotificationStockApproved,
		domain.NotificationStockShipped,
		domain.NotificationStockReceived,
	}, types)
}

func TestWorkflow_UrgentRequestNotification(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)

	_, err := w.Create(context.Background(), CreateInput{
		Requester: requester,
		BranchID:  "b1",
		Priority:  domain.RequestPriorityUrgent,
		Items:     []domain.StockRequestItem{{ProductID: "P1", RequestedQuantity: 5, CurrentStock: 2}},
	})
	require.NoError(t, err)
	w.Drain()

	sent := notifier.notifications()
	require.Len(t, sent, 1)
	n := sent[0]
	assert.Equal(t, domain.NotificationStockRequestCreated, n.Type())
	assert.Equal(t, domain.PriorityHigh, n.Priority())
	assert.ElementsMatch(t, []domain.Role{domain.RoleInventoryClerk, domain.RoleManager, domain.RoleAdmin}, n.Roles())
	assert.Empty(t, n.Recipients())
	assert.Empty(t, n.Branch())
}

func TestWorkflow_NonUrgentRequestIsMedium(t *testing.T) {
	for _, p := range []domain.RequestPriority{domain.RequestPriorityLow, domain.RequestPriorityNormal, domain.RequestPriorityHigh} {
		t.Run(string(p), func(t *testing.T) {
			w, notifier, _ := newTestWorkflow(t)
			_, err := w.Create(context.Background(), twoItemInput(p))
			require.NoError(t, err)
			w.Drain()

			require.Len(t, notifier.notifications(), 1)
			assert.Equal(t, domain.PriorityMedium, notifier.notifications()[0].Priority())
		})
	}
}

func TestWorkflow_UnknownIDIsNotAnError(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()

	assert.False(t, w.Approve(ctx, "does-not-exist", manager, map[string]int{"P1": 1}))
	assert.False(t, w.Ship(ctx, "does-not-exist", clerk, "TRK"))
	assert.False(t, w.Receive(ctx, "does-not-exist", clerk, nil))
	assert.False(t, w.Reject(ctx, "does-not-exist", manager, "no"))
	assert.ErrorIs(t, w.Cancel(ctx, "does-not-exist", requester, ""), domain.ErrStockRequestNotFound)

	w.Drain()
	assert.Empty(t, notifier.notifications())
}

func TestWorkflow_RejectAppendsToOwnNotes(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()

	first, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	secondInput := twoItemInput(domain.RequestPriorityNormal)
	secondInput.Notes = ""
	second, err := w.Create(ctx, secondInput)
	require.NoError(t, err)

	require.True(t, w.Reject(ctx, first, manager, "over budget"))
	require.True(t, w.Reject(ctx, second, manager, "duplicate"))

	r1, _ := w.Get(first)
	r2, _ := w.Get(second)
	assert.Equal(t, "weekend promo\nRejection reason: over budget", r1.Notes)
	assert.Equal(t, "Rejection reason: duplicate", r2.Notes)
	assert.Equal(t, domain.StatusRejected, r1.Status)

	w.Drain()
	var rejected []*domain.Notification
	for _, n := range notifier.notifications() {
		if n.Type() == domain.NotificationStockRejected {
			rejected = append(rejected, n)
		}
	}
	require.Len(t, rejected, 2)
	for _, n := range rejected {
		assert.Equal(t, []string{"cashier-1"}, n.Recipients())
		assert.Equal(t, domain.PriorityMedium, n.Priority())
	}
}

func TestWorkflow_NotificationRouting(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()
	id, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)

	w.Approve(ctx, id, manager, nil)
	w.Ship(ctx, id, clerk, "TRK9")
	w.Receive(ctx, id, requester, nil)
	w.Drain()

	byType := make(map[domain.NotificationType]*domain.Notification)
	for _, n := range notifier.notifications() {
		byType[n.Type()] = n
	}

	approved := byType[domain.NotificationStockApproved]
	require.NotNil(t, approved)
	assert.Equal(t, []string{"cashier-1"}, approved.Recipients())
	assert.Equal(t, id, approved.Data()["request_id"])

	shipped := byType[domain.NotificationStockShipped]
	require.NotNil(t, shipped)
	assert.Equal(t, []string{"cashier-1"}, shipped.Recipients())
	assert.Equal(t, "b1", shipped.Branch())
	assert.Equal(t, "TRK9", shipped.Data()["tracking_number"])

	received := byType[domain.NotificationStockReceived]
	require.NotNil(t, received)
	assert.Equal(t, domain.PriorityLow, received.Priority())
	assert.ElementsMatch(t, []domain.Role{domain.RoleInventoryClerk, domain.RoleManager}, received.Roles())
}

func TestWorkflow_Cancel(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()

	pending, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	require.NoError(t, w.Cancel(ctx, pending, requester, "ordered elsewhere"))

	r, _ := w.Get(pending)
	assert.Equal(t, domain.StatusCancelled, r.Status)
	assert.Equal(t, "cashier-1", r.CancelledBy)
	assert.Contains(t, r.Notes, "Cancellation reason: ordered elsewhere")

	shipped, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	w.Approve(ctx, shipped, manager, nil)
	w.Ship(ctx, shipped, clerk, "TRK2")

	err = w.Cancel(ctx, shipped, requester, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	r, _ = w.Get(shipped)
	assert.Equal(t, domain.StatusShipped, r.Status)

	assert.ErrorIs(t, w.Cancel(ctx, pending, requester, ""), domain.ErrInvalidTransition, "already cancelled")

	w.Drain()
	var cancelled []*domain.Notification
	for _, n := range notifier.notifications() {
		if n.Type() == domain.NotificationStockRequestCancelled {
			cancelled = append(cancelled, n)
		}
	}
	require.Len(t, cancelled, 1)
	assert.Equal(t, "b1", cancelled[0].Branch())
	assert.Equal(t, []string{"cashier-1"}, cancelled[0].Recipients())
}

func TestWorkflow_CreateValidation(t *testing.T) {
	w, notifier, _ := newTestWorkflow(t)
	ctx := context.Background()

	noItems := twoItemInput(domain.RequestPriorityNormal)
	noItems.Items = nil
	_, err := w.Create(ctx, noItems)
	assert.ErrorIs(t, err, domain.ErrEmptyItems)

	noBranch := twoItemInput(domain.RequestPriorityNormal)
	noBranch.BranchID = ""
	_, err = w.Create(ctx, noBranch)
	assert.ErrorIs(t, err, domain.ErrMissingRequester)

	badPriority := twoItemInput("asap")
	_, err = w.Create(ctx, badPriority)
	assert.ErrorIs(t, err, domain.ErrUnknownPriority)

	defaulted, err := w.Create(ctx, twoItemInput(""))
	require.NoError(t, err)
	r, _ := w.Get(defaulted)
	assert.Equal(t, domain.RequestPriorityNormal, r.Priority)

	w.Drain()
	assert.Len(t, notifier.notifications(), 1)
}

func TestWorkflow_DispatchFailureDoesNotUndoTransition(t *testing.T) {
	tests := []struct {
		name     string
		notifier *recordingNotifier
	}{
		{"error", &recordingNotifier{err: errors.New("registry closed")}},
		{"panic", &recordingNotifier{panic: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := New(tt.notifier, clockwork.NewFakeClock())
			ctx := context.Background()

			id, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
			require.NoError(t, err)
			assert.True(t, w.Approve(ctx, id, manager, nil))
			w.Drain()

			r, ok := w.Get(id)
			require.True(t, ok)
			assert.Equal(t, domain.StatusApproved, r.Status)
		})
	}
}

func TestWorkflow_TransitionIsVisibleBeforeDispatchCompletes(t *testing.T) {
	notifier := &recordingNotifier{block: make(chan struct{})}
	w := New(notifier, clockwork.NewFakeClock())
	ctx := context.Background()

	id, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	require.True(t, w.Approve(ctx, id, manager, nil))

	r, _ := w.Get(id)
	assert.Equal(t, domain.StatusApproved, r.Status)

	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, w.Shutdown(shutdownCtx), context.DeadlineExceeded)

	close(notifier.block)
	require.NoError(t, w.Shutdown(ctx))
	assert.Len(t, notifier.notifications(), 2)
}

func TestWorkflow_QueriesReturnCopies(t *testing.T) {
	w, _, clock := newTestWorkflow(t)
	ctx := context.Background()

	first, err := w.Create(ctx, twoItemInput(domain.RequestPriorityNormal))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	other := twoItemInput(domain.RequestPriorityLow)
	other.BranchID = "b2"
	other.Requester = clerk
	second, err := w.Create(ctx, other)
	require.NoError(t, err)
	w.Approve(ctx, second, manager, nil)

	all := w.List(Filter{})
	require.Len(t, all, 2)
	assert.Equal(t, first, all[0].ID)
	assert.Equal(t, second, all[1].ID)

	assert.Len(t, w.ListByStatus(domain.StatusPending), 1)
	assert.Len(t, w.ListByBranch("b2"), 1)
	assert.Len(t, w.ListByRequester("cashier-1"), 1)
	assert.Empty(t, w.ListByBranch("nowhere"))

	r, _ := w.Get(first)
	r.Status = domain.StatusReceived
	r.Items[0].RequestedQuantity = 999

	fresh, _ := w.Get(first)
	assert.Equal(t, domain.StatusPending, fresh.Status)
	assert.Equal(t, 10, fresh.Items[0].RequestedQuantity)
	w.Drain()
}
