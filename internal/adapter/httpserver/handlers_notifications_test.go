package httpserver

import (
	"context"
	"net/http"
	"testing"

	"github.com/pscheid92/stockrelay/internal/domain"
	apperrors "github.com/pscheid92/stockrelay/internal/platform/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type notificationList struct {
	Notifications []domain.WirePayload `json:"notifications"`
	Unread        int                  `json:"unread"`
}

func (ts *testServer) seed(t *testing.T, id string, spec domain.NotificationSpec) {
	t.Helper()
	n, err := domain.NewNotification(id, spec, ts.clock.Now())
	require.NoError(t, err)
	ts.clock.Advance(1)
	require.True(t, ts.history.Add(context.Background(), n))
}

func TestListNotifications_VisibleWithReadFlags(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "n1", domain.NotificationSpec{Type: domain.NotificationStockApproved, Recipients: []string{"cashier-1"}})
	ts.seed(t, "n2", domain.NotificationSpec{Type: domain.NotificationLowStockAlert, Roles: []domain.Role{domain.RoleCashier}, Branch: "b1"})
	ts.seed(t, "n3", domain.NotificationSpec{Type: domain.NotificationLowStockAlert, Roles: []domain.Role{domain.RoleCashier}, Branch: "b2"})
	ts.seed(t, "n4", domain.NotificationSpec{Type: domain.NotificationInventoryUpdate, Roles: []domain.Role{domain.RoleManager}})
	require.True(t, ts.history.MarkRead(context.Background(), "n1", "cashier-1"))

	rec := ts.do(t, http.MethodGet, "/api/notifications", nil, cashier)
	require.Equal(t, http.StatusOK, rec.Code)

	list := decode[notificationList](t, rec)
	require.Len(t, list.Notifications, 2)
	assert.Equal(t, "n2", list.Notifications[0].ID, "newest first")
	assert.False(t, list.Notifications[0].Read)
	assert.Equal(t, "n1", list.Notifications[1].ID)
	assert.True(t, list.Notifications[1].Read)
	assert.Equal(t, 1, list.Unread)

	rec = ts.do(t, http.MethodGet, "/api/notifications?unread=true", nil, cashier)
	require.Equal(t, http.StatusOK, rec.Code)
	list = decode[notificationList](t, rec)
	require.Len(t, list.Notifications, 1)
	assert.Equal(t, "n2", list.Notifications[0].ID)
}

func TestListNotifications_Limit(t *testing.T) {
	ts := newTestServer(t)
	for _, id := range []string{"n1", "n2", "n3"} {
		ts.seed(t, id, domain.NotificationSpec{Type: domain.NotificationInventoryUpdate, Roles: []domain.Role{domain.RoleManager}})
	}

	rec := ts.do(t, http.MethodGet, "/api/notifications?limit=2", nil, manager)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[notificationList](t, rec).Notifications, 2)

	for _, bad := range []string{"0", "-3", "abc", "501"} {
		rec = ts.do(t, http.MethodGet, "/api/notifications?limit="+bad, nil, manager)
		assert.Equal(t, http.StatusBadRequest, rec.Code, bad)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "n1", domain.NotificationSpec{Type: domain.NotificationStockShipped, Recipients: []string{"cashier-1"}})

	rec := ts.do(t, http.MethodPost, "/api/notifications/n1/read", nil, cashier)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.True(t, ts.history.IsRead("n1", "cashier-1"))

	rec = ts.do(t, http.MethodPost, "/api/notifications/n1/read", nil, cashier)
	assert.Equal(t, http.StatusNoContent, rec.Code, "marking twice is harmless")
}

func TestMarkNotificationRead_NotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.seed(t, "n1", domain.NotificationSpec{Type: domain.NotificationStockShipped, Recipients: []string{"cashier-1"}})

	tests := []struct {
		name  string
		path  string
		actor domain.Actor
	}{
		{"unknown notification", "/api/notifications/missing/read", cashier},
		{"not visible to caller", "/api/notifications/n1/read", manager},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, tt.path, nil, tt.actor)
			assert.Equal(t, http.StatusNotFound, rec.Code)
			assert.Equal(t, apperrors.TypeNotFound, decode[apperrors.ErrorResponse](t, rec).Type)
		})
	}
	assert.False(t, ts.history.IsRead("n1", "manager-1"))
}

func TestSendNotification(t *testing.T) {
	ts := newTestServer(t)
	mgr := ts.connect(t, manager)
	otherBranch := ts.connect(t, domain.Actor{UserID: "manager-2", Role: domain.RoleManager, Branch: "b2"})
	cash := ts.connect(t, cashier)

	rec := ts.do(t, http.MethodPost, "/api/notifications", map[string]any{
		"type":      "low_stock_alert",
		"title":     "Low stock",
		"message":   "Rice 5kg below threshold",
		"data":      map[string]any{"product_id": "productA", "current_stock": 2},
		"priority":  "high",
		"roles":     []string{"manager"},
		"branch_id": "b1",
	}, clerk)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	resp := decode[deliveryResponse](t, rec)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, 1, resp.Delivered)
	assert.Empty(t, resp.Failed)

	payloads := mgr.payloads(t)
	require.Len(t, payloads, 1)
	assert.Equal(t, resp.ID, payloads[0].ID)
	assert.Equal(t, domain.PriorityHigh, payloads[0].Priority)
	assert.Equal(t, "productA", payloads[0].Data["product_id"])
	assert.Empty(t, otherBranch.payloads(t))
	assert.Empty(t, cash.payloads(t))

	_, stored := ts.history.Get(resp.ID)
	assert.True(t, stored)
}

func TestSendNotification_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    map[string]any
		wantMsg string
	}{
		{
			name:    "workflow type",
			body:    map[string]any{"type": "stock_approved", "title": "t", "message": "m", "roles": []string{"manager"}},
			wantMsg: "only low_stock_alert and inventory_update may be sent directly",
		},
		{
			name:    "unknown type",
			body:    map[string]any{"type": "party", "title": "t", "message": "m", "roles": []string{"manager"}},
			wantMsg: "unknown notification type",
		},
		{
			name:    "no audience",
			body:    map[string]any{"type": "inventory_update", "title": "t", "message": "m"},
			wantMsg: "recipients or roles are required",
		},
		{
			name:    "bad priority",
			body:    map[string]any{"type": "inventory_update", "title": "t", "message": "m", "roles": []string{"manager"}, "priority": "meh"},
			wantMsg: "unknown priority",
		},
		{
			name:    "missing title",
			body:    map[string]any{"type": "inventory_update", "message": "m", "roles": []string{"manager"}},
			wantMsg: "title and message are required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			rec := ts.do(t, http.MethodPost, "/api/notifications", tt.body, clerk)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantMsg, decode[apperrors.ErrorResponse](t, rec).Error)
			assert.Zero(t, ts.history.Len())
		})
	}
}

func TestSendNotification_AfterShutdown(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.registry.Shutdown(context.Background()))

	rec := ts.do(t, http.MethodPost, "/api/notifications", map[string]any{
		"type": "inventory_update", "title": "t", "message": "m", "roles": []string{"manager"},
	}, clerk)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
