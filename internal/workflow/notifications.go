package workflow

import (
	"fmt"

	"github.com/pscheid92/stockrelay/internal/domain"
)

var (
	announceRoles = []domain.Role{domain.RoleInventoryClerk, domain.RoleManager, domain.RoleAdmin}
	stockRoles    = []domain.Role{domain.RoleInventoryClerk, domain.RoleManager}
)

func baseData(r *domain.StockRequest) map[string]any {
	return map[string]any{
		"request_id":  r.ID,
		"branch_id":   r.BranchID,
		"branch_name": r.BranchName,
		"status":      string(r.Status),
	}
}

func createdNotification(r *domain.StockRequest) domain.NotificationSpec {
	priority := domain.PriorityMedium
	if r.Priority == domain.RequestPriorityUrgent {
		priority = domain.PriorityHigh
	}

	data := baseData(r)
	data["requester_id"] = r.RequesterID
	data["requester_name"] = r.RequesterName
	data["priority"] = string(r.Priority)
	data["item_count"] = len(r.Items)
	data["total_quantity"] = r.TotalRequested()

	return domain.NotificationSpec{
		Type:     domain.NotificationStockRequestCreated,
		Title:    "New Stock Request",
		Message:  fmt.Sprintf("%s requested %d item(s) for %s", r.RequesterName, len(r.Items), branchLabel(r)),
		Data:     data,
		Priority: priority,
		Roles:    announceRoles,
	}
}

func approvedNotification(r *domain.StockRequest, approver domain.Actor) domain.NotificationSpec {
	approved := make(map[string]int)
	for _, it := range r.Items {
		if it.ApprovedQuantity != nil {
			approved[it.ProductID] = *it.ApprovedQuantity
		}
	}

	data := baseData(r)
	data["approved_by"] = approver.UserID
	data["approved_items"] = approved

	return domain.NotificationSpec{
		Type:       domain.NotificationStockApproved,
		Title:      "Stock Request Approved",
		Message:    fmt.Sprintf("Your stock request has been approved by %s", approver.DisplayName()),
		Data:       data,
		Priority:   domain.PriorityMedium,
		Recipients: []string{r.RequesterID},
	}
}

func shippedNotification(r *domain.StockRequest, shipper domain.Actor) domain.NotificationSpec {
	data := baseData(r)
	data["shipped_by"] = shipper.UserID
	data["tracking_number"] = r.TrackingNumber

	message := "Your requested stock has been shipped"
	if r.TrackingNumber != "" {
		message += fmt.Sprintf(" (tracking %s)", r.TrackingNumber)
	}

	return domain.NotificationSpec{
		Type:       domain.NotificationStockShipped,
		Title:      "Stock Shipped",
		Message:    message,
		Data:       data,
		Priority:   domain.PriorityMedium,
		Recipients: []string{r.RequesterID},
		Branch:     r.BranchID,
	}
}

func receivedNotification(r *domain.StockRequest, receiver domain.Actor) domain.NotificationSpec {
	received := make(map[string]int)
	for _, it := range r.Items {
		if it.ReceivedQuantity != nil {
			received[it.ProductID] = *it.ReceivedQuantity
		}
	}

	data := baseData(r)
	data["received_by"] = receiver.UserID
	data["received_items"] = received

	return domain.NotificationSpec{
		Type:     domain.NotificationStockReceived,
		Title:    "Stock Received",
		Message:  fmt.Sprintf("Stock for request from %s has been received", branchLabel(r)),
		Data:     data,
		Priority: domain.PriorityLow,
		Roles:    stockRoles,
	}
}

func rejectedNotification(r *domain.StockRequest, rejector domain.Actor, reason string) domain.NotificationSpec {
	data := baseData(r)
	data["rejected_by"] = rejector.UserID
	data["reason"] = reason

	return domain.NotificationSpec{
		Type:       domain.NotificationStockRejected,
		Title:      "Stock Request Rejected",
		Message:    fmt.Sprintf("Your stock request was rejected: %s", reason),
		Data:       data,
		Priority:   domain.PriorityMedium,
		Recipients: []string{r.RequesterID},
	}
}

func cancelledNotification(r *domain.StockRequest, canceller domain.Actor, reason string) domain.NotificationSpec {
	data := baseData(r)
	data["cancelled_by"] = canceller.UserID
	data["reason"] = reason

	return domain.NotificationSpec{
		Type:       domain.NotificationStockRequestCancelled,
		Title:      "Stock Request Cancelled",
		Message:    fmt.Sprintf("Stock request from %s was cancelled by %s", branchLabel(r), canceller.DisplayName()),
		Data:       data,
		Priority:   domain.PriorityMedium,
		Recipients: []string{r.RequesterID},
		Roles:      stockRoles,
		Branch:     r.BranchID,
	}
}

func branchLabel(r *domain.StockRequest) string {
	if r.BranchName != "" {
		return r.BranchName
	}
	return r.BranchID
}
