package domain

import (
	"fmt"
	"slices"
	"time"
)

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusShipped   RequestStatus = "shipped"
	StatusReceived  RequestStatus = "received"
	StatusRejected  RequestStatus = "rejected"
	StatusCancelled RequestStatus = "cancelled"
)

func ParseRequestStatus(s string) (RequestStatus, error) {
	switch st := RequestStatus(s); st {
	case StatusPending, StatusApproved, StatusShipped, StatusReceived, StatusRejected, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("unknown stock request status %q", s)
	}
}

// Terminal reports whether no further transition is expected.
func (s RequestStatus) Terminal() bool {
	return s == StatusReceived || s == StatusRejected || s == StatusCancelled
}

type RequestPriority string

const (
	RequestPriorityLow    RequestPriority = "low"
	RequestPriorityNormal RequestPriority = "normal"
	RequestPriorityHigh   RequestPriority = "high"
	RequestPriorityUrgent RequestPriority = "urgent"
)

func ParseRequestPriority(s string) (RequestPriority, error) {
	switch p := RequestPriority(s); p {
	case RequestPriorityLow, RequestPriorityNormal, RequestPriorityHigh, RequestPriorityUrgent:
		return p, nil
	case "":
		return RequestPriorityNormal, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
	}
}

type StockRequestItem struct {
	ProductID         string `json:"product_id"`
	ProductName       string `json:"product_name"`
	RequestedQuantity int    `json:"requested_quantity"`
	CurrentStock      int    `json:"current_stock"`
	Reason            string `json:"reason,omitempty"`
	// ApprovedQuantity is nil until an approval mentions this product. It is
	// not checked against RequestedQuantity.
	ApprovedQuantity *int `json:"approved_quantity"`
	// ReceivedQuantity is recorded as reported and never reconciled here.
	ReceivedQuantity *int `json:"received_quantity"`
}

// StockRequest is a branch's replenishment request moving through
// pending → approved → shipped → received, or ending rejected/cancelled.
type StockRequest struct {
	ID            string             `json:"id"`
	RequesterID   string             `json:"requester_id"`
	RequesterName string             `json:"requester_name"`
	BranchID      string             `json:"branch_id"`
	BranchName    string             `json:"branch_name"`
	Priority      RequestPriority    `json:"priority"`
	Status        RequestStatus      `json:"status"`
	Notes         string             `json:"notes"`
	Items         []StockRequestItem `json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`

	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	ShippedBy      string     `json:"shipped_by,omitempty"`
	ShippedAt      *time.Time `json:"shipped_at,omitempty"`
	TrackingNumber string     `json:"tracking_number,omitempty"`
	ReceivedBy     string     `json:"received_by,omitempty"`
	ReceivedAt     *time.Time `json:"received_at,omitempty"`
	RejectedBy     string     `json:"rejected_by,omitempty"`
	RejectedAt     *time.Time `json:"rejected_at,omitempty"`
	CancelledBy    string     `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
}

// Clone returns a deep copy so callers never share item slices or
// quantity pointers with the workflow's table.
func (r *StockRequest) Clone() *StockRequest {
	c := *r
	c.Items = slices.Clone(r.Items)
	for i := range c.Items {
		c.Items[i].ApprovedQuantity = cloneInt(r.Items[i].ApprovedQuantity)
		c.Items[i].ReceivedQuantity = cloneInt(r.Items[i].ReceivedQuantity)
	}
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.ShippedAt = cloneTime(r.ShippedAt)
	c.ReceivedAt = cloneTime(r.ReceivedAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.CancelledAt = cloneTime(r.CancelledAt)
	return &c
}

// Item returns the item for productID, or nil.
func (r *StockRequest) Item(productID string) *StockRequestItem {
	for i := range r.Items {
		if r.Items[i].ProductID == productID {
			return &r.Items[i]
		}
	}
	return nil
}

// TotalRequested sums requested quantities across items.
func (r *StockRequest) TotalRequested() int {
	total := 0
	for _, it := range r.Items {
		total += it.RequestedQuantity
	}
	return total
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
