package domain

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

type NotificationType string

const (
	NotificationStockRequestCreated   NotificationType = "stock_request_created"
	NotificationStockApproved         NotificationType = "stock_approved"
	NotificationStockRejected         NotificationType = "stock_rejected"
	NotificationStockShipped          NotificationType = "stock_shipped"
	NotificationStockReceived         NotificationType = "stock_received"
	NotificationStockRequestCancelled NotificationType = "stock_request_cancelled"
	NotificationLowStockAlert         NotificationType = "low_stock_alert"
	NotificationInventoryUpdate       NotificationType = "inventory_update"
)

func ParseNotificationType(s string) (NotificationType, error) {
	switch t := NotificationType(s); t {
	case NotificationStockRequestCreated, NotificationStockApproved, NotificationStockRejected,
		NotificationStockShipped, NotificationStockReceived, NotificationStockRequestCancelled,
		NotificationLowStockAlert, NotificationInventoryUpdate:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownNotification, s)
	}
}

// Priority of a notification. Distinct from RequestPriority: a request's
// "normal" maps to no notification level directly.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func ParsePriority(s string) (Priority, error) {
	switch p := Priority(s); p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, nil
	case "":
		return PriorityMedium, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPriority, s)
	}
}

// Role is an organizational role. Matching is exact.
type Role string

const (
	RoleAdmin          Role = "admin"
	RoleManager        Role = "manager"
	RoleInventoryClerk Role = "inventory_clerk"
	RoleCashier        Role = "cashier"
	RoleAccountant     Role = "accountant"
)

// NotificationSpec carries everything needed to build a Notification.
type NotificationSpec struct {
	Type       NotificationType
	Title      string
	Message    string
	Data       map[string]any
	Priority   Priority
	Recipients []string
	Roles      []Role
	Branch     string
}

// Notification is a routed event. Routing fields are fixed at construction
// and only exposed as copies; the read-set is the only mutable state.
type Notification struct {
	id         string
	typ        NotificationType
	title      string
	message    string
	data       map[string]any
	priority   Priority
	recipients []string
	roles      []Role
	branch     string
	createdAt  time.Time

	mu     sync.Mutex
	readBy map[string]time.Time
}

func NewNotification(id string, spec NotificationSpec, createdAt time.Time) (*Notification, error) {
	if _, err := ParseNotificationType(string(spec.Type)); err != nil {
		return nil, err
	}
	priority, err := ParsePriority(string(spec.Priority))
	if err != nil {
		return nil, err
	}

	recipients := compactStrings(spec.Recipients)
	roles := compactRoles(spec.Roles)
	if len(recipients) == 0 && len(roles) == 0 {
		return nil, ErrNoAudience
	}

	data := make(map[string]any, len(spec.Data))
	for k, v := range spec.Data {
		data[k] = v
	}

	return &Notification{
		id:         id,
		typ:        spec.Type,
		title:      spec.Title,
		message:    spec.Message,
		data:       data,
		priority:   priority,
		recipients: recipients,
		roles:      roles,
		branch:     spec.Branch,
		createdAt:  createdAt.UTC(),
		readBy:     make(map[string]time.Time),
	}, nil
}

func (n *Notification) ID() string                 { return n.id }
func (n *Notification) Type() NotificationType     { return n.typ }
func (n *Notification) Title() string              { return n.title }
func (n *Notification) Message() string            { return n.message }
func (n *Notification) Priority() Priority         { return n.priority }
func (n *Notification) Branch() string             { return n.branch }
func (n *Notification) CreatedAt() time.Time       { return n.createdAt }
func (n *Notification) Recipients() []string       { return slices.Clone(n.recipients) }
func (n *Notification) Roles() []Role              { return slices.Clone(n.roles) }
func (n *Notification) HasRecipient(u string) bool { return slices.Contains(n.recipients, u) }
func (n *Notification) HasRole(r Role) bool        { return slices.Contains(n.roles, r) }

// Data returns a shallow copy of the payload.
func (n *Notification) Data() map[string]any {
	out := make(map[string]any, len(n.data))
	for k, v := range n.data {
		out[k] = v
	}
	return out
}

// Viewer identifies who is looking at the history.
type Viewer struct {
	UserID string
	Role   Role
	Branch string
}

// VisibleTo applies the same routing rules as delivery: explicit recipient,
// or a listed role inside the branch scope (empty scope = every branch).
func (n *Notification) VisibleTo(v Viewer) bool {
	if v.UserID != "" && n.HasRecipient(v.UserID) {
		return true
	}
	if v.Role == "" || !n.HasRole(v.Role) {
		return false
	}
	return n.branch == "" || n.branch == v.Branch
}

// MarkRead records userID in the read-set. Reports whether it was newly added.
func (n *Notification) MarkRead(userID string, at time.Time) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.readBy[userID]; ok {
		return false
	}
	n.readBy[userID] = at.UTC()
	return true
}

func (n *Notification) IsRead(userID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.readBy[userID]
	return ok
}

func (n *Notification) ReadBy() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	users := make([]string, 0, len(n.readBy))
	for u := range n.readBy {
		users = append(users, u)
	}
	slices.Sort(users)
	return users
}

// WirePayload is the server→client frame for a notification.
type WirePayload struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Data      map[string]any   `json:"data"`
	Priority  Priority         `json:"priority"`
	Timestamp time.Time        `json:"timestamp"`
	Read      bool             `json:"read"`
}

// Payload builds the socket frame. Read is always false on the wire; read
// state is tracked server-side only.
func (n *Notification) Payload() WirePayload {
	return WirePayload{
		ID:        n.id,
		Type:      n.typ,
		Title:     n.title,
		Message:   n.message,
		Data:      n.Data(),
		Priority:  n.priority,
		Timestamp: n.createdAt,
	}
}

// ViewFor is Payload with the viewer's own read flag, for history listings.
func (n *Notification) ViewFor(userID string) WirePayload {
	p := n.Payload()
	p.Read = n.IsRead(userID)
	return p
}

// Envelope is the full notification including routing, used to relay a
// notification between instances and to archive it.
type Envelope struct {
	ID         string           `json:"id"`
	Type       NotificationType `json:"type"`
	Title      string           `json:"title"`
	Message    string           `json:"message"`
	Data       map[string]any   `json:"data"`
	Priority   Priority         `json:"priority"`
	Recipients []string         `json:"recipients"`
	Roles      []Role           `json:"roles"`
	Branch     string           `json:"branch,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
}

func (n *Notification) Envelope() Envelope {
	return Envelope{
		ID:         n.id,
		Type:       n.typ,
		Title:      n.title,
		Message:    n.message,
		Data:       n.Data(),
		Priority:   n.priority,
		Recipients: n.Recipients(),
		Roles:      n.Roles(),
		Branch:     n.branch,
		CreatedAt:  n.createdAt,
	}
}

func NotificationFromEnvelope(e Envelope) (*Notification, error) {
	return NewNotification(e.ID, NotificationSpec{
		Type:       e.Type,
		Title:      e.Title,
		Message:    e.Message,
		Data:       e.Data,
		Priority:   e.Priority,
		Recipients: e.Recipients,
		Roles:      e.Roles,
		Branch:     e.Branch,
	}, e.CreatedAt)
}

func compactStrings(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func compactRoles(in []Role) []Role {
	out := make([]Role, 0, len(in))
	for _, r := range in {
		if r != "" && !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
