package workflow

import (
	"cmp"
	"slices"

	"github.com/pscheid92/stockrelay/internal/domain"
)

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Status      domain.RequestStatus
	BranchID    string
	RequesterID string
}

func (f Filter) matches(r *domain.StockRequest) bool {
	return (f.Status == "" || r.Status == f.Status) &&
		(f.BranchID == "" || r.BranchID == f.BranchID) &&
		(f.RequesterID == "" || r.RequesterID == f.RequesterID)
}

// Get returns a copy of the request.
func (w *Workflow) Get(id string) (*domain.StockRequest, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	r, ok := w.requests[id]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List scans the table and returns copies of matching requests, oldest first.
func (w *Workflow) List(f Filter) []*domain.StockRequest {
	w.mu.RLock()
	out := make([]*domain.StockRequest, 0, len(w.requests))
	for _, r := range w.requests {
		if f.matches(r) {
			out = append(out, r.Clone())
		}
	}
	w.mu.RUnlock()

	slices.SortFunc(out, func(a, b *domain.StockRequest) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func (w *Workflow) ListByStatus(status domain.RequestStatus) []*domain.StockRequest {
	return w.List(Filter{Status: status})
}

func (w *Workflow) ListByBranch(branchID string) []*domain.StockRequest {
	return w.List(Filter{BranchID: branchID})
}

func (w *Workflow) ListByRequester(userID string) []*domain.StockRequest {
	return w.List(Filter{RequesterID: userID})
}
