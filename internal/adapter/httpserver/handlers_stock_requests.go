package httpserver

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/domain"
	apperrors "github.com/pscheid92/stockrelay/internal/platform/errors"
	"github.com/pscheid92/stockrelay/internal/workflow"
)

func (s *Server) registerStockRequestRoutes(g *echo.Group) {
	g.POST("/stock-requests", s.handleCreateStockRequest)
	g.GET("/stock-requests", s.handleListStockRequests)
	g.GET("/stock-requests/:id", s.handleGetStockRequest)
	g.POST("/stock-requests/:id/approve", s.handleApproveStockRequest)
	g.POST("/stock-requests/:id/ship", s.handleShipStockRequest)
	g.POST("/stock-requests/:id/receive", s.handleReceiveStockRequest)
	g.POST("/stock-requests/:id/reject", s.handleRejectStockRequest)
	g.POST("/stock-requests/:id/cancel", s.handleCancelStockRequest)
}

type createStockRequestBody struct {
	BranchID   string                    `json:"branch_id"`
	BranchName string                    `json:"branch_name"`
	Priority   string                    `json:"priority"`
	Notes      string                    `json:"notes"`
	Items      []domain.StockRequestItem `json:"items"`
}

type quantitiesBody struct {
	Quantities map[string]int `json:"quantities"`
}

type shipBody struct {
	TrackingNumber string `json:"tracking_number"`
}

type reasonBody struct {
	Reason string `json:"reason"`
}

func (s *Server) handleCreateStockRequest(c echo.Context) error {
	var body createStockRequestBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	actor := actorFrom(c)
	branchID := body.BranchID
	if branchID == "" {
		branchID = actor.Branch
	}

	for i, item := range body.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return apperrors.ValidationError("item product_id is required").WithContext("item", i)
		}
		if item.RequestedQuantity <= 0 {
			return apperrors.ValidationError("item requested_quantity must be positive").
				WithContext("item", i).
				WithContext("product_id", item.ProductID)
		}
	}

	id, err := s.workflow.Create(c.Request().Context(), workflow.CreateInput{
		Requester:  actor,
		BranchID:   branchID,
		BranchName: body.BranchName,
		Items:      body.Items,
		Priority:   domain.RequestPriority(strings.ToLower(body.Priority)),
		Notes:      body.Notes,
	})
	switch {
	case errors.Is(err, domain.ErrEmptyItems):
		return apperrors.ValidationError("at least one item is required")
	case errors.Is(err, domain.ErrMissingRequester):
		return apperrors.ValidationError("branch_id is required")
	case errors.Is(err, domain.ErrUnknownPriority):
		return apperrors.ValidationError("unknown priority").WithContext("priority", body.Priority)
	case err != nil:
		return apperrors.InternalError("failed to create stock request", err)
	}

	c.Set(ctxKeyResourceID, id)
	return writeJSON(c, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleListStockRequests(c echo.Context) error {
	filter := workflow.Filter{
		BranchID:    c.QueryParam("branch"),
		RequesterID: c.QueryParam("requester"),
	}
	if raw := c.QueryParam("status"); raw != "" {
		status, err := domain.ParseRequestStatus(strings.ToLower(raw))
		if err != nil {
			return apperrors.ValidationError("unknown status").WithContext("status", raw)
		}
		filter.Status = status
	}

	requests := s.workflow.List(filter)
	if requests == nil {
		requests = []*domain.StockRequest{}
	}
	return writeJSON(c, http.StatusOK, map[string]any{
		"stock_requests": requests,
		"count":          len(requests),
	})
}

func (s *Server) handleGetStockRequest(c echo.Context) error {
	id := c.Param("id")
	r, ok := s.workflow.Get(id)
	if !ok {
		return stockRequestNotFound(id)
	}
	return writeJSON(c, http.StatusOK, r)
}

func (s *Server) handleApproveStockRequest(c echo.Context) error {
	var body quantitiesBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	if err := validateQuantities(body.Quantities); err != nil {
		return err
	}

	id := c.Param("id")
	if !s.workflow.Approve(c.Request().Context(), id, actorFrom(c), body.Quantities) {
		return stockRequestNotFound(id)
	}
	return s.respondWithRequest(c, id)
}

func (s *Server) handleShipStockRequest(c echo.Context) error {
	var body shipBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	id := c.Param("id")
	if !s.workflow.Ship(c.Request().Context(), id, actorFrom(c), strings.TrimSpace(body.TrackingNumber)) {
		return stockRequestNotFound(id)
	}
	return s.respondWithRequest(c, id)
}

func (s *Server) handleReceiveStockRequest(c echo.Context) error {
	var body quantitiesBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	if err := validateQuantities(body.Quantities); err != nil {
		return err
	}

	id := c.Param("id")
	if !s.workflow.Receive(c.Request().Context(), id, actorFrom(c), body.Quantities) {
		return stockRequestNotFound(id)
	}
	return s.respondWithRequest(c, id)
}

func (s *Server) handleRejectStockRequest(c echo.Context) error {
	var body reasonBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		return apperrors.ValidationError("reason is required")
	}

	id := c.Param("id")
	if !s.workflow.Reject(c.Request().Context(), id, actorFrom(c), reason) {
		return stockRequestNotFound(id)
	}
	return s.respondWithRequest(c, id)
}

func (s *Server) handleCancelStockRequest(c echo.Context) error {
	var body reasonBody
	if err := bindJSON(c, &body); err != nil {
		return err
	}

	id := c.Param("id")
	err := s.workflow.Cancel(c.Request().Context(), id, actorFrom(c), strings.TrimSpace(body.Reason))
	switch {
	case errors.Is(err, domain.ErrStockRequestNotFound):
		return stockRequestNotFound(id)
	case errors.Is(err, domain.ErrInvalidTransition):
		return apperrors.ConflictError("stock request can no longer be cancelled").WithContext("request_id", id)
	case err != nil:
		return apperrors.InternalError("failed to cancel stock request", err)
	}
	return s.respondWithRequest(c, id)
}

func (s *Server) respondWithRequest(c echo.Context, id string) error {
	r, ok := s.workflow.Get(id)
	if !ok {
		return stockRequestNotFound(id)
	}
	return writeJSON(c, http.StatusOK, r)
}

func validateQuantities(q map[string]int) error {
	for productID, qty := range q {
		if qty < 0 {
			return apperrors.ValidationError("quantities must not be negative").WithContext("product_id", productID)
		}
	}
	return nil
}

func stockRequestNotFound(id string) error {
	return apperrors.NotFoundError("stock request not found").WithContext("request_id", id)
}
