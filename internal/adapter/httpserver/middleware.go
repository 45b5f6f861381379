package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/stockrelay/internal/domain"
	"github.com/pscheid92/stockrelay/internal/platform/correlation"
	apperrors "github.com/pscheid92/stockrelay/internal/platform/errors"
)

// Identity headers set by the gateway in front of this service.
const (
	headerUserID   = "X-User-ID"
	headerUserName = "X-User-Name"
	headerUserRole = "X-User-Role"
	headerBranchID = "X-Branch-ID"
)

const (
	ctxKeyActor      = "actor"
	ctxKeyUserID     = "userID"
	ctxKeyResourceID = "resourceID"
)

func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := correlation.FromHeader(c.Request().Header.Get(correlation.HeaderName))
		ctx := correlation.WithID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.HeaderName, id)
		return next(c)
	}
}

// requireActor reads the forwarded identity. Authentication happens upstream;
// a request without a user ID never reached the gateway's auth and is refused.
func requireActor(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		h := c.Request().Header
		userID := strings.TrimSpace(h.Get(headerUserID))
		if userID == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing "+headerUserID+" header")
		}

		c.Set(ctxKeyActor, domain.Actor{
			UserID: userID,
			Name:   strings.TrimSpace(h.Get(headerUserName)),
			Role:   domain.Role(strings.TrimSpace(h.Get(headerUserRole))),
			Branch: strings.TrimSpace(h.Get(headerBranchID)),
		})
		c.Set(ctxKeyUserID, userID)
		return next(c)
	}
}

func actorFrom(c echo.Context) domain.Actor {
	actor, _ := c.Get(ctxKeyActor).(domain.Actor)
	return actor
}

// auditMiddleware writes one Audit entry per mutating request once the
// handler has finished.
func auditMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		err := next(c)

		method := c.Request().Method
		if method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions {
			return err
		}

		actor := actorFrom(c)
		resourceID := c.Param("id")
		if id, ok := c.Get(ctxKeyResourceID).(string); ok && id != "" {
			resourceID = id
		}

		attrs := []any{
			"actor_id", actor.UserID,
			"actor_role", actor.Role,
			"branch_id", actor.Branch,
			"action", method + " " + c.Path(),
			"resource_id", resourceID,
			"status", responseStatus(c, err),
		}
		if err != nil {
			attrs = append(attrs, "error", err)
		}
		slog.InfoContext(c.Request().Context(), "Audit", attrs...)
		return err
	}
}

// responseStatus is the status the client will see, including errors that the
// outer error middleware has not rendered yet.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Code
	}
	return apperrors.AsStructuredError(err).HTTPStatus()
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			var httpErr *echo.HTTPError
			if errors.As(err, &httpErr) {
				return err
			}

			structuredErr := apperrors.AsStructuredError(err)
			logError(c, structuredErr)

			if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}

func logError(c echo.Context, err *apperrors.Error) {
	ctx := c.Request().Context()
	attrs := []any{
		"error_type", err.Type,
		"message", err.Message,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"status", err.HTTPStatus(),
	}

	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}

	if userID := c.Get(ctxKeyUserID); userID != nil {
		attrs = append(attrs, "user_id", userID)
	}

	switch err.Type {
	case apperrors.TypeValidation:
		slog.InfoContext(ctx, "Validation error", attrs...)
	case apperrors.TypeNotFound:
		slog.InfoContext(ctx, "Not found", attrs...)
	case apperrors.TypeConflict:
		slog.WarnContext(ctx, "Conflict", attrs...)
	case apperrors.TypeUnavailable:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.WarnContext(ctx, "Service unavailable", attrs...)
	case apperrors.TypeInternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "Internal error", attrs...)
	case apperrors.TypeExternal:
		if err.Cause != nil {
			attrs = append(attrs, "cause", err.Cause)
		}
		slog.ErrorContext(ctx, "External service error", attrs...)
	default:
		slog.ErrorContext(ctx, "Unknown error type", attrs...)
	}
}

// bindJSON decodes the request body into v and reports a validation error on
// malformed input.
func bindJSON(c echo.Context, v any) error {
	if err := (&echo.DefaultBinder{}).BindBody(c, v); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	return nil
}

func writeJSON(c echo.Context, status int, v any) error {
	if err := c.JSON(status, v); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
