package domain

import "errors"

// Notification and delivery errors.
var (
	ErrNoAudience          = errors.New("notification has no recipients or roles")
	ErrUnknownNotification = errors.New("unknown notification type")
	ErrNotificationMissing = errors.New("notification not found")
	ErrUnknownPriority     = errors.New("unknown priority")
	ErrMissingIdentity     = errors.New("user id and connection id are required")
	ErrConnectionLimit     = errors.New("connection limit reached for user")
	ErrConnectionNotFound  = errors.New("connection not registered")
	ErrRegistryClosed      = errors.New("registry is shut down")
)

// Stock request errors.
var (
	ErrEmptyItems           = errors.New("stock request has no items")
	ErrMissingRequester     = errors.New("requester and branch are required")
	ErrStockRequestNotFound = errors.New("stock request not found")
	ErrInvalidTransition    = errors.New("transition not allowed from current status")
)
