package order

import "errors"

var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrDuplicateOrderID  = errors.New("order with this id already exists")
	ErrInvalidTransition = errors.New("invalid order status transition")
	ErrRoleNotPermitted  = errors.New("role is not permitted to perform this action")
	ErrValidation        = errors.New("validation failed")
	ErrStoreUnavailable  = errors.New("order store unavailable")
)
