package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrPackageNotFound      = errors.New("package not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrUsageUnavailable     = errors.New("usage is not available")
	ErrJobAlreadyRunning    = errors.New("job already running on another instance")
)
