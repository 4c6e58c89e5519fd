package entity

import "time"

const (
	CallbackStatusProcessed = "processed"
	CallbackStatusFailed    = "failed"
	CallbackStatusDuplicate = "duplicate"
	CallbackStatusOrphan    = "orphan"
	CallbackStatusRejected  = "rejected"
	CallbackStatusError     = "error"
)

type PaymentCallback struct {
	ID uint64

	PaymentID        *uint64
	CorrelationToken *string
	ResultCode       *int32

	Provider    string
	PayloadJSON string
	Status      string
	Error       *string

	CreatedAt time.Time
}
