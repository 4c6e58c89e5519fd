package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed out of the status.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

type PendingPayment struct {
	ID uint64

	CorrelationToken  string
	MerchantRequestID string

	PayerReference string
	UserID         uint64

	Amount      decimal.Decimal
	PhoneNumber string

	Status PaymentStatus

	ResultCode      *int32
	ResultDesc      *string
	ReceiptNumber   *string
	ConfirmedAmount *decimal.Decimal

	CreatedAt   time.Time
	FinalizedAt *time.Time
	UpdatedAt   time.Time
}

// PaymentOutcome is what a callback (or a status query) decided for a pending payment.
type PaymentOutcome struct {
	Status          PaymentStatus
	ResultCode      *int32
	ResultDesc      *string
	ReceiptNumber   *string
	ConfirmedAmount *decimal.Decimal
	FinalizedAt     time.Time
}
