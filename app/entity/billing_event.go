package entity

import "time"

const (
	EventPaymentCompleted        = "payment_completed"
	EventPaymentFailed           = "payment_failed"
	EventPackageUnmatched        = "package_unmatched"
	EventSubscriptionActivated   = "subscription_activated"
	EventSubscriptionRenewed     = "subscription_renewed"
	EventSubscriptionPlanChanged = "subscription_plan_changed"
	EventSubscriptionExpired     = "subscription_expired"
)

type BillingEvent struct {
	ID uint64

	UserID         uint64
	PaymentID      *uint64
	SubscriptionID *uint64

	EventType string
	Details   *string

	CreatedAt time.Time
}
