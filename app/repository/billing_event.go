package repository

import (
	"context"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

type BillingEventRepository struct {
	db DBTX
}

func NewBillingEventRepository(db DBTX) *BillingEventRepository {
	return &BillingEventRepository{db: db}
}

func (r *BillingEventRepository) Create(ctx context.Context, event *entity.BillingEvent) error {
	query := `
		INSERT INTO billing_events (
			user_id, payment_id, subscription_id, event_type, details, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		event.UserID,
		nullableUint64Value(event.PaymentID),
		nullableUint64Value(event.SubscriptionID),
		event.EventType,
		nullableStringValue(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = uint64(id)

	return nil
}
