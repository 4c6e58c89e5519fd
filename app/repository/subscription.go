package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

var ErrSubscriptionNotFound = errors.New("subscription not found")

const subscriptionColumns = `
	id, user_id, package_id, package_name, price, router_profile,
	start_date, end_date, is_active, payment_id, created_at, updated_at
`

type SubscriptionRepository struct {
	db DBTX
}

func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub *entity.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, package_id, package_name, price, router_profile,
			start_date, end_date, is_active, payment_id, created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		sub.UserID,
		nullableUint64Value(sub.PackageID),
		sub.PackageName,
		sub.Price.String(),
		sub.RouterProfile,
		sub.StartDate,
		sub.EndDate,
		sub.IsActive,
		nullableUint64Value(sub.PaymentID),
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	sub.ID = uint64(id)
	return nil
}

func (r *SubscriptionRepository) Update(ctx context.Context, sub *entity.Subscription) error {
	query := `
		UPDATE subscriptions SET
			package_id = ?,
			package_name = ?,
			price = ?,
			router_profile = ?,
			start_date = ?,
			end_date = ?,
			is_active = ?,
			payment_id = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query,
		nullableUint64Value(sub.PackageID),
		sub.PackageName,
		sub.Price.String(),
		sub.RouterProfile,
		sub.StartDate,
		sub.EndDate,
		sub.IsActive,
		nullableUint64Value(sub.PaymentID),
		sub.UpdatedAt,
		sub.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrSubscriptionNotFound
	}

	return nil
}

// FindLatestByUserForUpdate returns the user's active subscription, or the most
// recent one when none is active, and locks the row for the enclosing transaction.
func (r *SubscriptionRepository) FindLatestByUserForUpdate(ctx context.Context, userID uint64) (*entity.Subscription, error) {
	return r.findLatestByUser(ctx, userID, " FOR UPDATE")
}

func (r *SubscriptionRepository) FindLatestByUser(ctx context.Context, userID uint64) (*entity.Subscription, error) {
	return r.findLatestByUser(ctx, userID, "")
}

func (r *SubscriptionRepository) findLatestByUser(ctx context.Context, userID uint64, lockClause string) (*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY is_active DESC, end_date DESC, id DESC
		LIMIT 1` + lockClause

	sub := &entity.Subscription{}
	if err := scanSubscription(conn(ctx, r.db).QueryRowContext(ctx, query, userID), sub); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return sub, nil
}

func (r *SubscriptionRepository) ListExpiredActive(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE is_active = 1
		  AND end_date < ?
		ORDER BY end_date ASC
		LIMIT ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]*entity.Subscription, 0)
	for rows.Next() {
		item := &entity.Subscription{}
		if err := scanSubscription(rows, item); err != nil {
			return nil, err
		}
		subs = append(subs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return subs, nil
}

func (r *SubscriptionRepository) ListByUser(ctx context.Context, userID uint64, limit, offset int32) ([]*entity.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE user_id = ?
		ORDER BY start_date DESC, id DESC
		LIMIT ? OFFSET ?
	`

	rows, err := conn(ctx, r.db).QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := make([]*entity.Subscription, 0)
	for rows.Next() {
		item := &entity.Subscription{}
		if err := scanSubscription(rows, item); err != nil {
			return nil, err
		}
		subs = append(subs, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return subs, nil
}

// DeactivateIfExpired clears is_active only while the row is still expired at
// now. A renewal committed after the row was listed moves end_date forward and
// makes this a no-op.
func (r *SubscriptionRepository) DeactivateIfExpired(ctx context.Context, id uint64, now time.Time) (bool, error) {
	query := `
		UPDATE subscriptions SET is_active = 0, updated_at = ?
		WHERE id = ? AND is_active = 1 AND end_date < ?
	`

	result, err := conn(ctx, r.db).ExecContext(ctx, query, now, id, now)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func scanSubscription(scan rowScanner, sub *entity.Subscription) error {
	var packageID sql.NullInt64
	var paymentID sql.NullInt64

	err := scan.Scan(
		&sub.ID,
		&sub.UserID,
		&packageID,
		&sub.PackageName,
		&sub.Price,
		&sub.RouterProfile,
		&sub.StartDate,
		&sub.EndDate,
		&sub.IsActive,
		&paymentID,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return err
	}

	sub.PackageID = uint64PtrFromNull(packageID)
	sub.PaymentID = uint64PtrFromNull(paymentID)
	return nil
}
