package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
)

type transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type pendingPaymentRepository interface {
	Create(ctx context.Context, payment *entity.PendingPayment) error
	FindByToken(ctx context.Context, token string) (*entity.PendingPayment, error)
	Finalize(ctx context.Context, token string, outcome entity.PaymentOutcome) (*entity.PendingPayment, error)
	ListStalePending(ctx context.Context, before time.Time, afterID uint64, limit int32) ([]*entity.PendingPayment, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int32) ([]*entity.PendingPayment, error)
}

type subscriptionRepository interface {
	Create(ctx context.Context, sub *entity.Subscription) error
	Update(ctx context.Context, sub *entity.Subscription) error
	FindLatestByUser(ctx context.Context, userID uint64) (*entity.Subscription, error)
	FindLatestByUserForUpdate(ctx context.Context, userID uint64) (*entity.Subscription, error)
	ListByUser(ctx context.Context, userID uint64, limit, offset int32) ([]*entity.Subscription, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int32) ([]*entity.Subscription, error)
	DeactivateIfExpired(ctx context.Context, id uint64, now time.Time) (bool, error)
}

type userRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.User, error)
	FindByPhone(ctx context.Context, phone string) (*entity.User, error)
	LockByID(ctx context.Context, id uint64) (*entity.User, error)
}

type packageRepository interface {
	FindByID(ctx context.Context, id uint64) (*entity.Package, error)
	FindActiveByPrice(ctx context.Context, amount decimal.Decimal) (*entity.Package, error)
}

type paymentCallbackRepository interface {
	Create(ctx context.Context, callback *entity.PaymentCallback) error
}

type billingEventRepository interface {
	Create(ctx context.Context, event *entity.BillingEvent) error
}

type provisioningDispatcher interface {
	EnqueueApply(username, profile string) bool
	EnqueueRevoke(username string, still func(ctx context.Context) bool) bool
	Submit(task provisioning.Task) bool
}

type locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}
