package service

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/cache"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
)

const (
	sweepLockKey     = "jobs:sweep-expirations"
	reconcileLockKey = "jobs:reconcile-pending"
)

// JobService runs the periodic batches. Each batch holds a Redis lock so
// only one instance works at a time.
type JobService struct {
	subscriptions *SubscriptionService
	callbacks     *CallbackService
	locker        locker
	lockTTL       time.Duration
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewJobService(subscriptions *SubscriptionService, callbacks *CallbackService, locker locker, lockTTL time.Duration) *JobService {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	if locker == nil {
		locker = cache.NopLocker{}
	}

	return &JobService{
		subscriptions: subscriptions,
		callbacks:     callbacks,
		locker:        locker,
		lockTTL:       lockTTL,
		logger:        factory.NewModuleLogger("jobs"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

func (j *JobService) RunSweepExpirationsBatch(ctx context.Context) (int, error) {
	return j.exclusive(ctx, sweepLockKey, func(ctx context.Context) (int, error) {
		return j.subscriptions.SweepExpirations(ctx, j.now())
	})
}

func (j *JobService) RunReconcilePendingBatch(ctx context.Context) (int, error) {
	return j.exclusive(ctx, reconcileLockKey, func(ctx context.Context) (int, error) {
		return j.callbacks.ReconcileStalePending(ctx, j.now())
	})
}

func (j *JobService) exclusive(ctx context.Context, key string, fn func(ctx context.Context) (int, error)) (int, error) {
	token, err := j.locker.TryLock(ctx, key, j.lockTTL)
	if err != nil {
		if errors.Is(err, cache.ErrLockHeld) {
			return 0, ErrJobAlreadyRunning
		}
		return 0, err
	}
	defer func() {
		if err := j.locker.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
			j.logger.WithError(err).WithField("lock", key).Warn("Failed to release job lock")
		}
	}()

	return fn(ctx)
}

const expiredWithoutCallback = "expired without callback"

// ReconcileStalePending asks the gateway about payments that stayed PENDING
// longer than staleAfter and settles the ones it has a verdict for, the same
// way a callback would. Payments older than maxAge that still have no verdict
// are settled FAILED. Every stale row is visited once per run, paging by id.
func (s *CallbackService) ReconcileStalePending(ctx context.Context, now time.Time) (int, error) {
	before := now.Add(-s.staleAfter)
	expireBefore := now.Add(-s.maxAge)

	var firstErr error
	settled := 0
	var afterID uint64
	for {
		stale, err := s.payments.ListStalePending(ctx, before, afterID, s.batchSize)
		if err != nil {
			return settled, keepFirstErr(firstErr, err)
		}

		for _, payment := range stale {
			afterID = payment.ID
			ok, err := s.reconcileOne(ctx, payment, now, expireBefore)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
			}
			if ok {
				settled++
			}
		}

		if int32(len(stale)) < s.batchSize || ctx.Err() != nil {
			break
		}
	}

	return settled, firstErr
}

func (s *CallbackService) reconcileOne(ctx context.Context, payment *entity.PendingPayment, now, expireBefore time.Time) (bool, error) {
	l := s.logger.WithField("correlation_token", payment.CorrelationToken)

	outcome := entity.PaymentOutcome{FinalizedAt: now}
	status, queryErr := s.gateway.QueryCharge(ctx, payment.CorrelationToken)
	switch {
	case queryErr == nil && status.Status != entity.PaymentStatusPending:
		desc := truncate(status.ResultDesc, 255)
		outcome.Status = status.Status
		outcome.ResultCode = status.ResultCode
		outcome.ResultDesc = &desc
	case payment.CreatedAt.After(expireBefore):
		if queryErr != nil {
			l.WithError(queryErr).Warn("Status query failed")
		}
		return false, queryErr
	default:
		desc := expiredWithoutCallback
		outcome.Status = entity.PaymentStatusFailed
		outcome.ResultDesc = &desc
		l.WithField("created_at", payment.CreatedAt).Warn("Pending payment expired without a verdict")
	}

	result, err := s.settle(ctx, payment.CorrelationToken, outcome)
	if err != nil {
		return false, err
	}
	if result.Status == entity.CallbackStatusProcessed || result.Status == entity.CallbackStatusFailed {
		return true, nil
	}
	return false, nil
}

func keepFirstErr(current error, candidate error) error {
	if current != nil {
		return current
	}
	return candidate
}

// truncate keeps at most limit bytes of value without splitting a UTF-8
// sequence.
func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return value[:limit]
}
