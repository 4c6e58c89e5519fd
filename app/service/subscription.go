package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/activation"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-isp-billing/app/notification"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provisioning"
)

const taskActivationEmail = "activation_email"

// Activation is a subscription change committed for one user.
type Activation struct {
	Action       activation.Action
	User         *entity.User
	Subscription *entity.Subscription
	// Closed is the subscription replaced by a plan change, if any.
	Closed *entity.Subscription
}

type SubscriptionService struct {
	tx            transactor
	users         userRepository
	packages      packageRepository
	subscriptions subscriptionRepository
	events        billingEventRepository
	dispatcher    provisioningDispatcher
	notifier      notification.Notifier
	usage         provisioning.UsageReader
	batchSize     int32
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewSubscriptionService(
	tx transactor,
	users userRepository,
	packages packageRepository,
	subscriptions subscriptionRepository,
	events billingEventRepository,
	dispatcher provisioningDispatcher,
	notifier notification.Notifier,
	usage provisioning.UsageReader,
	batchSize int32,
) *SubscriptionService {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if notifier == nil {
		notifier = notification.NopNotifier{}
	}

	return &SubscriptionService{
		tx:            tx,
		users:         users,
		packages:      packages,
		subscriptions: subscriptions,
		events:        events,
		dispatcher:    dispatcher,
		notifier:      notifier,
		usage:         usage,
		batchSize:     batchSize,
		logger:        factory.NewModuleLogger("subscription-service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ApplyPayment turns a COMPLETED payment into a subscription change. It must
// run inside the caller's transaction: the user row lock it takes serializes
// every change for that user until commit. A nil Activation with a nil error
// means no package matched the amount and nothing but an audit event was
// written.
func (s *SubscriptionService) ApplyPayment(ctx context.Context, payment *entity.PendingPayment) (*Activation, error) {
	user, err := s.resolvePayer(ctx, payment)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, s.recordUnmatched(ctx, payment, payment.UserID, "payer could not be resolved to a user")
	}

	amount := payment.Amount
	if payment.ConfirmedAmount != nil {
		amount = *payment.ConfirmedAmount
	}

	pkg, err := s.packages.FindActiveByPrice(ctx, amount)
	if err != nil {
		return nil, err
	}
	if pkg == nil {
		return nil, s.recordUnmatched(ctx, payment, user.ID, fmt.Sprintf("no active package priced %s", amount.StringFixed(2)))
	}

	now := s.now()
	latest, err := s.subscriptions.FindLatestByUserForUpdate(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	result := &Activation{Action: activation.Decide(latest, pkg, now), User: user}
	switch result.Action {
	case activation.ActionActivate:
		result.Subscription, err = activation.ActivateNew(user.ID, pkg, now)
		if err != nil {
			return nil, err
		}
		result.Subscription.PaymentID = &payment.ID
		err = s.subscriptions.Create(ctx, result.Subscription)
	case activation.ActionRenew:
		result.Subscription, err = activation.Renew(latest, pkg, now)
		if err != nil {
			return nil, err
		}
		result.Subscription.PaymentID = &payment.ID
		err = s.subscriptions.Update(ctx, result.Subscription)
	case activation.ActionChangePlan:
		result.Closed, result.Subscription, err = activation.ChangePlan(latest, pkg, now)
		if err != nil {
			return nil, err
		}
		result.Subscription.PaymentID = &payment.ID
		err = s.replace(ctx, result.Closed, result.Subscription)
	case activation.ActionReplaceLapsed:
		result.Subscription, err = activation.ActivateNew(user.ID, pkg, now)
		if err != nil {
			return nil, err
		}
		result.Subscription.PaymentID = &payment.ID
		if latest.IsActive {
			result.Closed = activation.Close(latest, now)
		}
		err = s.replace(ctx, result.Closed, result.Subscription)
	default:
		return nil, fmt.Errorf("unexpected activation action %d", result.Action)
	}
	if err != nil {
		return nil, err
	}

	if err := s.recordChange(ctx, result, &payment.ID, now); err != nil {
		return nil, err
	}
	return result, nil
}

// ChangePlan moves a user with a currently active subscription onto another
// package, effective now.
func (s *SubscriptionService) ChangePlan(ctx context.Context, userID, packageID uint64) (*Activation, error) {
	if userID == 0 || packageID == 0 {
		return nil, ErrInvalidRequest
	}

	var result *Activation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		user, err := s.users.LockByID(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return ErrUserNotFound
		}

		pkg, err := s.packages.FindByID(ctx, packageID)
		if err != nil {
			return err
		}
		if pkg == nil || !pkg.IsActive {
			return ErrPackageNotFound
		}

		current, err := s.subscriptions.FindLatestByUserForUpdate(ctx, userID)
		if err != nil {
			return err
		}

		now := s.now()
		closed, fresh, err := activation.ChangePlan(current, pkg, now)
		if err != nil {
			return err
		}
		if err := s.replace(ctx, closed, fresh); err != nil {
			return err
		}

		result = &Activation{Action: activation.ActionChangePlan, User: user, Subscription: fresh, Closed: closed}
		return s.recordChange(ctx, result, nil, now)
	})
	if err != nil {
		return nil, err
	}

	s.AfterCommit(result)
	return result, nil
}

func (s *SubscriptionService) GetCurrent(ctx context.Context, userID uint64) (*entity.Subscription, error) {
	if userID == 0 {
		return nil, ErrInvalidRequest
	}

	sub, err := s.subscriptions.FindLatestByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// History returns a page of the user's subscriptions, newest first.
func (s *SubscriptionService) History(ctx context.Context, req listByUserRequest) ([]*entity.Subscription, error) {
	if req.GetUserId() == 0 {
		return nil, ErrInvalidRequest
	}
	limit, offset := listWindow(req)
	return s.subscriptions.ListByUser(ctx, req.GetUserId(), limit, offset)
}

// Usage reads the live counters the router holds for the user's queue.
func (s *SubscriptionService) Usage(ctx context.Context, userID uint64) (*entity.User, *provisioning.Usage, error) {
	if userID == 0 {
		return nil, nil, ErrInvalidRequest
	}
	if s.usage == nil {
		return nil, nil, ErrUsageUnavailable
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, ErrUserNotFound
	}

	usage, err := s.usage.LiveUsage(ctx, user.RouterUsername())
	if err != nil {
		if errors.Is(err, provisioning.ErrUnknownUser) {
			return user, &provisioning.Usage{}, nil
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrUsageUnavailable, err)
	}
	return user, usage, nil
}

// SweepExpirations deactivates every active subscription whose window ended
// before now and queues a router revoke for each. A row renewed after it was
// listed is left alone by the conditional update.
func (s *SubscriptionService) SweepExpirations(ctx context.Context, now time.Time) (int, error) {
	var firstErr error
	total := 0

	for {
		expired, err := s.subscriptions.ListExpiredActive(ctx, now, s.batchSize)
		if err != nil {
			return total, keepFirstErr(firstErr, err)
		}

		changedInPage := 0
		for _, sub := range expired {
			changed, err := s.subscriptions.DeactivateIfExpired(ctx, sub.ID, now)
			if err != nil {
				firstErr = keepFirstErr(firstErr, err)
				continue
			}
			if !changed {
				continue
			}
			changedInPage++
			total++
			firstErr = keepFirstErr(firstErr, s.onExpired(ctx, sub, now))
		}

		if int32(len(expired)) < s.batchSize || changedInPage == 0 {
			break
		}
	}

	metrics.AddSubscriptionsExpired(total)
	return total, firstErr
}

func (s *SubscriptionService) onExpired(ctx context.Context, sub *entity.Subscription, now time.Time) error {
	subID := sub.ID
	if err := s.events.Create(ctx, &entity.BillingEvent{
		UserID:         sub.UserID,
		SubscriptionID: &subID,
		EventType:      entity.EventSubscriptionExpired,
		Details:        details(fmt.Sprintf("end_date=%s", sub.EndDate.UTC().Format(time.RFC3339))),
		CreatedAt:      now,
	}); err != nil {
		return err
	}

	user, err := s.users.FindByID(ctx, sub.UserID)
	if err != nil {
		return err
	}
	if user == nil {
		s.logger.WithField("user_id", sub.UserID).Warn("Expired subscription has no user, skipping revoke")
		return nil
	}
	username := user.RouterUsername()
	userID := sub.UserID
	if !s.dispatcher.EnqueueRevoke(username, func(ctx context.Context) bool { return s.stillLapsed(ctx, userID) }) {
		s.logger.WithField("username", username).Warn("Router revoke not queued")
	}
	return nil
}

// stillLapsed re-reads the user's subscription right before the router call.
// A renewal committed by another process since the sweep keeps access.
func (s *SubscriptionService) stillLapsed(ctx context.Context, userID uint64) bool {
	latest, err := s.subscriptions.FindLatestByUser(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("Revoke recheck failed, revoking")
		return true
	}
	if latest != nil && latest.IsActive && s.now().Before(latest.EndDate) {
		s.logger.WithField("user_id", userID).Info("Subscription renewed since sweep, revoke skipped")
		return false
	}
	return true
}

// AfterCommit hands a committed activation to the router and the notifier.
// It never fails: both are retried on the provisioning pool.
func (s *SubscriptionService) AfterCommit(result *Activation) {
	if result == nil || result.Subscription == nil {
		return
	}
	metrics.IncSubscriptionChange(result.Action.String())

	username := result.User.RouterUsername()
	if !s.dispatcher.EnqueueApply(username, result.Subscription.RouterProfile) {
		s.logger.WithField("username", username).Warn("Router apply not queued")
	}

	user, sub := result.User, result.Subscription
	s.dispatcher.Submit(provisioning.Task{
		Kind: taskActivationEmail,
		Key:  username,
		Run: func(ctx context.Context) error {
			err := s.notifier.SubscriptionActivated(ctx, user, sub)
			if errors.Is(err, notification.ErrNoRecipient) {
				return nil
			}
			return err
		},
	})
}

func (s *SubscriptionService) resolvePayer(ctx context.Context, payment *entity.PendingPayment) (*entity.User, error) {
	if payment.UserID != 0 {
		return s.users.LockByID(ctx, payment.UserID)
	}

	ref := strings.TrimSpace(payment.PayerReference)
	if strings.HasPrefix(ref, accountReferencePrefix) {
		id, ok := parseAccountReference(ref)
		if !ok {
			return nil, nil
		}
		return s.users.LockByID(ctx, id)
	}

	user, err := s.users.FindByPhone(ctx, ref)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return s.users.LockByID(ctx, user.ID)
	}
	if id, ok := parseAccountReference(ref); ok {
		return s.users.LockByID(ctx, id)
	}
	return nil, nil
}

func (s *SubscriptionService) replace(ctx context.Context, closed, fresh *entity.Subscription) error {
	if closed != nil {
		if err := s.subscriptions.Update(ctx, closed); err != nil {
			return err
		}
	}
	return s.subscriptions.Create(ctx, fresh)
}

func (s *SubscriptionService) recordChange(ctx context.Context, result *Activation, paymentID *uint64, now time.Time) error {
	eventType := entity.EventSubscriptionActivated
	switch result.Action {
	case activation.ActionRenew:
		eventType = entity.EventSubscriptionRenewed
	case activation.ActionChangePlan:
		eventType = entity.EventSubscriptionPlanChanged
	}

	subID := result.Subscription.ID
	msg := fmt.Sprintf("action=%s package=%s end_date=%s", result.Action, result.Subscription.PackageName, result.Subscription.EndDate.UTC().Format(time.RFC3339))
	if result.Closed != nil {
		msg += fmt.Sprintf(" closed_subscription_id=%d", result.Closed.ID)
	}

	return s.events.Create(ctx, &entity.BillingEvent{
		UserID:         result.User.ID,
		PaymentID:      paymentID,
		SubscriptionID: &subID,
		EventType:      eventType,
		Details:        details(msg),
		CreatedAt:      now,
	})
}

func (s *SubscriptionService) recordUnmatched(ctx context.Context, payment *entity.PendingPayment, userID uint64, reason string) error {
	s.logger.WithFields(logrus.Fields{
		"correlation_token": payment.CorrelationToken,
		"user_id":           userID,
	}).Warn("Completed payment left unapplied: " + reason)

	paymentID := payment.ID
	return s.events.Create(ctx, &entity.BillingEvent{
		UserID:    userID,
		PaymentID: &paymentID,
		EventType: entity.EventPackageUnmatched,
		Details:   details(reason),
		CreatedAt: s.now(),
	})
}

func details(msg string) *string {
	trimmed := truncate(msg, 1024)
	return &trimmed
}
