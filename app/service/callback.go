package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/repository"
)

const providerMpesa = "mpesa"

// CallbackOutcome is what one delivery did. Status is one of the
// entity.CallbackStatus* values.
type CallbackOutcome struct {
	Status     string
	Payment    *entity.PendingPayment
	Activation *Activation
}

type CallbackService struct {
	tx            transactor
	payments      pendingPaymentRepository
	callbacks     paymentCallbackRepository
	events        billingEventRepository
	subscriptions *SubscriptionService
	gateway       provider.Gateway
	staleAfter    time.Duration
	maxAge        time.Duration
	batchSize     int32
	logger        logrus.FieldLogger
	now           func() time.Time
}

func NewCallbackService(
	tx transactor,
	payments pendingPaymentRepository,
	callbacks paymentCallbackRepository,
	events billingEventRepository,
	subscriptions *SubscriptionService,
	gateway provider.Gateway,
	staleAfter time.Duration,
	maxAge time.Duration,
	batchSize int32,
) *CallbackService {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	if maxAge < staleAfter {
		maxAge = 24 * time.Hour
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &CallbackService{
		tx:            tx,
		payments:      payments,
		callbacks:     callbacks,
		events:        events,
		subscriptions: subscriptions,
		gateway:       gateway,
		staleAfter:    staleAfter,
		maxAge:        maxAge,
		batchSize:     batchSize,
		logger:        factory.NewModuleLogger("callback-service"),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// ReconcileMpesaCallback applies one STK push callback. Redelivery of an
// already settled payment is a no-op. The returned error is set only for
// internal failures, in which case the payment is left PENDING. Every call
// records a payment_callbacks row.
func (s *CallbackService) ReconcileMpesaCallback(ctx context.Context, payload []byte) (*CallbackOutcome, error) {
	result, err := provider.ParseMpesaCallback(payload)
	if err != nil {
		s.persistCallback(ctx, payload, nil, nil, entity.CallbackStatusRejected, err)
		return &CallbackOutcome{Status: entity.CallbackStatusRejected}, nil
	}

	outcome, err := s.settle(ctx, result.CorrelationToken, outcomeFromCallback(result, s.now()))
	code := result.ResultCode
	s.persistCallback(ctx, payload, outcome.Payment, &callbackKey{token: result.CorrelationToken, resultCode: &code}, outcome.Status, err)
	return outcome, err
}

// settle finalizes the payment behind token and, for a completed one, applies
// it to the payer's subscription in the same transaction.
func (s *CallbackService) settle(ctx context.Context, token string, outcome entity.PaymentOutcome) (*CallbackOutcome, error) {
	l := s.logger.WithField("correlation_token", token)

	payment, err := s.payments.FindByToken(ctx, token)
	if err != nil {
		return &CallbackOutcome{Status: entity.CallbackStatusError}, err
	}
	if payment == nil {
		l.Warn("Callback for unknown payment")
		return &CallbackOutcome{Status: entity.CallbackStatusOrphan}, nil
	}
	if payment.Status.Terminal() {
		l.WithField("status", payment.Status).Info("Callback for settled payment ignored")
		return &CallbackOutcome{Status: entity.CallbackStatusDuplicate, Payment: payment}, nil
	}

	settled := &CallbackOutcome{Status: entity.CallbackStatusProcessed, Payment: payment}
	if outcome.Status == entity.PaymentStatusFailed {
		settled.Status = entity.CallbackStatusFailed
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		finalized, err := s.payments.Finalize(ctx, token, outcome)
		if errors.Is(err, repository.ErrAlreadyFinalized) {
			settled.Status = entity.CallbackStatusDuplicate
			settled.Payment = finalized
			return nil
		}
		if err != nil {
			return err
		}
		settled.Payment = finalized

		eventType := entity.EventPaymentCompleted
		if finalized.Status == entity.PaymentStatusFailed {
			eventType = entity.EventPaymentFailed
		}
		paymentID := finalized.ID
		if err := s.events.Create(ctx, &entity.BillingEvent{
			UserID:    finalized.UserID,
			PaymentID: &paymentID,
			EventType: eventType,
			Details:   outcome.ResultDesc,
			CreatedAt: s.now(),
		}); err != nil {
			return err
		}

		if finalized.Status != entity.PaymentStatusCompleted {
			return nil
		}
		settled.Activation, err = s.subscriptions.ApplyPayment(ctx, finalized)
		return err
	})
	if err != nil {
		l.WithError(err).Error("Settling payment failed, left pending")
		return &CallbackOutcome{Status: entity.CallbackStatusError, Payment: payment}, err
	}

	if settled.Status == entity.CallbackStatusDuplicate {
		l.Info("Lost finalize race to a concurrent delivery")
		return settled, nil
	}

	s.subscriptions.AfterCommit(settled.Activation)
	l.WithField("status", settled.Payment.Status).Info("Payment settled")
	return settled, nil
}

func outcomeFromCallback(result *provider.CallbackResult, now time.Time) entity.PaymentOutcome {
	code := result.ResultCode
	desc := truncate(result.ResultDesc, 255)
	outcome := entity.PaymentOutcome{
		Status:      entity.PaymentStatusFailed,
		ResultCode:  &code,
		ResultDesc:  &desc,
		FinalizedAt: now,
	}
	if result.Succeeded() {
		outcome.Status = entity.PaymentStatusCompleted
		outcome.ReceiptNumber = result.ReceiptNumber
		outcome.ConfirmedAmount = result.Amount
	}
	return outcome
}

type callbackKey struct {
	token      string
	resultCode *int32
}

func (s *CallbackService) persistCallback(ctx context.Context, payload []byte, payment *entity.PendingPayment, key *callbackKey, status string, cause error) {
	metrics.IncCallback(status)

	record := &entity.PaymentCallback{
		Provider:    providerMpesa,
		PayloadJSON: string(payload),
		Status:      status,
		CreatedAt:   s.now(),
	}
	if payment != nil {
		id := payment.ID
		record.PaymentID = &id
	}
	if key != nil {
		token := key.token
		record.CorrelationToken = &token
		record.ResultCode = key.resultCode
	}
	if cause != nil {
		msg := truncate(cause.Error(), 1024)
		record.Error = &msg
	}

	if err := s.callbacks.Create(ctx, record); err != nil {
		s.logger.WithError(err).WithField("status", status).Error("Failed to persist payment callback")
	}
}
