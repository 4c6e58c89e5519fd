package service

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/factory"
	"github.com/vibast-solutions/ms-go-isp-billing/app/metrics"
	"github.com/vibast-solutions/ms-go-isp-billing/app/provider"
	"github.com/vibast-solutions/ms-go-isp-billing/app/repository"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

const (
	defaultBatchSize       = int32(100)
	accountReferencePrefix = "USER_"
	defaultChargeDesc      = "Internet subscription"
)

type initiatePaymentRequest interface {
	GetUserId() uint64
	GetPhoneNumber() string
	GetAmount() decimal.Decimal
}

type listByUserRequest interface {
	GetUserId() uint64
	GetLimit() int32
	GetOffset() int32
}

type PaymentService struct {
	payments    pendingPaymentRepository
	users       userRepository
	gateway     provider.Gateway
	description string
	logger      logrus.FieldLogger
	now         func() time.Time
}

func NewPaymentService(
	payments pendingPaymentRepository,
	users userRepository,
	gateway provider.Gateway,
	description string,
) *PaymentService {
	if strings.TrimSpace(description) == "" {
		description = defaultChargeDesc
	}

	return &PaymentService{
		payments:    payments,
		users:       users,
		gateway:     gateway,
		description: description,
		logger:      factory.NewModuleLogger("payment-service"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// InitiatePayment asks the gateway to push a charge to the payer's phone and
// records it as PENDING under the gateway's correlation token. Nothing is
// stored when the gateway refuses.
func (s *PaymentService) InitiatePayment(ctx context.Context, req initiatePaymentRequest) (*entity.PendingPayment, *provider.ChargeResult, error) {
	if req.GetUserId() == 0 {
		return nil, nil, ErrInvalidRequest
	}

	user, err := s.users.FindByID(ctx, req.GetUserId())
	if err != nil {
		return nil, nil, err
	}
	if user == nil || !user.IsActive {
		return nil, nil, ErrUserNotFound
	}

	reference := accountReference(user.ID)
	result, err := s.gateway.InitiateCharge(ctx, provider.ChargeRequest{
		PhoneNumber: req.GetPhoneNumber(),
		Amount:      req.GetAmount(),
		Reference:   reference,
		Description: s.description,
	})
	if err != nil {
		var vErr *types.ValidationError
		if errors.As(err, &vErr) {
			metrics.IncPaymentInitiated("invalid")
		} else {
			metrics.IncPaymentInitiated("gateway_error")
		}
		return nil, nil, err
	}

	now := s.now()
	payment := &entity.PendingPayment{
		CorrelationToken:  result.CorrelationToken,
		MerchantRequestID: result.MerchantRequestID,
		PayerReference:    reference,
		UserID:            user.ID,
		Amount:            req.GetAmount(),
		PhoneNumber:       result.PhoneNumber,
		Status:            entity.PaymentStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.payments.Create(ctx, payment); err != nil {
		metrics.IncPaymentInitiated("store_error")
		if errors.Is(err, repository.ErrDuplicateToken) {
			return nil, nil, ErrPaymentAlreadyExists
		}
		return nil, nil, err
	}

	metrics.IncPaymentInitiated("accepted")
	s.logger.WithFields(logrus.Fields{
		"correlation_token": payment.CorrelationToken,
		"user_id":           payment.UserID,
		"amount":            payment.Amount.String(),
	}).Info("Payment initiated")

	return payment, result, nil
}

func (s *PaymentService) GetPayment(ctx context.Context, token string) (*entity.PendingPayment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidRequest
	}

	payment, err := s.payments.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	return payment, nil
}

// ListPayments returns a page of the user's payments, newest first.
func (s *PaymentService) ListPayments(ctx context.Context, req listByUserRequest) ([]*entity.PendingPayment, error) {
	if req.GetUserId() == 0 {
		return nil, ErrInvalidRequest
	}
	limit, offset := listWindow(req)
	return s.payments.ListByUser(ctx, req.GetUserId(), limit, offset)
}

func listWindow(req listByUserRequest) (int32, int32) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = types.DefaultListLimit
	}
	if limit > types.MaxListLimit {
		limit = types.MaxListLimit
	}
	offset := req.GetOffset()
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func accountReference(userID uint64) string {
	return accountReferencePrefix + strconv.FormatUint(userID, 10)
}

// parseAccountReference accepts "USER_<id>" or a bare numeric id.
func parseAccountReference(ref string) (uint64, bool) {
	ref = strings.TrimPrefix(strings.TrimSpace(ref), accountReferencePrefix)
	id, err := strconv.ParseUint(ref, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return id, true
}
