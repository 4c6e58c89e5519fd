package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
)

var ErrGateway = errors.New("payment gateway error")

// GatewayError is the single failure kind surfaced by gateway calls. Transport
// errors, timeouts, non-2xx responses and undecodable bodies all end up here.
type GatewayError struct {
	Op         string
	StatusCode int
	Code       string
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	msg := fmt.Sprintf("mpesa %s failed", e.Op)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Code != "" {
		msg += " code=" + e.Code
	}
	if e.Message != "" {
		msg += " message=" + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() error { return e.Err }

func (e *GatewayError) Is(target error) bool { return target == ErrGateway }

type Token struct {
	Value     string
	ExpiresAt time.Time
}

func (t *Token) ValidAt(now time.Time) bool {
	return t != nil && t.Value != "" && now.Before(t.ExpiresAt)
}

// TokenCache shares access tokens between instances. Implementations must not
// return a token past its ExpiresAt.
type TokenCache interface {
	Get(ctx context.Context, key string) (*Token, error)
	Set(ctx context.Context, key string, token *Token) error
}

type ChargeRequest struct {
	PhoneNumber string
	Amount      decimal.Decimal
	Reference   string
	Description string
}

type ChargeResult struct {
	CorrelationToken  string
	MerchantRequestID string
	PhoneNumber       string
	CustomerMessage   string
	Raw               map[string]interface{}
}

type ChargeStatus struct {
	CorrelationToken string
	// Status stays PENDING while the provider is still processing.
	Status     entity.PaymentStatus
	ResultCode *int32
	ResultDesc string
}

type Gateway interface {
	ObtainAccessToken(ctx context.Context) (*Token, error)
	InitiateCharge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	QueryCharge(ctx context.Context, correlationToken string) (*ChargeStatus, error)
}
