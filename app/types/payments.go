package types

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
)

type InitiatePaymentRequest struct {
	UserId      uint64          `json:"user_id"`
	PhoneNumber string          `json:"phone_number"`
	Amount      decimal.Decimal `json:"amount"`
}

func (r *InitiatePaymentRequest) GetUserId() uint64          { return r.UserId }
func (r *InitiatePaymentRequest) GetPhoneNumber() string     { return r.PhoneNumber }
func (r *InitiatePaymentRequest) GetAmount() decimal.Decimal { return r.Amount }

func NewInitiatePaymentRequestFromContext(ctx echo.Context) (*InitiatePaymentRequest, error) {
	var body InitiatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.PhoneNumber = strings.TrimSpace(body.PhoneNumber)
	return &body, nil
}

func (r *InitiatePaymentRequest) Validate() error {
	if r.GetUserId() == 0 {
		return NewValidationError("user_id", "is required")
	}
	if r.GetPhoneNumber() == "" {
		return NewValidationError("phone_number", "is required")
	}
	if !r.GetAmount().IsPositive() {
		return NewValidationError("amount", "must be > 0")
	}
	if !r.GetAmount().IsInteger() {
		return NewValidationError("amount", "must be a whole number")
	}
	return nil
}

type GetPaymentRequest struct {
	Token string
}

func (r *GetPaymentRequest) GetToken() string { return r.Token }

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	return &GetPaymentRequest{Token: strings.TrimSpace(ctx.Param("token"))}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.GetToken() == "" {
		return NewValidationError("token", "is required")
	}
	return nil
}

type PendingPaymentResponse struct {
	Id                uint64     `json:"id"`
	CorrelationToken  string     `json:"correlation_token"`
	MerchantRequestId string     `json:"merchant_request_id,omitempty"`
	UserId            uint64     `json:"user_id"`
	PhoneNumber       string     `json:"phone_number"`
	Amount            string     `json:"amount"`
	Status            string     `json:"status"`
	ResultCode        *int32     `json:"result_code,omitempty"`
	ResultDesc        string     `json:"result_desc,omitempty"`
	ReceiptNumber     string     `json:"receipt_number,omitempty"`
	ConfirmedAmount   string     `json:"confirmed_amount,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	FinalizedAt       *time.Time `json:"finalized_at,omitempty"`
}

type InitiatePaymentResponse struct {
	Payment          *PendingPaymentResponse `json:"payment"`
	CustomerMessage  string                  `json:"customer_message,omitempty"`
	ProviderResponse map[string]interface{}  `json:"provider_response"`
}

// CallbackAckResponse is the acknowledgment body the provider expects.
type CallbackAckResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

func NewCallbackAck() *CallbackAckResponse {
	return &CallbackAckResponse{ResultCode: 0, ResultDesc: "Accepted"}
}
