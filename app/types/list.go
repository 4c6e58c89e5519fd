package types

import (
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

const (
	DefaultListLimit = int32(100)
	MaxListLimit     = int32(500)
)

type ListPaymentsRequest struct {
	UserId uint64
	Limit  int32
	Offset int32
}

func (r *ListPaymentsRequest) GetUserId() uint64 { return r.UserId }
func (r *ListPaymentsRequest) GetLimit() int32   { return r.Limit }
func (r *ListPaymentsRequest) GetOffset() int32  { return r.Offset }

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{Limit: DefaultListLimit}

	raw := strings.TrimSpace(ctx.QueryParam("user_id"))
	if raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, NewValidationError("user_id", "must be a positive integer")
		}
		req.UserId = id
	}

	limit, offset, err := parseListWindow(ctx, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	req.Limit, req.Offset = limit, offset
	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.GetUserId() == 0 {
		return NewValidationError("user_id", "is required")
	}
	return validateListWindow(&r.Limit, r.Offset)
}

type ListSubscriptionHistoryRequest struct {
	UserId uint64
	Limit  int32
	Offset int32
}

func (r *ListSubscriptionHistoryRequest) GetUserId() uint64 { return r.UserId }
func (r *ListSubscriptionHistoryRequest) GetLimit() int32   { return r.Limit }
func (r *ListSubscriptionHistoryRequest) GetOffset() int32  { return r.Offset }

func NewListSubscriptionHistoryRequestFromContext(ctx echo.Context) (*ListSubscriptionHistoryRequest, error) {
	userID, err := parseUserIDParam(ctx)
	if err != nil {
		return nil, err
	}

	limit, offset, err := parseListWindow(ctx, DefaultListLimit)
	if err != nil {
		return nil, err
	}
	return &ListSubscriptionHistoryRequest{UserId: userID, Limit: limit, Offset: offset}, nil
}

func (r *ListSubscriptionHistoryRequest) Validate() error {
	if r.GetUserId() == 0 {
		return NewValidationError("user_id", "is required")
	}
	return validateListWindow(&r.Limit, r.Offset)
}

type ListPaymentsResponse struct {
	Payments []*PendingPaymentResponse `json:"payments"`
}

type SubscriptionHistoryResponse struct {
	Subscriptions []*SubscriptionResponse `json:"subscriptions"`
}

func parseListWindow(ctx echo.Context, defaultLimit int32) (int32, int32, error) {
	limit, offset := defaultLimit, int32(0)

	if raw := strings.TrimSpace(ctx.QueryParam("limit")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return 0, 0, NewValidationError("limit", "must be an integer")
		}
		limit = int32(v)
	}
	if raw := strings.TrimSpace(ctx.QueryParam("offset")); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return 0, 0, NewValidationError("offset", "must be an integer")
		}
		offset = int32(v)
	}

	return limit, offset, nil
}

func validateListWindow(limit *int32, offset int32) error {
	if *limit == 0 {
		*limit = DefaultListLimit
	}
	if *limit < 0 || *limit > MaxListLimit {
		return NewValidationError("limit", "must be between 1 and 500")
	}
	if offset < 0 {
		return NewValidationError("offset", "must be >= 0")
	}
	return nil
}
