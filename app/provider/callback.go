package provider

import (
	"encoding/json"
	"errors"
	"math"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

var (
	ErrMalformedCallback = errors.New("malformed callback payload")
	ErrMissingToken      = errors.New("callback has no CheckoutRequestID")
)

const resultCodeSuccess = 0

// CallbackResult is the internal reading of an STK push callback.
type CallbackResult struct {
	CorrelationToken  string
	MerchantRequestID string
	ResultCode        int32
	ResultDesc        string

	ReceiptNumber *string
	Amount        *decimal.Decimal
	PhoneNumber   *string
}

func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == resultCodeSuccess
}

// ParseMpesaCallback decodes a callback body. Unknown metadata items are
// ignored and missing ones are left nil.
func ParseMpesaCallback(payload []byte) (*CallbackResult, error) {
	var env types.MpesaCallbackEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, errors.Join(ErrMalformedCallback, err)
	}

	cb := env.Body.StkCallback
	token := strings.TrimSpace(cb.CheckoutRequestID)
	if token == "" {
		return nil, ErrMissingToken
	}
	if cb.ResultCode == nil {
		return nil, errors.Join(ErrMalformedCallback, errors.New("callback has no ResultCode"))
	}
	if code := int64(*cb.ResultCode); code < math.MinInt32 || code > math.MaxInt32 {
		return nil, errors.Join(ErrMalformedCallback, errors.New("ResultCode out of range"))
	}

	result := &CallbackResult{
		CorrelationToken:  token,
		MerchantRequestID: strings.TrimSpace(cb.MerchantRequestID),
		ResultCode:        int32(*cb.ResultCode),
		ResultDesc:        cb.ResultDesc,
	}
	if !result.Succeeded() {
		return result, nil
	}

	if raw, ok := cb.CallbackMetadata.Lookup("MpesaReceiptNumber"); ok {
		if s := rawString(raw); s != "" {
			result.ReceiptNumber = &s
		}
	}
	if raw, ok := cb.CallbackMetadata.Lookup("Amount"); ok {
		if amount, err := decimal.NewFromString(rawString(raw)); err == nil {
			result.Amount = &amount
		}
	}
	if raw, ok := cb.CallbackMetadata.Lookup("PhoneNumber"); ok {
		if s := rawString(raw); s != "" {
			result.PhoneNumber = &s
		}
	}

	return result, nil
}

// rawString renders a JSON scalar as text: strings are unquoted, numbers kept verbatim.
func rawString(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, `"`) {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
	}
	return trimmed
}
