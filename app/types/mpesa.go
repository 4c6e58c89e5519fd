package types

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// MpesaCallbackEnvelope is the STK push result body posted to the callback URL.
type MpesaCallbackEnvelope struct {
	Body struct {
		StkCallback MpesaStkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type MpesaStkCallback struct {
	MerchantRequestID string                 `json:"MerchantRequestID"`
	CheckoutRequestID string                 `json:"CheckoutRequestID"`
	ResultCode        *FlexInt               `json:"ResultCode"`
	ResultDesc        string                 `json:"ResultDesc"`
	CallbackMetadata  *MpesaCallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type MpesaCallbackMetadata struct {
	Item []MpesaCallbackItem `json:"Item"`
}

type MpesaCallbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// Lookup returns the raw value of the first item called name.
func (m *MpesaCallbackMetadata) Lookup(name string) (json.RawMessage, bool) {
	if m == nil {
		return nil, false
	}
	for _, item := range m.Item {
		if item.Name == name && len(item.Value) > 0 && !bytes.Equal(item.Value, []byte("null")) {
			return item.Value, true
		}
	}
	return nil, false
}

// FlexInt accepts an integer encoded either as a JSON number or a JSON string.
type FlexInt int64

func (f *FlexInt) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt(n)
	return nil
}
