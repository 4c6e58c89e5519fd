package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/vibast-solutions/ms-go-isp-billing/app/entity"
	"github.com/vibast-solutions/ms-go-isp-billing/app/types"
)

const (
	SandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	ProductionBaseURL = "https://api.safaricom.co.ke"

	stkTimestampLayout = "20060102150405"
	tokenExpirySkew    = 60 * time.Second

	// errorCodeStillProcessing is returned by the status query while the payer
	// has not yet answered the prompt.
	errorCodeStillProcessing = "500.001.1001"
)

type MpesaConfig struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	PassKey         string
	CallbackURL     string
	TransactionType string
	CountryCode     string
	Location        *time.Location
	HTTPTimeout     time.Duration
}

type MpesaClient struct {
	cfg    MpesaConfig
	client *http.Client
	cache  TokenCache
	now    func() time.Time

	mu    sync.Mutex
	token *Token
}

func NewMpesaClient(cfg MpesaConfig, cache TokenCache) *MpesaClient {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = SandboxBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TransactionType == "" {
		cfg.TransactionType = "CustomerPayBillOnline"
	}
	if cfg.CountryCode == "" {
		cfg.CountryCode = "254"
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	return &MpesaClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		cache:  cache,
		now:    time.Now,
	}
}

// ObtainAccessToken always asks the provider for a new token.
func (c *MpesaClient) ObtainAccessToken(ctx context.Context) (*Token, error) {
	const op = "oauth"

	if strings.TrimSpace(c.cfg.ConsumerKey) == "" || strings.TrimSpace(c.cfg.ConsumerSecret) == "" {
		return nil, &GatewayError{Op: op, Message: "consumer credentials are not configured"}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	body, err := c.do(op, req)
	if err != nil {
		return nil, err
	}

	var payload struct {
		AccessToken string      `json:"access_token"`
		ExpiresIn   json.Number `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &GatewayError{Op: op, Message: "malformed response", Err: err}
	}
	if payload.AccessToken == "" {
		return nil, &GatewayError{Op: op, Message: "response has no access_token"}
	}

	expiresIn, err := strconv.ParseInt(strings.Trim(string(payload.ExpiresIn), `"`), 10, 64)
	if err != nil || expiresIn <= 0 {
		expiresIn = 3599
	}

	return &Token{
		Value:     payload.AccessToken,
		ExpiresAt: c.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

func (c *MpesaClient) InitiateCharge(ctx context.Context, charge ChargeRequest) (*ChargeResult, error) {
	const op = "stk push"

	phone, err := NormalizePhoneNumber(charge.PhoneNumber, c.cfg.CountryCode)
	if err != nil {
		return nil, err
	}
	if !charge.Amount.IsPositive() || !charge.Amount.IsInteger() {
		return nil, types.NewValidationError("amount", "must be a positive whole number")
	}
	if strings.TrimSpace(c.cfg.CallbackURL) == "" {
		return nil, &GatewayError{Op: op, Message: "callback url is not configured"}
	}

	password, timestamp := c.password()
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"TransactionType":   c.cfg.TransactionType,
		"Amount":            charge.Amount.IntPart(),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  charge.Reference,
		"TransactionDesc":   charge.Description,
	}

	body, err := c.postJSON(ctx, op, "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		return nil, err
	}

	raw := map[string]interface{}{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &GatewayError{Op: op, Message: "malformed response", Err: err}
	}

	var resp struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &GatewayError{Op: op, Message: "malformed response", Err: err}
	}
	if resp.ResponseCode != "0" {
		return nil, &GatewayError{Op: op, Code: resp.ResponseCode, Message: resp.ResponseDescription}
	}
	if strings.TrimSpace(resp.CheckoutRequestID) == "" {
		return nil, &GatewayError{Op: op, Message: "response has no CheckoutRequestID"}
	}

	return &ChargeResult{
		CorrelationToken:  resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		PhoneNumber:       phone,
		CustomerMessage:   resp.CustomerMessage,
		Raw:               raw,
	}, nil
}

func (c *MpesaClient) QueryCharge(ctx context.Context, correlationToken string) (*ChargeStatus, error) {
	const op = "stk query"

	password, timestamp := c.password()
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          password,
		"Timestamp":         timestamp,
		"CheckoutRequestID": correlationToken,
	}

	status := &ChargeStatus{CorrelationToken: correlationToken, Status: entity.PaymentStatusPending}

	body, err := c.postJSON(ctx, op, "/mpesa/stkpushquery/v1/query", payload)
	if err != nil {
		var gwErr *GatewayError
		if errors.As(err, &gwErr) && gwErr.Code == errorCodeStillProcessing {
			return status, nil
		}
		return nil, err
	}

	var resp struct {
		ResponseCode string         `json:"ResponseCode"`
		ResultCode   *types.FlexInt `json:"ResultCode"`
		ResultDesc   string         `json:"ResultDesc"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &GatewayError{Op: op, Message: "malformed response", Err: err}
	}
	if resp.ResultCode == nil {
		return status, nil
	}

	code := int32(*resp.ResultCode)
	status.ResultCode = &code
	status.ResultDesc = resp.ResultDesc
	if code == 0 {
		status.Status = entity.PaymentStatusCompleted
	} else {
		status.Status = entity.PaymentStatusFailed
	}
	return status, nil
}

// password derives the STK password for the current timestamp.
func (c *MpesaClient) password() (string, string) {
	timestamp := c.now().In(c.cfg.Location).Format(stkTimestampLayout)
	raw := c.cfg.ShortCode + c.cfg.PassKey + timestamp
	return base64.StdEncoding.EncodeToString([]byte(raw)), timestamp
}

// accessToken returns a token that is still valid, fetching a new one when the
// memory or shared cache has none.
func (c *MpesaClient) accessToken(ctx context.Context) (string, error) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.ValidAt(now.Add(tokenExpirySkew)) {
		return c.token.Value, nil
	}

	cacheKey := "mpesa:token:" + c.cfg.ConsumerKey
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && cached.ValidAt(now.Add(tokenExpirySkew)) {
			c.token = cached
			return cached.Value, nil
		}
	}

	token, err := c.ObtainAccessToken(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	if c.cache != nil {
		_ = c.cache.Set(ctx, cacheKey, token)
	}
	return token.Value, nil
}

func (c *MpesaClient) postJSON(ctx context.Context, op, path string, payload interface{}) ([]byte, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	return c.do(op, req)
}

func (c *MpesaClient) do(op string, req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		gwErr := &GatewayError{Op: op, StatusCode: resp.StatusCode, Message: truncate(string(body), 512)}
		var fault struct {
			ErrorCode    string `json:"errorCode"`
			ErrorMessage string `json:"errorMessage"`
		}
		if json.Unmarshal(body, &fault) == nil && fault.ErrorCode != "" {
			gwErr.Code = fault.ErrorCode
			gwErr.Message = fault.ErrorMessage
		}
		return nil, gwErr
	}

	return body, nil
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	for limit > 0 && !utf8.RuneStart(value[limit]) {
		limit--
	}
	return fmt.Sprintf("%s...", value[:limit])
}
