package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/taskerhub/marketplace/pkg/retry"
)

const (
	sessionPath    = "/gwprocess/v4/api.php"
	validationPath = "/validator/api/validationserverAPI.php"
	lookupPath     = "/validator/api/merchantTransIDvalidationAPI.php"

	maxBodyBytes = 1 << 20
)

// HostedConfig configures a hosted checkout gateway speaking the SSLCommerz-style protocol.
type HostedConfig struct {
	Name          string
	BaseURL       string
	StoreID       string
	StorePassword string
	Timeout       time.Duration
	Retry         retry.Config
}

// HostedCheckout is the HTTP adapter for the hosted checkout.
type HostedCheckout struct {
	cfg    HostedConfig
	client *http.Client
}

// NewHostedCheckout builds the adapter. A nil client gets one with cfg.Timeout and tracing.
func NewHostedCheckout(cfg HostedConfig, client *http.Client) *HostedCheckout {
	if cfg.Name == "" {
		cfg.Name = "hosted"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if client == nil {
		client = &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.Retry.RetryIf = IsRetryable
	return &HostedCheckout{cfg: cfg, client: client}
}

func (h *HostedCheckout) Name() string { return h.cfg.Name }

type sessionResponse struct {
	Status         string `json:"status"`
	FailedReason   string `json:"failedreason"`
	SessionKey     string `json:"sessionkey"`
	GatewayPageURL string `json:"GatewayPageURL"`
}

// CreateSession posts the checkout form. Session creation is not idempotent at the gateway, so
// it is never retried here.
func (h *HostedCheckout) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	const op = "create_session"

	form := url.Values{}
	form.Set("store_id", h.cfg.StoreID)
	form.Set("store_passwd", h.cfg.StorePassword)
	form.Set("total_amount", req.Amount.StringFixed(2))
	form.Set("currency", req.Currency)
	form.Set("tran_id", req.TransactionID)
	form.Set("success_url", req.SuccessURL)
	form.Set("fail_url", req.FailURL)
	form.Set("cancel_url", req.CancelURL)
	form.Set("ipn_url", req.IPNURL)
	form.Set("product_name", req.ProductName)
	form.Set("product_category", "service")
	form.Set("product_profile", "non-physical-goods")
	form.Set("shipping_method", "NO")
	form.Set("multi_card_name", req.Method)
	form.Set("cus_name", req.Customer.Name)
	form.Set("cus_email", req.Customer.Email)
	form.Set("cus_phone", req.Customer.Phone)
	form.Set("cus_add1", req.Customer.Address)
	form.Set("cus_city", req.Customer.City)
	form.Set("cus_postcode", req.Customer.Postcode)
	form.Set("cus_country", req.Customer.Country)
	form.Set(fieldCorrelation, req.CorrelationToken)
	form.Set(fieldRequestID, req.RequestID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.BaseURL+sessionPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, newFailure(op, FailureTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp sessionResponse
	raw, err := h.do(op, httpReq, &resp)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(resp.Status, "SUCCESS") || resp.GatewayPageURL == "" {
		reason := resp.FailedReason
		if reason == "" {
			reason = "status " + resp.Status
		}
		return nil, newFailure(op, FailureRejected, errors.New(reason))
	}
	return &Session{RedirectURL: resp.GatewayPageURL, SessionKey: resp.SessionKey, Raw: raw}, nil
}

type validationResponse struct {
	Status      string `json:"status"`
	TranID      string `json:"tran_id"`
	ValID       string `json:"val_id"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	BankTranID  string `json:"bank_tran_id"`
	ValueA      string `json:"value_a"`
	APIConnect  string `json:"APIConnect"`
	ErrorReason string `json:"error"`
}

// ValidateByVerificationID calls the validation endpoint. Idempotent, so transient failures are retried.
func (h *HostedCheckout) ValidateByVerificationID(ctx context.Context, verificationID string) (*Verification, error) {
	const op = "validate"

	q := h.credentials()
	q.Set("val_id", verificationID)
	q.Set("v", "1")

	return retry.DoWithResult(ctx, h.cfg.Retry, func() (*Verification, error) {
		var resp validationResponse
		raw, err := h.get(ctx, op, validationPath, q, &resp)
		if err != nil {
			return nil, err
		}
		if resp.Status == "" {
			return nil, newFailure(op, FailureMalformed, errors.New("missing status"))
		}
		v := toVerification(resp, raw)
		if v.GatewayTransactionRef == "" {
			v.GatewayTransactionRef = verificationID
		}
		return v, nil
	})
}

type lookupResponse struct {
	APIConnect     string               `json:"APIConnect"`
	NoOfTransFound json.Number          `json:"no_of_trans_found"`
	Element        []validationResponse `json:"element"`
}

// LookupByTransactionID queries by merchant transaction id. Success if any attempt on that id
// was validated.
func (h *HostedCheckout) LookupByTransactionID(ctx context.Context, transactionID string) (*Verification, error) {
	const op = "lookup"

	q := h.credentials()
	q.Set("tran_id", transactionID)

	return retry.DoWithResult(ctx, h.cfg.Retry, func() (*Verification, error) {
		var resp lookupResponse
		raw, err := h.get(ctx, op, lookupPath, q, &resp)
		if err != nil {
			return nil, err
		}
		if !strings.EqualFold(resp.APIConnect, "DONE") {
			return nil, newFailure(op, FailureMalformed, fmt.Errorf("api connect %q", resp.APIConnect))
		}
		if len(resp.Element) == 0 {
			return &Verification{TransactionID: transactionID, RawStatus: StatusNotFound, Raw: raw}, nil
		}

		latest := resp.Element[0]
		for _, el := range resp.Element {
			if isValidStatus(el.Status) {
				latest = el
				break
			}
		}
		v := toVerification(latest, raw)
		if v.TransactionID == "" {
			v.TransactionID = transactionID
		}
		return v, nil
	})
}

func (h *HostedCheckout) credentials() url.Values {
	q := url.Values{}
	q.Set("store_id", h.cfg.StoreID)
	q.Set("store_passwd", h.cfg.StorePassword)
	q.Set("format", "json")
	return q
}

func (h *HostedCheckout) get(ctx context.Context, op, path string, q url.Values, out any) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return "", newFailure(op, FailureTransport, err)
	}
	return h.do(op, httpReq, out)
}

// do executes req and decodes a 2xx JSON body into out, returning the raw body.
func (h *HostedCheckout) do(op string, req *http.Request, out any) (string, error) {
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", newFailure(op, classifyTransport(err), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", newFailure(op, classifyTransport(err), err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &Failure{Op: op, Kind: FailureHTTPStatus, StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return "", newFailure(op, FailureMalformed, err)
	}
	return string(body), nil
}

func classifyTransport(err error) FailureKind {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return FailureTimeout
	}
	return FailureTransport
}

func toVerification(r validationResponse, raw string) *Verification {
	v := &Verification{
		Success:               isValidStatus(r.Status),
		GatewayTransactionRef: r.ValID,
		RawStatus:             strings.ToUpper(r.Status),
		CorrelationToken:      r.ValueA,
		TransactionID:         r.TranID,
		Currency:              r.Currency,
		Raw:                   raw,
	}
	if v.GatewayTransactionRef == "" {
		v.GatewayTransactionRef = r.BankTranID
	}
	if amt, err := decimal.NewFromString(r.Amount); err == nil {
		v.Amount = decimal.NewNullDecimal(amt)
	}
	return v
}

func isValidStatus(status string) bool {
	s := strings.ToUpper(status)
	return s == "VALID" || s == "VALIDATED"
}
