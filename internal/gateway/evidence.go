package gateway

import (
	"encoding/json"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"

	domainErrors "github.com/taskerhub/marketplace/internal/domain/errors"
)

// Shape is how verification evidence reached us.
type Shape string

const (
	// ShapeRedirect is the browser returning from checkout with a verification id.
	ShapeRedirect Shape = "redirect"
	// ShapeIPN is a server-to-server notification.
	ShapeIPN Shape = "ipn"
	// ShapeLookup carries only the merchant transaction id; it is resolved by direct lookup.
	ShapeLookup Shape = "lookup"
)

// Evidence is a parsed callback payload.
type Evidence struct {
	Shape            Shape
	VerificationID   string
	TransactionID    string
	CorrelationToken string
	RequestID        string
	Status           string
	Outcome          string // redirect leg the browser came back on: success, fail or cancel
	Amount           decimal.NullDecimal
	Raw              string
}

// Callback form fields.
const (
	fieldVerificationID = "val_id"
	fieldTransactionID  = "tran_id"
	fieldStatus         = "status"
	fieldAmount         = "amount"
	fieldCorrelation    = "value_a"
	fieldRequestID      = "value_b"
	fieldVerifySign     = "verify_sign"
	fieldOutcome        = "outcome"
)

// ParseCallback normalizes redirect, IPN and bare lookup payloads. It fails only when the payload
// carries nothing that could identify a transaction.
func ParseCallback(values url.Values) (*Evidence, error) {
	ev := &Evidence{
		VerificationID:   strings.TrimSpace(values.Get(fieldVerificationID)),
		TransactionID:    strings.TrimSpace(values.Get(fieldTransactionID)),
		CorrelationToken: strings.TrimSpace(values.Get(fieldCorrelation)),
		RequestID:        strings.TrimSpace(values.Get(fieldRequestID)),
		Status:           strings.ToUpper(strings.TrimSpace(values.Get(fieldStatus))),
		Outcome:          strings.ToLower(strings.TrimSpace(values.Get(fieldOutcome))),
		Raw:              encodeRaw(values),
	}
	if ev.VerificationID == "" && ev.TransactionID == "" && ev.CorrelationToken == "" {
		return nil, domainErrors.NewValidationError("evidence", "missing val_id, tran_id and value_a")
	}
	if amt := values.Get(fieldAmount); amt != "" {
		if d, err := decimal.NewFromString(amt); err == nil {
			ev.Amount = decimal.NewNullDecimal(d)
		}
	}

	switch {
	case ev.Outcome == string(ShapeIPN) || values.Get(fieldVerifySign) != "":
		ev.Shape = ShapeIPN
	case ev.VerificationID != "":
		ev.Shape = ShapeRedirect
	default:
		ev.Shape = ShapeLookup
	}
	return ev, nil
}

// ReportedFailure reports whether the payload itself says the checkout failed or was cancelled.
// It is the payer's side of the story and never settles a charge on its own.
func (e *Evidence) ReportedFailure() bool {
	if e.Outcome == "fail" || e.Outcome == "cancel" {
		return true
	}
	switch e.Status {
	case "FAILED", "CANCELLED", "UNATTEMPTED", "EXPIRED":
		return true
	}
	return false
}

func encodeRaw(values url.Values) string {
	redacted := url.Values{}
	for k, v := range values {
		if k == "store_passwd" {
			continue
		}
		redacted[k] = v
	}
	b, err := json.Marshal(redacted)
	if err != nil {
		return ""
	}
	return string(b)
}
