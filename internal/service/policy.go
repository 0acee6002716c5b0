package service

import (
	"fmt"

	"github.com/taskerhub/marketplace/internal/domain/payment"
	"github.com/taskerhub/marketplace/internal/gateway"
	"github.com/taskerhub/marketplace/internal/infrastructure/config"
)

// Decision is what reconciliation does with a pending charge after looking at the evidence.
type Decision string

const (
	DecisionComplete Decision = "complete"
	DecisionFail     Decision = "fail"
	DecisionDefer    Decision = "defer"
)

// Outcome is a policy verdict. Fallback is set when the verdict completes a charge the
// gateway did not confirm.
type Outcome struct {
	Decision Decision
	Reason   string
	Fallback bool
}

// Facts is everything known about a pending charge when its fate is decided. Verification is
// nil whenever Err is set. ReportedFailure is the payer's callback saying the checkout failed
// or was cancelled; Expired is set once the charge outlived the pending window.
type Facts struct {
	Charge          *payment.Transaction
	Verification    *gateway.Verification
	Err             error
	ReportedFailure bool
	Expired         bool
}

// ReconciliationPolicy decides the fate of a pending charge from the gateway's answer.
type ReconciliationPolicy interface {
	Name() string
	Decide(f Facts) Outcome
}

// NewPolicy returns the policy registered under name.
func NewPolicy(name string) (ReconciliationPolicy, error) {
	switch name {
	case config.PolicyStrict, "":
		return StrictPolicy{}, nil
	case config.PolicyBestEffort:
		return BestEffortPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown reconciliation policy %q", name)
	}
}

// StrictPolicy completes only what the gateway confirmed for the exact amount. Outages defer.
type StrictPolicy struct{}

func (StrictPolicy) Name() string { return config.PolicyStrict }

func (StrictPolicy) Decide(f Facts) Outcome {
	if f.Err != nil {
		return Outcome{Decision: DecisionDefer, Reason: "gateway unavailable: " + f.Err.Error()}
	}
	v := f.Verification
	if v.Success {
		if reason, ok := mismatch(f.Charge, v); !ok {
			return Outcome{Decision: DecisionFail, Reason: reason}
		}
		return Outcome{Decision: DecisionComplete, Reason: "verified " + v.RawStatus}
	}
	if definitiveFailure(v.RawStatus) {
		return Outcome{Decision: DecisionFail, Reason: "gateway reported " + v.RawStatus}
	}
	// A charge the gateway never saw can only be abandoned once the payer said so or the
	// pending window ran out.
	if v.Unknown() {
		switch {
		case f.ReportedFailure:
			return Outcome{Decision: DecisionFail, Reason: "checkout abandoned: payer reported failure, gateway has no record"}
		case f.Expired:
			return Outcome{Decision: DecisionFail, Reason: "checkout expired: gateway has no record"}
		}
	}
	return Outcome{Decision: DecisionDefer, Reason: "gateway status " + v.RawStatus}
}

// BestEffortPolicy completes a matching pending charge whatever the gateway said, so sandbox
// and unreliable environments converge. Config validation keeps it out of production.
type BestEffortPolicy struct{}

func (BestEffortPolicy) Name() string { return config.PolicyBestEffort }

func (BestEffortPolicy) Decide(f Facts) Outcome {
	v := f.Verification
	switch {
	case f.Err != nil:
		return Outcome{Decision: DecisionComplete, Reason: "fallback after gateway error: " + f.Err.Error(), Fallback: true}
	case !v.Success:
		return Outcome{Decision: DecisionComplete, Reason: "fallback after gateway status " + v.RawStatus, Fallback: true}
	}
	if reason, ok := mismatch(f.Charge, v); !ok {
		return Outcome{Decision: DecisionComplete, Reason: "fallback despite " + reason, Fallback: true}
	}
	return Outcome{Decision: DecisionComplete, Reason: "verified " + v.RawStatus}
}

// mismatch checks the verified amount and currency against the charge. Absent fields pass.
func mismatch(t *payment.Transaction, v *gateway.Verification) (string, bool) {
	if v.Amount.Valid && !v.Amount.Decimal.Equal(t.Amount) {
		return fmt.Sprintf("amount mismatch: gateway %s, expected %s", v.Amount.Decimal, t.Amount), false
	}
	if v.Currency != "" && v.Currency != t.Currency {
		return fmt.Sprintf("currency mismatch: gateway %s, expected %s", v.Currency, t.Currency), false
	}
	return "", true
}

func definitiveFailure(status string) bool {
	switch status {
	case "FAILED", "CANCELLED", "UNATTEMPTED", "EXPIRED", "INVALID_TRANSACTION":
		return true
	}
	return false
}
