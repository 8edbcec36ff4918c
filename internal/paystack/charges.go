package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

type ChargeRequest struct {
	Email      string
	AmountKobo int64
	Reference  string
	ExpiresAt  time.Time
}

// Charge is the answer to a bank-transfer charge: a one-off account the payer sends money to.
type Charge struct {
	ID            string
	Reference     string
	Status        string
	AccountNumber string
	AccountName   string
	BankName      string
	ExpiresAt     time.Time
	CustomerID    string
	Raw           json.RawMessage
}

// InitiateCharge opens a bank-transfer charge that expires at req.ExpiresAt.
func (c *Client) InitiateCharge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	payload := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.AmountKobo,
		"reference": req.Reference,
		"bank_transfer": map[string]string{
			"account_expires_at": req.ExpiresAt.UTC().Format(time.RFC3339),
		},
	}

	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodPost, "/charge", nil, payload, &raw); err != nil {
		return nil, err
	}
	return parseCharge(raw, req), nil
}

// parseCharge reads the transfer details from either the flat or the nested
// authorization layout; bank may be a string or an object.
func parseCharge(raw json.RawMessage, req ChargeRequest) *Charge {
	data := gjson.ParseBytes(raw)

	first := func(paths ...string) string {
		for _, p := range paths {
			if v := data.Get(p); v.Exists() && v.String() != "" {
				return v.String()
			}
		}
		return ""
	}

	charge := &Charge{
		ID:            first("id"),
		Reference:     first("reference"),
		Status:        first("status"),
		AccountNumber: first("authorization.account_number", "account_number"),
		AccountName:   first("authorization.account_name", "account_name"),
		BankName:      first("authorization.bank.name", "authorization.bank", "bank.name", "bank"),
		CustomerID:    first("customer.id", "customer.customer_code"),
		ExpiresAt:     req.ExpiresAt.UTC(),
		Raw:           raw,
	}
	if charge.Reference == "" {
		charge.Reference = req.Reference
	}
	if expires := first("authorization.account_expires_at", "account_expires_at"); expires != "" {
		if t, err := time.Parse(time.RFC3339, expires); err == nil {
			charge.ExpiresAt = t.UTC()
		}
	}
	return charge
}
