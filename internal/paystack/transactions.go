package paystack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
)

const listPageSize = 100

// Transaction is a Paystack transaction as returned by verify and list.
type Transaction struct {
	ID        int64      `json:"id"`
	Reference string     `json:"reference"`
	Amount    int64      `json:"amount"`
	Currency  string     `json:"currency"`
	Status    string     `json:"status"`
	Channel   string     `json:"channel"`
	PaidAt    *time.Time `json:"paid_at"`
	CreatedAt time.Time  `json:"created_at"`
	Customer  Customer   `json:"customer"`

	Raw json.RawMessage `json:"-"`
}

// Succeeded reports whether Paystack settled the transaction.
func (t *Transaction) Succeeded() bool {
	return strings.EqualFold(t.Status, "success")
}

// DepositStatus maps the provider status onto the ledger's status set.
func (t *Transaction) DepositStatus() domain.DepositStatus {
	switch strings.ToLower(t.Status) {
	case "success":
		return domain.DepositSuccess
	case "failed", "reversed", "abandoned":
		return domain.DepositFailed
	}
	return domain.DepositPending
}

// AmountMajor converts the kobo amount into naira.
func (t *Transaction) AmountMajor() decimal.Decimal {
	return decimal.New(t.Amount, -2)
}

// ProviderID is the transaction id as stored on deposit rows.
func (t *Transaction) ProviderID() string {
	if t.ID == 0 {
		return ""
	}
	return strconv.FormatInt(t.ID, 10)
}

// TransactedAt prefers the settlement time over creation time.
func (t *Transaction) TransactedAt() time.Time {
	if t.PaidAt != nil && !t.PaidAt.IsZero() {
		return t.PaidAt.UTC()
	}
	if !t.CreatedAt.IsZero() {
		return t.CreatedAt.UTC()
	}
	return time.Now().UTC()
}

// VerifyTransaction fetches the authoritative state of a transaction by reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var raw json.RawMessage
	if _, err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, nil, &raw); err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, err
	}
	tx.Raw = raw
	return &tx, nil
}

// ListTransactions returns every transaction of a customer created at or after since.
// A zero since lists the full history.
func (c *Client) ListTransactions(ctx context.Context, customerID string, since time.Time) ([]Transaction, error) {
	query := url.Values{}
	query.Set("customer", customerID)
	query.Set("perPage", strconv.Itoa(listPageSize))
	if !since.IsZero() {
		query.Set("from", since.UTC().Format(time.RFC3339))
	}

	var all []Transaction
	for page := 1; ; page++ {
		query.Set("page", strconv.Itoa(page))

		var raws []json.RawMessage
		env, err := c.do(ctx, http.MethodGet, "/transaction", query, nil, &raws)
		if err != nil {
			return all, err
		}

		for _, raw := range raws {
			var tx Transaction
			if err := json.Unmarshal(raw, &tx); err != nil {
				c.logger.Warn("Skipping undecodable transaction", "customer_id", customerID, "error", err)
				continue
			}
			tx.Raw = raw
			all = append(all, tx)
		}

		if env.Meta == nil || page >= env.Meta.PageCount || len(raws) == 0 {
			return all, nil
		}
	}
}
