package paystack

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strings"
)

type Bank struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type DedicatedAccount struct {
	ID            int64  `json:"id"`
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	Bank          Bank   `json:"bank"`
	Active        bool   `json:"active"`
}

func (d *DedicatedAccount) complete() bool {
	return d != nil && d.AccountNumber != "" && d.AccountName != "" && d.Bank.Name != ""
}

// DedicatedAccountResult is either an issued account or InProgress while the
// bank is still assigning one.
type DedicatedAccountResult struct {
	Account    *DedicatedAccount
	InProgress bool
}

// ListDedicatedAccounts returns the accounts already issued to a customer.
func (c *Client) ListDedicatedAccounts(ctx context.Context, customerID string) ([]DedicatedAccount, error) {
	query := url.Values{}
	query.Set("customer", customerID)

	var accounts []DedicatedAccount
	if _, err := c.do(ctx, http.MethodGet, "/dedicated_account", query, nil, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// GetOrCreateDedicatedAccount returns the customer's first issued account, requesting
// a new one at preferredBank when none exists.
func (c *Client) GetOrCreateDedicatedAccount(ctx context.Context, customerID, preferredBank string) (*DedicatedAccountResult, error) {
	existing, err := c.ListDedicatedAccounts(ctx, customerID)
	if err != nil {
		c.logger.Warn("Listing dedicated accounts failed, requesting a new one", "customer_id", customerID, "error", err)
	}
	for i := range existing {
		if existing[i].complete() {
			return &DedicatedAccountResult{Account: &existing[i]}, nil
		}
	}

	payload := map[string]string{
		"customer":       customerID,
		"preferred_bank": preferredBank,
	}

	var created DedicatedAccount
	env, err := c.do(ctx, http.MethodPost, "/dedicated_account", nil, payload, &created)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && inProgress(apiErr.Message) {
			return &DedicatedAccountResult{InProgress: true}, nil
		}
		return nil, err
	}

	if created.complete() {
		return &DedicatedAccountResult{Account: &created}, nil
	}
	if env != nil && !inProgress(env.Message) {
		c.logger.Info("Dedicated account not yet assigned", "customer_id", customerID, "message", env.Message)
	}
	return &DedicatedAccountResult{InProgress: true}, nil
}

func inProgress(message string) bool {
	return strings.Contains(strings.ToLower(message), "in progress")
}
