package paystack

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"billpay-wallet/internal/errors"
)

type Customer struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Phone        string `json:"phone"`
}

// IDString returns the numeric id as a string, or "" when unset.
func (c Customer) IDString() string {
	if c.ID == 0 {
		return ""
	}
	return strconv.FormatInt(c.ID, 10)
}

// Identifier is the key used to match a customer back to an account.
func (c Customer) Identifier() string {
	if id := c.IDString(); id != "" {
		return id
	}
	return c.CustomerCode
}

type CustomerRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
}

func (c *Client) CreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	var customer Customer
	if _, err := c.do(ctx, http.MethodPost, "/customer", nil, req, &customer); err != nil {
		return nil, err
	}
	return &customer, nil
}

// FindCustomerByEmail returns nil, nil when Paystack has no customer with that email.
func (c *Client) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	var customer Customer
	_, err := c.do(ctx, http.MethodGet, "/customer/"+url.PathEscape(email), nil, nil, &customer)
	if err != nil {
		var apiErr *APIError
		if stderrors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusNotFound ||
			strings.Contains(strings.ToLower(apiErr.Message), "not found")) {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

// GetOrCreateCustomer searches by email before creating so repeated provisioning
// never registers the same person twice.
func (c *Client) GetOrCreateCustomer(ctx context.Context, req CustomerRequest) (*Customer, error) {
	customer, err := c.FindCustomerByEmail(ctx, req.Email)
	if err != nil && !errors.HasCode(err, errors.ProviderDeclined) {
		return nil, err
	}
	if customer != nil {
		return customer, nil
	}
	return c.CreateCustomer(ctx, req)
}
