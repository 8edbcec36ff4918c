package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/events"
	"billpay-wallet/internal/metrics"
	"billpay-wallet/internal/paystack"
	"billpay-wallet/internal/vendor"
)

// PaymentProvider is the subset of the Paystack client the services use.
type PaymentProvider interface {
	VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error)
	ListTransactions(ctx context.Context, customerID string, since time.Time) ([]paystack.Transaction, error)
	GetOrCreateCustomer(ctx context.Context, req paystack.CustomerRequest) (*paystack.Customer, error)
	GetOrCreateDedicatedAccount(ctx context.Context, customerID, preferredBank string) (*paystack.DedicatedAccountResult, error)
	InitiateCharge(ctx context.Context, req paystack.ChargeRequest) (*paystack.Charge, error)
}

// Vendor places bill-payment orders.
type Vendor interface {
	Charge(ctx context.Context, kind vendor.Kind, fields map[string]string) (*vendor.Result, error)
}

var (
	_ PaymentProvider = (*paystack.Client)(nil)
	_ Vendor          = (*vendor.Client)(nil)
)

const maxConflictAttempts = 3

// runInTransaction runs fn in a transaction, repeating it when the commit lost a race on a
// unique key. fn must not keep state from a previous attempt.
func runInTransaction(ctx context.Context, store domain.Store, m *metrics.Metrics, logger *slog.Logger, fn func(domain.Store) error) error {
	var err error
	for attempt := 1; attempt <= maxConflictAttempts; attempt++ {
		err = store.WithTransaction(ctx, fn)
		if !errors.HasCode(err, errors.ConcurrencyConflict) {
			return err
		}
		m.ConflictRetry()
		logger.Warn("Transaction lost a race, retrying", "attempt", attempt, "error", err)
	}
	return err
}

// persistenceError reports unexpected storage errors as PersistenceFailure and passes
// domain errors through.
func persistenceError(err error) error {
	if err == nil {
		return nil
	}
	appErr := errors.AsAppError(err)
	if appErr.Code != errors.InternalError {
		return appErr
	}
	details := appErr.Details
	if details == "" {
		details = appErr.Message
	}
	return errors.ErrPersistenceFailure.WithDetails(details)
}

func parseAccountID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errors.ErrInvalidAccountID
	}
	return id, nil
}

func publish(ctx context.Context, publisher events.Publisher, logger *slog.Logger, routingKey string, body interface{}) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, routingKey, body); err != nil {
		logger.Warn("Failed to publish event", "routing_key", routingKey, "error", err)
	}
}
