package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/events"
	"billpay-wallet/internal/metrics"
	"billpay-wallet/internal/paystack"
)

type Outcome string

const (
	OutcomeCredited         Outcome = "credited"
	OutcomeAlreadyProcessed Outcome = "already_processed"
)

type DepositService struct {
	store     domain.Store
	provider  PaymentProvider
	publisher events.Publisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

func NewDepositService(
	store domain.Store,
	provider PaymentProvider,
	publisher events.Publisher,
	m *metrics.Metrics,
	logger *slog.Logger,
) *DepositService {
	return &DepositService{
		store:     store,
		provider:  provider,
		publisher: publisher,
		metrics:   m,
		logger:    logger,
	}
}

type DepositRequest struct {
	Reference     string
	TransactionID string
	AccountID     string
	Channel       string
	DepositType   string
	BillingEmail  string
	BillingName   string
}

type DepositResult struct {
	Account     *domain.Account            `json:"account"`
	Transaction *domain.DepositTransaction `json:"transaction"`
	Outcome     Outcome                    `json:"outcome"`
}

// ReconcileDeposit verifies reference with the provider and credits the account at most
// once. Repeated calls for a settled deposit return it unchanged.
func (s *DepositService) ReconcileDeposit(ctx context.Context, req DepositRequest) (*DepositResult, error) {
	s.logger.Info("Reconciling deposit",
		"account_id", req.AccountID,
		"reference", req.Reference,
		"transaction_id", req.TransactionID)

	accountID, depositType, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.Account().GetAccount(ctx, accountID); err != nil {
		return nil, err
	}

	verified, err := s.verify(ctx, req.Reference)
	if err != nil {
		s.metrics.DepositReconciled(outcomeLabel(err))
		return nil, err
	}

	if !verified.Succeeded() {
		s.logger.Info("Deposit not yet successful on provider", "reference", req.Reference, "provider_status", verified.Status)
		s.metrics.DepositReconciled("not_yet_successful")
		return nil, errors.ErrNotYetSuccessful.WithDetails("provider status: " + verified.Status)
	}

	draft := depositDraft{
		Reference:     req.Reference,
		TransactionID: req.TransactionID,
		Channel:       req.Channel,
		DepositType:   depositType,
		BillingEmail:  req.BillingEmail,
		BillingName:   req.BillingName,
	}

	var result *DepositResult
	err = runInTransaction(ctx, s.store, s.metrics, s.logger, func(tx domain.Store) error {
		applied, err := s.applyVerified(ctx, tx, accountID, verified, draft)
		if err != nil {
			return err
		}
		result = applied
		return nil
	})
	if err != nil {
		s.logger.Error("Deposit reconciliation failed", "reference", req.Reference, "error", err)
		s.metrics.DepositReconciled("failed")
		return nil, persistenceError(err)
	}

	s.afterCommit(ctx, result)
	return result, nil
}

func (s *DepositService) validate(req DepositRequest) (uuid.UUID, domain.DepositType, error) {
	if strings.TrimSpace(req.Reference) == "" {
		return uuid.Nil, "", errors.NewAppError(errors.InvalidInput, "reference is required")
	}
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return uuid.Nil, "", err
	}
	depositType, ok := domain.ParseDepositType(req.DepositType)
	if !ok {
		return uuid.Nil, "", errors.NewAppErrorf(errors.InvalidInput, "unknown deposit type %q", req.DepositType)
	}
	return accountID, depositType, nil
}

// verify maps an explicit provider refusal onto NotYetSuccessful so callers can retry
// later, and keeps transport failures as ProviderUnavailable.
func (s *DepositService) verify(ctx context.Context, reference string) (*paystack.Transaction, error) {
	verified, err := s.provider.VerifyTransaction(ctx, reference)
	if err == nil {
		return verified, nil
	}
	s.logger.Warn("Provider verification failed", "reference", reference, "error", err)
	if errors.HasCode(err, errors.ProviderDeclined) {
		return nil, errors.ErrNotYetSuccessful.WithDetails(errors.AsAppError(err).Details)
	}
	if errors.HasCode(err, errors.ProviderUnavailable) {
		return nil, err
	}
	return nil, errors.ErrProviderUnavailable.WithDetails(err.Error())
}

// depositDraft carries the caller-known fields of a deposit that may not exist yet.
type depositDraft struct {
	Reference     string
	TransactionID string
	Channel       string
	DepositType   domain.DepositType
	BillingEmail  string
	BillingName   string
}

// applyVerified runs inside tx. It locks the account, then the deposit, and credits the
// verified amount unless the deposit is already settled.
func (s *DepositService) applyVerified(
	ctx context.Context,
	tx domain.Store,
	accountID uuid.UUID,
	verified *paystack.Transaction,
	draft depositDraft,
) (*DepositResult, error) {
	account, err := tx.Account().GetAccountForUpdate(ctx, accountID)
	if err != nil {
		return nil, err
	}

	existing, err := tx.Deposit().FindDepositForUpdate(ctx, domain.DepositLookup{
		ProviderReference:     draft.Reference,
		ProviderTransactionID: verified.ProviderID(),
		TransactionID:         draft.TransactionID,
	})
	if err != nil {
		return nil, err
	}

	if existing != nil && existing.AccountID != account.ID {
		return nil, errors.ErrDepositBelongsElsewhere
	}
	if existing != nil && existing.Status.Terminal() {
		return &DepositResult{Account: account, Transaction: existing, Outcome: OutcomeAlreadyProcessed}, nil
	}

	amount := verified.AmountMajor()
	newBalance := account.Balance.Add(amount)

	deposit := existing
	if deposit == nil {
		transactionID := draft.TransactionID
		if transactionID == "" {
			transactionID = draft.Reference
		}
		deposit = &domain.DepositTransaction{
			ID:                uuid.New(),
			AccountID:         account.ID,
			ProviderReference: draft.Reference,
			TransactionID:     transactionID,
			DepositType:       draft.DepositType,
			BillingEmail:      draft.BillingEmail,
			BillingName:       draft.BillingName,
		}
	}

	deposit.ProviderTransactionID = verified.ProviderID()
	deposit.ProviderCustomerID = verified.Customer.Identifier()
	deposit.Amount = amount
	deposit.Status = domain.DepositSuccess
	deposit.Payload = verified.Raw
	deposit.TransactedAt = verified.TransactedAt()
	deposit.BalanceAfter = &newBalance
	if draft.Channel != "" {
		deposit.Channel = draft.Channel
	} else if deposit.Channel == "" {
		deposit.Channel = verified.Channel
	}

	if existing == nil {
		err = tx.Deposit().CreateDeposit(ctx, deposit)
	} else {
		err = tx.Deposit().UpdateDeposit(ctx, deposit)
	}
	if err != nil {
		return nil, err
	}

	if err := tx.Account().UpdateAccountBalance(ctx, account.ID, newBalance); err != nil {
		return nil, err
	}
	account.Balance = newBalance

	return &DepositResult{Account: account, Transaction: deposit, Outcome: OutcomeCredited}, nil
}

func (s *DepositService) afterCommit(ctx context.Context, result *DepositResult) {
	s.metrics.DepositReconciled(string(result.Outcome))
	if result.Outcome != OutcomeCredited {
		s.logger.Info("Deposit already processed",
			"reference", result.Transaction.ProviderReference,
			"status", result.Transaction.Status)
		return
	}

	s.metrics.DepositCredited(result.Transaction.Amount)
	s.logger.Info("Deposit credited",
		"account_id", result.Account.ID,
		"reference", result.Transaction.ProviderReference,
		"amount", result.Transaction.Amount,
		"balance", result.Account.Balance)

	publish(ctx, s.publisher, s.logger, events.RoutingDepositCredited, events.DepositCredited{
		AccountID:    result.Account.ID,
		DepositID:    result.Transaction.ID,
		Reference:    result.Transaction.ProviderReference,
		DepositType:  string(result.Transaction.DepositType),
		Amount:       result.Transaction.Amount,
		BalanceAfter: result.Account.Balance,
		OccurredAt:   time.Now().UTC(),
	})
}

// HandleChargeEvent reconciles a charge.success notification. The account is resolved
// from an existing deposit with that reference, else from the provider customer.
func (s *DepositService) HandleChargeEvent(ctx context.Context, charge *paystack.Transaction) (*DepositResult, error) {
	if charge == nil || charge.Reference == "" {
		return nil, errors.NewAppError(errors.InvalidInput, "charge event without reference")
	}

	var existing *domain.DepositTransaction
	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		found, err := tx.Deposit().FindDepositForUpdate(ctx, domain.DepositLookup{
			ProviderReference:     charge.Reference,
			ProviderTransactionID: charge.ProviderID(),
		})
		existing = found
		return err
	})
	if err != nil {
		return nil, persistenceError(err)
	}

	req := DepositRequest{
		Reference: charge.Reference,
		Channel:   charge.Channel,
	}
	if existing != nil {
		req.AccountID = existing.AccountID.String()
		req.TransactionID = existing.TransactionID
		req.DepositType = string(existing.DepositType)
		req.BillingEmail = existing.BillingEmail
		req.BillingName = existing.BillingName
	} else {
		account, err := s.accountForCustomer(ctx, charge.Customer)
		if err != nil {
			return nil, err
		}
		req.AccountID = account.ID.String()
		req.DepositType = string(depositTypeForChannel(charge.Channel))
		req.BillingEmail = account.Email
		req.BillingName = account.FullName()
	}

	return s.ReconcileDeposit(ctx, req)
}

func (s *DepositService) accountForCustomer(ctx context.Context, customer paystack.Customer) (*domain.Account, error) {
	for _, key := range []string{customer.IDString(), customer.CustomerCode} {
		if key == "" {
			continue
		}
		account, err := s.store.Account().GetAccountByProcessorCustomer(ctx, key)
		if err == nil {
			return account, nil
		}
		if !errors.HasCode(err, errors.AccountNotFound) {
			return nil, err
		}
	}
	return nil, errors.ErrAccountNotFound.WithDetails("no account for provider customer")
}

func depositTypeForChannel(channel string) domain.DepositType {
	if channel == "dedicated_nuban" {
		return domain.DepositTypeDVA
	}
	return domain.DepositTypeOther
}

func outcomeLabel(err error) string {
	if errors.HasCode(err, errors.NotYetSuccessful) {
		return "not_yet_successful"
	}
	return "provider_unavailable"
}
