package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/paystack"
)

type TempAccountService struct {
	store    domain.Store
	provider PaymentProvider
	deposits *DepositService
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func NewTempAccountService(
	store domain.Store,
	provider PaymentProvider,
	deposits *DepositService,
	ttl time.Duration,
	logger *slog.Logger,
) *TempAccountService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TempAccountService{
		store:    store,
		provider: provider,
		deposits: deposits,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}
}

type TempAccountRequest struct {
	AccountID  string
	AmountKobo int64
	Reference  string
}

// TempAccountStatus is Cleared once the transfer into the temp account was credited.
// Until then it carries the transfer details.
type TempAccountStatus struct {
	Cleared     bool                       `json:"cleared"`
	TempAccount *domain.TempAccount        `json:"temp_account,omitempty"`
	Deposit     *domain.DepositTransaction `json:"deposit,omitempty"`
	Account     *domain.Account            `json:"account,omitempty"`
}

// CreateTempAccount asks the processor for a one-off bank account that expires after
// the configured TTL, and records the expected transfer as a Pending Temp deposit.
func (s *TempAccountService) CreateTempAccount(ctx context.Context, req TempAccountRequest) (*domain.DepositTransaction, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return nil, err
	}
	if req.AmountKobo <= 0 {
		return nil, errors.ErrInvalidAmount
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		reference = uuid.NewString()
	}

	account, err := s.store.Account().GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Creating temp account", "account_id", accountID, "reference", reference, "amount_kobo", req.AmountKobo)

	now := s.now().UTC()
	charge, err := s.provider.InitiateCharge(ctx, paystack.ChargeRequest{
		Email:      account.Email,
		AmountKobo: req.AmountKobo,
		Reference:  reference,
		ExpiresAt:  now.Add(s.ttl),
	})
	if err != nil {
		return nil, err
	}

	expiresAt := charge.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = now.Add(s.ttl)
	}
	providerReference := charge.Reference
	if providerReference == "" {
		providerReference = reference
	}

	deposit := &domain.DepositTransaction{
		ID:                    uuid.New(),
		AccountID:             account.ID,
		ProviderReference:     providerReference,
		ProviderTransactionID: charge.ID,
		ProviderCustomerID:    charge.CustomerID,
		TransactionID:         reference,
		Amount:                decimal.New(req.AmountKobo, -2),
		Status:                domain.DepositPending,
		Channel:               "bank_transfer",
		DepositType:           domain.DepositTypeTemp,
		Payload:               charge.Raw,
		BillingEmail:          account.Email,
		BillingName:           account.FullName(),
		TransactedAt:          now,
		TempAccount: &domain.TempAccount{
			AccountNumber: charge.AccountNumber,
			AccountName:   charge.AccountName,
			BankName:      charge.BankName,
			ExpiresAt:     expiresAt,
		},
	}

	if err := s.store.Deposit().CreateDeposit(ctx, deposit); err != nil {
		if errors.HasCode(err, errors.ConcurrencyConflict) {
			return nil, errors.ErrDuplicateTransaction.WithDetails("reference " + reference)
		}
		return nil, err
	}

	s.logger.Info("Temp account created", "account_id", account.ID, "deposit_id", deposit.ID, "expires_at", expiresAt)
	return deposit, nil
}

// GetTempAccount checks the latest unexpired temp account and credits it when the
// transfer has arrived.
func (s *TempAccountService) GetTempAccount(ctx context.Context, accountID string) (*TempAccountStatus, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Account().GetAccount(ctx, id); err != nil {
		return nil, err
	}

	pending, err := s.store.Deposit().LatestPendingTempDeposit(ctx, id, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, errors.ErrDepositNotFound.WithDetails("no active temp account")
	}

	result, err := s.deposits.ReconcileDeposit(ctx, DepositRequest{
		Reference:     pending.ProviderReference,
		TransactionID: pending.TransactionID,
		AccountID:     id.String(),
		Channel:       pending.Channel,
		DepositType:   string(domain.DepositTypeTemp),
		BillingEmail:  pending.BillingEmail,
		BillingName:   pending.BillingName,
	})
	switch {
	case err == nil:
		return &TempAccountStatus{
			Cleared: result.Transaction.Status == domain.DepositSuccess,
			Deposit: result.Transaction,
			Account: result.Account,
		}, nil
	case errors.HasCode(err, errors.NotYetSuccessful):
		return &TempAccountStatus{TempAccount: pending.TempAccount, Deposit: pending}, nil
	default:
		return nil, err
	}
}
