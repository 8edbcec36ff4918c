package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/metrics"
	"billpay-wallet/internal/paystack"
)

type SyncService struct {
	store    domain.Store
	provider PaymentProvider
	deposits *DepositService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	inflight singleflight.Group
}

func NewSyncService(
	store domain.Store,
	provider PaymentProvider,
	deposits *DepositService,
	m *metrics.Metrics,
	logger *slog.Logger,
) *SyncService {
	return &SyncService{
		store:    store,
		provider: provider,
		deposits: deposits,
		metrics:  m,
		logger:   logger,
	}
}

type SyncResult struct {
	Balance  decimal.Decimal              `json:"balance"`
	Credited []*domain.DepositTransaction `json:"credited"`
}

// SyncAccount pulls the customer's provider history and credits every successful
// transaction the ledger has not seen. Overlapping calls for one account share a run.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) (*SyncResult, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}

	v, err, shared := s.inflight.Do(id.String(), func() (interface{}, error) {
		return s.sync(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("Sync joined an in-flight run", "account_id", id)
	}
	return v.(*SyncResult), nil
}

func (s *SyncService) sync(ctx context.Context, accountID uuid.UUID) (*SyncResult, error) {
	account, err := s.store.Account().GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{Balance: account.Balance, Credited: []*domain.DepositTransaction{}}
	if account.ProcessorCustomerID == "" {
		s.logger.Info("Sync skipped, no processor customer", "account_id", accountID)
		s.metrics.SyncRun("skipped", 0)
		return result, nil
	}

	var since time.Time
	latest, err := s.store.Deposit().LatestDeposit(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if latest != nil {
		since = latest.CreatedAt
	}

	transactions, listErr := s.provider.ListTransactions(ctx, account.ProcessorCustomerID, since)
	if listErr != nil {
		s.logger.Warn("Provider history unavailable, syncing what was returned",
			"account_id", accountID,
			"received", len(transactions),
			"error", listErr)
	}

	candidates := successfulTransactions(transactions)
	references := make([]string, 0, len(candidates))
	for _, t := range candidates {
		references = append(references, t.Reference)
	}
	known, err := s.store.Deposit().ExistingReferences(ctx, references)
	if err != nil {
		return nil, err
	}

	for _, t := range candidates {
		if known[t.Reference] {
			continue
		}

		credited, err := s.credit(ctx, accountID, account, t)
		if err != nil {
			s.metrics.SyncRun("failed", len(result.Credited))
			return nil, err
		}
		if credited != nil {
			result.Credited = append(result.Credited, credited.Transaction)
			result.Balance = credited.Account.Balance
		}
	}

	if len(result.Credited) > 0 {
		current, err := s.store.Account().GetAccount(ctx, accountID)
		if err != nil {
			return nil, err
		}
		result.Balance = current.Balance
	}

	label := "ok"
	if listErr != nil {
		label = "provider_error"
	}
	s.metrics.SyncRun(label, len(result.Credited))
	s.logger.Info("Sync completed", "account_id", accountID, "credited", len(result.Credited), "balance", result.Balance)
	return result, nil
}

// credit applies one provider transaction in its own transaction. It returns nil when
// another writer recorded the reference first.
func (s *SyncService) credit(ctx context.Context, accountID uuid.UUID, account *domain.Account, t paystack.Transaction) (*DepositResult, error) {
	draft := depositDraft{
		Reference:     t.Reference,
		TransactionID: t.Reference,
		Channel:       t.Channel,
		DepositType:   domain.DepositTypeDVA,
		BillingEmail:  account.Email,
		BillingName:   account.FullName(),
	}

	var applied *DepositResult
	err := runInTransaction(ctx, s.store, s.metrics, s.logger, func(tx domain.Store) error {
		result, err := s.deposits.applyVerified(ctx, tx, accountID, &t, draft)
		if err != nil {
			return err
		}
		applied = result
		return nil
	})
	if errors.HasCode(err, errors.InvalidInput) {
		s.logger.Warn("Skipping provider transaction recorded for another account", "reference", t.Reference)
		return nil, nil
	}
	if err != nil {
		s.logger.Error("Sync credit failed", "account_id", accountID, "reference", t.Reference, "error", err)
		return nil, persistenceError(err)
	}
	if applied.Outcome != OutcomeCredited {
		return nil, nil
	}

	s.deposits.afterCommit(ctx, applied)
	return applied, nil
}

// successfulTransactions keeps settled transactions, oldest first, one per reference.
func successfulTransactions(transactions []paystack.Transaction) []paystack.Transaction {
	seen := make(map[string]bool, len(transactions))
	out := make([]paystack.Transaction, 0, len(transactions))
	for _, t := range transactions {
		if t.Reference == "" || !t.Succeeded() || seen[t.Reference] {
			continue
		}
		seen[t.Reference] = true
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].TransactedAt().Before(out[j].TransactedAt())
	})
	return out
}
