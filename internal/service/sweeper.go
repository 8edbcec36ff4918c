package service

import (
	"context"
	"log/slog"
	"time"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/metrics"
)

const (
	sweepBatchSize = 100
	sweepMinAge    = 2 * time.Minute
)

// Sweeper settles deposits left Pending, such as temp-account transfers nobody polled.
type Sweeper struct {
	store    domain.Store
	deposits *DepositService
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewSweeper(store domain.Store, deposits *DepositService, m *metrics.Metrics, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		deposits: deposits,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

type SweepSummary struct {
	Checked  int
	Credited int
	Expired  int
	Skipped  int
}

// SweepPendingDeposits re-reconciles Pending deposits older than a couple of minutes.
// Temp deposits past their expiry that the processor never saw paid become Failed.
func (s *Sweeper) SweepPendingDeposits(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	now := s.now().UTC()

	pending, err := s.store.Deposit().ListPendingDeposits(ctx, now.Add(-sweepMinAge), sweepBatchSize)
	if err != nil {
		return summary, err
	}

	for _, deposit := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++

		result, err := s.deposits.ReconcileDeposit(ctx, DepositRequest{
			Reference:     deposit.ProviderReference,
			TransactionID: deposit.TransactionID,
			AccountID:     deposit.AccountID.String(),
			Channel:       deposit.Channel,
			DepositType:   string(deposit.DepositType),
			BillingEmail:  deposit.BillingEmail,
			BillingName:   deposit.BillingName,
		})
		switch {
		case err == nil && result.Outcome == OutcomeCredited:
			summary.Credited++
			s.metrics.SweptDeposit("credited")
		case err == nil:
			summary.Skipped++
		case errors.HasCode(err, errors.NotYetSuccessful) && expired(deposit, now):
			expiredNow, expireErr := s.expire(ctx, deposit)
			if expireErr != nil {
				s.logger.Error("Failed to expire deposit", "deposit_id", deposit.ID, "error", expireErr)
				summary.Skipped++
				continue
			}
			if expiredNow {
				summary.Expired++
				s.metrics.SweptDeposit("expired")
			} else {
				summary.Skipped++
			}
		default:
			s.logger.Info("Pending deposit left for next sweep", "deposit_id", deposit.ID, "reason", err)
			summary.Skipped++
			s.metrics.SweptDeposit("skipped")
		}
	}

	s.logger.Info("Pending deposit sweep finished",
		"checked", summary.Checked,
		"credited", summary.Credited,
		"expired", summary.Expired,
		"skipped", summary.Skipped)
	return summary, nil
}

func expired(deposit *domain.DepositTransaction, now time.Time) bool {
	return deposit.DepositType == domain.DepositTypeTemp &&
		deposit.TempAccount != nil &&
		!deposit.TempAccount.ExpiresAt.IsZero() &&
		deposit.TempAccount.ExpiresAt.Before(now)
}

// expire moves the deposit Pending→Failed unless another writer settled it first.
func (s *Sweeper) expire(ctx context.Context, deposit *domain.DepositTransaction) (bool, error) {
	changed := false
	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		changed = false
		current, err := tx.Deposit().FindDepositForUpdate(ctx, domain.DepositLookup{
			ProviderReference: deposit.ProviderReference,
		})
		if err != nil {
			return err
		}
		if current == nil || current.Status.Terminal() {
			return nil
		}
		current.Status = domain.DepositFailed
		if err := tx.Deposit().UpdateDeposit(ctx, current); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return false, persistenceError(err)
	}
	if changed {
		s.logger.Info("Temp deposit expired", "deposit_id", deposit.ID, "reference", deposit.ProviderReference)
	}
	return changed, nil
}
