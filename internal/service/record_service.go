package service

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

// RecordService serves read-only history of an account's deposits and purchases.
type RecordService struct {
	store  domain.Store
	logger *slog.Logger
}

func NewRecordService(store domain.Store, logger *slog.Logger) *RecordService {
	return &RecordService{store: store, logger: logger}
}

func (s *RecordService) ListSpendRecords(ctx context.Context, accountID string) ([]*domain.SpendRecord, error) {
	id, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.store.Spend().ListSpendRecords(ctx, id)
}

func (s *RecordService) GetSpendRecord(ctx context.Context, accountID, recordID string) (*domain.SpendRecord, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	rid, err := uuid.Parse(recordID)
	if err != nil {
		return nil, errors.NewAppError(errors.InvalidInput, "invalid record id")
	}
	return s.store.Spend().GetSpendRecord(ctx, id, rid)
}

func (s *RecordService) ListDeposits(ctx context.Context, accountID string) ([]*domain.DepositTransaction, error) {
	id, err := s.account(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return s.store.Deposit().ListDeposits(ctx, id)
}

func (s *RecordService) account(ctx context.Context, accountID string) (uuid.UUID, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return uuid.Nil, err
	}
	if _, err := s.store.Account().GetAccount(ctx, id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}
