package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

// Store provides a unified interface for all repository operations with transaction support
type Store struct {
	db       DB
	executor SQLExecutor
	inTx     bool
	logger   *slog.Logger
}

var _ domain.Store = (*Store)(nil)

// NewStore creates a new Store instance
func NewStore(db DB, logger *slog.Logger) *Store {
	return &Store{
		db:       db,
		executor: db,
		logger:   logger,
	}
}

// Account returns an AccountRepository using the current executor
func (s *Store) Account() domain.AccountRepository {
	return NewAccountRepository(s.executor, s.logger)
}

// Deposit returns a DepositRepository using the current executor
func (s *Store) Deposit() domain.DepositRepository {
	return NewDepositRepository(s.executor, s.logger)
}

// Spend returns a SpendRepository using the current executor
func (s *Store) Spend() domain.SpendRepository {
	return NewSpendRepository(s.executor, s.logger)
}

// WithTransaction executes fn within a database transaction. Everything fn does through
// the Store it receives commits together or not at all.
func (s *Store) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if s.inTx {
		return errors.ErrCannotBeginTransaction
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.logger.Error("Failed to begin transaction", "error", err)
		return errors.ErrPersistenceFailure.WithDetails(err.Error())
	}

	txStore := &Store{
		db:       s.db,
		executor: tx,
		inTx:     true,
		logger:   s.logger,
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(txStore); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		s.logger.Error("Failed to commit transaction", "error", err)
		if _, ok := uniqueConstraint(err); ok {
			return errors.ErrConcurrencyConflict.WithDetails(err.Error())
		}
		return errors.ErrPersistenceFailure.WithDetails(err.Error())
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pinger, ok := s.db.(interface{ PingContext(context.Context) error })
	if !ok {
		return nil
	}
	return pinger.PingContext(ctx)
}
