package domain

import "context"

// Store groups the repositories that must change together. Repositories returned
// by the Store passed to WithTransaction's callback run inside that transaction.
type Store interface {
	Account() AccountRepository
	Deposit() DepositRepository
	Spend() SpendRepository
	WithTransaction(ctx context.Context, fn func(Store) error) error
}
