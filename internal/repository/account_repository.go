package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

const accountColumns = `id, first_name, last_name, username, email, phone_number, balance, pin_hash,
		processor_customer_id, processor_customer_code, dva_account_number, dva_account_name, dva_bank_name,
		created_at, updated_at`

type accountRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewAccountRepository(db SQLExecutor, logger *slog.Logger) domain.AccountRepository {
	return &accountRepository{
		db:     db,
		logger: logger,
	}
}

func (r *accountRepository) CreateAccount(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (id, first_name, last_name, username, email, phone_number, balance, pin_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx,
		query,
		account.ID,
		account.FirstName,
		account.LastName,
		account.Username,
		account.Email,
		account.PhoneNumber,
		account.Balance.String(),
		account.PINHash,
		now,
		now,
	)

	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			r.logger.Warn("Duplicate account creation attempt", "account_id", account.ID, "email", account.Email)
			return errors.ErrDuplicateAccount
		}
		r.logger.Error("Failed to create account", "account_id", account.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to create account").WithDetails(err.Error())
	}

	account.CreatedAt = now
	account.UpdatedAt = now
	r.logger.Info("Account created successfully", "account_id", account.ID)
	return nil
}

func (r *accountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	return r.scanAccount(ctx, query, id)
}

// GetAccountForUpdate locks the row until the surrounding transaction ends, serializing
// every balance read-modify-write on the account.
func (r *accountRepository) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`

	return r.scanAccount(ctx, query, id)
}

func (r *accountRepository) GetAccountByProcessorCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts
		WHERE processor_customer_id = $1 OR processor_customer_code = $1
		LIMIT 1`

	return r.scanAccount(ctx, query, customerID)
}

func (r *accountRepository) scanAccount(ctx context.Context, query string, arg interface{}) (*domain.Account, error) {
	var account domain.Account
	var balanceStr string
	var dva domain.DedicatedAccount

	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&account.ID,
		&account.FirstName,
		&account.LastName,
		&account.Username,
		&account.Email,
		&account.PhoneNumber,
		&balanceStr,
		&account.PINHash,
		&account.ProcessorCustomerID,
		&account.ProcessorCustomerCode,
		&dva.AccountNumber,
		&dva.AccountName,
		&dva.BankName,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			r.logger.Warn("Account not found", "lookup", arg)
			return nil, errors.ErrAccountNotFound
		}
		r.logger.Error("Failed to get account", "lookup", arg, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get account").WithDetails(err.Error())
	}

	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		r.logger.Error("Failed to parse balance", "account_id", account.ID, "balance_str", balanceStr, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to parse balance").WithDetails(err.Error())
	}

	account.Balance = balance
	if dva.AccountNumber != "" {
		account.DedicatedAccount = &dva
	}
	return &account, nil
}

func (r *accountRepository) UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	query := `
		UPDATE accounts
		SET balance = $1, updated_at = $2
		WHERE id = $3
	`

	return r.execUpdate(ctx, "balance", id, query, newBalance.String(), time.Now().UTC(), id)
}

func (r *accountRepository) UpdatePINHash(ctx context.Context, id uuid.UUID, pinHash string) error {
	query := `UPDATE accounts SET pin_hash = $1, updated_at = $2 WHERE id = $3`

	return r.execUpdate(ctx, "pin", id, query, pinHash, time.Now().UTC(), id)
}

func (r *accountRepository) UpdateProfile(ctx context.Context, id uuid.UUID, profile domain.Profile) error {
	query := `
		UPDATE accounts
		SET first_name = $1, last_name = $2, username = $3, email = $4, phone_number = $5, updated_at = $6
		WHERE id = $7
	`

	return r.execUpdate(ctx, "profile", id, query,
		profile.FirstName, profile.LastName, profile.Username, profile.Email, profile.PhoneNumber, time.Now().UTC(), id)
}

func (r *accountRepository) ContactsRegistered(ctx context.Context, email, phoneNumber string) (bool, bool, error) {
	query := `
		SELECT
			EXISTS (SELECT 1 FROM accounts WHERE $1 <> '' AND LOWER(email) = LOWER($1)),
			EXISTS (SELECT 1 FROM accounts WHERE $2 <> '' AND phone_number = $2)
	`

	var emailTaken, phoneTaken bool
	if err := r.db.QueryRowContext(ctx, query, email, phoneNumber).Scan(&emailTaken, &phoneTaken); err != nil {
		r.logger.Error("Failed to look up contacts", "error", err)
		return false, false, errors.NewAppError(errors.InternalError, "failed to look up contacts").WithDetails(err.Error())
	}
	return emailTaken, phoneTaken, nil
}

func (r *accountRepository) UpdateProcessorCustomer(ctx context.Context, id uuid.UUID, customerID, customerCode string) error {
	query := `
		UPDATE accounts
		SET processor_customer_id = $1, processor_customer_code = $2, updated_at = $3
		WHERE id = $4
	`

	return r.execUpdate(ctx, "processor_customer", id, query, customerID, customerCode, time.Now().UTC(), id)
}

func (r *accountRepository) UpdateDedicatedAccount(ctx context.Context, id uuid.UUID, dva domain.DedicatedAccount) error {
	query := `
		UPDATE accounts
		SET dva_account_number = $1, dva_account_name = $2, dva_bank_name = $3, updated_at = $4
		WHERE id = $5
	`

	return r.execUpdate(ctx, "dedicated_account", id, query, dva.AccountNumber, dva.AccountName, dva.BankName, time.Now().UTC(), id)
}

func (r *accountRepository) execUpdate(ctx context.Context, field string, id uuid.UUID, query string, args ...interface{}) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			r.logger.Warn("Account update hit a unique key", "account_id", id, "field", field, "constraint", constraint)
			return errors.ErrDuplicateAccount
		}
		r.logger.Error("Failed to update account", "account_id", id, "field", field, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update account").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}

	if rowsAffected == 0 {
		r.logger.Warn("No account found to update", "account_id", id, "field", field)
		return errors.ErrAccountNotFound
	}

	r.logger.Info("Account updated", "account_id", id, "field", field)
	return nil
}
