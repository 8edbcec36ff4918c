package repository

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

const depositColumns = `id, account_id, provider_reference, provider_transaction_id, provider_customer_id,
		transaction_id, amount, status, channel, deposit_type, payload, billing_email, billing_name,
		transacted_at, balance_after, temp_account_number, temp_account_name, temp_account_bank,
		temp_account_expires_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

type depositRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewDepositRepository(db SQLExecutor, logger *slog.Logger) domain.DepositRepository {
	return &depositRepository{
		db:     db,
		logger: logger,
	}
}

func (r *depositRepository) CreateDeposit(ctx context.Context, d *domain.DepositTransaction) error {
	query := `
		INSERT INTO deposit_transactions
		(id, account_id, provider_reference, provider_transaction_id, provider_customer_id, transaction_id,
		 amount, status, channel, deposit_type, payload, billing_email, billing_name, transacted_at,
		 balance_after, temp_account_number, temp_account_name, temp_account_bank, temp_account_expires_at,
		 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`

	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	now := time.Now().UTC()
	temp := tempColumns(d.TempAccount)

	_, err := r.db.ExecContext(ctx,
		query,
		d.ID,
		d.AccountID,
		d.ProviderReference,
		d.ProviderTransactionID,
		d.ProviderCustomerID,
		d.TransactionID,
		d.Amount.String(),
		string(d.Status),
		d.Channel,
		string(d.DepositType),
		nullBytes(d.Payload),
		d.BillingEmail,
		d.BillingName,
		d.TransactedAt,
		nullDecimal(d.BalanceAfter),
		temp.number,
		temp.name,
		temp.bank,
		temp.expiresAt,
		now,
		now,
	)

	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			// Another request recorded the same provider reference first.
			r.logger.Warn("Duplicate deposit", "reference", d.ProviderReference, "constraint", constraint)
			return errors.ErrConcurrencyConflict.WithDetails(constraint)
		}
		r.logger.Error("Failed to create deposit",
			"account_id", d.AccountID,
			"reference", d.ProviderReference,
			"amount", d.Amount,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create deposit").WithDetails(err.Error())
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	r.logger.Info("Deposit created", "deposit_id", d.ID, "reference", d.ProviderReference, "status", d.Status)
	return nil
}

func (r *depositRepository) FindDepositForUpdate(ctx context.Context, lookup domain.DepositLookup) (*domain.DepositTransaction, error) {
	if lookup.Empty() {
		return nil, nil
	}

	query := `SELECT ` + depositColumns + ` FROM deposit_transactions
		WHERE ($1 <> '' AND provider_reference = $1)
		   OR ($2 <> '' AND provider_transaction_id = $2)
		   OR ($3 <> '' AND transaction_id = $3)
		ORDER BY ($1 <> '' AND provider_reference = $1) DESC, created_at
		LIMIT 1
		FOR UPDATE`

	deposit, err := r.scanDeposit(r.db.QueryRowContext(ctx, query,
		lookup.ProviderReference, lookup.ProviderTransactionID, lookup.TransactionID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to find deposit", "reference", lookup.ProviderReference, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to find deposit").WithDetails(err.Error())
	}
	return deposit, nil
}

func (r *depositRepository) GetDepositByID(ctx context.Context, id uuid.UUID) (*domain.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions WHERE id = $1`

	deposit, err := r.scanDeposit(r.db.QueryRowContext(ctx, query, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrDepositNotFound
	}
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to get deposit").WithDetails(err.Error())
	}
	return deposit, nil
}

func (r *depositRepository) LatestDeposit(ctx context.Context, accountID uuid.UUID) (*domain.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 1`

	deposit, err := r.scanDeposit(r.db.QueryRowContext(ctx, query, accountID))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to get latest deposit").WithDetails(err.Error())
	}
	return deposit, nil
}

func (r *depositRepository) LatestPendingTempDeposit(ctx context.Context, accountID uuid.UUID, now time.Time) (*domain.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions
		WHERE account_id = $1 AND deposit_type = $2 AND status = $3 AND temp_account_expires_at > $4
		ORDER BY transacted_at DESC
		LIMIT 1`

	deposit, err := r.scanDeposit(r.db.QueryRowContext(ctx, query,
		accountID, string(domain.DepositTypeTemp), string(domain.DepositPending), now))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to get temp deposit").WithDetails(err.Error())
	}
	return deposit, nil
}

func (r *depositRepository) ExistingReferences(ctx context.Context, references []string) (map[string]bool, error) {
	existing := make(map[string]bool, len(references))
	if len(references) == 0 {
		return existing, nil
	}

	query := `SELECT provider_reference FROM deposit_transactions WHERE provider_reference = ANY($1)`

	rows, err := r.db.QueryContext(ctx, query, pq.Array(references))
	if err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to query references").WithDetails(err.Error())
	}
	defer rows.Close()

	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan reference").WithDetails(err.Error())
		}
		existing[ref] = true
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read references").WithDetails(err.Error())
	}
	return existing, nil
}

func (r *depositRepository) ListDeposits(ctx context.Context, accountID uuid.UUID) ([]*domain.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions
		WHERE account_id = $1
		ORDER BY transacted_at DESC`

	return r.queryDeposits(ctx, query, accountID)
}

func (r *depositRepository) ListPendingDeposits(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DepositTransaction, error) {
	query := `SELECT ` + depositColumns + ` FROM deposit_transactions
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at
		LIMIT $3`

	return r.queryDeposits(ctx, query, string(domain.DepositPending), olderThan, limit)
}

func (r *depositRepository) queryDeposits(ctx context.Context, query string, args ...interface{}) ([]*domain.DepositTransaction, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list deposits", "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list deposits").WithDetails(err.Error())
	}
	defer rows.Close()

	deposits := []*domain.DepositTransaction{}
	for rows.Next() {
		deposit, err := r.scanDeposit(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan deposit").WithDetails(err.Error())
		}
		deposits = append(deposits, deposit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read deposits").WithDetails(err.Error())
	}
	return deposits, nil
}

func (r *depositRepository) UpdateDeposit(ctx context.Context, d *domain.DepositTransaction) error {
	query := `
		UPDATE deposit_transactions
		SET provider_reference = $1, provider_transaction_id = $2, provider_customer_id = $3, amount = $4,
		    status = $5, channel = $6, payload = $7, billing_email = $8, billing_name = $9,
		    transacted_at = $10, balance_after = $11, updated_at = $12
		WHERE id = $13
	`

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query,
		d.ProviderReference,
		d.ProviderTransactionID,
		d.ProviderCustomerID,
		d.Amount.String(),
		string(d.Status),
		d.Channel,
		nullBytes(d.Payload),
		d.BillingEmail,
		d.BillingName,
		d.TransactedAt,
		nullDecimal(d.BalanceAfter),
		now,
		d.ID,
	)
	if err != nil {
		if constraint, ok := uniqueConstraint(err); ok {
			return errors.ErrConcurrencyConflict.WithDetails(constraint)
		}
		r.logger.Error("Failed to update deposit", "deposit_id", d.ID, "status", d.Status, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update deposit").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return errors.ErrDepositNotFound
	}

	d.UpdatedAt = now
	r.logger.Info("Deposit updated", "deposit_id", d.ID, "status", d.Status)
	return nil
}

func (r *depositRepository) scanDeposit(row rowScanner) (*domain.DepositTransaction, error) {
	var d domain.DepositTransaction
	var amountStr, status, depositType string
	var payload []byte
	var balanceAfter sql.NullString
	var tempNumber, tempName, tempBank string
	var tempExpiry sql.NullTime

	err := row.Scan(
		&d.ID,
		&d.AccountID,
		&d.ProviderReference,
		&d.ProviderTransactionID,
		&d.ProviderCustomerID,
		&d.TransactionID,
		&amountStr,
		&status,
		&d.Channel,
		&depositType,
		&payload,
		&d.BillingEmail,
		&d.BillingName,
		&d.TransactedAt,
		&balanceAfter,
		&tempNumber,
		&tempName,
		&tempBank,
		&tempExpiry,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}
	d.Amount = amount

	if balanceAfter.Valid {
		after, err := decimal.NewFromString(balanceAfter.String)
		if err != nil {
			return nil, err
		}
		d.BalanceAfter = &after
	}

	d.Status = domain.DepositStatus(status)
	if parsed, ok := domain.ParseDepositStatus(status); ok {
		d.Status = parsed
	}
	d.DepositType = domain.DepositType(depositType)
	if len(payload) > 0 {
		d.Payload = payload
	}

	if tempNumber != "" || tempExpiry.Valid {
		d.TempAccount = &domain.TempAccount{
			AccountNumber: tempNumber,
			AccountName:   tempName,
			BankName:      tempBank,
			ExpiresAt:     tempExpiry.Time,
		}
	}
	return &d, nil
}

type tempAccountColumns struct {
	number, name, bank string
	expiresAt          sql.NullTime
}

func tempColumns(t *domain.TempAccount) tempAccountColumns {
	if t == nil {
		return tempAccountColumns{}
	}
	return tempAccountColumns{
		number:    t.AccountNumber,
		name:      t.AccountName,
		bank:      t.BankName,
		expiresAt: sql.NullTime{Time: t.ExpiresAt, Valid: !t.ExpiresAt.IsZero()},
	}
}

func nullDecimal(d *decimal.Decimal) sql.NullString {
	if d == nil {
		return sql.NullString{}
	}
	return nullString(d.String())
}
