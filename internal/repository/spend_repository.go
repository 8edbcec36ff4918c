package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

const spendColumns = `id, account_id, transaction_id, product_name, product_type, amount, status,
		metadata, payload, transacted_at, created_at, updated_at`

type spendRepository struct {
	db     SQLExecutor
	logger *slog.Logger
}

func NewSpendRepository(db SQLExecutor, logger *slog.Logger) domain.SpendRepository {
	return &spendRepository{
		db:     db,
		logger: logger,
	}
}

func (r *spendRepository) CreateSpendRecord(ctx context.Context, record *domain.SpendRecord) error {
	query := `
		INSERT INTO spend_records
		(id, account_id, transaction_id, product_name, product_type, amount, status, metadata, payload,
		 transacted_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode metadata").WithDetails(err.Error())
	}

	now := time.Now().UTC()
	if record.TransactedAt.IsZero() {
		record.TransactedAt = now
	}

	_, err = r.db.ExecContext(ctx,
		query,
		record.ID,
		record.AccountID,
		record.TransactionID,
		record.ProductName,
		record.ProductType,
		record.Amount.String(),
		string(record.Status),
		metadata,
		nullBytes(record.Payload),
		record.TransactedAt,
		now,
		now,
	)

	if err != nil {
		if _, ok := uniqueConstraint(err); ok {
			r.logger.Warn("Duplicate spend record", "account_id", record.AccountID, "transaction_id", record.TransactionID)
			return errors.ErrDuplicateTransaction
		}
		r.logger.Error("Failed to create spend record",
			"account_id", record.AccountID,
			"transaction_id", record.TransactionID,
			"error", err)
		return errors.NewAppError(errors.InternalError, "failed to create spend record").WithDetails(err.Error())
	}

	record.CreatedAt = now
	record.UpdatedAt = now
	r.logger.Info("Spend record created",
		"record_id", record.ID,
		"product", record.ProductName,
		"amount", record.Amount,
		"status", record.Status)
	return nil
}

func (r *spendRepository) GetSpendRecord(ctx context.Context, accountID, id uuid.UUID) (*domain.SpendRecord, error) {
	query := `SELECT ` + spendColumns + ` FROM spend_records WHERE id = $1 AND account_id = $2`

	return r.getOne(r.db.QueryRowContext(ctx, query, id, accountID), id)
}

func (r *spendRepository) GetSpendRecordForUpdate(ctx context.Context, id uuid.UUID) (*domain.SpendRecord, error) {
	query := `SELECT ` + spendColumns + ` FROM spend_records WHERE id = $1 FOR UPDATE`

	return r.getOne(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *spendRepository) getOne(row rowScanner, id uuid.UUID) (*domain.SpendRecord, error) {
	record, err := scanSpendRecord(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrRecordNotFound
	}
	if err != nil {
		r.logger.Error("Failed to get spend record", "record_id", id, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to get spend record").WithDetails(err.Error())
	}
	return record, nil
}

func (r *spendRepository) ListSpendRecords(ctx context.Context, accountID uuid.UUID) ([]*domain.SpendRecord, error) {
	query := `SELECT ` + spendColumns + ` FROM spend_records
		WHERE account_id = $1
		ORDER BY transacted_at DESC`

	rows, err := r.db.QueryContext(ctx, query, accountID)
	if err != nil {
		r.logger.Error("Failed to list spend records", "account_id", accountID, "error", err)
		return nil, errors.NewAppError(errors.InternalError, "failed to list spend records").WithDetails(err.Error())
	}
	defer rows.Close()

	records := []*domain.SpendRecord{}
	for rows.Next() {
		record, err := scanSpendRecord(rows)
		if err != nil {
			return nil, errors.NewAppError(errors.InternalError, "failed to scan spend record").WithDetails(err.Error())
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewAppError(errors.InternalError, "failed to read spend records").WithDetails(err.Error())
	}
	return records, nil
}

func (r *spendRepository) UpdateSpendRecord(ctx context.Context, record *domain.SpendRecord) error {
	query := `
		UPDATE spend_records
		SET status = $1, metadata = $2, payload = $3, updated_at = $4
		WHERE id = $5
	`

	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to encode metadata").WithDetails(err.Error())
	}

	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, string(record.Status), metadata, nullBytes(record.Payload), now, record.ID)
	if err != nil {
		r.logger.Error("Failed to update spend record", "record_id", record.ID, "error", err)
		return errors.NewAppError(errors.InternalError, "failed to update spend record").WithDetails(err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return errors.NewAppError(errors.InternalError, "failed to get rows affected").WithDetails(err.Error())
	}
	if rowsAffected == 0 {
		return errors.ErrRecordNotFound
	}

	record.UpdatedAt = now
	r.logger.Info("Spend record updated", "record_id", record.ID, "status", record.Status)
	return nil
}

func scanSpendRecord(row rowScanner) (*domain.SpendRecord, error) {
	var record domain.SpendRecord
	var amountStr, status string
	var metadata, payload []byte

	err := row.Scan(
		&record.ID,
		&record.AccountID,
		&record.TransactionID,
		&record.ProductName,
		&record.ProductType,
		&amountStr,
		&status,
		&metadata,
		&payload,
		&record.TransactedAt,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return nil, err
	}
	record.Amount = amount
	record.Status = domain.SpendStatus(status)

	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &record.Metadata); err != nil {
			return nil, err
		}
	}
	if len(payload) > 0 {
		record.Payload = payload
	}
	return &record, nil
}
