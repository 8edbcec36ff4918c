package repository

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
)

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *slog.Logger) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock, slog.New(slog.NewTextHandler(io.Discard, nil))
}

var depositColumnNames = []string{
	"id", "account_id", "provider_reference", "provider_transaction_id", "provider_customer_id",
	"transaction_id", "amount", "status", "channel", "deposit_type", "payload", "billing_email", "billing_name",
	"transacted_at", "balance_after", "temp_account_number", "temp_account_name", "temp_account_bank",
	"temp_account_expires_at", "created_at", "updated_at",
}

func TestAccountRepository_GetAccountNotFound(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM accounts WHERE id = $1")).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	account, err := repo.GetAccount(context.Background(), id)

	assert.Nil(t, account)
	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestAccountRepository_GetAccountForUpdateLocksRow(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)
	id := uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "first_name", "last_name", "username", "email", "phone_number", "balance", "pin_hash",
		"processor_customer_id", "processor_customer_code", "dva_account_number", "dva_account_name", "dva_bank_name",
		"created_at", "updated_at",
	}).AddRow(id.String(), "Ada", "Obi", "ada", "ada@example.com", "08030000000", "1000.00", "",
		"4242", "CUS_x", "9930000001", "Ada Obi", "Wema Bank", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).WithArgs(id).WillReturnRows(rows)

	account, err := repo.GetAccountForUpdate(context.Background(), id)

	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(1000).Equal(account.Balance))
	require.NotNil(t, account.DedicatedAccount)
	assert.Equal(t, "9930000001", account.DedicatedAccount.AccountNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_DuplicateEmail(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO accounts")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key"})

	err := repo.CreateAccount(context.Background(), &domain.Account{ID: uuid.New(), Email: "ada@example.com"})

	assert.ErrorIs(t, err, errors.ErrDuplicateAccount)
}

func TestAccountRepository_UpdateBalanceMissingRow(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE accounts")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateAccountBalance(context.Background(), uuid.New(), decimal.NewFromInt(10))

	assert.ErrorIs(t, err, errors.ErrAccountNotFound)
}

func TestAccountRepository_UpdateProfileDuplicateEmail(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("SET first_name = $1, last_name = $2, username = $3, email = $4")).
		WithArgs("Ada", "Obi", "ada", "taken@example.com", "", sqlmock.AnyArg(), id).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_email_key"})

	err := repo.UpdateProfile(context.Background(), id, domain.Profile{
		FirstName: "Ada",
		LastName:  "Obi",
		Username:  "ada",
		Email:     "taken@example.com",
	})

	assert.ErrorIs(t, err, errors.ErrDuplicateAccount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAccountRepository_ContactsRegistered(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewAccountRepository(db, logger)

	mock.ExpectQuery(regexp.QuoteMeta("LOWER(email) = LOWER($1)")).
		WithArgs("ada@example.com", "08030000000").
		WillReturnRows(sqlmock.NewRows([]string{"email", "phone"}).AddRow(true, false))

	emailTaken, phoneTaken, err := repo.ContactsRegistered(context.Background(), "ada@example.com", "08030000000")

	require.NoError(t, err)
	assert.True(t, emailTaken)
	assert.False(t, phoneTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositRepository_DuplicateReferenceIsConflict(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO deposit_transactions")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "deposit_transactions_reference_key"})

	err := repo.CreateDeposit(context.Background(), &domain.DepositTransaction{
		AccountID:         uuid.New(),
		ProviderReference: "ref-1",
		TransactionID:     "txn-1",
		Amount:            decimal.NewFromInt(500),
		Status:            domain.DepositSuccess,
	})

	assert.True(t, errors.HasCode(err, errors.ConcurrencyConflict))
}

func TestDepositRepository_FindDepositForUpdate(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)
	id, accountID := uuid.New(), uuid.New()
	now := time.Now().UTC()
	expires := now.Add(24 * time.Hour)

	rows := sqlmock.NewRows(depositColumnNames).AddRow(
		id.String(), accountID.String(), "ref-1", "", "", "txn-1", "500.00", "pending", "bank_transfer", "Temp",
		nil, "", "", now, nil, "0123456789", "Ada Obi", "Test Bank", expires, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM deposit_transactions")).
		WithArgs("ref-1", "", "txn-1").
		WillReturnRows(rows)

	deposit, err := repo.FindDepositForUpdate(context.Background(), domain.DepositLookup{
		ProviderReference: "ref-1",
		TransactionID:     "txn-1",
	})

	require.NoError(t, err)
	require.NotNil(t, deposit)
	assert.Equal(t, domain.DepositPending, deposit.Status)
	assert.True(t, decimal.NewFromInt(500).Equal(deposit.Amount))
	assert.Nil(t, deposit.BalanceAfter)
	require.NotNil(t, deposit.TempAccount)
	assert.Equal(t, "0123456789", deposit.TempAccount.AccountNumber)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositRepository_FindDepositForUpdatePrefersReferenceMatch(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)

	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY ($1 <> '' AND provider_reference = $1) DESC, created_at")).
		WithArgs("ref-2", "", "txn-1").
		WillReturnRows(sqlmock.NewRows(depositColumnNames))

	_, err := repo.FindDepositForUpdate(context.Background(), domain.DepositLookup{
		ProviderReference: "ref-2",
		TransactionID:     "txn-1",
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositRepository_FindDepositForUpdateNoMatch(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)

	mock.ExpectQuery(regexp.QuoteMeta("FROM deposit_transactions")).WillReturnRows(sqlmock.NewRows(depositColumnNames))

	deposit, err := repo.FindDepositForUpdate(context.Background(), domain.DepositLookup{ProviderReference: "ref-x"})

	assert.NoError(t, err)
	assert.Nil(t, deposit)
}

func TestDepositRepository_FindDepositForUpdateEmptyLookup(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)

	deposit, err := repo.FindDepositForUpdate(context.Background(), domain.DepositLookup{})

	assert.NoError(t, err)
	assert.Nil(t, deposit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDepositRepository_ExistingReferences(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewDepositRepository(db, logger)

	mock.ExpectQuery(regexp.QuoteMeta("provider_reference = ANY($1)")).
		WillReturnRows(sqlmock.NewRows([]string{"provider_reference"}).AddRow("ref-2"))

	existing, err := repo.ExistingReferences(context.Background(), []string{"ref-1", "ref-2"})

	require.NoError(t, err)
	assert.False(t, existing["ref-1"])
	assert.True(t, existing["ref-2"])
}

func TestSpendRepository_DuplicateTransaction(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewSpendRepository(db, logger)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO spend_records")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "spend_records_account_transaction_key"})

	err := repo.CreateSpendRecord(context.Background(), &domain.SpendRecord{
		AccountID:     uuid.New(),
		TransactionID: "txn-1",
		ProductName:   "Airtime",
		Amount:        decimal.NewFromInt(-100),
		Status:        domain.SpendPending,
	})

	assert.ErrorIs(t, err, errors.ErrDuplicateTransaction)
}

func TestSpendRepository_GetSpendRecordScopedToAccount(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewSpendRepository(db, logger)
	id, accountID := uuid.New(), uuid.New()
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "account_id", "transaction_id", "product_name", "product_type", "amount", "status",
		"metadata", "payload", "transacted_at", "created_at", "updated_at",
	}).AddRow(id.String(), accountID.String(), "txn-1", "Electricity", "prepaid", "-2500.00", "Success",
		[]byte(`{"meter_number":"4512","token":"1234-5678"}`), nil, now, now, now)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE id = $1 AND account_id = $2")).
		WithArgs(id, accountID).
		WillReturnRows(rows)

	record, err := repo.GetSpendRecord(context.Background(), accountID, id)

	require.NoError(t, err)
	assert.Equal(t, domain.SpendSuccess, record.Status)
	assert.Equal(t, "1234-5678", record.Metadata.Token)
	assert.True(t, decimal.NewFromInt(-2500).Equal(record.Amount))
}

func TestSpendRepository_UpdateMissingRecord(t *testing.T) {
	db, mock, logger := newMockDB(t)
	repo := NewSpendRepository(db, logger)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE spend_records")).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateSpendRecord(context.Background(), &domain.SpendRecord{ID: uuid.New(), Status: domain.SpendSuccess})

	assert.ErrorIs(t, err, errors.ErrRecordNotFound)
}
