package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/paystack"
)

func providerTx(id int64, reference string, kobo int64, status string, at time.Time) paystack.Transaction {
	return paystack.Transaction{
		ID:        id,
		Reference: reference,
		Amount:    kobo,
		Status:    status,
		Channel:   "dedicated_nuban",
		PaidAt:    &at,
		CreatedAt: at,
		Customer:  paystack.Customer{ID: 321, CustomerCode: "CUS_abc"},
	}
}

func newSyncFixture(t *testing.T) (*depositFixture, *SyncService, *domain.Account) {
	t.Helper()
	f := newDepositFixture()
	account := f.store.seedAccount("100", "")
	require.NoError(t, f.store.Account().UpdateProcessorCustomer(context.Background(), account.ID, "321", "CUS_abc"))
	return f, NewSyncService(f.store, f.provider, f.service, nil, testLogger()), account
}

func TestSyncAccount_CreditsUnknownSuccessfulTransactions(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	now := time.Now().UTC()
	f.provider.history = []paystack.Transaction{
		providerTx(1, "ref-a", 10000, "success", now.Add(-2*time.Hour)),
		providerTx(2, "ref-b", 2550, "success", now.Add(-time.Hour)),
		providerTx(3, "ref-c", 99900, "abandoned", now.Add(-time.Hour)),
		providerTx(1, "ref-a", 10000, "success", now.Add(-2*time.Hour)),
	}

	result, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)

	require.Len(t, result.Credited, 2)
	assert.Equal(t, "ref-a", result.Credited[0].ProviderReference)
	assert.Equal(t, "ref-b", result.Credited[1].ProviderReference)
	assert.Equal(t, domain.DepositTypeDVA, result.Credited[0].DepositType)
	assert.True(t, dec("225.50").Equal(result.Balance))
	assert.True(t, dec("225.50").Equal(f.store.balance(account.ID)))
}

func TestSyncAccount_SecondRunCreditsNothing(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	now := time.Now().UTC()
	f.provider.history = []paystack.Transaction{
		providerTx(1, "ref-a", 10000, "success", now.Add(-time.Hour)),
	}

	first, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	require.Len(t, first.Credited, 1)

	second, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Empty(t, second.Credited)
	assert.True(t, first.Balance.Equal(second.Balance))
	assert.True(t, dec("200").Equal(f.store.balance(account.ID)))

	require.Len(t, f.provider.listSince, 2)
	assert.True(t, f.provider.listSince[0].IsZero())
	assert.False(t, f.provider.listSince[1].IsZero(), "second run is bounded by the latest local deposit")
}

func TestSyncAccount_SkipsReferencesAlreadyReconciled(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	f.provider.settle("ref-a", 1, 10000, "success")
	_, err := f.service.ReconcileDeposit(context.Background(), DepositRequest{
		Reference: "ref-a",
		AccountID: account.ID.String(),
	})
	require.NoError(t, err)

	f.provider.history = []paystack.Transaction{providerTx(1, "ref-a", 10000, "success", time.Now().UTC())}

	result, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Empty(t, result.Credited)
	assert.True(t, dec("200").Equal(f.store.balance(account.ID)))
}

func TestSyncAccount_WithoutCustomerReturnsBalance(t *testing.T) {
	f := newDepositFixture()
	account := f.store.seedAccount("42", "")
	syncer := NewSyncService(f.store, f.provider, f.service, nil, testLogger())

	result, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Empty(t, result.Credited)
	assert.True(t, dec("42").Equal(result.Balance))
	assert.Empty(t, f.provider.listSince)
}

func TestSyncAccount_ProviderErrorKeepsPartialCredits(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	f.provider.history = []paystack.Transaction{
		providerTx(1, "ref-a", 5000, "success", time.Now().UTC()),
	}
	f.provider.listErr = errors.ErrProviderUnavailable.WithDetails("page 2: timeout")

	result, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	require.Len(t, result.Credited, 1)
	assert.True(t, dec("150").Equal(result.Balance))

	f.provider.history = nil
	result, err = syncer.SyncAccount(context.Background(), account.ID.String())
	require.NoError(t, err)
	assert.Empty(t, result.Credited)
	assert.True(t, dec("150").Equal(result.Balance))
}

func TestSyncAccount_ConcurrentRunsCreditOnce(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	now := time.Now().UTC()
	f.provider.history = []paystack.Transaction{
		providerTx(1, "ref-a", 10000, "success", now.Add(-time.Hour)),
		providerTx(2, "ref-b", 10000, "success", now),
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := syncer.SyncAccount(context.Background(), account.ID.String())
			assert.NoError(t, err)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		f.provider.settle("ref-a", 1, 10000, "success")
		_, err := f.service.ReconcileDeposit(context.Background(), DepositRequest{
			Reference: "ref-a",
			AccountID: account.ID.String(),
		})
		assert.NoError(t, err)
	}()
	wg.Wait()

	assert.True(t, dec("300").Equal(f.store.balance(account.ID)))
	assert.Len(t, f.store.depositsFor(account.ID), 2)
}

func TestSyncAccount_PersistenceFailureIsReturned(t *testing.T) {
	f, syncer, account := newSyncFixture(t)
	f.provider.history = []paystack.Transaction{
		providerTx(1, "ref-a", 5000, "success", time.Now().UTC()),
	}
	f.store.failOn("UpdateAccountBalance", 0, errors.NewAppError(errors.InternalError, "failed to update account"))

	_, err := syncer.SyncAccount(context.Background(), account.ID.String())
	require.Error(t, err)
	assert.Equal(t, errors.PersistenceFailure, errors.AsAppError(err).Code)
	assert.Empty(t, f.store.depositsFor(account.ID))
	assert.True(t, dec("100").Equal(f.store.balance(account.ID)))
}
