package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/paystack"
)

const defaultPreferredBank = "wema-bank"

type ProvisioningService struct {
	store         domain.Store
	provider      PaymentProvider
	preferredBank string
	timeout       time.Duration
	logger        *slog.Logger

	background sync.WaitGroup
}

func NewProvisioningService(
	store domain.Store,
	provider PaymentProvider,
	preferredBank string,
	timeout time.Duration,
	logger *slog.Logger,
) *ProvisioningService {
	if preferredBank == "" {
		preferredBank = defaultPreferredBank
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ProvisioningService{
		store:         store,
		provider:      provider,
		preferredBank: preferredBank,
		timeout:       timeout,
		logger:        logger,
	}
}

// DedicatedAccountResult is either the issued account or InProgress while the processor
// is still assigning one.
type DedicatedAccountResult struct {
	Account    *domain.DedicatedAccount `json:"dedicated_account,omitempty"`
	InProgress bool                     `json:"in_progress"`
}

// ProvisionAsync creates the processor customer and dedicated account for a new
// account. Failures are logged and retried lazily by GetDedicatedAccount.
func (s *ProvisioningService) ProvisionAsync(account *domain.Account) {
	snapshot := *account

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
		defer cancel()

		if _, err := s.provision(ctx, &snapshot); err != nil {
			s.logger.Warn("Background provisioning failed", "account_id", snapshot.ID, "error", err)
		}
	}()
}

// Wait blocks until background provisioning has finished.
func (s *ProvisioningService) Wait() {
	s.background.Wait()
}

// GetDedicatedAccount returns the stored dedicated account, provisioning it first when
// the account has none.
func (s *ProvisioningService) GetDedicatedAccount(ctx context.Context, accountID string) (*DedicatedAccountResult, error) {
	id, err := parseAccountID(accountID)
	if err != nil {
		return nil, err
	}
	account, err := s.store.Account().GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if account.DedicatedAccount.Complete() {
		return &DedicatedAccountResult{Account: account.DedicatedAccount}, nil
	}
	return s.provision(ctx, account)
}

func (s *ProvisioningService) provision(ctx context.Context, account *domain.Account) (*DedicatedAccountResult, error) {
	customerID, err := s.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	issued, err := s.provider.GetOrCreateDedicatedAccount(ctx, customerID, s.preferredBank)
	if err != nil {
		return nil, err
	}
	if issued.InProgress || issued.Account == nil {
		s.logger.Info("Dedicated account assignment in progress", "account_id", account.ID)
		return &DedicatedAccountResult{InProgress: true}, nil
	}

	dva := domain.DedicatedAccount{
		AccountNumber: issued.Account.AccountNumber,
		AccountName:   issued.Account.AccountName,
		BankName:      issued.Account.Bank.Name,
	}
	if err := s.store.Account().UpdateDedicatedAccount(ctx, account.ID, dva); err != nil {
		return nil, err
	}
	account.DedicatedAccount = &dva

	s.logger.Info("Dedicated account provisioned", "account_id", account.ID, "bank", dva.BankName)
	return &DedicatedAccountResult{Account: &dva}, nil
}

// ensureCustomer returns the processor customer id, creating and storing it when missing.
func (s *ProvisioningService) ensureCustomer(ctx context.Context, account *domain.Account) (string, error) {
	if account.ProcessorCustomerID != "" {
		return account.ProcessorCustomerID, nil
	}

	customer, err := s.provider.GetOrCreateCustomer(ctx, paystack.CustomerRequest{
		Email:     account.Email,
		FirstName: account.FirstName,
		LastName:  account.LastName,
		Phone:     account.PhoneNumber,
	})
	if err != nil {
		return "", err
	}
	customerID := customer.IDString()
	if customerID == "" {
		return "", errors.ErrProviderUnavailable.WithDetails("customer without id")
	}

	if err := s.store.Account().UpdateProcessorCustomer(ctx, account.ID, customerID, customer.CustomerCode); err != nil {
		return "", err
	}
	account.ProcessorCustomerID = customerID
	account.ProcessorCustomerCode = customer.CustomerCode

	s.logger.Info("Processor customer linked", "account_id", account.ID, "customer_id", customerID)
	return customerID, nil
}
