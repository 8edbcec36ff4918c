package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/paystack"
	"billpay-wallet/internal/vendor"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memData is the state behind memStore. Every access happens under memStore.mu.
type memData struct {
	accounts map[uuid.UUID]*domain.Account
	deposits map[uuid.UUID]*domain.DepositTransaction
	spends   map[uuid.UUID]*domain.SpendRecord
}

func (d *memData) clone() *memData {
	c := &memData{
		accounts: make(map[uuid.UUID]*domain.Account, len(d.accounts)),
		deposits: make(map[uuid.UUID]*domain.DepositTransaction, len(d.deposits)),
		spends:   make(map[uuid.UUID]*domain.SpendRecord, len(d.spends)),
	}
	for k, v := range d.accounts {
		c.accounts[k] = copyAccount(v)
	}
	for k, v := range d.deposits {
		c.deposits[k] = copyDeposit(v)
	}
	for k, v := range d.spends {
		c.spends[k] = copySpend(v)
	}
	return c
}

type injection struct {
	skip  int
	times int
	err   error
}

// memStore is an in-memory domain.Store. A transaction holds the store mutex until it
// ends, which serializes writers the way row locks do, and restores a snapshot when
// the callback or the injected commit fails.
type memStore struct {
	mu   *sync.Mutex
	data **memData
	inj  *map[string]*injection
	inTx bool
}

func newMemStore() *memStore {
	data := &memData{
		accounts: map[uuid.UUID]*domain.Account{},
		deposits: map[uuid.UUID]*domain.DepositTransaction{},
		spends:   map[uuid.UUID]*domain.SpendRecord{},
	}
	inj := map[string]*injection{}
	return &memStore{mu: &sync.Mutex{}, data: &data, inj: &inj}
}

// failOn makes the call to method after skip successful calls return err. "Commit"
// fails the next transaction commit.
func (s *memStore) failOn(method string, skip int, err error) {
	s.failTimes(method, skip, 1, err)
}

// failTimes is failOn for the next times calls after skip. A negative times fails
// every call.
func (s *memStore) failTimes(method string, skip, times int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	(*s.inj)[method] = &injection{skip: skip, times: times, err: err}
}

func (s *memStore) check(method string) error {
	in, ok := (*s.inj)[method]
	if !ok {
		return nil
	}
	if in.skip > 0 {
		in.skip--
		return nil
	}
	if in.times > 0 {
		in.times--
		if in.times == 0 {
			delete(*s.inj, method)
		}
	}
	return in.err
}

func (s *memStore) locked(fn func(d *memData) error) error {
	if !s.inTx {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	return fn(*s.data)
}

func (s *memStore) Account() domain.AccountRepository { return memAccounts{s} }
func (s *memStore) Deposit() domain.DepositRepository { return memDeposits{s} }
func (s *memStore) Spend() domain.SpendRepository     { return memSpends{s} }

func (s *memStore) WithTransaction(ctx context.Context, fn func(domain.Store) error) error {
	if s.inTx {
		return errors.ErrCannotBeginTransaction
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := (*s.data).clone()
	tx := &memStore{mu: s.mu, data: s.data, inj: s.inj, inTx: true}
	if err := fn(tx); err != nil {
		*s.data = snapshot
		return err
	}
	if err := s.check("Commit"); err != nil {
		*s.data = snapshot
		return err
	}
	return nil
}

// seedAccount stores an account with balance and optional pin.
func (s *memStore) seedAccount(balance string, pin string) *domain.Account {
	account := &domain.Account{
		ID:          uuid.New(),
		FirstName:   "Ada",
		LastName:    "Obi",
		Username:    "ada" + uuid.NewString()[:8],
		Email:       uuid.NewString()[:8] + "@example.com",
		PhoneNumber: "08031234567",
		Balance:     decimal.RequireFromString(balance),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if pin != "" {
		hash, err := hashPIN(pin)
		if err != nil {
			panic(err)
		}
		account.PINHash = hash
	}
	s.mu.Lock()
	(*s.data).accounts[account.ID] = copyAccount(account)
	s.mu.Unlock()
	return account
}

func (s *memStore) seedDeposit(deposit *domain.DepositTransaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if deposit.ID == uuid.Nil {
		deposit.ID = uuid.New()
	}
	if deposit.CreatedAt.IsZero() {
		deposit.CreatedAt = time.Now().UTC()
	}
	(*s.data).deposits[deposit.ID] = copyDeposit(deposit)
}

func (s *memStore) balance(id uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return (*s.data).accounts[id].Balance
}

func (s *memStore) spendRecords(accountID uuid.UUID) []*domain.SpendRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.SpendRecord
	for _, r := range (*s.data).spends {
		if r.AccountID == accountID {
			out = append(out, copySpend(r))
		}
	}
	return out
}

func (s *memStore) depositsFor(accountID uuid.UUID) []*domain.DepositTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.DepositTransaction
	for _, d := range (*s.data).deposits {
		if d.AccountID == accountID {
			out = append(out, copyDeposit(d))
		}
	}
	return out
}

type memAccounts struct{ s *memStore }

func (r memAccounts) CreateAccount(ctx context.Context, account *domain.Account) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("CreateAccount"); err != nil {
			return err
		}
		for _, a := range d.accounts {
			if strings.EqualFold(a.Email, account.Email) || strings.EqualFold(a.Username, account.Username) {
				return errors.ErrDuplicateAccount
			}
		}
		now := time.Now().UTC()
		account.CreatedAt, account.UpdatedAt = now, now
		d.accounts[account.ID] = copyAccount(account)
		return nil
	})
}

func (r memAccounts) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	var out *domain.Account
	err := r.s.locked(func(d *memData) error {
		if err := r.s.check("GetAccount"); err != nil {
			return err
		}
		a, ok := d.accounts[id]
		if !ok {
			return errors.ErrAccountNotFound
		}
		out = copyAccount(a)
		return nil
	})
	return out, err
}

func (r memAccounts) GetAccountForUpdate(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	if err := r.s.locked(func(*memData) error { return r.s.check("GetAccountForUpdate") }); err != nil {
		return nil, err
	}
	return r.GetAccount(ctx, id)
}

func (r memAccounts) GetAccountByProcessorCustomer(ctx context.Context, customerID string) (*domain.Account, error) {
	var out *domain.Account
	err := r.s.locked(func(d *memData) error {
		for _, a := range d.accounts {
			if a.ProcessorCustomerID == customerID || a.ProcessorCustomerCode == customerID {
				out = copyAccount(a)
				return nil
			}
		}
		return errors.ErrAccountNotFound
	})
	return out, err
}

func (r memAccounts) update(id uuid.UUID, method string, fn func(a *domain.Account)) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check(method); err != nil {
			return err
		}
		a, ok := d.accounts[id]
		if !ok {
			return errors.ErrAccountNotFound
		}
		fn(a)
		a.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r memAccounts) UpdateAccountBalance(ctx context.Context, id uuid.UUID, newBalance decimal.Decimal) error {
	return r.update(id, "UpdateAccountBalance", func(a *domain.Account) { a.Balance = newBalance })
}

func (r memAccounts) UpdatePINHash(ctx context.Context, id uuid.UUID, pinHash string) error {
	return r.update(id, "UpdatePINHash", func(a *domain.Account) { a.PINHash = pinHash })
}

func (r memAccounts) UpdateProfile(ctx context.Context, id uuid.UUID, profile domain.Profile) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("UpdateProfile"); err != nil {
			return err
		}
		account, ok := d.accounts[id]
		if !ok {
			return errors.ErrAccountNotFound
		}
		for otherID, a := range d.accounts {
			if otherID != id && (strings.EqualFold(a.Email, profile.Email) || strings.EqualFold(a.Username, profile.Username)) {
				return errors.ErrDuplicateAccount
			}
		}
		account.SetProfile(profile)
		account.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func (r memAccounts) ContactsRegistered(ctx context.Context, email, phoneNumber string) (bool, bool, error) {
	var emailTaken, phoneTaken bool
	err := r.s.locked(func(d *memData) error {
		if err := r.s.check("ContactsRegistered"); err != nil {
			return err
		}
		for _, a := range d.accounts {
			emailTaken = emailTaken || (email != "" && strings.EqualFold(a.Email, email))
			phoneTaken = phoneTaken || (phoneNumber != "" && a.PhoneNumber == phoneNumber)
		}
		return nil
	})
	return emailTaken, phoneTaken, err
}

func (r memAccounts) UpdateProcessorCustomer(ctx context.Context, id uuid.UUID, customerID, customerCode string) error {
	return r.update(id, "UpdateProcessorCustomer", func(a *domain.Account) {
		a.ProcessorCustomerID = customerID
		a.ProcessorCustomerCode = customerCode
	})
}

func (r memAccounts) UpdateDedicatedAccount(ctx context.Context, id uuid.UUID, dva domain.DedicatedAccount) error {
	return r.update(id, "UpdateDedicatedAccount", func(a *domain.Account) { a.DedicatedAccount = &dva })
}

type memDeposits struct{ s *memStore }

func (r memDeposits) conflicts(d *memData, deposit *domain.DepositTransaction) bool {
	for _, other := range d.deposits {
		if other.ID == deposit.ID {
			continue
		}
		if other.ProviderReference == deposit.ProviderReference ||
			other.TransactionID == deposit.TransactionID ||
			(deposit.ProviderTransactionID != "" && other.ProviderTransactionID == deposit.ProviderTransactionID) {
			return true
		}
	}
	return false
}

func (r memDeposits) CreateDeposit(ctx context.Context, deposit *domain.DepositTransaction) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("CreateDeposit"); err != nil {
			return err
		}
		if r.conflicts(d, deposit) {
			return errors.ErrConcurrencyConflict.WithDetails("deposit_transactions unique key")
		}
		now := time.Now().UTC()
		deposit.CreatedAt, deposit.UpdatedAt = now, now
		d.deposits[deposit.ID] = copyDeposit(deposit)
		return nil
	})
}

func (r memDeposits) FindDepositForUpdate(ctx context.Context, lookup domain.DepositLookup) (*domain.DepositTransaction, error) {
	if lookup.Empty() {
		return nil, nil
	}
	var out *domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		if err := r.s.check("FindDepositForUpdate"); err != nil {
			return err
		}
		deposits := sortedDeposits(d)
		if lookup.ProviderReference != "" {
			for _, dep := range deposits {
				if dep.ProviderReference == lookup.ProviderReference {
					out = copyDeposit(dep)
					return nil
				}
			}
		}
		for _, dep := range deposits {
			if (lookup.ProviderReference != "" && dep.ProviderReference == lookup.ProviderReference) ||
				(lookup.ProviderTransactionID != "" && dep.ProviderTransactionID == lookup.ProviderTransactionID) ||
				(lookup.TransactionID != "" && dep.TransactionID == lookup.TransactionID) {
				out = copyDeposit(dep)
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) GetDepositByID(ctx context.Context, id uuid.UUID) (*domain.DepositTransaction, error) {
	var out *domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		dep, ok := d.deposits[id]
		if !ok {
			return errors.ErrDepositNotFound
		}
		out = copyDeposit(dep)
		return nil
	})
	return out, err
}

func (r memDeposits) LatestDeposit(ctx context.Context, accountID uuid.UUID) (*domain.DepositTransaction, error) {
	var out *domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		for _, dep := range sortedDeposits(d) {
			if dep.AccountID == accountID {
				out = copyDeposit(dep)
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) LatestPendingTempDeposit(ctx context.Context, accountID uuid.UUID, now time.Time) (*domain.DepositTransaction, error) {
	var out *domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		for _, dep := range sortedDeposits(d) {
			if dep.AccountID == accountID && dep.DepositType == domain.DepositTypeTemp &&
				dep.Status == domain.DepositPending && dep.TempAccount != nil && dep.TempAccount.ExpiresAt.After(now) {
				out = copyDeposit(dep)
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) ExistingReferences(ctx context.Context, references []string) (map[string]bool, error) {
	out := make(map[string]bool)
	err := r.s.locked(func(d *memData) error {
		if err := r.s.check("ExistingReferences"); err != nil {
			return err
		}
		for _, ref := range references {
			for _, dep := range d.deposits {
				if dep.ProviderReference == ref {
					out[ref] = true
				}
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) ListDeposits(ctx context.Context, accountID uuid.UUID) ([]*domain.DepositTransaction, error) {
	var out []*domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		for _, dep := range sortedDeposits(d) {
			if dep.AccountID == accountID {
				out = append([]*domain.DepositTransaction{copyDeposit(dep)}, out...)
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) ListPendingDeposits(ctx context.Context, olderThan time.Time, limit int) ([]*domain.DepositTransaction, error) {
	var out []*domain.DepositTransaction
	err := r.s.locked(func(d *memData) error {
		for _, dep := range sortedDeposits(d) {
			if dep.Status == domain.DepositPending && dep.CreatedAt.Before(olderThan) && len(out) < limit {
				out = append(out, copyDeposit(dep))
			}
		}
		return nil
	})
	return out, err
}

func (r memDeposits) UpdateDeposit(ctx context.Context, deposit *domain.DepositTransaction) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("UpdateDeposit"); err != nil {
			return err
		}
		existing, ok := d.deposits[deposit.ID]
		if !ok {
			return errors.ErrDepositNotFound
		}
		if r.conflicts(d, deposit) {
			return errors.ErrConcurrencyConflict.WithDetails("deposit_transactions unique key")
		}
		deposit.CreatedAt = existing.CreatedAt
		deposit.UpdatedAt = time.Now().UTC()
		d.deposits[deposit.ID] = copyDeposit(deposit)
		return nil
	})
}

type memSpends struct{ s *memStore }

func (r memSpends) CreateSpendRecord(ctx context.Context, record *domain.SpendRecord) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("CreateSpendRecord"); err != nil {
			return err
		}
		for _, other := range d.spends {
			if other.AccountID == record.AccountID && other.TransactionID == record.TransactionID {
				return errors.ErrDuplicateTransaction
			}
		}
		now := time.Now().UTC()
		record.CreatedAt, record.UpdatedAt = now, now
		d.spends[record.ID] = copySpend(record)
		return nil
	})
}

func (r memSpends) GetSpendRecord(ctx context.Context, accountID, id uuid.UUID) (*domain.SpendRecord, error) {
	var out *domain.SpendRecord
	err := r.s.locked(func(d *memData) error {
		rec, ok := d.spends[id]
		if !ok || rec.AccountID != accountID {
			return errors.ErrRecordNotFound
		}
		out = copySpend(rec)
		return nil
	})
	return out, err
}

func (r memSpends) GetSpendRecordForUpdate(ctx context.Context, id uuid.UUID) (*domain.SpendRecord, error) {
	var out *domain.SpendRecord
	err := r.s.locked(func(d *memData) error {
		if err := r.s.check("GetSpendRecordForUpdate"); err != nil {
			return err
		}
		rec, ok := d.spends[id]
		if !ok {
			return errors.ErrRecordNotFound
		}
		out = copySpend(rec)
		return nil
	})
	return out, err
}

func (r memSpends) ListSpendRecords(ctx context.Context, accountID uuid.UUID) ([]*domain.SpendRecord, error) {
	var out []*domain.SpendRecord
	err := r.s.locked(func(d *memData) error {
		for _, rec := range d.spends {
			if rec.AccountID == accountID {
				out = append(out, copySpend(rec))
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].TransactedAt.After(out[j].TransactedAt) })
		return nil
	})
	return out, err
}

func (r memSpends) UpdateSpendRecord(ctx context.Context, record *domain.SpendRecord) error {
	return r.s.locked(func(d *memData) error {
		if err := r.s.check("UpdateSpendRecord"); err != nil {
			return err
		}
		existing, ok := d.spends[record.ID]
		if !ok {
			return errors.ErrRecordNotFound
		}
		existing.Status = record.Status
		existing.Metadata = record.Metadata
		existing.Payload = record.Payload
		existing.UpdatedAt = time.Now().UTC()
		return nil
	})
}

func sortedDeposits(d *memData) []*domain.DepositTransaction {
	out := make([]*domain.DepositTransaction, 0, len(d.deposits))
	for _, dep := range d.deposits {
		out = append(out, dep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func copyAccount(a *domain.Account) *domain.Account {
	c := *a
	if a.DedicatedAccount != nil {
		dva := *a.DedicatedAccount
		c.DedicatedAccount = &dva
	}
	return &c
}

func copyDeposit(d *domain.DepositTransaction) *domain.DepositTransaction {
	c := *d
	if d.BalanceAfter != nil {
		b := *d.BalanceAfter
		c.BalanceAfter = &b
	}
	if d.TempAccount != nil {
		t := *d.TempAccount
		c.TempAccount = &t
	}
	c.Payload = append([]byte(nil), d.Payload...)
	return &c
}

func copySpend(r *domain.SpendRecord) *domain.SpendRecord {
	c := *r
	c.Payload = append([]byte(nil), r.Payload...)
	return &c
}

// fakeProvider is a scripted PaymentProvider.
type fakeProvider struct {
	mu sync.Mutex

	verified  map[string]*paystack.Transaction
	verifyErr error
	verifies  int

	history   []paystack.Transaction
	listErr   error
	listSince []time.Time

	customer    *paystack.Customer
	customerErr error
	customers   int

	dva    *paystack.DedicatedAccountResult
	dvaErr error

	charge      *paystack.Charge
	chargeErr   error
	chargeCalls []paystack.ChargeRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{verified: map[string]*paystack.Transaction{}}
}

func (p *fakeProvider) settle(reference string, id int64, kobo int64, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	paidAt := time.Now().UTC()
	p.verified[reference] = &paystack.Transaction{
		ID:        id,
		Reference: reference,
		Amount:    kobo,
		Currency:  "NGN",
		Status:    status,
		Channel:   "dedicated_nuban",
		PaidAt:    &paidAt,
		Raw:       []byte(`{"reference":"` + reference + `"}`),
	}
}

func (p *fakeProvider) verifyCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verifies
}

func (p *fakeProvider) VerifyTransaction(ctx context.Context, reference string) (*paystack.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verifies++
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	t, ok := p.verified[reference]
	if !ok {
		return nil, errors.ErrProviderDeclined.WithDetails("Transaction reference not found")
	}
	c := *t
	return &c, nil
}

func (p *fakeProvider) ListTransactions(ctx context.Context, customerID string, since time.Time) ([]paystack.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listSince = append(p.listSince, since)
	out := append([]paystack.Transaction(nil), p.history...)
	return out, p.listErr
}

func (p *fakeProvider) GetOrCreateCustomer(ctx context.Context, req paystack.CustomerRequest) (*paystack.Customer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	if p.customerErr != nil {
		return nil, p.customerErr
	}
	c := *p.customer
	c.Email = req.Email
	return &c, nil
}

func (p *fakeProvider) GetOrCreateDedicatedAccount(ctx context.Context, customerID, preferredBank string) (*paystack.DedicatedAccountResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.dvaErr != nil {
		return nil, p.dvaErr
	}
	return p.dva, nil
}

func (p *fakeProvider) InitiateCharge(ctx context.Context, req paystack.ChargeRequest) (*paystack.Charge, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chargeCalls = append(p.chargeCalls, req)
	if p.chargeErr != nil {
		return nil, p.chargeErr
	}
	c := *p.charge
	if c.Reference == "" {
		c.Reference = req.Reference
	}
	return &c, nil
}

type vendorCall struct {
	kind   vendor.Kind
	fields map[string]string
}

// fakeVendor answers orders with respond and records every call.
type fakeVendor struct {
	mu      sync.Mutex
	calls   []vendorCall
	respond func(ctx context.Context, call vendorCall, n int) (*vendor.Result, error)
}

func (v *fakeVendor) Charge(ctx context.Context, kind vendor.Kind, fields map[string]string) (*vendor.Result, error) {
	v.mu.Lock()
	call := vendorCall{kind: kind, fields: fields}
	v.calls = append(v.calls, call)
	n := len(v.calls)
	v.mu.Unlock()
	return v.respond(ctx, call, n)
}

func (v *fakeVendor) callCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.calls)
}

func vendorSuccess(token string) func(context.Context, vendorCall, int) (*vendor.Result, error) {
	return func(context.Context, vendorCall, int) (*vendor.Result, error) {
		return &vendor.Result{Status: "success", Message: "Order placed", Token: token, Payload: []byte(`{"status":"success"}`)}, nil
	}
}

func vendorDecline(message string) func(context.Context, vendorCall, int) (*vendor.Result, error) {
	return func(context.Context, vendorCall, int) (*vendor.Result, error) {
		return &vendor.Result{Status: "error", Message: message, Payload: []byte(`{"status":"error"}`)}, nil
	}
}

type fakeLimiter struct {
	allowed bool
	err     error
}

func (l fakeLimiter) Allow(context.Context, string) (bool, time.Duration, error) {
	return l.allowed, time.Minute, l.err
}

// recordingPublisher keeps published routing keys.
type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(ctx context.Context, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, routingKey)
	return nil
}

func (p *recordingPublisher) Close() {}

func (p *recordingPublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}
