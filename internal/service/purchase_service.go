package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"billpay-wallet/internal/domain"
	"billpay-wallet/internal/errors"
	"billpay-wallet/internal/events"
	"billpay-wallet/internal/metrics"
	"billpay-wallet/internal/ratelimit"
	"billpay-wallet/internal/vendor"
)

// Fail code suffixes returned to clients.
const (
	codeFailedRecorded    = "01"
	codeFailedNotRecorded = "02"
	codeInsufficient      = "03"
	codeBadPIN            = "04"
	codeVendorUnreachable = "05"
	codePending           = "06"
	codeDebitFailed       = "08"
)

type PurchaseState string

const (
	PurchaseComplete PurchaseState = "Complete"
	PurchasePending  PurchaseState = "Pending"
	PurchaseFailed   PurchaseState = "Failed"
	// PurchaseSucceeded means the vendor delivered but the record could not be updated.
	PurchaseSucceeded PurchaseState = "Success"
)

type PurchaseConfig struct {
	PendingAfter  time.Duration
	VendorTimeout time.Duration
	// SettleWindow is how long a background settlement keeps retrying.
	SettleWindow time.Duration
}

type PurchaseService struct {
	store     domain.Store
	vendor    Vendor
	limiter   ratelimit.Limiter
	publisher events.Publisher
	metrics   *metrics.Metrics
	config    PurchaseConfig
	logger    *slog.Logger

	background sync.WaitGroup
}

func NewPurchaseService(
	store domain.Store,
	v Vendor,
	limiter ratelimit.Limiter,
	publisher events.Publisher,
	m *metrics.Metrics,
	config PurchaseConfig,
	logger *slog.Logger,
) *PurchaseService {
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if config.PendingAfter <= 0 {
		config.PendingAfter = 60 * time.Second
	}
	if config.VendorTimeout <= 0 {
		config.VendorTimeout = 90 * time.Second
	}
	if config.SettleWindow <= 0 {
		config.SettleWindow = 10 * time.Minute
	}
	return &PurchaseService{
		store:     store,
		vendor:    v,
		limiter:   limiter,
		publisher: publisher,
		metrics:   m,
		config:    config,
		logger:    logger,
	}
}

type PurchaseRequest struct {
	AccountID     string
	TransactionID string
	PIN           string
	Product       string
	Amount        decimal.Decimal

	Network     string
	PhoneNumber string

	PlanID   string
	PlanName string

	TVProvider      string
	SmartCardNumber string
	PlanCode        string
	CustomerName    string

	DistributorID string
	MeterNumber   string
	MeterType     string
}

type PurchaseResult struct {
	Status   bool                `json:"status"`
	FailCode string              `json:"failCode,omitempty"`
	Purchase PurchaseState       `json:"purchase"`
	Message  string              `json:"message"`
	Account  *domain.Account     `json:"account,omitempty"`
	Record   *domain.SpendRecord `json:"record,omitempty"`
}

// vendorOutcome is what the vendor call produced. err set means the vendor was unreachable.
type vendorOutcome struct {
	result *vendor.Result
	err    error
}

func (o vendorOutcome) succeeded() bool {
	return o.err == nil && o.result != nil && o.result.Succeeded()
}

// terminalStatus is the record status for a failed outcome.
func (o vendorOutcome) terminalStatus() domain.SpendStatus {
	if o.err != nil {
		return domain.SpendError
	}
	return domain.SpendFailed
}

// attempt is one purchase after its debit committed. settled is set by whichever
// path finalizes it first.
type attempt struct {
	product   *product
	req       *PurchaseRequest
	accountID uuid.UUID
	amount    decimal.Decimal
	recordID  uuid.UUID
	settled   atomic.Bool
}

// Purchase debits the account, orders from the vendor and settles the attempt. If the
// vendor has not answered within PendingAfter the caller gets a pending result and the
// attempt settles in the background.
func (s *PurchaseService) Purchase(ctx context.Context, req *PurchaseRequest) (*PurchaseResult, error) {
	p, err := lookupProduct(req.Product)
	if err != nil {
		return nil, err
	}
	accountID, err := s.validate(p, req)
	if err != nil {
		return nil, err
	}

	s.logger.Info("Processing purchase",
		"account_id", accountID,
		"product", p.code,
		"transaction_id", req.TransactionID,
		"amount", req.Amount)

	allowed, retryAfter, err := s.limiter.Allow(ctx, accountID.String())
	if err != nil {
		s.logger.Warn("Rate limiter unavailable, allowing purchase", "account_id", accountID, "error", err)
	} else if !allowed {
		s.metrics.Purchase(string(p.code), "rate_limited")
		return nil, errors.ErrRateLimited.WithDetails(fmt.Sprintf("retry after %s", retryAfter))
	}

	account, err := s.store.Account().GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(req.Amount) {
		return s.insufficientBalance(p, account), nil
	}
	if !pinMatches(account.PINHash, req.PIN) {
		s.metrics.Purchase(string(p.code), "bad_pin")
		return &PurchaseResult{
			FailCode: p.failCode(codeBadPIN),
			Purchase: PurchaseFailed,
			Message:  p.name + " purchase failed, incorrect PIN",
		}, nil
	}

	a := &attempt{product: p, req: req, accountID: accountID, amount: req.Amount}
	account, record, err := s.debit(ctx, a)
	switch {
	case errors.HasCode(err, errors.InsufficientBalance):
		current, getErr := s.store.Account().GetAccount(ctx, accountID)
		if getErr != nil {
			return nil, getErr
		}
		return s.insufficientBalance(p, current), nil
	case errors.HasCode(err, errors.DuplicateTransaction), errors.HasCode(err, errors.AccountNotFound):
		return nil, err
	case err != nil:
		s.logger.Error("Purchase debit failed", "account_id", accountID, "product", p.code, "error", err)
		s.metrics.Purchase(string(p.code), "debit_failed")
		return &PurchaseResult{
			FailCode: p.failCode(codeDebitFailed),
			Purchase: PurchaseFailed,
			Message:  p.name + " purchase failed, something went wrong",
		}, nil
	}
	a.recordID = record.ID

	results := make(chan vendorOutcome, 1)
	go func() {
		vendorCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.VendorTimeout)
		defer cancel()
		results <- s.callVendor(vendorCtx, a)
	}()

	timer := time.NewTimer(s.config.PendingAfter)
	defer timer.Stop()

	select {
	case out := <-results:
		return s.settleNow(ctx, a, out), nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()
		out := <-results
		settleCtx, cancel := context.WithTimeout(context.Background(), s.config.SettleWindow)
		defer cancel()
		if _, _, err := s.finalize(settleCtx, a, out, 0); err != nil {
			s.logger.Error("Background purchase settlement failed",
				"record_id", a.recordID,
				"transaction_id", a.req.TransactionID,
				"error", err)
		}
	}()

	s.logger.Info("Purchase pending", "record_id", record.ID, "product", p.code)
	s.metrics.Purchase(string(p.code), "pending")
	return &PurchaseResult{
		FailCode: p.failCode(codePending),
		Purchase: PurchasePending,
		Message:  p.name + " purchase pending",
		Account:  account,
		Record:   record,
	}, nil
}

// Wait blocks until every background settlement has finished.
func (s *PurchaseService) Wait() {
	s.background.Wait()
}

func (s *PurchaseService) validate(p *product, req *PurchaseRequest) (uuid.UUID, error) {
	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		return uuid.Nil, err
	}
	if strings.TrimSpace(req.TransactionID) == "" {
		return uuid.Nil, errors.NewAppError(errors.InvalidInput, "transaction_id is required")
	}
	if req.PIN == "" {
		return uuid.Nil, errors.NewAppError(errors.InvalidInput, "pin is required")
	}
	if !validAmount(req.Amount) {
		return uuid.Nil, errors.ErrInvalidAmount
	}
	if err := p.validate(req); err != nil {
		return uuid.Nil, err
	}
	return accountID, nil
}

func (s *PurchaseService) insufficientBalance(p *product, account *domain.Account) *PurchaseResult {
	s.metrics.Purchase(string(p.code), "insufficient_balance")
	return &PurchaseResult{
		FailCode: p.failCode(codeInsufficient),
		Purchase: PurchaseFailed,
		Message:  p.name + " purchase failed, insufficient balance",
		Account:  account,
	}
}

// debit takes the amount and records a Pending spend in one transaction, so the
// money is gone before the vendor is asked for anything.
func (s *PurchaseService) debit(ctx context.Context, a *attempt) (*domain.Account, *domain.SpendRecord, error) {
	var account *domain.Account
	var record *domain.SpendRecord

	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		locked, err := tx.Account().GetAccountForUpdate(ctx, a.accountID)
		if err != nil {
			return err
		}
		if locked.Balance.LessThan(a.amount) {
			return errors.ErrInsufficientBalance
		}

		newBalance := locked.Balance.Sub(a.amount)
		if err := tx.Account().UpdateAccountBalance(ctx, locked.ID, newBalance); err != nil {
			return err
		}
		locked.Balance = newBalance

		pending := &domain.SpendRecord{
			ID:            uuid.New(),
			AccountID:     locked.ID,
			TransactionID: a.req.TransactionID,
			ProductName:   a.product.name,
			ProductType:   a.product.productType(a.req),
			Amount:        a.amount.Neg(),
			Status:        domain.SpendPending,
			Metadata:      a.product.metadata(a.req),
			TransactedAt:  time.Now().UTC(),
		}
		if err := tx.Spend().CreateSpendRecord(ctx, pending); err != nil {
			return err
		}

		account = locked
		record = pending
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return account, record, nil
}

// callVendor places the order, retrying once with ported=false when the vendor claims
// the number belongs to another network.
func (s *PurchaseService) callVendor(ctx context.Context, a *attempt) vendorOutcome {
	result, err := s.vendor.Charge(ctx, a.product.kind, a.product.fields(a.req, true))
	if err != nil || result == nil || !a.product.retryNotPorted || result.Succeeded() {
		return vendorOutcome{result: result, err: err}
	}

	network, _ := vendor.NetworkID(a.req.Network)
	if !vendor.IsNotPortedError(result.Message, a.req.PhoneNumber, network) {
		return vendorOutcome{result: result}
	}

	s.logger.Info("Vendor reported number as ported, retrying", "transaction_id", a.req.TransactionID)
	result, err = s.vendor.Charge(ctx, a.product.kind, a.product.fields(a.req, false))
	return vendorOutcome{result: result, err: err}
}

// settleNow finalizes an attempt whose vendor call beat the pending timer and builds
// the caller's response.
func (s *PurchaseService) settleNow(ctx context.Context, a *attempt, out vendorOutcome) *PurchaseResult {
	p := a.product
	record, account, err := s.finalize(ctx, a, out, settleAttempts)

	if out.succeeded() {
		if err != nil {
			s.logger.Error("Purchase delivered but record update failed", "record_id", a.recordID, "error", err)
			return &PurchaseResult{
				Purchase: PurchaseSucceeded,
				Message:  p.name + " purchase successful, record was not updated",
				Account:  account,
			}
		}
		return &PurchaseResult{
			Status:   true,
			Purchase: PurchaseComplete,
			Message:  p.name + " purchase successful",
			Account:  account,
			Record:   record,
		}
	}

	if err != nil {
		s.logger.Error("Purchase refund failed", "record_id", a.recordID, "error", err)
		return &PurchaseResult{
			FailCode: p.failCode(codeFailedNotRecorded),
			Purchase: PurchaseFailed,
			Message:  p.name + " purchase failed and record was not updated",
			Account:  account,
		}
	}

	code, message := codeFailedRecorded, p.name+" purchase failed"
	if out.err != nil {
		code, message = codeVendorUnreachable, p.name+" purchase failed, vendor unavailable"
	} else if out.result != nil && out.result.Message != "" {
		message += ": " + out.result.Message
	}
	return &PurchaseResult{
		FailCode: p.failCode(code),
		Purchase: PurchaseFailed,
		Message:  message,
		Account:  account,
		Record:   record,
	}
}

var errAlreadySettled = errors.NewAppError(errors.InternalError, "purchase attempt already settled")

const (
	// settleAttempts bounds settlement retries while a caller waits for the answer.
	settleAttempts      = 3
	settleRetryDelay    = 50 * time.Millisecond
	settleRetryMaxDelay = 5 * time.Second
)

// finalize moves the Pending record to its terminal status, refunding on failure. The
// attempt flag admits one caller per process and the locked Pending row admits one
// across processes. A failed settlement transaction is retried with backoff up to
// attempts times, or until ctx ends when attempts is zero.
func (s *PurchaseService) finalize(ctx context.Context, a *attempt, out vendorOutcome, attempts int) (*domain.SpendRecord, *domain.Account, error) {
	if !a.settled.CompareAndSwap(false, true) {
		return nil, nil, errAlreadySettled
	}

	var record *domain.SpendRecord
	var account *domain.Account
	var refunded bool
	var err error

	delay := settleRetryDelay
	for n := 1; ; n++ {
		record, account, refunded, err = s.settle(ctx, a, out)
		if err == nil || !settleRetryable(err) || (attempts > 0 && n >= attempts) {
			break
		}

		s.logger.Warn("Purchase settlement failed, retrying",
			"record_id", a.recordID,
			"attempt", n,
			"retry_in", delay,
			"error", err)
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
		if ctx.Err() != nil {
			break
		}
		delay = min(delay*2, settleRetryMaxDelay)
	}

	if account == nil || err != nil {
		if current, getErr := s.store.Account().GetAccount(context.WithoutCancel(ctx), a.accountID); getErr == nil {
			account = current
		}
	}
	if err != nil {
		s.metrics.Purchase(string(a.product.code), "settle_failed")
		return nil, account, err
	}

	s.afterSettle(ctx, a, record, refunded)
	return record, account, nil
}

// settle runs one settlement transaction.
func (s *PurchaseService) settle(ctx context.Context, a *attempt, out vendorOutcome) (*domain.SpendRecord, *domain.Account, bool, error) {
	var record *domain.SpendRecord
	var account *domain.Account
	refunded := false

	err := s.store.WithTransaction(ctx, func(tx domain.Store) error {
		current, err := tx.Spend().GetSpendRecordForUpdate(ctx, a.recordID)
		if err != nil {
			return err
		}
		if current.Status.Terminal() {
			record = current
			return nil
		}

		current.Payload = vendorPayload(out)
		if out.succeeded() {
			current.Status = domain.SpendSuccess
			if out.result.Token != "" {
				current.Metadata.Token = out.result.Token
			}
		} else {
			locked, err := tx.Account().GetAccountForUpdate(ctx, a.accountID)
			if err != nil {
				return err
			}
			refundedBalance := locked.Balance.Add(a.amount)
			if err := tx.Account().UpdateAccountBalance(ctx, locked.ID, refundedBalance); err != nil {
				return err
			}
			locked.Balance = refundedBalance
			account = locked
			current.Status = out.terminalStatus()
			refunded = true
		}

		if err := tx.Spend().UpdateSpendRecord(ctx, current); err != nil {
			return err
		}
		record = current
		return nil
	})
	if err != nil {
		return nil, nil, false, err
	}
	return record, account, refunded, nil
}

// settleRetryable is false for errors a repeat cannot change.
func settleRetryable(err error) bool {
	return !errors.HasCode(err, errors.AccountNotFound) && !errors.HasCode(err, errors.NotFound)
}

func (s *PurchaseService) afterSettle(ctx context.Context, a *attempt, record *domain.SpendRecord, refunded bool) {
	code := string(a.product.code)
	event := events.PurchaseSettled{
		AccountID:     a.accountID,
		RecordID:      record.ID,
		TransactionID: record.TransactionID,
		Product:       code,
		Amount:        a.amount,
		Status:        string(record.Status),
		OccurredAt:    time.Now().UTC(),
	}

	switch {
	case refunded:
		s.metrics.PurchaseRefunded(code)
		s.metrics.Purchase(code, strings.ToLower(string(record.Status)))
		s.logger.Info("Purchase refunded", "record_id", record.ID, "status", record.Status, "amount", a.amount)
		publish(ctx, s.publisher, s.logger, events.RoutingPurchaseRefunded, event)
	case record.Status == domain.SpendSuccess:
		s.metrics.Purchase(code, "success")
		s.logger.Info("Purchase completed", "record_id", record.ID)
		publish(ctx, s.publisher, s.logger, events.RoutingPurchaseCompleted, event)
	}
}

func vendorPayload(out vendorOutcome) json.RawMessage {
	if out.result != nil && len(out.result.Payload) > 0 {
		return out.result.Payload
	}
	if out.err != nil {
		raw, _ := json.Marshal(map[string]string{"error": out.err.Error()})
		return raw
	}
	return nil
}
