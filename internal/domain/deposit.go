package domain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DepositStatus string

const (
	DepositPending DepositStatus = "Pending"
	DepositSuccess DepositStatus = "Success"
	DepositFailed  DepositStatus = "Failed"
)

// Terminal reports whether no further transition is allowed.
func (s DepositStatus) Terminal() bool {
	return s == DepositSuccess || s == DepositFailed
}

// ParseDepositStatus accepts any casing used by clients or older rows.
func ParseDepositStatus(raw string) (DepositStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return DepositPending, true
	case "success":
		return DepositSuccess, true
	case "failed":
		return DepositFailed, true
	}
	return "", false
}

type DepositType string

const (
	DepositTypeDVA   DepositType = "DVA"
	DepositTypeTemp  DepositType = "Temp"
	DepositTypeOther DepositType = "Other"
)

func ParseDepositType(raw string) (DepositType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dva":
		return DepositTypeDVA, true
	case "temp":
		return DepositTypeTemp, true
	case "other", "":
		return DepositTypeOther, true
	}
	return "", false
}

// TempAccount holds the one-off bank details issued for a Temp deposit.
type TempAccount struct {
	AccountNumber string    `json:"account_number"`
	AccountName   string    `json:"account_name"`
	BankName      string    `json:"bank_name"`
	ExpiresAt     time.Time `json:"expires_at"`
}

type DepositTransaction struct {
	ID                    uuid.UUID        `json:"id"`
	AccountID             uuid.UUID        `json:"account_id"`
	ProviderReference     string           `json:"provider_reference"`
	ProviderTransactionID string           `json:"provider_transaction_id,omitempty"`
	ProviderCustomerID    string           `json:"provider_customer_id,omitempty"`
	TransactionID         string           `json:"transaction_id"`
	Amount                decimal.Decimal  `json:"amount"`
	Status                DepositStatus    `json:"status"`
	Channel               string           `json:"channel"`
	DepositType           DepositType      `json:"deposit_type"`
	Payload               json.RawMessage  `json:"payload,omitempty"`
	BillingEmail          string           `json:"billing_email,omitempty"`
	BillingName           string           `json:"billing_name,omitempty"`
	TransactedAt          time.Time        `json:"transacted_at"`
	BalanceAfter          *decimal.Decimal `json:"balance_after,omitempty"`
	TempAccount           *TempAccount     `json:"temp_account,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// DepositLookup names the keys a caller may know a deposit by. Empty keys are ignored.
type DepositLookup struct {
	ProviderReference     string
	ProviderTransactionID string
	TransactionID         string
}

func (l DepositLookup) Empty() bool {
	return l.ProviderReference == "" && l.ProviderTransactionID == "" && l.TransactionID == ""
}

type DepositRepository interface {
	CreateDeposit(ctx context.Context, deposit *DepositTransaction) error
	// FindDepositForUpdate returns nil, nil when nothing matches.
	FindDepositForUpdate(ctx context.Context, lookup DepositLookup) (*DepositTransaction, error)
	GetDepositByID(ctx context.Context, id uuid.UUID) (*DepositTransaction, error)
	LatestDeposit(ctx context.Context, accountID uuid.UUID) (*DepositTransaction, error)
	LatestPendingTempDeposit(ctx context.Context, accountID uuid.UUID, now time.Time) (*DepositTransaction, error)
	ExistingReferences(ctx context.Context, references []string) (map[string]bool, error)
	ListDeposits(ctx context.Context, accountID uuid.UUID) ([]*DepositTransaction, error)
	ListPendingDeposits(ctx context.Context, olderThan time.Time, limit int) ([]*DepositTransaction, error)
	UpdateDeposit(ctx context.Context, deposit *DepositTransaction) error
}
